package model

import "time"

// User 用户资料（仅动态流/收件箱需要的冗余字段）
type User struct {
	ID           string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Username     string    `gorm:"type:varchar(64)" json:"username"`
	ProfileImage string    `gorm:"type:text" json:"profile_image"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (User) TableName() string { return "users" }

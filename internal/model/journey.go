package model

import "time"

// Journey 动态条目；Score = CreatedAt.UnixNano()，与 ID 一起作为键集分页的排序键
type Journey struct {
	ID        string    `gorm:"primaryKey;type:varchar(36);index:idx_journey_score,priority:2;index:idx_journey_user_score,priority:3"`
	UserID    string    `gorm:"type:varchar(36);not null;index:idx_journey_user_score,priority:1"`
	Title     string    `gorm:"type:varchar(200)"`
	Content   string    `gorm:"type:text"`
	ImageURL  *string   `gorm:"type:text"`
	Tags      []string  `gorm:"serializer:json"`
	Likes     int       `gorm:"not null;default:0"`
	Score     int64     `gorm:"not null;index:idx_journey_score,priority:1;index:idx_journey_user_score,priority:2"`
	CreatedAt time.Time `gorm:"not null"`
}

func (Journey) TableName() string { return "journeys" }

// Normalize 补齐缺省字段：tags 为空集合，likes 非负
func (j *Journey) Normalize() {
	if j.Tags == nil {
		j.Tags = []string{}
	}
	if j.Likes < 0 {
		j.Likes = 0
	}
	if j.Score == 0 && !j.CreatedAt.IsZero() {
		j.Score = j.CreatedAt.UnixNano()
	}
}

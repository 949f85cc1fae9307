package model

import "time"

// Conversation 私聊会话（两人）；ParticipantA < ParticipantB 保证同一对用户只有一条
type Conversation struct {
	ID           string    `gorm:"primaryKey;type:varchar(36)"`
	ParticipantA string    `gorm:"type:varchar(36);not null;index:idx_conv_a;uniqueIndex:ux_conv_pair"`
	ParticipantB string    `gorm:"type:varchar(36);not null;index:idx_conv_b;uniqueIndex:ux_conv_pair"`
	Messages     []Message `gorm:"foreignKey:ConversationID"`
	CreatedAt    time.Time
	UpdatedAt    time.Time `gorm:"index"`
}

func (Conversation) TableName() string { return "conversations" }

// Participants 返回非空参与者，按存储顺序
func (c *Conversation) Participants() []string {
	out := make([]string, 0, 2)
	for _, p := range []string{c.ParticipantA, c.ParticipantB} {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Message 会话内的一条消息
type Message struct {
	ID             string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	ConversationID string    `gorm:"type:varchar(36);not null;index:idx_msg_conv_ts,priority:1" json:"conversation_id"`
	SenderID       string    `gorm:"type:varchar(36);not null" json:"sender_id"`
	Text           string    `gorm:"type:text" json:"text"`
	Read           bool      `gorm:"not null;default:false" json:"read"`
	Timestamp      time.Time `gorm:"not null;index:idx_msg_conv_ts,priority:2" json:"timestamp"`
}

func (Message) TableName() string { return "messages" }

// OrderPair 返回规范化后的参与者顺序
func OrderPair(a, b string) (string, string) {
	if a > b {
		return b, a
	}
	return a, b
}

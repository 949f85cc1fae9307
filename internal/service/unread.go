package service

import "github.com/d60-Lab/journeys/internal/model"

// IsUnread 对方发来且未读
func IsUnread(m model.Message, currentUser string) bool {
	return m.SenderID != currentUser && !m.Read
}

// UnreadCount 每次从完整消息列表重新计算，不做增量
func UnreadCount(messages []model.Message, currentUser string) int {
	n := 0
	for _, m := range messages {
		if IsUnread(m, currentUser) {
			n++
		}
	}
	return n
}

// TotalUnread 收件箱角标
func TotalUnread(summaries []ConversationSummary) int {
	n := 0
	for _, s := range summaries {
		n += s.UnreadCount
	}
	return n
}

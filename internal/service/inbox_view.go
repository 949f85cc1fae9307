package service

import (
	"strings"
	"time"
)

// FilterConversations 按对方用户名做大小写无关的子串匹配；返回新切片
func FilterConversations(convs []ConversationSummary, query string) []ConversationSummary {
	q := strings.ToLower(strings.TrimSpace(query))
	out := make([]ConversationSummary, 0, len(convs))
	for _, c := range convs {
		if q == "" || strings.Contains(strings.ToLower(c.OtherUser.Username), q) {
			out = append(out, c)
		}
	}
	return out
}

// FilterSnapshot applies FilterConversations and recomputes the badge for the rows kept.
func FilterSnapshot(s InboxSnapshot, query string) InboxSnapshot {
	if strings.TrimSpace(query) == "" {
		return s
	}
	convs := FilterConversations(s.Conversations, query)
	return InboxSnapshot{Seq: s.Seq, Conversations: convs, TotalUnread: TotalUnread(convs), Err: s.Err}
}

// TimestampLabel 会话列表时间：当天 "3:04 PM"，前一天 "Yesterday"，其余 "Jan 2"
func TimestampLabel(t, now time.Time) string {
	if t.IsZero() {
		return ""
	}
	t = t.In(now.Location())
	y, m, d := now.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	switch {
	case !t.Before(today) && t.Before(today.AddDate(0, 0, 1)):
		return t.Format("3:04 PM")
	case !t.Before(today.AddDate(0, 0, -1)) && t.Before(today):
		return "Yesterday"
	default:
		return t.Format("Jan 2")
	}
}

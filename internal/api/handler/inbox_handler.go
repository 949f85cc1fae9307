package handler

import (
	"io"

	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/journeys/internal/api/middleware"
	"github.com/d60-Lab/journeys/internal/service"
	"github.com/d60-Lab/journeys/pkg/response"
)

// inboxRow 会话行附带预览文案与时间标签
type inboxRow struct {
	service.ConversationSummary
	Preview   string `json:"preview"`
	TimeLabel string `json:"time_label"`
}

type inboxView struct {
	Seq           uint64     `json:"seq"`
	Conversations []inboxRow `json:"conversations"`
	TotalUnread   int        `json:"total_unread"`
}

func (h *Handler) render(s service.InboxSnapshot, query string) inboxView {
	s = service.FilterSnapshot(s, query)
	now := h.now()
	rows := make([]inboxRow, 0, len(s.Conversations))
	for _, conv := range s.Conversations {
		rows = append(rows, inboxRow{
			ConversationSummary: conv,
			Preview:             conv.Preview(),
			TimeLabel:           service.TimestampLabel(conv.UpdatedAt, now),
		})
	}
	return inboxView{Seq: s.Seq, Conversations: rows, TotalUnread: s.TotalUnread}
}

// GetInbox 当前收件箱快照
// @Summary 收件箱
// @Tags 私信
// @Produce json
// @Param q query string false "按用户名搜索"
// @Success 200 {object} response.Response{data=inboxView}
// @Router /api/v1/inbox [get]
func (h *Handler) GetInbox(c *gin.Context) {
	userID := middleware.CurrentUser(c)
	snap, err := h.sessions.Get(userID).Inbox.Snapshot(c.Request.Context(), userID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, h.render(snap, c.Query("q")))
}

// StreamInbox 以 SSE 推送收件箱快照；订阅失败时发送 error 事件并断开
// @Summary 收件箱实时流
// @Tags 私信
// @Produce text/event-stream
// @Param q query string false "按用户名搜索"
// @Router /api/v1/inbox/stream [get]
func (h *Handler) StreamInbox(c *gin.Context) {
	userID := middleware.CurrentUser(c)
	query := c.Query("q")
	ctx := c.Request.Context()

	snaps, cancel := h.sessions.Get(userID).Inbox.Watch(ctx, userID)
	defer cancel()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case snap, ok := <-snaps:
			if !ok {
				return false
			}
			if snap.Err != nil {
				_ = c.Error(snap.Err)
				c.SSEvent("error", gin.H{
					"message":   snap.Err.Error(),
					"retryable": service.Classify(snap.Err).Retryable(),
				})
				return false
			}
			c.SSEvent("snapshot", h.render(snap, query))
			return true
		}
	})
}

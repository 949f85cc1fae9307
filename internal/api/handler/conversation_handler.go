package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/journeys/internal/api/middleware"
	"github.com/d60-Lab/journeys/pkg/response"
)

type openConversationRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

type sendMessageRequest struct {
	Text string `json:"text" binding:"required,max=2000"`
}

// OpenConversation 获取或创建与对方的会话
// @Summary 打开会话
// @Tags 私信
// @Accept json
// @Produce json
// @Param request body openConversationRequest true "对方用户"
// @Success 200 {object} response.Response
// @Failure 400 {object} response.Response
// @Router /api/v1/conversations [post]
func (h *Handler) OpenConversation(c *gin.Context) {
	var req openConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	conv, err := h.publisher.OpenConversation(c.Request.Context(), middleware.CurrentUser(c), req.UserID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, gin.H{"id": conv.ID, "participants": conv.Participants()})
}

// SendMessage 发送私信
// @Summary 发送私信
// @Tags 私信
// @Accept json
// @Produce json
// @Param id path string true "会话ID"
// @Param request body sendMessageRequest true "消息内容"
// @Success 200 {object} response.Response{data=model.Message}
// @Failure 404 {object} response.Response
// @Router /api/v1/conversations/{id}/messages [post]
func (h *Handler) SendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	m, err := h.publisher.SendMessage(c.Request.Context(), c.Param("id"), middleware.CurrentUser(c), req.Text)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, m)
}

// MarkRead 将对方消息标记为已读
// @Summary 标记已读
// @Tags 私信
// @Param id path string true "会话ID"
// @Success 200 {object} response.Response
// @Router /api/v1/conversations/{id}/read [post]
func (h *Handler) MarkRead(c *gin.Context) {
	n, err := h.publisher.MarkRead(c.Request.Context(), c.Param("id"), middleware.CurrentUser(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, gin.H{"marked": n})
}

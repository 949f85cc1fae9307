package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/journeys/internal/api/middleware"
	"github.com/d60-Lab/journeys/internal/service"
	"github.com/d60-Lab/journeys/pkg/response"
)

// SaveProfile 写入当前用户资料
// @Summary 更新资料
// @Tags 用户
// @Accept json
// @Produce json
// @Param request body service.ProfileInput true "资料"
// @Success 200 {object} response.Response{data=model.User}
// @Router /api/v1/me [put]
func (h *Handler) SaveProfile(c *gin.Context) {
	var in service.ProfileInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	u, err := h.publisher.SaveProfile(c.Request.Context(), middleware.CurrentUser(c), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, u)
}

// Logout 结束当前用户的会话，丢弃其动态流与资料缓存
// @Summary 退出登录
// @Tags 用户
// @Produce json
// @Success 200 {object} response.Response
// @Router /api/v1/session [delete]
func (h *Handler) Logout(c *gin.Context) {
	h.sessions.End(middleware.CurrentUser(c))
	response.Success(c, nil)
}

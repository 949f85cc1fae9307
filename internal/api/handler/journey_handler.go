package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/journeys/internal/api/middleware"
	"github.com/d60-Lab/journeys/internal/service"
	"github.com/d60-Lab/journeys/pkg/response"
)

// ListJourneys 加载动态流（首页或下一页）
// @Summary 动态流分页
// @Tags 动态
// @Produce json
// @Param tab query string false "mine 或 discover" default(mine)
// @Param reset query bool false "从第一页重新加载" default(false)
// @Success 200 {object} response.Response{data=service.FeedView}
// @Failure 400 {object} response.Response
// @Failure 409 {object} response.Response
// @Router /api/v1/journeys [get]
func (h *Handler) ListJourneys(c *gin.Context) {
	tab, err := service.ParseTab(c.Query("tab"))
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	reset, err := strconv.ParseBool(c.DefaultQuery("reset", "false"))
	if err != nil {
		response.BadRequest(c, "reset must be a boolean")
		return
	}

	sess := h.sessions.Get(middleware.CurrentUser(c))
	view, err := sess.Feed.Load(c.Request.Context(), tab, reset)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, view)
}

// CreateJourney 发布动态并重置当前页签
// @Summary 发布动态
// @Tags 动态
// @Accept json
// @Produce json
// @Param request body service.JourneyInput true "动态内容"
// @Success 200 {object} response.Response
// @Failure 400 {object} response.Response
// @Router /api/v1/journeys [post]
func (h *Handler) CreateJourney(c *gin.Context) {
	var in service.JourneyInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	userID := middleware.CurrentUser(c)
	j, err := h.publisher.PublishJourney(c.Request.Context(), userID, in)
	if err != nil {
		h.fail(c, err)
		return
	}

	feed := h.sessions.Get(userID).Feed
	view, err := feed.Load(c.Request.Context(), feed.View().Tab, true)
	if err != nil {
		// 已写入成功，刷新失败时返回旧视图
		view = feed.View()
	}
	response.Success(c, gin.H{"id": j.ID, "feed": view})
}

// DeleteJourney 乐观删除
// @Summary 删除动态
// @Tags 动态
// @Produce json
// @Param id path string true "动态ID"
// @Success 200 {object} response.Response
// @Failure 403 {object} response.Response
// @Failure 404 {object} response.Response
// @Failure 502 {object} response.Response
// @Router /api/v1/journeys/{id} [delete]
func (h *Handler) DeleteJourney(c *gin.Context) {
	id := c.Param("id")
	sess := h.sessions.Get(middleware.CurrentUser(c))
	err := sess.Feed.Delete(c.Request.Context(), id)
	switch service.Classify(err) {
	case service.KindNotFound:
		response.NotFound(c, "journey not found")
		return
	case service.KindConflict:
		response.Error(c, http.StatusForbidden, service.ErrNotOwner.Error())
		return
	}
	if err != nil {
		_ = c.Error(err)
		response.Error(c, http.StatusBadGateway, service.DeleteFailedMessage)
		return
	}
	response.SuccessWithMessage(c, service.DeleteSucceededMessage, gin.H{"id": id})
}

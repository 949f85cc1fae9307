package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/d60-Lab/journeys/internal/repository"
	"github.com/d60-Lab/journeys/internal/service"
	"github.com/d60-Lab/journeys/pkg/logger"
	"github.com/d60-Lab/journeys/pkg/response"
	"github.com/d60-Lab/journeys/pkg/telemetry"
)

// Handler HTTP 入口；读模型按用户会话缓存，写入走 Publisher
type Handler struct {
	sessions  *service.Sessions
	publisher *service.Publisher
	now       func() time.Time
	capture   func(error)
}

func New(sessions *service.Sessions, publisher *service.Publisher) *Handler {
	return &Handler{sessions: sessions, publisher: publisher, now: time.Now, capture: telemetry.CaptureError}
}

// StatusClientClosedRequest 调用方已断开，不写响应体
const StatusClientClosedRequest = 499

// statusFor 错误分类到 HTTP 状态码
func statusFor(err error) int {
	if errors.Is(err, repository.ErrSelfConversation) {
		return http.StatusBadRequest
	}
	switch service.Classify(err) {
	case service.KindNotFound:
		return http.StatusNotFound
	case service.KindInvalidInput:
		return http.StatusBadRequest
	case service.KindConflict:
		return http.StatusConflict
	case service.KindCancelled:
		return StatusClientClosedRequest
	case service.KindInvalidCursor:
		// 游标由服务端生成和持有，错配属于逻辑缺陷
		return http.StatusInternalServerError
	case service.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusServiceUnavailable
	}
}

func (h *Handler) fail(c *gin.Context, err error) {
	status := statusFor(err)
	_ = c.Error(err)
	if status == StatusClientClosedRequest {
		c.AbortWithStatus(status)
		return
	}
	if status >= http.StatusInternalServerError {
		logger.Warn("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		h.capture(err)
	}
	response.Error(c, status, service.Classify(err).String())
}

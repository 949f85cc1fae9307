package router

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/d60-Lab/journeys/config"
	"github.com/d60-Lab/journeys/internal/api/handler"
	"github.com/d60-Lab/journeys/internal/api/middleware"
	"github.com/d60-Lab/journeys/pkg/response"
)

const streamPath = "/api/v1/inbox/stream"

// Pinger 健康检查依赖（数据库等）
type Pinger func(ctx context.Context) error

func New(cfg *config.Config, h *handler.Handler, ping Pinger) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(middleware.Recovery(), middleware.Logger())
	if cfg.Tracing.Endpoint != "" {
		r.Use(otelgin.Middleware(cfg.Tracing.ServiceName))
	}
	// SSE 需要逐条 flush，不能压缩
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{streamPath})))

	r.GET("/healthz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if ping != nil {
			if err := ping(ctx); err != nil {
				response.Error(c, http.StatusServiceUnavailable, err.Error())
				return
			}
		}
		response.Success(c, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1")
	v1.Use(middleware.Auth(cfg.JWT.Secret, cfg.JWT.Issuer, streamPath), middleware.RateLimit(cfg.Server.RateLimit, cfg.Server.RateBurst))
	{
		v1.PUT("/me", h.SaveProfile)
		v1.DELETE("/session", h.Logout)

		v1.GET("/journeys", h.ListJourneys)
		v1.POST("/journeys", h.CreateJourney)
		v1.DELETE("/journeys/:id", h.DeleteJourney)

		v1.GET("/inbox", h.GetInbox)
		v1.GET("/inbox/stream", h.StreamInbox)

		v1.POST("/conversations", h.OpenConversation)
		v1.POST("/conversations/:id/messages", h.SendMessage)
		v1.POST("/conversations/:id/read", h.MarkRead)
	}
	return r
}

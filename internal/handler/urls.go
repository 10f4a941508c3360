package handlers

import (
	"time"

	"ClipInsight/internal/pipeline"
	"ClipInsight/internal/statussync"
	"ClipInsight/internal/uploader"
	"ClipInsight/pkg/config"
	"ClipInsight/pkg/metrics"
	"ClipInsight/pkg/middleware"
	"ClipInsight/pkg/sse"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type Handlers struct {
	db          *gorm.DB
	uploader    *uploader.Uploader
	transcriber pipeline.Stage
	analyzer    pipeline.Stage
	watcher     *statussync.Watcher
	hub         *sse.Hub
}

func NewHandlers(db *gorm.DB, up *uploader.Uploader, transcriber, analyzer pipeline.Stage, watcher *statussync.Watcher, hub *sse.Hub) *Handlers {
	return &Handlers{
		db:          db,
		uploader:    up,
		transcriber: transcriber,
		analyzer:    analyzer,
		watcher:     watcher,
		hub:         hub,
	}
}

// getDB 优先取请求上下文注入的连接，缺失时退回构造时的连接
func (h *Handlers) getDB(c *gin.Context) *gorm.DB {
	if db := middleware.GetDB(c); db != nil {
		return db
	}
	return h.db
}

func (h *Handlers) Register(engine *gin.Engine) {
	engine.Use(metrics.GinMiddleware(metrics.Global()))
	engine.GET("/health", h.HealthCheck)
	engine.GET("/metrics", metrics.Handler())

	r := engine.Group(config.GlobalConfig.APIPrefix)

	// Register Global Singleton DB
	r.Use(middleware.InjectDB(h.db))
	r.Use(middleware.RateLimiter(middleware.RateLimiterConfig{
		Rate:      config.GlobalConfig.UploadRate,
		SkipPaths: []string{"/health", "/metrics"},
	}))

	h.registerVideoRoutes(r)
}

// Video Module
func (h *Handlers) registerVideoRoutes(r *gin.RouterGroup) {
	videos := r.Group("/videos")
	{
		videos.POST("", h.UploadVideo)
		videos.GET("", h.ListVideos)
		videos.GET("/:id", h.GetVideo)
		videos.GET("/:id/events", h.StreamVideoEvents)

		// 处理触发接口带幂等保护，连点不会产生重复尝试
		invoke := videos.Group("")
		invoke.Use(middleware.Idempotency(middleware.IdempotencyConfig{TTL: 10 * time.Second}))
		{
			invoke.POST("/:id/transcribe", h.InvokeTranscription)
			invoke.POST("/:id/analyze", h.InvokeAnalysis)
			invoke.POST("/:id/retry", h.RetryVideo)
		}
	}
}

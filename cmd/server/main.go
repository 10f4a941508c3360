package main

import (
	"context"
	"log"
	"time"

	"ClipInsight/internal/analysis"
	handlers "ClipInsight/internal/handler"
	"ClipInsight/internal/listeners"
	"ClipInsight/internal/models"
	"ClipInsight/internal/pipeline"
	"ClipInsight/internal/statussync"
	"ClipInsight/internal/transcription"
	"ClipInsight/internal/uploader"
	"ClipInsight/pkg/cache"
	"ClipInsight/pkg/config"
	"ClipInsight/pkg/llm"
	"ClipInsight/pkg/logger"
	"ClipInsight/pkg/metrics"
	"ClipInsight/pkg/scheduler"
	"ClipInsight/pkg/sse"
	stores "ClipInsight/pkg/storage"
	"ClipInsight/pkg/stt"
	"ClipInsight/pkg/util"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func main() {
	if err := config.Load(); err != nil {
		log.Fatalf("load config: %v", err)
	}
	cfg := config.GlobalConfig

	logger.Init(cfg.Log)
	defer logger.Sync()

	// 凭证缺失是配置错误，进程直接拒绝启动而不是等到第一次调用才失败
	if cfg.AIApiKey == "" {
		err := pipeline.ConfigurationError("AI_API_KEY is not set")
		logger.Error("startup aborted", zap.Error(err))
		log.Fatal(err)
	}

	db, err := util.OpenDatabase(cfg.DBDriver, cfg.DSN, cfg.Mode != "release")
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	if err := db.AutoMigrate(&models.VideoRecord{}); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	appLog := logrus.New()
	if level, err := logrus.ParseLevel(cfg.Log.Level); err == nil {
		appLog.SetLevel(level)
	}

	store := stores.NewMinioStore(stores.MinioConfig{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		Bucket:    cfg.MinioBucket,
		UseSSL:    cfg.MinioUseSSL,
		BaseURL:   cfg.MinioBaseURL,
	})

	transcriber := stt.NewOpenAITranscriber(cfg.AIApiKey, cfg.AIBaseURL, cfg.STTModel, appLog)
	model := llm.NewOpenAIHandler(cfg.AIApiKey, cfg.AIBaseURL, cfg.LLMModel, analysis.SystemPrompt, appLog)

	transcribeWorker := transcription.NewWorker(db, store, transcriber, transcription.Config{
		MaxMediaBytes:   cfg.MaxMediaBytes,
		SignedURLTTL:    cfg.SignedURLTTL,
		ProviderTimeout: cfg.ProviderTimout,
	}, appLog)
	analyzeWorker := analysis.NewWorker(db, model, analysis.Config{
		ProviderTimeout: cfg.ProviderTimout,
	}, appLog)
	runner := pipeline.NewRunner(transcribeWorker, analyzeWorker, appLog)

	viewCache := cache.New(cache.Config{
		Type:  cfg.CacheType,
		Redis: cache.RedisConfig{Addr: cfg.RedisAddr},
		Local: cache.LocalConfig{
			DefaultExpiration: 5 * time.Minute,
			CleanupInterval:   10 * time.Minute,
		},
	})
	defer viewCache.Close()

	hub := sse.NewHub(15 * time.Second)
	listeners.InitVideoListeners(hub)

	up := uploader.New(db, store, runner, cfg.MaxMediaBytes, appLog)
	watcher := statussync.New(db, runner, viewCache, 2*time.Second, appLog)
	defer watcher.Close()

	sched := scheduler.New()
	defer sched.Stop()
	sched.Every(cfg.ReapInterval, scheduler.FuncJob(func(ctx context.Context) {
		reapStale(db, cfg.ClaimTTL)
		updateStatusGauge(db)
	}))

	cr := scheduler.NewCron(nil)
	if _, err := cr.Add("@daily", scheduler.FuncJob(func(ctx context.Context) {
		logStatusSummary(db)
	})); err != nil {
		logger.Warn("daily summary job not scheduled", zap.Error(err))
	}
	cr.Start()
	defer cr.Stop()

	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())

	h := handlers.NewHandlers(db, up, transcribeWorker, analyzeWorker, watcher, hub)
	h.Register(engine)

	logger.Info("server starting", zap.String("addr", cfg.Addr))
	if err := engine.Run(cfg.Addr); err != nil {
		log.Fatalf("server: %v", err)
	}
}

// reapStale 把超时的 processing 记录判定为失败，不杀在途任务，
// 迟到的终态写入会因令牌失效被丢弃
func reapStale(db *gorm.DB, claimTTL time.Duration) {
	n, err := models.ReclaimStaleProcessing(db, time.Now().Add(-claimTTL))
	if err != nil {
		logger.Warn("reap stale processing failed", zap.Error(err))
		return
	}
	if n > 0 {
		logger.Info("reclaimed stale processing records", zap.Int64("count", n))
	}
}

func logStatusSummary(db *gorm.DB) {
	counts, err := models.CountByStatus(db)
	if err != nil {
		logger.Warn("status summary failed", zap.Error(err))
		return
	}
	fields := make([]zap.Field, 0, len(counts))
	for s, n := range counts {
		fields = append(fields, zap.Int64(string(s), n))
	}
	logger.Info("daily pipeline status summary", fields...)
}

func updateStatusGauge(db *gorm.DB) {
	counts, err := models.CountByStatus(db)
	if err != nil {
		return
	}
	for _, s := range []models.Status{
		models.StatusUploaded,
		models.StatusProcessing,
		models.StatusTranscribed,
		models.StatusAnalyzed,
		models.StatusError,
	} {
		metrics.Global().SetStatusCount(string(s), float64(counts[s]))
	}
}

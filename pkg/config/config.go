package config

import (
	"ClipInsight/pkg/logger"
	"ClipInsight/pkg/util"
	"log"
	"os"
	"time"
)

// config/config.go
type Config struct {
	Addr      string `env:"ADDR"`
	Mode      string `env:"MODE"`
	APIPrefix string `env:"API_PREFIX"`
	DBDriver  string `env:"DB_DRIVER"`
	DSN       string `env:"DSN"`
	Log       logger.LogConfig

	// 对象存储
	MinioEndpoint  string `env:"MINIO_ENDPOINT"`
	MinioAccessKey string `env:"MINIO_ACCESS_KEY"`
	MinioSecretKey string `env:"MINIO_SECRET_KEY"`
	MinioBucket    string `env:"MINIO_BUCKET"`
	MinioUseSSL    bool   `env:"MINIO_USE_SSL"`
	MinioBaseURL   string `env:"MINIO_PUBLIC_BASE"`

	// 语音识别 / 大模型
	AIApiKey  string `env:"AI_API_KEY"`
	AIBaseURL string `env:"AI_BASE_URL"`
	STTModel  string `env:"STT_MODEL"`
	LLMModel  string `env:"LLM_MODEL"`

	// 流水线参数
	MaxMediaBytes  int64         `env:"MAX_MEDIA_BYTES"`   // 提供商硬限制，默认 25MiB
	SignedURLTTL   time.Duration `env:"SIGNED_URL_TTL"`    // 签名链接有效期，默认 1h
	ProviderTimout time.Duration `env:"PROVIDER_TIMEOUT"`  // 外部调用超时
	ClaimTTL       time.Duration `env:"CLAIM_TTL"`         // processing 状态占用超时
	ReapInterval   time.Duration `env:"REAP_INTERVAL"`     // 僵死记录回收周期
	UploadRate     string        `env:"UPLOAD_RATE_LIMIT"` // 如 "30-M"

	CacheType string `env:"CACHE_TYPE"`
	RedisAddr string `env:"REDIS_ADDR"`
}

var GlobalConfig *Config

func Load() error {
	// 1. 根据环境加载 .env 文件
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development" // 默认使用开发环境
	}
	err := util.LoadEnv(env)
	if err != nil {
		log.Printf("Failed to load .env file: %v", err)
	}

	// 2. 加载全局配置
	GlobalConfig = &Config{
		Addr:      util.GetEnvDefault("ADDR", ":8080"),
		Mode:      util.GetEnv("MODE"),
		APIPrefix: util.GetEnvDefault("API_PREFIX", "/api"),
		DBDriver:  util.GetEnv("DB_DRIVER"),
		DSN:       util.GetEnv("DSN"),
		Log: logger.LogConfig{
			Level:      util.GetEnv("LOG_LEVEL"),
			Filename:   util.GetEnv("LOG_FILENAME"),
			MaxSize:    int(util.GetIntEnv("LOG_MAX_SIZE")),
			MaxAge:     int(util.GetIntEnv("LOG_MAX_AGE")),
			MaxBackups: int(util.GetIntEnv("LOG_MAX_BACKUPS")),
		},
		MinioEndpoint:  util.GetEnv("MINIO_ENDPOINT"),
		MinioAccessKey: util.GetEnv("MINIO_ACCESS_KEY"),
		MinioSecretKey: util.GetEnv("MINIO_SECRET_KEY"),
		MinioBucket:    util.GetEnvDefault("MINIO_BUCKET", "clipinsight"),
		MinioUseSSL:    util.GetBoolEnv("MINIO_USE_SSL"),
		MinioBaseURL:   util.GetEnv("MINIO_PUBLIC_BASE"),
		AIApiKey:       util.GetEnv("AI_API_KEY"),
		AIBaseURL:      util.GetEnv("AI_BASE_URL"),
		STTModel:       util.GetEnvDefault("STT_MODEL", "whisper-1"),
		LLMModel:       util.GetEnvDefault("LLM_MODEL", "gpt-4o-mini"),
		MaxMediaBytes:  envBytes("MAX_MEDIA_BYTES", 25<<20),
		SignedURLTTL:   envDuration("SIGNED_URL_TTL", time.Hour),
		ProviderTimout: envDuration("PROVIDER_TIMEOUT", 2*time.Minute),
		ClaimTTL:       envDuration("CLAIM_TTL", 10*time.Minute),
		ReapInterval:   envDuration("REAP_INTERVAL", time.Minute),
		UploadRate:     util.GetEnvDefault("UPLOAD_RATE_LIMIT", "30-M"),
		CacheType:      util.GetEnvDefault("CACHE_TYPE", "local"),
		RedisAddr:      util.GetEnvDefault("REDIS_ADDR", "localhost:6379"),
	}
	return nil
}

func envBytes(key string, def int64) int64 {
	if v := util.GetIntEnv(key); v > 0 {
		return v
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if raw := util.GetEnv(key); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil {
			return d
		}
	}
	return def
}

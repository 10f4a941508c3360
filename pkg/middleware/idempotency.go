package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

type IdemStore interface {
	Set(key string, ttl time.Duration) bool // return true if set, false if exists
}

type memoryIdemStore struct {
	mu sync.Mutex
	m  map[string]time.Time
}

func newMemoryIdemStore() *memoryIdemStore { return &memoryIdemStore{m: make(map[string]time.Time)} }

func (s *memoryIdemStore) Set(key string, ttl time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if exp, ok := s.m[key]; ok && exp.After(now) {
		return false
	}
	// 顺手清理过期键
	for k, exp := range s.m {
		if exp.Before(now) {
			delete(s.m, k)
		}
	}
	s.m[key] = now.Add(ttl)
	return true
}

type IdempotencyConfig struct {
	HeaderName string        // Idempotency-Key 的请求头名
	TTL        time.Duration // 一段时间内重复请求的拒绝窗口
	Store      IdemStore     // 可选外部存储（如 Redis）
}

// Idempotency 按请求键去重：同一键在 TTL 窗口内的重复提交直接拒绝
func Idempotency(cfg IdempotencyConfig) gin.HandlerFunc {
	if cfg.HeaderName == "" {
		cfg.HeaderName = "Idempotency-Key"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Second
	}
	store := cfg.Store
	if store == nil {
		store = newMemoryIdemStore()
	}

	return func(c *gin.Context) {
		key := c.GetHeader(cfg.HeaderName)
		if key == "" {
			// 无显式键时退化为 方法+路径 去重，避免连点
			key = c.Request.Method + ":" + c.Request.URL.Path
		}
		sum := sha256.Sum256([]byte(key))
		if !store.Set(hex.EncodeToString(sum[:]), cfg.TTL) {
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "duplicate request"})
			return
		}
		c.Next()
	}
}

package stores

import (
	"context"
	"io"
	"time"
)

// Store 对象存储抽象：上传二进制、生成可访问链接
type Store interface {
	// Write 上传对象，size 未知时传 -1
	Write(ctx context.Context, key string, r io.Reader, size int64, contentType string) error

	// Read 读取对象内容及其大小
	Read(ctx context.Context, key string) (io.ReadCloser, int64, error)

	// Exists 检查对象是否存在
	Exists(ctx context.Context, key string) (bool, error)

	// Delete 删除对象
	Delete(ctx context.Context, key string) error

	// PublicURL 返回稳定公开链接，未配置公开访问时返回空串
	PublicURL(key string) string

	// SignedURL 生成限时签名链接
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

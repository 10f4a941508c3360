package uploader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"ClipInsight/internal/models"
	"ClipInsight/internal/pipeline"
	stores "ClipInsight/pkg/storage"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// MediaSource 媒体流来源。Acquire 在设备权限被拒时返回权限错误，
// 此时不应产生任何记录或存储写入。
type MediaSource interface {
	Acquire(ctx context.Context) (io.ReadCloser, string, error) // 返回流和容器格式
}

// FileSource 从本地文件读媒体流
type FileSource struct {
	Path string
}

func (s FileSource) Acquire(ctx context.Context) (io.ReadCloser, string, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return nil, "", pipeline.PermissionError(err)
		}
		return nil, "", err
	}
	ext := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(pathExt(s.Path))), ".")
	return f, ext, nil
}

func pathExt(p string) string {
	if i := strings.LastIndex(p, "."); i >= 0 {
		return p[i:]
	}
	return ""
}

// ReaderSource 包装一个已就绪的流（例如 multipart 上传）
type ReaderSource struct {
	Reader io.ReadCloser
	Format string
}

func (s ReaderSource) Acquire(ctx context.Context) (io.ReadCloser, string, error) {
	return s.Reader, strings.ToLower(strings.TrimSpace(s.Format)), nil
}

// allowedFormats 容器格式允许列表及对应的内容类型，与转写侧最终校验对齐
var allowedFormats = map[string]string{
	"webm": "video/webm",
	"mp4":  "video/mp4",
	"mov":  "video/quicktime",
	"mp3":  "audio/mpeg",
	"wav":  "audio/wav",
	"m4a":  "audio/mp4",
}

// Uploader 客户端上传入口：校验后写入对象存储、创建初始记录并异步触发
// 转写，调用方不等待流水线完成。
type Uploader struct {
	db       *gorm.DB
	store    stores.Store
	runner   *pipeline.Runner
	maxBytes int64
	log      *logrus.Entry
}

func New(db *gorm.DB, store stores.Store, runner *pipeline.Runner, maxBytes int64, logger *logrus.Logger) *Uploader {
	if logger == nil {
		logger = logrus.New()
	}
	if maxBytes <= 0 {
		maxBytes = 25 << 20
	}
	return &Uploader{db: db, store: store, runner: runner, maxBytes: maxBytes, log: logger.WithField("module", "uploader")}
}

// Upload 执行一次完整上传。明显不合格的载荷（格式不在允许列表、为空、
// 超限）在触达存储之前就被拒绝，镜像转写侧的最终校验。
func (u *Uploader) Upload(ctx context.Context, ownerID string, src MediaSource) (*models.VideoRecord, error) {
	stream, format, err := src.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	format = strings.TrimPrefix(format, ".")
	contentType, ok := allowedFormats[format]
	if !ok {
		return nil, pipeline.InvalidMediaError(format)
	}

	payload, err := io.ReadAll(io.LimitReader(stream, u.maxBytes+1))
	if err != nil {
		return nil, pipeline.AccessError(err, "reading media stream failed")
	}
	if len(payload) == 0 {
		return nil, pipeline.EmptyMediaError()
	}
	if int64(len(payload)) > u.maxBytes {
		return nil, pipeline.SizeLimitError(int64(len(payload)), u.maxBytes)
	}

	// 两步提交：先二进制入库，再创建记录
	id := uuid.NewString()
	key := fmt.Sprintf("videos/%s/%s.%s", ownerID, id, format)
	if err := u.store.Write(ctx, key, bytes.NewReader(payload), int64(len(payload)), contentType); err != nil {
		return nil, pipeline.AccessError(err, "storing media binary failed")
	}

	rec := &models.VideoRecord{
		ID:          id,
		OwnerID:     ownerID,
		StoragePath: key,
		PublicURL:   u.store.PublicURL(key),
		Format:      format,
		SizeBytes:   int64(len(payload)),
	}
	if err := models.CreateVideoRecord(u.db, rec); err != nil {
		// 不自动回滚：孤儿对象留给管理侧清理，但必须留痕
		u.log.WithFields(logrus.Fields{
			"owner_id": ownerID,
			"key":      key,
		}).WithError(err).Error("record creation failed, orphaned binary left in object store")
		return nil, pipeline.PersistenceError(err)
	}

	u.log.WithFields(logrus.Fields{
		"video_id": id,
		"owner_id": ownerID,
		"bytes":    len(payload),
	}).Info("upload accepted")

	u.runner.RunAsync(id)
	return rec, nil
}

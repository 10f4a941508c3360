package transcription

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"time"

	"ClipInsight/internal/models"
	"ClipInsight/internal/pipeline"
	errs "ClipInsight/pkg/errors"
	"ClipInsight/pkg/metrics"
	stores "ClipInsight/pkg/storage"
	"ClipInsight/pkg/stt"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Config 转写工作器参数
type Config struct {
	MaxMediaBytes   int64         // 提供商硬限制，默认 25MiB
	SignedURLTTL    time.Duration // 签名链接有效期
	ProviderTimeout time.Duration // 外部调用超时
	FetchTimeout    time.Duration // 二进制下载超时
	LanguageHint    string        // 可选的源语言提示
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.MaxMediaBytes <= 0 {
		out.MaxMediaBytes = 25 << 20
	}
	if out.SignedURLTTL <= 0 {
		out.SignedURLTTL = time.Hour
	}
	if out.ProviderTimeout <= 0 {
		out.ProviderTimeout = 2 * time.Minute
	}
	if out.FetchTimeout <= 0 {
		out.FetchTimeout = time.Minute
	}
	return out
}

// Worker 单次调用处理一个视频：解析定位符、拉取二进制、校验、调用语音
// 识别服务并落盘结果。每次调用都是无状态的短任务。
type Worker struct {
	db          *gorm.DB
	store       stores.Store
	transcriber stt.Transcriber
	cfg         Config
	httpClient  *http.Client
	log         *logrus.Entry
}

func NewWorker(db *gorm.DB, store stores.Store, transcriber stt.Transcriber, cfg Config, logger *logrus.Logger) *Worker {
	if logger == nil {
		logger = logrus.New()
	}
	resolved := cfg.withDefaults()
	return &Worker{
		db:          db,
		store:       store,
		transcriber: transcriber,
		cfg:         resolved,
		httpClient:  &http.Client{Timeout: resolved.FetchTimeout},
		log:         logger.WithField("module", "transcription"),
	}
}

// Process 执行一次完整的转写尝试。除占用冲突外的失败都会作为 error 状态
// 连同可读信息写回记录；成功与失败都只产生一次带状态的终态写入。
func (w *Worker) Process(ctx context.Context, videoID string) error {
	rec, err := models.GetVideoRecord(w.db, videoID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pipeline.NotFoundError(videoID)
		}
		return pipeline.PersistenceError(err)
	}

	// 原子占用：uploaded/error -> processing。失败说明已有在途尝试。
	token := uuid.NewString()
	rec, err = models.ClaimForProcessing(w.db, videoID, token)
	if err != nil {
		if errors.Is(err, models.ErrClaimConflict) {
			metrics.Global().ClaimConflict()
			w.log.WithField("video_id", videoID).Warn("claim rejected, another attempt in flight")
			return pipeline.ClaimConflictError(videoID)
		}
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pipeline.NotFoundError(videoID)
		}
		return pipeline.PersistenceError(err)
	}

	log := w.log.WithField("video_id", videoID)
	log.Info("transcription started")

	mediaURL, err := w.resolveURL(ctx, rec)
	if err != nil {
		return w.fail(ctx, videoID, token, err)
	}

	payload, err := w.fetch(ctx, mediaURL)
	if err != nil {
		return w.fail(ctx, videoID, token, err)
	}
	metrics.Global().MediaFetched(int64(len(payload)))

	// 校验必须先于外部调用，避免浪费提供商配额
	if len(payload) == 0 {
		return w.fail(ctx, videoID, token, pipeline.EmptyMediaError())
	}
	if int64(len(payload)) > w.cfg.MaxMediaBytes {
		return w.fail(ctx, videoID, token, pipeline.SizeLimitError(int64(len(payload)), w.cfg.MaxMediaBytes))
	}

	tctx, cancel := context.WithTimeout(ctx, w.cfg.ProviderTimeout)
	defer cancel()
	result, err := w.transcriber.Transcribe(tctx, bytes.NewReader(payload), w.filename(rec), w.cfg.LanguageHint)
	if err != nil {
		return w.fail(ctx, videoID, token, pipeline.TranscriptionError(err))
	}

	segments := make([]models.TranscriptSegment, 0, len(result.Segments))
	for _, s := range result.Segments {
		segments = append(segments, models.TranscriptSegment{
			Start:      s.Start,
			End:        s.End,
			Text:       s.Text,
			Confidence: s.Confidence,
		})
	}

	// 外部调用已经花掉了，落盘失败时重试本地写而不是重跑转写
	err = w.persist(ctx, func() error {
		return models.MarkTranscribed(w.db, videoID, token, result.Text, result.Language, segments)
	})
	if err != nil {
		if errors.Is(err, models.ErrStaleClaim) {
			// 新的占用已取代本次尝试，晚到的写入按取消处理
			log.Warn("terminal write discarded, claim was superseded")
			return pipeline.ClaimConflictError(videoID)
		}
		log.WithError(err).Error("failed to persist transcription result")
		metrics.Global().TranscriptionFinished("persistence_error")
		return pipeline.PersistenceError(err)
	}

	metrics.Global().TranscriptionFinished("transcribed")
	log.WithField("segments", len(segments)).Info("transcription completed")
	return nil
}

// resolveURL 优先稳定公开链接，否则基于存储路径生成限时签名链接
func (w *Worker) resolveURL(ctx context.Context, rec *models.VideoRecord) (string, error) {
	if rec.PublicURL != "" {
		return rec.PublicURL, nil
	}
	if rec.StoragePath == "" {
		return "", pipeline.AccessError(nil, "record has neither a public url nor a storage path")
	}
	signed, err := w.store.SignedURL(ctx, rec.StoragePath, w.cfg.SignedURLTTL)
	if err != nil {
		return "", pipeline.AccessError(err, fmt.Sprintf("signing %s failed", rec.StoragePath))
	}
	return signed, nil
}

func (w *Worker) fetch(ctx context.Context, mediaURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return nil, pipeline.DownloadErrorFrom(err)
	}
	resp, err := w.httpClient.Do(req)
	if err != nil {
		return nil, pipeline.DownloadErrorFrom(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, pipeline.DownloadError(resp.StatusCode, mediaURL)
	}
	// Content-Length 可信时提前拒绝超大载荷
	if resp.ContentLength > w.cfg.MaxMediaBytes {
		return nil, pipeline.SizeLimitError(resp.ContentLength, w.cfg.MaxMediaBytes)
	}

	payload, err := io.ReadAll(io.LimitReader(resp.Body, w.cfg.MaxMediaBytes+1))
	if err != nil {
		return nil, pipeline.DownloadErrorFrom(err)
	}
	return payload, nil
}

func (w *Worker) filename(rec *models.VideoRecord) string {
	if rec.StoragePath != "" {
		return path.Base(rec.StoragePath)
	}
	format := rec.Format
	if format == "" {
		format = "webm"
	}
	return "media." + format
}

// fail 把失败原因作为可读信息落盘成 error 终态，并返回原始错误
func (w *Worker) fail(ctx context.Context, videoID, token string, cause error) error {
	message := cause.Error()
	err := w.persist(ctx, func() error {
		return models.MarkProcessingFailed(w.db, videoID, token, message)
	})
	if err != nil {
		if errors.Is(err, models.ErrStaleClaim) {
			w.log.WithField("video_id", videoID).Warn("failure write discarded, claim was superseded")
		} else {
			w.log.WithError(err).WithField("video_id", videoID).Error("failed to persist error state")
		}
	}
	metrics.Global().TranscriptionFinished(failureLabel(cause))
	w.log.WithField("video_id", videoID).WithError(cause).Warn("transcription failed")
	return cause
}

// persist 有界退避地重试本地写。令牌失效是永久失败，立即放弃。
func (w *Worker) persist(ctx context.Context, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxElapsedTime = 10 * time.Second
	return backoff.Retry(func() error {
		err := op()
		if errors.Is(err, models.ErrStaleClaim) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(bo, ctx))
}

func failureLabel(err error) string {
	switch {
	case errs.HasCode(err, pipeline.CodeEmptyMedia):
		return "empty_media"
	case errs.HasCode(err, pipeline.CodeSizeLimit):
		return "size_limit"
	case errs.HasCode(err, pipeline.CodeAccess):
		return "access_error"
	case errs.HasCode(err, pipeline.CodeDownload):
		return "download_error"
	case errs.HasCode(err, pipeline.CodeTranscription):
		return "provider_error"
	default:
		return "error"
	}
}

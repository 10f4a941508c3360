package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"ClipInsight/internal/models"
	"ClipInsight/internal/pipeline"
	"ClipInsight/pkg/llm"
	"ClipInsight/pkg/metrics"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// SystemPrompt 固定的指令模式：要求一次性返回完整的结构化对象
const SystemPrompt = `You are a communication coach reviewing the transcript of a short practice video.
Respond with a single JSON object and nothing else, using exactly these keys:
"summary" (a short summary of what was said),
"key_points" (an ordered list of the main points),
"evaluation" (an object with numeric "clarity" and "structure" scores from 1 to 10),
"suggestions" (an ordered list of concrete improvements),
"strengths" (an ordered list of what worked well).`

// Config 分析工作器参数
type Config struct {
	ProviderTimeout time.Duration
}

// Worker 在转写成功后运行：把转写文本交给大模型，解析出结构化分析并落盘。
// 分析失败不致命：transcribed 本身就是可用的终态，次要步骤不允许抹掉主结果。
type Worker struct {
	db  *gorm.DB
	llm llm.LLM
	cfg Config
	log *logrus.Entry
}

func NewWorker(db *gorm.DB, model llm.LLM, cfg Config, logger *logrus.Logger) *Worker {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = 2 * time.Minute
	}
	return &Worker{db: db, llm: model, cfg: cfg, log: logger.WithField("module", "analysis")}
}

// Process 执行一次分析尝试。任何失败都不会改动记录状态或 error_message，
// 只通过返回值向调用方报告。
func (w *Worker) Process(ctx context.Context, videoID string) error {
	rec, err := models.GetVideoRecord(w.db, videoID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pipeline.NotFoundError(videoID)
		}
		return pipeline.PersistenceError(err)
	}

	if rec.Status == models.StatusAnalyzed {
		// 重复触发按幂等处理
		return nil
	}
	if rec.TranscriptText == nil || *rec.TranscriptText == "" {
		// 调度缺陷：分析触发早于转写完成。只记日志并拒绝本次调用。
		w.log.WithField("video_id", videoID).Warn("analysis triggered before transcript exists")
		return pipeline.PreconditionError(videoID)
	}

	log := w.log.WithField("video_id", videoID)
	log.Info("analysis started")

	tctx, cancel := context.WithTimeout(ctx, w.cfg.ProviderTimeout)
	defer cancel()
	raw, err := w.llm.QueryJSON(tctx, *rec.TranscriptText)
	if err != nil {
		metrics.Global().AnalysisFinished("provider_error")
		log.WithError(err).Warn("analysis provider failed")
		return pipeline.AnalysisError(err, "analysis provider failed")
	}

	parsed, err := Parse(raw)
	if err != nil {
		metrics.Global().AnalysisFinished("parse_error")
		log.WithError(err).Warn("analysis response not parseable")
		return err
	}

	err = w.persist(ctx, func() error {
		return models.MarkAnalyzed(w.db, videoID, parsed)
	})
	if err != nil {
		if errors.Is(err, models.ErrInvalidState) {
			// 状态在分析期间被并发改动（例如一次完整重跑），放弃本次结果
			log.Warn("analysis write discarded, record left transcribed state")
			return pipeline.AnalysisError(err, "record state changed during analysis")
		}
		metrics.Global().AnalysisFinished("persistence_error")
		return pipeline.PersistenceError(err)
	}

	metrics.Global().AnalysisFinished("analyzed")
	log.Info("analysis completed")
	return nil
}

// persist 有界退避地重试本地写，状态不匹配是永久失败
func (w *Worker) persist(ctx context.Context, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxElapsedTime = 10 * time.Second
	return backoff.Retry(func() error {
		err := op()
		if errors.Is(err, models.ErrInvalidState) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(bo, ctx))
}

// Parse 把提供商输出解析为结构化分析。唯一的宽容之处是剥掉模型习惯性
// 包裹的代码围栏，其余任何不合法输入都按失败处理。
func Parse(raw string) (*models.Analysis, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var a models.Analysis
	if err := json.Unmarshal([]byte(cleaned), &a); err != nil {
		return nil, pipeline.AnalysisError(err, "analysis response is not valid JSON")
	}
	if a.Summary == "" {
		return nil, pipeline.AnalysisError(nil, "analysis response is missing a summary")
	}
	return &a, nil
}

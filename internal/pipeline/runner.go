package pipeline

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Stage 单个视频上的一次无状态处理调用
type Stage interface {
	Process(ctx context.Context, videoID string) error
}

// Runner 把转写和分析串成流水线：分析只在转写成功后触发，保证它永远
// 观察不到缺失的转写文本。
type Runner struct {
	transcribe Stage
	analyze    Stage
	log        *logrus.Entry
}

func NewRunner(transcribe, analyze Stage, logger *logrus.Logger) *Runner {
	if logger == nil {
		logger = logrus.New()
	}
	return &Runner{
		transcribe: transcribe,
		analyze:    analyze,
		log:        logger.WithField("module", "pipeline"),
	}
}

// Run 串行执行两级。转写失败终止流水线；分析失败只记日志，
// transcribed 已经是对消费者可用的结果。
func (r *Runner) Run(ctx context.Context, videoID string) error {
	if err := r.transcribe.Process(ctx, videoID); err != nil {
		return err
	}
	if err := r.analyze.Process(ctx, videoID); err != nil {
		r.log.WithField("video_id", videoID).WithError(err).Warn("analysis step failed, record stays transcribed")
	}
	return nil
}

// RunAsync 异步触发流水线，调用方不阻塞等待完成
func (r *Runner) RunAsync(videoID string) {
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				r.log.WithField("video_id", videoID).Errorf("pipeline panicked: %v", rec)
			}
		}()
		if err := r.Run(context.Background(), videoID); err != nil {
			r.log.WithField("video_id", videoID).WithError(err).Warn("pipeline run failed")
		}
	}()
}

package listeners

import (
	"ClipInsight/internal/models"
	"ClipInsight/pkg/logger"
	"ClipInsight/pkg/signals"
	"ClipInsight/pkg/sse"

	"go.uber.org/zap"
)

// InitVideoListeners 把状态变更信号桥接到 SSE 推送和指标
func InitVideoListeners(hub *sse.Hub) {
	signals.Sig().Connect(models.SigVideoStatusChanged, func(sender any, params ...any) {
		rec, ok := sender.(*models.VideoRecord)
		if !ok {
			return
		}

		logger.Info("video status changed",
			zap.String("video_id", rec.ID),
			zap.String("status", string(rec.Status)),
		)

		// 推送只携带变更通知，消费端收到后重新拉取完整记录
		go hub.SendToGroupJSON(rec.ID, map[string]any{
			"type":       "status_changed",
			"video_id":   rec.ID,
			"status":     rec.Status,
			"updated_at": rec.UpdatedAt,
		})
	})
}

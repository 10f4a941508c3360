package statussync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"ClipInsight/internal/models"
	"ClipInsight/internal/pipeline"
	"ClipInsight/pkg/cache"
	"ClipInsight/pkg/signals"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Watcher 把权威的视频记录状态反映给消费者，自身不持有任何状态：
// 本地缓存只是被每次写入失效的只读镜像。
type Watcher struct {
	db           *gorm.DB
	runner       *pipeline.Runner
	cache        cache.Cache
	pollInterval time.Duration
	log          *logrus.Entry

	sigID int

	mu     sync.Mutex
	subs   map[string]map[int]chan models.VideoRecordView
	nextID int
}

func New(db *gorm.DB, runner *pipeline.Runner, c cache.Cache, pollInterval time.Duration, logger *logrus.Logger) *Watcher {
	if logger == nil {
		logger = logrus.New()
	}
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	w := &Watcher{
		db:           db,
		runner:       runner,
		cache:        c,
		pollInterval: pollInterval,
		log:          logger.WithField("module", "statussync"),
		subs:         make(map[string]map[int]chan models.VideoRecordView),
	}
	w.sigID = signals.Sig().Connect(models.SigVideoStatusChanged, w.onStatusChange)
	return w
}

// Close 注销状态变更回调。之后的变更只能靠轮询观察到。
func (w *Watcher) Close() {
	signals.Sig().Remove(models.SigVideoStatusChanged, w.sigID)
}

// onStatusChange 推送事件只当作"有变化"的信号：总是重新读取完整记录，
// 避免把过期的转写/分析和新状态拼在一起展示。
func (w *Watcher) onStatusChange(sender any, params ...any) {
	rec, ok := sender.(*models.VideoRecord)
	if !ok {
		return
	}
	fresh, err := models.GetVideoRecord(w.db, rec.ID)
	if err != nil {
		w.log.WithField("video_id", rec.ID).WithError(err).Warn("refetch after status change failed")
		return
	}
	view := fresh.View()
	w.invalidate(rec.ID, view)
	w.fanOut(rec.ID, view)
}

func (w *Watcher) cacheKey(videoID string) string { return "video:view:" + videoID }

// invalidate 以 JSON 文本写缓存：redis 后端只接受字符串或实现了
// BinaryMarshaler 的值，结构体直接写入会整条失败
func (w *Watcher) invalidate(videoID string, view models.VideoRecordView) {
	if w.cache == nil {
		return
	}
	payload, err := json.Marshal(view)
	if err != nil {
		w.log.WithField("video_id", videoID).WithError(err).Warn("encode cached view failed")
		return
	}
	if err := w.cache.Set(context.Background(), w.cacheKey(videoID), string(payload), time.Minute); err != nil {
		w.log.WithField("video_id", videoID).WithError(err).Warn("cache view write failed")
	}
}

func decodeCachedView(v any) (models.VideoRecordView, bool) {
	var raw []byte
	switch s := v.(type) {
	case string:
		raw = []byte(s)
	case []byte:
		raw = s
	default:
		return models.VideoRecordView{}, false
	}
	var view models.VideoRecordView
	if err := json.Unmarshal(raw, &view); err != nil {
		return models.VideoRecordView{}, false
	}
	return view, true
}

func (w *Watcher) fanOut(videoID string, view models.VideoRecordView) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, ch := range w.subs[videoID] {
		select {
		case ch <- view:
		default:
			// 慢消费者丢最旧不阻塞写路径，订阅方靠 poll 兜底
		}
	}
}

// Subscribe 注册推送订阅，返回更新通道和退订函数
func (w *Watcher) Subscribe(videoID string) (<-chan models.VideoRecordView, func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.subs[videoID] == nil {
		w.subs[videoID] = make(map[int]chan models.VideoRecordView)
	}
	id := w.nextID
	w.nextID++
	ch := make(chan models.VideoRecordView, 8)
	w.subs[videoID][id] = ch

	cancel := func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		if subs, ok := w.subs[videoID]; ok {
			delete(subs, id)
			if len(subs) == 0 {
				delete(w.subs, videoID)
			}
		}
	}
	return ch, cancel
}

// Get 读取记录的当前快照，优先本地缓存
func (w *Watcher) Get(ctx context.Context, videoID string) (models.VideoRecordView, error) {
	if w.cache != nil {
		if v, ok := w.cache.Get(ctx, w.cacheKey(videoID)); ok {
			if view, ok := decodeCachedView(v); ok {
				return view, nil
			}
		}
	}
	rec, err := models.GetVideoRecord(w.db, videoID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.VideoRecordView{}, pipeline.NotFoundError(videoID)
		}
		return models.VideoRecordView{}, pipeline.PersistenceError(err)
	}
	view := rec.View()
	w.invalidate(videoID, view)
	return view, nil
}

// Watch 组合推送与轮询：推送通道掉线或静默时轮询兜底，轮询失败按
// 指数退避重连。通道在 ctx 结束时关闭。
func (w *Watcher) Watch(ctx context.Context, videoID string) <-chan models.VideoRecordView {
	out := make(chan models.VideoRecordView, 8)
	pushCh, cancel := w.Subscribe(videoID)

	go func() {
		defer close(out)
		defer cancel()

		var lastStatus models.Status
		var lastUpdated time.Time
		emit := func(view models.VideoRecordView) {
			if view.Status == lastStatus && view.UpdatedAt.Equal(lastUpdated) {
				return
			}
			lastStatus = view.Status
			lastUpdated = view.UpdatedAt
			select {
			case out <- view:
			case <-ctx.Done():
			}
		}

		// 初始快照
		if view, err := w.Get(ctx, videoID); err == nil {
			emit(view)
		}

		bo := backoff.NewExponentialBackOff()
		bo.MaxElapsedTime = 0 // 轮询兜底永不放弃
		ticker := time.NewTicker(w.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case view := <-pushCh:
				bo.Reset()
				emit(view)
			case <-ticker.C:
				rec, err := models.GetVideoRecord(w.db, videoID)
				if err != nil {
					wait := bo.NextBackOff()
					w.log.WithField("video_id", videoID).WithError(err).Debug("poll failed, backing off")
					select {
					case <-time.After(wait):
					case <-ctx.Done():
						return
					}
					continue
				}
				bo.Reset()
				emit(rec.View())
			}
		}
	}()
	return out
}

// Retry 让 error 状态的记录重新进入流水线，这是离开 error 的唯一路径
func (w *Watcher) Retry(ctx context.Context, videoID string) error {
	rec, err := models.GetVideoRecord(w.db, videoID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pipeline.NotFoundError(videoID)
		}
		return pipeline.PersistenceError(err)
	}
	if rec.Status != models.StatusError {
		return fmt.Errorf("retry only applies to error records, current status is %s: %w", rec.Status, models.ErrInvalidState)
	}
	w.runner.RunAsync(videoID)
	return nil
}

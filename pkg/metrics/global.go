package metrics

import "sync"

var (
	globalOnce sync.Once
	global     *Metrics
)

// Global 返回进程级单例指标管理器
func Global() *Metrics {
	globalOnce.Do(func() {
		global = NewMetrics()
	})
	return global
}

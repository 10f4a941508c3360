package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics 指标管理器
type Metrics struct {
	// HTTP请求指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// 流水线指标
	transcriptionsTotal *prometheus.CounterVec
	analysesTotal       *prometheus.CounterVec
	mediaBytesFetched   prometheus.Counter
	claimConflictsTotal prometheus.Counter
	statusGauge         *prometheus.GaugeVec
}

// NewMetrics 创建指标管理器
func NewMetrics() *Metrics {
	return &Metrics{
		httpRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		transcriptionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_transcriptions_total",
				Help: "Transcription attempts by terminal result",
			},
			[]string{"result"},
		),
		analysesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_analyses_total",
				Help: "Analysis attempts by terminal result",
			},
			[]string{"result"},
		),
		mediaBytesFetched: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "pipeline_media_bytes_fetched_total",
				Help: "Total media bytes downloaded from the object store",
			},
		),
		claimConflictsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "pipeline_claim_conflicts_total",
				Help: "Processing claims rejected because another attempt holds the record",
			},
		),
		statusGauge: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "video_records_by_status",
				Help: "Current number of video records per status",
			},
			[]string{"status"},
		),
	}
}

// ObserveHTTP 记录一次HTTP请求
func (m *Metrics) ObserveHTTP(method, path, status string, seconds float64) {
	m.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.httpRequestDuration.WithLabelValues(method, path).Observe(seconds)
}

// TranscriptionFinished 记录转写终态
func (m *Metrics) TranscriptionFinished(result string) {
	m.transcriptionsTotal.WithLabelValues(result).Inc()
}

// AnalysisFinished 记录分析终态
func (m *Metrics) AnalysisFinished(result string) {
	m.analysesTotal.WithLabelValues(result).Inc()
}

// MediaFetched 累计下载字节数
func (m *Metrics) MediaFetched(bytes int64) {
	if bytes > 0 {
		m.mediaBytesFetched.Add(float64(bytes))
	}
}

// ClaimConflict 记录一次并发占用冲突
func (m *Metrics) ClaimConflict() { m.claimConflictsTotal.Inc() }

// SetStatusCount 更新状态分布
func (m *Metrics) SetStatusCount(status string, n float64) {
	m.statusGauge.WithLabelValues(status).Set(n)
}

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// 上传开始计数
	UploadStartedCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "upload_started_count",
			Help: "Total number of upload workers started",
		},
	)

	// 上传结束计数
	UploadFinishedCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upload_finished_count",
			Help: "Total number of upload workers finished",
		},
		[]string{"status"}, // status: uploaded, rejected, cancelled
	)

	// 提交熔断器状态：0 closed, 1 open, 2 half-open
	SinkBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sink_breaker_state",
			Help: "Current state of the milestone sink circuit breaker",
		},
	)

	// 撤回文件计数
	UploadWithdrawnCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "upload_withdrawn_count",
			Help: "Total number of files withdrawn from a session",
		},
	)

	// 当前进行中的上传
	UploadsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "uploads_in_flight",
			Help: "Number of upload workers currently running",
		},
	)

	// 上传耗时（秒）
	UploadDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upload_duration_seconds",
			Help:    "Upload worker duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
		},
		[]string{"status"},
	)

	// 传输重试计数
	TransferRetryCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transfer_retry_count",
			Help: "Total number of transfer retries",
		},
		[]string{"error_type"},
	)

	// 质量门拒绝计数
	GateRejectionCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "submission_gate_rejection_count",
			Help: "Total number of submit attempts rejected by validation",
		},
		[]string{"reason"},
	)

	// 提交计数
	SubmissionCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "submission_count",
			Help: "Total number of milestone submissions",
		},
		[]string{"result"}, // result: submitted, failed
	)

	// 提交延迟（秒）
	SubmitLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "submit_latency_seconds",
			Help:    "Milestone submit round-trip latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~16s
		},
		[]string{"result"},
	)

	// Outbox 发布计数
	OutboxPublishCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_publish_count",
			Help: "Total number of outbox events published",
		},
		[]string{"routing_key", "status"},
	)

	// MQ 消费延迟（毫秒）
	MQConsumeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mq_consume_latency_ms",
			Help:    "MQ message consumption latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10ms to ~10s
		},
		[]string{"routing_key", "queue"},
	)

	// 数据库查询延迟（秒）
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"operation", "table"},
	)

	// 慢查询计数
	SlowQueryCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_slow_query_count",
			Help: "Total number of queries above the slow threshold",
		},
		[]string{"sql"},
	)

	// HTTP 请求延迟（秒）
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"method", "path", "status"},
	)
)

// RecordUploadStarted 记录上传开始
func RecordUploadStarted() {
	UploadStartedCount.Inc()
	UploadsInFlight.Inc()
}

// RecordUploadFinished 记录上传结束
func RecordUploadFinished(status string, duration time.Duration) {
	UploadsInFlight.Dec()
	UploadFinishedCount.WithLabelValues(status).Inc()
	UploadDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// SetSinkBreakerState 记录熔断器状态
func SetSinkBreakerState(state int) {
	SinkBreakerState.Set(float64(state))
}

// IncrementUploadWithdrawn 增加撤回计数
func IncrementUploadWithdrawn() {
	UploadWithdrawnCount.Inc()
}

// IncrementTransferRetry 增加传输重试计数
func IncrementTransferRetry(errorType string) {
	TransferRetryCount.WithLabelValues(errorType).Inc()
}

// IncrementGateRejection 增加质量门拒绝计数
func IncrementGateRejection(reason string) {
	GateRejectionCount.WithLabelValues(reason).Inc()
}

// RecordSubmission 记录提交结果与延迟
func RecordSubmission(result string, duration time.Duration) {
	SubmissionCount.WithLabelValues(result).Inc()
	SubmitLatency.WithLabelValues(result).Observe(duration.Seconds())
}

// IncrementOutboxPublish 增加 outbox 发布计数
func IncrementOutboxPublish(routingKey, status string) {
	OutboxPublishCount.WithLabelValues(routingKey, status).Inc()
}

// RecordMQConsumeLatency 记录 MQ 消费延迟
func RecordMQConsumeLatency(routingKey, queue string, duration time.Duration) {
	MQConsumeLatency.WithLabelValues(routingKey, queue).Observe(float64(duration.Milliseconds()))
}

// RecordDBQueryDuration 记录数据库查询延迟
func RecordDBQueryDuration(operation, table string, duration time.Duration) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

// IncrementSlowQuery 增加慢查询计数
func IncrementSlowQuery(sql string, duration time.Duration) {
	SlowQueryCount.WithLabelValues(sql).Inc()
	DBQueryDuration.WithLabelValues("slow", "").Observe(duration.Seconds())
}

// RecordHTTPRequestDuration 记录 HTTP 请求延迟
func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 投递处理结果标签
const (
	IngestStored      = "stored"
	IngestFetchError  = "fetch_error"
	IngestParseError  = "parse_error"
	IngestNoRecipient = "no_recipient"
	IngestFailed      = "failed"
)

// Metrics 监控指标
type Metrics struct {
	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// 地址指标
	AddressesGenerated  *prometheus.CounterVec
	AddressesExtended   prometheus.Counter
	AddressesDeactivate prometheus.Counter

	// 邮件指标
	IngestTotal      *prometheus.CounterVec
	IngestDuration   prometheus.Histogram
	MessagesStored   prometheus.Counter
	MessagesDeduped  prometheus.Counter
	RecipientErrors  prometheus.Counter
	MessagesRead     prometheus.Counter
	AttachmentsSeen  prometheus.Counter
	PurgedRecords    *prometheus.CounterVec
	SMTPConnRejected prometheus.Counter

	gatherer prometheus.Gatherer
}

// NewMetrics 在默认注册表上创建监控指标
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
}

// NewMetricsWithRegistry 在指定注册表上创建监控指标，测试中使用独立注册表避免重复注册
func NewMetricsWithRegistry(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dropmail_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dropmail_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		AddressesGenerated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dropmail_addresses_generated_total",
				Help: "Total number of temporary addresses generated",
			},
			[]string{"duration", "custom"},
		),
		AddressesExtended: factory.NewCounter(prometheus.CounterOpts{
			Name: "dropmail_addresses_extended_total",
			Help: "Total number of re-registrations that extended a usable address",
		}),
		AddressesDeactivate: factory.NewCounter(prometheus.CounterOpts{
			Name: "dropmail_addresses_deactivated_total",
			Help: "Total number of addresses deactivated explicitly",
		}),

		IngestTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dropmail_ingest_total",
				Help: "Total number of ingestion attempts by result",
			},
			[]string{"result"},
		),
		IngestDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "dropmail_ingest_duration_seconds",
			Help:    "Ingestion duration in seconds",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		MessagesStored: factory.NewCounter(prometheus.CounterOpts{
			Name: "dropmail_messages_stored_total",
			Help: "Total number of message records stored",
		}),
		MessagesDeduped: factory.NewCounter(prometheus.CounterOpts{
			Name: "dropmail_messages_deduplicated_total",
			Help: "Total number of message inserts skipped by the dedup key",
		}),
		RecipientErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "dropmail_recipient_errors_total",
			Help: "Total number of per-recipient storage failures during ingestion",
		}),
		MessagesRead: factory.NewCounter(prometheus.CounterOpts{
			Name: "dropmail_messages_read_total",
			Help: "Total number of mark-read requests that matched a message",
		}),
		AttachmentsSeen: factory.NewCounter(prometheus.CounterOpts{
			Name: "dropmail_attachments_seen_total",
			Help: "Total number of attachment metadata entries recorded",
		}),
		PurgedRecords: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dropmail_purged_records_total",
				Help: "Total number of expired records removed by the purge loop",
			},
			[]string{"collection"},
		),
		SMTPConnRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "dropmail_smtp_connections_rejected_total",
			Help: "Total number of SMTP connections rejected by the limiter",
		}),

		gatherer: gatherer,
	}
}

// RecordHTTPRequest 记录 HTTP 请求
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordAddressGenerated 记录地址生成
func (m *Metrics) RecordAddressGenerated(duration string, custom bool) {
	if m == nil {
		return
	}
	label := "false"
	if custom {
		label = "true"
	}
	m.AddressesGenerated.WithLabelValues(duration, label).Inc()
}

// RecordAddressExtended 记录地址续期
func (m *Metrics) RecordAddressExtended() {
	if m == nil {
		return
	}
	m.AddressesExtended.Inc()
}

// RecordAddressDeactivated 记录地址停用
func (m *Metrics) RecordAddressDeactivated() {
	if m == nil {
		return
	}
	m.AddressesDeactivate.Inc()
}

// RecordIngest 记录一次投递处理结果与耗时
func (m *Metrics) RecordIngest(result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.IngestTotal.WithLabelValues(result).Inc()
	m.IngestDuration.Observe(duration.Seconds())
}

// RecordMessageStored 记录邮件入库
func (m *Metrics) RecordMessageStored(attachments int) {
	if m == nil {
		return
	}
	m.MessagesStored.Inc()
	m.AttachmentsSeen.Add(float64(attachments))
}

// RecordMessageDeduped 记录去重跳过
func (m *Metrics) RecordMessageDeduped() {
	if m == nil {
		return
	}
	m.MessagesDeduped.Inc()
}

// RecordRecipientError 记录单个收件人处理失败
func (m *Metrics) RecordRecipientError() {
	if m == nil {
		return
	}
	m.RecipientErrors.Inc()
}

// RecordMessageRead 记录邮件已读
func (m *Metrics) RecordMessageRead() {
	if m == nil {
		return
	}
	m.MessagesRead.Inc()
}

// RecordPurged 记录过期清理数量
func (m *Metrics) RecordPurged(collection string, count int) {
	if m == nil {
		return
	}
	m.PurgedRecords.WithLabelValues(collection).Add(float64(count))
}

// RecordSMTPRejected 记录被限流拒绝的 SMTP 连接
func (m *Metrics) RecordSMTPRejected() {
	if m == nil {
		return
	}
	m.SMTPConnRejected.Inc()
}

// HTTPHandler 返回 Prometheus 指标处理器
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

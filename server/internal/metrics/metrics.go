package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics 汇总服务的 Prometheus 指标。
// 所有方法对 nil 接收者安全，测试里可以直接传 nil。
type Metrics struct {
	StreamConnections prometheus.Gauge
	StreamMessages    *prometheus.CounterVec

	CompletionRequests *prometheus.CounterVec
	CompletionLatency  prometheus.Histogram

	CheckinCommands    *prometheus.CounterVec
	CheckinSubmissions *prometheus.CounterVec

	CanvasCommands *prometheus.CounterVec
	CanvasExports  prometheus.Counter

	StoreOps   *prometheus.CounterVec
	QueueDepth prometheus.Gauge
}

// New 在给定的 registerer 上注册指标，传 nil 时使用默认 registerer。
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		StreamConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "grapenote_stream_connections_active",
			Help: "Number of active check-in WebSocket streams",
		}),
		StreamMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "grapenote_stream_messages_total",
			Help: "Total number of stream messages by type",
		}, []string{"type", "direction"}),

		CompletionRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "grapenote_completion_requests_total",
			Help: "Total number of LLM completion requests by outcome",
		}, []string{"outcome"}),
		CompletionLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "grapenote_completion_duration_seconds",
			Help:    "LLM completion latency in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}),

		CheckinCommands: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "grapenote_checkin_commands_total",
			Help: "Check-in commands by kind and outcome",
		}, []string{"kind", "outcome"}),
		CheckinSubmissions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "grapenote_checkin_submissions_total",
			Help: "Submitted check-ins by variant",
		}, []string{"variant"}),

		CanvasCommands: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "grapenote_canvas_commands_total",
			Help: "Canvas commands by kind",
		}, []string{"kind"}),
		CanvasExports: factory.NewCounter(prometheus.CounterOpts{
			Name: "grapenote_canvas_exports_total",
			Help: "Total number of canvas exports",
		}),

		StoreOps: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "grapenote_store_operations_total",
			Help: "Record store operations by op and outcome",
		}, []string{"op", "outcome"}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "grapenote_event_queue_depth",
			Help: "Commands waiting in per-conversation queues",
		}),
	}
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveCompletion 记录一次补全调用。
func (m *Metrics) ObserveCompletion(started time.Time, err error) {
	if m == nil {
		return
	}
	m.CompletionRequests.WithLabelValues(outcome(err)).Inc()
	m.CompletionLatency.Observe(time.Since(started).Seconds())
}

// CheckinCommand 记录一次签到命令。
func (m *Metrics) CheckinCommand(kind string, err error) {
	if m == nil {
		return
	}
	m.CheckinCommands.WithLabelValues(kind, outcome(err)).Inc()
}

// CheckinSubmitted 记录一次成功提交。
func (m *Metrics) CheckinSubmitted(variant string) {
	if m == nil {
		return
	}
	m.CheckinSubmissions.WithLabelValues(variant).Inc()
}

// CanvasCommand 记录一次画布命令。
func (m *Metrics) CanvasCommand(kind string) {
	if m == nil {
		return
	}
	m.CanvasCommands.WithLabelValues(kind).Inc()
}

// CanvasExported 记录一次导出。
func (m *Metrics) CanvasExported() {
	if m == nil {
		return
	}
	m.CanvasExports.Inc()
}

// StoreOp 记录一次存储操作。
func (m *Metrics) StoreOp(op string, err error) {
	if m == nil {
		return
	}
	m.StoreOps.WithLabelValues(op, outcome(err)).Inc()
}

// StreamOpened 与 StreamClosed 维护在线连接数。
func (m *Metrics) StreamOpened() {
	if m == nil {
		return
	}
	m.StreamConnections.Inc()
}

func (m *Metrics) StreamClosed() {
	if m == nil {
		return
	}
	m.StreamConnections.Dec()
}

// StreamMessage 记录一条流消息，direction 为 inbound 或 outbound。
func (m *Metrics) StreamMessage(kind, direction string) {
	if m == nil {
		return
	}
	m.StreamMessages.WithLabelValues(kind, direction).Inc()
}

// QueueDepthChanged 调整排队命令数。
func (m *Metrics) QueueDepthChanged(delta int) {
	if m == nil {
		return
	}
	m.QueueDepth.Add(float64(delta))
}

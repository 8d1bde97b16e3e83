package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics
type Metrics struct {
	// Push channel metrics
	ChannelConnected    prometheus.Gauge
	ConnectAttempts     *prometheus.CounterVec
	ReconnectsScheduled prometheus.Counter
	ReconnectsExhausted prometheus.Counter
	FramesReceived      *prometheus.CounterVec
	FramesDropped       prometheus.Counter
	FramesSent          *prometheus.CounterVec

	// Delivery metrics
	NotificationsDelivered *prometheus.CounterVec
	ToastsShown            *prometheus.CounterVec
	SoundsPlayed           *prometheus.CounterVec

	// Store metrics
	UnreadCount   prometheus.Gauge
	StoredRecords prometheus.Gauge

	// Ack outbox metrics
	AckOutboxSize      prometheus.Gauge
	AckOutboxProcessed prometheus.Counter
	AckOutboxFailed    prometheus.Counter
	AckOutboxRetries   *prometheus.CounterVec

	// REST collaborator metrics
	RESTOperations *prometheus.CounterVec
	RESTLatency    *prometheus.HistogramVec
}

// NewMetrics creates all application metrics and registers them on reg.
// A nil reg leaves them unregistered, which is what tests usually want.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ChannelConnected: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "connected",
			Help:      "1 while the push channel is open, 0 otherwise",
		}),
		ConnectAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "connect_attempts_total",
			Help:      "Push channel connection attempts by result",
		}, []string{"result"}),
		ReconnectsScheduled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "reconnects_scheduled_total",
			Help:      "Reconnects scheduled after an abnormal close",
		}),
		ReconnectsExhausted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "reconnects_exhausted_total",
			Help:      "Times the channel gave up and left delivery to polling",
		}),
		FramesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "frames_received_total",
			Help:      "Inbound frames by message type",
		}, []string{"type"}),
		FramesDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "frames_dropped_total",
			Help:      "Inbound frames dropped as malformed or unrecognized",
		}),
		FramesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "frames_sent_total",
			Help:      "Outbound frames by message type",
		}, []string{"type"}),

		NotificationsDelivered: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "notifications_total",
			Help:      "Inbound notifications by priority and outcome",
		}, []string{"priority", "outcome"}),
		ToastsShown: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "toasts_total",
			Help:      "Toasts published by priority",
		}, []string{"priority"}),
		SoundsPlayed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "sounds_total",
			Help:      "Audible alerts by playback path",
		}, []string{"path"}),

		UnreadCount: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "unread_count",
			Help:      "Current unread notification count",
		}),
		StoredRecords: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "records",
			Help:      "Notification records currently held by the store",
		}),

		AckOutboxSize: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ack_outbox",
			Name:      "size",
			Help:      "Read mutations waiting to be retried",
		}),
		AckOutboxProcessed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ack_outbox",
			Name:      "processed_total",
			Help:      "Queued read mutations that eventually succeeded",
		}),
		AckOutboxFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ack_outbox",
			Name:      "failed_total",
			Help:      "Queued read mutations dropped after exhausting attempts",
		}),
		AckOutboxRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ack_outbox",
			Name:      "retry_attempts_total",
			Help:      "Retry attempts for queued read mutations",
		}, []string{"kind"}),

		RESTOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rest",
			Name:      "operations_total",
			Help:      "REST collaborator calls by operation and status",
		}, []string{"operation", "status"}),
		RESTLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rest",
			Name:      "operation_duration_seconds",
			Help:      "Duration of REST collaborator calls",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"operation"}),
	}
}

// New returns unregistered metrics under namespace.
func New(namespace string) *Metrics {
	return NewMetrics(namespace, nil)
}

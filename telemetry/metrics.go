// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Event kinds used as the "kind" label on delivery metrics.
const (
	KindMessage = "message"
	KindCleared = "cleared"
)

var (
	once sync.Once

	// Counters
	EventsReceived     prometheus.Counter
	EventsFiltered     prometheus.Counter
	EventsDelivered    *prometheus.CounterVec
	StaleEventsDropped prometheus.Counter
	JoinFailures       prometheus.Counter
	SessionRestarts    prometheus.Counter
	RecorderWrites     prometheus.Counter
	RecorderFailures   prometheus.Counter
	RecorderDropped    prometheus.Counter

	// Histograms (seconds)
	RecorderFlushDuration prometheus.Observer

	// Gauges
	ActiveSessions     prometheus.Gauge
	DeliveryQueueDepth prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		EventsReceived = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_events_received_total", Help: "Raw protocol events pulled from the chat connection"})
		EventsFiltered = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_events_filtered_total", Help: "Raw protocol events dropped by normalization"})
		EventsDelivered = promauto.NewCounterVec(prometheus.CounterOpts{Name: "chat_events_delivered_total", Help: "Normalized events applied to consumers"}, []string{"kind"})
		StaleEventsDropped = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_events_stale_dropped_total", Help: "Events from a superseded session discarded after a reset"})
		JoinFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_join_failures_total", Help: "Sessions that failed to join their channel"})
		SessionRestarts = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_session_restarts_total", Help: "Supervisor restarts (channel changes)"})
		RecorderWrites = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_recorder_events_written_total", Help: "Chat events (messages and clears) written by the recorder"})
		RecorderFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_recorder_batch_failures_total", Help: "Recorder batches that failed to write"})
		RecorderDropped = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_recorder_dropped_total", Help: "Chat events dropped because the recorder queue was full"})
		RecorderFlushDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "chat_recorder_flush_duration_seconds", Help: "Recorder batch flush duration seconds", Buckets: prometheus.DefBuckets})
		ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{Name: "chat_active_sessions", Help: "Ingestion sessions currently joined"})
		DeliveryQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{Name: "chat_delivery_queue_depth", Help: "Envelopes waiting in the delivery queue"})
	})
}

func inc(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}

// IncEventsReceived counts one raw event pulled from the connection.
func IncEventsReceived() { inc(EventsReceived) }

// IncEventsFiltered counts one raw event dropped by normalization.
func IncEventsFiltered() { inc(EventsFiltered) }

// IncStaleDropped counts one event discarded because its session was superseded.
func IncStaleDropped() { inc(StaleEventsDropped) }

// IncJoinFailures counts one failed join.
func IncJoinFailures() { inc(JoinFailures) }

// IncRestarts counts one supervisor restart.
func IncRestarts() { inc(SessionRestarts) }

// IncRecorderDropped counts one event dropped by the recorder.
func IncRecorderDropped() { inc(RecorderDropped) }

// IncDelivered counts one event applied to consumers.
func IncDelivered(kind string) {
	if EventsDelivered != nil {
		EventsDelivered.WithLabelValues(kind).Inc()
	}
}

// RecordBatch records the outcome of one recorder flush of n events.
func RecordBatch(n int, err error) {
	if err != nil {
		inc(RecorderFailures)
		return
	}
	if RecorderWrites != nil {
		RecorderWrites.Add(float64(n))
	}
}

// SessionJoined and SessionLeft track the number of joined sessions.
func SessionJoined() {
	if ActiveSessions != nil {
		ActiveSessions.Inc()
	}
}

func SessionLeft() {
	if ActiveSessions != nil {
		ActiveSessions.Dec()
	}
}

// SetQueueDepth records the current delivery queue length.
func SetQueueDepth(n int) {
	if DeliveryQueueDepth != nil {
		DeliveryQueueDepth.Set(float64(n))
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}

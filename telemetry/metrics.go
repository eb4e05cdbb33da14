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

var (
	once sync.Once

	// Counters
	SessionsStarted    prometheus.Counter
	SessionsStopped    prometheus.Counter
	SessionFailures    prometheus.Counter
	MessagesDispatched prometheus.Counter
	CommandsMatched    prometheus.Counter
	AICallsStarted     prometheus.Counter
	AICallsSucceeded   prometheus.Counter
	AICallsFailed      prometheus.Counter
	AICallsThrottled   prometheus.Counter
	OverlayPublishes   prometheus.Counter

	// Histograms (seconds)
	AICallDuration prometheus.Observer

	// Gauges
	ActiveSessionsGauge prometheus.Gauge
	OverlayViewersGauge prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		SessionsStarted = promauto.NewCounter(prometheus.CounterOpts{Name: "bot_sessions_started_total", Help: "Number of chat sessions started"})
		SessionsStopped = promauto.NewCounter(prometheus.CounterOpts{Name: "bot_sessions_stopped_total", Help: "Number of chat sessions stopped"})
		SessionFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "bot_session_failures_total", Help: "Number of sessions ended by connection failure"})
		MessagesDispatched = promauto.NewCounter(prometheus.CounterOpts{Name: "bot_messages_dispatched_total", Help: "Number of inbound chat messages dispatched"})
		CommandsMatched = promauto.NewCounter(prometheus.CounterOpts{Name: "bot_commands_matched_total", Help: "Number of messages matching a command"})
		AICallsStarted = promauto.NewCounter(prometheus.CounterOpts{Name: "bot_ai_calls_started_total", Help: "Number of AI generate calls started"})
		AICallsSucceeded = promauto.NewCounter(prometheus.CounterOpts{Name: "bot_ai_calls_succeeded_total", Help: "Number of AI generate calls succeeded"})
		AICallsFailed = promauto.NewCounter(prometheus.CounterOpts{Name: "bot_ai_calls_failed_total", Help: "Number of AI generate calls failed or timed out"})
		AICallsThrottled = promauto.NewCounter(prometheus.CounterOpts{Name: "bot_ai_calls_throttled_total", Help: "Number of AI prompts dropped by cooldown"})
		OverlayPublishes = promauto.NewCounter(prometheus.CounterOpts{Name: "overlay_publishes_total", Help: "Number of overlay slot publishes"})
		AICallDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "bot_ai_call_duration_seconds", Help: "AI generate call duration seconds", Buckets: prometheus.DefBuckets})
		ActiveSessionsGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "bot_active_sessions", Help: "Current number of live chat sessions"})
		OverlayViewersGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "overlay_viewers", Help: "Current number of connected overlay subscribers"})
	})
}

// SetActiveSessions records the current live session count.
func SetActiveSessions(n int) {
	if ActiveSessionsGauge != nil {
		ActiveSessionsGauge.Set(float64(n))
	}
}

// AddOverlayViewers adjusts the connected overlay subscriber gauge.
func AddOverlayViewers(delta int) {
	if OverlayViewersGauge != nil {
		OverlayViewersGauge.Add(float64(delta))
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

// WithCorrelation returns a new context embedding correlation id (if absent) and the id.
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

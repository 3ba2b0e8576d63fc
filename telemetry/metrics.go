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
	SessionStarts       prometheus.Counter
	SessionStops        prometheus.Counter
	SessionFailures     prometheus.Counter
	MessagesIngested    prometheus.Counter
	MessagesDropped     prometheus.Counter
	BroadcastsPublished prometheus.Counter
	BroadcastFailures   prometheus.Counter
	ModerationDeletes   prometheus.Counter
	ModerationApproves  prometheus.Counter
	TokenRefreshes      prometheus.Counter
	TokenRefreshErrors  prometheus.Counter

	// Histograms (seconds)
	IngestDuration prometheus.Observer

	// Gauges
	SessionsActive prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		SessionStarts = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_session_starts_total", Help: "Number of chat sessions started"})
		SessionStops = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_session_stops_total", Help: "Number of chat sessions stopped"})
		SessionFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_session_failures_total", Help: "Number of chat session start failures"})
		MessagesIngested = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_messages_ingested_total", Help: "Number of chat messages persisted and broadcast"})
		MessagesDropped = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_messages_dropped_total", Help: "Number of chat messages dropped (queue full or persist failure)"})
		BroadcastsPublished = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_broadcasts_published_total", Help: "Number of events published to broadcast rooms"})
		BroadcastFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_broadcast_failures_total", Help: "Number of broadcast publish failures"})
		ModerationDeletes = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_moderation_deletes_total", Help: "Number of DELETE moderation actions applied"})
		ModerationApproves = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_moderation_approves_total", Help: "Number of APPROVE moderation actions applied"})
		TokenRefreshes = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_token_refreshes_total", Help: "Number of successful OAuth token refreshes"})
		TokenRefreshErrors = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_token_refresh_errors_total", Help: "Number of failed OAuth token refreshes"})
		IngestDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "chat_ingest_duration_seconds", Help: "Time from dequeue to broadcast per message", Buckets: prometheus.DefBuckets})
		SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{Name: "chat_sessions_active", Help: "Current number of connected chat sessions"})
	})
}

// SetSessionsActive records the current connected session count.
func SetSessionsActive(n int) {
	if SessionsActive != nil {
		SessionsActive.Set(float64(n))
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

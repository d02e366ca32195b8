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
	MessagesWritten  *prometheus.CounterVec // label: path=live|backfill
	MessagesSkipped  prometheus.Counter
	SenderFailures   prometheus.Counter
	LiveWriteErrors  prometheus.Counter
	BackfillsFailed  prometheus.Counter
	BackfillsStarted prometheus.Counter

	// Histograms
	BackfillDuration  prometheus.Observer // seconds
	BatchRowsAffected prometheus.Observer

	// Gauges
	MonitoredChatsGauge prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		MessagesWritten = promauto.NewCounterVec(prometheus.CounterOpts{Name: "chat_messages_written_total", Help: "Messages upserted, by write path"}, []string{"path"})
		MessagesSkipped = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_messages_skipped_total", Help: "Messages dropped for having no text"})
		SenderFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_sender_failures_total", Help: "Messages excluded because their sender could not be resolved"})
		LiveWriteErrors = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_live_write_errors_total", Help: "Live message writes that returned an error"})
		BackfillsStarted = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_backfills_started_total", Help: "Per-chat backfills started"})
		BackfillsFailed = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_backfills_failed_total", Help: "Per-chat backfills rolled back or aborted"})
		BackfillDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "chat_backfill_duration_seconds", Help: "Per-chat backfill duration seconds", Buckets: prometheus.DefBuckets})
		BatchRowsAffected = promauto.NewHistogram(prometheus.HistogramOpts{Name: "chat_batch_rows_affected", Help: "Rows affected per multi-row upsert", Buckets: prometheus.LinearBuckets(0, 25, 9)})
		MonitoredChatsGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "chat_monitored_chats", Help: "Number of monitored chats"})
	})
}

// AddWritten counts n upserted messages for the given path. No-op before Init.
func AddWritten(path string, n int64) {
	if MessagesWritten != nil && n > 0 {
		MessagesWritten.WithLabelValues(path).Add(float64(n))
	}
}

// BackfillStarted counts a per-chat backfill attempt.
func BackfillStarted() {
	if BackfillsStarted != nil {
		BackfillsStarted.Inc()
	}
}

// BackfillFailed counts a per-chat backfill that did not commit.
func BackfillFailed() {
	if BackfillsFailed != nil {
		BackfillsFailed.Inc()
	}
}

// AddSkipped counts messages dropped for having no text.
func AddSkipped(n int) {
	if MessagesSkipped != nil && n > 0 {
		MessagesSkipped.Add(float64(n))
	}
}

// AddSenderFailures counts messages whose declared sender did not resolve.
func AddSenderFailures(n int) {
	if SenderFailures != nil && n > 0 {
		SenderFailures.Add(float64(n))
	}
}

// IncLiveWriteErrors counts a failed live write.
func IncLiveWriteErrors() {
	if LiveWriteErrors != nil {
		LiveWriteErrors.Inc()
	}
}

// ObserveBatch records the affected-row count of one chunk upsert.
func ObserveBatch(rows int64) {
	if BatchRowsAffected != nil {
		BatchRowsAffected.Observe(float64(rows))
	}
}

// SetMonitoredChats records the size of the monitored set.
func SetMonitoredChats(n int) {
	if MonitoredChatsGauge != nil {
		MonitoredChatsGauge.Set(float64(n))
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

// WithCorrelation returns a new context carrying the correlation id.
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

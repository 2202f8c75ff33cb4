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

// Stages reported by HarvestStage; exactly one is set to 1 at a time.
var stages = []string{"idle", "waiting_for_live", "resolving_chat", "polling", "shutting_down", "done"}

var (
	once sync.Once

	// Counters
	APIRequests       *prometheus.CounterVec // labels: call, result
	MessagesHarvested prometheus.Counter
	Flushes           *prometheus.CounterVec // labels: result

	// Histograms (seconds)
	APIRequestDuration *prometheus.HistogramVec // labels: call

	// Gauges
	ErrorBudgetGauge prometheus.Gauge
	HarvestStage     *prometheus.GaugeVec // labels: stage
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		APIRequests = promauto.NewCounterVec(prometheus.CounterOpts{Name: "harvest_api_requests_total", Help: "YouTube API requests by call and result"}, []string{"call", "result"})
		MessagesHarvested = promauto.NewCounter(prometheus.CounterOpts{Name: "harvest_messages_total", Help: "Chat messages appended to the transcript"})
		Flushes = promauto.NewCounterVec(prometheus.CounterOpts{Name: "harvest_flushes_total", Help: "Transcript flushes by result (written, skipped_empty, failed)"}, []string{"result"})
		APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{Name: "harvest_api_request_duration_seconds", Help: "YouTube API request duration seconds", Buckets: prometheus.DefBuckets}, []string{"call"})
		ErrorBudgetGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "harvest_consecutive_poll_failures", Help: "Consecutive chat poll failures counted against the error budget"})
		HarvestStage = promauto.NewGaugeVec(prometheus.GaugeOpts{Name: "harvest_stage", Help: "Current harvester stage (1 for the active stage)"}, []string{"stage"})
	})
}

// ObserveAPICall records one upstream request that started at start.
func ObserveAPICall(call string, start time.Time, err error) {
	if APIRequests == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	APIRequests.WithLabelValues(call, result).Inc()
	APIRequestDuration.WithLabelValues(call).Observe(time.Since(start).Seconds())
}

// AddMessages counts newly harvested messages.
func AddMessages(n int) {
	if MessagesHarvested != nil && n > 0 {
		MessagesHarvested.Add(float64(n))
	}
}

// SetErrorBudget records the current consecutive failure count.
func SetErrorBudget(n int) {
	if ErrorBudgetGauge != nil {
		ErrorBudgetGauge.Set(float64(n))
	}
}

// RecordFlush counts a flush outcome.
func RecordFlush(result string) {
	if Flushes != nil {
		Flushes.WithLabelValues(result).Inc()
	}
}

// SetStage marks stage as the active one.
func SetStage(stage string) {
	if HarvestStage == nil {
		return
	}
	for _, s := range stages {
		v := 0.0
		if s == stage {
			v = 1
		}
		HarvestStage.WithLabelValues(s).Set(v)
	}
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context { return context.WithValue(ctx, corrKey, id) }

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

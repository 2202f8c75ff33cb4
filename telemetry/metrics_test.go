package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestMetricsInitialized(t *testing.T) {
	Init()
	Init() // idempotent

	if APIRequests == nil || MessagesHarvested == nil || Flushes == nil {
		t.Fatal("counters not initialized")
	}
	if APIRequestDuration == nil {
		t.Fatal("APIRequestDuration histogram not initialized")
	}
	if ErrorBudgetGauge == nil || HarvestStage == nil {
		t.Fatal("gauges not initialized")
	}
}

func TestObserveAPICall(t *testing.T) {
	Init()

	okBefore := testutil.ToFloat64(APIRequests.WithLabelValues("search_live", "ok"))
	errBefore := testutil.ToFloat64(APIRequests.WithLabelValues("search_live", "error"))

	ObserveAPICall("search_live", time.Now().Add(-50*time.Millisecond), nil)
	ObserveAPICall("search_live", time.Now(), errors.New("boom"))

	if got := testutil.ToFloat64(APIRequests.WithLabelValues("search_live", "ok")) - okBefore; got != 1 {
		t.Errorf("ok requests delta = %v, want 1", got)
	}
	if got := testutil.ToFloat64(APIRequests.WithLabelValues("search_live", "error")) - errBefore; got != 1 {
		t.Errorf("error requests delta = %v, want 1", got)
	}

	metric := &dto.Metric{}
	obs := APIRequestDuration.WithLabelValues("search_live")
	if err := obs.(interface{ Write(*dto.Metric) error }).Write(metric); err != nil {
		t.Fatalf("write histogram: %v", err)
	}
	if metric.Histogram == nil || metric.Histogram.GetSampleCount() < 2 {
		t.Errorf("expected at least 2 duration samples, got %v", metric.Histogram)
	}
}

func TestStageGaugeExclusive(t *testing.T) {
	Init()

	SetStage("polling")
	if got := testutil.ToFloat64(HarvestStage.WithLabelValues("polling")); got != 1 {
		t.Errorf("polling stage = %v, want 1", got)
	}
	SetStage("done")
	if got := testutil.ToFloat64(HarvestStage.WithLabelValues("polling")); got != 0 {
		t.Errorf("polling stage after transition = %v, want 0", got)
	}
	if got := testutil.ToFloat64(HarvestStage.WithLabelValues("done")); got != 1 {
		t.Errorf("done stage = %v, want 1", got)
	}
}

func TestFlushAndMessageCounters(t *testing.T) {
	Init()

	before := testutil.ToFloat64(MessagesHarvested)
	AddMessages(3)
	AddMessages(0)
	if got := testutil.ToFloat64(MessagesHarvested) - before; got != 3 {
		t.Errorf("messages delta = %v, want 3", got)
	}

	fBefore := testutil.ToFloat64(Flushes.WithLabelValues("written"))
	RecordFlush("written")
	if got := testutil.ToFloat64(Flushes.WithLabelValues("written")) - fBefore; got != 1 {
		t.Errorf("written flush delta = %v, want 1", got)
	}

	SetErrorBudget(2)
	if got := testutil.ToFloat64(ErrorBudgetGauge); got != 2 {
		t.Errorf("error budget gauge = %v, want 2", got)
	}
}

func TestCorrelation(t *testing.T) {
	ctx := context.Background()
	if GetCorrelation(ctx) != "" {
		t.Error("expected empty correlation on bare context")
	}
	ctx = WithCorrelation(ctx, "abc")
	if got := GetCorrelation(ctx); got != "abc" {
		t.Errorf("GetCorrelation = %q, want abc", got)
	}
	if LoggerWithCorr(ctx) == nil {
		t.Error("LoggerWithCorr returned nil")
	}
}

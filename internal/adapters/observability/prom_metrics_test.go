package observability

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/ports"
)

func TestPromObsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	obs := NewPromObs(reg, zap.NewNop())

	obs.IncCounter("farm_ingest_sent_total", 5)
	if got := testutil.ToFloat64(obs.counters["farm_ingest_sent_total"]); got != 5 {
		t.Fatalf("expected ingest counter 5, got %f", got)
	}

	obs.IncCounter("farm_retry_queue_evicted_total", 2)
	if got := testutil.ToFloat64(obs.counters["farm_retry_queue_evicted_total"]); got != 2 {
		t.Fatalf("expected eviction counter 2, got %f", got)
	}

	obs.SetGauge("farm_ondemand_subscribers", 3)
	if got := testutil.ToFloat64(obs.gauges["farm_ondemand_subscribers"]); got != 3 {
		t.Fatalf("expected subscriber gauge 3, got %f", got)
	}

	obs.ObserveLatency("farm_ingest_latency_seconds", 0.5)
	hCollector := obs.histos["farm_ingest_latency_seconds"].(prometheus.Collector)
	if samples := testutil.CollectAndCount(hCollector); samples != 1 {
		t.Fatalf("expected latency histogram to record 1 sample, got %d", samples)
	}

	obs.IncCounter("not_a_metric", 1)
	obs.SetGauge("not_a_metric", 1)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if want := len(counterHelp) + len(gaugeHelp) + len(histoHelp); len(families) != want {
		t.Fatalf("expected %d registered families, got %d", want, len(families))
	}
}

func TestPromObsLogsStructuredFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	obs := NewPromObs(prometheus.NewRegistry(), zap.New(core))

	obs.LogWarn("retry_queue_evicted", ports.Field{Key: "capacity", Value: 60})
	obs.LogCritical("journal_append_failed", errors.New("disk full"))

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 log entries, got %d", len(entries))
	}
	if entries[0].Level != zapcore.WarnLevel || entries[0].ContextMap()["capacity"] != int64(60) {
		t.Fatalf("unexpected warn entry %+v", entries[0])
	}
	ctx := entries[1].ContextMap()
	if entries[1].Level != zapcore.ErrorLevel || ctx["critical"] != true || ctx["error"] != "disk full" {
		t.Fatalf("unexpected critical entry %+v", ctx)
	}
}

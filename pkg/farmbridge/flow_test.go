package farmbridge

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/adapters/mqtt"
	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/adapters/observability"
)

func TestConfLoadsYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "edge.yaml")
	data := []byte(`farm_id: farm-7
mqtt:
  broker: tcp://localhost:1883
ingest:
  base_url: http://localhost:8080
  secret: s3cret
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	flow, err := Conf(path)
	if err != nil {
		t.Fatalf("conf: %v", err)
	}
	cfg := flow.Config()
	if cfg.FarmID != "farm-7" || cfg.Namespace != "smartfarm" || len(cfg.Alarms) == 0 {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}

func TestConfFromConfigValidates(t *testing.T) {
	if _, err := ConfFromConfig(nil); err == nil {
		t.Fatalf("expected error for nil config")
	}
	if _, err := ConfFromConfig(&EdgeConfig{}); err == nil {
		t.Fatalf("expected error for missing farm id")
	}
}

func TestFlowBuildsRuntimeWithOverrides(t *testing.T) {
	feed := NewFeedCollector()
	journal := newMemJournal()
	broker := mqtt.NewLoopback().Client()

	flow, err := ConfFromConfig(testEdgeConfig(), WithFlowOptions(WithLocalStore(&memLocalStore{}), WithoutMetricsServer()))
	if err != nil {
		t.Fatalf("conf: %v", err)
	}
	rt, err := flow.
		StreamIN(StreamInFeed(feed), StreamInJournal(journal)).
		StreamOUT(StreamOutBroker(broker), StreamOutIngest(&stubSender{}), StreamOutObservability(observability.NewNop()))
	if err != nil {
		t.Fatalf("stream out: %v", err)
	}
	if rt.collector != feed || rt.journal != journal || rt.broker != broker {
		t.Fatalf("overrides not applied")
	}
	if rt.Feed() != nil {
		t.Fatalf("an injected feed replaces the embedded one")
	}
	if !rt.noHTTP {
		t.Fatalf("flow options must reach the runtime")
	}
}

func TestNilFlow(t *testing.T) {
	var f *Flow
	if f.Config() != nil || f.StreamIN() != nil || f.Options() != nil {
		t.Fatalf("nil flow helpers should return nil")
	}
	if _, err := f.StreamOUT(); err == nil {
		t.Fatalf("expected error from nil flow")
	}
}

package farmbridge

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/adapters/mqtt"
	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/adapters/observability"
	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/domain"
)

type topicRecorder struct {
	mu   sync.Mutex
	msgs map[string][][]byte
}

func (r *topicRecorder) add(topic string, payload []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.msgs == nil {
		r.msgs = make(map[string][][]byte)
	}
	r.msgs[topic] = append(r.msgs[topic], append([]byte(nil), payload...))
}

func (r *topicRecorder) on(topic string) [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]byte(nil), r.msgs[topic]...)
}

type edgeHarness struct {
	rt     *EdgeRuntime
	cloud  *mqtt.LoopbackClient
	seen   *topicRecorder
	sender *stubSender
	store  *memLocalStore
}

func newEdgeHarness(t *testing.T, journal *memJournal) *edgeHarness {
	t.Helper()
	hub := mqtt.NewLoopback()
	h := &edgeHarness{
		cloud:  hub.Client(),
		seen:   &topicRecorder{},
		sender: &stubSender{},
		store:  &memLocalStore{},
	}
	h.cloud.Subscribe([]string{"smartfarm/#"}, h.seen.add)
	if err := h.cloud.Connect(context.Background()); err != nil {
		t.Fatalf("cloud connect: %v", err)
	}

	rt, err := NewEdgeRuntime(testEdgeConfig(),
		WithBroker(hub.Client()),
		WithIngestSender(h.sender),
		WithLocalStore(h.store),
		WithAlarmJournal(journal),
		WithSystemProbe(stubProbe{}),
		WithObservability(observability.NewNop()),
		WithoutMetricsServer(),
	)
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	h.rt = rt
	if err := rt.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = rt.Shutdown(ctx)
	})
	return h
}

func TestNewEdgeRuntimeRequiresConfig(t *testing.T) {
	if _, err := NewEdgeRuntime(nil); err == nil {
		t.Fatalf("expected error for nil config")
	}
}

func TestEdgeRuntimeUsesFeedWithoutOPCUA(t *testing.T) {
	rt, err := NewEdgeRuntime(testEdgeConfig(),
		WithBroker(mqtt.NewLoopback().Client()),
		WithIngestSender(&stubSender{}),
		WithLocalStore(&memLocalStore{}),
		WithAlarmJournal(newMemJournal()),
		WithObservability(observability.NewNop()),
	)
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	if rt.Feed() == nil {
		t.Fatalf("expected a feed collector")
	}

	custom := NewFeedCollector()
	rt, err = NewEdgeRuntime(testEdgeConfig(),
		WithCollector(custom),
		WithBroker(mqtt.NewLoopback().Client()),
		WithIngestSender(&stubSender{}),
		WithLocalStore(&memLocalStore{}),
		WithAlarmJournal(newMemJournal()),
		WithObservability(observability.NewNop()),
	)
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	if rt.Feed() != nil {
		t.Fatalf("custom collector must replace the embedded feed")
	}
}

func TestEdgeRuntimeRaisesAlarmOverBroker(t *testing.T) {
	h := newEdgeHarness(t, newMemJournal())

	publishWhenReady(t, h.rt.Feed(), Reading{Field: domain.FieldEC, Value: 4.2, Timestamp: time.Now()})

	waitFor(t, "EC_HIGH alarm", func() bool { return len(h.rt.OpenAlarms()) == 1 })
	if got := h.rt.OpenAlarms()[0].Type; got != domain.AlarmECHigh {
		t.Fatalf("expected EC_HIGH, got %s", got)
	}
	if v, ok := h.rt.Snapshot().Value(domain.FieldEC); !ok || v != 4.2 {
		t.Fatalf("snapshot not updated: %v %v", v, ok)
	}

	alarms := h.seen.on("smartfarm/farm-1/alarm")
	if len(alarms) != 1 {
		t.Fatalf("expected one alarm message, got %d", len(alarms))
	}
	var body map[string]any
	if err := json.Unmarshal(alarms[0], &body); err != nil {
		t.Fatalf("alarm decode: %v", err)
	}
	if body["alarmType"] != "EC_HIGH" || body["alarmValue"] != 4.2 {
		t.Fatalf("unexpected alarm body: %v", body)
	}

	// back in range resolves the alarm
	publishWhenReady(t, h.rt.Feed(), Reading{Field: domain.FieldEC, Value: 2.1, Timestamp: time.Now()})
	waitFor(t, "alarm resolve", func() bool { return len(h.rt.OpenAlarms()) == 0 })
	if got := len(h.seen.on("smartfarm/farm-1/alarm")); got != 2 {
		t.Fatalf("expected open and resolve messages, got %d", got)
	}
}

func TestEdgeRuntimeRestoresOpenAlarms(t *testing.T) {
	journal := newMemJournal(domain.AlarmRecord{Type: domain.AlarmTankLevelLow, Value: 4, Threshold: 10, OccurredAt: time.Now()})
	h := newEdgeHarness(t, journal)

	open := h.rt.OpenAlarms()
	if len(open) != 1 || open[0].Type != domain.AlarmTankLevelLow {
		t.Fatalf("expected restored TANK_LEVEL_LOW, got %+v", open)
	}
	if got := len(h.seen.on("smartfarm/farm-1/alarm")); got != 0 {
		t.Fatalf("restored alarms must not be republished, got %d", got)
	}
}

func TestEdgeRuntimeServesViewers(t *testing.T) {
	h := newEdgeHarness(t, newMemJournal())
	publishWhenReady(t, h.rt.Feed(), Reading{Field: domain.FieldPH, Value: 6.1, Timestamp: time.Now()})
	waitFor(t, "snapshot", func() bool {
		_, ok := h.rt.Snapshot().Value(domain.FieldPH)
		return ok
	})

	h.cloud.Publish("smartfarm/farm-1/request-start", []byte(`{}`))
	if got := h.rt.Viewers(); got != 1 {
		t.Fatalf("expected one viewer, got %d", got)
	}
	waitFor(t, "telemetry", func() bool { return len(h.seen.on("smartfarm/farm-1/telemetry")) > 0 })
	if len(h.seen.on("smartfarm/farm-1/status")) == 0 {
		t.Fatalf("expected a status message with the telemetry")
	}

	h.cloud.Publish("smartfarm/farm-1/request-stop", []byte(`{}`))
	if got := h.rt.Viewers(); got != 0 {
		t.Fatalf("expected no viewers, got %d", got)
	}
}

func TestEdgeRuntimeExecutesCommands(t *testing.T) {
	h := newEdgeHarness(t, newMemJournal())

	h.cloud.Publish("smartfarm/farm-1/command", []byte(`{"type":"START","logId":"c-1","programNumber":1}`))

	if st := h.rt.Status(); st.OperatingState != domain.StateRunning || st.CurrentProgram != 1 {
		t.Fatalf("expected program 1 running, got %+v", st)
	}
	acks := h.seen.on("smartfarm/farm-1/command-ack")
	if len(acks) != 1 {
		t.Fatalf("expected one ack, got %d", len(acks))
	}
	var ack map[string]any
	if err := json.Unmarshal(acks[0], &ack); err != nil {
		t.Fatalf("ack decode: %v", err)
	}
	if ack["result"] != "success" || ack["logId"] != "c-1" {
		t.Fatalf("unexpected ack: %v", ack)
	}

	h.cloud.Publish("smartfarm/farm-1/command", []byte(`{"type":"START","logId":"c-2","programNumber":9}`))
	acks = h.seen.on("smartfarm/farm-1/command-ack")
	if len(acks) != 2 {
		t.Fatalf("expected a failure ack, got %d acks", len(acks))
	}
	if err := json.Unmarshal(acks[1], &ack); err != nil {
		t.Fatalf("ack decode: %v", err)
	}
	if ack["result"] != "failure" {
		t.Fatalf("unknown program must fail, got %v", ack)
	}
}

func TestEdgeRuntimePushNow(t *testing.T) {
	h := newEdgeHarness(t, newMemJournal())
	publishWhenReady(t, h.rt.Feed(), Reading{Field: domain.FieldEC, Value: 1.8, Timestamp: time.Now()})
	waitFor(t, "snapshot", func() bool {
		_, ok := h.rt.Snapshot().Value(domain.FieldEC)
		return ok
	})

	res := h.rt.PushNow(context.Background())
	if !res.FreshSent {
		t.Fatalf("expected the fresh payload to be sent: %+v", res)
	}
	if h.sender.snapshotCount() != 1 || h.rt.PendingIngest() != 0 {
		t.Fatalf("sent %d, pending %d", h.sender.snapshotCount(), h.rt.PendingIngest())
	}

	var payload domain.IngestPayload
	if err := json.Unmarshal(h.sender.snapshots[0], &payload); err != nil {
		t.Fatalf("payload decode: %v", err)
	}
	if payload.FarmID != testFarm || payload.Sensors[domain.FieldEC] != 1.8 {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestEdgeRuntimeLifecycle(t *testing.T) {
	hub := mqtt.NewLoopback()
	edge := hub.Client()
	rt, err := NewEdgeRuntime(testEdgeConfig(),
		WithBroker(edge),
		WithIngestSender(&stubSender{}),
		WithLocalStore(&memLocalStore{}),
		WithAlarmJournal(newMemJournal()),
		WithObservability(observability.NewNop()),
		WithoutMetricsServer(),
	)
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	ctx := context.Background()
	if err := rt.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := rt.Start(ctx); err == nil {
		t.Fatalf("second start must fail")
	}
	if !edge.IsConnected() {
		t.Fatalf("expected the broker to be connected")
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rt.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if edge.IsConnected() {
		t.Fatalf("expected the broker to be closed")
	}
	if err := rt.Feed().Publish(Reading{Field: domain.FieldEC, Value: 1}); err != ErrFeedClosed {
		t.Fatalf("expected ErrFeedClosed after shutdown, got %v", err)
	}
}

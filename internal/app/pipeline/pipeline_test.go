package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/goccy/go-json"

	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/adapters/observability"
	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/adapters/queue"
	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/domain"
	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/ports"
)

func newPusher(q ports.RetryQueue, sender ports.IngestSender, store ports.LocalStore, clk clock.Clock) *IngestionPusher {
	latest := func() domain.SensorSnapshot {
		return domain.SensorSnapshot{Timestamp: clk.Now(), Values: map[string]float64{"ec": 1.8}}
	}
	status := func() domain.StatusSnapshot { return domain.StatusSnapshot{OperatingState: domain.StateIdle} }
	return NewIngestionPusher(PusherConfig{Farm: "farm-1"}, q, sender, latest, status, nil, store, clk, observability.NewNop())
}

func TestPusherFailingTransportKeepsAllPayloadsInOrder(t *testing.T) {
	q := queue.NewRetryQueue(60, nil)
	q.Enqueue(ports.RetryEntry{Payload: []byte("stale-1")})
	q.Enqueue(ports.RetryEntry{Payload: []byte("stale-2")})
	sender := &stubSender{fail: true}

	res := newPusher(q, sender, nil, clock.NewMock()).Cycle(context.Background())

	if res.Requeued != 2 || res.FreshSent {
		t.Fatalf("unexpected result: %+v", res)
	}
	out := q.DrainAll()
	if len(out) != 3 {
		t.Fatalf("expected 3 queued payloads, got %d", len(out))
	}
	if string(out[0].Payload) != "stale-1" || string(out[1].Payload) != "stale-2" {
		t.Fatalf("stale entries out of order: %q %q", out[0].Payload, out[1].Payload)
	}
	var fresh domain.IngestPayload
	if err := json.Unmarshal(out[2].Payload, &fresh); err != nil {
		t.Fatalf("fresh payload: %v", err)
	}
	if fresh.FarmID != "farm-1" || fresh.Sensors["ec"] != 1.8 || fresh.Status.OperatingState != domain.StateIdle {
		t.Fatalf("unexpected fresh payload: %+v", fresh)
	}
	if len(sender.snapshots) != 3 {
		t.Fatalf("every payload must be attempted, got %d", len(sender.snapshots))
	}
}

func TestPusherRequeueRespectsCapacity(t *testing.T) {
	q := queue.NewRetryQueue(2, nil)
	q.Enqueue(ports.RetryEntry{Payload: []byte("stale-1")})
	q.Enqueue(ports.RetryEntry{Payload: []byte("stale-2")})

	newPusher(q, &stubSender{fail: true}, nil, clock.NewMock()).Cycle(context.Background())

	out := q.DrainAll()
	if len(out) != 2 || string(out[0].Payload) != "stale-2" {
		t.Fatalf("expected oldest evicted, got %d entries", len(out))
	}
}

func TestPusherReplaysBeforeFresh(t *testing.T) {
	q := queue.NewRetryQueue(60, nil)
	q.Enqueue(ports.RetryEntry{Payload: []byte("stale-1")})
	sender := &stubSender{}
	store := &memStore{}

	res := newPusher(q, sender, store, clock.NewMock()).Cycle(context.Background())

	if res.Replayed != 1 || !res.FreshSent || q.Len() != 0 {
		t.Fatalf("unexpected result %+v, queue %d", res, q.Len())
	}
	if string(sender.snapshots[0]) != "stale-1" {
		t.Fatalf("replay must go first, got %q", sender.snapshots[0])
	}
	if len(store.logs) != 1 {
		t.Fatalf("expected the snapshot in the sensor log")
	}
}

func TestPusherTimeoutCountsAsFailure(t *testing.T) {
	q := queue.NewRetryQueue(60, nil)
	sender := &stubSender{block: true}
	p := NewIngestionPusher(PusherConfig{Farm: "farm-1", SendTimeout: 10 * time.Millisecond}, q, sender,
		func() domain.SensorSnapshot { return domain.SensorSnapshot{} }, nil, nil, nil, clock.New(), observability.NewNop())

	if res := p.Cycle(context.Background()); res.FreshSent {
		t.Fatalf("timed out send must not count as sent")
	}
	if q.Len() != 1 {
		t.Fatalf("timed out payload must be queued, got %d", q.Len())
	}
}

func TestPusherServeTicks(t *testing.T) {
	mock := clock.NewMock()
	q := queue.NewRetryQueue(60, nil)
	sender := &stubSender{}
	p := newPusher(q, sender, nil, mock)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Serve(ctx) }()

	deadline := time.Now().Add(time.Second)
	for sender.count() == 0 && time.Now().Before(deadline) {
		mock.Add(DefaultPushInterval)
		time.Sleep(time.Millisecond)
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if sender.count() == 0 {
		t.Fatalf("expected a push after one interval")
	}
}

func TestNextRun(t *testing.T) {
	d := NewDailySync(DailySyncConfig{Location: time.UTC}, &memStore{}, &stubSender{}, clock.NewMock(), observability.NewNop())

	cases := []struct{ now, want time.Time }{
		{time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 5, 1, 0, 5, 0, 0, time.UTC)},
		{time.Date(2024, 5, 1, 0, 5, 0, 0, time.UTC), time.Date(2024, 5, 2, 0, 5, 0, 0, time.UTC)},
		{time.Date(2024, 5, 1, 13, 0, 0, 0, time.UTC), time.Date(2024, 5, 2, 0, 5, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		if got := d.NextRun(tc.now); !got.Equal(tc.want) {
			t.Fatalf("NextRun(%s) = %s, want %s", tc.now, got, tc.want)
		}
	}
}

func runWithClock(t *testing.T, mock *clock.Mock, d *DailySync) error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- d.RunOnce(context.Background()) }()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case err := <-done:
			return err
		default:
			mock.Add(time.Second)
			time.Sleep(time.Millisecond)
		}
	}
	t.Fatalf("RunOnce did not finish")
	return nil
}

func syncFixture() (*clock.Mock, *memStore) {
	mock := clock.NewMock()
	mock.Set(time.Date(2024, 5, 2, 0, 5, 0, 0, time.UTC))
	store := &memStore{summaries: []domain.DailySummary{{SummaryDate: "2024-05-01", ProgramNumber: 1, RunCount: 2}}}
	return mock, store
}

func TestDailySyncSendsYesterday(t *testing.T) {
	mock, store := syncFixture()
	sender := &stubSender{}
	d := NewDailySync(DailySyncConfig{Farm: "farm-1", Location: time.UTC}, store, sender, mock, observability.NewNop())

	if err := runWithClock(t, mock, d); err != nil {
		t.Fatalf("run: %v", err)
	}
	if store.day.Format(domain.DateLayout) != "2024-05-01" {
		t.Fatalf("expected yesterday to be queried, got %s", store.day)
	}
	if len(sender.daily) != 1 {
		t.Fatalf("expected one send, got %d", len(sender.daily))
	}
	var body domain.DailySyncPayload
	if err := json.Unmarshal(sender.daily[0], &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.FarmID != "farm-1" || body.Date != "2024-05-01" || len(body.Summaries) != 1 {
		t.Fatalf("unexpected body: %+v", body)
	}
	if store.cleanups != 1 || d.State() != SyncIdle {
		t.Fatalf("expected cleanup and idle, got %d %s", store.cleanups, d.State())
	}
}

func TestDailySyncGivesUpAfterAttempts(t *testing.T) {
	mock, store := syncFixture()
	sender := &stubSender{failDaily: true}
	d := NewDailySync(DailySyncConfig{Farm: "farm-1", Location: time.UTC}, store, sender, mock, observability.NewNop())

	if err := runWithClock(t, mock, d); err == nil {
		t.Fatalf("expected give-up error")
	}
	if len(sender.daily) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(sender.daily))
	}
	if store.cleanups != 1 {
		t.Fatalf("cleanup must run after give-up")
	}
}

func TestDailySyncNoDataStillCleansUp(t *testing.T) {
	mock, store := syncFixture()
	store.summaries = nil
	sender := &stubSender{}
	d := NewDailySync(DailySyncConfig{Location: time.UTC}, store, sender, mock, observability.NewNop())

	if err := d.RunOnce(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(sender.daily) != 0 || store.cleanups != 1 {
		t.Fatalf("expected no send and one cleanup, got %d sends %d cleanups", len(sender.daily), store.cleanups)
	}
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestDailySyncServeRearmsAfterGivingUp(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	store := &memStore{summaries: []domain.DailySummary{{SummaryDate: "2024-04-30", ProgramNumber: 1, RunCount: 1}}}
	sender := &stubSender{failDaily: true, clk: mock}
	d := NewDailySync(DailySyncConfig{Farm: "farm-1", Location: time.UTC}, store, sender, mock, observability.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Serve(ctx) }()

	attempts := func(n int) func() bool {
		return func() bool { return len(sender.dailyTimes()) == n }
	}
	inState := func(s SyncState) func() bool {
		return func() bool { return d.State() == s }
	}

	waitUntil(t, "first schedule", inState(SyncScheduled))
	mock.Add(12*time.Hour + 5*time.Minute)
	waitUntil(t, "first attempt", func() bool { return attempts(1)() && inState(SyncRetrying)() })
	mock.Add(30 * time.Second)
	waitUntil(t, "second attempt", func() bool { return attempts(2)() && inState(SyncRetrying)() })
	mock.Add(30 * time.Second)
	waitUntil(t, "re-arm after give-up", func() bool {
		return attempts(3)() && store.cleanupCount() == 1 && inState(SyncScheduled)()
	})

	day1 := time.Date(2024, 5, 2, 0, 5, 0, 0, time.UTC)
	want := []time.Time{day1, day1.Add(30 * time.Second), day1.Add(time.Minute)}
	got := sender.dailyTimes()
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Fatalf("attempt %d at %s, want %s", i+1, got[i], want[i])
		}
	}

	day2 := day1.AddDate(0, 0, 1)
	mock.Add(day2.Sub(mock.Now()))
	waitUntil(t, "next day's run", attempts(4))
	if at := sender.dailyTimes()[3]; !at.Equal(day2) {
		t.Fatalf("second run at %s, want %s", at, day2)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestSensorLoopHandle(t *testing.T) {
	latest := &Latest{}
	eval := &countingEvaluator{}
	loop := NewSensorLoop(nil, latest, nil, eval, 0, observability.NewNop())

	loop.Handle(domain.Reading{Field: "ec", Value: 1.1, Timestamp: time.Unix(1, 0)})
	loop.Handle(domain.Reading{Field: "ph", Value: 6.2, Timestamp: time.Unix(2, 0)})

	snap := latest.Snapshot()
	if snap.Values["ec"] != 1.1 || snap.Values["ph"] != 6.2 || !snap.Timestamp.Equal(time.Unix(2, 0)) {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if len(eval.seen) != 2 || len(eval.seen[1].Values) != 2 {
		t.Fatalf("evaluator must see every update, got %+v", eval.seen)
	}
}

type countingEvaluator struct{ seen []domain.SensorSnapshot }

func (c *countingEvaluator) Evaluate(s domain.SensorSnapshot) []domain.AlarmRecord {
	c.seen = append(c.seen, s)
	return nil
}

type stubSender struct {
	mu        sync.Mutex
	fail      bool
	failDaily bool
	block     bool
	snapshots [][]byte
	daily     [][]byte
	clk       clock.Clock
	dailyAt   []time.Time
}

func (s *stubSender) SendSnapshot(ctx context.Context, body []byte) error {
	s.mu.Lock()
	s.snapshots = append(s.snapshots, body)
	fail, block := s.fail, s.block
	s.mu.Unlock()
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	if fail {
		return errors.New("link down")
	}
	return nil
}

func (s *stubSender) SendDailySummaries(_ context.Context, body []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.daily = append(s.daily, body)
	if s.clk != nil {
		s.dailyAt = append(s.dailyAt, s.clk.Now())
	}
	if s.failDaily {
		return errors.New("link down")
	}
	return nil
}

func (s *stubSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.snapshots)
}

func (s *stubSender) dailyTimes() []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Time(nil), s.dailyAt...)
}

type memStore struct {
	mu        sync.Mutex
	logs      []domain.SensorSnapshot
	summaries []domain.DailySummary
	day       time.Time
	cleanups  int
}

func (m *memStore) AppendSensorLog(_ context.Context, s domain.SensorSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, s)
	return nil
}

func (m *memStore) RecordRun(context.Context, domain.IrrigationRun) error { return nil }

func (m *memStore) DailySummaries(_ context.Context, day time.Time) ([]domain.DailySummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.day = day
	return m.summaries, nil
}

func (m *memStore) Cleanup(context.Context, time.Time, ports.RetentionPolicy) (ports.CleanupStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleanups++
	return ports.CleanupStats{}, nil
}

func (m *memStore) cleanupCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cleanups
}

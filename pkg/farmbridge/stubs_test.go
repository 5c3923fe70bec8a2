package farmbridge

import (
	"context"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/domain"
	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/ports"
)

const testFarm = domain.FarmID("farm-1")

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// publishWhenReady retries until the sensor loop has attached the feed.
func publishWhenReady(t *testing.T, feed *FeedCollector, r Reading) {
	t.Helper()
	var err error
	waitFor(t, "feed attach", func() bool {
		err = feed.Publish(r)
		return err != ErrFeedNotStarted
	})
	if err != nil {
		t.Fatalf("publish %s: %v", r.Field, err)
	}
}

func floatPtr(v float64) *float64 { return &v }

func testEdgeConfig() *EdgeConfig {
	cfg := &EdgeConfig{
		FarmID: string(testFarm),
		System: domain.SystemConfig{SetEC: floatPtr(2.0), SetPH: floatPtr(6.0)},
		Programs: []domain.Program{
			{Number: 1, Name: "leafy", DurationSeconds: 60, Valves: []int{1, 2}, Enabled: true},
		},
	}
	cfg.MQTT.Broker = "tcp://127.0.0.1:1883"
	cfg.Ingest.BaseURL = "http://127.0.0.1:8080"
	cfg.Ingest.Secret = "s3cret"
	cfg.ApplyDefaults()
	return cfg
}

func testCloudConfig() *CloudConfig {
	cfg := &CloudConfig{}
	cfg.MQTT.Broker = "tcp://127.0.0.1:1883"
	cfg.Postgres.DSN = "postgres://unused"
	cfg.ApplyDefaults()
	return cfg
}

type memLocalStore struct {
	mu   sync.Mutex
	logs []domain.SensorSnapshot
	runs []domain.IrrigationRun
}

func (m *memLocalStore) AppendSensorLog(_ context.Context, s domain.SensorSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, s)
	return nil
}

func (m *memLocalStore) RecordRun(_ context.Context, run domain.IrrigationRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, run)
	return nil
}

func (m *memLocalStore) DailySummaries(context.Context, time.Time) ([]domain.DailySummary, error) {
	return nil, nil
}

func (m *memLocalStore) Cleanup(context.Context, time.Time, ports.RetentionPolicy) (ports.CleanupStats, error) {
	return ports.CleanupStats{}, nil
}

type memJournal struct {
	mu     sync.Mutex
	nextID uint64
	open   map[uint64]domain.AlarmRecord
}

func newMemJournal(preloaded ...domain.AlarmRecord) *memJournal {
	j := &memJournal{open: make(map[uint64]domain.AlarmRecord)}
	for _, r := range preloaded {
		j.nextID++
		r.ID = j.nextID
		j.open[r.ID] = r
	}
	return j
}

func (j *memJournal) Open(rec domain.AlarmRecord) (domain.AlarmRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.nextID++
	rec.ID = j.nextID
	j.open[rec.ID] = rec
	return rec, nil
}

func (j *memJournal) Resolve(id uint64, _ time.Time) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.open, id)
	return nil
}

func (j *memJournal) OpenAlarms() ([]domain.AlarmRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []domain.AlarmRecord
	for id := uint64(1); id <= j.nextID; id++ {
		if r, ok := j.open[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (j *memJournal) Stats() ports.JournalStats {
	j.mu.Lock()
	defer j.mu.Unlock()
	return ports.JournalStats{LatestID: j.nextID, OpenCount: len(j.open)}
}

type stubSender struct {
	mu        sync.Mutex
	snapshots [][]byte
	daily     [][]byte
}

func (s *stubSender) SendSnapshot(_ context.Context, body []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = append(s.snapshots, body)
	return nil
}

func (s *stubSender) SendDailySummaries(_ context.Context, body []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.daily = append(s.daily, body)
	return nil
}

func (s *stubSender) snapshotCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.snapshots)
}

type stubProbe struct{}

func (stubProbe) Collect(context.Context) (domain.SystemMetrics, error) {
	return domain.SystemMetrics{}, nil
}

func hashFor(secret string) string {
	h, _ := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.MinCost)
	return string(h)
}

type memCloudStore struct {
	mu        sync.Mutex
	farms     map[domain.FarmID]domain.Farm
	telemetry []map[string]float64
	statuses  []domain.StatusSnapshot
	alarms    []domain.AlarmRecord
	resolved  []domain.AlarmType
	commands  []domain.Command
	acks      []domain.CommandAck
	lastSeen  map[domain.FarmID]time.Time
	online    map[domain.FarmID]bool
}

func newMemCloudStore(farms ...domain.Farm) *memCloudStore {
	s := &memCloudStore{
		farms:    make(map[domain.FarmID]domain.Farm),
		lastSeen: make(map[domain.FarmID]time.Time),
		online:   make(map[domain.FarmID]bool),
	}
	for _, f := range farms {
		s.farms[f.ID] = f
	}
	return s
}

func (s *memCloudStore) LookupFarm(_ context.Context, id domain.FarmID) (domain.Farm, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.farms[id]
	return f, ok, nil
}

func (s *memCloudStore) SaveTelemetry(_ context.Context, _ domain.FarmID, _ time.Time, sensors map[string]float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.telemetry = append(s.telemetry, sensors)
	return nil
}

func (s *memCloudStore) SaveStatus(_ context.Context, _ domain.FarmID, st domain.StatusSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, st)
	return nil
}

func (s *memCloudStore) SaveAlarm(_ context.Context, _ domain.FarmID, rec domain.AlarmRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alarms = append(s.alarms, rec)
	return nil
}

func (s *memCloudStore) ResolveAlarm(_ context.Context, _ domain.FarmID, typ domain.AlarmType, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resolved = append(s.resolved, typ)
	return nil
}

func (s *memCloudStore) RecordCommand(_ context.Context, _ domain.FarmID, cmd domain.Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands = append(s.commands, cmd)
	return nil
}

func (s *memCloudStore) AckCommand(_ context.Context, _ domain.FarmID, ack domain.CommandAck) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acks = append(s.acks, ack)
	return nil
}

func (s *memCloudStore) TouchLastSeen(_ context.Context, id domain.FarmID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSeen[id] = at
	return nil
}

func (s *memCloudStore) UpsertDailySummaries(context.Context, domain.FarmID, []domain.DailySummary) error {
	return nil
}

func (s *memCloudStore) ListLiveness(context.Context) ([]domain.FarmLiveness, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.FarmLiveness
	for id := range s.farms {
		l := domain.FarmLiveness{ID: id, Online: s.online[id]}
		if at, ok := s.lastSeen[id]; ok {
			at := at
			l.LastSeenAt = &at
		}
		out = append(out, l)
	}
	return out, nil
}

func (s *memCloudStore) SetOnline(_ context.Context, id domain.FarmID, online bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.online[id] = online
	return nil
}

// snapshot copies the recorded state under the lock.
func (s *memCloudStore) snapshot() (alarms []domain.AlarmRecord, acks []domain.CommandAck, telemetry int, statuses int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.AlarmRecord(nil), s.alarms...), append([]domain.CommandAck(nil), s.acks...), len(s.telemetry), len(s.statuses)
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) add(_ context.Context, ev Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
	return nil
}

func (l *eventLog) kinds() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.events))
	for _, ev := range l.events {
		out = append(out, ev.Kind)
	}
	return out
}

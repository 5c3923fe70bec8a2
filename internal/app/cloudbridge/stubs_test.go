package cloudbridge

import (
	"context"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/domain"
)

func hashFor(secret string) string {
	h, _ := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.MinCost)
	return string(h)
}

type summaryKey struct {
	farm    domain.FarmID
	date    string
	program int
}

type memCloudStore struct {
	mu        sync.Mutex
	farms     map[domain.FarmID]domain.Farm
	lookups   int
	telemetry []map[string]float64
	statuses  []domain.StatusSnapshot
	alarms    []domain.AlarmRecord
	resolved  []domain.AlarmType
	commands  []domain.Command
	acks      []domain.CommandAck
	lastSeen  map[domain.FarmID]time.Time
	summaries map[summaryKey]domain.DailySummary
}

func newMemCloudStore(farms ...domain.Farm) *memCloudStore {
	s := &memCloudStore{
		farms:     make(map[domain.FarmID]domain.Farm),
		lastSeen:  make(map[domain.FarmID]time.Time),
		summaries: make(map[summaryKey]domain.DailySummary),
	}
	for _, f := range farms {
		s.farms[f.ID] = f
	}
	return s
}

func (s *memCloudStore) LookupFarm(_ context.Context, id domain.FarmID) (domain.Farm, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups++
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

func (s *memCloudStore) UpsertDailySummaries(_ context.Context, id domain.FarmID, rows []domain.DailySummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rows {
		s.summaries[summaryKey{id, r.SummaryDate, r.ProgramNumber}] = r
	}
	return nil
}

func (s *memCloudStore) ListLiveness(context.Context) ([]domain.FarmLiveness, error) { return nil, nil }

func (s *memCloudStore) SetOnline(context.Context, domain.FarmID, bool) error { return nil }

type fanRecorder struct {
	mu     sync.Mutex
	events []string
}

func (f *fanRecorder) Broadcast(_ context.Context, farm domain.FarmID, event string, _ []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, string(farm)+":"+event)
	return nil
}

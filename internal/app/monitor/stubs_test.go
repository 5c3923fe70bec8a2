package monitor

import (
	"context"
	"sync"

	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/domain"
)

type livenessStore struct {
	mu    sync.Mutex
	farms []domain.FarmLiveness
	err   error
	set   map[domain.FarmID]bool
	calls int
}

func (s *livenessStore) ListLiveness(context.Context) ([]domain.FarmLiveness, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.farms, s.err
}

func (s *livenessStore) SetOnline(_ context.Context, id domain.FarmID, online bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.set == nil {
		s.set = make(map[domain.FarmID]bool)
	}
	s.set[id] = online
	return nil
}

func (s *livenessStore) lists() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type eventSink struct {
	events map[domain.FarmID]string
}

func (e *eventSink) Broadcast(_ context.Context, farm domain.FarmID, event string, _ []byte) error {
	if e.events == nil {
		e.events = make(map[domain.FarmID]string)
	}
	e.events[farm] = event
	return nil
}

package pipeline

import (
	"context"
	"sync"

	"github.com/thejerf/suture/v4"

	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/domain"
	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/ports"
)

// Latest is the edge node's current sensor snapshot, overwritten field by field.
type Latest struct {
	mu   sync.RWMutex
	snap domain.SensorSnapshot
}

// Apply stores r and returns a copy of the updated snapshot.
func (l *Latest) Apply(r domain.Reading) domain.SensorSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.snap.Values == nil {
		l.snap.Values = make(map[string]float64)
	}
	l.snap.Values[r.Field] = r.Value
	if r.Timestamp.After(l.snap.Timestamp) {
		l.snap.Timestamp = r.Timestamp
	}
	return l.snap.Clone()
}

// Snapshot returns a copy of the current values.
func (l *Latest) Snapshot() domain.SensorSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snap.Clone()
}

// Evaluator is the alarm engine as seen by the sensor loop.
type Evaluator interface {
	Evaluate(snap domain.SensorSnapshot) []domain.AlarmRecord
}

// SensorLoop feeds collector readings into the snapshot, the controller's
// run accounting and the alarm engine.
type SensorLoop struct {
	col    ports.Collector
	latest *Latest
	ctrl   ports.Controller
	alarms Evaluator
	buffer int
	obs    ports.Observability
}

func NewSensorLoop(col ports.Collector, latest *Latest, ctrl ports.Controller, alarms Evaluator, buffer int, obs ports.Observability) *SensorLoop {
	if buffer <= 0 {
		buffer = 256
	}
	return &SensorLoop{col: col, latest: latest, ctrl: ctrl, alarms: alarms, buffer: buffer, obs: obs}
}

func (s *SensorLoop) Serve(ctx context.Context) error {
	ch := make(chan domain.Reading, s.buffer)
	if err := s.col.Start(ch); err != nil {
		return err
	}
	defer func() {
		if err := s.col.Stop(); err != nil {
			s.obs.LogError("collector_stop_failed", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case r, ok := <-ch:
			if !ok {
				return suture.ErrDoNotRestart
			}
			s.Handle(r)
		}
	}
}

// Handle applies one reading.
func (s *SensorLoop) Handle(r domain.Reading) {
	snap := s.latest.Apply(r)
	if s.ctrl != nil {
		s.ctrl.Observe(snap)
	}
	if s.alarms != nil {
		s.alarms.Evaluate(snap)
	}
}

func (s *SensorLoop) String() string { return "sensor-loop" }

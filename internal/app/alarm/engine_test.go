package alarm

import (
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/adapters/observability"
	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/domain"
	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/ports"
)

func snapshot(values map[string]float64) domain.SensorSnapshot {
	return domain.SensorSnapshot{Values: values}
}

func newTestEngine(setpoints map[string]float64) (*Engine, *memJournal, *recPublisher, *clock.Mock) {
	j := newMemJournal()
	pub := &recPublisher{up: true}
	clk := clock.NewMock()
	e := NewEngine(DefaultRules(), j, pub, func() map[string]float64 { return setpoints }, clk, observability.NewNop())
	return e, j, pub, clk
}

func TestECHighOpensAndResolves(t *testing.T) {
	e, j, pub, _ := newTestEngine(map[string]float64{"ec": 2.0})

	changed := e.Evaluate(snapshot(map[string]float64{"ec": 4.2}))
	if len(changed) != 1 || changed[0].Type != domain.AlarmECHigh || changed[0].Threshold != 3.0 || !changed[0].Open() {
		t.Fatalf("expected open EC_HIGH with threshold 3.0, got %+v", changed)
	}
	if len(pub.events) != 1 {
		t.Fatalf("alarm must be published, got %d events", len(pub.events))
	}

	changed = e.Evaluate(snapshot(map[string]float64{"ec": 2.5}))
	if len(changed) != 1 || changed[0].Type != domain.AlarmECHigh || changed[0].Open() {
		t.Fatalf("expected EC_HIGH to resolve, got %+v", changed)
	}
	if len(e.OpenAlarms()) != 0 {
		t.Fatalf("open index must be empty")
	}
	if open, _ := j.OpenAlarms(); len(open) != 0 {
		t.Fatalf("journal must have no open records, got %+v", open)
	}
	if len(pub.events) != 2 || pub.events[1].ResolvedAt == nil {
		t.Fatalf("resolve must be published with resolvedAt, got %+v", pub.events)
	}
}

func TestExceedExceedClearExceedCreatesTwoRecords(t *testing.T) {
	e, j, _, _ := newTestEngine(map[string]float64{"ec": 2.0})

	for _, ec := range []float64{4.0, 4.5, 2.0, 3.5} {
		e.Evaluate(snapshot(map[string]float64{"ec": ec}))
	}

	if len(j.log) != 3 {
		t.Fatalf("expected open, resolve, open in the journal, got %v", j.log)
	}
	if j.log[0] != "open:1" || j.log[1] != "resolve:1" || j.log[2] != "open:2" {
		t.Fatalf("first record must be resolved before the second is created, got %v", j.log)
	}
	if open := e.OpenAlarms(); len(open) != 1 || open[0].ID != 2 {
		t.Fatalf("expected record 2 open, got %+v", open)
	}
}

func TestMissingFieldSkipsType(t *testing.T) {
	e, _, _, _ := newTestEngine(map[string]float64{"ec": 2.0, "ph": 6.0})

	e.Evaluate(snapshot(map[string]float64{"ec": 4.2, "ph": 6.0}))
	// ec missing: EC_HIGH must stay open rather than auto-resolve
	changed := e.Evaluate(snapshot(map[string]float64{"ph": 6.1}))
	if len(changed) != 0 {
		t.Fatalf("expected no changes, got %+v", changed)
	}
	if open := e.OpenAlarms(); len(open) != 1 || open[0].Type != domain.AlarmECHigh {
		t.Fatalf("EC_HIGH must stay open, got %+v", open)
	}
}

func TestMissingSetpointSkipsRelativeRules(t *testing.T) {
	e, _, _, _ := newTestEngine(nil)

	changed := e.Evaluate(snapshot(map[string]float64{"ec": 9.9, "ph": 1.0, "tank_level": 3}))
	if len(changed) != 1 || changed[0].Type != domain.AlarmTankLevelLow {
		t.Fatalf("only the absolute rule should fire, got %+v", changed)
	}
}

func TestTypesEvaluatedIndependently(t *testing.T) {
	e, _, _, _ := newTestEngine(map[string]float64{"ec": 2.0, "ph": 6.0})

	changed := e.Evaluate(snapshot(map[string]float64{"ec": 0.5, "ph": 7.5, "water_temp": 31, "tank_level": 10}))
	got := map[domain.AlarmType]bool{}
	for _, r := range changed {
		got[r.Type] = true
	}
	for _, want := range []domain.AlarmType{domain.AlarmECLow, domain.AlarmPHHigh, domain.AlarmWaterTempHigh} {
		if !got[want] {
			t.Fatalf("expected %s in %+v", want, changed)
		}
	}
	if got[domain.AlarmTankLevelLow] {
		t.Fatalf("value equal to the threshold must not alarm")
	}
}

func TestRestorePreventsDuplicateOpen(t *testing.T) {
	j := newMemJournal()
	prior, _ := j.Open(domain.AlarmRecord{Type: domain.AlarmECHigh, Value: 4, Threshold: 3})

	e := NewEngine(nil, j, &recPublisher{up: true}, func() map[string]float64 { return map[string]float64{"ec": 2} }, clock.NewMock(), observability.NewNop())
	if err := e.Restore(); err != nil {
		t.Fatalf("restore: %v", err)
	}

	if changed := e.Evaluate(snapshot(map[string]float64{"ec": 4.4})); len(changed) != 0 {
		t.Fatalf("restored alarm must not be raised again, got %+v", changed)
	}
	changed := e.Evaluate(snapshot(map[string]float64{"ec": 2.1}))
	if len(changed) != 1 || changed[0].ID != prior.ID {
		t.Fatalf("expected restored record %d to resolve, got %+v", prior.ID, changed)
	}
}

func TestRestoreResolvesDuplicateOpenRecords(t *testing.T) {
	j := newMemJournal()
	older, _ := j.Open(domain.AlarmRecord{Type: domain.AlarmPHLow})
	newer, _ := j.Open(domain.AlarmRecord{Type: domain.AlarmPHLow})

	e := NewEngine(nil, j, nil, nil, clock.NewMock(), observability.NewNop())
	if err := e.Restore(); err != nil {
		t.Fatalf("restore: %v", err)
	}
	open := e.OpenAlarms()
	if len(open) != 1 || open[0].ID != newer.ID {
		t.Fatalf("expected newest record to win, got %+v", open)
	}
	if _, stillOpen := j.open[older.ID]; stillOpen {
		t.Fatalf("older duplicate must be resolved in the journal")
	}
}

func TestRestoreJournalError(t *testing.T) {
	j := newMemJournal()
	j.err = errors.New("boom")
	e := NewEngine(nil, j, nil, nil, nil, observability.NewNop())
	if err := e.Restore(); err == nil {
		t.Fatalf("expected restore error")
	}
}

func TestPendingEventsFlushOnReconnect(t *testing.T) {
	e, _, pub, clk := newTestEngine(map[string]float64{"ec": 2.0})
	pub.up = false

	e.Evaluate(snapshot(map[string]float64{"ec": 4.0}))
	clk.Add(time.Minute)
	e.Evaluate(snapshot(map[string]float64{"ec": 2.0}))
	if e.Pending() != 2 {
		t.Fatalf("expected 2 pending events, got %d", e.Pending())
	}

	pub.up = true
	if sent := e.FlushPending(); sent != 2 {
		t.Fatalf("expected 2 flushed events, got %d", sent)
	}
	if len(pub.events) != 2 || pub.events[0].ResolvedAt != nil || pub.events[1].ResolvedAt == nil {
		t.Fatalf("events must flush in order, got %+v", pub.events)
	}
}

func TestJournalFailureStillTracksAlarm(t *testing.T) {
	e, j, pub, _ := newTestEngine(nil)
	j.err = errors.New("disk full")

	e.Evaluate(snapshot(map[string]float64{"tank_level": 1}))
	if changed := e.Evaluate(snapshot(map[string]float64{"tank_level": 1})); len(changed) != 0 {
		t.Fatalf("alarm must not be raised twice, got %+v", changed)
	}
	if len(pub.events) != 1 {
		t.Fatalf("alarm must still be published, got %d", len(pub.events))
	}
}

func TestRuleValidate(t *testing.T) {
	for _, r := range DefaultRules() {
		if err := r.Validate(); err != nil {
			t.Fatalf("default rule %s invalid: %v", r.Type, err)
		}
	}
	bad := []Rule{
		{Type: "X", Field: "ec", Direction: "sideways", Absolute: abs(1)},
		{Type: "X", Field: "ec", Direction: Above},
		{Type: "X", Field: "ec", Direction: Above, Absolute: abs(1), Setpoint: "ec"},
		{Field: "ec", Direction: Above, Absolute: abs(1)},
	}
	for i, r := range bad {
		if err := r.Validate(); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
}

type recPublisher struct {
	up     bool
	events []domain.AlarmRecord
}

func (p *recPublisher) PublishAlarm(rec domain.AlarmRecord) bool {
	if !p.up {
		return false
	}
	p.events = append(p.events, rec)
	return true
}

type memJournal struct {
	nextID uint64
	open   map[uint64]domain.AlarmRecord
	log    []string
	err    error
}

func newMemJournal() *memJournal {
	return &memJournal{open: make(map[uint64]domain.AlarmRecord)}
}

func (m *memJournal) Open(rec domain.AlarmRecord) (domain.AlarmRecord, error) {
	if m.err != nil {
		return domain.AlarmRecord{}, m.err
	}
	m.nextID++
	rec.ID = m.nextID
	m.open[rec.ID] = rec
	m.log = append(m.log, "open:"+itoa(rec.ID))
	return rec, nil
}

func (m *memJournal) Resolve(id uint64, _ time.Time) error {
	if m.err != nil {
		return m.err
	}
	delete(m.open, id)
	m.log = append(m.log, "resolve:"+itoa(id))
	return nil
}

func (m *memJournal) OpenAlarms() ([]domain.AlarmRecord, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []domain.AlarmRecord
	for id := uint64(1); id <= m.nextID; id++ {
		if r, ok := m.open[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memJournal) Stats() ports.JournalStats { return ports.JournalStats{OpenCount: len(m.open)} }

func itoa(v uint64) string { return strconv.FormatUint(v, 10) }

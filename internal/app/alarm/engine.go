package alarm

import (
	"sync"

	"github.com/benbjohnson/clock"

	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/domain"
	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/ports"
)

// Publisher delivers alarm events. It returns false when the event could not
// be handed to the transport.
type Publisher interface {
	PublishAlarm(rec domain.AlarmRecord) bool
}

// maxPending bounds events held back while the broker is unreachable.
const maxPending = 100

// Engine evaluates snapshots against the rule table and keeps at most one
// open record per alarm type.
type Engine struct {
	mu        sync.Mutex
	rules     []Rule
	journal   ports.AlarmJournal
	pub       Publisher
	setpoints func() map[string]float64
	clk       clock.Clock
	obs       ports.Observability

	open    map[domain.AlarmType]domain.AlarmRecord
	pending []domain.AlarmRecord
}

func NewEngine(rules []Rule, journal ports.AlarmJournal, pub Publisher, setpoints func() map[string]float64, clk clock.Clock, obs ports.Observability) *Engine {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	if clk == nil {
		clk = clock.New()
	}
	if setpoints == nil {
		setpoints = func() map[string]float64 { return nil }
	}
	return &Engine{
		rules:     rules,
		journal:   journal,
		pub:       pub,
		setpoints: setpoints,
		clk:       clk,
		obs:       obs,
		open:      make(map[domain.AlarmType]domain.AlarmRecord),
	}
}

// Restore rebuilds the open-alarm index from the journal. If the journal holds
// more than one open record of a type the newest wins and the rest are resolved.
func (e *Engine) Restore() error {
	recs, err := e.journal.OpenAlarms()
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clk.Now()
	for _, rec := range recs {
		if prev, ok := e.open[rec.Type]; ok {
			if err := e.journal.Resolve(prev.ID, now); err != nil {
				e.obs.LogError("alarm_restore_resolve_failed", err, ports.Field{Key: "id", Value: prev.ID})
			}
		}
		e.open[rec.Type] = rec
	}
	e.obs.SetGauge("farm_open_alarms", float64(len(e.open)))
	if len(recs) > 0 {
		e.obs.LogInfo("alarm_index_restored", ports.Field{Key: "open", Value: len(e.open)})
	}
	return nil
}

// Evaluate checks every rule independently and returns the records it opened
// or resolved. A rule whose field or setpoint is missing is skipped.
func (e *Engine) Evaluate(snap domain.SensorSnapshot) []domain.AlarmRecord {
	setpoints := e.setpoints()

	e.mu.Lock()
	defer e.mu.Unlock()

	var changed []domain.AlarmRecord
	for _, rule := range e.rules {
		value, ok := snap.Value(rule.Field)
		if !ok {
			continue
		}
		threshold, ok := rule.Threshold(setpoints)
		if !ok {
			continue
		}

		current, isOpen := e.open[rule.Type]
		switch exceeded := rule.Exceeded(value, threshold); {
		case exceeded && !isOpen:
			changed = append(changed, e.openLocked(rule, value, threshold, snap))
		case !exceeded && isOpen:
			changed = append(changed, e.resolveLocked(current))
		}
	}
	e.obs.SetGauge("farm_open_alarms", float64(len(e.open)))
	return changed
}

func (e *Engine) openLocked(rule Rule, value, threshold float64, snap domain.SensorSnapshot) domain.AlarmRecord {
	at := snap.Timestamp
	if at.IsZero() {
		at = e.clk.Now()
	}
	rec := domain.AlarmRecord{
		Type:       rule.Type,
		Value:      value,
		Threshold:  threshold,
		Message:    rule.message(value, threshold),
		OccurredAt: at,
	}
	stored, err := e.journal.Open(rec)
	if err != nil {
		// keep tracking it in memory so the alarm is not raised again every cycle
		e.obs.LogCritical("alarm_journal_open_failed", err, ports.Field{Key: "type", Value: rule.Type})
	} else {
		rec = stored
	}
	e.open[rule.Type] = rec
	e.obs.IncCounter("farm_alarms_opened_total", 1)
	e.obs.LogWarn("alarm_opened",
		ports.Field{Key: "type", Value: rec.Type},
		ports.Field{Key: "value", Value: value},
		ports.Field{Key: "threshold", Value: threshold})
	e.publishLocked(rec)
	return rec
}

func (e *Engine) resolveLocked(rec domain.AlarmRecord) domain.AlarmRecord {
	now := e.clk.Now()
	if rec.ID != 0 {
		if err := e.journal.Resolve(rec.ID, now); err != nil {
			e.obs.LogCritical("alarm_journal_resolve_failed", err, ports.Field{Key: "type", Value: rec.Type})
		}
	}
	rec.ResolvedAt = &now
	delete(e.open, rec.Type)
	e.obs.IncCounter("farm_alarms_resolved_total", 1)
	e.obs.LogInfo("alarm_resolved", ports.Field{Key: "type", Value: rec.Type})
	e.publishLocked(rec)
	return rec
}

func (e *Engine) publishLocked(rec domain.AlarmRecord) {
	if e.pub != nil && e.pub.PublishAlarm(rec) {
		return
	}
	if len(e.pending) >= maxPending {
		e.pending = e.pending[1:]
	}
	e.pending = append(e.pending, rec)
}

// FlushPending republishes events that could not be sent, oldest first, and
// stops at the first one the transport refuses again.
func (e *Engine) FlushPending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	sent := 0
	for len(e.pending) > 0 {
		if e.pub == nil || !e.pub.PublishAlarm(e.pending[0]) {
			break
		}
		e.pending = e.pending[1:]
		sent++
	}
	return sent
}

// OpenAlarms returns a copy of the open-alarm index.
func (e *Engine) OpenAlarms() []domain.AlarmRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.AlarmRecord, 0, len(e.open))
	for _, r := range e.open {
		out = append(out, r)
	}
	return out
}

// Pending reports how many events wait for the broker.
func (e *Engine) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

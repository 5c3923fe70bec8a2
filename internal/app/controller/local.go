package controller

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/goccy/go-json"

	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/domain"
	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/ports"
)

var (
	ErrEmergencyStop  = errors.New("emergency stop active")
	ErrUnknownProgram = errors.New("unknown program")
	ErrUnknownCommand = errors.New("unknown command")
	ErrBadParams      = errors.New("invalid command parameters")
)

// Manual devices addressable by the MANUAL command.
const (
	DeviceSupplyPump = "supplyPump"
	DeviceDrainPump  = "drainPump"
	DeviceMixer      = "mixer"
)

var _ ports.Controller = (*Local)(nil)

// Local is the in-process irrigation controller. It keeps the operating state,
// accounts flows of the running program and writes finished runs to the store.
type Local struct {
	mu    sync.Mutex
	store ports.LocalStore
	clk   clock.Clock
	obs   ports.Observability

	state      domain.OperatingState
	program    int
	estop      bool
	supplyPump bool
	drainPump  bool
	mixer      bool

	system   domain.SystemConfig
	programs map[int]domain.Program

	totals    domain.DailyTotals
	totalsDay string
	loc       *time.Location
	run       *runAcc
}

type Option func(*Local)

// WithLocation sets the zone whose midnight resets the daily totals.
func WithLocation(loc *time.Location) Option {
	return func(c *Local) {
		if loc != nil {
			c.loc = loc
		}
	}
}

type runAcc struct {
	program    int
	startedAt  time.Time
	setEC      *float64
	setPH      *float64
	ecSum      float64
	ecN        int
	phSum      float64
	phN        int
	supply     float64
	drain      float64
	valves     map[string]float64
	lastSample time.Time
}

func NewLocal(store ports.LocalStore, system domain.SystemConfig, programs []domain.Program, clk clock.Clock, obs ports.Observability, opts ...Option) *Local {
	if clk == nil {
		clk = clock.New()
	}
	c := &Local{
		store:    store,
		clk:      clk,
		obs:      obs,
		state:    domain.StateIdle,
		system:   system,
		programs: make(map[int]domain.Program, len(programs)),
		loc:      time.Local,
	}
	for _, opt := range opts {
		opt(c)
	}
	for _, p := range programs {
		c.programs[p.Number] = p
	}
	c.totalsDay = clk.Now().In(c.loc).Format(domain.DateLayout)
	return c
}

func (c *Local) Execute(ctx context.Context, cmd domain.Command) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rolloverLocked()

	switch cmd.Type {
	case domain.CmdEmergencyStop:
		c.finishRunLocked(ctx)
		c.estop = true
		c.state = domain.StateEmergencyStop
		c.supplyPump, c.drainPump, c.mixer = false, false, false
		c.obs.LogWarn("emergency_stop_engaged", ports.Field{Key: "log_id", Value: cmd.LogID})
		return nil

	case domain.CmdResetEmergency:
		if !c.estop {
			return nil
		}
		c.estop = false
		c.state = domain.StateIdle
		c.obs.LogInfo("emergency_stop_reset")
		return nil

	case domain.CmdStart:
		if c.estop {
			return ErrEmergencyStop
		}
		number, ok := cmd.Int("programNumber")
		if !ok {
			number = c.program
		}
		prog, ok := c.programs[number]
		if !ok {
			return fmt.Errorf("%w: %d", ErrUnknownProgram, number)
		}
		if c.run != nil {
			if c.run.program == number {
				return nil
			}
			c.finishRunLocked(ctx)
		}
		c.startRunLocked(prog)
		return nil

	case domain.CmdStop:
		c.finishRunLocked(ctx)
		if !c.estop {
			c.state = domain.StateIdle
		}
		c.supplyPump, c.drainPump, c.mixer = false, false, false
		return nil

	case domain.CmdManual:
		if c.estop {
			return ErrEmergencyStop
		}
		device, ok := cmd.String("device")
		if !ok {
			return fmt.Errorf("%w: device is required", ErrBadParams)
		}
		on, ok := cmd.Bool("on")
		if !ok {
			return fmt.Errorf("%w: on is required", ErrBadParams)
		}
		return c.manualLocked(device, on)

	case domain.CmdUpdateProgram:
		prog, err := programFromParams(cmd.Params)
		if err != nil {
			return err
		}
		c.programs[prog.Number] = prog
		return nil

	default:
		return fmt.Errorf("%w: %s", ErrUnknownCommand, cmd.Type)
	}
}

// ApplyConfig merges setpoints field by field and upserts the program.
func (c *Local) ApplyConfig(_ context.Context, update domain.ConfigUpdate) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if update.Program != nil && update.Program.Number <= 0 {
		return fmt.Errorf("%w: programNumber must be positive", ErrBadParams)
	}
	if sc := update.SystemConfig; sc != nil {
		if sc.SetEC != nil {
			v := *sc.SetEC
			c.system.SetEC = &v
		}
		if sc.SetPH != nil {
			v := *sc.SetPH
			c.system.SetPH = &v
		}
	}
	if update.Program != nil {
		c.programs[update.Program.Number] = *update.Program
	}
	return nil
}

// Observe accumulates averages and integrates flow rates (liters per minute)
// while a program runs.
func (c *Local) Observe(snap domain.SensorSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rolloverLocked()

	r := c.run
	if r == nil {
		return
	}
	at := snap.Timestamp
	if at.IsZero() {
		at = c.clk.Now()
	}
	if v, ok := snap.Value(domain.FieldEC); ok {
		r.ecSum += v
		r.ecN++
	}
	if v, ok := snap.Value(domain.FieldPH); ok {
		r.phSum += v
		r.phN++
	}

	minutes := at.Sub(r.lastSample).Minutes()
	r.lastSample = at
	if minutes <= 0 {
		return
	}
	if v, ok := snap.Value(domain.FieldSupplyFlow); ok {
		r.supply += v * minutes
		c.totals.SupplyLiters += v * minutes
	}
	if v, ok := snap.Value(domain.FieldDrainFlow); ok {
		r.drain += v * minutes
		c.totals.DrainLiters += v * minutes
	}
	for field, v := range snap.Values {
		if valve, ok := valveName(field); ok {
			r.valves[valve] += v * minutes
		}
	}
}

func (c *Local) Status() domain.StatusSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rolloverLocked()

	return domain.StatusSnapshot{
		Timestamp:      c.clk.Now(),
		OperatingState: c.state,
		CurrentProgram: c.program,
		EmergencyStop:  c.estop,
		SupplyPump:     c.supplyPump,
		DrainPump:      c.drainPump,
		Mixer:          c.mixer,
		DailyTotals:    c.totals,
	}
}

// Setpoints prefers the running program's targets over the system config.
func (c *Local) Setpoints() map[string]float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]float64, 2)
	if c.system.SetEC != nil {
		out[domain.FieldEC] = *c.system.SetEC
	}
	if c.system.SetPH != nil {
		out[domain.FieldPH] = *c.system.SetPH
	}
	if c.run != nil {
		if c.run.setEC != nil {
			out[domain.FieldEC] = *c.run.setEC
		}
		if c.run.setPH != nil {
			out[domain.FieldPH] = *c.run.setPH
		}
	}
	return out
}

// Programs lists the known programs ordered by number.
func (c *Local) Programs() []domain.Program {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.Program, 0, len(c.programs))
	for _, p := range c.programs {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}

func (c *Local) startRunLocked(prog domain.Program) {
	now := c.clk.Now()
	setEC, setPH := prog.SetEC, prog.SetPH
	if setEC == nil {
		setEC = c.system.SetEC
	}
	if setPH == nil {
		setPH = c.system.SetPH
	}
	c.run = &runAcc{
		program:    prog.Number,
		startedAt:  now,
		setEC:      copyFloat(setEC),
		setPH:      copyFloat(setPH),
		valves:     make(map[string]float64),
		lastSample: now,
	}
	c.program = prog.Number
	c.state = domain.StateRunning
	c.supplyPump, c.mixer = true, true
	c.totals.RunCount++
	c.obs.LogInfo("program_started", ports.Field{Key: "program", Value: prog.Number})
}

func (c *Local) finishRunLocked(ctx context.Context) {
	r := c.run
	if r == nil {
		return
	}
	c.run = nil

	run := domain.IrrigationRun{
		ProgramNumber: r.program,
		StartedAt:     r.startedAt,
		EndedAt:       c.clk.Now(),
		SetEC:         r.setEC,
		SetPH:         r.setPH,
		SupplyLiters:  r.supply,
		DrainLiters:   r.drain,
	}
	if r.ecN > 0 {
		avg := r.ecSum / float64(r.ecN)
		run.AvgEC = &avg
	}
	if r.phN > 0 {
		avg := r.phSum / float64(r.phN)
		run.AvgPH = &avg
	}
	if len(r.valves) > 0 {
		run.ValveLiters = r.valves
	}
	c.obs.LogInfo("program_finished",
		ports.Field{Key: "program", Value: r.program},
		ports.Field{Key: "supply_liters", Value: r.supply})

	if c.store == nil {
		return
	}
	if err := c.store.RecordRun(ctx, run); err != nil {
		c.obs.LogError("record_run_failed", err, ports.Field{Key: "program", Value: r.program})
	}
}

func (c *Local) manualLocked(device string, on bool) error {
	switch device {
	case DeviceSupplyPump:
		c.supplyPump = on
	case DeviceDrainPump:
		c.drainPump = on
	case DeviceMixer:
		c.mixer = on
	default:
		return fmt.Errorf("%w: unknown device %q", ErrBadParams, device)
	}
	if c.run != nil {
		return nil
	}
	if c.supplyPump || c.drainPump || c.mixer {
		c.state = domain.StateManual
	} else {
		c.state = domain.StateIdle
	}
	return nil
}

func (c *Local) rolloverLocked() {
	day := c.clk.Now().In(c.loc).Format(domain.DateLayout)
	if day == c.totalsDay {
		return
	}
	c.totalsDay = day
	c.totals = domain.DailyTotals{}
}

func programFromParams(params map[string]any) (domain.Program, error) {
	src := params
	if nested, ok := params["program"].(map[string]any); ok {
		src = nested
	}
	raw, err := json.Marshal(src)
	if err != nil {
		return domain.Program{}, fmt.Errorf("%w: %v", ErrBadParams, err)
	}
	var prog domain.Program
	if err := json.Unmarshal(raw, &prog); err != nil {
		return domain.Program{}, fmt.Errorf("%w: %v", ErrBadParams, err)
	}
	if prog.Number <= 0 {
		return domain.Program{}, fmt.Errorf("%w: programNumber must be positive", ErrBadParams)
	}
	return prog, nil
}

// valveName maps "valve_3_flow" to "3".
func valveName(field string) (string, bool) {
	if len(field) <= len(domain.ValveFlowPrefix)+len(domain.ValveFlowSuffix) ||
		!strings.HasPrefix(field, domain.ValveFlowPrefix) || !strings.HasSuffix(field, domain.ValveFlowSuffix) {
		return "", false
	}
	return field[len(domain.ValveFlowPrefix) : len(field)-len(domain.ValveFlowSuffix)], true
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}

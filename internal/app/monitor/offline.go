package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/goccy/go-json"

	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/domain"
	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/ports"
)

const (
	DefaultInterval  = 60 * time.Second
	DefaultThreshold = 5 * time.Minute
)

// LivenessStore is the part of the cloud store the monitor needs.
type LivenessStore interface {
	ListLiveness(ctx context.Context) ([]domain.FarmLiveness, error)
	SetOnline(ctx context.Context, id domain.FarmID, online bool) error
}

type Config struct {
	Interval  time.Duration
	Threshold time.Duration
}

// Transition is one online/offline flip found by a scan.
type Transition struct {
	Farm   domain.FarmID `json:"farmId"`
	Online bool          `json:"online"`
	// LastSeenAt is nil for a farm that never reported.
	LastSeenAt *time.Time `json:"lastSeenAt"`
}

// OfflineMonitor flips a farm's online flag when its last-seen marker crosses
// the staleness threshold, in either direction.
type OfflineMonitor struct {
	cfg    Config
	store  LivenessStore
	fanout ports.FanOut
	clk    clock.Clock
	obs    ports.Observability
}

func New(cfg Config, store LivenessStore, fanout ports.FanOut, clk clock.Clock, obs ports.Observability) *OfflineMonitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if clk == nil {
		clk = clock.New()
	}
	return &OfflineMonitor{cfg: cfg, store: store, fanout: fanout, clk: clk, obs: obs}
}

func (m *OfflineMonitor) Serve(ctx context.Context) error {
	ticker := m.clk.Ticker(m.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := m.Scan(ctx); err != nil {
				m.obs.LogError("offline_scan_failed", err)
			}
		}
	}
}

func (m *OfflineMonitor) String() string { return "offline-monitor" }

// Scan compares every farm's last-seen time to the threshold and applies the
// transitions it finds. A failed flip is retried on the next scan.
func (m *OfflineMonitor) Scan(ctx context.Context) ([]Transition, error) {
	farms, err := m.store.ListLiveness(ctx)
	if err != nil {
		return nil, fmt.Errorf("list liveness: %w", err)
	}
	now := m.clk.Now()

	var (
		out     []Transition
		offline int
	)
	for _, f := range farms {
		online := f.LastSeenAt != nil && now.Sub(*f.LastSeenAt) <= m.cfg.Threshold
		if !online {
			offline++
		}
		if online == f.Online {
			continue
		}
		if err := m.store.SetOnline(ctx, f.ID, online); err != nil {
			m.obs.LogError("set_online_failed", err, ports.Field{Key: "farm_id", Value: f.ID})
			continue
		}
		t := Transition{Farm: f.ID, Online: online, LastSeenAt: f.LastSeenAt}
		out = append(out, t)
		m.obs.IncCounter("farm_offline_transitions_total", 1)
		m.obs.LogInfo("farm_liveness_changed", ports.Field{Key: "farm_id", Value: f.ID}, ports.Field{Key: "online", Value: online})
		m.broadcast(ctx, t)
	}
	m.obs.SetGauge("farm_offline_farms", float64(offline))
	return out, nil
}

func (m *OfflineMonitor) broadcast(ctx context.Context, t Transition) {
	if m.fanout == nil {
		return
	}
	event := domain.EventFarmOffline
	if t.Online {
		event = domain.EventFarmOnline
	}
	payload, err := json.Marshal(t)
	if err != nil {
		return
	}
	if err := m.fanout.Broadcast(ctx, t.Farm, event, payload); err != nil {
		m.obs.LogWarn("fanout_failed", ports.Field{Key: "farm_id", Value: t.Farm}, ports.Field{Key: "error", Value: err.Error()})
	}
}

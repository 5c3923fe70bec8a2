package pipeline

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/goccy/go-json"

	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/domain"
	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/ports"
)

const (
	DefaultPushInterval = 60 * time.Second
	DefaultSendTimeout  = 10 * time.Second
)

type PusherConfig struct {
	Farm        domain.FarmID
	Interval    time.Duration
	SendTimeout time.Duration
}

// IngestionPusher periodically ships the current snapshot over the bulk
// channel. Each cycle first replays what earlier cycles failed to send.
type IngestionPusher struct {
	cfg     PusherConfig
	queue   ports.RetryQueue
	sender  ports.IngestSender
	latest  func() domain.SensorSnapshot
	status  func() domain.StatusSnapshot
	probe   ports.SystemProbe
	store   ports.LocalStore
	clk     clock.Clock
	obs     ports.Observability
	started time.Time
}

// CycleResult reports one push cycle.
type CycleResult struct {
	Replayed  int
	Requeued  int
	FreshSent bool
}

// NewIngestionPusher builds a pusher. probe and store are optional.
func NewIngestionPusher(cfg PusherConfig, queue ports.RetryQueue, sender ports.IngestSender, latest func() domain.SensorSnapshot, status func() domain.StatusSnapshot, probe ports.SystemProbe, store ports.LocalStore, clk clock.Clock, obs ports.Observability) *IngestionPusher {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPushInterval
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}
	if clk == nil {
		clk = clock.New()
	}
	return &IngestionPusher{
		cfg:     cfg,
		queue:   queue,
		sender:  sender,
		latest:  latest,
		status:  status,
		probe:   probe,
		store:   store,
		clk:     clk,
		obs:     obs,
		started: clk.Now(),
	}
}

func (p *IngestionPusher) Serve(ctx context.Context) error {
	ticker := p.clk.Ticker(p.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.Cycle(ctx)
		}
	}
}

func (p *IngestionPusher) String() string { return "ingestion-pusher" }

// Cycle drains the retry queue, resends each entry in order, requeues the
// failures in their original order and then sends a fresh snapshot, queueing
// it too when the send fails.
func (p *IngestionPusher) Cycle(ctx context.Context) CycleResult {
	var res CycleResult

	var failed []ports.RetryEntry
	for _, e := range p.queue.DrainAll() {
		if err := p.send(ctx, e.Payload); err != nil {
			failed = append(failed, e)
			continue
		}
		res.Replayed++
	}
	for _, e := range failed {
		p.queue.Enqueue(e)
	}
	res.Requeued = len(failed)

	snap := p.latest()
	payload, err := p.buildPayload(ctx, snap)
	if err != nil {
		p.obs.LogError("ingest_payload_encode_failed", err)
		return res
	}
	if err := p.send(ctx, payload); err != nil {
		p.queue.Enqueue(ports.RetryEntry{Payload: payload, EnqueuedAt: p.clk.Now()})
		p.obs.LogWarn("ingest_send_failed",
			ports.Field{Key: "error", Value: err.Error()},
			ports.Field{Key: "queued", Value: p.queue.Len()})
	} else {
		res.FreshSent = true
	}

	if p.store != nil && len(snap.Values) > 0 {
		if err := p.store.AppendSensorLog(ctx, snap); err != nil {
			p.obs.LogError("sensor_log_append_failed", err)
		}
	}
	return res
}

func (p *IngestionPusher) send(ctx context.Context, payload []byte) error {
	sctx, cancel := context.WithTimeout(ctx, p.cfg.SendTimeout)
	defer cancel()
	if err := p.sender.SendSnapshot(sctx, payload); err != nil {
		p.obs.IncCounter("farm_ingest_failed_total", 1)
		return err
	}
	p.obs.IncCounter("farm_ingest_sent_total", 1)
	return nil
}

func (p *IngestionPusher) buildPayload(ctx context.Context, snap domain.SensorSnapshot) ([]byte, error) {
	now := p.clk.Now()
	body := domain.IngestPayload{
		FarmID:    p.cfg.Farm,
		Timestamp: now,
		Sensors:   snap.Values,
		Uptime:    now.Sub(p.started).Seconds(),
	}
	if body.Sensors == nil {
		body.Sensors = map[string]float64{}
	}
	if p.status != nil {
		body.Status = p.status()
	}
	if p.probe != nil {
		sys, err := p.probe.Collect(ctx)
		if err != nil {
			p.obs.LogDebug("system_probe_partial", ports.Field{Key: "error", Value: err.Error()})
		}
		body.System = &sys
	}
	return json.Marshal(body)
}

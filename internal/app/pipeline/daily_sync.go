package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/goccy/go-json"

	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/domain"
	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/ports"
)

// SyncState is the daily sync job's position in its cycle.
type SyncState string

const (
	SyncIdle      SyncState = "idle"
	SyncScheduled SyncState = "scheduled"
	SyncSending   SyncState = "sending"
	SyncRetrying  SyncState = "retrying"
	SyncSuccess   SyncState = "success"
	SyncGivenUp   SyncState = "given_up"
)

type DailySyncConfig struct {
	Farm domain.FarmID
	// Hour and Minute give the local wall-clock run time. Both nil means
	// 00:05; a nil field alone reads as zero.
	Hour      *int
	Minute    *int
	Retry     ports.RetryPolicy
	Retention ports.RetentionPolicy
	Location  *time.Location
}

func (c *DailySyncConfig) applyDefaults() {
	if c.Hour == nil && c.Minute == nil {
		c.Minute = intPtr(5)
	}
	if c.Hour == nil {
		c.Hour = intPtr(0)
	}
	if c.Minute == nil {
		c.Minute = intPtr(0)
	}
	if c.Retry.Attempts <= 0 {
		c.Retry.Attempts = 3
	}
	if c.Retry.Delay <= 0 {
		c.Retry.Delay = 30 * time.Second
	}
	if c.Retry.Timeout <= 0 {
		c.Retry.Timeout = 30 * time.Second
	}
	if c.Location == nil {
		c.Location = time.Local
	}
}

// DailySync sends the previous day's run summaries once a day and runs local
// retention cleanup afterwards, whatever the send outcome.
type DailySync struct {
	cfg    DailySyncConfig
	store  ports.LocalStore
	sender ports.IngestSender
	clk    clock.Clock
	obs    ports.Observability

	mu      sync.Mutex
	state   SyncState
	lastRun time.Time
}

func NewDailySync(cfg DailySyncConfig, store ports.LocalStore, sender ports.IngestSender, clk clock.Clock, obs ports.Observability) *DailySync {
	cfg.applyDefaults()
	if clk == nil {
		clk = clock.New()
	}
	return &DailySync{cfg: cfg, store: store, sender: sender, clk: clk, obs: obs, state: SyncIdle}
}

// NextRun returns the first scheduled time strictly after now.
func (d *DailySync) NextRun(now time.Time) time.Time {
	local := now.In(d.cfg.Location)
	next := time.Date(local.Year(), local.Month(), local.Day(), *d.cfg.Hour, *d.cfg.Minute, 0, 0, d.cfg.Location)
	if !next.After(local) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func (d *DailySync) State() SyncState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// LastRun is the start time of the most recent run, zero before the first.
func (d *DailySync) LastRun() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastRun
}

func (d *DailySync) setState(s SyncState) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
}

// Serve arms the timer for the next run and re-arms it after every run.
func (d *DailySync) Serve(ctx context.Context) error {
	for {
		now := d.clk.Now()
		next := d.NextRun(now)
		timer := d.clk.Timer(next.Sub(now))
		d.setState(SyncScheduled)
		d.obs.LogDebug("daily_sync_scheduled", ports.Field{Key: "at", Value: next.Format(time.RFC3339)})

		select {
		case <-ctx.Done():
			timer.Stop()
			d.setState(SyncIdle)
			return ctx.Err()
		case <-timer.C:
		}
		if err := d.RunOnce(ctx); err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (d *DailySync) String() string { return "daily-sync" }

// RunOnce syncs yesterday's summaries and cleans up the local store. The
// returned error is the send outcome; cleanup failures are only logged.
func (d *DailySync) RunOnce(ctx context.Context) error {
	now := d.clk.Now()
	defer func() {
		d.cleanup(ctx, now)
		d.mu.Lock()
		d.state = SyncIdle
		d.lastRun = now
		d.mu.Unlock()
	}()

	day := now.In(d.cfg.Location).AddDate(0, 0, -1)
	summaries, err := d.store.DailySummaries(ctx, day)
	if err != nil {
		d.obs.LogError("daily_summary_query_failed", err)
		return err
	}
	if len(summaries) == 0 {
		d.obs.LogInfo("daily_sync_no_data", ports.Field{Key: "date", Value: day.Format(domain.DateLayout)})
		return nil
	}

	body, err := json.Marshal(domain.DailySyncPayload{
		FarmID:    d.cfg.Farm,
		Date:      day.Format(domain.DateLayout),
		Summaries: summaries,
	})
	if err != nil {
		return err
	}
	return d.send(ctx, body, len(summaries))
}

func (d *DailySync) send(ctx context.Context, body []byte, rows int) error {
	var lastErr error
	for attempt := 1; attempt <= d.cfg.Retry.Attempts; attempt++ {
		d.setState(SyncSending)
		sctx, cancel := context.WithTimeout(ctx, d.cfg.Retry.Timeout)
		lastErr = d.sender.SendDailySummaries(sctx, body)
		cancel()
		if lastErr == nil {
			d.setState(SyncSuccess)
			d.obs.IncCounter("farm_daily_sync_sent_total", 1)
			d.obs.LogInfo("daily_sync_sent", ports.Field{Key: "summaries", Value: rows}, ports.Field{Key: "attempt", Value: attempt})
			return nil
		}
		d.obs.LogWarn("daily_sync_attempt_failed",
			ports.Field{Key: "attempt", Value: attempt},
			ports.Field{Key: "error", Value: lastErr.Error()})
		if attempt == d.cfg.Retry.Attempts {
			break
		}

		timer := d.clk.Timer(d.cfg.Retry.Delay)
		d.setState(SyncRetrying)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	d.setState(SyncGivenUp)
	d.obs.IncCounter("farm_daily_sync_given_up_total", 1)
	err := fmt.Errorf("daily sync gave up after %d attempts: %w", d.cfg.Retry.Attempts, lastErr)
	d.obs.LogError("daily_sync_given_up", err)
	return err
}

func (d *DailySync) cleanup(ctx context.Context, now time.Time) {
	stats, err := d.store.Cleanup(ctx, now, d.cfg.Retention)
	if err != nil {
		d.obs.LogError("local_cleanup_failed", err)
		return
	}
	d.obs.LogInfo("local_cleanup_done",
		ports.Field{Key: "sensor_logs", Value: stats.SensorLogs},
		ports.Field{Key: "runs", Value: stats.Runs})
}

func intPtr(v int) *int { return &v }

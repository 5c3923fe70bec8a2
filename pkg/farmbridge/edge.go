package farmbridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/united-manufacturing-hub/umh-utils/logger"

	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/adapters/ingest"
	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/adapters/journal"
	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/adapters/localstore"
	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/adapters/mqtt"
	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/adapters/observability"
	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/adapters/opcua"
	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/adapters/queue"
	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/adapters/sysinfo"
	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/app/alarm"
	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/app/controller"
	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/app/edgebridge"
	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/app/ondemand"
	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/app/pipeline"
	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/domain"
	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/ports"
	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/topics"
)

// EdgeRuntimeOption customizes the dependencies used by EdgeRuntime.
type EdgeRuntimeOption func(*edgeOverrides)

type edgeOverrides struct {
	collector     Collector
	broker        Broker
	sender        IngestSender
	store         LocalStore
	journal       AlarmJournal
	probe         SystemProbe
	observability Observability
	registry      *prometheus.Registry
	clock         clock.Clock
	noMetrics     bool
}

// WithCollector injects a sensor source in place of the OPC UA collector.
func WithCollector(col Collector) EdgeRuntimeOption {
	return func(o *edgeOverrides) { o.collector = col }
}

// WithBroker injects the broker connection (a loopback client in tests).
func WithBroker(b Broker) EdgeRuntimeOption {
	return func(o *edgeOverrides) { o.broker = b }
}

// WithIngestSender replaces the HTTP ingestion client.
func WithIngestSender(s IngestSender) EdgeRuntimeOption {
	return func(o *edgeOverrides) { o.sender = s }
}

// WithLocalStore replaces the badger local store.
func WithLocalStore(s LocalStore) EdgeRuntimeOption {
	return func(o *edgeOverrides) { o.store = s }
}

// WithAlarmJournal replaces the file alarm journal.
func WithAlarmJournal(j AlarmJournal) EdgeRuntimeOption {
	return func(o *edgeOverrides) { o.journal = j }
}

// WithSystemProbe replaces the host probe attached to ingestion heartbeats.
func WithSystemProbe(p SystemProbe) EdgeRuntimeOption {
	return func(o *edgeOverrides) { o.probe = p }
}

// WithObservability plugs in a custom logging and metrics backend.
func WithObservability(obs Observability) EdgeRuntimeOption {
	return func(o *edgeOverrides) { o.observability = obs }
}

// WithRegistry registers the runtime metrics on reg and serves it.
func WithRegistry(reg *prometheus.Registry) EdgeRuntimeOption {
	return func(o *edgeOverrides) { o.registry = reg }
}

// WithClock drives every timer from clk.
func WithClock(clk clock.Clock) EdgeRuntimeOption {
	return func(o *edgeOverrides) { o.clock = clk }
}

// WithoutMetricsServer skips the /metrics listener.
func WithoutMetricsServer() EdgeRuntimeOption {
	return func(o *edgeOverrides) { o.noMetrics = true }
}

// EdgeRuntime wires collector → snapshot → alarms/controller on one side and
// the broker bridge, on-demand publisher, ingestion pusher and daily sync on
// the other.
type EdgeRuntime struct {
	cfg      *EdgeConfig
	obs      ports.Observability
	clk      clock.Clock
	registry *prometheus.Registry

	feed      *FeedCollector
	collector ports.Collector
	broker    ports.Broker
	store     ports.LocalStore
	journal   ports.AlarmJournal
	queue     *queue.RetryQueue

	latest   *pipeline.Latest
	ctrl     *controller.Local
	alarms   *alarm.Engine
	bridge   *edgebridge.Bridge
	ondemand *ondemand.Publisher
	pusher   *pipeline.IngestionPusher
	daily    *pipeline.DailySync
	loop     *pipeline.SensorLoop

	owned []io.Closer

	mu     sync.Mutex
	cancel context.CancelFunc
	errCh  <-chan error
	noHTTP bool
}

// NewEdgeRuntime bootstraps the default adapters (OPC UA collector, MQTT
// connection, HTTP ingestion client, badger store, file journal, Prometheus
// observability). Options override any of them. Without an OPC UA section
// and without WithCollector the runtime reads from a FeedCollector.
func NewEdgeRuntime(cfg *EdgeConfig, opts ...EdgeRuntimeOption) (rt *EdgeRuntime, err error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	var o edgeOverrides
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	rt = &EdgeRuntime{cfg: cfg, noHTTP: o.noMetrics}
	defer func() {
		if err != nil {
			_ = rt.closeOwned()
		}
	}()

	rt.clk = o.clock
	if rt.clk == nil {
		rt.clk = clock.New()
	}
	rt.registry = o.registry
	if rt.registry == nil {
		rt.registry = prometheus.NewRegistry()
	}
	rt.obs = o.observability
	if rt.obs == nil {
		log := logger.New(cfg.LogLevel).Desugar()
		rt.obs = observability.NewPromObs(rt.registry, log)
	}

	farm := domain.FarmID(cfg.FarmID)
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	rt.store = o.store
	if rt.store == nil {
		s, err := localstore.Open(filepath.Join(cfg.Storage.DataDir, "store"), loc)
		if err != nil {
			return nil, err
		}
		rt.owned = append(rt.owned, s)
		rt.store = s
	}

	rt.journal = o.journal
	if rt.journal == nil {
		j, err := journal.NewFileJournal(filepath.Join(cfg.Storage.DataDir, "alarms"))
		if err != nil {
			return nil, err
		}
		rt.owned = append(rt.owned, j)
		rt.journal = j
	}

	rt.broker = o.broker
	if rt.broker == nil {
		conn, err := mqtt.NewConn(cfg.MQTT, rt.obs)
		if err != nil {
			return nil, err
		}
		rt.broker = conn
	}

	sender := o.sender
	if sender == nil {
		client, err := ingest.NewClient(cfg.Ingest, farm, rt.obs)
		if err != nil {
			return nil, err
		}
		sender = client
	}

	rt.collector = o.collector
	if rt.collector == nil {
		if cfg.OPCUA != nil {
			col, err := opcua.NewCollector(*cfg.OPCUA, rt.obs)
			if err != nil {
				return nil, err
			}
			rt.collector = col
		} else {
			rt.feed = NewFeedCollector()
			rt.collector = rt.feed
		}
	}

	probe := o.probe
	if probe == nil {
		probe = sysinfo.NewProbe(cfg.DiskPath, rt.obs)
	}

	rt.latest = &pipeline.Latest{}
	rt.ctrl = controller.NewLocal(rt.store, cfg.System, cfg.Programs, rt.clk, rt.obs, controller.WithLocation(loc))

	// the on-demand ticker publishes through the bridge, which counts viewers
	// on the on-demand publisher
	rt.ondemand = ondemand.New(cfg.Schedule.OnDemandInterval, func() { rt.bridge.PublishTelemetry() }, rt.clk, rt.obs)
	rt.bridge = edgebridge.New(edgebridge.Config{
		Farm:   farm,
		Scheme: topics.NewScheme(cfg.Namespace),
	}, rt.broker, rt.ctrl, rt.ondemand, rt.latest.Snapshot, rt.obs)

	rt.alarms = alarm.NewEngine(cfg.Alarms, rt.journal, rt.bridge, rt.ctrl.Setpoints, rt.clk, rt.obs)
	rt.bridge.OnReconnect(func() {
		if n := rt.alarms.FlushPending(); n > 0 {
			rt.obs.LogInfo("alarm_pending_flushed", ports.Field{Key: "count", Value: n})
		}
	})

	rt.queue = queue.NewRetryQueue(cfg.Schedule.QueueCapacity, rt.obs)
	rt.pusher = pipeline.NewIngestionPusher(pipeline.PusherConfig{
		Farm:        farm,
		Interval:    cfg.Schedule.PushInterval,
		SendTimeout: cfg.Ingest.Timeout,
	}, rt.queue, sender, rt.latest.Snapshot, rt.ctrl.Status, probe, rt.store, rt.clk, rt.obs)

	rt.daily = pipeline.NewDailySync(pipeline.DailySyncConfig{
		Farm:      farm,
		Hour:      cfg.Schedule.DailySyncHour,
		Minute:    cfg.Schedule.DailySyncMinute,
		Retry:     cfg.Schedule.DailySync,
		Retention: cfg.Storage.Retention,
		Location:  loc,
	}, rt.store, sender, rt.clk, rt.obs)

	rt.loop = pipeline.NewSensorLoop(rt.collector, rt.latest, rt.ctrl, rt.alarms, 0, rt.obs)
	return rt, nil
}

// Start restores open alarms, connects the broker and launches the supervised
// services. It returns once the services are running.
func (e *EdgeRuntime) Start(ctx context.Context) error {
	if e == nil {
		return fmt.Errorf("edge runtime is nil")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		return fmt.Errorf("edge runtime already started")
	}

	if err := e.alarms.Restore(); err != nil {
		return fmt.Errorf("restore alarms: %w", err)
	}

	timeout := e.cfg.MQTT.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	connectCtx, cancelConnect := context.WithTimeout(ctx, timeout)
	defer cancelConnect()
	if err := e.bridge.Start(connectCtx); err != nil {
		// paho keeps retrying in the background; alarms queue until it connects
		e.obs.LogWarn("mqtt_initial_connect_failed", ports.Field{Key: "error", Value: err.Error()})
	}

	sup := newSupervisor("farm-edge", e.obs)
	sup.Add(e.loop)
	sup.Add(e.pusher)
	sup.Add(e.daily)
	sup.Add(&gaugeService{interval: time.Second, clk: e.clk, sample: e.sampleGauges})
	if !e.noHTTP {
		sup.Add(&httpService{
			name:   "metrics-http",
			server: &http.Server{Addr: e.cfg.Metrics.Addr, Handler: metricsHandler(e.registry, e.broker.IsConnected)},
		})
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.errCh = sup.ServeBackground(runCtx)

	e.obs.LogInfo("edge_runtime_started",
		ports.Field{Key: "farm", Value: e.cfg.FarmID},
		ports.Field{Key: "broker", Value: e.cfg.MQTT.Broker})
	return nil
}

// Run starts the runtime and blocks until ctx is cancelled, then shuts down.
func (e *EdgeRuntime) Run(ctx context.Context) error {
	if err := e.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*shutdownTimeout)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

// Shutdown stops the services and the on-demand ticker before the broker is
// closed, then releases the store and journal.
func (e *EdgeRuntime) Shutdown(ctx context.Context) error {
	var errs []error

	e.mu.Lock()
	cancel, errCh := e.cancel, e.errCh
	e.cancel, e.errCh = nil, nil
	e.mu.Unlock()

	if cancel != nil {
		cancel()
		select {
		case err := <-errCh:
			if err != nil && !errors.Is(err, context.Canceled) {
				errs = append(errs, err)
			}
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("supervisor shutdown: %w", ctx.Err()))
		}
	}

	e.ondemand.Stop()
	e.bridge.Close()
	if e.feed != nil {
		e.feed.Close()
	}
	if err := e.closeOwned(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (e *EdgeRuntime) closeOwned() error {
	var errs []error
	for i := len(e.owned) - 1; i >= 0; i-- {
		if err := e.owned[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	e.owned = nil
	return errors.Join(errs...)
}

func (e *EdgeRuntime) sampleGauges() {
	stats := e.journal.Stats()
	e.obs.SetGauge("farm_alarm_journal_bytes", float64(stats.SizeBytes))
	e.obs.SetGauge("farm_open_alarms", float64(len(e.alarms.OpenAlarms())))
	e.obs.SetGauge("farm_retry_queue_length", float64(e.queue.Len()))
	if e.broker.IsConnected() {
		e.obs.SetGauge("farm_mqtt_connected", 1)
	} else {
		e.obs.SetGauge("farm_mqtt_connected", 0)
	}
}

// Feed returns the embedded feed collector, or nil when another collector
// was configured.
func (e *EdgeRuntime) Feed() *FeedCollector { return e.feed }

// Snapshot returns the latest sensor values.
func (e *EdgeRuntime) Snapshot() SensorSnapshot { return e.latest.Snapshot() }

// Status returns the controller state.
func (e *EdgeRuntime) Status() StatusSnapshot { return e.ctrl.Status() }

// OpenAlarms lists the currently open alarm records.
func (e *EdgeRuntime) OpenAlarms() []AlarmRecord { return e.alarms.OpenAlarms() }

// Viewers reports how many dashboards requested live telemetry.
func (e *EdgeRuntime) Viewers() int { return e.ondemand.SubscriberCount() }

// PendingIngest reports payloads waiting for the next ingestion cycle.
func (e *EdgeRuntime) PendingIngest() int { return e.queue.Len() }

// PushNow runs one ingestion cycle outside the ticker.
func (e *EdgeRuntime) PushNow(ctx context.Context) CycleResult {
	return e.pusher.Cycle(ctx)
}

// SyncNow runs the daily summary sync for the previous day.
func (e *EdgeRuntime) SyncNow(ctx context.Context) error {
	return e.daily.RunOnce(ctx)
}

package farmbridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/united-manufacturing-hub/umh-utils/logger"

	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/adapters/mqtt"
	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/adapters/observability"
	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/adapters/postgres"
	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/adapters/redis"
	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/app/cloudbridge"
	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/app/monitor"
	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/ports"
	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/topics"
)

// CloudRuntimeOption customizes the dependencies used by CloudRuntime.
type CloudRuntimeOption func(*cloudOverrides)

type cloudOverrides struct {
	store         CloudStore
	broker        Broker
	fanouts       []FanOut
	observability Observability
	registry      *prometheus.Registry
	clock         clock.Clock
	noHTTP        bool
}

// WithCloudStore replaces the PostgreSQL store.
func WithCloudStore(s CloudStore) CloudRuntimeOption {
	return func(o *cloudOverrides) { o.store = s }
}

// WithCloudBroker injects the broker connection.
func WithCloudBroker(b Broker) CloudRuntimeOption {
	return func(o *cloudOverrides) { o.broker = b }
}

// WithFanOut adds an event consumer next to the Redis fan-out.
func WithFanOut(f FanOut) CloudRuntimeOption {
	return func(o *cloudOverrides) { o.fanouts = append(o.fanouts, f) }
}

func WithCloudObservability(obs Observability) CloudRuntimeOption {
	return func(o *cloudOverrides) { o.observability = obs }
}

func WithCloudRegistry(reg *prometheus.Registry) CloudRuntimeOption {
	return func(o *cloudOverrides) { o.registry = reg }
}

func WithCloudClock(clk clock.Clock) CloudRuntimeOption {
	return func(o *cloudOverrides) { o.clock = clk }
}

// WithoutHTTP skips the ingestion and metrics listeners; the ingestion
// handler stays reachable through IngestHandler.
func WithoutHTTP() CloudRuntimeOption {
	return func(o *cloudOverrides) { o.noHTTP = true }
}

// CloudRuntime runs the cloud bridge: the inbound dispatch loop, the
// ingestion HTTP server and the offline monitor, plus the outbound command API.
type CloudRuntime struct {
	cfg      *CloudConfig
	obs      ports.Observability
	clk      clock.Clock
	registry *prometheus.Registry

	broker   ports.Broker
	store    ports.CloudStore
	farms    *cloudbridge.Registry
	bridge   *cloudbridge.Bridge
	ingest   *cloudbridge.IngestServer
	monitor  *monitor.OfflineMonitor
	owned    []io.Closer
	withHTTP bool

	mu     sync.Mutex
	cancel context.CancelFunc
	errCh  <-chan error
}

// NewCloudRuntime opens the store and the Redis fan-out unless overridden.
// ctx bounds the initial connections.
func NewCloudRuntime(ctx context.Context, cfg *CloudConfig, opts ...CloudRuntimeOption) (rt *CloudRuntime, err error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	var o cloudOverrides
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	rt = &CloudRuntime{cfg: cfg, withHTTP: !o.noHTTP}
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
		rt.obs = observability.NewPromObs(rt.registry, logger.New(cfg.LogLevel).Desugar())
	}

	rt.store = o.store
	if rt.store == nil {
		pg, err := postgres.Open(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, err
		}
		rt.owned = append(rt.owned, pg)
		if cfg.Postgres.Migrate {
			if err := pg.Migrate(ctx); err != nil {
				return nil, err
			}
		}
		rt.store = pg
	}

	fanouts := append([]FanOut(nil), o.fanouts...)
	if cfg.Redis.Addr != "" {
		fan, client, err := redis.Dial(ctx, redis.Options{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			LatestTTL: cfg.Redis.LatestTTL,
		}, rt.obs)
		if err != nil {
			return nil, err
		}
		rt.owned = append(rt.owned, client)
		fanouts = append(fanouts, fan)
	}
	fanout := MultiFanOut(fanouts...)

	rt.broker = o.broker
	if rt.broker == nil {
		conn, err := mqtt.NewConn(cfg.MQTT, rt.obs)
		if err != nil {
			return nil, err
		}
		rt.broker = conn
	}

	rt.farms = cloudbridge.NewRegistry(rt.store, cfg.RegistryTTL)
	rt.bridge = cloudbridge.New(cloudbridge.Config{
		Scheme:    topics.NewScheme(cfg.Namespace),
		InboxSize: cfg.InboxSize,
	}, rt.broker, rt.store, rt.farms, fanout, rt.clk, rt.obs)
	rt.ingest = cloudbridge.NewIngestServer(rt.farms, rt.store, fanout, rt.clk, rt.obs)
	rt.monitor = monitor.New(monitor.Config{
		Interval:  cfg.Monitor.Interval,
		Threshold: cfg.Monitor.Threshold,
	}, rt.store, fanout, rt.clk, rt.obs)
	return rt, nil
}

// Start subscribes, connects and launches the supervised services.
func (c *CloudRuntime) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return fmt.Errorf("cloud runtime already started")
	}

	timeout := c.cfg.MQTT.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	connectCtx, cancelConnect := context.WithTimeout(ctx, timeout)
	defer cancelConnect()
	if err := c.bridge.Start(connectCtx); err != nil {
		c.obs.LogWarn("mqtt_initial_connect_failed", ports.Field{Key: "error", Value: err.Error()})
	}

	sup := newSupervisor("farm-cloud", c.obs)
	sup.Add(c.bridge)
	sup.Add(c.monitor)
	if c.withHTTP {
		sup.Add(&httpService{
			name:   "ingest-http",
			server: &http.Server{Addr: c.cfg.IngestAddr, Handler: c.ingest.Handler(), ReadHeaderTimeout: 10 * time.Second},
		})
		sup.Add(&httpService{
			name:   "metrics-http",
			server: &http.Server{Addr: c.cfg.Metrics.Addr, Handler: metricsHandler(c.registry, c.broker.IsConnected)},
		})
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.errCh = sup.ServeBackground(runCtx)
	c.obs.LogInfo("cloud_runtime_started", ports.Field{Key: "broker", Value: c.cfg.MQTT.Broker})
	return nil
}

func (c *CloudRuntime) Run(ctx context.Context) error {
	if err := c.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*shutdownTimeout)
	defer cancel()
	return c.Shutdown(shutdownCtx)
}

// Shutdown stops the services, disconnects the broker and closes the store.
func (c *CloudRuntime) Shutdown(ctx context.Context) error {
	var errs []error

	c.mu.Lock()
	cancel, errCh := c.cancel, c.errCh
	c.cancel, c.errCh = nil, nil
	c.mu.Unlock()

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

	c.bridge.Close()
	if err := c.closeOwned(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (c *CloudRuntime) closeOwned() error {
	var errs []error
	for i := len(c.owned) - 1; i >= 0; i-- {
		if err := c.owned[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	c.owned = nil
	return errors.Join(errs...)
}

// SendCommand records and publishes a command. ok is false when the broker
// connection is down.
func (c *CloudRuntime) SendCommand(ctx context.Context, farm FarmID, typ CommandType, params map[string]any) (cmd Command, ok bool, err error) {
	return c.bridge.SendCommand(ctx, farm, typ, params)
}

func (c *CloudRuntime) PushConfig(farm FarmID, update ConfigUpdate) bool {
	return c.bridge.PushConfig(farm, update)
}

func (c *CloudRuntime) RequestStart(farm FarmID) bool { return c.bridge.RequestStart(farm) }

func (c *CloudRuntime) RequestStop(farm FarmID) bool { return c.bridge.RequestStop(farm) }

// IngestHandler is the ingestion HTTP API, for mounting in another server.
func (c *CloudRuntime) IngestHandler() http.Handler { return c.ingest.Handler() }

// ScanLiveness runs one offline monitor pass.
func (c *CloudRuntime) ScanLiveness(ctx context.Context) error {
	_, err := c.monitor.Scan(ctx)
	return err
}

// InvalidateFarm drops a cached farm lookup after it was provisioned or
// its secret changed.
func (c *CloudRuntime) InvalidateFarm(farm FarmID) { c.farms.Invalidate(farm) }

// HashSecret produces the bcrypt hash stored for a farm's ingestion secret.
func HashSecret(secret string) (string, error) {
	return cloudbridge.HashSecret(secret)
}

package opcua

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"

	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/domain"
	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/ports"
)

// Config captures the runtime details required to open an OPC UA session
// against the nutrient controller.
type Config struct {
	Endpoint         string        `yaml:"endpoint"`
	Username         string        `yaml:"username"`
	Password         string        `yaml:"password"`
	SecurityMode     string        `yaml:"security_mode"`
	SecurityPolicy   string        `yaml:"security_policy"`
	ApplicationName  string        `yaml:"application_name"`
	PublishInterval  time.Duration `yaml:"publish_interval"`
	SamplingInterval time.Duration `yaml:"sampling_interval"`
	Nodes            []NodeConfig  `yaml:"nodes"`
}

// NodeConfig maps a monitored node onto a sensor field. The raw value is
// converted as raw*Scale + Offset.
type NodeConfig struct {
	NodeID string  `yaml:"node_id"`
	Field  string  `yaml:"field"`
	Scale  float64 `yaml:"scale"`
	Offset float64 `yaml:"offset"`
}

func (c *Config) ApplyDefaults() {
	if c.SecurityMode == "" {
		c.SecurityMode = "None"
	}
	if c.SecurityPolicy == "" {
		c.SecurityPolicy = "None"
	}
	if c.ApplicationName == "" {
		c.ApplicationName = "Smartfarm Edge"
	}
	if c.PublishInterval <= 0 {
		c.PublishInterval = time.Second
	}
	if c.SamplingInterval < 0 {
		c.SamplingInterval = 0
	}
	for i := range c.Nodes {
		if c.Nodes[i].Scale == 0 {
			c.Nodes[i].Scale = 1
		}
	}
}

func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return errors.New("endpoint is required")
	}
	if len(c.Nodes) == 0 {
		return errors.New("at least one node must be configured")
	}
	seen := make(map[string]string, len(c.Nodes))
	for _, n := range c.Nodes {
		if n.NodeID == "" || n.Field == "" {
			return fmt.Errorf("node %q: node_id and field are required", n.NodeID)
		}
		if prev, dup := seen[n.Field]; dup {
			return fmt.Errorf("field %q mapped twice (%s, %s)", n.Field, prev, n.NodeID)
		}
		seen[n.Field] = n.NodeID
	}
	return nil
}

// Collector subscribes to the configured nodes and emits one Reading per
// data change.
type Collector struct {
	cfg       Config
	obs       ports.Observability
	client    *opcua.Client
	sub       *opcua.Subscription
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	handleMap map[uint32]NodeConfig
	mu        sync.Mutex
	started   bool
}

func NewCollector(cfg Config, obs ports.Observability) (*Collector, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Collector{cfg: cfg, obs: obs}, nil
}

func (c *Collector) Start(out chan<- domain.Reading) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return fmt.Errorf("opcua collector already started")
	}
	c.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	client, err := opcua.NewClient(c.cfg.Endpoint, c.clientOptions()...)
	if err != nil {
		cancel()
		return fmt.Errorf("opcua new client: %w", err)
	}
	if err := client.Connect(ctx); err != nil {
		cancel()
		return fmt.Errorf("opcua connect %s: %w", c.cfg.Endpoint, err)
	}

	notifyCh := make(chan *opcua.PublishNotificationData, len(c.cfg.Nodes)*4)
	sub, err := client.Subscribe(ctx, &opcua.SubscriptionParameters{
		Interval: c.cfg.PublishInterval,
	}, notifyCh)
	if err != nil {
		cancel()
		_ = client.Close(ctx)
		return fmt.Errorf("opcua subscribe: %w", err)
	}

	handleMap := make(map[uint32]NodeConfig, len(c.cfg.Nodes))
	for i, node := range c.cfg.Nodes {
		handle := uint32(i + 1)
		if err := c.monitor(ctx, sub, node, handle); err != nil {
			cleanup(ctx, cancel, sub, client)
			return err
		}
		handleMap[handle] = node
	}

	c.mu.Lock()
	c.client = client
	c.sub = sub
	c.cancel = cancel
	c.handleMap = handleMap
	c.started = true
	c.mu.Unlock()

	c.wg.Add(1)
	go c.consume(ctx, notifyCh, out)
	return nil
}

func (c *Collector) monitor(ctx context.Context, sub *opcua.Subscription, node NodeConfig, handle uint32) error {
	nodeID, err := ua.ParseNodeID(node.NodeID)
	if err != nil {
		return fmt.Errorf("parse node id %q: %w", node.NodeID, err)
	}
	req := opcua.NewMonitoredItemCreateRequestWithDefaults(nodeID, ua.AttributeIDValue, handle)
	if c.cfg.SamplingInterval > 0 {
		req.RequestedParameters.SamplingInterval = float64(c.cfg.SamplingInterval / time.Millisecond)
	}
	res, err := sub.Monitor(ctx, ua.TimestampsToReturnBoth, req)
	if err != nil {
		return fmt.Errorf("monitor node %q: %w", node.NodeID, err)
	}
	if len(res.Results) == 0 {
		return fmt.Errorf("monitor node %q failed: empty result", node.NodeID)
	}
	if res.Results[0].StatusCode != ua.StatusOK {
		return fmt.Errorf("monitor node %q failed: %s", node.NodeID, res.Results[0].StatusCode)
	}
	return nil
}

// Stop cancels the subscription, closes the session and waits for the
// consumer. It does not close the output channel.
func (c *Collector) Stop() error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return nil
	}
	cancel, sub, client := c.cancel, c.sub, c.client
	c.started = false
	c.cancel, c.sub, c.client = nil, nil, nil
	c.mu.Unlock()

	cancel()

	ctx, ctxCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer ctxCancel()

	var err error
	if sub != nil {
		if e := sub.Cancel(ctx); e != nil && !errors.Is(e, context.Canceled) {
			err = errors.Join(err, e)
		}
	}
	if client != nil {
		if e := client.Close(ctx); e != nil && !errors.Is(e, context.Canceled) {
			err = errors.Join(err, e)
		}
	}

	c.wg.Wait()
	return err
}

func (c *Collector) consume(ctx context.Context, ch <-chan *opcua.PublishNotificationData, out chan<- domain.Reading) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case notif := <-ch:
			if notif == nil {
				continue
			}
			if notif.Error != nil {
				c.obs.LogWarn("opcua_notification_error", ports.Field{Key: "error", Value: notif.Error.Error()})
				continue
			}
			data, ok := notif.Value.(*ua.DataChangeNotification)
			if !ok {
				continue
			}
			for _, r := range c.readings(data, time.Now()) {
				select {
				case <-ctx.Done():
					return
				case out <- r:
				}
			}
		}
	}
}

// readings converts a data change notification. Items with an unknown
// handle or a non-numeric value are skipped.
func (c *Collector) readings(data *ua.DataChangeNotification, now time.Time) []domain.Reading {
	out := make([]domain.Reading, 0, len(data.MonitoredItems))
	for _, item := range data.MonitoredItems {
		node, ok := c.handleMap[item.ClientHandle]
		if !ok || item.Value == nil {
			continue
		}
		raw, ok := variantToFloat(item.Value.Value)
		if !ok {
			c.obs.LogWarn("opcua_unsupported_value",
				ports.Field{Key: "node", Value: node.NodeID},
				ports.Field{Key: "field", Value: node.Field},
			)
			continue
		}

		ts := item.Value.SourceTimestamp
		if ts.IsZero() {
			ts = item.Value.ServerTimestamp
		}
		if ts.IsZero() {
			ts = now
		}
		out = append(out, domain.Reading{Field: node.Field, Value: raw*node.Scale + node.Offset, Timestamp: ts})
	}
	return out
}

func (c *Collector) clientOptions() []opcua.Option {
	opts := []opcua.Option{
		opcua.SecurityModeString(normalizeSecurityMode(c.cfg.SecurityMode)),
		opcua.SecurityPolicy(normalizeSecurityPolicy(c.cfg.SecurityPolicy)),
		opcua.ApplicationName(c.cfg.ApplicationName),
		opcua.AutoReconnect(true),
	}
	if c.cfg.Username != "" {
		return append(opts, opcua.AuthUsername(c.cfg.Username, c.cfg.Password))
	}
	return append(opts, opcua.AuthAnonymous())
}

func cleanup(ctx context.Context, cancel context.CancelFunc, sub *opcua.Subscription, client *opcua.Client) {
	cancel()
	if sub != nil {
		_ = sub.Cancel(ctx)
	}
	if client != nil {
		_ = client.Close(ctx)
	}
}

func variantToFloat(v *ua.Variant) (float64, bool) {
	if v == nil {
		return 0, false
	}

	switch val := v.Value().(type) {
	case float32:
		return float64(val), true
	case float64:
		return val, true
	case int8:
		return float64(val), true
	case uint8:
		return float64(val), true
	case int16:
		return float64(val), true
	case uint16:
		return float64(val), true
	case int32:
		return float64(val), true
	case uint32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint64:
		return float64(val), true
	case bool:
		if val {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

func normalizeSecurityMode(mode string) string {
	switch strings.ToLower(mode) {
	case "sign":
		return "Sign"
	case "signandencrypt", "signencrypt", "sign_and_encrypt", "sign+encrypt":
		return "SignAndEncrypt"
	default:
		return "None"
	}
}

func normalizeSecurityPolicy(policy string) string {
	if policy == "" {
		return "None"
	}
	return policy
}

var _ ports.Collector = (*Collector)(nil)

// Package edgebridge connects one edge node to the broker: it runs cloud
// commands against the local controller, applies pushed config, gates
// on-demand telemetry and publishes alarms.
package edgebridge

import (
	"context"
	"sync"
	"time"

	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/domain"
	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/ports"
	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/topics"
	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/wire"
)

const defaultCommandTimeout = 10 * time.Second

// Viewers is the on-demand subscriber counter driven by request-start/stop.
type Viewers interface {
	AddSubscriber()
	RemoveSubscriber()
}

type Config struct {
	Farm           domain.FarmID
	Scheme         topics.Scheme
	CommandTimeout time.Duration
}

type handler func(ctx context.Context, msg wire.Message)

type Bridge struct {
	cfg      Config
	broker   ports.Broker
	ctrl     ports.Controller
	viewers  Viewers
	snapshot func() domain.SensorSnapshot
	obs      ports.Observability

	handlers map[topics.Kind]handler

	mu          sync.Mutex
	onReconnect []func()
}

// New wires the handler table. snapshot returns the latest sensor values for
// telemetry publishes.
func New(cfg Config, broker ports.Broker, ctrl ports.Controller, viewers Viewers, snapshot func() domain.SensorSnapshot, obs ports.Observability) *Bridge {
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = defaultCommandTimeout
	}
	b := &Bridge{
		cfg:      cfg,
		broker:   broker,
		ctrl:     ctrl,
		viewers:  viewers,
		snapshot: snapshot,
		obs:      obs,
	}
	b.handlers = map[topics.Kind]handler{
		topics.Command:      b.handleCommand,
		topics.ConfigUpdate: b.handleConfig,
		topics.RequestStart: b.handleRequestStart,
		topics.RequestStop:  b.handleRequestStop,
	}
	return b
}

// OnReconnect registers fn to run every time the connection comes up.
func (b *Bridge) OnReconnect(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onReconnect = append(b.onReconnect, fn)
}

// Start registers the subscriptions and connects. The broker re-applies the
// subscriptions after every reconnect.
func (b *Bridge) Start(ctx context.Context) error {
	b.broker.Subscribe(b.cfg.Scheme.EdgeSubscriptions(b.cfg.Farm), b.HandleMessage)
	b.broker.OnConnectionChange(b.connectionChanged)
	return b.broker.Connect(ctx)
}

func (b *Bridge) Connected() bool { return b.broker.IsConnected() }

// HandleMessage decodes one inbound message and runs its handler. Unknown
// topics are ignored; malformed bodies are logged and dropped.
func (b *Bridge) HandleMessage(topic string, payload []byte) {
	farm, kind, ok := b.cfg.Scheme.Parse(topic)
	if !ok || farm != b.cfg.Farm {
		b.obs.IncCounter("farm_unknown_target_total", 1)
		return
	}
	h, ok := b.handlers[kind]
	if !ok {
		b.obs.IncCounter("farm_unknown_target_total", 1)
		return
	}
	msg, err := wire.Decode(kind, payload)
	if err != nil {
		b.obs.IncCounter("farm_messages_dropped_total", 1)
		b.obs.LogWarn("message_decode_failed",
			ports.Field{Key: "topic", Value: topic},
			ports.Field{Key: "error", Value: err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.CommandTimeout)
	defer cancel()
	h(ctx, msg)
}

func (b *Bridge) handleCommand(ctx context.Context, msg wire.Message) {
	cmd := msg.(wire.Command).Command
	err := b.ctrl.Execute(ctx, cmd)
	if err != nil {
		b.obs.IncCounter("farm_commands_failed_total", 1)
		b.obs.LogError("command_failed", err,
			ports.Field{Key: "type", Value: cmd.Type},
			ports.Field{Key: "log_id", Value: cmd.LogID})
	} else {
		b.obs.IncCounter("farm_commands_executed_total", 1)
		b.obs.LogInfo("command_executed",
			ports.Field{Key: "type", Value: cmd.Type},
			ports.Field{Key: "log_id", Value: cmd.LogID})
	}
	if !b.publish(topics.CommandAck, wire.AckFor(cmd, err)) {
		b.obs.LogWarn("command_ack_not_sent", ports.Field{Key: "log_id", Value: cmd.LogID})
	}
}

func (b *Bridge) handleConfig(ctx context.Context, msg wire.Message) {
	update := domain.ConfigUpdate(msg.(wire.ConfigUpdate))
	if err := b.ctrl.ApplyConfig(ctx, update); err != nil {
		b.obs.LogError("config_apply_failed", err)
		return
	}
	b.obs.LogInfo("config_applied",
		ports.Field{Key: "system", Value: update.SystemConfig != nil},
		ports.Field{Key: "program", Value: update.Program != nil})
}

func (b *Bridge) handleRequestStart(context.Context, wire.Message) {
	if b.viewers != nil {
		b.viewers.AddSubscriber()
	}
}

func (b *Bridge) handleRequestStop(context.Context, wire.Message) {
	if b.viewers != nil {
		b.viewers.RemoveSubscriber()
	}
}

// PublishAlarm sends an open or resolve event. Alarms do not depend on
// on-demand state.
func (b *Bridge) PublishAlarm(rec domain.AlarmRecord) bool {
	return b.publish(topics.Alarm, wire.AlarmFromRecord(rec))
}

// PublishTelemetry sends the latest sensor values and the controller status.
// It is the on-demand ticker callback.
func (b *Bridge) PublishTelemetry() bool {
	ok := true
	if b.snapshot != nil {
		snap := b.snapshot()
		if len(snap.Values) > 0 {
			ok = b.publish(topics.Telemetry, wire.Telemetry{Timestamp: snap.Timestamp, Sensors: snap.Values})
		}
	}
	return b.publish(topics.Status, wire.Status(b.ctrl.Status())) && ok
}

// Close disconnects. Timers that publish through the bridge must be stopped first.
func (b *Bridge) Close() {
	b.broker.Close()
}

func (b *Bridge) publish(kind topics.Kind, msg wire.Message) bool {
	payload, err := wire.Encode(msg)
	if err != nil {
		b.obs.LogError("message_encode_failed", err, ports.Field{Key: "kind", Value: kind})
		return false
	}
	return b.broker.Publish(b.cfg.Scheme.Topic(b.cfg.Farm, kind), payload)
}

func (b *Bridge) connectionChanged(connected bool) {
	if !connected {
		return
	}
	b.mu.Lock()
	hooks := append([]func(){}, b.onReconnect...)
	b.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}

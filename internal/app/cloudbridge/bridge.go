// Package cloudbridge is the central side of the bridge: one broker
// connection for every farm, the bulk ingestion endpoints and the outbound
// command API.
package cloudbridge

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/domain"
	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/ports"
	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/topics"
	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/wire"
)

const (
	DefaultInboxSize       = 1024
	DefaultDispatchTimeout = 10 * time.Second
)

type Config struct {
	Scheme          topics.Scheme
	InboxSize       int
	DispatchTimeout time.Duration
}

type inbound struct {
	topic   string
	payload []byte
}

// Bridge demultiplexes the shared connection by farm. The broker callback
// only queues; a single consumer (Serve) does the decoding and persistence so
// the connection's read loop is never blocked by the database.
type Bridge struct {
	cfg      Config
	broker   ports.Broker
	store    ports.CloudStore
	registry *Registry
	fanout   ports.FanOut
	clk      clock.Clock
	obs      ports.Observability

	inbox chan inbound
}

func New(cfg Config, broker ports.Broker, store ports.CloudStore, registry *Registry, fanout ports.FanOut, clk clock.Clock, obs ports.Observability) *Bridge {
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = DefaultInboxSize
	}
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = DefaultDispatchTimeout
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Bridge{
		cfg:      cfg,
		broker:   broker,
		store:    store,
		registry: registry,
		fanout:   fanout,
		clk:      clk,
		obs:      obs,
		inbox:    make(chan inbound, cfg.InboxSize),
	}
}

// Start subscribes the farm wildcards and connects.
func (b *Bridge) Start(ctx context.Context) error {
	b.broker.Subscribe(b.cfg.Scheme.CloudSubscriptions(), b.enqueue)
	return b.broker.Connect(ctx)
}

func (b *Bridge) Connected() bool { return b.broker.IsConnected() }

func (b *Bridge) Close() { b.broker.Close() }

func (b *Bridge) enqueue(topic string, payload []byte) {
	select {
	case b.inbox <- inbound{topic: topic, payload: payload}:
		b.obs.SetGauge("farm_cloud_inbox_length", float64(len(b.inbox)))
	default:
		b.obs.IncCounter("farm_cloud_inbox_dropped_total", 1)
		b.obs.LogWarn("cloud_inbox_full", ports.Field{Key: "topic", Value: topic})
	}
}

// Serve is the single dispatch consumer.
func (b *Bridge) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m := <-b.inbox:
			b.obs.SetGauge("farm_cloud_inbox_length", float64(len(b.inbox)))
			_ = b.Dispatch(ctx, m.topic, m.payload)
		}
	}
}

func (b *Bridge) String() string { return "cloud-dispatch" }

// Dispatch handles one inbound message. Messages for unknown farms or kinds
// are dropped without error.
func (b *Bridge) Dispatch(ctx context.Context, topic string, payload []byte) error {
	start := b.clk.Now()
	farm, kind, ok := b.cfg.Scheme.Parse(topic)
	if !ok {
		b.obs.IncCounter("farm_unknown_target_total", 1)
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, b.cfg.DispatchTimeout)
	defer cancel()

	_, known, err := b.registry.Lookup(ctx, farm)
	if err != nil {
		b.obs.LogError("farm_lookup_failed", err, ports.Field{Key: "farm_id", Value: farm})
		return err
	}
	if !known {
		b.obs.IncCounter("farm_unknown_target_total", 1)
		b.obs.LogDebug("unknown_farm_dropped", ports.Field{Key: "farm_id", Value: farm})
		return nil
	}

	msg, err := wire.Decode(kind, payload)
	if err != nil {
		b.obs.IncCounter("farm_messages_dropped_total", 1)
		b.obs.LogWarn("message_decode_failed",
			ports.Field{Key: "topic", Value: topic},
			ports.Field{Key: "error", Value: err.Error()})
		return err
	}

	if err := b.persist(ctx, farm, msg); err != nil {
		b.obs.LogError("persist_failed", err,
			ports.Field{Key: "farm_id", Value: farm},
			ports.Field{Key: "kind", Value: kind})
	}
	if b.fanout != nil {
		if err := b.fanout.Broadcast(ctx, farm, string(kind), payload); err != nil {
			b.obs.LogWarn("fanout_failed", ports.Field{Key: "farm_id", Value: farm}, ports.Field{Key: "error", Value: err.Error()})
		}
	}
	if err := b.store.TouchLastSeen(ctx, farm, b.clk.Now()); err != nil {
		b.obs.LogError("touch_last_seen_failed", err, ports.Field{Key: "farm_id", Value: farm})
	}
	b.obs.ObserveLatency("farm_cloud_dispatch_latency_seconds", b.clk.Since(start).Seconds())
	return nil
}

func (b *Bridge) persist(ctx context.Context, farm domain.FarmID, msg wire.Message) error {
	switch m := msg.(type) {
	case wire.Telemetry:
		at := m.Timestamp
		if at.IsZero() {
			at = b.clk.Now()
		}
		return b.store.SaveTelemetry(ctx, farm, at, m.Sensors)
	case wire.Status:
		return b.store.SaveStatus(ctx, farm, domain.StatusSnapshot(m))
	case wire.Alarm:
		if m.ResolvedAt != nil {
			return b.store.ResolveAlarm(ctx, farm, m.AlarmType, *m.ResolvedAt)
		}
		return b.store.SaveAlarm(ctx, farm, domain.AlarmRecord{
			Type:       m.AlarmType,
			Value:      m.AlarmValue,
			Threshold:  m.ThresholdValue,
			Message:    m.Message,
			OccurredAt: m.Timestamp,
		})
	case wire.CommandAck:
		return b.store.AckCommand(ctx, farm, m.Domain())
	default:
		return nil
	}
}

// SendCommand assigns a log id, records the command as pending and publishes
// it. It returns false when the connection is down; nothing is recorded then.
func (b *Bridge) SendCommand(ctx context.Context, farm domain.FarmID, typ domain.CommandType, params map[string]any) (domain.Command, bool, error) {
	cmd := domain.Command{Type: typ, LogID: uuid.NewString(), Params: params}
	if !b.broker.IsConnected() {
		return cmd, false, nil
	}
	if err := b.store.RecordCommand(ctx, farm, cmd); err != nil {
		return cmd, false, fmt.Errorf("record command: %w", err)
	}
	return cmd, b.publish(farm, wire.Command{Command: cmd}), nil
}

func (b *Bridge) PushConfig(farm domain.FarmID, update domain.ConfigUpdate) bool {
	return b.publish(farm, wire.ConfigUpdate(update))
}

// RequestStart attaches one on-demand telemetry viewer on the farm.
func (b *Bridge) RequestStart(farm domain.FarmID) bool {
	return b.publish(farm, wire.RequestStart{Timestamp: b.clk.Now()})
}

// RequestStop releases one viewer.
func (b *Bridge) RequestStop(farm domain.FarmID) bool {
	return b.publish(farm, wire.RequestStop{Timestamp: b.clk.Now()})
}

func (b *Bridge) publish(farm domain.FarmID, msg wire.Message) bool {
	payload, err := wire.Encode(msg)
	if err != nil {
		b.obs.LogError("message_encode_failed", err, ports.Field{Key: "kind", Value: msg.Kind()})
		return false
	}
	return b.broker.Publish(b.cfg.Scheme.Topic(farm, msg.Kind()), payload)
}

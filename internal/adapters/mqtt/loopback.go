package mqtt

import (
	"context"
	"strings"
	"sync"

	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/ports"
)

// Loopback is an in-process broker. It lets an edge and a cloud bridge talk
// inside one process (local development, demos, end-to-end tests) with the
// same topic semantics as a real broker: '+' and '#' filters, per-publisher
// ordering, no delivery while a client is disconnected.
type Loopback struct {
	mu      sync.RWMutex
	clients []*LoopbackClient
}

func NewLoopback() *Loopback { return &Loopback{} }

// Client returns a new, not yet connected, client of the loopback broker.
func (l *Loopback) Client() *LoopbackClient {
	c := &LoopbackClient{hub: l}
	l.mu.Lock()
	l.clients = append(l.clients, c)
	l.mu.Unlock()
	return c
}

func (l *Loopback) route(topic string, payload []byte) {
	l.mu.RLock()
	clients := append([]*LoopbackClient(nil), l.clients...)
	l.mu.RUnlock()
	for _, c := range clients {
		c.deliver(topic, payload)
	}
}

// LoopbackClient implements ports.Broker against a Loopback.
type LoopbackClient struct {
	hub *Loopback

	mu        sync.Mutex
	connected bool
	filters   []string
	handler   ports.MessageHandler
	onChange  []func(bool)
}

func (c *LoopbackClient) Subscribe(filters []string, h ports.MessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filters = append([]string(nil), filters...)
	c.handler = h
}

func (c *LoopbackClient) OnConnectionChange(fn func(bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = append(c.onChange, fn)
}

func (c *LoopbackClient) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.setConnected(true)
	return nil
}

// Drop simulates a connection loss.
func (c *LoopbackClient) Drop() { c.setConnected(false) }

func (c *LoopbackClient) Publish(topic string, payload []byte) bool {
	if !c.IsConnected() {
		return false
	}
	c.hub.route(topic, append([]byte(nil), payload...))
	return true
}

func (c *LoopbackClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *LoopbackClient) Close() { c.setConnected(false) }

func (c *LoopbackClient) setConnected(v bool) {
	c.mu.Lock()
	changed := c.connected != v
	c.connected = v
	hooks := append([]func(bool){}, c.onChange...)
	c.mu.Unlock()
	if !changed {
		return
	}
	for _, fn := range hooks {
		fn(v)
	}
}

func (c *LoopbackClient) deliver(topic string, payload []byte) {
	c.mu.Lock()
	if !c.connected || c.handler == nil {
		c.mu.Unlock()
		return
	}
	h := c.handler
	matched := false
	for _, f := range c.filters {
		if Match(f, topic) {
			matched = true
			break
		}
	}
	c.mu.Unlock()
	if matched {
		h(topic, payload)
	}
}

// Match reports whether topic matches an MQTT subscription filter.
func Match(filter, topic string) bool {
	fs := strings.Split(filter, "/")
	ts := strings.Split(topic, "/")
	for i, f := range fs {
		if f == "#" {
			return true
		}
		if i >= len(ts) {
			return false
		}
		if f != "+" && f != ts[i] {
			return false
		}
	}
	return len(fs) == len(ts)
}

var _ ports.Broker = (*LoopbackClient)(nil)

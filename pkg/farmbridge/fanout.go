package farmbridge

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/domain"
	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/ports"
)

// ErrChannelFanOutClosed is returned when a channel fan-out is used after close.
var ErrChannelFanOutClosed = errors.New("farmbridge: channel fan-out closed")

// Event is one relayed cloud event.
type Event struct {
	Farm    FarmID
	Kind    string
	Payload []byte
}

// EventFunc receives events from a callback fan-out.
type EventFunc func(ctx context.Context, ev Event) error

// NewCallbackFanOut adapts fn into a FanOut.
func NewCallbackFanOut(fn EventFunc) FanOut {
	return &callbackFanOut{fn: fn}
}

// NewChannelFanOut exposes events on a channel. The returned func closes the
// channel and must be called once the runtime has stopped.
func NewChannelFanOut(buffer int) (FanOut, <-chan Event, func()) {
	if buffer < 0 {
		buffer = 0
	}
	ch := make(chan Event, buffer)
	f := &channelFanOut{ch: ch, closed: make(chan struct{})}
	return f, ch, f.close
}

// MultiFanOut broadcasts to every target and joins their errors.
func MultiFanOut(targets ...FanOut) FanOut {
	out := make(multiFanOut, 0, len(targets))
	for _, t := range targets {
		if t != nil {
			out = append(out, t)
		}
	}
	return out
}

type callbackFanOut struct {
	fn EventFunc
}

func (c *callbackFanOut) Broadcast(ctx context.Context, farm domain.FarmID, event string, payload []byte) error {
	if c.fn == nil {
		return fmt.Errorf("callback fan-out: nil handler")
	}
	return c.fn(ctx, Event{Farm: farm, Kind: event, Payload: append([]byte(nil), payload...)})
}

type channelFanOut struct {
	mu     sync.RWMutex
	ch     chan Event
	closed chan struct{}
	once   sync.Once
}

// Broadcast waits for room in the channel, the fan-out closing or ctx.
func (c *channelFanOut) Broadcast(ctx context.Context, farm domain.FarmID, event string, payload []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	select {
	case <-c.closed:
		return ErrChannelFanOutClosed
	default:
	}

	ev := Event{Farm: farm, Kind: event, Payload: append([]byte(nil), payload...)}
	select {
	case <-c.closed:
		return ErrChannelFanOutClosed
	case <-ctx.Done():
		return ctx.Err()
	case c.ch <- ev:
		return nil
	}
}

func (c *channelFanOut) close() {
	c.once.Do(func() {
		close(c.closed)
		c.mu.Lock()
		close(c.ch)
		c.mu.Unlock()
	})
}

type multiFanOut []FanOut

func (m multiFanOut) Broadcast(ctx context.Context, farm domain.FarmID, event string, payload []byte) error {
	var errs []error
	for _, t := range m {
		if err := t.Broadcast(ctx, farm, event, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var (
	_ ports.FanOut = (*callbackFanOut)(nil)
	_ ports.FanOut = (*channelFanOut)(nil)
	_ ports.FanOut = multiFanOut(nil)
)

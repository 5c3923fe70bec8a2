package farmbridge

import (
	"errors"
	"fmt"
	"sync"

	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/domain"
	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/ports"
)

// ErrFeedClosed is returned by Publish after the feed has been closed.
var ErrFeedClosed = errors.New("farmbridge: feed closed")

// ErrFeedNotStarted is returned by Publish before the runtime started the feed.
var ErrFeedNotStarted = errors.New("farmbridge: feed not started")

// FeedCollector is a Collector driven by the embedding program. Readings
// passed to Publish flow through the same path as OPC UA data changes.
type FeedCollector struct {
	mu      sync.Mutex
	out     chan<- domain.Reading
	stopped chan struct{}
	closed  bool
}

func NewFeedCollector() *FeedCollector { return &FeedCollector{} }

func (f *FeedCollector) Start(out chan<- domain.Reading) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrFeedClosed
	}
	if f.out != nil {
		return fmt.Errorf("feed collector already started")
	}
	f.out = out
	f.stopped = make(chan struct{})
	return nil
}

// Stop detaches the feed; a later Start may attach it again.
func (f *FeedCollector) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detachLocked()
	return nil
}

// Publish blocks until the runtime accepts the reading or stops the feed.
func (f *FeedCollector) Publish(r Reading) error {
	f.mu.Lock()
	out, stopped, closed := f.out, f.stopped, f.closed
	f.mu.Unlock()
	if closed {
		return ErrFeedClosed
	}
	if out == nil {
		return ErrFeedNotStarted
	}
	select {
	case out <- r:
		return nil
	case <-stopped:
		return ErrFeedNotStarted
	}
}

// Close rejects further readings.
func (f *FeedCollector) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.detachLocked()
}

func (f *FeedCollector) detachLocked() {
	if f.stopped != nil {
		close(f.stopped)
		f.stopped = nil
	}
	f.out = nil
}

var _ ports.Collector = (*FeedCollector)(nil)

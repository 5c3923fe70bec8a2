package ondemand

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/ports"
)

const DefaultInterval = 3 * time.Second

// Publisher reference-counts remote viewers and keeps a telemetry ticker
// running exactly while at least one is attached.
type Publisher struct {
	mu       sync.Mutex
	count    int
	ticker   *clock.Ticker
	done     chan struct{}
	wg       sync.WaitGroup
	interval time.Duration
	publish  func()
	clk      clock.Clock
	obs      ports.Observability
}

func New(interval time.Duration, publish func(), clk clock.Clock, obs ports.Observability) *Publisher {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Publisher{interval: interval, publish: publish, clk: clk, obs: obs}
}

// AddSubscriber increments the viewer count. On 0→1 it publishes once and
// starts the ticker.
func (p *Publisher) AddSubscriber() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.count++
	p.obs.SetGauge("farm_ondemand_subscribers", float64(p.count))
	if p.count == 1 {
		p.startLocked()
	}
}

// RemoveSubscriber decrements the viewer count, never below zero. On 1→0 it
// stops the ticker.
func (p *Publisher) RemoveSubscriber() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.count == 0 {
		return
	}
	p.count--
	p.obs.SetGauge("farm_ondemand_subscribers", float64(p.count))
	if p.count == 0 {
		p.stopLocked()
	}
}

func (p *Publisher) IsPublishing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ticker != nil
}

func (p *Publisher) SubscriberCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}

// Stop halts the ticker and waits for an in-flight publish. The count is
// reset so a later AddSubscriber starts from scratch.
func (p *Publisher) Stop() {
	p.mu.Lock()
	p.count = 0
	p.stopLocked()
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Publisher) startLocked() {
	p.ticker = p.clk.Ticker(p.interval)
	p.done = make(chan struct{})
	p.obs.LogInfo("ondemand_started", ports.Field{Key: "interval", Value: p.interval.String()})

	ticks, done := p.ticker.C, p.done
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.fire()
		for {
			select {
			case <-done:
				return
			case <-ticks:
				select {
				case <-done:
					return
				default:
				}
				p.fire()
			}
		}
	}()
}

func (p *Publisher) stopLocked() {
	if p.ticker == nil {
		return
	}
	p.ticker.Stop()
	close(p.done)
	p.ticker, p.done = nil, nil
	p.obs.LogInfo("ondemand_stopped")
}

func (p *Publisher) fire() {
	if p.publish != nil {
		p.publish()
	}
}

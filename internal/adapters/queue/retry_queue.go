package queue

import (
	"sync"

	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/ports"
)

// DefaultCapacity is one hour of one-minute ingestion cycles.
const DefaultCapacity = 60

// RetryQueue is a bounded in-memory FIFO of undelivered payloads. When full it
// drops the oldest entry, so a long outage keeps the most recent data.
type RetryQueue struct {
	mu   sync.Mutex
	data []ports.RetryEntry
	cap  int
	obs  ports.Observability
}

func NewRetryQueue(capacity int, obs ports.Observability) *RetryQueue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &RetryQueue{
		data: make([]ports.RetryEntry, 0, capacity),
		cap:  capacity,
		obs:  obs,
	}
}

func (q *RetryQueue) Enqueue(entry ports.RetryEntry) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	evicted := false
	if len(q.data) >= q.cap {
		oldest := q.data[0]
		q.data = append(q.data[:0], q.data[1:]...)
		evicted = true
		if q.obs != nil {
			q.obs.LogWarn("retry_queue_evicted",
				ports.Field{Key: "enqueued_at", Value: oldest.EnqueuedAt},
				ports.Field{Key: "bytes", Value: len(oldest.Payload)},
				ports.Field{Key: "capacity", Value: q.cap})
			q.obs.IncCounter("farm_retry_queue_evicted_total", 1)
		}
	}
	q.data = append(q.data, entry)
	if q.obs != nil {
		q.obs.SetGauge("farm_retry_queue_length", float64(len(q.data)))
	}
	return evicted
}

func (q *RetryQueue) DrainAll() []ports.RetryEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.data) == 0 {
		return nil
	}
	out := make([]ports.RetryEntry, len(q.data))
	copy(out, q.data)
	q.data = q.data[:0]
	if q.obs != nil {
		q.obs.SetGauge("farm_retry_queue_length", 0)
	}
	return out
}

func (q *RetryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.data)
}

func (q *RetryQueue) Cap() int { return q.cap }

var _ ports.RetryQueue = (*RetryQueue)(nil)

package ports

import "time"

// RetryEntry is an immutable serialized ingestion payload awaiting delivery.
type RetryEntry struct {
	Payload    []byte
	EnqueuedAt time.Time
}

type RetryQueue interface {
	// Enqueue appends entry, evicting the oldest entry when full. It reports
	// whether an eviction happened.
	Enqueue(entry RetryEntry) bool
	// DrainAll removes and returns every entry, oldest first.
	DrainAll() []RetryEntry
	Len() int
}

package queue

import (
	"errors"
	"time"
)

// Errors
var (
	ErrQueueFull   = errors.New("request queue full")
	ErrDropped     = errors.New("request dropped to make room for newer work")
	ErrQueueClosed = errors.New("request queue closed")
)

// Priority orders items within one queue.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityHigh
)

func (p Priority) String() string {
	if p == PriorityHigh {
		return "high"
	}
	return "low"
}

// Config configures one named queue.
//
// Ordering: high items are dequeued before low items, except that a waiting
// low item is served after HighBurst consecutive high items or once it has
// waited MaxWait, whichever comes first.
//
// Overflow (Capacity pending items, both priorities together): a new item
// evicts the oldest pending low item, which fails with ErrDropped. If no low
// item is pending the new item is rejected with ErrQueueFull.
type Config struct {
	Concurrency int           // Max items running at once
	Rate        float64       // Items started per second, 0 = unpaced
	Burst       int           // Token bucket burst
	Capacity    int           // Max pending items
	MaxWait     time.Duration // Age at which a low item is promoted, 0 = never
	HighBurst   int           // Max consecutive high items while low items wait
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency: 4,
		Rate:        20,
		Burst:       10,
		Capacity:    256,
		MaxWait:     2 * time.Second,
		HighBurst:   4,
	}
}

// Stats is a point-in-time view of one queue.
type Stats struct {
	PendingHigh int
	PendingLow  int
	Running     int
	Completed   int64
	Failed      int64
	Dropped     int64
	Rejected    int64
}

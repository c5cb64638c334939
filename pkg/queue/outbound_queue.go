package queue

import (
	"sync"
	"time"

	"github.com/tablestakes/game-session/pkg/clock"
	"github.com/tablestakes/game-session/pkg/interfaces"
)

const (
	DefaultMaxSize = 50
	DefaultTTL     = 30 * time.Second
)

// OutboundQueue is a bounded FIFO of frames awaiting a live connection.
// Inserting at capacity evicts the oldest entry; entries older than the TTL
// are discarded on flush instead of being sent.
type OutboundQueue struct {
	entries []interfaces.QueuedMessage
	maxSize int
	ttl     time.Duration
	clock   clock.Clock
	mutex   sync.Mutex
	stats   interfaces.QueueStats
}

// NewOutboundQueue creates a queue with default capacity and TTL
func NewOutboundQueue() *OutboundQueue {
	return NewOutboundQueueWithConfig(DefaultMaxSize, DefaultTTL, nil)
}

// NewOutboundQueueWithConfig creates a queue with the given capacity, TTL and clock
func NewOutboundQueueWithConfig(maxSize int, ttl time.Duration, clk clock.Clock) *OutboundQueue {
	if maxSize < 1 {
		maxSize = DefaultMaxSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if clk == nil {
		clk = clock.New()
	}

	return &OutboundQueue{
		entries: make([]interfaces.QueuedMessage, 0, maxSize),
		maxSize: maxSize,
		ttl:     ttl,
		clock:   clk,
		stats: interfaces.QueueStats{
			MaxSize: maxSize,
			TTL:     ttl,
		},
	}
}

// Enqueue appends a frame stamped with the current time. It reports whether
// the oldest entry had to be evicted to make room.
func (q *OutboundQueue) Enqueue(payload []byte) bool {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	evicted := false
	if len(q.entries) >= q.maxSize {
		q.entries = q.entries[1:]
		q.stats.EvictedCount++
		q.stats.LastEviction = q.clock.Now()
		evicted = true
	}

	q.entries = append(q.entries, interfaces.QueuedMessage{
		Payload:    payload,
		EnqueuedAt: q.clock.Now(),
	})

	q.stats.TotalEnqueued++
	q.stats.CurrentSize = len(q.entries)
	return evicted
}

// Flush empties the queue and returns the entries still within the TTL, in
// enqueue order. Expired entries are dropped.
func (q *OutboundQueue) Flush() []interfaces.QueuedMessage {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	now := q.clock.Now()
	fresh := make([]interfaces.QueuedMessage, 0, len(q.entries))
	for _, entry := range q.entries {
		if now.Sub(entry.EnqueuedAt) > q.ttl {
			q.stats.ExpiredCount++
			continue
		}
		fresh = append(fresh, entry)
	}

	q.entries = make([]interfaces.QueuedMessage, 0, q.maxSize)
	q.stats.TotalFlushed += int64(len(fresh))
	q.stats.CurrentSize = 0

	return fresh
}

// Requeue puts entries back in front of anything queued since, keeping their
// original timestamps. The capacity bound still applies, oldest first.
func (q *OutboundQueue) Requeue(entries []interfaces.QueuedMessage) {
	if len(entries) == 0 {
		return
	}

	q.mutex.Lock()
	defer q.mutex.Unlock()

	combined := make([]interfaces.QueuedMessage, 0, len(entries)+len(q.entries))
	combined = append(combined, entries...)
	combined = append(combined, q.entries...)

	if overflow := len(combined) - q.maxSize; overflow > 0 {
		combined = combined[overflow:]
		q.stats.EvictedCount += int64(overflow)
		q.stats.LastEviction = q.clock.Now()
	}

	q.entries = combined
	q.stats.TotalFlushed -= int64(len(entries))
	q.stats.CurrentSize = len(q.entries)
}

// Len returns the number of queued entries
func (q *OutboundQueue) Len() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return len(q.entries)
}

// Clear drops every queued entry without counting them as expired
func (q *OutboundQueue) Clear() {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	q.entries = make([]interfaces.QueuedMessage, 0, q.maxSize)
	q.stats.CurrentSize = 0
}

// GetQueueStats returns current queue statistics
func (q *OutboundQueue) GetQueueStats() interfaces.QueueStats {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return q.stats
}

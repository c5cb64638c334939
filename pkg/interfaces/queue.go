package interfaces

import (
	"time"
)

// QueuedMessage is an outbound frame waiting for a live connection
type QueuedMessage struct {
	Payload    []byte
	EnqueuedAt time.Time
}

// MessageQueue buffers outbound frames while the connection is down
type MessageQueue interface {
	Enqueue(payload []byte) (evicted bool)
	Flush() []QueuedMessage
	Requeue(entries []QueuedMessage)
	Len() int
	Clear()
	GetQueueStats() QueueStats
}

// QueueStats provides outbound queue metrics
type QueueStats struct {
	CurrentSize   int
	MaxSize       int
	TTL           time.Duration
	TotalEnqueued int64
	TotalFlushed  int64
	EvictedCount  int64
	ExpiredCount  int64
	LastEviction  time.Time
}

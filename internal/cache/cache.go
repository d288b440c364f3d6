package cache

import (
	"context"
	"sync"
)

// Receipts remembers which channel message IDs went out to a recipient, so
// delivery-status callbacks can be correlated later.
type Receipts interface {
	RecordSent(ctx context.Context, recipientID, messageID string) error
	WasSent(ctx context.Context, recipientID, messageID string) (bool, error)
}

// CallQuota counts escalation calls per local calendar day.
type CallQuota interface {
	Today(ctx context.Context, day string) (int, error)
	Increment(ctx context.Context, day string) error
}

// MemoryQuota is the in-process quota used when Redis is not configured.
// Counts for past days are kept until restart; only the current day's key is
// ever read.
type MemoryQuota struct {
	mu     sync.Mutex
	counts map[string]int
}

func NewMemoryQuota() *MemoryQuota {
	return &MemoryQuota{counts: make(map[string]int)}
}

func (q *MemoryQuota) Today(_ context.Context, day string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.counts[day], nil
}

func (q *MemoryQuota) Increment(_ context.Context, day string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.counts[day]++
	return nil
}

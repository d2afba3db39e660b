package ingest

import (
	"fmt"
	"sync"
)

// Guard enforces the aggregate byte limit across all file parts of one
// ingestion.
type Guard struct {
	mu    sync.Mutex
	limit int64
	total int64
}

// NewGuard returns a guard for limit bytes. A limit <= 0 disables it.
func NewGuard(limit int64) *Guard {
	return &Guard{limit: limit}
}

// Add counts n more bytes and fails with ErrAggregateLimit once the total
// exceeds the limit.
func (g *Guard) Add(n int) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.total += int64(n)
	if g.limit > 0 && g.total > g.limit {
		return fmt.Errorf("%w: %d bytes received, limit %d", ErrAggregateLimit, g.total, g.limit)
	}
	return nil
}

// Total returns the bytes counted so far.
func (g *Guard) Total() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.total
}

package ingest

import (
	"context"
	"sync"
)

// Completion is the deferred "all uploads flushed" signal. It settles once:
// resolved (nil error) after every write future joined and the structures
// were finalized, or rejected with the terminating error.
type Completion struct {
	once sync.Once
	done chan struct{}
	err  error
}

func newCompletion() *Completion {
	return &Completion{done: make(chan struct{})}
}

// settle resolves (err == nil) or rejects the completion. Only the first call
// has an effect; it reports whether it was that call.
func (c *Completion) settle(err error) bool {
	settled := false
	c.once.Do(func() {
		c.err = err
		close(c.done)
		settled = true
	})
	return settled
}

// Done is closed when the completion settles.
func (c *Completion) Done() <-chan struct{} { return c.done }

// Err returns the rejection error, or nil while pending or when resolved.
func (c *Completion) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Wait blocks until the completion settles or ctx is done.
func (c *Completion) Wait(ctx context.Context) error {
	select {
	case <-c.done:
		return c.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

package ingest

import "sync"

// CleanupRegistry collects the release callbacks of every backend opened for
// one ingestion and runs them exactly once.
type CleanupRegistry struct {
	mu     sync.Mutex
	fns    []func()
	fired  bool
	detach func() bool
}

// Add registers fn. If the registry already fired, fn runs immediately so a
// part opened during teardown is still released.
func (c *CleanupRegistry) Add(fn func()) {
	c.mu.Lock()
	if c.fired {
		c.mu.Unlock()
		fn()
		return
	}
	c.fns = append(c.fns, fn)
	c.mu.Unlock()
}

// SetDetach installs the function that unsubscribes the abort listener. It is
// called once, after the callbacks ran.
func (c *CleanupRegistry) SetDetach(detach func() bool) {
	c.mu.Lock()
	c.detach = detach
	c.mu.Unlock()
}

// RunAll invokes every registered callback once and detaches the abort
// listener. Later calls are no-ops. It reports whether this call did the work.
func (c *CleanupRegistry) RunAll() bool {
	c.mu.Lock()
	if c.fired {
		c.mu.Unlock()
		return false
	}
	c.fired = true
	fns, detach := c.fns, c.detach
	c.fns, c.detach = nil, nil
	c.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
	if detach != nil {
		detach()
	}
	return true
}

// Fired reports whether RunAll has run.
func (c *CleanupRegistry) Fired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fired
}

// Len returns the number of callbacks waiting to run.
func (c *CleanupRegistry) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.fns)
}

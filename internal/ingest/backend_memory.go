package ingest

import (
	"bytes"
	"context"
	"sync"
)

// MemoryBackend buffers a file part in RAM.
type MemoryBackend struct {
	mu     sync.Mutex
	buf    *bytes.Buffer
	digest digest
	closed bool
}

// NewMemoryBackend returns an empty memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		buf:    new(bytes.Buffer),
		digest: newDigest(),
	}
}

func (m *MemoryBackend) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || m.buf == nil {
		return 0, ErrBackendClosed
	}
	m.digest.add(p)
	return m.buf.Write(p)
}

func (m *MemoryBackend) Path() string { return "" }

func (m *MemoryBackend) Size() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.digest.size
}

func (m *MemoryBackend) Hash() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.digest.hex()
}

// Finalize returns the assembled buffer, or nil once the backend was cleaned up.
func (m *MemoryBackend) Finalize() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	if m.buf == nil {
		return nil
	}
	return m.buf.Bytes()
}

// Cleanup drops the buffer reference.
func (m *MemoryBackend) Cleanup() {
	m.mu.Lock()
	m.closed = true
	m.buf = nil
	m.mu.Unlock()
}

// Wait resolves immediately; there is no external I/O to await.
func (m *MemoryBackend) Wait(context.Context) error { return nil }

package ingest

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// pendingChunks bounds how far the decoder may run ahead of the disk writer.
const pendingChunks = 16

// TempFileBackend streams a file part into a uniquely named file. Chunks are
// handed to a writer goroutine so that disk I/O of one part overlaps with
// reading the next part from the request body.
type TempFileBackend struct {
	path   string
	logger *slog.Logger

	mu      sync.Mutex
	digest  digest
	chunks  chan []byte
	closed  bool
	removed bool

	done chan struct{}
	err  error
}

// NewTempFileBackend creates the temp directory if needed and opens a new
// file in it.
func NewTempFileBackend(dir string, logger *slog.Logger) (*TempFileBackend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create temp directory: %w", err)
	}

	path := filepath.Join(dir, "tmp-"+uuid.NewString())
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open temp file: %w", err)
	}

	b := &TempFileBackend{
		path:   path,
		logger: logger,
		digest: newDigest(),
		chunks: make(chan []byte, pendingChunks),
		done:   make(chan struct{}),
	}
	go b.writeLoop(f)
	return b, nil
}

// writeLoop drains chunks until the channel is closed. After a write error
// it keeps draining so that senders never block forever.
func (b *TempFileBackend) writeLoop(f *os.File) {
	defer close(b.done)

	w := bufio.NewWriterSize(f, readChunkSize)
	var err error
	for chunk := range b.chunks {
		if err != nil {
			continue
		}
		_, err = w.Write(chunk)
	}
	if err == nil {
		err = w.Flush()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		b.err = fmt.Errorf("write temp file %s: %w", b.path, err)
	}
}

func (b *TempFileBackend) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0, ErrBackendClosed
	}
	chunk := make([]byte, len(p))
	copy(chunk, p)
	b.digest.add(chunk)
	b.chunks <- chunk
	return len(p), nil
}

func (b *TempFileBackend) Path() string { return b.path }

func (b *TempFileBackend) Size() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.digest.size
}

func (b *TempFileBackend) Hash() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.digest.hex()
}

// Finalize closes the write side. The payload stays on disk, so it returns nil.
func (b *TempFileBackend) Finalize() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closeLocked()
	return nil
}

func (b *TempFileBackend) closeLocked() {
	if !b.closed {
		b.closed = true
		close(b.chunks)
	}
}

// Wait resolves when the writer goroutine flushed and closed the file.
func (b *TempFileBackend) Wait(ctx context.Context) error {
	select {
	case <-b.done:
		return b.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cleanup stops the writer and removes the file. A file that was already
// moved away is not an error.
func (b *TempFileBackend) Cleanup() {
	b.mu.Lock()
	b.closeLocked()
	if b.removed {
		b.mu.Unlock()
		return
	}
	b.removed = true
	b.mu.Unlock()

	<-b.done
	if err := os.Remove(b.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		b.logger.Warn("failed to remove temp file", "path", b.path, "error", err)
	}
}

package ingest

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"hash"
)

// Backend is the per-part sink for file bytes.
//
// Write is called from the decoder goroutine in arrival order. Cleanup may be
// called from any goroutine, at most once per ingestion, and must be safe to
// run while a Write is in flight.
type Backend interface {
	Write(p []byte) (int, error)

	// Path is the on-disk location of the payload, "" for memory backends.
	Path() string
	// Size is the number of bytes accepted so far.
	Size() int64
	// Hash is the hex MD5 of the bytes accepted so far.
	Hash() string

	// Finalize closes the write side and returns the in-memory payload, if
	// any. It is idempotent.
	Finalize() []byte
	// Cleanup releases the payload. Failures are logged, never returned.
	Cleanup()

	// Wait is the write future: it returns once every accepted byte has been
	// flushed, or the first write error.
	Wait(ctx context.Context) error
}

// digest tracks size and MD5 identically for every backend.
type digest struct {
	size int64
	sum  hash.Hash
}

func newDigest() digest {
	return digest{sum: md5.New()}
}

func (d *digest) add(p []byte) {
	d.size += int64(len(p))
	d.sum.Write(p)
}

func (d *digest) hex() string {
	return hex.EncodeToString(d.sum.Sum(nil))
}

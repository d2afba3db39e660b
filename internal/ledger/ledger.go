// Package ledger records completed ingestions.
//
// A Record is built from a settled ingest.Ingestion with FromIngestion and
// saved through a Store: PostgresStore when a database is configured,
// MemoryStore otherwise.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/JonMunkholm/formingest/internal/ingest"
)

// ErrNotFound is returned by Get for unknown ids.
var ErrNotFound = errors.New("upload not found")

// Record is one completed ingestion.
type Record struct {
	ID         string         `json:"id"`
	ReceivedAt time.Time      `json:"received_at"`
	RemoteAddr string         `json:"remote_addr,omitempty"`
	Fields     map[string]any `json:"fields"`
	Files      []FileRecord   `json:"files"`
	TotalBytes int64          `json:"total_bytes"`
}

// FileRecord describes one stored file of a Record.
type FileRecord struct {
	Field      string `json:"field"`
	Name       string `json:"name"`
	MimeType   string `json:"mimetype"`
	Encoding   string `json:"encoding"`
	MD5        string `json:"md5"`
	Size       int64  `json:"size"`
	Truncated  bool   `json:"truncated"`
	StoredPath string `json:"stored_path,omitempty"`
}

// Summary is the list view of a Record.
type Summary struct {
	ID         string    `json:"id"`
	ReceivedAt time.Time `json:"received_at"`
	FileCount  int       `json:"file_count"`
	TotalBytes int64     `json:"total_bytes"`
}

// Store persists records.
type Store interface {
	Save(ctx context.Context, rec Record) error
	Get(ctx context.Context, id string) (Record, error)
	// List returns the most recent records first.
	List(ctx context.Context, limit int) ([]Summary, error)
}

// FromIngestion builds a record from an ingestion whose completion resolved.
// stored maps files to the location they were moved to, if any.
func FromIngestion(ing *ingest.Ingestion, remoteAddr string, stored map[*ingest.File]string) Record {
	rec := Record{
		ID:         ing.ID,
		ReceivedAt: time.Now().UTC(),
		RemoteAddr: remoteAddr,
		Fields:     map[string]any(ing.Fields()),
		Files:      []FileRecord{},
		TotalBytes: ing.BytesReceived(),
	}

	ing.Files().Each(func(f *ingest.File) {
		rec.Files = append(rec.Files, FileRecord{
			Field:      f.Field,
			Name:       f.Name,
			MimeType:   f.MimeType,
			Encoding:   f.Encoding,
			MD5:        f.Hash,
			Size:       f.Size,
			Truncated:  f.Truncated,
			StoredPath: stored[f],
		})
	})
	return rec
}

func (r Record) summary() Summary {
	return Summary{
		ID:         r.ID,
		ReceivedAt: r.ReceivedAt,
		FileCount:  len(r.Files),
		TotalBytes: r.TotalBytes,
	}
}

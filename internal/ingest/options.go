package ingest

import (
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// StorageMode selects where file part payloads are stored.
type StorageMode string

const (
	// StorageMemory keeps every file part in a growable in-memory buffer.
	StorageMemory StorageMode = "memory"
	// StorageTempFile streams every file part into its own temp file.
	StorageTempFile StorageMode = "tempfile"
)

// Defaults applied by Options.withDefaults.
const (
	DefaultFieldSizeLimit    int64 = 1 << 20
	DefaultMaxFileNameLength       = 255
	DefaultResponseOnLimit         = "File size limit has been reached"
	defaultExtensionLength         = 3
	readChunkSize                  = 32 << 10
)

// Handler is invoked with the request/response pair of the ingestion and the
// terminal error that caused it. Limit handlers are expected to produce the
// HTTP response and close the connection.
type Handler func(w http.ResponseWriter, r *http.Request, err error)

// BackendFactory creates the storage backend for one file part.
type BackendFactory func(field, filename string) (Backend, error)

// Options configures an ingestion. The zero value stores in memory with no
// byte limits.
type Options struct {
	StorageMode StorageMode

	// PerPartSizeLimit caps bytes stored for a single file part (0 = none).
	PerPartSizeLimit int64
	// AggregateSizeLimit caps bytes across all file parts (0 = none). It is
	// also compared against the declared Content-Length before parsing.
	AggregateSizeLimit int64
	// MaxFileParts caps the number of file parts (0 = none).
	MaxFileParts int
	// FieldSizeLimit truncates field values silently.
	FieldSizeLimit int64

	// AbortOnLimit turns a per-part limit hit into a 413 response instead of
	// silent truncation. Ignored when LimitHandler is set.
	AbortOnLimit    bool
	ResponseOnLimit string

	LimitHandler      Handler
	FilesLimitHandler Handler
	// ErrorHandler answers malformed bodies and timeouts that happen before
	// the downstream handler took over.
	ErrorHandler Handler

	ParseNestedKeys bool
	// DeferContinuation waits for the whole body before handing control to
	// the downstream handler instead of continuing on the first file part.
	DeferContinuation bool

	TempDirectory  string
	BackendFactory BackendFactory

	SafeFileNames      bool
	PreserveExtension  int
	URIDecodeFileNames bool
	MaxFileNameLength  int
	CreateParentPath   bool

	// UploadTimeout fails the ingestion when no body bytes arrive for this
	// long (0 = no idle timeout).
	UploadTimeout time.Duration

	DebugLogging bool
	Logger       *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.StorageMode == "" {
		o.StorageMode = StorageMemory
	}
	if o.FieldSizeLimit <= 0 {
		o.FieldSizeLimit = DefaultFieldSizeLimit
	}
	if o.MaxFileNameLength <= 0 {
		o.MaxFileNameLength = DefaultMaxFileNameLength
	}
	if o.ResponseOnLimit == "" {
		o.ResponseOnLimit = DefaultResponseOnLimit
	}
	if o.TempDirectory == "" {
		o.TempDirectory = filepath.Join(os.TempDir(), "formingest")
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// newBackend builds the backend for one file part according to the options.
func (o Options) newBackend(field, filename string) (Backend, error) {
	if o.BackendFactory != nil {
		return o.BackendFactory(field, filename)
	}
	switch o.StorageMode {
	case StorageTempFile:
		return NewTempFileBackend(o.TempDirectory, o.Logger)
	default:
		return NewMemoryBackend(), nil
	}
}

package ingest

// decoder.go drives one ingestion as a small state machine:
//
//	receiving-fields -> receiving-files -> draining-writes -> terminal
//
// Any state may jump straight to terminal on a limit, a parse error or a
// client abort. The decoder goroutine owns every transition except the abort,
// which arrives through context.AfterFunc on the request context; both paths
// go through terminate, which is guarded by the ingestion mutex.

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// State is the phase an ingestion is in.
type State int

const (
	StateReceivingFields State = iota
	StateReceivingFiles
	StateDraining
	StateTerminal
)

func (s State) String() string {
	switch s {
	case StateReceivingFields:
		return "receiving-fields"
	case StateReceivingFiles:
		return "receiving-files"
	case StateDraining:
		return "draining-writes"
	case StateTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

var errClosed = errors.New("ingestion closed")

// deadliner is satisfied by http.ResponseController.
type deadliner interface {
	SetReadDeadline(time.Time) error
}

// Ingestion is the request-scoped context of one multipart body. It owns the
// field and file structures, the cleanup registry, the byte guard and the
// completion signal.
type Ingestion struct {
	ID string

	opts     Options
	logger   *slog.Logger
	boundary string

	mu         sync.Mutex
	state      State
	fields     map[string]any
	files      map[string]any
	normalized bool
	fileParts  int
	pending    []Backend

	guard      *Guard
	cleanups   CleanupRegistry
	completion *Completion
	stopAbort  func() bool

	continued        chan struct{}
	continueOnce     sync.Once
	alreadyContinued atomic.Bool

	ctx     context.Context
	cancel  context.CancelFunc
	stopped chan struct{}

	deadline deadliner
	source   *sourceReader
}

// Decode starts ingesting body in a background goroutine and returns
// immediately. The declared contentLength (-1 if unknown) is checked against
// the aggregate limit first; when it is over, nothing is started and
// ErrContentLength is returned. Cancelling ctx aborts the ingestion. The
// caller releases stored payloads with Close.
func Decode(ctx context.Context, body io.Reader, contentType string, contentLength int64, opts Options) (*Ingestion, error) {
	opts = opts.withDefaults()
	if err := precheck(opts, contentLength); err != nil {
		return nil, err
	}
	ing, err := newIngestion(ctx, contentType, opts)
	if err != nil {
		return nil, err
	}
	go ing.run(body)
	return ing, nil
}

func precheck(opts Options, contentLength int64) error {
	if opts.AggregateSizeLimit > 0 && contentLength > opts.AggregateSizeLimit {
		return fmt.Errorf("%w: content-length %d, limit %d", ErrContentLength, contentLength, opts.AggregateSizeLimit)
	}
	return nil
}

func newIngestion(ctx context.Context, contentType string, opts Options) (*Ingestion, error) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil || mediaType != "multipart/form-data" {
		return nil, ErrNotMultipart
	}
	boundary := params["boundary"]
	if boundary == "" {
		return nil, fmt.Errorf("%w: missing boundary", ErrNotMultipart)
	}

	id := uuid.NewString()
	ing := &Ingestion{
		ID:         id,
		opts:       opts,
		logger:     opts.Logger.With("component", "ingest", "ingestion_id", id),
		boundary:   boundary,
		state:      StateReceivingFields,
		fields:     make(map[string]any),
		files:      make(map[string]any),
		guard:      NewGuard(opts.AggregateSizeLimit),
		completion: newCompletion(),
		continued:  make(chan struct{}),
		stopped:    make(chan struct{}),
	}
	ing.ctx, ing.cancel = context.WithCancel(context.WithoutCancel(ctx))
	ing.stopAbort = context.AfterFunc(ctx, func() {
		ing.debug("request aborted, cleaning up")
		ing.terminate(fmt.Errorf("%w: %w", ErrClientAbort, context.Cause(ctx)))
	})
	ing.cleanups.SetDetach(ing.stopAbort)
	return ing, nil
}

// Fields returns a snapshot of the field structure. After the hand-off it is
// assumed complete; it is empty once the ingestion failed.
func (ing *Ingestion) Fields() Values {
	ing.mu.Lock()
	defer ing.mu.Unlock()
	return Values(ing.view(ing.fields))
}

// Files returns a snapshot of the file structure. Records are authoritative
// only after Wait returned nil; it is empty once the ingestion failed.
func (ing *Ingestion) Files() FileSet {
	ing.mu.Lock()
	defer ing.mu.Unlock()
	return FileSet(ing.view(ing.files))
}

func (ing *Ingestion) view(m map[string]any) map[string]any {
	if ing.completion.Err() != nil {
		return map[string]any{}
	}
	out, _ := clone(m).(map[string]any)
	if ing.opts.ParseNestedKeys && !ing.normalized {
		return nest(out)
	}
	return out
}

// AlreadyContinued reports whether the early hand-off happened, i.e. a file
// part arrived and downstream processing was allowed to proceed.
func (ing *Ingestion) AlreadyContinued() bool { return ing.alreadyContinued.Load() }

// Continued is closed on the first file part.
func (ing *Ingestion) Continued() <-chan struct{} { return ing.continued }

// Done is closed when the completion signal settles.
func (ing *Ingestion) Done() <-chan struct{} { return ing.completion.Done() }

// Err returns the terminating error once the completion was rejected.
func (ing *Ingestion) Err() error { return ing.completion.Err() }

// Wait blocks until every file was flushed and the structures are final, or
// returns the error that terminated the ingestion.
func (ing *Ingestion) Wait(ctx context.Context) error { return ing.completion.Wait(ctx) }

// State returns the current phase.
func (ing *Ingestion) State() State {
	ing.mu.Lock()
	defer ing.mu.Unlock()
	return ing.state
}

// BytesReceived returns the file bytes accepted so far across all parts.
func (ing *Ingestion) BytesReceived() int64 { return ing.guard.Total() }

// Close releases every stored payload. An ingestion still in progress is
// terminated. Close does not wait for the decoder goroutine.
func (ing *Ingestion) Close() {
	ing.terminate(errClosed)
	ing.cleanups.RunAll()
}

// terminate moves to the terminal state, releases all resources and rejects
// the completion. Only the first terminal condition has an effect.
func (ing *Ingestion) terminate(err error) {
	ing.mu.Lock()
	if ing.state == StateTerminal {
		ing.mu.Unlock()
		return
	}
	ing.state = StateTerminal
	ing.mu.Unlock()

	ing.cancel()
	ing.cleanups.RunAll()
	ing.completion.settle(err)
	if !errors.Is(err, errClosed) {
		ing.debug("ingestion terminated", "error", err)
	}
}

func (ing *Ingestion) terminal() bool {
	ing.mu.Lock()
	defer ing.mu.Unlock()
	return ing.state == StateTerminal
}

// handOff lets downstream processing proceed. It fires at most once.
func (ing *Ingestion) handOff() {
	if ing.opts.DeferContinuation {
		return
	}
	ing.continueOnce.Do(func() {
		ing.alreadyContinued.Store(true)
		close(ing.continued)
		ing.debug("got first file, continuing while uploads finish in background")
	})
}

// run reads the body part by part until it ends or the ingestion terminates.
func (ing *Ingestion) run(body io.Reader) {
	defer close(ing.stopped)
	if ing.deadline != nil && ing.opts.UploadTimeout > 0 {
		body = &idleReader{r: body, d: ing.deadline, timeout: ing.opts.UploadTimeout}
		defer ing.deadline.SetReadDeadline(time.Time{})
	}

	ing.source = &sourceReader{r: body}
	mr := multipart.NewReader(ing.source, ing.boundary)
	buf := make([]byte, readChunkSize)
	for !ing.terminal() {
		part, err := mr.NextRawPart()
		if err == io.EOF {
			ing.finish()
			return
		}
		if err != nil {
			ing.terminate(ing.classify(err))
			return
		}

		// On error the rest of the part is left unread: the body is abandoned.
		if err := ing.handlePart(part, buf); err != nil {
			ing.terminate(err)
			return
		}
		part.Close()
	}
}

func (ing *Ingestion) handlePart(part *multipart.Part, buf []byte) error {
	field := part.FormName()
	if field == "" {
		return nil
	}
	filename, isFile := fileNameParam(part)
	if !isFile {
		return ing.readField(field, part)
	}
	return ing.readFile(field, filename, part, buf)
}

func (ing *Ingestion) readField(field string, part *multipart.Part) error {
	data, err := io.ReadAll(io.LimitReader(part, ing.opts.FieldSizeLimit))
	if err != nil {
		return ing.classify(err)
	}

	ing.mu.Lock()
	if ing.state == StateReceivingFiles {
		ing.debug("field arrived after a file part", "field", field)
	}
	addEntry(ing.fields, field, string(data))
	ing.mu.Unlock()
	return nil
}

func (ing *Ingestion) readFile(field, filename string, part *multipart.Part, buf []byte) error {
	ing.mu.Lock()
	ing.fileParts++
	// The part over the limit never gets a backend.
	over := ing.opts.MaxFileParts > 0 && ing.fileParts > ing.opts.MaxFileParts
	if !over {
		ing.state = StateReceivingFiles
	}
	ing.mu.Unlock()
	if over {
		return fmt.Errorf("%w: more than %d file parts", ErrFilesLimit, ing.opts.MaxFileParts)
	}

	name := parseFileName(ing.opts, filename)
	backend, err := ing.opts.newBackend(field, name)
	if err != nil {
		return fmt.Errorf("%w: create storage for %s: %w", ErrStorage, field, err)
	}
	ing.cleanups.Add(backend.Cleanup)
	ing.debug("new upload started", "field", field, "file", name)
	ing.handOff()

	limit := ing.opts.PerPartSizeLimit
	var written int64
	truncated := false
	for {
		n, rerr := part.Read(buf)
		if n > 0 && !truncated {
			chunk := buf[:n]
			if limit > 0 && written+int64(n) > limit {
				chunk = chunk[:limit-written]
				truncated = true
			}
			if len(chunk) > 0 {
				if err := ing.guard.Add(len(chunk)); err != nil {
					ing.debug("aborting upload because of total size limit", "field", field, "file", name)
					return err
				}
				if _, err := backend.Write(chunk); err != nil {
					return fmt.Errorf("%w: store %s: %w", ErrStorage, field, err)
				}
				written += int64(len(chunk))
			}
			if truncated {
				ing.debug("size limit reached", "field", field, "file", name, "bytes", written)
				if ing.opts.LimitHandler != nil || ing.opts.AbortOnLimit {
					return fmt.Errorf("%w: %s exceeded %d bytes", ErrPartLimit, name, limit)
				}
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return ing.classify(rerr)
		}
	}

	backend.Finalize()
	ing.debug("upload finished", "field", field, "file", name, "bytes", written)
	if filename == "" && written == 0 {
		ing.debug("skipping empty file field", "field", field)
		return nil
	}

	file := &File{
		Field:            field,
		Name:             name,
		TempFilePath:     backend.Path(),
		Hash:             backend.Hash(),
		Size:             backend.Size(),
		Encoding:         headerOr(part, "Content-Transfer-Encoding", "7bit"),
		Truncated:        truncated,
		MimeType:         headerOr(part, "Content-Type", "application/octet-stream"),
		backend:          backend,
		createParentPath: ing.opts.CreateParentPath,
	}

	ing.mu.Lock()
	addEntry(ing.files, field, file)
	ing.pending = append(ing.pending, backend)
	ing.mu.Unlock()
	return nil
}

// finish normalizes the structures, joins every pending write future and
// resolves the completion.
func (ing *Ingestion) finish() {
	ing.mu.Lock()
	if ing.state == StateTerminal {
		ing.mu.Unlock()
		return
	}
	if ing.opts.ParseNestedKeys {
		ing.fields = nest(ing.fields)
		ing.files = nest(ing.files)
		ing.normalized = true
	}
	ing.state = StateDraining
	pending := ing.pending
	ing.mu.Unlock()

	ing.stopAbort()
	ing.debug("parser finished", "files", len(pending), "bytes", ing.guard.Total())

	g, gctx := errgroup.WithContext(ing.ctx)
	for _, b := range pending {
		b := b
		g.Go(func() error { return b.Wait(gctx) })
	}
	if err := g.Wait(); err != nil {
		ing.debug("error while waiting for files to flush", "error", err)
		ing.terminate(fmt.Errorf("%w: %w", ErrStorage, err))
		return
	}

	ing.mu.Lock()
	if ing.state != StateDraining {
		ing.mu.Unlock()
		return
	}
	ing.state = StateTerminal
	ing.mu.Unlock()
	ing.completion.settle(nil)
}

// classify maps a read error to the error taxonomy. Only a failure of the
// body itself counts as a client abort; an unexpected EOF raised by the
// multipart reader on a body that ended cleanly is a malformed body.
func (ing *Ingestion) classify(err error) error {
	var transport error
	if ing.source != nil {
		transport = ing.source.err
	}
	switch {
	case errors.Is(err, os.ErrDeadlineExceeded), errors.Is(transport, os.ErrDeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrUploadTimeout, err)
	case ing.ctx.Err() != nil,
		transport != nil,
		errors.Is(err, net.ErrClosed),
		errors.Is(err, syscall.ECONNRESET):
		return fmt.Errorf("%w: %w", ErrClientAbort, err)
	default:
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	}
}

func (ing *Ingestion) debug(msg string, args ...any) {
	if ing.opts.DebugLogging {
		ing.logger.Info(msg, args...)
		return
	}
	ing.logger.Debug(msg, args...)
}

// fileNameParam reports the raw filename parameter of the part and whether
// it was present at all. An empty filename still marks a file part.
func fileNameParam(part *multipart.Part) (string, bool) {
	_, params, err := mime.ParseMediaType(part.Header.Get("Content-Disposition"))
	if err != nil {
		return "", false
	}
	name, ok := params["filename"]
	return name, ok
}

func headerOr(part *multipart.Part, key, def string) string {
	if v := part.Header.Get(key); v != "" {
		return v
	}
	return def
}

// idleReader pushes the read deadline forward before every read.
type idleReader struct {
	r       io.Reader
	d       deadliner
	timeout time.Duration
}

func (r *idleReader) Read(p []byte) (int, error) {
	_ = r.d.SetReadDeadline(time.Now().Add(r.timeout))
	return r.r.Read(p)
}

// sourceReader records the first error returned by the body itself.
type sourceReader struct {
	r   io.Reader
	err error
}

func (s *sourceReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if err != nil && err != io.EOF && s.err == nil {
		s.err = err
	}
	return n, err
}

package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"

	"github.com/JonMunkholm/formingest/internal/logging"
)

type ctxKey struct{}

// NewContext returns a copy of ctx carrying ing.
func NewContext(ctx context.Context, ing *Ingestion) context.Context {
	return context.WithValue(ctx, ctxKey{}, ing)
}

// FromContext returns the ingestion of the current request, or nil when the
// request was not multipart.
func FromContext(ctx context.Context) *Ingestion {
	ing, _ := ctx.Value(ctxKey{}).(*Ingestion)
	return ing
}

// Middleware decodes multipart/form-data bodies while they arrive.
//
// The downstream handler runs as soon as the first file part shows up (or
// once the body ended, for field-only bodies) and finds the ingestion with
// FromContext. It must call Wait before trusting file data. If the ingestion
// fails before the hand-off, the downstream handler is never called and the
// configured limit/error handler answers instead. If it fails afterwards and
// the downstream handler returned without writing a response, the handler is
// invoked once the body was abandoned.
//
// Stored payloads are released when the request unwinds; handlers that keep
// uploads call File.MoveTo first.
func Middleware(opts Options) func(http.Handler) http.Handler {
	perRequestLogger := opts.Logger == nil
	opts = opts.withDefaults()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !isMultipart(r) {
				next.ServeHTTP(w, r)
				return
			}

			o := opts
			if perRequestLogger {
				o.Logger = logging.FromContext(r.Context())
			}
			if o.DebugLogging {
				o.Logger.Info("multipart request", "component", "ingest", "content_length", r.ContentLength)
			}

			if err := precheck(o, r.ContentLength); err != nil {
				o.dispatch(w, r, err)
				return
			}

			ing, err := newIngestion(r.Context(), r.Header.Get("Content-Type"), o)
			if err != nil {
				o.dispatch(w, r, fmt.Errorf("%w: %w", ErrMalformed, err))
				return
			}
			defer ing.cleanups.RunAll()

			// Let the downstream handler answer while the body is still streaming.
			rc := http.NewResponseController(w)
			if err := rc.EnableFullDuplex(); err != nil {
				ing.debug("full duplex unavailable", "error", err)
			}
			ing.deadline = rc
			go ing.run(r.Body)

			select {
			case <-ing.Continued():
			case <-ing.Done():
			}
			if err := ing.Err(); err != nil {
				<-ing.stopped
				o.dispatch(w, r, err)
				return
			}

			tw := &trackingWriter{ResponseWriter: w}
			next.ServeHTTP(tw, r.WithContext(NewContext(r.Context(), ing)))

			// The body must not be read after this handler returns.
			<-ing.stopped
			if err := ing.Err(); err != nil {
				if tw.wroteHeader {
					ing.logger.Warn("ingestion failed after response was written", "error", err)
					return
				}
				o.dispatch(tw, r, err)
			}
		})
	}
}

// dispatch answers a terminal error with the configured handler or the
// default response. Client aborts get no response.
func (o Options) dispatch(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrClientAbort), errors.Is(err, errClosed):
		return
	case errors.Is(err, ErrFilesLimit):
		if o.FilesLimitHandler != nil {
			o.FilesLimitHandler(w, r, err)
			return
		}
		closeConnection(w, http.StatusRequestEntityTooLarge, "Too many files")
	case IsLimit(err):
		if o.LimitHandler != nil {
			o.LimitHandler(w, r, err)
			return
		}
		closeConnection(w, http.StatusRequestEntityTooLarge, o.ResponseOnLimit)
	default:
		if o.ErrorHandler != nil {
			o.ErrorHandler(w, r, err)
			return
		}
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, ErrUploadTimeout):
			status = http.StatusRequestTimeout
		case errors.Is(err, ErrMalformed), errors.Is(err, ErrNotMultipart):
			status = http.StatusBadRequest
		}
		closeConnection(w, status, http.StatusText(status))
	}
}

// closeConnection writes a plain response and asks the server to drop the
// connection instead of draining the rest of the body.
func closeConnection(w http.ResponseWriter, code int, reason string) {
	w.Header().Set("Connection", "close")
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	io.WriteString(w, reason)
}

func isMultipart(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "multipart/form-data"
}

// trackingWriter records whether the downstream handler started a response.
type trackingWriter struct {
	http.ResponseWriter
	wroteHeader bool
}

func (w *trackingWriter) WriteHeader(status int) {
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(status)
}

func (w *trackingWriter) Write(b []byte) (int, error) {
	w.wroteHeader = true
	return w.ResponseWriter.Write(b)
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (w *trackingWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

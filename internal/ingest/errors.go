package ingest

import "errors"

// Terminal conditions of an ingestion. Every error that settles a
// Completion wraps one of these, except the one left by an explicit Close,
// so callers dispatch with errors.Is.
var (
	// ErrContentLength is returned by the pre-check when the declared
	// Content-Length already exceeds the aggregate limit.
	ErrContentLength = errors.New("declared content length exceeds total size limit")

	// ErrPartLimit reports a single file part over PerPartSizeLimit when the
	// configuration asks for an abort instead of silent truncation.
	ErrPartLimit = errors.New("file size limit reached")

	// ErrAggregateLimit reports that the bytes of all file parts together
	// crossed AggregateSizeLimit. It always aborts the request.
	ErrAggregateLimit = errors.New("total upload size limit reached")

	// ErrFilesLimit reports more file parts than MaxFileParts.
	ErrFilesLimit = errors.New("too many files")

	// ErrMalformed wraps structural multipart errors.
	ErrMalformed = errors.New("malformed multipart body")

	// ErrClientAbort reports that the client went away before the body ended.
	ErrClientAbort = errors.New("client aborted request")

	// ErrUploadTimeout reports that no body bytes arrived within UploadTimeout.
	ErrUploadTimeout = errors.New("upload timed out")

	// ErrNotMultipart is returned for requests that are not multipart/form-data
	// or carry no boundary.
	ErrNotMultipart = errors.New("request is not multipart/form-data")

	// ErrStorage reports that a file part could not be stored: the backend
	// could not be created, a write failed, or its write future rejected.
	ErrStorage = errors.New("storing upload failed")

	// ErrBackendClosed is returned by Backend.Write after Finalize or Cleanup.
	ErrBackendClosed = errors.New("storage backend closed")
)

// IsLimit reports whether err is one of the byte-level limit errors that the
// limit handler is responsible for.
func IsLimit(err error) bool {
	return errors.Is(err, ErrContentLength) ||
		errors.Is(err, ErrPartLimit) ||
		errors.Is(err, ErrAggregateLimit)
}

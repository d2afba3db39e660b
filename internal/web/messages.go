package web

// messages.go maps technical errors to user-facing messages.
//
// # Error Codes Reference
//
// Users can quote the code to support staff.
//
// # Ingestion Errors (ING001-ING099)
//
//	ING001 - Upload too large: declared or received total exceeds the limit
//	ING002 - File too large: one file exceeds the per-file limit
//	ING003 - Too many files: more file parts than allowed
//	ING004 - Malformed form: the multipart body could not be parsed
//	ING005 - Upload stalled: no data arrived within the idle timeout
//	ING006 - Upload interrupted: the client went away mid-body
//	ING007 - Not a form upload: request is not multipart/form-data
//	ING008 - Storage failure: an uploaded file could not be stored
//
// # Upload Errors (UPL001-UPL099)
//
//	UPL002 - System busy: all ingestion slots are taken
//	UPL003 - Upload not found: no ledger record for the id
//
// # Rate Limiting (RATE001-RATE099)
//
//	RATE001 - Rate limited: too many requests
//
// # Default Error (ERR000)
//
//	ERR000 - Unknown error: check the server logs for the technical error
//
// Sentinel errors are matched with errors.Is first; the pattern table is a
// fallback for errors that only carry text (case-insensitive substring).

import (
	"errors"
	"strings"

	"github.com/JonMunkholm/formingest/internal/ingest"
	"github.com/JonMunkholm/formingest/internal/ledger"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened
	Action  string // What to do about it
	Code    string // Support reference
}

var (
	msgTotalTooLarge = UserMessage{
		Message: "The upload exceeds the total size limit",
		Action:  "Send fewer or smaller files",
		Code:    "ING001",
	}
	msgFileTooLarge = UserMessage{
		Message: "A file exceeds the size limit",
		Action:  "Compress or split the file and try again",
		Code:    "ING002",
	}
	msgTooManyFiles = UserMessage{
		Message: "Too many files in one upload",
		Action:  "Split the upload into several requests",
		Code:    "ING003",
	}
	msgMalformed = UserMessage{
		Message: "The form data could not be read",
		Action:  "Submit the form again",
		Code:    "ING004",
	}
	msgStalled = UserMessage{
		Message: "The upload stalled",
		Action:  "Check your connection and try again",
		Code:    "ING005",
	}
	msgInterrupted = UserMessage{
		Message: "The upload was interrupted",
		Action:  "Please try again",
		Code:    "ING006",
	}
	msgNotMultipart = UserMessage{
		Message: "Expected a multipart/form-data upload",
		Action:  "Send the files as form data",
		Code:    "ING007",
	}
	msgStorage = UserMessage{
		Message: "An uploaded file could not be stored",
		Action:  "Please try again in a few moments",
		Code:    "ING008",
	}
	msgBusy = UserMessage{
		Message: "System is busy processing other uploads",
		Action:  "Please wait a moment and try again",
		Code:    "UPL002",
	}
	msgNotFound = UserMessage{
		Message: "Upload not found",
		Action:  "Check the upload id",
		Code:    "UPL003",
	}
	msgRateLimited = UserMessage{
		Message: "Too many requests",
		Action:  "Please wait a moment before trying again",
		Code:    "RATE001",
	}
	msgUnknown = UserMessage{
		Message: "An unexpected error occurred",
		Action:  "Please try again or contact support",
		Code:    "ERR000",
	}
)

// sentinels is checked in order; the first match wins.
var sentinels = []struct {
	err error
	msg UserMessage
}{
	{ingest.ErrContentLength, msgTotalTooLarge},
	{ingest.ErrAggregateLimit, msgTotalTooLarge},
	{ingest.ErrPartLimit, msgFileTooLarge},
	{ingest.ErrFilesLimit, msgTooManyFiles},
	{ingest.ErrUploadTimeout, msgStalled},
	{ingest.ErrClientAbort, msgInterrupted},
	{ingest.ErrNotMultipart, msgNotMultipart},
	{ingest.ErrMalformed, msgMalformed},
	{ingest.ErrBackendClosed, msgStorage},
	{ingest.ErrStorage, msgStorage},
	{ingest.ErrTooManyUploads, msgBusy},
	{ledger.ErrNotFound, msgNotFound},
	{errRateLimited, msgRateLimited},
}

// patterns catch errors that lost their sentinel, e.g. from other processes.
var patterns = []struct {
	pattern string
	msg     UserMessage
}{
	{"temp file", msgStorage},
	{"too many concurrent uploads", msgBusy},
	{"rate limit", msgRateLimited},
	{"multipart", msgMalformed},
}

// MapError converts an error to a UserMessage. A nil error yields the zero value.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	for _, s := range sentinels {
		if errors.Is(err, s.err) {
			return s.msg
		}
	}

	text := strings.ToLower(err.Error())
	for _, p := range patterns {
		if strings.Contains(text, p.pattern) {
			return p.msg
		}
	}

	return msgUnknown
}

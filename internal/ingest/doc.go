// Package ingest decodes multipart/form-data request bodies while they are
// still arriving.
//
// # Flow
//
// One [Ingestion] exists per request. Its decoder goroutine reads raw parts
// from the body; text fields go into the field structure, file parts are
// streamed into a [Backend] chosen by [Options.StorageMode]:
//
//   - [MemoryBackend]: a growable buffer, hashed as it grows.
//   - [TempFileBackend]: a uniquely named file written by its own goroutine.
//
// Every backend registers its Cleanup in a [CleanupRegistry], and every
// accepted chunk is counted by a [Guard] enforcing the aggregate limit.
//
// # Early continuation
//
// On the first file part the ingestion hands control to the downstream
// handler without waiting for any file bytes, assuming the fields arrived
// first. File records become authoritative only after [Ingestion.Wait]
// returns nil, which happens once every backend's write future resolved.
//
//	func handle(w http.ResponseWriter, r *http.Request) {
//	    ing := ingest.FromContext(r.Context())
//	    captcha := ing.Fields().Get("captcha") // available right away
//	    if err := ing.Wait(r.Context()); err != nil {
//	        return // the middleware answers limit and parse errors
//	    }
//	    avatar := ing.Files().Get("avatar")
//	    ...
//	}
//
// # Limits
//
// The declared Content-Length is checked before parsing. Per-part overflow
// is truncated silently unless AbortOnLimit or a LimitHandler is set.
// Aggregate overflow and too many file parts always terminate the request.
// All terminal paths run the registry once and reject the completion.
package ingest

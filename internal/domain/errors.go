package domain

import "errors"

// Sentinel errors for the retention core. Everything except
// ErrTransportUnavailable is absorbed inside the core: handlers degrade or
// log, the event loop is never terminated.
var (
	// ErrCacheMiss: the target message predates uptime or was evicted.
	// Non-fatal, logged only.
	ErrCacheMiss = errors.New("message not in cache")

	// ErrExtractionFailed: an ephemeral envelope could not be unwrapped to
	// media. Non-fatal; recovery re-derives from the raw payload.
	ErrExtractionFailed = errors.New("ephemeral extraction failed")

	// ErrDownloadFailed: the transport could not fetch media bytes.
	// Non-fatal; the notification degrades to text.
	ErrDownloadFailed = errors.New("media download failed")

	// ErrNotAuthorized: the sender may not execute commands. Silent drop.
	ErrNotAuthorized = errors.New("sender not authorized")

	// ErrBanned: the sender is explicitly banned. Rejected before any side
	// effect.
	ErrBanned = errors.New("sender banned")

	// ErrTransportUnavailable crosses the core boundary; reconnection is
	// the owning process's concern.
	ErrTransportUnavailable = errors.New("transport unavailable")
)

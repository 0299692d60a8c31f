package ravendb

import (
	"errors"

	"github.com/kianmeng/ravendb-go/internal/rerr"
)

// Error is the driver's error type (spec §7): a Kind classifying the
// failure, whether it's retryable, and a message, optionally wrapping a
// lower-level cause. It's an alias for internal/rerr.Error so the
// classification the Request Executor performs deep inside the retry
// loop reaches callers unchanged, rather than through a second, lossier
// translation at the package boundary.
type Error = rerr.Error

// Kind classifies an Error (spec §7 "error kinds", refined to the
// concrete classification table in §4.2).
type Kind = rerr.Kind

// Local-guard sentinels (spec §7): comparable directly or via errors.Is,
// the same idiom the connection layer uses for its own ErrServerClosed /
// ErrServerConnected sentinels.
var (
	ErrNullEntity            = rerr.ErrNullEntity
	ErrNoValidID             = rerr.ErrNoValidIDInformed
	ErrMaxRequestsExceeded   = rerr.ErrMaxRequestsExceeded
	ErrMaxURLLength          = rerr.ErrMaxURLLengthReached
	ErrDocumentAlreadyStored = rerr.ErrDocumentAlreadyStored
)

// Non-retryable server-response sentinels (spec §7): each occurrence
// classify produces carries its own message, so match these with
// errors.Is (rerr.Error.Is compares Kind only) rather than equality.
var (
	ErrDocumentNotFound     = rerr.ErrDocumentNotFound
	ErrUnauthorized         = rerr.ErrUnauthorized
	ErrNotImplementedResult = rerr.ErrNotImplementedResult
)

// IsDocumentNotFound reports whether err is a document_not_found response
// (spec §4.2, HTTP 404). Its message varies per occurrence, so it checks
// the Kind (like errors.Is against ErrDocumentNotFound) rather than
// comparing with the sentinel value.
func IsDocumentNotFound(err error) bool { return hasKind(err, rerr.KindDocumentNotFound) }

// IsUnauthorized reports whether err is an unauthorized response (spec
// §4.2, HTTP 403).
func IsUnauthorized(err error) bool { return hasKind(err, rerr.KindUnauthorized) }

// IsConflict reports whether err is a conflict response (spec §4.2, HTTP
// 409) — retryable up to retry_count, never a terminal failure on its
// own.
func IsConflict(err error) bool { return hasKind(err, rerr.KindConflict) }

// IsStale reports whether err is a stale-result response (spec §4.2,
// "IsStale" body field).
func IsStale(err error) bool { return hasKind(err, rerr.KindStale) }

// IsRetryable reports whether err is a classification outcome the
// Request Executor would itself retry, bounded by retry_count.
func IsRetryable(err error) bool {
	var rv *rerr.Error
	return errors.As(err, &rv) && rv.Retryable
}

func hasKind(err error, kind rerr.Kind) bool {
	var rv *rerr.Error
	return errors.As(err, &rv) && rv.Kind == kind
}

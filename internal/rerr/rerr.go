// Package rerr defines the driver's error vocabulary (spec §7): a closed
// set of kinds spanning local guards, classified server responses, and
// transport failures, carried as plain values rather than raised
// conditions — "errors never cross the actor boundary as raised
// conditions; they are values in the reply."
//
// It is a separate leaf package (rather than living on the top-level
// Store type) so that internal/topology and session can both
// produce these values without importing the top-level package, mirroring
// internal/command's NodeURL split to dodge an import cycle.
package rerr

import "fmt"

// Kind is a closed enum of error kinds, in the ascending severity order
// spec §7 lists them.
type Kind string

// Recognized kinds.
const (
	// Local guards.
	KindNullEntity            Kind = "null_entity"
	KindNoValidIDInformed     Kind = "no_valid_id_informed"
	KindMaxURLLengthReached   Kind = "maximum_url_length_reached"
	KindMaxRequestsExceeded   Kind = "max_requests_exceeded"
	KindDocumentAlreadyStored Kind = "document_already_stored"

	// Non-retryable server responses.
	KindDocumentNotFound       Kind = "document_not_found"
	KindUnauthorized           Kind = "unauthorized"
	KindStale                  Kind = "stale"
	KindInvalidResponsePayload Kind = "invalid_response_payload"
	KindServerMessage          Kind = "server_message"
	KindNotImplementedResult   Kind = "not_implemented_result"

	// Retryable server responses.
	KindConflict        Kind = "conflict"
	KindNodeGone        Kind = "node_gone"
	KindTransientServer Kind = "transient_server_error"

	// Transport.
	KindTransportConnect Kind = "transport_connect_error"
	KindTransportStream  Kind = "transport_stream_error"
)

// Error is the value-typed error every fallible driver operation returns.
type Error struct {
	Kind      Kind
	Message   string
	Retryable bool
	cause     error
}

// New builds an Error of the given kind with message as both the
// human-readable description and the payload callers match against.
func New(kind Kind, retryable bool, message string) *Error {
	return &Error{Kind: kind, Message: message, Retryable: retryable}
}

// Wrap builds a transport Error carrying the underlying cause.
func Wrap(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Message: cause.Error(), Retryable: false, cause: cause}
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return string(e.Kind)
}

// Unwrap exposes a transport Error's underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is reports a Kind match, ignoring Message/Retryable/cause, so a sentinel
// built for a Kind (e.g. ErrDocumentNotFound) matches any Error of that
// Kind via errors.Is, not just one built with an identical message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e.Kind == t.Kind
}

// Local guard sentinels (spec §7 kind 1): compare with errors.Is.
var (
	ErrNullEntity          = New(KindNullEntity, false, "entity must not be nil")
	ErrNoValidIDInformed   = New(KindNoValidIDInformed, false, "no valid id could be determined for entity")
	ErrMaxRequestsExceeded = New(KindMaxRequestsExceeded, false, "session has exceeded max_number_of_requests_per_session")

	// ErrMaxURLLengthReached is the Kind-matching sentinel for the
	// dynamically-sized error MaxURLLengthReached builds; compare with
	// errors.Is rather than equality, since the Message varies per call.
	ErrMaxURLLengthReached = New(KindMaxURLLengthReached, false, "maximum_url_length_reached")

	// ErrDocumentAlreadyStored is the informational sentinel for the
	// "document_already_stored" kind (spec §7): store() re-storing an
	// already-tracked id is not itself an error, so this sentinel exists
	// for callers that want to distinguish the case via errors.Is rather
	// than for this package to ever return it.
	ErrDocumentAlreadyStored = New(KindDocumentAlreadyStored, false, "document already stored in this session")
)

// Non-retryable server-response sentinels (spec §7 kind 2): each instance
// classify produces carries its own message, so match these via errors.Is
// rather than equality.
var (
	ErrDocumentNotFound = New(KindDocumentNotFound, false, "document not found")
	ErrUnauthorized     = New(KindUnauthorized, false, "unauthorized")

	// ErrNotImplementedResult is the sentinel for a session command
	// result type this driver version doesn't decode; the session
	// surfaces occurrences as informational notes via Session.NotImplemented
	// rather than failing save_changes, so this sentinel exists for
	// errors.Is matching by callers that construct their own Error of
	// this Kind, not for this package to return it itself.
	ErrNotImplementedResult = New(KindNotImplementedResult, false, "session command result type not implemented")
)

// MaxURLLengthReached builds the local guard error for an oversized GET
// URL (spec §4.2 "URL-length guard").
func MaxURLLengthReached(urlLen, limit int) *Error {
	return New(KindMaxURLLengthReached, false, fmt.Sprintf("request url length %d exceeds max_length_of_query_using_get_url %d", urlLen, limit))
}

package ravendb

import (
	"github.com/kianmeng/ravendb-go/internal/topology"
	"github.com/kianmeng/ravendb-go/session"
)

// Document is a Session Document (spec §3): the entity as last seen or
// staged by a session, its key and change-vector, and the metadata
// envelope the server assigns.
type Document = session.Document

// Session is the per-database Session actor (spec §4.6), obtained via
// Store.OpenSession and closed via Store.CloseSession.
type Session = session.Session

// Conventions is the store-wide behavior configuration (spec §3).
type Conventions = topology.Conventions

// DefaultConventions returns the documented default Conventions: 30
// requests per session, 32 ids per multi-get, a 30s request timeout,
// optimistic concurrency off, a 1536-byte GET URL length cap, "/" as
// the identity parts separator, and topology auto-refresh on.
func DefaultConventions() Conventions { return topology.DefaultConventions() }

// RequestOptions configures per-request retry behavior (spec §4.2): off
// by default, 3 retries with a 100ms backoff when enabled.
type RequestOptions = topology.RequestOptions

// DefaultRequestOptions returns the documented default RequestOptions.
func DefaultRequestOptions() RequestOptions { return topology.DefaultRequestOptions() }

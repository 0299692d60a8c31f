package topology

import (
	"time"

	"github.com/kianmeng/ravendb-go/internal/compression"
)

// Conventions holds the tunables named in spec §3, all carrying their
// documented defaults.
type Conventions struct {
	// MaxNumberOfRequestsPerSession: a session refuses new commits once it
	// has issued this many requests (loads and save_changes calls both
	// count).
	MaxNumberOfRequestsPerSession int

	// MaxIDsToCatch is a hint for batch-load sizing.
	MaxIDsToCatch int

	// Timeout is the per-request wall clock.
	Timeout time.Duration

	// UseOptimisticConcurrency: if true, write commands must attach the
	// last known change-vector and the server rejects on mismatch.
	UseOptimisticConcurrency bool

	// MaxLengthOfQueryUsingGetURL: any GET whose URL exceeds this length
	// is refused locally with maximum_url_length_reached.
	MaxLengthOfQueryUsingGetURL int

	// IdentityPartsSeparator joins an id prefix and identifier parts.
	IdentityPartsSeparator string

	// DisableTopologyUpdate: if true, omit the Topology-Etag request
	// header and ignore Refresh-Topology responses.
	DisableTopologyUpdate bool

	// Compression names the codec Batch/Get request bodies are encoded
	// with before submission (Content-Encoding); compression.None sends
	// bodies uncompressed. Response bodies are always decompressed
	// according to whatever Content-Encoding the server actually used,
	// independent of this setting.
	Compression compression.ID
}

// DefaultConventions returns the documented defaults from spec §3.
func DefaultConventions() Conventions {
	return Conventions{
		MaxNumberOfRequestsPerSession: 30,
		MaxIDsToCatch:                 32,
		Timeout:                       30 * time.Second,
		UseOptimisticConcurrency:      false,
		MaxLengthOfQueryUsingGetURL:   1536,
		IdentityPartsSeparator:        "/",
		DisableTopologyUpdate:         false,
	}
}

// RequestOptions are the per-call knobs that drive an executor's
// retry/backoff behavior (spec §4.2).
type RequestOptions struct {
	// RetryOnFailure enables retrying retryable outcomes.
	RetryOnFailure bool

	// RetryCount bounds the number of retry attempts. Forced to 0 when
	// RetryOnFailure is false.
	RetryCount int

	// RetryBackoff is the constant (non-exponential) delay between
	// attempts.
	RetryBackoff time.Duration
}

// DefaultRequestOptions returns the documented defaults from spec §4.2.
func DefaultRequestOptions() RequestOptions {
	return RequestOptions{
		RetryOnFailure: false,
		RetryCount:     3,
		RetryBackoff:   100 * time.Millisecond,
	}
}

// normalize enforces "if retry_on_failure is false, retry_count is forced
// to zero" (spec §4.2).
func (o RequestOptions) normalize() RequestOptions {
	if !o.RetryOnFailure {
		o.RetryCount = 0
	}
	return o
}

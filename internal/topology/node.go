package topology

import (
	"crypto/tls"
	"sync"
	"sync/atomic"

	"github.com/kianmeng/ravendb-go/internal/address"
	"github.com/kianmeng/ravendb-go/internal/httpconn"
)

// Health is a Server Node's mutable health (spec §3): healthy iff its
// connection handle is open and the last completed request was either a
// success or a non-retryable error.
type Health int32

// Recognized health values.
const (
	HealthHealthy Health = iota
	HealthUnhealthy
)

func (h Health) String() string {
	if h == HealthHealthy {
		return "healthy"
	}
	return "unhealthy"
}

// RetryPolicy is a node's local policy knobs (spec §4.2 classification
// table, "node policy retry_on_stale" row).
type RetryPolicy struct {
	RetryOnStale bool
}

// Node is the Server Node (C1): an immutable address plus mutable health,
// cluster tag and connection handle. The "table of in-flight requests
// keyed by request-ref" named in spec §3 is kept by the owning Request
// Executor (C3), not here — it is per-executor bookkeeping over the
// connection this Node exposes, and housing it on Node would require
// either duplicating it per caller or reaching back into executor state
// from the data-model layer.
type Node struct {
	Addr        address.Address
	StoreID     string
	RetryPolicy RetryPolicy
	TLSConfig   *tls.Config

	clusterTag atomic.Value // string

	mu     sync.RWMutex
	health Health
	conn   *httpconn.Connection
}

// NewNode builds a Node in the unhealthy state; it becomes healthy once
// Connect succeeds.
func NewNode(addr address.Address, storeID string, policy RetryPolicy, tlsConfig *tls.Config) *Node {
	n := &Node{Addr: addr, StoreID: storeID, RetryPolicy: policy, TLSConfig: tlsConfig}
	n.health = HealthUnhealthy
	n.clusterTag.Store("")
	return n
}

// BaseURL implements command.NodeURL.
func (n *Node) BaseURL() string {
	return n.Addr.BaseURL()
}

// ClusterTag returns the node's cluster tag, or "" if unset.
func (n *Node) ClusterTag() string {
	return n.clusterTag.Load().(string)
}

// SetClusterTag implements the executor's async update_cluster_tag
// message (spec §4.2): mutates node state only, no network effect.
func (n *Node) SetClusterTag(tag string) {
	n.clusterTag.Store(tag)
}

// Health reports the node's current health.
func (n *Node) Health() Health {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.health
}

// Connection returns the node's open connection handle, or nil if never
// connected or closed.
func (n *Node) Connection() *httpconn.Connection {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.conn
}

// markConnected records a freshly opened connection and flips health to
// healthy (spec §3 invariant).
func (n *Node) markConnected(conn *httpconn.Connection) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.conn = conn
	n.health = HealthHealthy
}

// markOutcome updates health from the last completed request's
// retryability, per the §3 invariant: healthy iff the connection is open
// and the last completed request was success or non-retryable.
func (n *Node) markOutcome(retryable bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.conn == nil || !n.conn.Alive() {
		n.health = HealthUnhealthy
		return
	}
	if retryable {
		n.health = HealthUnhealthy
		return
	}
	n.health = HealthHealthy
}

// markDisconnected flips health to unhealthy, e.g. on a transport error.
func (n *Node) markDisconnected() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.health = HealthUnhealthy
}

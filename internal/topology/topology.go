// Package topology implements the Server Node (C1), HTTP Connection
// owner, Node Selector (C4), Network State / Topology (C5), and the
// Request Executor (C3) described in spec §4.2-4.4.
package topology

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/kianmeng/ravendb-go/internal/address"
	"github.com/kianmeng/ravendb-go/internal/auth"
)

// Topology is the cluster view (spec §3): an etag plus an ordered,
// non-empty list of Server Nodes. Instances are immutable once built;
// NetworkState.Refresh swaps in a new one atomically.
type Topology struct {
	Etag  string
	Nodes []*Node
}

type rawTopologyNode struct {
	URL        string `json:"Url"`
	ClusterTag string `json:"ClusterTag"`
}

type topologyWire struct {
	Etag  string            `json:"Etag"`
	Nodes []rawTopologyNode `json:"Nodes"`
}

// NetworkState is one instance per (store, database): spec §3 "Network
// State". It owns the topology, the node selector built over it, and the
// credentials/TLS options every node shares.
type NetworkState struct {
	Database    string
	Conventions Conventions
	Credentials auth.CredentialSource
	TLSConfig   *tls.Config
	StoreID     string
	RetryPolicy RetryPolicy

	httpClient *http.Client
	topology   atomic.Value // *Topology
	selector   *NodeSelector
	group      singleflight.Group
}

// NewNetworkState seeds a NetworkState from a list of node URLs (the
// store's configured contact points), with an empty etag until the first
// refresh.
func NewNetworkState(database string, conventions Conventions, creds auth.CredentialSource, tlsConfig *tls.Config, storeID string, policy RetryPolicy, seedURLs []string) (*NetworkState, error) {
	if len(seedURLs) == 0 {
		return nil, fmt.Errorf("topology: at least one seed url is required")
	}

	nodes := make([]*Node, 0, len(seedURLs))
	for _, u := range seedURLs {
		addr, err := address.Parse(u, database)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, NewNode(addr, storeID, policy, tlsConfig))
	}

	ns := &NetworkState{
		Database:    database,
		Conventions: conventions,
		Credentials: creds,
		TLSConfig:   tlsConfig,
		StoreID:     storeID,
		RetryPolicy: policy,
		httpClient:  &http.Client{Transport: &http.Transport{TLSClientConfig: tlsConfig}},
	}
	ns.selector = NewNodeSelector(ns)
	ns.topology.Store(&Topology{Etag: "", Nodes: nodes})
	return ns, nil
}

// Selector returns the node selector built over this network state.
func (ns *NetworkState) Selector() *NodeSelector {
	return ns.selector
}

// Snapshot implements get() -> snapshot (spec §4.4): a torn-free read of
// the current topology.
func (ns *NetworkState) Snapshot() *Topology {
	return ns.topology.Load().(*Topology)
}

// Refresh implements refresh() -> unit (spec §4.4): re-issues a GET
// against the current node for the cluster topology endpoint, parses the
// returned etag and node list, and atomically swaps. Concurrent callers
// collapse to at most one in-flight refresh via singleflight, exactly as
// required ("the refresh is idempotent").
func (ns *NetworkState) Refresh(ctx context.Context) error {
	if ns.Conventions.DisableTopologyUpdate {
		return nil
	}
	_, err, _ := ns.group.Do("refresh", func() (interface{}, error) {
		return nil, ns.doRefresh(ctx)
	})
	return err
}

func (ns *NetworkState) doRefresh(ctx context.Context) error {
	node, err := ns.selector.CurrentNode()
	if err != nil {
		return fmt.Errorf("topology: refresh: %w", err)
	}

	endpoint := node.Addr.NodeURL() + "/topology?name=" + ns.Database
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("topology: build refresh request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	if ns.Credentials != nil {
		headers, err := ns.Credentials.Headers(ctx, ns.httpClient, node.Addr.NodeURL())
		if err != nil {
			return fmt.Errorf("topology: refresh credentials: %w", err)
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
	}

	resp, err := ns.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("topology: refresh request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("topology: refresh endpoint returned %d", resp.StatusCode)
	}

	var wire topologyWire
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return fmt.Errorf("topology: decode refresh response: %w", err)
	}
	if len(wire.Nodes) == 0 {
		return fmt.Errorf("topology: refresh returned an empty node list")
	}

	old := ns.Snapshot()
	byKey := make(map[string]*Node, len(old.Nodes))
	for _, n := range old.Nodes {
		byKey[n.Addr.Key()] = n
	}

	nodes := make([]*Node, 0, len(wire.Nodes))
	for _, rn := range wire.Nodes {
		addr, err := address.Parse(rn.URL, ns.Database)
		if err != nil {
			return fmt.Errorf("topology: refresh: %w", err)
		}
		// Reuse the existing Node (and its open connection) when the
		// refreshed list still names this address; a topology refresh
		// must not force every node's connection to redial.
		n, ok := byKey[addr.Key()]
		if !ok {
			n = NewNode(addr, ns.StoreID, ns.RetryPolicy, ns.TLSConfig)
		}
		n.SetClusterTag(rn.ClusterTag)
		nodes = append(nodes, n)
	}

	ns.topology.Store(&Topology{Etag: wire.Etag, Nodes: nodes})
	return nil
}

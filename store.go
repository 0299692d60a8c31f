// Package ravendb is the document store client (C9, "Store/Supervisor"):
// the root handle applications construct once per database, from which
// Sessions (C7) are opened against a self-maintaining cluster Topology
// (C1/C3/C4/C5).
package ravendb

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/kianmeng/ravendb-go/internal/auth"
	"github.com/kianmeng/ravendb-go/internal/logger"
	"github.com/kianmeng/ravendb-go/internal/registry"
	"github.com/kianmeng/ravendb-go/internal/topology"
	"github.com/kianmeng/ravendb-go/session"
)

// Store owns one NetworkState and the two registries (C8) of live Request
// Executors and Sessions built over it (spec §3 "Store"). It never pools
// idle executors: one executor exists per node actually reached, and it
// lives until Store.Close; failing over to another node does not stop or
// deregister it.
type Store struct {
	id          string
	database    string
	conventions topology.Conventions

	network   *topology.NetworkState
	executors *registry.Executors[*topology.Executor]
	sessions  *registry.Sessions[*session.Session]

	log        *logger.Logger
	ownsLog    bool
	sessionSeq uint64
}

// New builds a Store from the given Options. At minimum WithURLs and
// WithDatabase are required.
func New(opts ...Option) (*Store, error) {
	cfg := &Config{conventions: topology.DefaultConventions()}
	for _, opt := range opts {
		opt(cfg)
	}

	if len(cfg.urls) == 0 {
		return nil, fmt.Errorf("ravendb: at least one url is required (WithURLs)")
	}
	if cfg.database == "" {
		return nil, fmt.Errorf("ravendb: a database name is required (WithDatabase)")
	}

	var credSource auth.CredentialSource = auth.NoAuth{}
	if !cfg.credentials.IsZero() {
		apiKeyAuth, err := auth.NewAPIKeyAuth(cfg.credentials)
		if err != nil {
			return nil, fmt.Errorf("ravendb: %w", err)
		}
		credSource = apiKeyAuth
	}

	tlsConfig, err := auth.BuildTLSConfig(cfg.tlsOptions)
	if err != nil {
		return nil, fmt.Errorf("ravendb: %w", err)
	}

	log := cfg.log
	ownsLog := false
	if log == nil {
		log = logger.New(nil, 0, nil)
		logger.StartPrintListener(log)
		ownsLog = true
	}

	id := newStoreID()

	network, err := topology.NewNetworkState(cfg.database, cfg.conventions, credSource, tlsConfig, id, topology.RetryPolicy{}, cfg.urls)
	if err != nil {
		return nil, fmt.Errorf("ravendb: %w", err)
	}

	return &Store{
		id:          id,
		database:    cfg.database,
		conventions: cfg.conventions,
		network:     network,
		executors:   registry.NewExecutors[*topology.Executor](),
		sessions:    registry.NewSessions[*session.Session](),
		log:         log,
		ownsLog:     ownsLog,
	}, nil
}

// ID returns the store's process-unique id.
func (st *Store) ID() string { return st.id }

// Database returns the database name this store's sessions operate
// against.
func (st *Store) Database() string { return st.database }

// Conventions returns the effective Conventions this store was configured
// with.
func (st *Store) Conventions() topology.Conventions { return st.conventions }

// RefreshTopology issues an explicit Topology refresh (spec §4.4). Most
// callers never need this: a successful request whose response carries
// Refresh-Topology triggers one automatically.
func (st *Store) RefreshTopology(ctx context.Context) error {
	return st.network.Refresh(ctx)
}

// OpenSession opens a new Session actor (spec §4.6 "open_session"),
// routed to a Request Executor for the current preferred node, failing
// over across the topology if that node's executor can't be started.
func (st *Store) OpenSession(ctx context.Context) (*session.Session, error) {
	exec, err := st.executorForCurrentNode(ctx)
	if err != nil {
		return nil, fmt.Errorf("ravendb: open session: %w", err)
	}

	id := fmt.Sprintf("session-%d", atomic.AddUint64(&st.sessionSeq, 1))
	s := session.New(id, st.database, st.conventions, exec, st.log)
	st.sessions.Put(id, s)
	return s, nil
}

// CloseSession stops a Session actor and removes it from the store's
// session directory (spec §3 "Lifecycles": "its state is lost on
// restart").
func (st *Store) CloseSession(s *session.Session) {
	s.Close()
	st.sessions.Deregister(s.ID())
}

// Close stops every live Request Executor this store ever opened and
// releases the logger if this store owns it (spec §3 "Lifecycles").
func (st *Store) Close() {
	for _, exec := range st.executors.Values() {
		exec.Stop()
	}
	if st.ownsLog {
		st.log.Close()
	}
}

// executorForCurrentNode gets-or-creates the Request Executor for the
// Node Selector's current node, failing over to subsequent nodes (spec
// §4.3: "failover is the caller's responsibility") if starting that
// executor's connection fails, bounded by the topology's node count so a
// fully down cluster fails fast instead of looping.
func (st *Store) executorForCurrentNode(ctx context.Context) (*topology.Executor, error) {
	node, err := st.network.Selector().CurrentNode()
	if err != nil {
		return nil, err
	}

	attempts := len(st.network.Snapshot().Nodes)
	if attempts == 0 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		exec, buildErr := st.executorForNode(ctx, node)
		if buildErr == nil {
			return exec, nil
		}
		lastErr = buildErr

		node, err = st.network.Selector().OnFailure()
		if err != nil {
			return nil, lastErr
		}
	}
	return nil, lastErr
}

func (st *Store) executorForNode(ctx context.Context, node *topology.Node) (*topology.Executor, error) {
	return st.executors.GetOrCreate(node.Addr.Key(), func() (*topology.Executor, error) {
		exec := topology.NewExecutor(node, st.network, st.log)
		if err := exec.Start(ctx); err != nil {
			return nil, err
		}
		return exec, nil
	})
}

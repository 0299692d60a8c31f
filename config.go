package ravendb

import (
	"github.com/kianmeng/ravendb-go/internal/auth"
	"github.com/kianmeng/ravendb-go/internal/logger"
	"github.com/kianmeng/ravendb-go/internal/topology"
)

// Config is the store's construction-time configuration, built up via
// Option functions (spec §6 "Configuration keys", mirrored 1:1 from
// Conventions).
type Config struct {
	urls        []string
	database    string
	conventions topology.Conventions
	credentials auth.Credentials
	tlsOptions  auth.TLSOptions
	log         *logger.Logger
}

// Option configures a Store at construction time, in the style of the
// *ServerOption functional options New/Connect take in the connection
// layer this package is built from.
type Option func(*Config)

// WithURLs sets the store's contact points — the seed node URLs the
// initial Topology is built from.
func WithURLs(urls ...string) Option {
	return func(c *Config) { c.urls = urls }
}

// WithDatabase sets the database name every session opened from this
// store operates against.
func WithDatabase(database string) Option {
	return func(c *Config) { c.database = database }
}

// WithConventions overrides the default Conventions (spec §3).
func WithConventions(conventions topology.Conventions) Option {
	return func(c *Config) { c.conventions = conventions }
}

// WithCredentials configures store-wide API key credentials, negotiated
// via SCRAM-SHA-256 (internal/auth) the first time the store refreshes its
// topology. The resulting bearer token is attached to topology refresh
// requests only; requests sent through a Request Executor carry no
// Authorization header.
func WithCredentials(creds auth.Credentials) Option {
	return func(c *Config) { c.credentials = creds }
}

// WithTLSConfig sets the transport options (client certificate, CA pool,
// verification) every Server Node's connection is dialed with (spec §6
// "ravendb.Config").
func WithTLSConfig(opts auth.TLSOptions) Option {
	return func(c *Config) { c.tlsOptions = opts }
}

// WithLogger installs a pre-built logger (e.g. one configured with a
// custom LogSink) instead of the default stderr logger.
func WithLogger(log *logger.Logger) Option {
	return func(c *Config) { c.log = log }
}

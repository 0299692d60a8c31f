// Package address provides the value type identifying one server node's
// HTTP endpoint within a cluster topology.
package address

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Scheme is the transport scheme a node is reached over.
type Scheme string

// Recognized schemes.
const (
	HTTP  Scheme = "http"
	HTTPS Scheme = "https"
)

// Address identifies a single server node's HTTP endpoint: scheme, host,
// port and the database it serves. It is comparable and safe to use as a
// map key; the executor registry (internal/registry) keys entries by the
// string Key() returns.
type Address struct {
	Scheme Scheme
	Host   string
	Port   int
	DB     string
}

// Parse splits a "scheme://host:port" node URL and pairs it with a database
// name to build an Address.
func Parse(nodeURL, db string) (Address, error) {
	u, err := url.Parse(nodeURL)
	if err != nil {
		return Address{}, fmt.Errorf("address: invalid node url %q: %w", nodeURL, err)
	}

	scheme := Scheme(strings.ToLower(u.Scheme))
	if scheme != HTTP && scheme != HTTPS {
		return Address{}, fmt.Errorf("address: unsupported scheme %q in %q", u.Scheme, nodeURL)
	}

	host := u.Hostname()
	if host == "" {
		return Address{}, fmt.Errorf("address: missing host in %q", nodeURL)
	}

	port := 80
	if scheme == HTTPS {
		port = 443
	}
	if p := u.Port(); p != "" {
		parsed, err := strconv.Atoi(p)
		if err != nil {
			return Address{}, fmt.Errorf("address: invalid port in %q: %w", nodeURL, err)
		}
		port = parsed
	}

	return Address{Scheme: scheme, Host: host, Port: port, DB: db}, nil
}

// BaseURL renders the scheme://host:port/databases/{db} prefix every
// command URL is built against.
func (a Address) BaseURL() string {
	return fmt.Sprintf("%s://%s:%d/databases/%s", a.Scheme, a.Host, a.Port, a.DB)
}

// NodeURL renders just scheme://host:port, with no database segment; used
// as the dial target and as the topology refresh endpoint's base.
func (a Address) NodeURL() string {
	return fmt.Sprintf("%s://%s:%d", a.Scheme, a.Host, a.Port)
}

// String implements fmt.Stringer.
func (a Address) String() string {
	return a.BaseURL()
}

// Key returns the (node-url, database) identity used by the executor
// registry (C8) to deduplicate actors.
func (a Address) Key() string {
	return a.NodeURL() + "|" + a.DB
}

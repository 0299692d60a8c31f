// Package httpconn is the HTTP Connection (C2): one persistent,
// multiplexed HTTP/1.1 or HTTPS connection to a single node. It exposes
// connect/submit/feed as described in spec §4.1, built on net/http's own
// keep-alive and request pipelining rather than hand-rolled wire framing —
// the Go-native rendition of the teacher's raw net.Conn wire-message
// read/write pair (core/connection/connection.go).
package httpconn

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/kianmeng/ravendb-go/internal/address"
)

// EventKind discriminates the streamed response events the executor reads
// off an InFlight, matching spec §4.1's {status}/{headers}/{data}/{done}
// event shapes.
type EventKind int

// Recognized event kinds.
const (
	EventStatus EventKind = iota
	EventHeaders
	EventData
	EventDone
	// EventTransportError signals a connection-level failure (dial, TLS,
	// read/write on the socket) as opposed to an HTTP protocol error; the
	// owning Request Executor fails that request with a
	// transport_stream_error and marks the node unhealthy. The executor
	// itself keeps serving; it does not stop on this event.
	EventTransportError
)

// Event is one unit of assembled response state for a given request-ref.
type Event struct {
	Kind    EventKind
	Ref     uint64
	Code    int
	Headers http.Header
	Chunk   []byte
	Err     error
}

// Request is the wire-level shape submitted to a Connection: method, URL,
// headers and body, with no interpretation of what the caller's Command
// meant by them.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
}

// InFlight is the cursor an executor reads one submitted request's events
// from. Reading continues until an EventDone or EventTransportError
// arrives; Events is then closed.
type InFlight struct {
	Ref    uint64
	Events <-chan Event
}

const readChunkSize = 32 * 1024

// Connection is a single persistent connection to one node. Every Submit
// call issues a request over the same underlying *http.Transport, which
// net/http multiplexes (pipelines) onto the one TCP/TLS connection this
// Connection was configured to hold via MaxConnsPerHost.
type Connection struct {
	addr    address.Address
	client  *http.Client
	nextRef uint64
	closed  int32
}

// Connect dials addr and returns a live Connection, or an error if the
// initial TCP (and, for https, TLS) handshake fails — the transport error
// that terminates the owning executor during init (spec §4.2 "Init and
// death").
func Connect(ctx context.Context, addr address.Address, tlsConfig *tls.Config, timeout time.Duration) (*Connection, error) {
	dialer := &net.Dialer{Timeout: timeout}

	probeCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		probeCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	network := "tcp"
	hostPort := fmt.Sprintf("%s:%d", addr.Host, addr.Port)

	var probe net.Conn
	var err error
	if addr.Scheme == address.HTTPS {
		probe, err = tls.DialWithDialer(dialer, network, hostPort, tlsConfig)
	} else {
		probe, err = dialer.DialContext(probeCtx, network, hostPort)
	}
	if err != nil {
		return nil, fmt.Errorf("httpconn: connect to %s: %w", addr, err)
	}
	probe.Close()

	transport := &http.Transport{
		MaxConnsPerHost:     1,
		MaxIdleConnsPerHost: 1,
		DisableCompression:  true,
		TLSClientConfig:     tlsConfig,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Connection{
		addr:   addr,
		client: &http.Client{Transport: transport},
	}, nil
}

// Submit issues req and returns an InFlight streaming its response events.
// Submission order on the wire follows call order (spec §5 "Ordering
// guarantees"); replies may still complete out of order since net/http may
// pipeline several requests onto the persistent connection concurrently.
func (c *Connection) Submit(ctx context.Context, req Request) (*InFlight, error) {
	if atomic.LoadInt32(&c.closed) != 0 {
		return nil, fmt.Errorf("httpconn: submit on closed connection")
	}

	ref := atomic.AddUint64(&c.nextRef, 1)

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return nil, fmt.Errorf("httpconn: build request: %w", err)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	events := make(chan Event, 4)
	go c.drive(httpReq, ref, events)

	return &InFlight{Ref: ref, Events: events}, nil
}

func (c *Connection) drive(httpReq *http.Request, ref uint64, events chan<- Event) {
	defer close(events)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		events <- Event{Kind: EventTransportError, Ref: ref, Err: err}
		return
	}
	defer resp.Body.Close()

	events <- Event{Kind: EventStatus, Ref: ref, Code: resp.StatusCode}
	events <- Event{Kind: EventHeaders, Ref: ref, Headers: resp.Header}

	buf := make([]byte, readChunkSize)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			events <- Event{Kind: EventData, Ref: ref, Chunk: chunk}
		}
		if readErr != nil {
			if readErr != io.EOF {
				events <- Event{Kind: EventTransportError, Ref: ref, Err: readErr}
				return
			}
			break
		}
	}

	events <- Event{Kind: EventDone, Ref: ref}
}

// Close releases the underlying transport's idle connection. Outstanding
// in-flight requests are allowed to complete or fail on their own.
func (c *Connection) Close() error {
	atomic.StoreInt32(&c.closed, 1)
	c.client.CloseIdleConnections()
	return nil
}

// Alive reports whether Close has not been called.
func (c *Connection) Alive() bool {
	return atomic.LoadInt32(&c.closed) == 0
}

package topology

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/kianmeng/ravendb-go/internal/command"
	"github.com/kianmeng/ravendb-go/internal/compression"
	"github.com/kianmeng/ravendb-go/internal/httpconn"
	"github.com/kianmeng/ravendb-go/internal/logger"
	"github.com/kianmeng/ravendb-go/internal/rerr"
	"github.com/kianmeng/ravendb-go/internal/rtimeout"
)

// assembledResponse is the {status, headers, body} triple the executor
// hands to classify once a request's {done} event arrives (spec §4.2).
type assembledResponse struct {
	Code    int
	Headers http.Header
	Body    []byte
}

// classify implements the response classification table (spec §4.2): a
// pure function of (status, headers, parsed body, node policy) (spec P6).
// A nil return is the "success" row; its assembled triple is left for the
// caller to decode against whatever response shape its command expects.
func classify(resp assembledResponse, policy RetryPolicy) *rerr.Error {
	switch resp.Code {
	case 404:
		return rerr.New(rerr.KindDocumentNotFound, false, "document not found")
	case 403:
		return rerr.New(rerr.KindUnauthorized, false, "unauthorized")
	case 409:
		return rerr.New(rerr.KindConflict, true, "conflict")
	case 410:
		return rerr.New(rerr.KindNodeGone, true, "node gone")
	}

	var body map[string]interface{}
	if len(resp.Body) > 0 {
		if err := json.Unmarshal(resp.Body, &body); err != nil {
			return rerr.New(rerr.KindInvalidResponsePayload, false, err.Error())
		}
	}

	if raw, ok := body["Error"]; ok {
		message, _ := body["Message"].(string)
		if message == "" {
			message = fmt.Sprint(raw)
		}
		return rerr.New(rerr.KindServerMessage, false, message)
	}

	if stale, ok := body["IsStale"].(bool); ok && stale {
		return rerr.New(rerr.KindStale, policy.RetryOnStale, "stale")
	}

	switch resp.Code {
	case 408, 502, 503, 504:
		message, _ := body["Message"].(string)
		if resp.Headers.Get("Database-Missing") != "" {
			return rerr.New(rerr.KindServerMessage, false, message)
		}
		return rerr.New(rerr.KindTransientServer, true, message)
	}

	return nil
}

// Result is the assembled response of a successfully classified request,
// or the classification error for a failed one (Err is a *rerr.Error or a
// transport error).
type Result struct {
	Status  int
	Headers http.Header
	Body    []byte
	Err     error
}

type requestMsg struct {
	ctx     context.Context
	cmd     command.Command
	headers map[string]string
	opts    RequestOptions
	reply   chan Result
}

type clusterTagMsg struct{ tag string }

// Executor is the Request Executor (C3): one actor per (node-url,
// database), owning the node's connection exclusively (spec §5 "owned
// resource + task"). Its message surface mirrors spec §4.2: Request,
// UpdateClusterTag and the internal stream of wire events each submitted
// request drives through its own httpconn.InFlight.
type Executor struct {
	node  *Node
	state *NetworkState
	log   *logger.Logger

	compressors *compression.Registry

	requests   chan requestMsg
	tagUpdates chan clusterTagMsg
	stopped    chan struct{}
	stopOnce   sync.Once
}

// NewExecutor builds an Executor over node, not yet connected, with the
// default compressor registry (spec §6 "Content-Encoding / Accept-Encoding
// negotiated against the compressor registry").
func NewExecutor(node *Node, state *NetworkState, log *logger.Logger) *Executor {
	return &Executor{
		node:        node,
		state:       state,
		log:         log,
		compressors: compression.NewDefaultRegistry(),
		requests:    make(chan requestMsg),
		tagUpdates:  make(chan clusterTagMsg, 8),
		stopped:     make(chan struct{}),
	}
}

// Start implements "init and death" (spec §4.2): attempts connect; on
// success it enters the serving loop and returns nil, on failure it
// returns the transport reason for the supervisor to act on — the
// executor itself never loops on a connect failure.
func (e *Executor) Start(ctx context.Context) error {
	conn, err := httpconn.Connect(ctx, e.node.Addr, e.node.TLSConfig, e.state.Conventions.Timeout)
	if err != nil {
		return rerr.Wrap(rerr.KindTransportConnect, err)
	}
	e.node.markConnected(conn)
	go e.run()
	return nil
}

// Stop terminates the executor's serving loop and closes its connection.
func (e *Executor) Stop() {
	e.stopOnce.Do(func() {
		close(e.stopped)
		if conn := e.node.Connection(); conn != nil {
			conn.Close()
		}
		e.node.markDisconnected()
	})
}

// UpdateClusterTag implements the async update_cluster_tag message (spec
// §4.2): mutates node state only.
func (e *Executor) UpdateClusterTag(tag string) {
	select {
	case e.tagUpdates <- clusterTagMsg{tag: tag}:
	case <-e.stopped:
	}
}

// Request implements the synchronous request(command, headers, opts)
// message (spec §4.2). It blocks the caller until the assembled response
// is classified and a reply is produced, or ctx is done.
func (e *Executor) Request(ctx context.Context, cmd command.Command, headers map[string]string, opts RequestOptions) (Result, error) {
	reply := make(chan Result, 1)
	msg := requestMsg{ctx: ctx, cmd: cmd, headers: headers, opts: opts, reply: reply}

	select {
	case e.requests <- msg:
	case <-e.stopped:
		return Result{}, fmt.Errorf("topology: executor stopped")
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}

	select {
	case res := <-reply:
		return res, res.Err
	case <-ctx.Done():
		// The caller abandons the reply channel (spec §5 "Cancellation
		// and timeouts"); serve() still drains it into a buffered
		// channel so it is never blocked on a reply nobody reads.
		return Result{}, ctx.Err()
	}
}

func (e *Executor) run() {
	for {
		select {
		case msg := <-e.requests:
			go e.serve(msg)
		case tag := <-e.tagUpdates:
			e.node.SetClusterTag(tag.tag)
		case <-e.stopped:
			return
		}
	}
}

func (e *Executor) serve(msg requestMsg) {
	msg.reply <- e.attempt(msg)
}

// attempt drives the retry/backoff loop (spec §4.2 "Retry/backoff").
func (e *Executor) attempt(msg requestMsg) Result {
	opts := msg.opts.normalize()

	var result Result
	for try := 0; ; try++ {
		result = e.doOnce(msg)
		e.logOutcome(result.Err)

		rerrVal, isRerr := result.Err.(*rerr.Error)
		if result.Err == nil || !isRerr || !rerrVal.Retryable {
			if result.Err != nil {
				e.logTerminal(result.Err)
			}
			return result
		}
		if try >= opts.RetryCount {
			e.logTerminal(result.Err)
			return result
		}
		e.logRetry(try, opts.RetryBackoff, result.Err)
		rtimeout.SleepFunc(msg.ctx)(opts.RetryBackoff)
	}
}

// logOutcome records every classified outcome at Debug (spec §4.2
// "[AMBIENT] logging"), success included.
func (e *Executor) logOutcome(err error) {
	if e.log == nil {
		return
	}
	e.log.Print(logger.LevelDebug, outcomeMessage{node: e.node.Addr.String(), err: err})
}

// logRetry records a retried attempt at Debug with the attempt number and
// the backoff about to be slept.
func (e *Executor) logRetry(try int, backoff time.Duration, err error) {
	if e.log == nil {
		return
	}
	e.log.Print(logger.LevelDebug, retryMessage{attempt: try + 1, backoff: backoff, err: err})
}

// logTerminal records a non-retryable (or retry-exhausted) terminal error
// at Info.
func (e *Executor) logTerminal(err error) {
	if e.log == nil {
		return
	}
	e.log.Print(logger.LevelInfo, terminalErrorMessage{node: e.node.Addr.String(), err: err})
}

func (e *Executor) doOnce(msg requestMsg) Result {
	ctx, cancel := rtimeout.WithRequestTimeout(msg.ctx, e.state.Conventions.Timeout)
	defer cancel()

	req, err := msg.cmd.CreateRequest(e.node)
	if err != nil {
		return Result{Err: rerr.New(rerr.KindInvalidResponsePayload, false, err.Error())}
	}

	limit := e.state.Conventions.MaxLengthOfQueryUsingGetURL
	if req.IsReadRequest && limit > 0 && len(req.URL) > limit {
		return Result{Err: rerr.MaxURLLengthReached(len(req.URL), limit)}
	}

	headers := map[string]string{
		"Content-Type": "application/json",
		"Accept":       "application/json",
	}
	if !e.state.Conventions.DisableTopologyUpdate {
		headers["Topology-Etag"] = e.state.Snapshot().Etag
	}
	if encodings := e.compressors.SupportedEncodings(); len(encodings) > 0 {
		headers["Accept-Encoding"] = strings.Join(encodings, ", ")
	}
	if len(req.Body) > 0 && e.state.Conventions.Compression != compression.None {
		compressed, encoding, err := compression.CompressBody(e.compressors, e.state.Conventions.Compression, req.Body)
		if err != nil {
			return Result{Err: rerr.New(rerr.KindInvalidResponsePayload, false, err.Error())}
		}
		req.Body = compressed
		headers["Content-Encoding"] = encoding
	}
	for k, v := range msg.headers {
		headers[k] = v
	}

	conn := e.node.Connection()
	if conn == nil || !conn.Alive() {
		return Result{Err: rerr.Wrap(rerr.KindTransportConnect, fmt.Errorf("node %s has no live connection", e.node.Addr))}
	}

	inflight, err := conn.Submit(ctx, httpconn.Request{
		Method:  req.Method,
		URL:     req.URL,
		Headers: headers,
		Body:    req.Body,
	})
	if err != nil {
		e.node.markDisconnected()
		return Result{Err: rerr.Wrap(rerr.KindTransportConnect, err)}
	}

	assembled, transportErr := collect(inflight)
	if transportErr != nil {
		e.node.markDisconnected()
		return Result{Err: rerr.Wrap(rerr.KindTransportStream, transportErr)}
	}

	if encoding := assembled.Headers.Get("Content-Encoding"); encoding != "" {
		decoded, err := compression.DecompressBody(e.compressors, encoding, bytes.NewReader(assembled.Body))
		if err != nil {
			return Result{Err: rerr.New(rerr.KindInvalidResponsePayload, false, err.Error())}
		}
		assembled.Body = decoded
	}

	classification := classify(assembled, e.node.RetryPolicy)
	e.node.markOutcome(classification != nil && classification.Retryable)

	if classification == nil && assembled.Headers.Get("Refresh-Topology") != "" {
		e.triggerTopologyRefresh()
	}

	var outErr error
	if classification != nil {
		outErr = classification
	}
	return Result{Status: assembled.Code, Headers: assembled.Headers, Body: assembled.Body, Err: outErr}
}

// triggerTopologyRefresh emits the fire-and-forget refresh request to C5
// described in spec §4.2: the caller still sees its own success reply
// regardless of how this turns out.
func (e *Executor) triggerTopologyRefresh() {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), e.state.Conventions.Timeout)
		defer cancel()
		if err := e.state.Refresh(ctx); err != nil && e.log != nil {
			e.log.Print(logger.LevelInfo, topologyRefreshFailedMessage{err: err})
		}
	}()
}

func collect(inflight *httpconn.InFlight) (assembledResponse, error) {
	var out assembledResponse
	var body []byte
	for ev := range inflight.Events {
		switch ev.Kind {
		case httpconn.EventStatus:
			out.Code = ev.Code
		case httpconn.EventHeaders:
			out.Headers = ev.Headers
		case httpconn.EventData:
			body = append(body, ev.Chunk...)
		case httpconn.EventTransportError:
			return assembledResponse{}, ev.Err
		case httpconn.EventDone:
			out.Body = body
			return out, nil
		}
	}
	out.Body = body
	return out, nil
}

type topologyRefreshFailedMessage struct{ err error }

func (topologyRefreshFailedMessage) Component() logger.Component { return logger.ComponentTopology }
func (topologyRefreshFailedMessage) Message() string             { return "topology refresh failed" }
func (m topologyRefreshFailedMessage) KeyValues() []interface{} {
	return []interface{}{"error", m.err}
}

// outcomeMessage is logged for every classified outcome, success or
// failure, at Debug.
type outcomeMessage struct {
	node string
	err  error
}

func (outcomeMessage) Component() logger.Component { return logger.ComponentExecutor }
func (outcomeMessage) Message() string             { return "request classified" }
func (m outcomeMessage) KeyValues() []interface{} {
	if m.err == nil {
		return []interface{}{"node", m.node, "outcome", "success"}
	}
	return []interface{}{"node", m.node, "outcome", "error", "error", m.err}
}

// retryMessage is logged at Debug before sleeping the retry backoff.
type retryMessage struct {
	attempt int
	backoff time.Duration
	err     error
}

func (retryMessage) Component() logger.Component { return logger.ComponentExecutor }
func (retryMessage) Message() string             { return "retrying request" }
func (m retryMessage) KeyValues() []interface{} {
	return []interface{}{"attempt", m.attempt, "backoff", m.backoff, "error", m.err}
}

// terminalErrorMessage is logged at Info when an outcome will not be
// retried further, whether because it's non-retryable or because
// retry_count was exhausted.
type terminalErrorMessage struct {
	node string
	err  error
}

func (terminalErrorMessage) Component() logger.Component { return logger.ComponentExecutor }
func (terminalErrorMessage) Message() string             { return "request failed" }
func (m terminalErrorMessage) KeyValues() []interface{} {
	return []interface{}{"node", m.node, "error", m.err}
}

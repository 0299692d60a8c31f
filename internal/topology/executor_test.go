package topology

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang/snappy"

	"github.com/kianmeng/ravendb-go/internal/command"
	"github.com/kianmeng/ravendb-go/internal/compression"
	"github.com/kianmeng/ravendb-go/internal/logger"
	"github.com/kianmeng/ravendb-go/internal/rerr"
)

// recordingSink is a LogSink that records every Print'd message under a
// mutex, since Print's listener goroutine runs concurrently with the test.
type recordingSink struct {
	mu    sync.Mutex
	calls []string
}

func (s *recordingSink) Info(level int, msg string, keysAndValues ...interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, msg)
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func newTestNetworkState(t *testing.T, ts *httptest.Server) *NetworkState {
	t.Helper()
	ns, err := NewNetworkState("testdb", DefaultConventions(), nil, nil, "store-1", RetryPolicy{}, []string{ts.URL})
	if err != nil {
		t.Fatalf("new network state: %v", err)
	}
	return ns
}

func newTestExecutor(t *testing.T, ts *httptest.Server) (*Executor, *NetworkState) {
	t.Helper()
	ns := newTestNetworkState(t, ts)
	node, err := ns.Selector().CurrentNode()
	if err != nil {
		t.Fatalf("current node: %v", err)
	}
	exec := NewExecutor(node, ns, nil)
	if err := exec.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(exec.Stop)
	return exec, ns
}

func TestClassify404NonRetryable(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	exec, _ := newTestExecutor(t, ts)
	_, err := exec.Request(context.Background(), command.GetDocuments{IDs: []string{"missing"}}, nil, DefaultRequestOptions())
	rv, ok := err.(*rerr.Error)
	if !ok || rv.Kind != rerr.KindDocumentNotFound || rv.Retryable {
		t.Fatalf("expected non-retryable document_not_found, got %v", err)
	}
}

func TestRetryableTransientServerErrorSucceedsAfterBackoff(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"Message":"busy"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"Results":[]}`))
	}))
	defer ts.Close()

	exec, _ := newTestExecutor(t, ts)
	opts := RequestOptions{RetryOnFailure: true, RetryCount: 2, RetryBackoff: 10 * time.Millisecond}

	start := time.Now()
	res, err := exec.Request(context.Background(), command.GetDocuments{IDs: []string{"u/1"}}, nil, opts)
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if res.Status != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Status)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("expected 3 submissions, got %d", got)
	}
	if elapsed < 20*time.Millisecond {
		t.Fatalf("expected total backoff latency >= 20ms, got %v", elapsed)
	}
}

func TestNonRetryableDatabaseMissingStopsImmediately(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Database-Missing", "yes")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"Message":"db gone"}`))
	}))
	defer ts.Close()

	exec, _ := newTestExecutor(t, ts)
	opts := RequestOptions{RetryOnFailure: true, RetryCount: 5, RetryBackoff: time.Millisecond}
	_, err := exec.Request(context.Background(), command.GetDocuments{IDs: []string{"u/1"}}, nil, opts)
	rv, ok := err.(*rerr.Error)
	if !ok || rv.Retryable {
		t.Fatalf("expected non-retryable error, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected exactly one submission, got %d", got)
	}
}

func TestURLLengthGuardRefusesLocallyWithoutNetworkTraffic(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	ns := newTestNetworkState(t, ts)
	ns.Conventions.MaxLengthOfQueryUsingGetURL = 10
	node, err := ns.Selector().CurrentNode()
	if err != nil {
		t.Fatalf("current node: %v", err)
	}
	exec := NewExecutor(node, ns, nil)
	if err := exec.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer exec.Stop()

	_, err = exec.Request(context.Background(), command.GetDocuments{IDs: []string{"a-long-document-id-that-is-too-long"}}, nil, DefaultRequestOptions())
	rv, ok := err.(*rerr.Error)
	if !ok || rv.Kind != rerr.KindMaxURLLengthReached {
		t.Fatalf("expected maximum_url_length_reached, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 0 {
		t.Fatalf("expected no network traffic, got %d calls", got)
	}
}

func TestTopologyEtagHeaderPresentOnEveryRequest(t *testing.T) {
	var sawHeader int
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawHeader = len(r.Header.Values("Topology-Etag"))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"Results":[]}`))
	}))
	defer ts.Close()

	exec, _ := newTestExecutor(t, ts)
	_, err := exec.Request(context.Background(), command.GetDocuments{IDs: []string{"u/1"}}, nil, DefaultRequestOptions())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sawHeader != 1 {
		t.Fatalf("expected exactly one Topology-Etag header, got %d", sawHeader)
	}
}

func TestCompressedRequestAndResponseRoundTrip(t *testing.T) {
	var sawContentEncoding, sawAcceptEncoding string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawContentEncoding = r.Header.Get("Content-Encoding")
		sawAcceptEncoding = r.Header.Get("Accept-Encoding")

		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read request body: %v", err)
		}
		decoded, err := snappy.Decode(nil, body)
		if err != nil {
			t.Errorf("decode snappy request body: %v", err)
		}
		if string(decoded) != `{"Commands":[]}` {
			t.Errorf("unexpected decoded request body: %s", decoded)
		}

		payload := snappy.Encode(nil, []byte(`{"Results":[]}`))
		w.Header().Set("Content-Encoding", "snappy")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(payload)
	}))
	defer ts.Close()

	conventions := DefaultConventions()
	conventions.Compression = compression.Snappy
	ns, err := NewNetworkState("testdb", conventions, nil, nil, "store-1", RetryPolicy{}, []string{ts.URL})
	if err != nil {
		t.Fatalf("new network state: %v", err)
	}
	node, err := ns.Selector().CurrentNode()
	if err != nil {
		t.Fatalf("current node: %v", err)
	}
	exec := NewExecutor(node, ns, nil)
	if err := exec.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer exec.Stop()

	res, err := exec.Request(context.Background(), command.Batch{Commands: []command.BatchCommandItem{}}, nil, DefaultRequestOptions())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(res.Body) != `{"Results":[]}` {
		t.Fatalf("expected decompressed response body, got %s", res.Body)
	}
	if sawContentEncoding != "snappy" {
		t.Fatalf("expected request Content-Encoding snappy, got %q", sawContentEncoding)
	}
	if sawAcceptEncoding == "" {
		t.Fatalf("expected an Accept-Encoding header advertising supported codecs")
	}
}

func TestRefreshTopologyHeaderTriggersAsyncRefresh(t *testing.T) {
	var topologyHits int32
	var ts *httptest.Server

	mux := http.NewServeMux()
	mux.HandleFunc("/databases/testdb/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Refresh-Topology", "1")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"Results":[]}`))
	})
	mux.HandleFunc("/topology", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&topologyHits, 1)
		body := `{"Etag":"new-etag","Nodes":[{"Url":"` + ts.URL + `","ClusterTag":"A"}]}`
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(body))
	})
	ts = httptest.NewServer(mux)
	defer ts.Close()

	ns := newTestNetworkState(t, ts)
	node, err := ns.Selector().CurrentNode()
	if err != nil {
		t.Fatalf("current node: %v", err)
	}
	exec := NewExecutor(node, ns, nil)
	if err := exec.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer exec.Stop()

	_, err = exec.Request(context.Background(), command.GetDocuments{IDs: []string{"u/1"}}, nil, DefaultRequestOptions())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if ns.Snapshot().Etag == "new-etag" {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected topology etag to become new-etag, got %q (topology hits=%d)", ns.Snapshot().Etag, topologyHits)
}

func TestConventionsTimeoutBoundsRequestRegardlessOfCallerContext(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer ts.Close()

	conventions := DefaultConventions()
	conventions.Timeout = 20 * time.Millisecond
	ns, err := NewNetworkState("testdb", conventions, nil, nil, "store-1", RetryPolicy{}, []string{ts.URL})
	if err != nil {
		t.Fatalf("new network state: %v", err)
	}
	node, err := ns.Selector().CurrentNode()
	if err != nil {
		t.Fatalf("current node: %v", err)
	}
	exec := NewExecutor(node, ns, nil)
	if err := exec.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer exec.Stop()

	start := time.Now()
	_, err = exec.Request(context.Background(), command.GetDocuments{IDs: []string{"u/1"}}, nil, DefaultRequestOptions())
	elapsed := time.Since(start)
	if err == nil {
		t.Fatalf("expected a timeout error from the bare, deadline-less caller context")
	}
	if elapsed >= time.Second {
		t.Fatalf("expected conventions.Timeout (20ms) to bound the request, took %v", elapsed)
	}
}

func TestAttemptLogsOutcomesRetriesAndTerminalFailure(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"Message":"busy"}`))
	}))
	defer ts.Close()

	sink := &recordingSink{}
	log := logger.New(sink, 0, map[logger.Component]logger.Level{
		logger.ComponentExecutor: logger.LevelDebug,
	})
	logger.StartPrintListener(log)
	defer log.Close()

	ns, err := NewNetworkState("testdb", DefaultConventions(), nil, nil, "store-1", RetryPolicy{}, []string{ts.URL})
	if err != nil {
		t.Fatalf("new network state: %v", err)
	}
	node, err := ns.Selector().CurrentNode()
	if err != nil {
		t.Fatalf("current node: %v", err)
	}
	exec := NewExecutor(node, ns, log)
	if err := exec.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer exec.Stop()

	opts := RequestOptions{RetryOnFailure: true, RetryCount: 2, RetryBackoff: time.Millisecond}
	_, err = exec.Request(context.Background(), command.GetDocuments{IDs: []string{"u/1"}}, nil, opts)
	if err == nil {
		t.Fatalf("expected a terminal transient-server error")
	}

	// 3 classified outcomes (Debug) + 2 retries (Debug) + 1 terminal (Info).
	const wantCalls = 6
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && sink.count() < wantCalls {
		time.Sleep(5 * time.Millisecond)
	}
	if got := sink.count(); got < wantCalls {
		t.Fatalf("expected at least %d logged messages, got %d", wantCalls, got)
	}
}

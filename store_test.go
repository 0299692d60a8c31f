package ravendb

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kianmeng/ravendb-go/internal/command"
)

func TestNewRequiresURLsAndDatabase(t *testing.T) {
	if _, err := New(WithDatabase("testdb")); err == nil {
		t.Fatal("expected an error with no urls configured")
	}
	if _, err := New(WithURLs("http://localhost:8080")); err == nil {
		t.Fatal("expected an error with no database configured")
	}
}

func TestStoreOpenSessionStoreAndSaveChanges(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/databases/testdb/bulk_docs", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Commands []command.BatchCommandItem `json:"Commands"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode batch body: %v", err)
		}
		if len(body.Commands) != 1 || body.Commands[0]["Type"] != "PUT" {
			t.Errorf("unexpected batch commands: %+v", body.Commands)
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(command.BatchResponse{Results: []command.BatchResult{
			{Type: "PUT", ID: "u/1", ChangeVector: "A:1-xxx", Collection: "Users"},
		}})
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	store, err := New(WithURLs(ts.URL), WithDatabase("testdb"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	sess, err := store.OpenSession(ctx)
	if err != nil {
		t.Fatalf("open session: %v", err)
	}
	defer store.CloseSession(sess)

	doc, err := sess.Store(map[string]interface{}{"id": "u/1", "name": "a"}, "", "")
	if err != nil {
		t.Fatalf("store: %v", err)
	}

	if err := sess.SaveChanges(ctx); err != nil {
		t.Fatalf("save changes: %v", err)
	}

	if doc.ChangeVector != "A:1-xxx" {
		t.Fatalf("expected change vector A:1-xxx, got %s", doc.ChangeVector)
	}
	if sess.NumberOfRequests() != 1 {
		t.Fatalf("expected number_of_requests == 1, got %d", sess.NumberOfRequests())
	}
}

func TestStoreOpenSessionFailsWithNoReachableNode(t *testing.T) {
	store, err := New(WithURLs("http://127.0.0.1:1"), WithDatabase("testdb"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer store.Close()

	if _, err := store.OpenSession(context.Background()); err == nil {
		t.Fatal("expected open session to fail against an unreachable node")
	}
}

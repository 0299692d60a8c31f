package command

import (
	"net/url"
	"strings"
	"testing"
)

type fakeNode struct{ base string }

func (f fakeNode) BaseURL() string { return f.base }

func TestGetDocumentsOmitsNilParams(t *testing.T) {
	req, err := GetDocuments{IDs: []string{"users/1", "users/2"}}.CreateRequest(fakeNode{base: "http://n1/databases/db"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !req.IsReadRequest {
		t.Fatal("expected a read request")
	}

	parsed, err := url.Parse(req.URL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	q := parsed.Query()
	if got := q["id"]; len(got) != 2 || got[0] != "users/1" || got[1] != "users/2" {
		t.Fatalf("unexpected id params: %v", got)
	}
	if q.Has("start") || q.Has("pageSize") || q.Has("metadataOnly") {
		t.Fatalf("expected omitted optional params, got %v", q)
	}
}

func TestGetDocumentsIncludesOptionalParams(t *testing.T) {
	start, pageSize, metadataOnly := 5, 10, true
	req, err := GetDocuments{
		IDs:          []string{"users/1"},
		Start:        &start,
		PageSize:     &pageSize,
		MetadataOnly: &metadataOnly,
	}.CreateRequest(fakeNode{base: "http://n1/databases/db"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(req.URL, "start=5") || !strings.Contains(req.URL, "pageSize=10") || !strings.Contains(req.URL, "metadataOnly=true") {
		t.Fatalf("unexpected url: %s", req.URL)
	}
}

func TestBatchBuildsBulkDocsRequest(t *testing.T) {
	req, err := Batch{Commands: []BatchCommandItem{
		{"Type": "PUT", "Id": "users/1", "Document": map[string]interface{}{"name": "a"}},
	}}.CreateRequest(fakeNode{base: "http://n1/databases/db"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.IsReadRequest {
		t.Fatal("expected a write request")
	}
	if req.URL != "http://n1/databases/db/bulk_docs" {
		t.Fatalf("unexpected url: %s", req.URL)
	}
	if !strings.Contains(string(req.Body), `"Commands"`) {
		t.Fatalf("expected Commands wrapper, got %s", req.Body)
	}
}

func TestJoinIdentityParts(t *testing.T) {
	if got := JoinIdentityParts("/", "users", "1"); got != "users/1" {
		t.Fatalf("expected users/1, got %s", got)
	}
}

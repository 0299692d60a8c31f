// Package command defines the Command contract (C6): every command type
// provides a method, a lazily-built URL, an optional JSON body, and a
// read/write flag (spec §4.5). Two worked instances are provided: Get
// Documents and Batch.
package command

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// NodeURL is the minimal surface a Command needs from a Server Node to
// build its request: the database-scoped base URL. Defined here (not
// imported from package topology) to avoid a topology <-> command import
// cycle, matching the teacher's pattern of small leaf-level contracts
// (core/connection.Handshaker) that depend only on what they need.
type NodeURL interface {
	BaseURL() string
}

// Request is the method/url/body/is-read-request shape a Command resolves
// to once handed a node (spec §3 "Command").
type Request struct {
	Method       string
	URL          string
	Body         []byte
	IsReadRequest bool
}

// Command is implemented by every command type.
type Command interface {
	CreateRequest(node NodeURL) (Request, error)
}

// GetDocuments is the Get Documents command (spec §4.5): GET
// {node-url}/docs?id=...&start=...&pageSize=...&metadataOnly=...&includes=...
type GetDocuments struct {
	IDs          []string
	Start        *int
	PageSize     *int
	MetadataOnly *bool
	Includes     []string
}

// CreateRequest implements Command. Parameter encoding: repeat "id" per
// value, omit any nil parameter, lower-case booleans.
func (g GetDocuments) CreateRequest(node NodeURL) (Request, error) {
	q := url.Values{}
	for _, id := range g.IDs {
		q.Add("id", id)
	}
	if g.Start != nil {
		q.Set("start", strconv.Itoa(*g.Start))
	}
	if g.PageSize != nil {
		q.Set("pageSize", strconv.Itoa(*g.PageSize))
	}
	if g.MetadataOnly != nil {
		q.Set("metadataOnly", strconv.FormatBool(*g.MetadataOnly))
	}
	for _, inc := range g.Includes {
		q.Add("includes", inc)
	}

	return Request{
		Method:        "GET",
		URL:           node.BaseURL() + "/docs?" + q.Encode(),
		IsReadRequest: true,
	}, nil
}

// BatchCommandItem is one entry of a Batch request's "Commands" array. Its
// shape varies per command Type, so it's carried as a raw map that
// marshals verbatim — the session (C7) is the only caller that builds
// these today (PUT/DELETE), and user-supplied defer_commands pass through
// untouched.
type BatchCommandItem map[string]interface{}

// Batch is the Batch command (spec §4.5): POST {node-url}/bulk_docs with
// body {"Commands": [...]}.
type Batch struct {
	Commands []BatchCommandItem
}

type batchBody struct {
	Commands []BatchCommandItem `json:"Commands"`
}

// CreateRequest implements Command.
func (b Batch) CreateRequest(node NodeURL) (Request, error) {
	body, err := json.Marshal(batchBody{Commands: b.Commands})
	if err != nil {
		return Request{}, fmt.Errorf("command: encode batch body: %w", err)
	}

	return Request{
		Method:        "POST",
		URL:           node.BaseURL() + "/bulk_docs",
		Body:          body,
		IsReadRequest: false,
	}, nil
}

// BatchResult is one entry of a Batch response's "Results" array.
type BatchResult struct {
	Type           string `json:"Type"`
	ID             string `json:"@id"`
	ChangeVector   string `json:"@change-vector"`
	Collection     string `json:"@collection"`
	LastModified   string `json:"@last-modified"`
}

// BatchResponse is the decoded body of a successful Batch response.
type BatchResponse struct {
	Results []BatchResult `json:"Results"`
}

// GetDocumentsResponse is the decoded body of a successful Get Documents
// response.
type GetDocumentsResponse struct {
	Results  []map[string]interface{} `json:"Results"`
	Includes map[string]interface{}   `json:"Includes"`
}

// JoinIdentityParts joins an id prefix and identifier parts using the
// conventions' identity_parts_separator (spec §3 Conventions).
func JoinIdentityParts(sep string, parts ...string) string {
	return strings.Join(parts, sep)
}

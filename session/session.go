package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/go-cmp/cmp"

	"github.com/kianmeng/ravendb-go/internal/command"
	"github.com/kianmeng/ravendb-go/internal/logger"
	"github.com/kianmeng/ravendb-go/internal/rerr"
	"github.com/kianmeng/ravendb-go/internal/topology"
)

// Executor is the surface Session needs from a Request Executor (C3):
// just enough to issue a command and get back a classified result.
// Defined here rather than depending on *topology.Executor's full API, the
// same minimal-leaf-interface move internal/command makes for NodeURL.
type Executor interface {
	Request(ctx context.Context, cmd command.Command, headers map[string]string, opts topology.RequestOptions) (topology.Result, error)
}

// state is the session's private data (spec §3 "Session State"), mutated
// only from inside the actor's run loop.
type state struct {
	id       string
	database string

	documentsByID   map[string]*Document
	deletedEntities []*Document
	deferCommands   []command.BatchCommandItem

	numberOfRequests int
	conventions      topology.Conventions

	lastNotImplemented []string
}

// Session is the Session actor (C7). Its public methods dispatch onto a
// single-consumer inbox so load/store/delete/save_changes against one
// session are linearizable (spec §5).
type Session struct {
	exec Executor
	log  *logger.Logger

	jobs    chan func()
	stopped chan struct{}
	stopOnce sync.Once

	state *state
}

// New builds and starts a Session actor with the given id and database.
func New(id, database string, conventions topology.Conventions, exec Executor, log *logger.Logger) *Session {
	s := &Session{
		exec:    exec,
		log:     log,
		jobs:    make(chan func()),
		stopped: make(chan struct{}),
		state: &state{
			id:            id,
			database:      database,
			documentsByID: make(map[string]*Document),
			conventions:   conventions,
		},
	}
	go s.run()
	return s
}

// ID returns the session's id.
func (s *Session) ID() string { return s.state.id }

// NumberOfRequests returns the monotone request counter (spec P4). Safe to
// call concurrently: it dispatches through the actor like everything else.
func (s *Session) NumberOfRequests() int {
	var n int
	s.do(func() { n = s.state.numberOfRequests })
	return n
}

// NotImplemented returns the per-item "not_implemented" notes produced by
// the most recent SaveChanges call for batch result types the session
// doesn't reconcile (spec §4.6).
func (s *Session) NotImplemented() []string {
	var notes []string
	s.do(func() { notes = append([]string(nil), s.state.lastNotImplemented...) })
	return notes
}

// Close stops the session actor; its state is lost (spec §3 "Lifecycles").
func (s *Session) Close() {
	s.stopOnce.Do(func() { close(s.stopped) })
}

func (s *Session) run() {
	for {
		select {
		case job := <-s.jobs:
			job()
		case <-s.stopped:
			return
		}
	}
}

// do runs fn on the actor's inbox and blocks until it completes.
func (s *Session) do(fn func()) {
	done := make(chan struct{})
	job := func() { fn(); close(done) }
	select {
	case s.jobs <- job:
	case <-s.stopped:
		return
	}
	select {
	case <-done:
	case <-s.stopped:
	}
}

// Load implements load(id, includes) (spec §4.6): a cache hit on an
// already-tracked id returns it with zero network calls (the
// "document_already_stored" kind's informational reading — "load returns
// the cached document, not an error").
func (s *Session) Load(ctx context.Context, id string, includes []string) (*Document, error) {
	var doc *Document
	var err error
	s.do(func() { doc, err = s.load(ctx, id, includes) })
	return doc, err
}

func (s *Session) load(ctx context.Context, id string, includes []string) (*Document, error) {
	if doc, ok := s.state.documentsByID[id]; ok {
		return doc, nil
	}

	cmd := command.GetDocuments{IDs: []string{id}, Includes: includes}
	res, err := s.exec.Request(ctx, cmd, nil, topology.DefaultRequestOptions())
	s.state.numberOfRequests++
	if err != nil {
		return nil, err
	}

	var decoded command.GetDocumentsResponse
	if jsonErr := json.Unmarshal(res.Body, &decoded); jsonErr != nil {
		return nil, rerr.New(rerr.KindInvalidResponsePayload, false, jsonErr.Error())
	}
	if len(decoded.Results) == 0 {
		return nil, rerr.New(rerr.KindDocumentNotFound, false, "document not found")
	}

	doc := documentFromServer(decoded.Results[0])
	if doc.ID == "" {
		doc.ID = id
	}
	s.state.documentsByID[doc.ID] = doc
	return doc, nil
}

// Store implements store(entity, key?, change_vector?) (spec §4.6).
func (s *Session) Store(entity map[string]interface{}, key, changeVector string) (*Document, error) {
	var doc *Document
	var err error
	s.do(func() { doc, err = s.store(entity, key, changeVector) })
	return doc, err
}

func (s *Session) store(entity map[string]interface{}, key, changeVector string) (*Document, error) {
	if entity == nil {
		return nil, rerr.ErrNullEntity
	}

	id := key
	if id == "" {
		if v, ok := entity["id"].(string); ok && v != "" {
			id = v
		}
	}
	if id == "" {
		return nil, rerr.ErrNoValidIDInformed
	}

	// Re-storing an id cancels any deletion slated for it, preserving P1
	// ("no id appears in both documents_by_id and deleted_entities").
	s.removeDeletion(id)

	doc, ok := s.state.documentsByID[id]
	if !ok {
		doc = &Document{ID: id}
		s.state.documentsByID[id] = doc
	}
	doc.Entity = cloneMap(entity)
	// A supplied change-vector is recorded even with optimistic concurrency
	// off; saveChanges attaches it to the PUT only when the convention is on.
	if changeVector != "" || s.state.conventions.UseOptimisticConcurrency {
		doc.ChangeVector = changeVector
	}
	return doc, nil
}

func (s *Session) removeDeletion(id string) {
	for i, d := range s.state.deletedEntities {
		if d.ID == id {
			s.state.deletedEntities = append(s.state.deletedEntities[:i], s.state.deletedEntities[i+1:]...)
			return
		}
	}
}

// Delete implements delete(id-or-entity) (spec §4.6). idOrEntity is
// either a string id or a map[string]interface{} entity carrying an "id"
// key; anything else fails with no_valid_id_informed.
func (s *Session) Delete(idOrEntity interface{}) error {
	var err error
	s.do(func() { err = s.delete(idOrEntity) })
	return err
}

func (s *Session) delete(idOrEntity interface{}) error {
	id, changeVector := s.resolveIdentity(idOrEntity)
	if id == "" {
		return rerr.ErrNoValidIDInformed
	}

	delete(s.state.documentsByID, id)

	for _, d := range s.state.deletedEntities {
		if d.ID == id {
			return nil
		}
	}
	s.state.deletedEntities = append(s.state.deletedEntities, &Document{ID: id, ChangeVector: changeVector})
	return nil
}

func (s *Session) resolveIdentity(idOrEntity interface{}) (id, changeVector string) {
	switch v := idOrEntity.(type) {
	case string:
		id = v
	case map[string]interface{}:
		id, _ = v["id"].(string)
	}
	if id == "" {
		return "", ""
	}
	if existing, ok := s.state.documentsByID[id]; ok {
		changeVector = existing.ChangeVector
	}
	return id, changeVector
}

// Defer implements defer_commands staging (spec §3 "Session State"): raw
// commands included verbatim in the next SaveChanges batch.
func (s *Session) Defer(cmds ...command.BatchCommandItem) {
	s.do(func() { s.state.deferCommands = append(s.state.deferCommands, cmds...) })
}

// SaveChanges implements save_changes() (spec §4.6).
func (s *Session) SaveChanges(ctx context.Context) error {
	var err error
	s.do(func() { err = s.saveChanges(ctx) })
	return err
}

func (s *Session) saveChanges(ctx context.Context) error {
	s.state.lastNotImplemented = nil

	if s.state.numberOfRequests >= s.state.conventions.MaxNumberOfRequestsPerSession {
		return rerr.ErrMaxRequestsExceeded
	}

	commands := make([]command.BatchCommandItem, 0, len(s.state.deferCommands)+len(s.state.deletedEntities)+len(s.state.documentsByID))
	commands = append(commands, s.state.deferCommands...)

	for _, d := range s.state.deletedEntities {
		item := command.BatchCommandItem{"Type": "DELETE", "Id": d.ID}
		if s.state.conventions.UseOptimisticConcurrency && d.ChangeVector != "" {
			item["ChangeVector"] = d.ChangeVector
		}
		commands = append(commands, item)
	}

	for _, doc := range s.state.documentsByID {
		if cmp.Equal(doc.Entity, doc.OriginalValue) {
			continue
		}
		item := command.BatchCommandItem{"Type": "PUT", "Id": doc.ID, "Document": doc.Entity}
		if s.state.conventions.UseOptimisticConcurrency && doc.ChangeVector != "" {
			item["ChangeVector"] = doc.ChangeVector
		}
		commands = append(commands, item)
	}

	if len(commands) == 0 {
		// R2: an unchanged session issues no request and leaves
		// number_of_requests untouched.
		return nil
	}

	res, err := s.exec.Request(ctx, command.Batch{Commands: commands}, nil, topology.DefaultRequestOptions())
	s.state.numberOfRequests++
	if err != nil {
		return err
	}

	var decoded command.BatchResponse
	if jsonErr := json.Unmarshal(res.Body, &decoded); jsonErr != nil {
		return rerr.New(rerr.KindInvalidResponsePayload, false, jsonErr.Error())
	}

	s.state.deferCommands = nil
	s.state.deletedEntities = nil

	for _, result := range decoded.Results {
		switch result.Type {
		case "PUT":
			doc, ok := s.state.documentsByID[result.ID]
			if !ok {
				continue
			}
			doc.ChangeVector = result.ChangeVector
			doc.Metadata = map[string]interface{}{
				"@collection":    result.Collection,
				"@id":            result.ID,
				"@change-vector": result.ChangeVector,
				"@last-modified": result.LastModified,
			}
			// P2: at the moment commit returns, original_value == entity
			// and original_metadata == metadata for every touched
			// document.
			doc.OriginalMetadata = cloneMap(doc.Metadata)
			doc.OriginalValue = cloneMap(doc.Entity)
		case "DELETE":
			// Already removed from tracking when delete() was called;
			// nothing further to reconcile.
		default:
			s.state.lastNotImplemented = append(s.state.lastNotImplemented, fmt.Sprintf("not_implemented: %s for %s", result.Type, result.ID))
		}
	}

	if len(s.state.lastNotImplemented) > 0 && s.log != nil {
		s.log.Print(logger.LevelInfo, notImplementedMessage{notes: s.state.lastNotImplemented})
	}

	return nil
}

type notImplementedMessage struct{ notes []string }

func (notImplementedMessage) Component() logger.Component { return logger.ComponentSession }
func (notImplementedMessage) Message() string             { return "batch result contained unreconciled types" }
func (m notImplementedMessage) KeyValues() []interface{} {
	return []interface{}{"notes", m.notes}
}

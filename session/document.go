// Package session implements the Session (C7): a per-session actor that
// stages loaded/stored/deleted documents and deferred commands, then
// flushes them as a single batched commit (spec §4.6).
package session

// Document is a Session Document (spec §3): the entity as last seen or
// staged by this session, its key and change-vector, and the metadata
// envelope the server assigns. OriginalMetadata/OriginalValue snapshot the
// last server-known state; mutating Entity/Metadata does not touch them
// until the next commit round-trip.
type Document struct {
	ID           string
	Entity       map[string]interface{}
	ChangeVector string

	Metadata         map[string]interface{}
	OriginalMetadata map[string]interface{}
	OriginalValue    map[string]interface{}
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// documentFromServer builds a Document from one "Results" entry of a Get
// Documents response, snapshotting original_metadata/original_value from
// the server view as spec §4.6 "load" requires.
func documentFromServer(raw map[string]interface{}) *Document {
	meta, _ := raw["@metadata"].(map[string]interface{})
	if meta == nil {
		meta = map[string]interface{}{}
	}
	id, _ := meta["@id"].(string)
	cv, _ := meta["@change-vector"].(string)

	entity := cloneMap(raw)

	return &Document{
		ID:               id,
		Entity:           entity,
		ChangeVector:     cv,
		Metadata:         cloneMap(meta),
		OriginalMetadata: cloneMap(meta),
		OriginalValue:    cloneMap(entity),
	}
}

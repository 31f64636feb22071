// Package docstore is the document database every POS component persists to.
//
// Documents are JSON objects grouped in collections and keyed by string id.
// Every write bumps the document version; writes may be conditioned on the
// version the caller read, which is how concurrent edits to the same table or
// caixa session are detected. Subscriptions deliver an initial snapshot and
// then incremental added/modified/removed events.
package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"labonnas-pos/internal/apperr"
)

var (
	ErrNotFound        = apperr.New(apperr.KindNotFound, "document_not_found", "document not found")
	ErrAlreadyExists   = apperr.New(apperr.KindConflict, "document_exists", "document already exists")
	ErrVersionMismatch = apperr.New(apperr.KindConflict, "version_mismatch", "document was modified concurrently")
	ErrBatchTooLarge   = apperr.New(apperr.KindValidation, "batch_too_large", "too many writes in one batch")
	ErrSlowSubscriber  = apperr.New(apperr.KindUnavailable, "slow_subscriber", "subscriber fell behind and was closed")
	ErrClosed          = apperr.New(apperr.KindUnavailable, "store_closed", "document store is closed")
)

// DefaultMaxBatch mirrors the write limit of hosted document databases.
const DefaultMaxBatch = 500

type Document struct {
	Collection string          `json:"collection"`
	ID         string          `json:"id"`
	Data       json.RawMessage `json:"data"`
	Version    int64           `json:"version"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Filter is an equality match on a top-level field.
type Filter struct {
	Field string
	Value any
}

func Eq(field string, value any) Filter {
	return Filter{Field: field, Value: value}
}

type OpKind int

const (
	OpCreate OpKind = iota + 1
	OpSet
	OpUpdate
	OpDelete
)

func (k OpKind) String() string {
	switch k {
	case OpCreate:
		return "create"
	case OpSet:
		return "set"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Write is one operation of an atomic batch.
type Write struct {
	Kind       OpKind
	Collection string
	ID         string
	Data       any
	// ExpectVersion, when non-zero, makes the write fail with
	// ErrVersionMismatch unless the stored document has that version.
	ExpectVersion int64
}

// Create inserts a new document. An empty id is replaced by a generated one.
func Create(collection, id string, data any) Write {
	return Write{Kind: OpCreate, Collection: collection, ID: id, Data: data}
}

// Set creates the document or replaces it entirely.
func Set(collection, id string, data any) Write {
	return Write{Kind: OpSet, Collection: collection, ID: id, Data: data}
}

// Update merges the top-level fields of data into an existing document.
func Update(collection, id string, fields any) Write {
	return Write{Kind: OpUpdate, Collection: collection, ID: id, Data: fields}
}

func Delete(collection, id string) Write {
	return Write{Kind: OpDelete, Collection: collection, ID: id}
}

func (w Write) IfVersion(version int64) Write {
	w.ExpectVersion = version
	return w
}

type EventType string

const (
	EventAdded    EventType = "added"
	EventModified EventType = "modified"
	EventRemoved  EventType = "removed"
)

// Event describes one change. For removals Doc holds the last known data
// and a version one past the last stored one.
type Event struct {
	Type EventType
	Doc  Document
}

type Store interface {
	Get(ctx context.Context, collection, id string) (Document, error)
	List(ctx context.Context, collection string, filters ...Filter) ([]Document, error)
	// Apply runs every write atomically. The result holds one document per
	// write, in order.
	Apply(ctx context.Context, writes ...Write) ([]Document, error)
	Subscribe(ctx context.Context, collection string, filters ...Filter) (*Subscription, error)
	MaxBatch() int
	Ping(ctx context.Context) error
	Close() error
}

// Decode unmarshals a document into v and overlays the store-owned id and
// version onto the "id" and "version" fields when the type has them.
func Decode[T any](doc Document) (T, error) {
	var v T
	if err := json.Unmarshal(doc.Data, &v); err != nil {
		return v, fmt.Errorf("failed to decode %s/%s: %w", doc.Collection, doc.ID, err)
	}
	meta, _ := json.Marshal(map[string]any{"id": doc.ID, "version": doc.Version})
	if err := json.Unmarshal(meta, &v); err != nil {
		return v, fmt.Errorf("failed to decode %s/%s metadata: %w", doc.Collection, doc.ID, err)
	}
	return v, nil
}

func DecodeAll[T any](docs []Document) ([]T, error) {
	out := make([]T, 0, len(docs))
	for _, doc := range docs {
		v, err := Decode[T](doc)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// DeleteAll removes ids from a collection in chunks of the store's batch limit.
// Chunks already applied stay applied if a later chunk fails.
func DeleteAll(ctx context.Context, store Store, collection string, ids []string) error {
	size := store.MaxBatch()
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		writes := make([]Write, 0, end-start)
		for _, id := range ids[start:end] {
			writes = append(writes, Delete(collection, id))
		}
		if _, err := store.Apply(ctx, writes...); err != nil {
			return fmt.Errorf("failed to delete chunk %d-%d of %s: %w", start, end, collection, err)
		}
	}
	return nil
}

// Encode marshals a document body, which must be a JSON object.
func Encode(data any) (json.RawMessage, error) {
	if raw, ok := data.(json.RawMessage); ok {
		return raw, nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(b, &probe); err != nil {
		return nil, fmt.Errorf("document must be a JSON object: %w", err)
	}
	return b, nil
}

// Merge overlays the top-level fields of patch onto base.
func Merge(base json.RawMessage, patch any) (json.RawMessage, error) {
	fields, err := Encode(patch)
	if err != nil {
		return nil, err
	}
	current := map[string]json.RawMessage{}
	if len(base) > 0 {
		if err := json.Unmarshal(base, &current); err != nil {
			return nil, fmt.Errorf("failed to decode stored document: %w", err)
		}
	}
	var updates map[string]json.RawMessage
	if err := json.Unmarshal(fields, &updates); err != nil {
		return nil, fmt.Errorf("failed to decode update: %w", err)
	}
	for k, v := range updates {
		current[k] = v
	}
	return json.Marshal(current)
}

// Matches reports whether data satisfies every filter.
func Matches(data json.RawMessage, filters []Filter) bool {
	if len(filters) == 0 {
		return true
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return false
	}
	for _, f := range filters {
		raw, ok := fields[f.Field]
		if !ok {
			return false
		}
		var got any
		if err := json.Unmarshal(raw, &got); err != nil {
			return false
		}
		want, err := normalize(f.Value)
		if err != nil || !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}

func normalize(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	err = json.Unmarshal(b, &out)
	return out, err
}

// ValidateBatch checks the shape of a batch before any backend work.
func ValidateBatch(writes []Write, maxBatch int) error {
	if len(writes) == 0 {
		return nil
	}
	if len(writes) > maxBatch {
		return ErrBatchTooLarge
	}
	for _, w := range writes {
		if w.Kind < OpCreate || w.Kind > OpDelete {
			return apperr.Validation("kind", "unknown write kind")
		}
		if w.Collection == "" {
			return apperr.Validation("collection", "collection is required")
		}
		if w.ID == "" && w.Kind != OpCreate {
			return apperr.Validation("id", fmt.Sprintf("%s on %s requires an id", w.Kind, w.Collection))
		}
	}
	return nil
}

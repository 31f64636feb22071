package docstore

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Tx is the primitive access a backend offers inside one transaction. Load
// must see earlier Put/Remove calls of the same transaction and should lock
// the row when the backend supports it.
type Tx interface {
	Load(ctx context.Context, collection, id string) (Document, bool, error)
	Put(ctx context.Context, doc Document, isNew bool) error
	Remove(ctx context.Context, collection, id string) error
}

// ApplyTx runs a batch against tx and returns the resulting documents and
// the events to publish once the caller commits.
func ApplyTx(ctx context.Context, tx Tx, writes []Write, now time.Time) ([]Document, []Event, error) {
	results := make([]Document, len(writes))
	events := make([]Event, 0, len(writes))

	for i, w := range writes {
		id := w.ID
		if id == "" {
			id = uuid.NewString()
		}

		current, exists, err := tx.Load(ctx, w.Collection, id)
		if err != nil {
			return nil, nil, err
		}
		if w.ExpectVersion != 0 {
			if !exists {
				return nil, nil, ErrNotFound
			}
			if current.Version != w.ExpectVersion {
				return nil, nil, ErrVersionMismatch
			}
		}

		switch w.Kind {
		case OpCreate, OpSet:
			if exists && w.Kind == OpCreate {
				return nil, nil, ErrAlreadyExists
			}
			data, err := Encode(w.Data)
			if err != nil {
				return nil, nil, err
			}
			doc := Document{Collection: w.Collection, ID: id, Data: data, Version: current.Version + 1, UpdatedAt: now}
			if err := tx.Put(ctx, doc, !exists); err != nil {
				return nil, nil, err
			}
			results[i] = doc
			evType := EventAdded
			if exists {
				evType = EventModified
			}
			events = append(events, Event{Type: evType, Doc: doc})

		case OpUpdate:
			if !exists {
				return nil, nil, ErrNotFound
			}
			data, err := Merge(current.Data, w.Data)
			if err != nil {
				return nil, nil, err
			}
			doc := Document{Collection: w.Collection, ID: id, Data: data, Version: current.Version + 1, UpdatedAt: now}
			if err := tx.Put(ctx, doc, false); err != nil {
				return nil, nil, err
			}
			results[i] = doc
			events = append(events, Event{Type: EventModified, Doc: doc})

		case OpDelete:
			if !exists {
				return nil, nil, ErrNotFound
			}
			if err := tx.Remove(ctx, w.Collection, id); err != nil {
				return nil, nil, err
			}
			tomb := current
			tomb.Version++
			tomb.UpdatedAt = now
			results[i] = tomb
			events = append(events, Event{Type: EventRemoved, Doc: tomb})
		}
	}

	return results, events, nil
}

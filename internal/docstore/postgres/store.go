// Package postgres stores documents in a PostgreSQL jsonb table.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"labonnas-pos/internal/database"
	"labonnas-pos/internal/docstore"
)

const uniqueViolation = "23505"

// Store implements docstore.Store on the documents table. Changes are
// published to subscribers of this process only; other processes learn about
// them through the broker.
type Store struct {
	db  *database.DB
	hub *docstore.Hub

	// mu orders commits against subscription snapshots.
	mu sync.Mutex
}

func New(db *database.DB) *Store {
	return &Store{db: db, hub: docstore.NewHub()}
}

func (s *Store) MaxBatch() int { return docstore.DefaultMaxBatch }

func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close ends subscriptions. The pool belongs to the caller.
func (s *Store) Close() error {
	s.hub.Close()
	return nil
}

func (s *Store) Get(ctx context.Context, collection, id string) (docstore.Document, error) {
	doc := docstore.Document{Collection: collection, ID: id}
	var data []byte
	err := s.db.QueryRow(ctx, database.GetDocumentSQL, collection, id).Scan(&data, &doc.Version, &doc.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return docstore.Document{}, docstore.ErrNotFound
		}
		return docstore.Document{}, fmt.Errorf("failed to get %s/%s: %w", collection, id, err)
	}
	doc.Data = data
	return doc, nil
}

func (s *Store) List(ctx context.Context, collection string, filters ...docstore.Filter) ([]docstore.Document, error) {
	return s.list(ctx, collection, filters)
}

func (s *Store) list(ctx context.Context, collection string, filters []docstore.Filter) ([]docstore.Document, error) {
	containment, err := containsJSON(filters)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(ctx, database.ListDocumentsSQL, collection, containment)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", collection, err)
	}
	defer rows.Close()

	var docs []docstore.Document
	for rows.Next() {
		doc := docstore.Document{Collection: collection}
		var data []byte
		if err := rows.Scan(&doc.ID, &data, &doc.Version, &doc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", collection, err)
		}
		doc.Data = data
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// containsJSON turns equality filters into a jsonb containment document.
func containsJSON(filters []docstore.Filter) (string, error) {
	obj := make(map[string]any, len(filters))
	for _, f := range filters {
		obj[f.Field] = f.Value
	}
	b, err := json.Marshal(obj)
	if err != nil {
		return "", fmt.Errorf("failed to encode filters: %w", err)
	}
	return string(b), nil
}

func (s *Store) Subscribe(ctx context.Context, collection string, filters ...docstore.Filter) (*docstore.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot, err := s.list(ctx, collection, filters)
	if err != nil {
		return nil, err
	}
	return s.hub.Open(ctx, collection, filters, snapshot), nil
}

func (s *Store) Apply(ctx context.Context, writes ...docstore.Write) ([]docstore.Document, error) {
	if err := docstore.ValidateBatch(writes, s.MaxBatch()); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	results, events, err := docstore.ApplyTx(ctx, &pgTx{tx: tx}, writes, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.hub.Publish(events)
	return results, nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Load(ctx context.Context, collection, id string) (docstore.Document, bool, error) {
	doc := docstore.Document{Collection: collection, ID: id}
	var data []byte
	err := t.tx.QueryRow(ctx, database.GetDocumentForUpdateSQL, collection, id).Scan(&data, &doc.Version, &doc.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return docstore.Document{}, false, nil
		}
		return docstore.Document{}, false, fmt.Errorf("failed to lock %s/%s: %w", collection, id, err)
	}
	doc.Data = data
	return doc, true, nil
}

func (t *pgTx) Put(ctx context.Context, doc docstore.Document, isNew bool) error {
	query := database.UpdateDocumentSQL
	if isNew {
		query = database.InsertDocumentSQL
	}
	_, err := t.tx.Exec(ctx, query, doc.Collection, doc.ID, string(doc.Data), doc.Version, doc.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return docstore.ErrAlreadyExists
		}
		return fmt.Errorf("failed to write %s/%s: %w", doc.Collection, doc.ID, err)
	}
	return nil
}

func (t *pgTx) Remove(ctx context.Context, collection, id string) error {
	if _, err := t.tx.Exec(ctx, database.DeleteDocumentSQL, collection, id); err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", collection, id, err)
	}
	return nil
}

// Package sqlite stores documents in an embedded SQLite database for
// single-node deployments.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"labonnas-pos/internal/docstore"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

type Store struct {
	sqlDB *sql.DB
	hub   *docstore.Hub
	mu    sync.Mutex
}

// Open opens the database file and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// A single writer connection keeps transactions serialized.
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(sqlDB, migrationFiles, "migrations"); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB, hub: docstore.NewHub()}, nil
}

func (s *Store) MaxBatch() int { return docstore.DefaultMaxBatch }

func (s *Store) Ping(ctx context.Context) error {
	return s.sqlDB.PingContext(ctx)
}

func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	s.hub.Close()
	return s.sqlDB.Close()
}

func (s *Store) Get(ctx context.Context, collection, id string) (docstore.Document, error) {
	doc, ok, err := load(ctx, s.sqlDB, collection, id)
	if err != nil {
		return docstore.Document{}, err
	}
	if !ok {
		return docstore.Document{}, docstore.ErrNotFound
	}
	return doc, nil
}

func (s *Store) List(ctx context.Context, collection string, filters ...docstore.Filter) ([]docstore.Document, error) {
	return s.list(ctx, collection, filters)
}

// list loads the collection and filters in Go so that matching follows the
// same JSON equality rules as the other backends.
func (s *Store) list(ctx context.Context, collection string, filters []docstore.Filter) ([]docstore.Document, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT id, data, version, updated_at FROM documents WHERE collection = ? ORDER BY id`, collection)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", collection, err)
	}
	defer rows.Close()

	var docs []docstore.Document
	for rows.Next() {
		var (
			doc     = docstore.Document{Collection: collection}
			data    string
			updated int64
		)
		if err := rows.Scan(&doc.ID, &data, &doc.Version, &updated); err != nil {
			return nil, fmt.Errorf("scan %s: %w", collection, err)
		}
		doc.Data = []byte(data)
		doc.UpdatedAt = fromMillis(updated)
		if docstore.Matches(doc.Data, filters) {
			docs = append(docs, doc)
		}
	}
	return docs, rows.Err()
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

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	results, events, err := docstore.ApplyTx(ctx, &sqlTx{tx: tx}, writes, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	s.hub.Publish(events)
	return results, nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func load(ctx context.Context, q queryer, collection, id string) (docstore.Document, bool, error) {
	var (
		doc     = docstore.Document{Collection: collection, ID: id}
		data    string
		updated int64
	)
	err := q.QueryRowContext(ctx,
		`SELECT data, version, updated_at FROM documents WHERE collection = ? AND id = ?`, collection, id,
	).Scan(&data, &doc.Version, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return docstore.Document{}, false, nil
		}
		return docstore.Document{}, false, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	doc.Data = []byte(data)
	doc.UpdatedAt = fromMillis(updated)
	return doc, true, nil
}

type sqlTx struct {
	tx *sql.Tx
}

func (t *sqlTx) Load(ctx context.Context, collection, id string) (docstore.Document, bool, error) {
	return load(ctx, t.tx, collection, id)
}

func (t *sqlTx) Put(ctx context.Context, doc docstore.Document, isNew bool) error {
	query := `UPDATE documents SET data = ?, version = ?, updated_at = ? WHERE collection = ? AND id = ?`
	args := []any{string(doc.Data), doc.Version, toMillis(doc.UpdatedAt), doc.Collection, doc.ID}
	if isNew {
		query = `INSERT INTO documents (data, version, updated_at, collection, id) VALUES (?, ?, ?, ?, ?)`
	}
	if _, err := t.tx.ExecContext(ctx, query, args...); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unique constraint") {
			return docstore.ErrAlreadyExists
		}
		return fmt.Errorf("write %s/%s: %w", doc.Collection, doc.ID, err)
	}
	return nil
}

func (t *sqlTx) Remove(ctx context.Context, collection, id string) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM documents WHERE collection = ? AND id = ?`, collection, id); err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	return nil
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

const migrationTable = "schema_migrations"

// applyMigrations executes embedded migrations at most once per file.
func applyMigrations(sqlDB *sql.DB, migrationFS fs.FS, root string) error {
	entries, err := fs.ReadDir(migrationFS, root)
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	var sqlFiles []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			sqlFiles = append(sqlFiles, entry.Name())
		}
	}
	sort.Strings(sqlFiles)

	if _, err := sqlDB.Exec(`CREATE TABLE IF NOT EXISTS ` + migrationTable + ` (
    name TEXT PRIMARY KEY,
    applied_at INTEGER NOT NULL
)`); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	for _, file := range sqlFiles {
		var found int
		err := sqlDB.QueryRow("SELECT 1 FROM "+migrationTable+" WHERE name = ?", file).Scan(&found)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check migration %s: %w", file, err)
		}

		content, err := fs.ReadFile(migrationFS, root+"/"+file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}

		tx, err := sqlDB.Begin()
		if err != nil {
			return fmt.Errorf("begin migration transaction %s: %w", file, err)
		}
		if _, err := tx.Exec(upMigration(string(content))); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("exec migration %s: %w", file, err)
		}
		if _, err := tx.Exec("INSERT INTO "+migrationTable+" (name, applied_at) VALUES (?, ?)", file, toMillis(time.Now())); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", file, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", file, err)
		}
	}
	return nil
}

// upMigration returns the SQL in the -- +migrate Up section.
func upMigration(content string) string {
	upIdx := strings.Index(content, "-- +migrate Up")
	if upIdx == -1 {
		return content
	}
	downIdx := strings.Index(content, "-- +migrate Down")
	if downIdx == -1 {
		return content[upIdx+len("-- +migrate Up"):]
	}
	return content[upIdx+len("-- +migrate Up") : downIdx]
}

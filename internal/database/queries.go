package database

// Migration queries
const (
	CreateMigrationsTableSQL = `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			id SERIAL PRIMARY KEY,
			migration_name VARCHAR(255) NOT NULL UNIQUE,
			applied_at TIMESTAMPTZ DEFAULT NOW()
		)`

	SelectAppliedMigrationsSQL = `SELECT migration_name FROM schema_migrations`

	InsertMigrationSQL = `INSERT INTO schema_migrations (migration_name) VALUES ($1)`
)

// Document queries
const (
	GetDocumentSQL = `
		SELECT data, version, updated_at
		FROM documents
		WHERE collection = $1 AND id = $2`

	GetDocumentForUpdateSQL = `
		SELECT data, version, updated_at
		FROM documents
		WHERE collection = $1 AND id = $2
		FOR UPDATE`

	ListDocumentsSQL = `
		SELECT id, data, version, updated_at
		FROM documents
		WHERE collection = $1 AND data @> $2::jsonb
		ORDER BY id ASC`

	InsertDocumentSQL = `
		INSERT INTO documents (collection, id, data, version, updated_at)
		VALUES ($1, $2, $3, $4, $5)`

	UpdateDocumentSQL = `
		UPDATE documents SET data = $3, version = $4, updated_at = $5
		WHERE collection = $1 AND id = $2`

	DeleteDocumentSQL = `
		DELETE FROM documents
		WHERE collection = $1 AND id = $2`
)

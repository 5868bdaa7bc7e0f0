package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	path       TEXT PRIMARY KEY,
	parent     TEXT NOT NULL,
	data       JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS documents_parent_idx ON documents (parent, created_at);
`

// PostgresStore keeps documents in a single JSONB table
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresStore creates a store on an existing pool
func NewPostgresStore(pool *pgxpool.Pool, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, logger: logger}
}

// EnsureSchema creates the documents table if it does not exist
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create documents schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, path string) (*Document, error) {
	doc := &Document{Path: path}
	err := s.pool.QueryRow(ctx,
		`SELECT data, created_at, updated_at FROM documents WHERE path = $1`, path,
	).Scan(&doc.Data, &doc.CreatedAt, &doc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get document %s: %w", path, err)
	}
	return doc, nil
}

func (s *PostgresStore) Set(ctx context.Context, path string, data any) error {
	raw, parent, err := prepare(path, data)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO documents (path, parent, data) VALUES ($1, $2, $3)
		ON CONFLICT (path) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`,
		path, parent, raw)
	if err != nil {
		return fmt.Errorf("set document %s: %w", path, err)
	}
	return nil
}

func (s *PostgresStore) Merge(ctx context.Context, path string, fields map[string]any) error {
	raw, parent, err := prepare(path, fields)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO documents (path, parent, data) VALUES ($1, $2, $3)
		ON CONFLICT (path) DO UPDATE SET data = documents.data || EXCLUDED.data, updated_at = now()`,
		path, parent, raw)
	if err != nil {
		return fmt.Errorf("merge document %s: %w", path, err)
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, path string, data any) (*Document, bool, error) {
	raw, parent, err := prepare(path, data)
	if err != nil {
		return nil, false, err
	}

	doc := &Document{Path: path}
	err = s.pool.QueryRow(ctx, `
		INSERT INTO documents (path, parent, data) VALUES ($1, $2, $3)
		ON CONFLICT (path) DO NOTHING
		RETURNING data, created_at, updated_at`,
		path, parent, raw,
	).Scan(&doc.Data, &doc.CreatedAt, &doc.UpdatedAt)
	if err == nil {
		return doc, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("create document %s: %w", path, err)
	}

	// Lost the race (or it already existed): return what is stored.
	existing, err := s.Get(ctx, path)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (s *PostgresStore) List(ctx context.Context, parent string) ([]*Document, error) {
	return s.query(ctx, `
		SELECT path, data, created_at, updated_at FROM documents
		WHERE parent = $1 ORDER BY created_at, path`, parent)
}

func (s *PostgresStore) ListPrefix(ctx context.Context, prefix string) ([]*Document, error) {
	return s.query(ctx, `
		SELECT path, data, created_at, updated_at FROM documents
		WHERE starts_with(path, $1) ORDER BY created_at, path`, prefix)
}

func (s *PostgresStore) Delete(ctx context.Context, path string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE path = $1`, path)
	if err != nil {
		return fmt.Errorf("delete document %s: %w", path, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) query(ctx context.Context, sql string, arg string) ([]*Document, error) {
	rows, err := s.pool.Query(ctx, sql, arg)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		doc := &Document{}
		if err := rows.Scan(&doc.Path, &doc.Data, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return docs, nil
}

func prepare(path string, data any) ([]byte, string, error) {
	if err := validatePath(path); err != nil {
		return nil, "", err
	}
	obj, err := toObject(data)
	if err != nil {
		return nil, "", err
	}
	raw, err := json.Marshal(obj)
	if err != nil {
		return nil, "", fmt.Errorf("encode document %s: %w", path, err)
	}
	parent, _ := Split(path)
	return raw, parent, nil
}

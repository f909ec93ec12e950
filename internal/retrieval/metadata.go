package retrieval

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	_ "modernc.org/sqlite"
)

// Document is one metadata row. Ordinal matches the vector's position in the
// flat index.
type Document struct {
	Ordinal    int
	OriginalID string
	Title      string
	Source     string
	SourceURL  string
	Text       string
}

// MetadataStore is the SQLite side table that maps index ordinals to documents.
type MetadataStore struct {
	path string

	mu sync.Mutex
	db *sql.DB
}

const metadataSchema = `
CREATE TABLE IF NOT EXISTS documents (
  ordinal INTEGER PRIMARY KEY,
  original_id TEXT NOT NULL DEFAULT '',
  title TEXT NOT NULL DEFAULT '',
  source TEXT NOT NULL DEFAULT '',
  source_url TEXT NOT NULL DEFAULT '',
  text TEXT NOT NULL
);
`

// OpenMetadataStore opens path for writing, creating the schema if needed.
func OpenMetadataStore(ctx context.Context, path string) (*MetadataStore, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open metadata db: %w", err)
	}

	if _, err := db.ExecContext(ctx, metadataSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init metadata schema: %w", err)
	}

	return &MetadataStore{path: path, db: db}, nil
}

// OpenMetadataReader opens a sealed database for queries only. It creates no
// side files, so the builder can rename a new database over it.
func OpenMetadataReader(ctx context.Context, path string) (*MetadataStore, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=query_only(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open metadata db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open metadata db: %w", err)
	}
	return &MetadataStore{path: path, db: db}, nil
}

func (s *MetadataStore) Path() string {
	return s.path
}

func (s *MetadataStore) ensureDB() (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, errors.New("metadata store is closed")
	}
	return s.db, nil
}

// InsertDocuments writes docs in one transaction.
func (s *MetadataStore) InsertDocuments(ctx context.Context, docs []Document) error {
	db, err := s.ensureDB()
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO documents(ordinal, original_id, title, source, source_url, text) VALUES(?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, doc := range docs {
		if _, err := stmt.ExecContext(ctx, doc.Ordinal, doc.OriginalID, doc.Title, doc.Source, doc.SourceURL, doc.Text); err != nil {
			return fmt.Errorf("insert ordinal %d: %w", doc.Ordinal, err)
		}
	}

	return tx.Commit()
}

func (s *MetadataStore) Count(ctx context.Context) (int, error) {
	db, err := s.ensureDB()
	if err != nil {
		return 0, err
	}

	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// Lookup returns the documents for the given ordinals keyed by ordinal.
// Ordinals with no row are absent from the map.
func (s *MetadataStore) Lookup(ctx context.Context, ordinals []int) (map[int]Document, error) {
	out := make(map[int]Document, len(ordinals))
	if len(ordinals) == 0 {
		return out, nil
	}

	db, err := s.ensureDB()
	if err != nil {
		return nil, err
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ordinals)), ",")
	args := make([]any, len(ordinals))
	for i, ord := range ordinals {
		args[i] = ord
	}

	rows, err := db.QueryContext(ctx,
		`SELECT ordinal, original_id, title, source, source_url, text FROM documents WHERE ordinal IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var doc Document
		if err := rows.Scan(&doc.Ordinal, &doc.OriginalID, &doc.Title, &doc.Source, &doc.SourceURL, &doc.Text); err != nil {
			return nil, err
		}
		out[doc.Ordinal] = doc
	}
	return out, rows.Err()
}

// Seal folds the WAL into the main file and switches back to a rollback
// journal, so the database is a single self-contained file.
func (s *MetadataStore) Seal(ctx context.Context) error {
	db, err := s.ensureDB()
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, `PRAGMA wal_checkpoint(TRUNCATE)`); err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `PRAGMA journal_mode=DELETE`)
	return err
}

func (s *MetadataStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

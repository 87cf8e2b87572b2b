// Package sqlite persists document collections in a single SQLite file.
// Filter, update, and pipeline semantics are shared with the in-memory
// store; rows are decoded and matched in-process.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/relaydesk/copilot/internal/docstore"
)

// Store implements docstore.Store on SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens (creating if needed) the database at path and runs migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("docstore: open db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("docstore: wal mode: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("docstore: migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			collection TEXT NOT NULL,
			id         TEXT NOT NULL,
			body       TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (collection, id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_collection ON documents(collection)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *Store) Find(ctx context.Context, collection string, filter docstore.Document, opts *docstore.FindOptions) ([]docstore.Document, error) {
	docs, err := s.loadCollection(ctx, collection)
	if err != nil {
		return nil, err
	}
	return docstore.Apply(docs, filter, opts), nil
}

func (s *Store) FindOne(ctx context.Context, collection string, filter docstore.Document) (docstore.Document, error) {
	docs, err := s.loadCollection(ctx, collection)
	if err != nil {
		return nil, err
	}
	for _, doc := range docs {
		if docstore.Match(doc, filter) {
			return doc, nil
		}
	}
	return nil, docstore.ErrNotFound
}

func (s *Store) Count(ctx context.Context, collection string, filter docstore.Document) (int64, error) {
	docs, err := s.loadCollection(ctx, collection)
	if err != nil {
		return 0, err
	}
	var n int64
	for _, doc := range docs {
		if docstore.Match(doc, filter) {
			n++
		}
	}
	return n, nil
}

func (s *Store) Aggregate(ctx context.Context, collection string, pipeline []docstore.Document) ([]docstore.Document, error) {
	docs, err := s.loadCollection(ctx, collection)
	if err != nil {
		return nil, err
	}
	return docstore.RunPipeline(docs, pipeline)
}

func (s *Store) Insert(ctx context.Context, collection string, doc docstore.Document) (string, error) {
	stored := docstore.Clone(doc)
	id, _ := stored["_id"].(string)
	if id == "" {
		id = uuid.NewString()
		stored["_id"] = id
	}
	body, err := json.Marshal(stored)
	if err != nil {
		return "", fmt.Errorf("docstore: encode document: %w", err)
	}
	now := time.Now().UnixMilli()
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (collection, id, body, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		collection, id, string(body), now, now)
	if err != nil {
		return "", fmt.Errorf("docstore: insert: %w", err)
	}
	return id, nil
}

func (s *Store) Update(ctx context.Context, collection string, filter docstore.Document, update docstore.Document) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	docs, err := s.loadCollection(ctx, collection)
	if err != nil {
		return 0, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var n int64
	now := time.Now().UnixMilli()
	for _, doc := range docs {
		if !docstore.Match(doc, filter) {
			continue
		}
		updated := docstore.ApplyUpdate(doc, update)
		body, err := json.Marshal(updated)
		if err != nil {
			return 0, fmt.Errorf("docstore: encode document: %w", err)
		}
		id, _ := updated["_id"].(string)
		if _, err := tx.ExecContext(ctx,
			`UPDATE documents SET body = ?, updated_at = ? WHERE collection = ? AND id = ?`,
			string(body), now, collection, id); err != nil {
			return 0, fmt.Errorf("docstore: update: %w", err)
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Store) Delete(ctx context.Context, collection string, filter docstore.Document) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	docs, err := s.loadCollection(ctx, collection)
	if err != nil {
		return 0, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var n int64
	for _, doc := range docs {
		if !docstore.Match(doc, filter) {
			continue
		}
		id, _ := doc["_id"].(string)
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM documents WHERE collection = ? AND id = ?`, collection, id); err != nil {
			return 0, fmt.Errorf("docstore: delete: %w", err)
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Store) Close() error { return s.db.Close() }

// loadCollection reads every document in a collection in insertion order.
func (s *Store) loadCollection(ctx context.Context, collection string) ([]docstore.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, body FROM documents WHERE collection = ? ORDER BY rowid`, collection)
	if err != nil {
		return nil, fmt.Errorf("docstore: query: %w", err)
	}
	defer rows.Close()

	var docs []docstore.Document
	for rows.Next() {
		var id, body string
		if err := rows.Scan(&id, &body); err != nil {
			return nil, err
		}
		var doc docstore.Document
		if err := json.Unmarshal([]byte(body), &doc); err != nil {
			return nil, fmt.Errorf("docstore: decode document %s: %w", id, err)
		}
		doc["_id"] = id
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

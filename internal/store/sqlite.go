package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteStore is the durable implementation: documents are persisted as JSON
// rows so a session survives a restart. Change notification is in-process,
// fanned out to subscriptions opened through this handle, which matches the
// single-session model the core runs under.
type SQLiteStore struct {
	db *sql.DB

	mu   sync.Mutex
	subs map[*Subscription]struct{}
	now  func() time.Time
}

// NewSQLiteStore opens (creating if needed) the document database at path.
// Use ":memory:" for an ephemeral store with durable-store semantics.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open document database: %w", err)
	}
	// The fanout model serializes writes; a single connection also keeps
	// ":memory:" databases coherent.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, subs: map[*Subscription]struct{}{}, now: time.Now}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize document database: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		data TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		PRIMARY KEY (collection, id)
	);

	CREATE INDEX IF NOT EXISTS idx_documents_collection ON documents(collection);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Query(ctx context.Context, collection string, filters []Filter, orderBy string) ([]Document, error) {
	docs, err := s.loadCollection(ctx, collection)
	if err != nil {
		return nil, err
	}
	matched := docs[:0]
	for _, doc := range docs {
		if matchesAll(doc, filters) {
			matched = append(matched, doc)
		}
	}
	sortDocs(matched, orderBy)
	return matched, nil
}

func (s *SQLiteStore) Subscribe(ctx context.Context, collection string, filters ...Filter) (*Subscription, error) {
	docs, err := s.Query(ctx, collection, filters, "")
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sub := newSubscription(collection, filters, s.removeSub)
	s.subs[sub] = struct{}{}
	sub.publish(Event{Docs: docs})
	return sub, nil
}

func (s *SQLiteStore) GetByID(ctx context.Context, collection, id string) (Document, error) {
	var data string
	row := s.db.QueryRowContext(ctx,
		`SELECT data FROM documents WHERE collection = ? AND id = ?`, collection, id)
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Document{}, fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
		}
		return Document{}, fmt.Errorf("failed to read %s/%s: %w", collection, id, err)
	}
	return decodeDocument(id, data)
}

func (s *SQLiteStore) Update(ctx context.Context, collection, id string, fields Fields) error {
	doc, err := s.GetByID(ctx, collection, id)
	if err != nil {
		return err
	}
	for k, v := range resolveSentinels(fields, s.now()) {
		doc.Fields[k] = v
	}
	if err := s.write(ctx, collection, id, doc.Fields); err != nil {
		return err
	}
	s.notify(ctx, collection)
	return nil
}

func (s *SQLiteStore) Add(ctx context.Context, collection string, fields Fields) (string, error) {
	id := newDocumentID()
	if err := s.write(ctx, collection, id, resolveSentinels(fields, s.now())); err != nil {
		return "", err
	}
	s.notify(ctx, collection)
	return id, nil
}

func (s *SQLiteStore) Set(ctx context.Context, collection, id string, fields Fields) error {
	if err := s.write(ctx, collection, id, resolveSentinels(fields, s.now())); err != nil {
		return err
	}
	s.notify(ctx, collection)
	return nil
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	subs := make([]*Subscription, 0, len(s.subs))
	for sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
	return s.db.Close()
}

func (s *SQLiteStore) write(ctx context.Context, collection, id string, fields Fields) error {
	data, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("failed to encode %s/%s: %w", collection, id, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO documents (collection, id, data, updated_at)
		VALUES (?, ?, ?, ?)
	`, collection, id, string(data), s.now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to write %s/%s: %w", collection, id, err)
	}
	return nil
}

func (s *SQLiteStore) loadCollection(ctx context.Context, collection string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, data FROM documents WHERE collection = ? ORDER BY id`, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", collection, err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, err
		}
		doc, err := decodeDocument(id, data)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// notify recomputes and publishes the matching set for every subscription on
// the collection. A read failure is delivered as an error event so the
// consumer can surface an error state instead of silently showing stale rows.
func (s *SQLiteStore) notify(ctx context.Context, collection string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sub := range s.subs {
		if sub.collection != collection {
			continue
		}
		docs, err := s.Query(ctx, collection, sub.filters, "")
		if err != nil {
			sub.publish(Event{Err: err})
			continue
		}
		sub.publish(Event{Docs: docs})
	}
}

func (s *SQLiteStore) removeSub(sub *Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, sub)
}

func decodeDocument(id, data string) (Document, error) {
	var fields Fields
	if err := json.Unmarshal([]byte(data), &fields); err != nil {
		return Document{}, fmt.Errorf("failed to decode document %s: %w", id, err)
	}
	return Document{ID: id, Fields: fields}, nil
}

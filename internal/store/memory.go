package store

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is the session-scoped in-memory implementation. It is the
// reference implementation of the capability contract and the store used by
// tests and the simulator.
type MemoryStore struct {
	mu          sync.Mutex
	collections map[string]map[string]Fields
	subs        map[*Subscription]struct{}
	now         func() time.Time
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: map[string]map[string]Fields{},
		subs:        map[*Subscription]struct{}{},
		now:         time.Now,
	}
}

// SetClock overrides the server clock used to resolve timestamp sentinels.
// Intended for tests.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *MemoryStore) Query(ctx context.Context, collection string, filters []Filter, orderBy string) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	docs := m.matchingLocked(collection, filters)
	sortDocs(docs, orderBy)
	return docs, nil
}

func (m *MemoryStore) Subscribe(ctx context.Context, collection string, filters ...Filter) (*Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	sub := newSubscription(collection, filters, m.removeSub)
	m.subs[sub] = struct{}{}
	// Initial delivery: the current matching set.
	sub.publish(Event{Docs: m.matchingLocked(collection, filters)})
	return sub, nil
}

func (m *MemoryStore) GetByID(ctx context.Context, collection, id string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	fields, ok := m.collections[collection][id]
	if !ok {
		return Document{}, fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	return Document{ID: id, Fields: fields}.Clone(), nil
}

func (m *MemoryStore) Update(ctx context.Context, collection, id string, fields Fields) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.collections[collection][id]
	if !ok {
		return fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	for k, v := range resolveSentinels(fields, m.now()) {
		existing[k] = v
	}
	m.notifyLocked(collection)
	return nil
}

func (m *MemoryStore) Add(ctx context.Context, collection string, fields Fields) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	id := newDocumentID()
	m.putLocked(collection, id, resolveSentinels(fields, m.now()))
	m.notifyLocked(collection)
	return id, nil
}

func (m *MemoryStore) Set(ctx context.Context, collection, id string, fields Fields) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.putLocked(collection, id, resolveSentinels(fields, m.now()))
	m.notifyLocked(collection)
	return nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	subs := make([]*Subscription, 0, len(m.subs))
	for sub := range m.subs {
		subs = append(subs, sub)
	}
	m.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
	return nil
}

func (m *MemoryStore) putLocked(collection, id string, fields Fields) {
	coll := m.collections[collection]
	if coll == nil {
		coll = map[string]Fields{}
		m.collections[collection] = coll
	}
	coll[id] = fields
}

func (m *MemoryStore) matchingLocked(collection string, filters []Filter) []Document {
	coll := m.collections[collection]
	docs := make([]Document, 0, len(coll))
	for id, fields := range coll {
		doc := Document{ID: id, Fields: fields}
		if matchesAll(doc, filters) {
			docs = append(docs, doc.Clone())
		}
	}
	return docs
}

func (m *MemoryStore) notifyLocked(collection string) {
	for sub := range m.subs {
		if sub.collection != collection {
			continue
		}
		sub.publish(Event{Docs: m.matchingLocked(collection, sub.filters)})
	}
}

func (m *MemoryStore) removeSub(sub *Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subs, sub)
}

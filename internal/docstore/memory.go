package docstore

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Memory is an in-process Store. Collections preserve insertion order,
// which keeps unsorted Find results deterministic.
type Memory struct {
	mu          sync.RWMutex
	collections map[string][]Document
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{collections: make(map[string][]Document)}
}

func (m *Memory) Find(ctx context.Context, collection string, filter Document, opts *FindOptions) ([]Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	matched := Apply(m.collections[collection], filter, opts)
	out := make([]Document, len(matched))
	for i, doc := range matched {
		out[i] = Clone(doc)
	}
	return out, nil
}

func (m *Memory) FindOne(ctx context.Context, collection string, filter Document) (Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, doc := range m.collections[collection] {
		if Match(doc, filter) {
			return Clone(doc), nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) Count(ctx context.Context, collection string, filter Document) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n int64
	for _, doc := range m.collections[collection] {
		if Match(doc, filter) {
			n++
		}
	}
	return n, nil
}

func (m *Memory) Aggregate(ctx context.Context, collection string, pipeline []Document) ([]Document, error) {
	m.mu.RLock()
	docs := make([]Document, len(m.collections[collection]))
	for i, doc := range m.collections[collection] {
		docs[i] = Clone(doc)
	}
	m.mu.RUnlock()
	return RunPipeline(docs, pipeline)
}

func (m *Memory) Insert(ctx context.Context, collection string, doc Document) (string, error) {
	stored := Clone(doc)
	id, _ := stored["_id"].(string)
	if id == "" {
		id = uuid.NewString()
		stored["_id"] = id
	}
	m.mu.Lock()
	m.collections[collection] = append(m.collections[collection], stored)
	m.mu.Unlock()
	return id, nil
}

func (m *Memory) Update(ctx context.Context, collection string, filter Document, update Document) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	docs := m.collections[collection]
	for i, doc := range docs {
		if Match(doc, filter) {
			docs[i] = ApplyUpdate(doc, update)
			n++
		}
	}
	return n, nil
}

func (m *Memory) Delete(ctx context.Context, collection string, filter Document) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	docs := m.collections[collection]
	kept := docs[:0]
	var n int64
	for _, doc := range docs {
		if Match(doc, filter) {
			n++
			continue
		}
		kept = append(kept, doc)
	}
	m.collections[collection] = kept
	return n, nil
}

func (m *Memory) Close() error { return nil }

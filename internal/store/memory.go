package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// MemCollection is an in-memory implementation of Collection.
// Documents are held as JSON snapshots so callers never share state with the store.
type MemCollection[D Document] struct {
	mu     sync.RWMutex
	name   string
	docs   map[string][]byte
	newDoc func() D
}

// NewMemCollection creates a new in-memory collection
func NewMemCollection[D Document](name string, newDoc func() D) *MemCollection[D] {
	return &MemCollection[D]{
		name:   name,
		docs:   make(map[string][]byte),
		newDoc: newDoc,
	}
}

// NewMemStore creates a store whose collections live in process memory
func NewMemStore() *Store {
	return &Store{
		Metrics:     NewMemCollection(CollectionMetricRecords, newMetricRecord),
		Instances:   NewMemCollection(CollectionInstances, newInstance),
		Projects:    NewMemCollection(CollectionProjects, newProject),
		Hypervisors: NewMemCollection(CollectionHypervisors, newHypervisor),
	}
}

// Name returns the collection name
func (m *MemCollection[D]) Name() string {
	return m.name
}

// FindByID returns the document for the given id, or false if it doesn't exist
func (m *MemCollection[D]) FindByID(ctx context.Context, id string) (D, bool, error) {
	var zero D
	if err := ctx.Err(); err != nil {
		return zero, false, err
	}

	m.mu.RLock()
	data, exists := m.docs[id]
	m.mu.RUnlock()

	if !exists {
		return zero, false, nil
	}

	doc := m.newDoc()
	if err := json.Unmarshal(data, doc); err != nil {
		return zero, false, fmt.Errorf("failed to unmarshal %s/%s: %w", m.name, id, err)
	}
	return doc, true, nil
}

// Save stores the document if its version matches the stored one
func (m *MemCollection[D]) Save(ctx context.Context, doc D) error {
	if isNil(doc) {
		return ErrInvalidDocument
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if doc.DocumentID() == "" {
		doc.SetDocumentID(uuid.New().String())
	}
	id := doc.DocumentID()

	var stored int64
	if data, exists := m.docs[id]; exists {
		current := m.newDoc()
		if err := json.Unmarshal(data, current); err != nil {
			return fmt.Errorf("failed to unmarshal %s/%s: %w", m.name, id, err)
		}
		stored = current.DocumentVersion()
	}

	expected := doc.DocumentVersion()
	if err := checkVersion(m.name, id, stored, expected); err != nil {
		return err
	}

	doc.SetDocumentVersion(expected + 1)
	data, err := json.Marshal(doc)
	if err != nil {
		doc.SetDocumentVersion(expected)
		return fmt.Errorf("failed to marshal %s/%s: %w", m.name, id, err)
	}

	m.docs[id] = data
	return nil
}

// Len returns the number of stored documents
func (m *MemCollection[D]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}

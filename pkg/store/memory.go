package store

import (
	"context"
	"sort"
	"sync"

	"github.com/CaseSolvedUK/rest-migrate/pkg/errors"
)

// MemoryStore keeps documents in process memory
type MemoryStore struct {
	*Schema
	docs map[string]map[string]*Document
	mu   sync.RWMutex
}

// NewMemoryStore creates an empty store for schema
func NewMemoryStore(schema *Schema) *MemoryStore {
	return &MemoryStore{Schema: schema, docs: make(map[string]map[string]*Document)}
}

// ListAll implements Store
func (m *MemoryStore) ListAll(_ context.Context, entityType string) ([]*Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Document, 0, len(m.docs[entityType]))
	for _, d := range m.docs[entityType] {
		out = append(out, d.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Get implements Store
func (m *MemoryStore) Get(_ context.Context, entityType, name string) (*Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.docs[entityType][name]
	if !ok {
		return nil, NotFound(entityType, name)
	}
	return d.Clone(), nil
}

// GetCached implements Store
func (m *MemoryStore) GetCached(ctx context.Context, entityType, name string) (*Document, error) {
	return m.Get(ctx, entityType, name)
}

// GetValue implements Store
func (m *MemoryStore) GetValue(ctx context.Context, entityType, name string, fields ...string) (map[string]interface{}, error) {
	d, err := m.Get(ctx, entityType, name)
	if err != nil {
		return nil, err
	}
	return PickValues(d, fields), nil
}

// Insert implements Store
func (m *MemoryStore) Insert(ctx context.Context, doc *Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.Prepare(ctx, doc, m.exists); err != nil {
		return err
	}
	if _, ok := m.docs[doc.EntityType][doc.Name]; ok {
		return DuplicateEntry(doc.EntityType, doc.Name)
	}
	if m.docs[doc.EntityType] == nil {
		m.docs[doc.EntityType] = make(map[string]*Document)
	}
	m.docs[doc.EntityType][doc.Name] = doc.Clone()
	return nil
}

// Update implements Store
func (m *MemoryStore) Update(ctx context.Context, doc *Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.docs[doc.EntityType][doc.Name]; !ok {
		return NotFound(doc.EntityType, doc.Name)
	}
	if err := m.Validate(ctx, doc, m.exists); err != nil {
		return err
	}
	m.docs[doc.EntityType][doc.Name] = doc.Clone()
	return nil
}

// Close implements Store
func (m *MemoryStore) Close(context.Context) error {
	return nil
}

// exists is called with m.mu held
func (m *MemoryStore) exists(_ context.Context, entityType, name string) (bool, error) {
	_, ok := m.docs[entityType][name]
	return ok, nil
}

// DuplicateEntry builds the error every backend returns on a name conflict
func DuplicateEntry(entityType, name string) error {
	return errors.Newf(errors.ErrorTypeDuplicateEntry, "%s %s already exists", entityType, name).
		WithDetail("entity_type", entityType).
		WithDetail("name", name)
}

// NotFound builds the error every backend returns for a missing document
func NotFound(entityType, name string) error {
	return errors.Newf(errors.ErrorTypeNotFound, "%s %s not found", entityType, name).
		WithDetail("entity_type", entityType).
		WithDetail("name", name)
}

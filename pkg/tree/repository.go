package tree

import (
	"context"
	"sort"
	"sync"

	"github.com/CaseSolvedUK/rest-migrate/pkg/errors"
)

// Repository persists segments. Implementations return copies so callers
// never share mutable state with the arena.
type Repository interface {
	// Get returns the segment or an ErrorTypeNotFound error
	Get(ctx context.Context, id string) (*Segment, error)
	// Children returns the direct children of parentID ("" for roots) ordered by name
	Children(ctx context.Context, parentID string) ([]*Segment, error)
	// Put inserts or replaces a segment
	Put(ctx context.Context, seg *Segment) error
	// Remove deletes a segment
	Remove(ctx context.Context, id string) error
}

// MemoryRepository is an arena of segments with a parent -> children index
type MemoryRepository struct {
	nodes    map[string]*Segment
	children map[string][]string
	mu       sync.RWMutex
}

// NewMemoryRepository creates an empty arena, optionally seeded
func NewMemoryRepository(segments ...*Segment) *MemoryRepository {
	r := &MemoryRepository{
		nodes:    make(map[string]*Segment),
		children: make(map[string][]string),
	}
	for _, s := range segments {
		r.put(s.Clone())
	}
	return r
}

// Get implements Repository
func (r *MemoryRepository) Get(_ context.Context, id string) (*Segment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.nodes[id]
	if !ok {
		return nil, errors.New(errors.ErrorTypeNotFound, "segment not found").WithDetail("id", id)
	}
	return s.Clone(), nil
}

// Children implements Repository
func (r *MemoryRepository) Children(_ context.Context, parentID string) ([]*Segment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.children[parentID]
	out := make([]*Segment, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.nodes[id].Clone())
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Put implements Repository
func (r *MemoryRepository) Put(_ context.Context, seg *Segment) error {
	if seg.ID == "" {
		return errors.New(errors.ErrorTypeInvalidOperation, "segment id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.put(seg.Clone())
	return nil
}

// Remove implements Repository
func (r *MemoryRepository) Remove(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.nodes[id]
	if !ok {
		return errors.New(errors.ErrorTypeNotFound, "segment not found").WithDetail("id", id)
	}
	r.unlink(s.ParentID, id)
	delete(r.nodes, id)
	return nil
}

// Snapshot returns copies of every segment in insertion-independent id order
func (r *MemoryRepository) Snapshot() []*Segment {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Segment, 0, len(r.nodes))
	for _, s := range r.nodes {
		out = append(out, s.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *MemoryRepository) put(seg *Segment) {
	if old, ok := r.nodes[seg.ID]; ok {
		if old.ParentID == seg.ParentID {
			r.nodes[seg.ID] = seg
			return
		}
		r.unlink(old.ParentID, seg.ID)
	}
	r.nodes[seg.ID] = seg
	r.children[seg.ParentID] = append(r.children[seg.ParentID], seg.ID)
}

func (r *MemoryRepository) unlink(parentID, id string) {
	ids := r.children[parentID]
	for i, c := range ids {
		if c == id {
			r.children[parentID] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	if len(r.children[parentID]) == 0 {
		delete(r.children, parentID)
	}
}

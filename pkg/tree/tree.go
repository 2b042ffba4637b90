package tree

import (
	"context"

	"github.com/CaseSolvedUK/rest-migrate/pkg/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Node is a tree-view entry
type Node struct {
	Value      string `json:"value"`
	Label      string `json:"label"`
	Expandable bool   `json:"expandable"`
}

// Tree implements the segment operations on top of a Repository
type Tree struct {
	repo   Repository
	logger *zap.Logger
}

// New creates a Tree
func New(repo Repository, logger *zap.Logger) *Tree {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tree{repo: repo, logger: logger}
}

// Get returns a copy of the segment
func (t *Tree) Get(ctx context.Context, id string) (*Segment, error) {
	return t.repo.Get(ctx, id)
}

// Children returns the direct children of a segment ("" for roots)
func (t *Tree) Children(ctx context.Context, parentID string) ([]*Segment, error) {
	return t.repo.Children(ctx, parentID)
}

// GetChildren lists tree-view nodes under parent. An empty parent yields
// the synthetic RootLabel node, and RootLabel lists the API roots.
func (t *Tree) GetChildren(ctx context.Context, parent string) ([]Node, error) {
	switch parent {
	case "":
		return []Node{{Value: RootLabel, Label: RootLabel, Expandable: true}}, nil
	case RootLabel:
		parent = ""
	}
	children, err := t.repo.Children(ctx, parent)
	if err != nil {
		return nil, err
	}
	nodes := make([]Node, 0, len(children))
	for _, c := range children {
		nodes = append(nodes, Node{Value: c.ID, Label: c.Name, Expandable: c.IsGroup})
	}
	return nodes, nil
}

// AddNode creates a segment under parent. The synthetic RootLabel maps to
// a new root.
func (t *Tree) AddNode(ctx context.Context, name string, isGroup bool, parent string) (*Segment, error) {
	if parent == RootLabel {
		parent = ""
	}
	seg := &Segment{Name: name, IsGroup: isGroup, ParentID: parent}
	if err := t.Save(ctx, seg); err != nil {
		return nil, err
	}
	return seg, nil
}

// Save normalizes and stores seg, assigning an id when it has none, then
// brings KeepExisting in line with the root for seg's subtree.
func (t *Tree) Save(ctx context.Context, seg *Segment) error {
	seg.Normalize()
	if seg.Name == "" {
		return errors.New(errors.ErrorTypeInvalidOperation, "segment name is required")
	}
	if seg.ID == "" {
		seg.ID = uuid.NewString()
	}

	if seg.ParentID != "" {
		if seg.ParentID == seg.ID {
			return errors.New(errors.ErrorTypeInvalidOperation, "segment cannot be its own parent").
				WithDetail("id", seg.ID)
		}
		parent, err := t.repo.Get(ctx, seg.ParentID)
		if err != nil {
			return err
		}
		if !parent.IsGroup {
			return errors.Newf(errors.ErrorTypeInvalidOperation, "cannot add a child to leaf %q", parent.Name).
				WithDetail("id", parent.ID)
		}
		if err := t.checkNotDescendant(ctx, seg.ID, seg.ParentID); err != nil {
			return err
		}
	}
	if !seg.IsGroup {
		children, err := t.repo.Children(ctx, seg.ID)
		if err != nil {
			return err
		}
		if len(children) > 0 {
			return errors.Newf(errors.ErrorTypeInvalidOperation, "segment %q has children and must stay a group", seg.Name).
				WithDetail("id", seg.ID)
		}
	}

	if err := t.repo.Put(ctx, seg); err != nil {
		return err
	}
	return t.propagate(ctx, seg)
}

// Move reparents a segment. An empty parent makes it a root.
func (t *Tree) Move(ctx context.Context, id, parent string) error {
	seg, err := t.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if parent == RootLabel {
		parent = ""
	}
	seg.ParentID = parent
	return t.Save(ctx, seg)
}

// Delete removes a segment that has no children
func (t *Tree) Delete(ctx context.Context, id string) error {
	children, err := t.repo.Children(ctx, id)
	if err != nil {
		return err
	}
	if len(children) > 0 {
		return errors.New(errors.ErrorTypeInvalidOperation, "cannot delete a segment with children").
			WithDetail("id", id)
	}
	return t.repo.Remove(ctx, id)
}

// Ancestors returns the chain from seg's parent up to the root
func (t *Tree) Ancestors(ctx context.Context, seg *Segment) ([]*Segment, error) {
	var out []*Segment
	seen := map[string]bool{seg.ID: true}
	for id := seg.ParentID; id != ""; {
		if seen[id] {
			return nil, errors.New(errors.ErrorTypeInternal, "cycle in segment tree").WithDetail("id", id)
		}
		seen[id] = true
		p, err := t.repo.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
		id = p.ParentID
	}
	return out, nil
}

// Root returns the root of id's branch (the segment itself when it is a root)
func (t *Tree) Root(ctx context.Context, id string) (*Segment, error) {
	seg, err := t.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	ancestors, err := t.Ancestors(ctx, seg)
	if err != nil {
		return nil, err
	}
	if len(ancestors) == 0 {
		return seg, nil
	}
	return ancestors[len(ancestors)-1], nil
}

// RootValue reads a root attribute for id's branch
func (t *Tree) RootValue(ctx context.Context, id, field string) (interface{}, error) {
	root, err := t.Root(ctx, id)
	if err != nil {
		return nil, err
	}
	v, ok := root.rootAttr(field)
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeInvalidOperation, "unknown root attribute %q", field)
	}
	return v, nil
}

// KeepExisting is RootValue(id, AttrKeepExisting) as a bool
func (t *Tree) KeepExisting(ctx context.Context, id string) (bool, error) {
	root, err := t.Root(ctx, id)
	if err != nil {
		return false, err
	}
	return root.KeepExisting, nil
}

// propagate copies the root's KeepExisting onto seg's subtree. Only the
// saved segment and its descendants are visited.
func (t *Tree) propagate(ctx context.Context, seg *Segment) error {
	keep := seg.KeepExisting
	if !seg.IsRoot() {
		root, err := t.Root(ctx, seg.ID)
		if err != nil {
			return err
		}
		keep = root.KeepExisting
	}

	queue := []*Segment{seg}
	visited := make(map[string]bool)
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if visited[cur.ID] {
			continue
		}
		visited[cur.ID] = true

		if cur.KeepExisting != keep {
			cur.KeepExisting = keep
			if err := t.repo.Put(ctx, cur); err != nil {
				return err
			}
			t.logger.Debug("propagated keep_existing",
				zap.String("segment", cur.ID),
				zap.Bool("keep_existing", keep))
		}
		if !cur.IsGroup {
			continue
		}
		children, err := t.repo.Children(ctx, cur.ID)
		if err != nil {
			return err
		}
		queue = append(queue, children...)
	}
	return nil
}

// checkNotDescendant rejects moving id underneath its own subtree
func (t *Tree) checkNotDescendant(ctx context.Context, id, parentID string) error {
	seen := make(map[string]bool)
	for cur := parentID; cur != ""; {
		if cur == id {
			return errors.New(errors.ErrorTypeInvalidOperation, "segment cannot be moved under its own descendant").
				WithDetail("id", id)
		}
		if seen[cur] {
			return errors.New(errors.ErrorTypeInternal, "cycle in segment tree").WithDetail("id", cur)
		}
		seen[cur] = true
		p, err := t.repo.Get(ctx, cur)
		if err != nil {
			if errors.IsType(err, errors.ErrorTypeNotFound) {
				return nil
			}
			return err
		}
		cur = p.ParentID
	}
	return nil
}

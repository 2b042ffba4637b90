// Package tree holds the segment tree that describes a REST API.
//
// Groups contribute URL path components and own children. Leaves map a field
// of the fetched records onto a destination entity field and contribute
// either a query string or, when PathLeaf is set, their own name as the last
// path component. The tree is stored as an arena of segments keyed by id;
// parent/child relations are id references resolved through a Repository.
package tree

import (
	"strings"
)

// ParamKind says where a parameter is sent
type ParamKind string

const (
	// ParamQuery is appended to the leaf's query string
	ParamQuery ParamKind = "Query"
	// ParamHeader is sent as a request header
	ParamHeader ParamKind = "Header"
)

// RootLabel is the synthetic tree-view node above all API roots
const RootLabel = "REST APIs"

// Root attributes readable through Tree.RootValue
const (
	AttrKeepExisting = "keep_existing"
)

// Param is a key/value pair attached to a segment
type Param struct {
	Key   string    `yaml:"key" json:"key"`
	Value string    `yaml:"value" json:"value"`
	Kind  ParamKind `yaml:"kind" json:"kind"`
}

// Segment is a node of the API tree
type Segment struct {
	ID       string `yaml:"id" json:"id"`
	Name     string `yaml:"name" json:"name"`
	ParentID string `yaml:"parent,omitempty" json:"parent,omitempty"`
	IsGroup  bool   `yaml:"is_group" json:"is_group"`
	// KeepExisting is authoritative on the root and mirrored on every descendant
	KeepExisting bool    `yaml:"keep_existing" json:"keep_existing"`
	Params       []Param `yaml:"params,omitempty" json:"params,omitempty"`

	// Leaf-only attributes
	TargetEntityType string `yaml:"target_entity_type,omitempty" json:"target_entity_type,omitempty"`
	TargetField      string `yaml:"target_field,omitempty" json:"target_field,omitempty"`
	ConversionMethod string `yaml:"conversion,omitempty" json:"conversion,omitempty"`
	// DataField references the segment whose fetched values enumerate this segment's path values
	DataField string `yaml:"data_field,omitempty" json:"data_field,omitempty"`
	// PathLeaf makes a leaf contribute its name as a path component instead of only a query string
	PathLeaf bool `yaml:"path_leaf,omitempty" json:"path_leaf,omitempty"`
}

// IsRoot reports whether the segment has no parent
func (s *Segment) IsRoot() bool {
	return s.ParentID == ""
}

// HasTarget reports whether the leaf maps onto a destination field
func (s *Segment) HasTarget() bool {
	return s.TargetEntityType != "" && s.TargetField != ""
}

// Clone returns a deep copy
func (s *Segment) Clone() *Segment {
	c := *s
	if s.Params != nil {
		c.Params = make([]Param, len(s.Params))
		copy(c.Params, s.Params)
	}
	return &c
}

// Normalize applies the save-time rules: the name loses surrounding braces
// and slashes, a half-specified target is cleared, and groups never carry a
// target mapping.
func (s *Segment) Normalize() {
	s.Name = strings.Trim(s.Name, `{}\/`)
	if s.IsGroup || s.TargetEntityType == "" || s.TargetField == "" {
		s.TargetEntityType = ""
		s.TargetField = ""
	}
	if s.IsGroup {
		s.ConversionMethod = ""
		s.PathLeaf = false
	}
}

// rootAttr reads a root attribute by name
func (s *Segment) rootAttr(field string) (interface{}, bool) {
	switch field {
	case AttrKeepExisting:
		return s.KeepExisting, true
	default:
		return nil, false
	}
}

package store

import (
	"sort"
)

// Document is one record of an entity type. Child documents live in
// Children keyed by the parent's table field.
type Document struct {
	EntityType  string                 `json:"entity_type" bson:"entity_type"`
	Name        string                 `json:"name" bson:"_id"`
	Fields      map[string]interface{} `json:"fields" bson:"fields"`
	Parent      string                 `json:"parent,omitempty" bson:"parent,omitempty"`
	ParentType  string                 `json:"parent_type,omitempty" bson:"parent_type,omitempty"`
	ParentField string                 `json:"parent_field,omitempty" bson:"parent_field,omitempty"`
	Children    map[string][]*Document `json:"children,omitempty" bson:"children,omitempty"`
}

// NewDocument creates an empty document
func NewDocument(entityType string) *Document {
	return &Document{EntityType: entityType, Fields: make(map[string]interface{})}
}

// Get returns a field value
func (d *Document) Get(field string) interface{} {
	return d.Fields[field]
}

// Set assigns a field value
func (d *Document) Set(field string, value interface{}) {
	if d.Fields == nil {
		d.Fields = make(map[string]interface{})
	}
	d.Fields[field] = value
}

// Merge copies other's fields onto d, overwriting existing values
func (d *Document) Merge(other *Document) {
	for k, v := range other.Fields {
		d.Set(k, v)
	}
}

// Append attaches child under the table field and records the back reference
func (d *Document) Append(field string, child *Document) {
	if d.Children == nil {
		d.Children = make(map[string][]*Document)
	}
	child.Parent = d.Name
	child.ParentType = d.EntityType
	child.ParentField = field
	d.Children[field] = append(d.Children[field], child)
}

// FieldNames returns the set field names in sorted order
func (d *Document) FieldNames() []string {
	names := make([]string, 0, len(d.Fields))
	for k := range d.Fields {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Clone returns a deep copy of the document tree. Field values are copied
// shallowly.
func (d *Document) Clone() *Document {
	c := *d
	c.Fields = make(map[string]interface{}, len(d.Fields))
	for k, v := range d.Fields {
		c.Fields[k] = v
	}
	if d.Children != nil {
		c.Children = make(map[string][]*Document, len(d.Children))
		for k, list := range d.Children {
			cl := make([]*Document, len(list))
			for i, child := range list {
				cl[i] = child.Clone()
			}
			c.Children[k] = cl
		}
	}
	return &c
}

// Package mapping turns fetched records into candidate documents.
//
// The mapping set of a leaf is every leaf sharing its parent. A leaf named
// "key.field" reads field from each element of the nested list record[key];
// a plain name reads the top-level record. Leaves with a data field may
// borrow the referenced segment's value when the sub-record lacks their own.
package mapping

import (
	"context"
	"strings"

	"github.com/CaseSolvedUK/rest-migrate/pkg/store"
	"github.com/CaseSolvedUK/rest-migrate/pkg/tree"
	"go.uber.org/zap"
)

// FieldMetaSource resolves destination field references
type FieldMetaSource interface {
	FieldMeta(entityType, fieldRef string) (string, store.FieldType, error)
}

// FieldMapping is one leaf's source-to-destination rule
type FieldMapping struct {
	SegmentID        string
	SourceKey        string
	SourceField      string
	TargetEntityType string
	DestField        string
	DestType         store.FieldType
	ConversionName   string
	// Conversion is nil when the default coercion applies
	Conversion Converter

	HasRef         bool
	RefSourceKey   string
	RefSourceField string
}

// Convert applies the configured conversion or the default coercion
func (m *FieldMapping) Convert(src interface{}) (interface{}, error) {
	if m.Conversion != nil {
		return m.Conversion(src)
	}
	return Coerce(src, m.DestType)
}

// Set is the resolved mapping set of a sibling group
type Set struct {
	Mappings    []FieldMapping
	entityTypes []string
	sourceKeys  []string
	logger      *zap.Logger
}

// SplitSource splits a dotted segment name at its last dot into the nested
// list key and the field name
func SplitSource(name string) (key, field string) {
	i := strings.LastIndex(name, ".")
	if i < 0 {
		return "", name
	}
	return name[:i], name[i+1:]
}

// Resolve builds the mapping set for the siblings of leaf
func Resolve(ctx context.Context, tr *tree.Tree, leaf *tree.Segment, meta FieldMetaSource, reg *Registry, logger *zap.Logger) (*Set, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	siblings, err := tr.Children(ctx, leaf.ParentID)
	if err != nil {
		return nil, err
	}

	set := &Set{logger: logger}
	seenType := make(map[string]bool)
	seenKey := make(map[string]bool)
	for _, seg := range siblings {
		if seg.IsGroup || !seg.HasTarget() {
			continue
		}
		m := FieldMapping{
			SegmentID:        seg.ID,
			TargetEntityType: seg.TargetEntityType,
			ConversionName:   seg.ConversionMethod,
		}
		m.SourceKey, m.SourceField = SplitSource(seg.Name)

		if seg.ConversionMethod != "" {
			if m.Conversion, err = reg.Lookup(seg.ConversionMethod); err != nil {
				return nil, err
			}
		}
		if m.DestField, m.DestType, err = meta.FieldMeta(seg.TargetEntityType, seg.TargetField); err != nil {
			return nil, err
		}
		if seg.DataField != "" {
			ref, err := tr.Get(ctx, seg.DataField)
			if err != nil {
				return nil, err
			}
			m.HasRef = true
			m.RefSourceKey, m.RefSourceField = SplitSource(ref.Name)
		}

		if !seenType[m.TargetEntityType] {
			seenType[m.TargetEntityType] = true
			set.entityTypes = append(set.entityTypes, m.TargetEntityType)
		}
		if !seenKey[m.SourceKey] {
			seenKey[m.SourceKey] = true
			set.sourceKeys = append(set.sourceKeys, m.SourceKey)
		}
		set.Mappings = append(set.Mappings, m)
	}
	return set, nil
}

// EntityTypes lists the destination entity types in first-seen order
func (s *Set) EntityTypes() []string { return s.entityTypes }

// SourceKeys lists the nested list keys in first-seen order
func (s *Set) SourceKeys() []string { return s.sourceKeys }

// Build maps one source record into candidate documents, one per entity
// type and sub-record that yields at least one non-empty field. skipped
// counts nested keys the record does not carry as a list of objects.
func (s *Set) Build(index int, record map[string]interface{}) (docs []*store.Document, skipped int, err error) {
	for _, et := range s.entityTypes {
		for _, key := range s.sourceKeys {
			mappings := s.matching(et, key)
			if len(mappings) == 0 {
				continue
			}
			subs, ok := subRecords(record, key)
			if !ok {
				skipped++
				s.logger.Warn("record has no nested list for mapping key",
					zap.Int("record", index),
					zap.String("key", key),
					zap.String("entity_type", et))
				continue
			}
			for _, sub := range subs {
				doc := store.NewDocument(et)
				for _, m := range mappings {
					src, ok := m.lookup(record, sub, key)
					if !ok {
						s.logger.Debug("no source value for mapping",
							zap.Int("record", index),
							zap.String("segment", m.SegmentID),
							zap.String("field", m.SourceField))
						continue
					}
					val, err := m.Convert(src)
					if err != nil {
						return nil, skipped, err
					}
					if isEmpty(val) {
						continue
					}
					doc.Set(m.DestField, val)
				}
				if len(doc.Fields) > 0 {
					docs = append(docs, doc)
				}
			}
		}
	}
	return docs, skipped, nil
}

func (s *Set) matching(entityType, key string) []*FieldMapping {
	var out []*FieldMapping
	for i := range s.Mappings {
		m := &s.Mappings[i]
		if m.TargetEntityType == entityType && m.SourceKey == key {
			out = append(out, m)
		}
	}
	return out
}

// lookup prefers the sub-record's own field, then the data field reference
// when its key is top-level or the current key
func (m *FieldMapping) lookup(record, sub map[string]interface{}, key string) (interface{}, bool) {
	if v, ok := sub[m.SourceField]; ok {
		return v, true
	}
	if !m.HasRef || (m.RefSourceKey != "" && m.RefSourceKey != key) {
		return nil, false
	}
	if m.RefSourceKey != "" {
		v, ok := sub[m.RefSourceField]
		return v, ok
	}
	v, ok := record[m.RefSourceField]
	return v, ok
}

func subRecords(record map[string]interface{}, key string) ([]map[string]interface{}, bool) {
	if key == "" {
		return []map[string]interface{}{record}, true
	}
	switch v := record[key].(type) {
	case []interface{}:
		out := make([]map[string]interface{}, 0, len(v))
		for _, e := range v {
			if obj, ok := e.(map[string]interface{}); ok {
				out = append(out, obj)
			}
		}
		return out, true
	case map[string]interface{}:
		return []map[string]interface{}{v}, true
	}
	return nil, false
}

func isEmpty(v interface{}) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && s == ""
}

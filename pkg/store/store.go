// Package store defines the record store the importer writes into, the
// document model, and the entity schema used for naming and validation.
//
// Backends live in subpackages (mongostore, pgstore); MemoryStore serves
// tests and dry runs. Every backend reports conflicts and validation
// failures with the record-level error kinds from pkg/errors so the importer
// can recover from them:
//
//   - ErrorTypeDuplicateEntry: a document with the same name exists
//   - ErrorTypeMandatoryFieldMissing: a required field (or "parent" for a
//     child entity) is empty
//   - ErrorTypeLinkValidation: a link field names a missing document
package store

import (
	"context"
)

// Store is the record store contract
type Store interface {
	// ListAll returns every document of an entity type ordered by name
	ListAll(ctx context.Context, entityType string) ([]*Document, error)
	// Get loads a document or returns ErrorTypeNotFound
	Get(ctx context.Context, entityType, name string) (*Document, error)
	// GetCached is Get, possibly served from a cache
	GetCached(ctx context.Context, entityType, name string) (*Document, error)
	// GetValue reads selected fields. "name" and "parent" are always available.
	GetValue(ctx context.Context, entityType, name string, fields ...string) (map[string]interface{}, error)
	// Insert names, validates and stores a new document. doc.Name is set
	// even when the insert fails.
	Insert(ctx context.Context, doc *Document) error
	// Update validates and replaces an existing document
	Update(ctx context.Context, doc *Document) error

	// FieldMeta resolves a field reference to its name and type
	FieldMeta(entityType, fieldRef string) (string, FieldType, error)
	// ParentFieldFor returns the table field of parentType holding childType, or ""
	ParentFieldFor(parentType, childType string) string
	// ListFields returns the field definitions of an entity type
	ListFields(entityType string) ([]FieldDef, error)

	Close(ctx context.Context) error
}

// ExistsFunc reports whether a document exists
type ExistsFunc func(ctx context.Context, entityType, name string) (bool, error)

// PickValues extracts fields from doc for GetValue
func PickValues(doc *Document, fields []string) map[string]interface{} {
	out := make(map[string]interface{}, len(fields))
	for _, f := range fields {
		switch f {
		case "name":
			out[f] = doc.Name
		case "parent":
			out[f] = doc.Parent
		default:
			if v, ok := doc.Fields[f]; ok {
				out[f] = v
			} else if children, ok := doc.Children[f]; ok {
				out[f] = children
			}
		}
	}
	return out
}

package store

import (
	"context"
	"os"
	"sort"
	"strings"

	"github.com/CaseSolvedUK/rest-migrate/pkg/errors"
	"github.com/google/uuid"
	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

// FieldType is the declared type of a destination field
type FieldType string

const (
	FieldData        FieldType = "Data"
	FieldLink        FieldType = "Link"
	FieldSelect      FieldType = "Select"
	FieldText        FieldType = "Text"
	FieldSmallText   FieldType = "Small Text"
	FieldLongText    FieldType = "Long Text"
	FieldCode        FieldType = "Code"
	FieldJSON        FieldType = "JSON"
	FieldCheck       FieldType = "Check"
	FieldInt         FieldType = "Int"
	FieldRating      FieldType = "Rating"
	FieldFloat       FieldType = "Float"
	FieldCurrency    FieldType = "Currency"
	FieldPercent     FieldType = "Percent"
	FieldDate        FieldType = "Date"
	FieldDatetime    FieldType = "Datetime"
	FieldTime        FieldType = "Time"
	FieldDuration    FieldType = "Duration"
	FieldAttach      FieldType = "Attach"
	FieldAttachImage FieldType = "Attach Image"
	FieldImage       FieldType = "Image"
	FieldTable       FieldType = "Table"
	FieldGeolocation FieldType = "Geolocation"
	FieldPassword    FieldType = "Password"
	FieldSignature   FieldType = "Signature"
	FieldFold        FieldType = "Fold"
)

// FieldDef describes one field of an entity type
type FieldDef struct {
	Name     string    `yaml:"name" json:"name"`
	Label    string    `yaml:"label,omitempty" json:"label,omitempty"`
	Type     FieldType `yaml:"type" json:"type"`
	Required bool      `yaml:"required,omitempty" json:"required,omitempty"`
	// Options is the target entity type of Link and Table fields
	Options string `yaml:"options,omitempty" json:"options,omitempty"`
}

// EntityType describes a destination entity
type EntityType struct {
	Name string `yaml:"name" json:"name"`
	// IsChild entities can only be stored attached to a parent
	IsChild bool `yaml:"is_child,omitempty" json:"is_child,omitempty"`
	// NamingField supplies the document name; a random name is used otherwise
	NamingField string     `yaml:"naming_field,omitempty" json:"naming_field,omitempty"`
	Fields      []FieldDef `yaml:"fields" json:"fields"`
}

// Field finds a field by name or label
func (e *EntityType) Field(ref string) (FieldDef, bool) {
	for _, f := range e.Fields {
		if f.Name == ref {
			return f, true
		}
	}
	for _, f := range e.Fields {
		if f.Label != "" && strings.EqualFold(f.Label, ref) {
			return f, true
		}
	}
	return FieldDef{}, false
}

// Schema is the set of known entity types
type Schema struct {
	types map[string]*EntityType
}

type schemaFile struct {
	EntityTypes []*EntityType `yaml:"entity_types"`
}

// NewSchema builds a schema from entity types
func NewSchema(types ...*EntityType) *Schema {
	s := &Schema{types: make(map[string]*EntityType, len(types))}
	for _, t := range types {
		s.types[t.Name] = t
	}
	return s
}

// LoadSchema reads a YAML schema file
func LoadSchema(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to read schema file").WithDetail("path", path)
	}
	return ParseSchema(data)
}

// ParseSchema decodes a YAML schema document
func ParseSchema(data []byte) (*Schema, error) {
	var f schemaFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to parse schema")
	}
	for _, t := range f.EntityTypes {
		if t.Name == "" {
			return nil, errors.New(errors.ErrorTypeConfig, "entity type without a name")
		}
	}
	return NewSchema(f.EntityTypes...), nil
}

// EntityType looks up an entity type
func (s *Schema) EntityType(name string) (*EntityType, error) {
	t, ok := s.types[name]
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeNotFound, "unknown entity type %q", name).
			WithDetail("entity_type", name)
	}
	return t, nil
}

// EntityTypes returns all entity type names in sorted order
func (s *Schema) EntityTypes() []string {
	names := make([]string, 0, len(s.types))
	for n := range s.types {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// FieldMeta resolves a field reference to its field name and type
func (s *Schema) FieldMeta(entityType, fieldRef string) (string, FieldType, error) {
	t, err := s.EntityType(entityType)
	if err != nil {
		return "", "", err
	}
	f, ok := t.Field(fieldRef)
	if !ok {
		return "", "", errors.Newf(errors.ErrorTypeNotFound, "%s has no field %q", entityType, fieldRef).
			WithDetail("entity_type", entityType).
			WithDetail("field", fieldRef)
	}
	return f.Name, f.Type, nil
}

// ParentFieldFor returns the first table field of parentType whose options
// name childType
func (s *Schema) ParentFieldFor(parentType, childType string) string {
	t, ok := s.types[parentType]
	if !ok {
		return ""
	}
	for _, f := range t.Fields {
		if f.Type == FieldTable && f.Options == childType {
			return f.Name
		}
	}
	return ""
}

// ListFields returns the fields of an entity type, skipping layout-only folds
func (s *Schema) ListFields(entityType string) ([]FieldDef, error) {
	t, err := s.EntityType(entityType)
	if err != nil {
		return nil, err
	}
	out := make([]FieldDef, 0, len(t.Fields))
	for _, f := range t.Fields {
		if f.Type != FieldFold {
			out = append(out, f)
		}
	}
	return out, nil
}

// IsChild reports whether entityType can only exist inside a parent
func (s *Schema) IsChild(entityType string) bool {
	t, ok := s.types[entityType]
	return ok && t.IsChild
}

// Prepare names doc and validates it for storage. Names come from the
// naming field, then an existing doc.Name, then a random UUID.
func (s *Schema) Prepare(ctx context.Context, doc *Document, exists ExistsFunc) error {
	t, err := s.EntityType(doc.EntityType)
	if err != nil {
		return err
	}
	if t.NamingField != "" {
		if v := cast.ToString(doc.Fields[t.NamingField]); v != "" {
			doc.Name = v
		}
	}
	if doc.Name == "" {
		doc.Name = uuid.NewString()
	}
	return s.Validate(ctx, doc, exists)
}

// Validate checks mandatory fields, the parent of child entities and link
// targets, recursing into attached children
func (s *Schema) Validate(ctx context.Context, doc *Document, exists ExistsFunc) error {
	t, err := s.EntityType(doc.EntityType)
	if err != nil {
		return err
	}

	var missing []string
	if t.IsChild && doc.Parent == "" {
		missing = append(missing, "parent")
	}
	for _, f := range t.Fields {
		if f.Required && f.Type != FieldTable && isEmpty(doc.Fields[f.Name]) {
			missing = append(missing, f.Name)
		}
	}
	if len(missing) > 0 {
		return errors.Newf(errors.ErrorTypeMandatoryFieldMissing, "[%s, %s]: %s",
			doc.EntityType, doc.Name, strings.Join(missing, ", ")).
			WithDetail("entity_type", doc.EntityType).
			WithDetail("fields", missing)
	}

	for _, f := range t.Fields {
		if f.Type != FieldLink || f.Options == "" {
			continue
		}
		target := cast.ToString(doc.Fields[f.Name])
		if target == "" {
			continue
		}
		ok, err := exists(ctx, f.Options, target)
		if err != nil {
			return err
		}
		if !ok {
			return errors.Newf(errors.ErrorTypeLinkValidation, "could not find %s: %s", f.Options, target).
				WithDetail("entity_type", doc.EntityType).
				WithDetail("field", f.Name).
				WithDetail("target", target)
		}
	}

	for _, list := range doc.Children {
		for _, child := range list {
			if child.Name == "" {
				child.Name = uuid.NewString()
			}
			if err := s.Validate(ctx, child, exists); err != nil {
				return err
			}
		}
	}
	return nil
}

// MissingFields returns the field list of a mandatory-field error
func MissingFields(err error) []string {
	v, ok := errors.Detail(err, "fields")
	if !ok {
		return nil
	}
	fields, _ := v.([]string)
	return fields
}

func isEmpty(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	default:
		return false
	}
}

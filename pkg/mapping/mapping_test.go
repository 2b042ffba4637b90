package mapping

import (
	"context"
	"testing"

	"github.com/CaseSolvedUK/rest-migrate/pkg/errors"
	jsonpool "github.com/CaseSolvedUK/rest-migrate/pkg/json"
	"github.com/CaseSolvedUK/rest-migrate/pkg/store"
	"github.com/CaseSolvedUK/rest-migrate/pkg/tree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const testSchema = `
entity_types:
  - name: Customer
    naming_field: customer_name
    fields:
      - {name: customer_name, label: Customer Name, type: Data}
      - {name: active, type: Check}
      - {name: notes, type: Small Text}
  - name: Contact
    fields:
      - {name: email, type: Data}
      - {name: customer, type: Link, options: Customer}
`

func TestCoerce(t *testing.T) {
	tests := []struct {
		name string
		src  interface{}
		ft   store.FieldType
		want interface{}
	}{
		{"list joined", []interface{}{"a", "b"}, store.FieldData, "a\nb"},
		{"dict as json", map[string]interface{}{"b": 1, "a": "x"}, store.FieldSmallText, `{"a":"x","b":1}`},
		{"check zero", jsonpool.Number("0"), store.FieldCheck, int64(0)},
		{"check truthy string", "yes", store.FieldCheck, int64(1)},
		{"check bool", true, store.FieldCheck, int64(1)},
		{"int from number", jsonpool.Number("42"), store.FieldInt, int64(42)},
		{"float from string", "3.25", store.FieldCurrency, 3.25},
		{"data from number", jsonpool.Number("7"), store.FieldData, "7"},
		{"data from float", jsonpool.Number("1.5"), store.FieldData, "1.5"},
		{"date", "2024-03-05T10:00:00Z", store.FieldDate, "2024-03-05"},
		{"duration clock", "01:30:00", store.FieldDuration, int64(5400)},
		{"duration seconds", jsonpool.Number("90"), store.FieldDuration, int64(90)},
		{"time", "1h2m3s", store.FieldTime, "01:02:03"},
		{"attach", "https://x/y.png", store.FieldAttach, "https://x/y.png"},
		{"null", nil, store.FieldData, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Coerce(tt.src, tt.ft)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCoerceUnsupported(t *testing.T) {
	for _, ft := range []store.FieldType{store.FieldPassword, store.FieldGeolocation, store.FieldSignature} {
		_, err := Coerce("x", ft)
		assert.True(t, errors.IsType(err, errors.ErrorTypeUnsupportedFieldType), ft)
	}
}

func TestCoerceBadNumber(t *testing.T) {
	_, err := Coerce("abc", store.FieldFloat)
	assert.True(t, errors.IsType(err, errors.ErrorTypeData))
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()

	lower, err := reg.Lookup(".lower")
	require.NoError(t, err)
	v, err := lower("MiXeD")
	require.NoError(t, err)
	assert.Equal(t, "mixed", v)

	title, err := reg.Lookup(".title()")
	require.NoError(t, err)
	v, err = title("hello wORLD")
	require.NoError(t, err)
	assert.Equal(t, "Hello World", v)

	toInt, err := reg.Lookup("int")
	require.NoError(t, err)
	v, err = toInt(jsonpool.Number("12"))
	require.NoError(t, err)
	assert.Equal(t, int64(12), v)

	_, err = reg.Lookup("os.system")
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	require.NoError(t, reg.Register("cents", func(v interface{}) (interface{}, error) { return "c", nil }))
	assert.Error(t, reg.Register("cents", func(v interface{}) (interface{}, error) { return nil, nil }))
}

func TestStringMethodRejectsNonString(t *testing.T) {
	upper, err := NewRegistry().Lookup(".upper")
	require.NoError(t, err)
	_, err = upper(jsonpool.Number("1"))
	assert.Error(t, err)
}

func TestSplitSource(t *testing.T) {
	key, field := SplitSource("contacts.email")
	assert.Equal(t, "contacts", key)
	assert.Equal(t, "email", field)

	key, field = SplitSource("name")
	assert.Equal(t, "", key)
	assert.Equal(t, "name", field)

	key, field = SplitSource("a.b.c")
	assert.Equal(t, "a.b", key)
	assert.Equal(t, "c", field)
}

func resolveSet(t *testing.T) *Set {
	t.Helper()
	schema, err := store.ParseSchema([]byte(testSchema))
	require.NoError(t, err)

	tr := tree.New(tree.NewMemoryRepository(
		&tree.Segment{ID: "root", Name: "https://api.example.com", IsGroup: true},
		&tree.Segment{ID: "customers", Name: "customers", ParentID: "root", IsGroup: true},
		&tree.Segment{ID: "name", Name: "name", ParentID: "customers",
			TargetEntityType: "Customer", TargetField: "Customer Name", ConversionMethod: ".upper"},
		&tree.Segment{ID: "active", Name: "active", ParentID: "customers",
			TargetEntityType: "Customer", TargetField: "active"},
		&tree.Segment{ID: "email", Name: "contacts.email", ParentID: "customers",
			TargetEntityType: "Contact", TargetField: "email"},
		&tree.Segment{ID: "owner", Name: "contacts.customer", ParentID: "customers",
			TargetEntityType: "Contact", TargetField: "customer", DataField: "name"},
		&tree.Segment{ID: "id", Name: "id", ParentID: "customers"},
	), zaptest.NewLogger(t))

	leaf, err := tr.Get(context.Background(), "name")
	require.NoError(t, err)
	set, err := Resolve(context.Background(), tr, leaf, schema, NewRegistry(), zaptest.NewLogger(t))
	require.NoError(t, err)
	return set
}

func TestResolve(t *testing.T) {
	set := resolveSet(t)

	require.Len(t, set.Mappings, 4)
	assert.Equal(t, []string{"Customer", "Contact"}, set.EntityTypes())
	assert.ElementsMatch(t, []string{"", "contacts"}, set.SourceKeys())

	for _, m := range set.Mappings {
		switch m.SegmentID {
		case "name":
			assert.Equal(t, "customer_name", m.DestField)
			assert.NotNil(t, m.Conversion)
		case "owner":
			assert.True(t, m.HasRef)
			assert.Equal(t, "", m.RefSourceKey)
			assert.Equal(t, "name", m.RefSourceField)
			assert.Equal(t, "contacts", m.SourceKey)
		}
	}
}

func TestResolveUnknownConversion(t *testing.T) {
	schema, err := store.ParseSchema([]byte(testSchema))
	require.NoError(t, err)
	tr := tree.New(tree.NewMemoryRepository(
		&tree.Segment{ID: "g", Name: "g", IsGroup: true},
		&tree.Segment{ID: "x", Name: "x", ParentID: "g",
			TargetEntityType: "Customer", TargetField: "notes", ConversionMethod: "eval"},
	), zaptest.NewLogger(t))

	leaf, err := tr.Get(context.Background(), "x")
	require.NoError(t, err)
	_, err = Resolve(context.Background(), tr, leaf, schema, NewRegistry(), nil)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestBuild(t *testing.T) {
	set := resolveSet(t)

	record := map[string]interface{}{
		"id":     jsonpool.Number("1"),
		"name":   "ann",
		"active": jsonpool.Number("0"),
		"contacts": []interface{}{
			map[string]interface{}{"email": "a@example.com"},
			map[string]interface{}{"email": ""},
			"not an object",
		},
	}
	docs, skipped, err := set.Build(1, record)
	require.NoError(t, err)
	assert.Zero(t, skipped)
	require.Len(t, docs, 3)

	assert.Equal(t, "Customer", docs[0].EntityType)
	assert.Equal(t, "ANN", docs[0].Get("customer_name"))
	assert.Equal(t, int64(0), docs[0].Get("active"))

	// Contact candidates borrow the raw customer name through the data field
	assert.Equal(t, "Contact", docs[1].EntityType)
	assert.Equal(t, "a@example.com", docs[1].Get("email"))
	assert.Equal(t, "ann", docs[1].Get("customer"))
	assert.Equal(t, "Contact", docs[2].EntityType)
	assert.Nil(t, docs[2].Get("email"))
	assert.Equal(t, "ann", docs[2].Get("customer"))
}

func TestBuildSkipsMissingNestedList(t *testing.T) {
	set := resolveSet(t)

	docs, skipped, err := set.Build(3, map[string]interface{}{"name": "bob"})
	require.NoError(t, err)
	assert.Equal(t, 1, skipped)
	require.Len(t, docs, 1)
	assert.Equal(t, "Customer", docs[0].EntityType)
}

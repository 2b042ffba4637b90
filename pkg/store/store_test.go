package store

import (
	"context"
	"testing"

	"github.com/CaseSolvedUK/rest-migrate/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSchema = `
entity_types:
  - name: Customer
    naming_field: customer_name
    fields:
      - {name: customer_name, label: Customer Name, type: Data, required: true}
      - {name: territory, type: Link, options: Territory}
      - {name: credit_limit, label: Credit Limit, type: Currency}
      - {name: addresses, type: Table, options: Customer Address}
      - {name: section, type: Fold}
  - name: Customer Address
    is_child: true
    fields:
      - {name: city, type: Data}
  - name: Territory
    naming_field: territory_name
    fields:
      - {name: territory_name, type: Data}
`

func newTestStore(t *testing.T) *MemoryStore {
	t.Helper()
	schema, err := ParseSchema([]byte(testSchema))
	require.NoError(t, err)
	return NewMemoryStore(schema)
}

func customer(name string) *Document {
	d := NewDocument("Customer")
	d.Set("customer_name", name)
	return d
}

func TestFieldMeta(t *testing.T) {
	s := newTestStore(t)

	name, ft, err := s.FieldMeta("Customer", "Credit Limit")
	require.NoError(t, err)
	assert.Equal(t, "credit_limit", name)
	assert.Equal(t, FieldCurrency, ft)

	_, _, err = s.FieldMeta("Customer", "nope")
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
	_, _, err = s.FieldMeta("Nope", "x")
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}

func TestParentFieldFor(t *testing.T) {
	s := newTestStore(t)
	assert.Equal(t, "addresses", s.ParentFieldFor("Customer", "Customer Address"))
	assert.Equal(t, "", s.ParentFieldFor("Territory", "Customer Address"))
	assert.Equal(t, "", s.ParentFieldFor("Unknown", "Customer Address"))
}

func TestListFieldsSkipsFolds(t *testing.T) {
	s := newTestStore(t)
	fields, err := s.ListFields("Customer")
	require.NoError(t, err)
	assert.Len(t, fields, 4)
}

func TestInsertNamesAndDetectsDuplicates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	d := customer("Ada")
	require.NoError(t, s.Insert(ctx, d))
	assert.Equal(t, "Ada", d.Name)

	dup := customer("Ada")
	err := s.Insert(ctx, dup)
	assert.True(t, errors.IsType(err, errors.ErrorTypeDuplicateEntry))
	assert.Equal(t, "Ada", dup.Name)
}

func TestInsertMandatoryBeforeDuplicate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	child := NewDocument("Customer Address")
	child.Set("city", "Leeds")
	err := s.Insert(ctx, child)
	require.True(t, errors.IsType(err, errors.ErrorTypeMandatoryFieldMissing))
	assert.Equal(t, []string{"parent"}, MissingFields(err))
	assert.NotEmpty(t, child.Name)

	err = s.Insert(ctx, NewDocument("Customer"))
	require.True(t, errors.IsType(err, errors.ErrorTypeMandatoryFieldMissing))
	assert.Equal(t, []string{"customer_name"}, MissingFields(err))
}

func TestInsertLinkValidation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	d := customer("Ada")
	d.Set("territory", "North")
	err := s.Insert(ctx, d)
	assert.True(t, errors.IsType(err, errors.ErrorTypeLinkValidation))

	terr := NewDocument("Territory")
	terr.Set("territory_name", "North")
	require.NoError(t, s.Insert(ctx, terr))
	require.NoError(t, s.Insert(ctx, d))
}

func TestUpdateWithChildren(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	d := customer("Ada")
	require.NoError(t, s.Insert(ctx, d))

	addr := NewDocument("Customer Address")
	addr.Set("city", "Leeds")
	d.Append("addresses", addr)
	require.NoError(t, s.Update(ctx, d))

	got, err := s.Get(ctx, "Customer", "Ada")
	require.NoError(t, err)
	require.Len(t, got.Children["addresses"], 1)
	child := got.Children["addresses"][0]
	assert.Equal(t, "Ada", child.Parent)
	assert.Equal(t, "Customer", child.ParentType)
	assert.Equal(t, "addresses", child.ParentField)

	v, err := s.GetValue(ctx, "Customer", "Ada", "name", "customer_name", "missing")
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"name": "Ada", "customer_name": "Ada"}, v)
}

func TestUpdateMissing(t *testing.T) {
	s := newTestStore(t)
	err := s.Update(context.Background(), customer("Ghost"))
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}

func TestGetReturnsCopies(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, customer("Ada")))

	d, err := s.Get(ctx, "Customer", "Ada")
	require.NoError(t, err)
	d.Set("customer_name", "changed")

	again, err := s.Get(ctx, "Customer", "Ada")
	require.NoError(t, err)
	assert.Equal(t, "Ada", again.Get("customer_name"))
}

func TestListAllOrdered(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for _, n := range []string{"Cy", "Ada", "Bo"} {
		require.NoError(t, s.Insert(ctx, customer(n)))
	}
	docs, err := s.ListAll(ctx, "Customer")
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.Equal(t, "Ada", docs[0].Name)
	assert.Equal(t, "Cy", docs[2].Name)
}

func TestCachedStore(t *testing.T) {
	inner := newTestStore(t)
	c, err := NewCachedStore(inner, 2)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, c.Insert(ctx, customer("Ada")))
	d, err := c.GetCached(ctx, "Customer", "Ada")
	require.NoError(t, err)
	assert.Equal(t, 1, c.Len())

	d.Set("credit_limit", 10.0)
	require.NoError(t, c.Update(ctx, d))
	assert.Equal(t, 0, c.Len())

	again, err := c.GetCached(ctx, "Customer", "Ada")
	require.NoError(t, err)
	assert.Equal(t, 10.0, again.Get("credit_limit"))

	_, err = c.GetCached(ctx, "Customer", "Nobody")
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}

func TestCachedStoreKeepsEntryOnDuplicateInsert(t *testing.T) {
	c, err := NewCachedStore(newTestStore(t), 4)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, c.Insert(ctx, customer("Ada")))
	_, err = c.GetCached(ctx, "Customer", "Ada")
	require.NoError(t, err)
	require.Equal(t, 1, c.Len())

	err = c.Insert(ctx, customer("Ada"))
	assert.True(t, errors.IsType(err, errors.ErrorTypeDuplicateEntry))
	assert.Equal(t, 1, c.Len())
}

package testutil

import (
	"context"

	"github.com/CaseSolvedUK/rest-migrate/pkg/errors"
	"github.com/CaseSolvedUK/rest-migrate/pkg/store"
	"github.com/google/uuid"
)

// ContractSchema is the schema StoreSuite runs against
const ContractSchema = `
entity_types:
  - name: Customer
    naming_field: customer_name
    fields:
      - {name: customer_name, type: Data, required: true}
      - {name: territory, type: Link, options: Territory}
      - {name: credit_limit, type: Currency}
      - {name: addresses, type: Table, options: Customer Address}
  - name: Customer Address
    is_child: true
    fields:
      - {name: city, type: Data}
  - name: Territory
    naming_field: territory_name
    fields:
      - {name: territory_name, type: Data}
`

// StoreSuite checks a store.Store backend against the shared contract.
// Document names are randomized so backends may keep state between tests.
type StoreSuite struct {
	IntegrationTestSuite
	// NewStore opens the backend under test
	NewStore func(ctx context.Context, schema *store.Schema) (store.Store, error)
	Store    store.Store
}

// SetupTest opens a fresh store
func (s *StoreSuite) SetupTest() {
	schema, err := store.ParseSchema([]byte(ContractSchema))
	s.Require().NoError(err)
	s.Store, err = s.NewStore(s.Context(), schema)
	s.Require().NoError(err)
}

// TearDownTest closes the store
func (s *StoreSuite) TearDownTest() {
	if s.Store != nil {
		s.NoError(s.Store.Close(context.Background()))
	}
}

func (s *StoreSuite) customer() *store.Document {
	d := store.NewDocument("Customer")
	d.Set("customer_name", "cust-"+uuid.NewString())
	return d
}

func (s *StoreSuite) TestInsertAndGet() {
	d := s.customer()
	d.Set("credit_limit", 12.5)
	s.Require().NoError(s.Store.Insert(s.Context(), d))

	got, err := s.Store.Get(s.Context(), "Customer", d.Name)
	s.Require().NoError(err)
	s.Equal(d.Name, got.Name)
	s.Equal(12.5, got.Get("credit_limit"))

	v, err := s.Store.GetValue(s.Context(), "Customer", d.Name, "name")
	s.Require().NoError(err)
	s.Equal(d.Name, v["name"])
}

func (s *StoreSuite) TestDuplicate() {
	d := s.customer()
	s.Require().NoError(s.Store.Insert(s.Context(), d))

	dup := store.NewDocument("Customer")
	dup.Set("customer_name", d.Name)
	err := s.Store.Insert(s.Context(), dup)
	s.True(errors.IsType(err, errors.ErrorTypeDuplicateEntry), "got %v", err)
	s.Equal(d.Name, dup.Name)
}

func (s *StoreSuite) TestChildNeedsParent() {
	child := store.NewDocument("Customer Address")
	child.Set("city", "Leeds")
	err := s.Store.Insert(s.Context(), child)
	s.True(errors.IsType(err, errors.ErrorTypeMandatoryFieldMissing), "got %v", err)
	s.Contains(store.MissingFields(err), "parent")
}

func (s *StoreSuite) TestLinkValidation() {
	d := s.customer()
	d.Set("territory", "terr-"+uuid.NewString())
	err := s.Store.Insert(s.Context(), d)
	s.True(errors.IsType(err, errors.ErrorTypeLinkValidation), "got %v", err)
}

func (s *StoreSuite) TestUpdateAttachesChild() {
	d := s.customer()
	s.Require().NoError(s.Store.Insert(s.Context(), d))

	child := store.NewDocument("Customer Address")
	child.Set("city", "York")
	d.Append("addresses", child)
	s.Require().NoError(s.Store.Update(s.Context(), d))

	got, err := s.Store.GetCached(s.Context(), "Customer", d.Name)
	s.Require().NoError(err)
	s.Require().Len(got.Children["addresses"], 1)
	s.Equal("York", got.Children["addresses"][0].Get("city"))
	s.Equal(d.Name, got.Children["addresses"][0].Parent)
}

func (s *StoreSuite) TestGetMissing() {
	_, err := s.Store.Get(s.Context(), "Customer", "missing-"+uuid.NewString())
	s.True(errors.IsType(err, errors.ErrorTypeNotFound), "got %v", err)
}

func (s *StoreSuite) TestListAll() {
	a, b := s.customer(), s.customer()
	s.Require().NoError(s.Store.Insert(s.Context(), a))
	s.Require().NoError(s.Store.Insert(s.Context(), b))

	docs, err := s.Store.ListAll(s.Context(), "Customer")
	s.Require().NoError(err)
	names := make(map[string]bool, len(docs))
	for i, d := range docs {
		names[d.Name] = true
		if i > 0 {
			s.LessOrEqual(docs[i-1].Name, d.Name)
		}
	}
	s.True(names[a.Name])
	s.True(names[b.Name])
}

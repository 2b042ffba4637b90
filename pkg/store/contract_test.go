package store_test

import (
	"context"
	"testing"

	"github.com/CaseSolvedUK/rest-migrate/pkg/store"
	"github.com/CaseSolvedUK/rest-migrate/pkg/testutil"
	"github.com/stretchr/testify/suite"
)

func TestMemoryStoreContract(t *testing.T) {
	suite.Run(t, &testutil.StoreSuite{
		NewStore: func(_ context.Context, schema *store.Schema) (store.Store, error) {
			return store.NewMemoryStore(schema), nil
		},
	})
}

func TestCachedStoreContract(t *testing.T) {
	suite.Run(t, &testutil.StoreSuite{
		NewStore: func(_ context.Context, schema *store.Schema) (store.Store, error) {
			return store.NewCachedStore(store.NewMemoryStore(schema), 16)
		},
	})
}

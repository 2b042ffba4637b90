package pgstore

import (
	"context"
	"testing"
	"time"

	"github.com/CaseSolvedUK/rest-migrate/pkg/store"
	"github.com/CaseSolvedUK/rest-migrate/pkg/testutil"
	"github.com/stretchr/testify/suite"
)

func TestPostgresStoreContract(t *testing.T) {
	testutil.IntegrationTest(t)
	dsn := testutil.RequireEnv(t, "RESTMIGRATE_TEST_POSTGRES_DSN")

	suite.Run(t, &testutil.StoreSuite{
		NewStore: func(ctx context.Context, schema *store.Schema) (store.Store, error) {
			return Open(ctx, dsn, 10*time.Second, schema, testutil.TestLogger(t))
		},
	})
}

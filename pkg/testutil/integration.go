package testutil

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

// IntegrationTestSuite provides a suite-wide context for backend tests
type IntegrationTestSuite struct {
	suite.Suite
	ctx       context.Context
	cancel    context.CancelFunc
	startTime time.Time
}

// SetupSuite runs before all tests in the suite
func (s *IntegrationTestSuite) SetupSuite() {
	s.ctx, s.cancel = context.WithTimeout(context.Background(), 5*time.Minute)
	s.startTime = time.Now()
}

// TearDownSuite runs after all tests in the suite
func (s *IntegrationTestSuite) TearDownSuite() {
	s.cancel()
	s.T().Logf("suite completed in %v", time.Since(s.startTime))
}

// Context returns the suite context
func (s *IntegrationTestSuite) Context() context.Context {
	return s.ctx
}

// IntegrationTest skips the test in -short mode
func IntegrationTest(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
}

// RequireEnv returns the value of key or skips the test when it is unset
func RequireEnv(t *testing.T, key string) string {
	t.Helper()
	v := os.Getenv(key)
	if v == "" {
		t.Skipf("%s not set", key)
	}
	return v
}

// Package testutil provides testing utilities shared across packages
package testutil

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// TestLogger creates a test logger that writes to the test output
func TestLogger(t *testing.T) *zap.Logger {
	return zaptest.NewLogger(t)
}

// APIServer is an httptest server answering fixed JSON bodies by request URI
type APIServer struct {
	*httptest.Server
	routes map[string]string
	hits   map[string]int
	mu     sync.Mutex
}

// NewAPIServer starts a server for routes keyed by path plus optional query
// ("/users?active=true"). Unknown URIs get a 404. The server is closed
// when the test ends.
func NewAPIServer(t *testing.T, routes map[string]string) *APIServer {
	s := &APIServer{routes: routes, hits: make(map[string]int)}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

func (s *APIServer) serve(w http.ResponseWriter, r *http.Request) {
	uri := r.URL.RequestURI()
	s.mu.Lock()
	s.hits[uri]++
	body, ok := s.routes[uri]
	s.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, body)
}

// Hits returns how often uri was requested
func (s *APIServer) Hits(uri string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[uri]
}

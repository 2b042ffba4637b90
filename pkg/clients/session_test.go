package clients

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/CaseSolvedUK/rest-migrate/pkg/config"
	"github.com/CaseSolvedUK/rest-migrate/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newFactory(t *testing.T, providers *ProviderRegistry) *SessionFactory {
	t.Helper()
	return NewSessionFactory(config.Default().HTTP, nil, providers, zaptest.NewLogger(t))
}

func hostOf(t *testing.T, raw string) string {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u.Hostname()
}

func TestSessionAnonymous(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "v1", r.Header.Get("X-Api-Version"))
		assert.Equal(t, "rest-migrate/1.0", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `[]`)
	}))
	defer srv.Close()

	s, err := newFactory(t, nil).Open(nil, map[string]string{"X-Api-Version": "v1"})
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, StateAnonymous, s.State())

	resp, err := s.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, StateAuthenticated, s.State())
}

func TestSessionAlwaysAcceptsJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Equal(t, "abc", r.Header.Get("X-Token"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `[]`)
	}))
	defer srv.Close()

	s, err := newFactory(t, nil).Open(nil, map[string]string{"Accept": "text/xml", "X-Token": "abc"})
	require.NoError(t, err)
	defer s.Close()

	resp, err := s.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
}

func TestSessionBasicAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "alice" || pass != "secret" {
			w.Header().Set("WWW-Authenticate", `Basic realm="api"`)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s, err := newFactory(t, nil).Open(&Credentials{Auth: "Basic", Username: "alice", Password: "secret"}, nil)
	require.NoError(t, err)
	assert.Equal(t, StateBasicAuth, s.State())

	resp, err := s.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, StateAuthenticated, s.State())
}

func TestSessionDigestState(t *testing.T) {
	s, err := newFactory(t, nil).Open(&Credentials{Auth: "Digest", Username: "u", Password: "p"}, nil)
	require.NoError(t, err)
	assert.Equal(t, StateDigestAuth, s.State())
}

func TestSessionUnsupportedScheme(t *testing.T) {
	_, err := newFactory(t, nil).Open(&Credentials{Auth: "NTLM", Username: "u"}, nil)
	assert.True(t, errors.IsType(err, errors.ErrorTypeUnsupportedAuthScheme))
}

func TestSessionNonOAuthChallenge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("WWW-Authenticate", `Basic realm="api"`)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	s, err := newFactory(t, nil).Open(nil, nil)
	require.NoError(t, err)

	_, err = s.Get(context.Background(), srv.URL)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeAuthenticationRequired))
	challenge, ok := errors.Detail(err, "challenge")
	require.True(t, ok)
	assert.Equal(t, `Basic realm="api"`, challenge)
	assert.Equal(t, StateFailed, s.State())

	_, err = s.Get(context.Background(), srv.URL)
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidOperation))
}

func TestSessionOAuthWithoutProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("WWW-Authenticate", `OAuth realm="api"`)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	s, err := newFactory(t, NewProviderRegistry(nil)).Open(nil, nil)
	require.NoError(t, err)

	_, err = s.Get(context.Background(), srv.URL)
	assert.True(t, errors.IsType(err, errors.ErrorTypeProviderNotConfigured))
	assert.Equal(t, StateFailed, s.State())
}

func TestSessionOAuthClientCredentials(t *testing.T) {
	var tokenRequests int
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		tokenRequests++
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"tok","token_type":"bearer","expires_in":3600}`)
	})
	mux.HandleFunc("/users", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.Header().Set("WWW-Authenticate", `OAuth realm="users"`)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"users":[]}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	registry := NewProviderRegistry([]config.OAuthProvider{{
		Hostname:     hostOf(t, srv.URL),
		ClientID:     "id",
		ClientSecret: "secret",
		TokenURL:     srv.URL + "/token",
	}})

	s, err := newFactory(t, registry).Open(nil, nil)
	require.NoError(t, err)
	defer s.Close()

	resp, err := s.Get(context.Background(), srv.URL+"/users")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, StateAuthenticated, s.State())

	resp, err = s.Get(context.Background(), srv.URL+"/users")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, 1, tokenRequests, "token is reused within a session")
}

func TestSessionCredentialsIgnoreOAuthChallenge(t *testing.T) {
	var tokenRequests, basicRequests int
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		tokenRequests++
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"tok","token_type":"bearer","expires_in":3600}`)
	})
	mux.HandleFunc("/users", func(w http.ResponseWriter, r *http.Request) {
		if _, _, ok := r.BasicAuth(); ok {
			basicRequests++
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.Header().Set("WWW-Authenticate", `Bearer realm="users"`)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `[]`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	registry := NewProviderRegistry([]config.OAuthProvider{{
		Hostname:     hostOf(t, srv.URL),
		ClientID:     "id",
		ClientSecret: "secret",
		TokenURL:     srv.URL + "/token",
	}})

	s, err := newFactory(t, registry).Open(&Credentials{Auth: SchemeBasic, Username: "alice", Password: "secret"}, nil)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Get(context.Background(), srv.URL+"/users")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeAuthenticationRequired))
	challenge, ok := errors.Detail(err, "challenge")
	require.True(t, ok)
	assert.Equal(t, `Bearer realm="users"`, challenge)

	assert.Equal(t, StateFailed, s.State())
	assert.Zero(t, tokenRequests)
	assert.Equal(t, 1, basicRequests)
}

func TestSessionServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s, err := newFactory(t, nil).Open(nil, nil)
	require.NoError(t, err)

	_, err = s.Get(context.Background(), srv.URL)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConnection))
	status, _ := errors.Detail(err, "status")
	assert.Equal(t, http.StatusInternalServerError, status)
}

// gaugeValue reads a gauge from the default registry
func gaugeValue(t *testing.T, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	next:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if labels[lp.GetName()] != lp.GetValue() {
					continue next
				}
			}
			return m.GetGauge().GetValue()
		}
	}
	t.Fatalf("gauge %s %v not registered", name, labels)
	return 0
}

func TestSessionReportsRateLimiterStats(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `[]`)
	}))
	defer srv.Close()

	cfg := config.Default().HTTP
	cfg.RateLimit = 1000
	cfg.RateBurst = 5
	s, err := NewSessionFactory(cfg, nil, nil, zaptest.NewLogger(t)).Open(nil, nil)
	require.NoError(t, err)
	defer s.Close()

	for i := 0; i < 2; i++ {
		resp, err := s.Get(context.Background(), srv.URL)
		require.NoError(t, err)
		resp.Body.Close()
	}

	assert.Equal(t, 2.0, gaugeValue(t, "restmigrate_rate_limiter_requests", map[string]string{"result": "allowed"}))
	assert.Equal(t, 0.0, gaugeValue(t, "restmigrate_rate_limiter_requests", map[string]string{"result": "blocked"}))
	assert.LessOrEqual(t, gaugeValue(t, "restmigrate_rate_limiter_tokens", nil), 5.0)
}

func TestSessionClosed(t *testing.T) {
	s, err := newFactory(t, nil).Open(nil, nil)
	require.NoError(t, err)
	s.Close()
	s.Close()

	_, err = s.Get(context.Background(), "http://127.0.0.1:1")
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidOperation))
}

func TestProviderRegistryCaseInsensitive(t *testing.T) {
	r := NewProviderRegistry([]config.OAuthProvider{{Hostname: "API.Example.com", TokenURL: "https://x/token"}})
	p, ok := r.Lookup("api.example.com")
	require.True(t, ok)
	assert.Equal(t, "API.Example.com", p.Hostname())

	_, ok = r.Lookup("other.example.com")
	assert.False(t, ok)
}

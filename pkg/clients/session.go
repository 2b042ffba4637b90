package clients

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/CaseSolvedUK/rest-migrate/pkg/config"
	"github.com/CaseSolvedUK/rest-migrate/pkg/errors"
	"github.com/CaseSolvedUK/rest-migrate/pkg/metrics"
	"github.com/icholy/digest"
	"go.uber.org/zap"
)

// SessionState is a state of the fetch session machine.
//
//	Anonymous  --2xx--> Authenticated
//	BasicAuth  --2xx--> Authenticated
//	DigestAuth --2xx--> Authenticated
//	BasicAuth, DigestAuth --401--> Failed
//	anonymous session --401--> Challenged
//	Challenged --OAuth challenge--> OAuthResolving --provider--> Authenticated
//	Challenged --other challenge--> Failed
//	OAuthResolving --no provider--> Failed
//
// Sessions opened with credentials never negotiate: a 401 is final.
// Failed and closed sessions refuse further requests.
type SessionState int

const (
	StateAnonymous SessionState = iota
	StateBasicAuth
	StateDigestAuth
	StateChallenged
	StateOAuthResolving
	StateAuthenticated
	StateFailed
)

var stateNames = [...]string{
	StateAnonymous:      "anonymous",
	StateBasicAuth:      "basic_auth",
	StateDigestAuth:     "digest_auth",
	StateChallenged:     "challenged",
	StateOAuthResolving: "oauth_resolving",
	StateAuthenticated:  "authenticated",
	StateFailed:         "failed",
}

func (s SessionState) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Auth schemes accepted in Credentials.Auth
const (
	SchemeBasic  = "Basic"
	SchemeDigest = "Digest"
)

// Credentials are optional per-run authentication details
type Credentials struct {
	Auth     string `json:"auth" yaml:"auth"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
}

// IsZero reports whether no credentials were supplied
func (c *Credentials) IsZero() bool {
	return c == nil || (c.Auth == "" && c.Username == "" && c.Password == "")
}

// SessionFactory opens fetch sessions over a shared transport
type SessionFactory struct {
	cfg       config.HTTPConfig
	base      http.RoundTripper
	providers *ProviderRegistry
	limiter   RateLimiter
	logger    *zap.Logger
}

// NewSessionFactory creates a factory. base defaults to NewTransport(cfg).
func NewSessionFactory(cfg config.HTTPConfig, base http.RoundTripper, providers *ProviderRegistry, logger *zap.Logger) *SessionFactory {
	if logger == nil {
		logger = zap.NewNop()
	}
	if base == nil {
		base = NewTransport(cfg, logger)
	}
	return &SessionFactory{
		cfg:       cfg,
		base:      base,
		providers: providers,
		limiter:   NewRateLimiter(cfg.RateLimit, cfg.RateBurst),
		logger:    logger.With(zap.String("component", "fetch_session")),
	}
}

// observeLimiter publishes the limiter snapshot. Unlimited factories
// report nothing.
func (f *SessionFactory) observeLimiter() {
	st := f.limiter.Stats()
	if st.Rate <= 0 {
		return
	}
	metrics.ObserveRateLimiter(st.CurrentTokens, st.AllowedRequests, st.BlockedRequests, st.AverageWaitTime)
}

// Open starts a session. Credentials select Basic or Digest authentication;
// without them the session starts anonymous. headers are sent with every
// request.
func (f *SessionFactory) Open(creds *Credentials, headers map[string]string) (*Session, error) {
	base := &headerTransport{
		base:      &instrumentedTransport{base: f.base},
		headers:   headers,
		userAgent: f.cfg.UserAgent,
	}

	s := &Session{
		factory: f,
		base:    base,
		state:   StateAnonymous,
		logger:  f.logger,
	}

	var rt http.RoundTripper = base
	if !creds.IsZero() {
		switch {
		case strings.HasPrefix(creds.Auth, SchemeBasic):
			rt = &basicAuthTransport{base: base, username: creds.Username, password: creds.Password}
			s.state = StateBasicAuth
			s.credentialed = true
		case strings.HasPrefix(creds.Auth, SchemeDigest):
			rt = &digest.Transport{Username: creds.Username, Password: creds.Password, Transport: base}
			s.state = StateDigestAuth
			s.credentialed = true
		default:
			return nil, errors.Newf(errors.ErrorTypeUnsupportedAuthScheme, "unsupported auth scheme %q", creds.Auth).
				WithDetail("scheme", creds.Auth)
		}
	}
	s.client = &http.Client{Transport: rt, Timeout: f.cfg.RequestTimeout}
	return s, nil
}

// Session is one fetch run's HTTP session. It is not safe for concurrent Gets.
type Session struct {
	factory *SessionFactory
	base    http.RoundTripper
	client  *http.Client
	state   SessionState
	oauth   bool
	// credentialed sessions were opened with Basic or Digest credentials
	credentialed bool
	closed       bool
	logger       *zap.Logger
	mu           sync.Mutex
}

// State returns the current state
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Get issues a GET and returns the response only for 2xx statuses. On an
// anonymous session a 401 carrying an OAuth challenge switches the session
// to the provider registered for the URL's hostname and retries once.
func (s *Session) Get(ctx context.Context, rawURL string) (*http.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errors.New(errors.ErrorTypeInvalidOperation, "session is closed")
	}
	if s.state == StateFailed {
		return nil, errors.New(errors.ErrorTypeInvalidOperation, "session has failed")
	}

	resp, err := s.do(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized && !s.oauth && !s.credentialed {
		challenge := resp.Header.Get("WWW-Authenticate")
		discard(resp)
		s.transition(StateChallenged)

		if !isOAuthChallenge(challenge) {
			s.transition(StateFailed)
			return nil, errors.New(errors.ErrorTypeAuthenticationRequired, challenge).
				WithDetail("url", rawURL).
				WithDetail("challenge", challenge)
		}
		if err := s.switchToOAuth(ctx, rawURL); err != nil {
			s.transition(StateFailed)
			return nil, err
		}
		resp, err = s.do(ctx, rawURL)
		if err != nil {
			return nil, err
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		status := resp.StatusCode
		challenge := resp.Header.Get("WWW-Authenticate")
		discard(resp)
		s.transition(StateFailed)

		errType := errors.ErrorTypeConnection
		msg := "unexpected HTTP status " + http.StatusText(status)
		if status == http.StatusUnauthorized {
			errType = errors.ErrorTypeAuthenticationRequired
			msg = challenge
		}
		e := errors.New(errType, msg).
			WithDetail("url", rawURL).
			WithDetail("status", status)
		if challenge != "" {
			e.WithDetail("challenge", challenge)
		}
		return nil, e
	}

	if s.state != StateAuthenticated {
		s.transition(StateAuthenticated)
	}
	return resp, nil
}

// Close releases the session's idle connections. It is safe to call twice.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.client.CloseIdleConnections()
}

func (s *Session) do(ctx context.Context, rawURL string) (*http.Response, error) {
	err := s.factory.limiter.Wait(ctx)
	s.factory.observeLimiter()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "rate limiter wait cancelled")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "invalid URL").WithDetail("url", rawURL)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "GET failed").WithDetail("url", rawURL)
	}
	s.logger.Debug("GET",
		zap.String("url", rawURL),
		zap.Int("status", resp.StatusCode),
		zap.Stringer("state", s.state))
	return resp, nil
}

func (s *Session) switchToOAuth(ctx context.Context, rawURL string) error {
	s.transition(StateOAuthResolving)

	u, err := url.Parse(rawURL)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "invalid URL").WithDetail("url", rawURL)
	}
	provider, ok := s.factory.providers.Lookup(u.Hostname())
	if !ok {
		return errors.Newf(errors.ErrorTypeProviderNotConfigured, "no OAuth provider configured for %s", u.Hostname()).
			WithDetail("hostname", u.Hostname())
	}

	s.client.CloseIdleConnections()
	client, err := provider.Client(ctx, s.base)
	if err != nil {
		return err
	}
	client.Timeout = s.factory.cfg.RequestTimeout
	s.client = client
	s.oauth = true
	s.logger.Info("switched to OAuth session", zap.String("hostname", u.Hostname()))
	return nil
}

func (s *Session) transition(to SessionState) {
	metrics.AuthTransitions.WithLabelValues(s.state.String(), to.String()).Inc()
	s.state = to
}

func isOAuthChallenge(challenge string) bool {
	c := strings.ToLower(strings.TrimSpace(challenge))
	return strings.HasPrefix(c, "oauth") || strings.HasPrefix(c, "bearer")
}

func discard(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
}

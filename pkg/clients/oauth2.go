package clients

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/CaseSolvedUK/rest-migrate/pkg/config"
	"github.com/CaseSolvedUK/rest-migrate/pkg/errors"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// Provider opens OAuth-authorized HTTP clients for one hostname
type Provider interface {
	Hostname() string
	// Client returns a client whose requests carry a bearer token. Token
	// and API requests go through base.
	Client(ctx context.Context, base http.RoundTripper) (*http.Client, error)
}

// ProviderRegistry resolves OAuth providers by hostname
type ProviderRegistry struct {
	providers map[string]Provider
	mu        sync.RWMutex
}

// NewProviderRegistry registers a provider per configured entry
func NewProviderRegistry(cfgs []config.OAuthProvider) *ProviderRegistry {
	r := &ProviderRegistry{providers: make(map[string]Provider)}
	for _, c := range cfgs {
		r.Register(NewOAuth2Provider(c))
	}
	return r
}

// Register adds or replaces the provider for p.Hostname()
func (r *ProviderRegistry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[strings.ToLower(p.Hostname())] = p
}

// Lookup returns the provider for hostname
func (r *ProviderRegistry) Lookup(hostname string) (Provider, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[strings.ToLower(hostname)]
	return p, ok
}

// OAuth2Provider obtains tokens with golang.org/x/oauth2
type OAuth2Provider struct {
	cfg config.OAuthProvider
}

// NewOAuth2Provider creates a provider from configuration
func NewOAuth2Provider(cfg config.OAuthProvider) *OAuth2Provider {
	return &OAuth2Provider{cfg: cfg}
}

// Hostname implements Provider
func (p *OAuth2Provider) Hostname() string {
	return p.cfg.Hostname
}

// Client implements Provider
func (p *OAuth2Provider) Client(ctx context.Context, base http.RoundTripper) (*http.Client, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, &http.Client{Transport: base})

	switch p.cfg.GrantType {
	case "", config.GrantClientCredentials:
		cc := &clientcredentials.Config{
			ClientID:     p.cfg.ClientID,
			ClientSecret: p.cfg.ClientSecret,
			TokenURL:     p.cfg.TokenURL,
			Scopes:       p.cfg.Scopes,
		}
		return cc.Client(ctx), nil
	case config.GrantRefreshToken:
		oc := &oauth2.Config{
			ClientID:     p.cfg.ClientID,
			ClientSecret: p.cfg.ClientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: p.cfg.TokenURL},
			Scopes:       p.cfg.Scopes,
		}
		ts := oc.TokenSource(ctx, &oauth2.Token{RefreshToken: p.cfg.RefreshToken})
		return oauth2.NewClient(ctx, ts), nil
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "unsupported grant type %q", p.cfg.GrantType).
			WithDetail("hostname", p.cfg.Hostname)
	}
}

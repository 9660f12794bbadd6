package provider

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/gregjones/httpcache"
)

// Endpoints are the OAuth endpoints an adapter needs after the initial grant.
type Endpoints struct {
	TokenURL      string
	RevocationURL string // Empty when the provider publishes none.
}

// EndpointSource resolves a provider's endpoints.
type EndpointSource interface {
	Endpoints(ctx context.Context) (Endpoints, error)
}

// StaticEndpoints is an EndpointSource with fixed values.
type StaticEndpoints Endpoints

func (s StaticEndpoints) Endpoints(context.Context) (Endpoints, error) {
	return Endpoints(s), nil
}

// Discovery resolves endpoints from the issuer's OpenID configuration. The
// document is fetched through an in-memory HTTP cache and the result is kept
// after the first success; failures are retried on the next call.
type Discovery struct {
	issuer         string
	expectedIssuer string
	client         *http.Client

	mu       sync.Mutex
	resolved *Endpoints
}

// NewDiscovery creates a Discovery for issuer. expectedIssuer overrides the
// issuer the document must declare; multi-tenant issuers such as
// login.microsoftonline.com/common publish a templated value.
func NewDiscovery(issuer, expectedIssuer string, timeout time.Duration) *Discovery {
	client := httpcache.NewMemoryCacheTransport().Client()
	client.Timeout = timeout

	return &Discovery{
		issuer:         issuer,
		expectedIssuer: expectedIssuer,
		client:         client,
	}
}

func (d *Discovery) Endpoints(ctx context.Context) (Endpoints, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.resolved != nil {
		return *d.resolved, nil
	}

	ctx = oidc.ClientContext(ctx, d.client)
	if d.expectedIssuer != "" {
		ctx = oidc.InsecureIssuerURLContext(ctx, d.expectedIssuer)
	}

	p, err := oidc.NewProvider(ctx, d.issuer)
	if err != nil {
		return Endpoints{}, fmt.Errorf("discover %s: %w", d.issuer, err)
	}

	var extra struct {
		RevocationEndpoint string `json:"revocation_endpoint"`
	}
	if err := p.Claims(&extra); err != nil {
		return Endpoints{}, fmt.Errorf("decode discovery document of %s: %w", d.issuer, err)
	}

	ep := Endpoints{
		TokenURL:      p.Endpoint().TokenURL,
		RevocationURL: extra.RevocationEndpoint,
	}
	d.resolved = &ep
	return ep, nil
}

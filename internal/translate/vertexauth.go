package translate

import (
	"context"
	"fmt"

	"cloud.google.com/go/auth"
	"cloud.google.com/go/auth/credentials"

	"github.com/nulpointcorp/uniproxy/internal/tokencache"
)

// cloudPlatformScope is the OAuth2 scope Vertex AI's generateContent
// endpoint requires.
const cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

// VertexAuth mints and caches OAuth2 bearer tokens for Vertex AI calls. The
// request translator owns this directly (rather than delegating to the
// Gemini SDK's built-in ADC handling). Every token is minted from the one set
// of application-default credentials and cached per cache key; a provider's
// api_key list plays no part in Vertex authentication.
type VertexAuth struct {
	creds *auth.Credentials
	cache *tokencache.Cache
}

// NewVertexAuth detects application-default credentials once at startup and
// wraps them with a TTL cache keyed by the cacheKey passed to Token.
func NewVertexAuth(ctx context.Context, cache *tokencache.Cache) (*VertexAuth, error) {
	creds, err := credentials.DetectDefault(&credentials.DetectOptions{
		Scopes: []string{cloudPlatformScope},
	})
	if err != nil {
		return nil, fmt.Errorf("translate: detecting vertex credentials: %w", err)
	}
	return &VertexAuth{creds: creds, cache: cache}, nil
}

// Token returns a valid bearer token for cacheKey (typically the provider
// name), minting and caching a new one if none is cached or the cached one
// has expired.
func (v *VertexAuth) Token(ctx context.Context, cacheKey string) (string, error) {
	if v == nil {
		return "", fmt.Errorf("translate: no vertex credentials configured")
	}
	if tok, ok := v.cache.Get(cacheKey); ok {
		return tok, nil
	}
	tok, err := v.creds.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("translate: minting vertex token: %w", err)
	}
	v.cache.Set(cacheKey, tok.Value, tok.Expiry)
	return tok.Value, nil
}

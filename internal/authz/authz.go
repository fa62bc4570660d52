// Package authz implements caller authentication and admin-role checks
// (Component I).
package authz

import (
	"crypto/subtle"
	"strings"

	"github.com/nulpointcorp/uniproxy/internal/config"
	"github.com/valyala/fasthttp"
)

// ErrMissing indicates no bearer token was presented.
type ErrMissing struct{}

func (ErrMissing) Error() string { return "missing bearer token" }

// ErrInvalid indicates the presented token matches no configured caller.
type ErrInvalid struct{}

func (ErrInvalid) Error() string { return "invalid bearer token" }

// ErrForbidden indicates the caller is authenticated but lacks the role
// required for the operation (e.g. a non-admin hitting /stats).
type ErrForbidden struct{}

func (ErrForbidden) Error() string { return "insufficient permissions" }

// Authenticator verifies bearer tokens against the configured api_keys list.
type Authenticator struct {
	cfg *config.Config
}

// New builds an Authenticator over cfg's api_keys list.
func New(cfg *config.Config) *Authenticator {
	return &Authenticator{cfg: cfg}
}

// Token extracts the bearer token from an Authorization header, stripping
// the "Bearer " prefix if present.
func Token(ctx *fasthttp.RequestCtx) string {
	auth := string(ctx.Request.Header.Peek("Authorization"))
	if auth == "" {
		return ""
	}
	const prefix = "Bearer "
	if strings.HasPrefix(auth, prefix) {
		return strings.TrimSpace(auth[len(prefix):])
	}
	return strings.TrimSpace(auth)
}

// Verify checks that token matches a configured caller using a
// constant-time comparison, returning that caller's record.
func (a *Authenticator) Verify(token string) (config.ApiKeyRecord, error) {
	if token == "" {
		return config.ApiKeyRecord{}, ErrMissing{}
	}

	for _, rec := range a.cfg.APIKeys {
		if subtle.ConstantTimeCompare([]byte(rec.API), []byte(token)) == 1 {
			return rec, nil
		}
	}
	return config.ApiKeyRecord{}, ErrInvalid{}
}

// VerifyAdmin checks token matches a configured caller with the admin role.
func (a *Authenticator) VerifyAdmin(token string) (config.ApiKeyRecord, error) {
	rec, err := a.Verify(token)
	if err != nil {
		return config.ApiKeyRecord{}, err
	}
	if !rec.IsAdmin() {
		return config.ApiKeyRecord{}, ErrForbidden{}
	}
	return rec, nil
}

// Package auth implements the gateway's authn/authz boundary (§4.7):
// bearer-token JWT verification against a cached JWKS, and a
// constant-time agent shared-key check. Both paths produce an Identity
// that handlers read out of the request context, injected ahead of the
// handler the way dskit/user.InjectOrgID injects an org ID.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Identity is the verified caller identity injected into the request
// context by the token middleware (§4.7: "the verified claims produce
// {sub, client_id?, organization_id?, scopes, audience}").
type Identity struct {
	Subject        string
	ClientID       string
	OrganizationID string
	Scopes         []string
	Audience       []string
}

type contextKey int

const identityKey contextKey = iota

// WithIdentity returns a copy of ctx carrying identity.
func WithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

// IdentityFromContext recovers the Identity injected by the token
// middleware. ok is false if no identity was ever injected.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(identityKey).(Identity)
	return identity, ok
}

// Error is a classified authn/authz failure; Status is the HTTP status
// the API layer should answer with (§7: authorization failures are 401).
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string { return e.Message }

func unauthorized(format string, args ...any) *Error {
	return &Error{Status: http.StatusUnauthorized, Message: fmt.Sprintf(format, args...)}
}

// ExtractBearerToken pulls the token out of an "Authorization: Bearer
// <token>" header value.
func ExtractBearerToken(header string) (string, error) {
	if header == "" {
		return "", unauthorized("authorization header is missing")
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", unauthorized("authorization header must start with %q", prefix)
	}
	return header[len(prefix):], nil
}

// CheckAgentKey compares the bearer token against the gateway's single
// configured agent shared key in constant time (§4.7 "Agent key check").
func CheckAgentKey(token, configured string) error {
	if subtle.ConstantTimeCompare([]byte(token), []byte(configured)) != 1 {
		return unauthorized("agent shared key mismatch")
	}
	return nil
}

// ErrNoJWKSMatch is returned when a token's kid has no corresponding key
// in the cached JWKS.
var ErrNoJWKSMatch = errors.New("auth: unknown key id")

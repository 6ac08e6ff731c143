package auth

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"errors"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// allowedAlgorithms are the only signature algorithms the verifier will
// accept (§4.7: "Supported signature algorithms: RS256/384/512,
// ES256/384").
var allowedAlgorithms = []string{
	jwt.SigningMethodRS256.Name,
	jwt.SigningMethodRS384.Name,
	jwt.SigningMethodRS512.Name,
	jwt.SigningMethodES256.Name,
	jwt.SigningMethodES384.Name,
}

// Verifier validates bearer tokens against a JWKSCache and a configured
// issuer (§4.7 "User token verification").
type Verifier struct {
	jwks   *JWKSCache
	issuer string
}

// NewVerifier builds a Verifier. issuer must equal the token's iss claim.
func NewVerifier(jwks *JWKSCache, issuer string) *Verifier {
	return &Verifier{jwks: jwks, issuer: issuer}
}

// Verify checks token's signature, issuer, and expiry, and returns the
// Identity extracted from its claims. Audience validation is
// deliberately not performed here (§4.7: "Audience validation is
// performed by the caller, not here").
func (v *Verifier) Verify(ctx context.Context, token string) (Identity, error) {
	claims := jwt.MapClaims{}

	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		kid, ok := t.Header["kid"].(string)
		if !ok || kid == "" {
			return nil, unauthorized("token missing kid header")
		}

		key, err := v.jwks.Key(ctx, kid)
		if err != nil {
			return nil, unauthorized("resolving signing key %q: %s", kid, err)
		}
		if err := checkAlgMatchesKey(t.Method.Alg(), key); err != nil {
			return nil, err
		}
		return key, nil
	},
		jwt.WithValidMethods(allowedAlgorithms),
		jwt.WithIssuer(v.issuer),
	)
	if err != nil {
		var authErr *Error
		if errors.As(err, &authErr) {
			return Identity{}, authErr
		}
		return Identity{}, unauthorized("invalid token: %s", err)
	}
	if !parsed.Valid {
		return Identity{}, unauthorized("invalid token")
	}

	return identityFromClaims(claims), nil
}

// checkAlgMatchesKey rejects tokens whose header algorithm is
// inconsistent with the key type found under that kid (e.g. an RS256
// header paired with an EC key), closing the classic alg-confusion hole.
func checkAlgMatchesKey(alg string, key crypto.PublicKey) error {
	switch key.(type) {
	case *rsa.PublicKey:
		if !strings.HasPrefix(alg, "RS") {
			return unauthorized("algorithm %q is not valid for an RSA key", alg)
		}
	case *ecdsa.PublicKey:
		if !strings.HasPrefix(alg, "ES") {
			return unauthorized("algorithm %q is not valid for an EC key", alg)
		}
	default:
		return unauthorized("unsupported key type for algorithm %q", alg)
	}
	return nil
}

func identityFromClaims(claims jwt.MapClaims) Identity {
	identity := Identity{
		Subject:  stringClaim(claims, "sub"),
		ClientID: stringClaim(claims, "client_id"),
	}
	identity.OrganizationID = stringClaim(claims, "organization_id")
	identity.Scopes = splitScope(stringClaim(claims, "scope"))
	identity.Audience = audienceClaim(claims)
	return identity
}

func stringClaim(claims jwt.MapClaims, key string) string {
	v, _ := claims[key].(string)
	return v
}

func splitScope(scope string) []string {
	if scope == "" {
		return nil
	}
	return strings.Fields(scope)
}

func audienceClaim(claims jwt.MapClaims) []string {
	switch v := claims["aud"].(type) {
	case string:
		return []string{v}
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

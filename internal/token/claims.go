// Package token implements the delegated-credential protocol: a
// requester-side issuer that obtains short-lived, scope- and
// audience-restricted tokens, and a worker-side verifier that checks
// them fail-closed before any privileged work.
package token

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DevIssuerPrefix marks tokens signed by the development issuer. The
// prefix is part of the wire contract: a verifier configured for
// production refuses any token carrying it, so a dev credential can
// never be silently mistaken for a provider-issued one.
const DevIssuerPrefix = "dev-rendergate"

// DefaultTTL is the delegated token lifetime when the caller does not
// specify one.
const DefaultTTL = 600 * time.Second

// ActingFor carries the opaque identity of the end user on whose
// behalf the request runs. Audit only; never a platform secret.
type ActingFor struct {
	UserID string `json:"user_id"`
}

// Claims is the delegated token claim set. The wire shape is treated
// as bit-exact by the verifier:
//
//	{iss, sub, aud, exp, iat, nbf, scope, azp, act, jti}
type Claims struct {
	jwt.RegisteredClaims
	Scope           string    `json:"scope"`
	AuthorizedParty string    `json:"azp,omitempty"`
	Act             ActingFor `json:"act,omitempty"`
}

// Scopes splits the space-separated scope claim.
func (c *Claims) Scopes() []string {
	return strings.Fields(c.Scope)
}

// HasScope reports whether the token grants the given capability.
func (c *Claims) HasScope(scope string) bool {
	for _, s := range c.Scopes() {
		if s == scope {
			return true
		}
	}
	return false
}

// VerifiedContext is what a successful verification hands downstream:
// enough to audit the action, never the raw token.
type VerifiedContext struct {
	Subject   string
	Issuer    string
	TokenID   string
	Scopes    []string
	ActingFor string
	ExpiresAt time.Time
}

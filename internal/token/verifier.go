package token

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"rendergate/internal/pkg/errors"
	"rendergate/internal/pkg/logger"
)

// Verification failure reasons, in check order. Each maps to exactly
// one failed step; any failure aborts the whole request.
const (
	ReasonMalformed         = "MalformedToken"
	ReasonInvalidSignature  = "InvalidSignature"
	ReasonExpired           = "Expired"
	ReasonNotYetValid       = "NotYetValid"
	ReasonAudienceMismatch  = "AudienceMismatch"
	ReasonInsufficientScope = "InsufficientScope"
)

// VerifierConfig configures a worker-side verifier. Everything is
// explicit at construction so verification is testable against fake
// providers; there is no ambient state.
type VerifierConfig struct {
	// Audience is this worker's identity. Tokens addressed to anyone
	// else are rejected.
	Audience string
	// RequiredScopes must all be present in the token's scope set.
	RequiredScopes []string
	// JWKSURL is the provider's published key set endpoint.
	JWKSURL string
	// DevMode permits tokens carrying the DevIssuerPrefix marker,
	// verified against DevSecret. Never enable in production.
	DevMode   bool
	DevSecret []byte
	// HTTPClient overrides the JWKS fetch client in tests.
	HTTPClient *http.Client
	// Clock overrides time.Now in tests.
	Clock func() time.Time
}

// Verifier validates delegated tokens fail-closed. Aside from the
// cached key set it is stateless; every call is independent.
type Verifier struct {
	cfg  VerifierConfig
	keys *keyCache
	log  *logger.Logger
}

func NewVerifier(cfg VerifierConfig, log *logger.Logger) *Verifier {
	if log == nil {
		log = logger.NewDefault()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Verifier{
		cfg:  cfg,
		keys: newKeyCache(cfg.JWKSURL, cfg.HTTPClient),
		log:  log.WithComponent("verifier"),
	}
}

// Verify runs the full check sequence over one token: parse,
// signature, temporal window, audience, scopes. On success it returns
// the acting-for context for downstream audit logging.
func (v *Verifier) Verify(ctx context.Context, raw string) (*VerifiedContext, error) {
	claims := &Claims{}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{"RS256", "HS256"}),
		// Temporal and audience checks run explicitly below so each
		// failure reports its own reason.
		jwt.WithoutClaimsValidation(),
	)

	tok, err := parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return v.signingKey(ctx, t, claims)
	})
	if err != nil {
		reason := ReasonInvalidSignature
		if errors.Is(err, jwt.ErrTokenMalformed) {
			reason = ReasonMalformed
		}
		return nil, v.reject(claims, reason, err)
	}
	if !tok.Valid {
		return nil, v.reject(claims, ReasonInvalidSignature, nil)
	}

	now := v.cfg.Clock().UTC()
	if claims.ExpiresAt == nil {
		return nil, v.reject(claims, ReasonMalformed, nil)
	}
	if now.After(claims.ExpiresAt.Time) {
		return nil, v.reject(claims, ReasonExpired, nil)
	}
	if claims.NotBefore != nil && now.Before(claims.NotBefore.Time) {
		return nil, v.reject(claims, ReasonNotYetValid, nil)
	}

	if !audienceMatches(claims.Audience, v.cfg.Audience) {
		return nil, v.reject(claims, ReasonAudienceMismatch, nil)
	}

	for _, required := range v.cfg.RequiredScopes {
		if !claims.HasScope(required) {
			return nil, v.reject(claims, ReasonInsufficientScope, nil)
		}
	}

	v.log.Info("delegated token verified",
		"jti", claims.ID,
		"sub", claims.Subject,
		"acting_for", claims.Act.UserID,
	)

	return &VerifiedContext{
		Subject:   claims.Subject,
		Issuer:    claims.Issuer,
		TokenID:   claims.ID,
		Scopes:    claims.Scopes(),
		ActingFor: claims.Act.UserID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// signingKey resolves the verification key for a parsed-but-unverified
// token. Development tokens are only honored when the verifier itself
// was built in dev mode; everything else must be provider-signed RS256.
func (v *Verifier) signingKey(ctx context.Context, t *jwt.Token, claims *Claims) (any, error) {
	if strings.HasPrefix(claims.Issuer, DevIssuerPrefix) {
		if !v.cfg.DevMode {
			return nil, errors.New(errors.CodeCredential, "development-issued token refused in production mode")
		}
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New(errors.CodeCredential, "development token must use HS256")
		}
		return v.cfg.DevSecret, nil
	}

	if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
		return nil, errors.New(errors.CodeCredential, "provider token must use RS256")
	}
	kid, _ := t.Header["kid"].(string)
	if kid == "" {
		return nil, errors.New(errors.CodeCredential, "token missing key id")
	}
	return v.keys.Key(ctx, kid)
}

func (v *Verifier) reject(claims *Claims, reason string, cause error) error {
	fields := []any{
		"reason", reason,
		"jti", claims.ID,
		"aud", strings.Join(claims.Audience, ","),
	}
	if cause != nil {
		fields = append(fields, "error", cause.Error())
	}
	v.log.Warn("token rejected", fields...)

	err := errors.Credential(reason).WithField("jti", claims.ID)
	if cause != nil {
		err.Err = cause
	}
	return err
}

// RejectionReason extracts the verification reason from an error
// returned by Verify.
func RejectionReason(err error) string {
	fields := errors.GetFields(err)
	if fields == nil {
		return ""
	}
	reason, _ := fields["reason"].(string)
	return reason
}

func audienceMatches(aud jwt.ClaimStrings, expected string) bool {
	if len(aud) != 1 {
		// The claims invariant is a single worker audience; multi-
		// audience tokens are ambiguous and rejected.
		return false
	}
	return aud[0] == expected
}

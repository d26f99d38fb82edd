package token

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"rendergate/internal/pkg/errors"
	"rendergate/internal/pkg/logger"
)

// IssueRequest describes one delegated credential to mint.
type IssueRequest struct {
	// Audience is the identity of the single worker allowed to accept
	// the token.
	Audience string
	// Scopes are the capabilities granted, e.g. video.create.
	Scopes []string
	// ActingFor is the opaque end-user identity carried for audit.
	ActingFor string
	// TTL defaults to DefaultTTL when zero.
	TTL time.Duration
}

// Issuer mints delegated tokens. The two implementations are selected
// once at startup by an explicit mode flag; a production deployment
// never falls back to development signing at request time.
type Issuer interface {
	Issue(ctx context.Context, req IssueRequest) (string, error)
}

// ProviderIssuerConfig configures the production issuer. The client
// credential is the long-lived management secret; it authenticates the
// token request and never leaves this process.
type ProviderIssuerConfig struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	HTTPClient   *http.Client
}

// ProviderIssuer requests signed tokens from the identity provider's
// token endpoint with a client-credentials grant. Provider failure is
// fatal to the request: there is no fallback path in this type.
type ProviderIssuer struct {
	cfg ProviderIssuerConfig
	log *logger.Logger
}

func NewProviderIssuer(cfg ProviderIssuerConfig, log *logger.Logger) *ProviderIssuer {
	if log == nil {
		log = logger.NewDefault()
	}
	return &ProviderIssuer{cfg: cfg, log: log.WithComponent("issuer")}
}

func (p *ProviderIssuer) Issue(ctx context.Context, req IssueRequest) (string, error) {
	ttl := req.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if req.Audience == "" {
		return "", errors.New(errors.CodeCredential, "audience is required")
	}
	if len(req.Scopes) == 0 {
		return "", errors.New(errors.CodeCredential, "scope set must be non-empty")
	}

	cc := clientcredentials.Config{
		ClientID:     p.cfg.ClientID,
		ClientSecret: p.cfg.ClientSecret,
		TokenURL:     p.cfg.TokenURL,
		Scopes:       req.Scopes,
		EndpointParams: url.Values{
			"audience":     {req.Audience},
			"acting_party": {req.ActingFor},
			"expires_in":   {strconv.Itoa(int(ttl.Seconds()))},
		},
	}

	if p.cfg.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, p.cfg.HTTPClient)
	}

	tok, err := cc.Token(ctx)
	if err != nil {
		p.log.Error("identity provider token request failed",
			"token_url", p.cfg.TokenURL,
			"audience", req.Audience,
			"error", err.Error(),
		)
		return "", errors.WrapWithCode(err, errors.CodeCredential, "token.issue",
			"identity provider token request failed")
	}

	p.log.Info("delegated token issued",
		"audience", req.Audience,
		"scopes", strings.Join(req.Scopes, " "),
		"ttl_s", int(ttl.Seconds()),
	)
	return tok.AccessToken, nil
}

// DevIssuerConfig configures the development issuer.
type DevIssuerConfig struct {
	// Secret is the shared development HMAC secret.
	Secret []byte
	// Subject identifies the issuing agent.
	Subject string
	// Clock overrides time.Now in tests.
	Clock func() time.Time
}

// DevIssuer signs tokens locally with a shared development secret.
// Every token it produces carries the DevIssuerPrefix issuer marker and
// every issuance logs a warning; this type must never be constructed in
// a production deployment.
type DevIssuer struct {
	cfg DevIssuerConfig
	log *logger.Logger
}

func NewDevIssuer(cfg DevIssuerConfig, log *logger.Logger) *DevIssuer {
	if log == nil {
		log = logger.NewDefault()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &DevIssuer{cfg: cfg, log: log.WithComponent("issuer")}
}

func (d *DevIssuer) Issue(ctx context.Context, req IssueRequest) (string, error) {
	ttl := req.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if req.Audience == "" {
		return "", errors.New(errors.CodeCredential, "audience is required")
	}
	if len(req.Scopes) == 0 {
		return "", errors.New(errors.CodeCredential, "scope set must be non-empty")
	}

	now := d.cfg.Clock().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    DevIssuerPrefix,
			Subject:   d.cfg.Subject,
			Audience:  jwt.ClaimStrings{req.Audience},
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
		Scope:           strings.Join(req.Scopes, " "),
		AuthorizedParty: d.cfg.Subject,
		Act:             ActingFor{UserID: req.ActingFor},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(d.cfg.Secret)
	if err != nil {
		return "", errors.WrapWithCode(err, errors.CodeCredential, "token.issue", "dev signing failed")
	}

	d.log.Warn("DEVELOPMENT token issued with shared secret; not valid for production",
		"issuer", DevIssuerPrefix,
		"audience", req.Audience,
		"jti", claims.ID,
	)
	return signed, nil
}

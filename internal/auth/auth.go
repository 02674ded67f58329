// Package auth validates callers and resolves them to an owner.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
)

// ErrUnauthorized indicates missing or invalid caller credentials.
var ErrUnauthorized = errors.New("unauthorized")

// Owner is the authenticated caller that owns records and images.
type Owner struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

// Identity is the raw credential presented with a request.
type Identity struct {
	Token   string
	Subject string
}

// Validator resolves an Identity to an Owner.
type Validator interface {
	ValidateCaller(ctx context.Context, identity Identity) (*Owner, error)
	// Identity extracts the credential this validator understands from r.
	Identity(r *http.Request) Identity
}

// New creates the validator selected by cfg.Mode. OIDC mode performs
// provider discovery unless a JWKS URL is configured.
func New(ctx context.Context, cfg *Config, logger *slog.Logger) (Validator, error) {
	logger = logger.With("system", "auth")

	switch cfg.Mode {
	case ModeHeader:
		logger.Warn("trusting caller header", "header", cfg.Header)
		return NewHeaderValidator(cfg.Header), nil
	case ModeOIDC:
		verifier, err := newVerifier(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return NewOIDCValidator(verifier, logger), nil
	default:
		return nil, fmt.Errorf("unknown auth mode %q", cfg.Mode)
	}
}

func newVerifier(ctx context.Context, cfg *Config) (*oidc.IDTokenVerifier, error) {
	oc := &oidc.Config{ClientID: cfg.ClientID}

	if cfg.JWKSURL != "" {
		keys := oidc.NewRemoteKeySet(ctx, cfg.JWKSURL)
		return oidc.NewVerifier(cfg.Issuer, keys, oc), nil
	}

	provider, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("discover oidc provider %s: %w", cfg.Issuer, err)
	}
	return provider.Verifier(oc), nil
}

// Caller validates the credential carried by r.
func Caller(v Validator, r *http.Request) (*Owner, error) {
	return v.ValidateCaller(r.Context(), v.Identity(r))
}

// BearerToken returns the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// MapHTTPStatus maps auth errors to HTTP status codes.
func MapHTTPStatus(err error) int {
	if errors.Is(err, ErrUnauthorized) {
		return http.StatusUnauthorized
	}
	return http.StatusInternalServerError
}

type oidcValidator struct {
	verifier *oidc.IDTokenVerifier
	logger   *slog.Logger
}

// NewOIDCValidator validates bearer ID tokens with verifier.
func NewOIDCValidator(verifier *oidc.IDTokenVerifier, logger *slog.Logger) Validator {
	return &oidcValidator{verifier: verifier, logger: logger}
}

type claims struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

func (v *oidcValidator) Identity(r *http.Request) Identity {
	return Identity{Token: BearerToken(r)}
}

func (v *oidcValidator) ValidateCaller(ctx context.Context, identity Identity) (*Owner, error) {
	if identity.Token == "" {
		return nil, ErrUnauthorized
	}

	token, err := v.verifier.Verify(ctx, identity.Token)
	if err != nil {
		v.logger.DebugContext(ctx, "token verification failed", "error", err)
		return nil, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}

	var c claims
	if err := token.Claims(&c); err != nil {
		return nil, fmt.Errorf("%w: decode claims: %w", ErrUnauthorized, err)
	}

	if token.Subject == "" {
		return nil, fmt.Errorf("%w: token has no subject", ErrUnauthorized)
	}

	return &Owner{
		ID:    token.Subject,
		Email: c.Email,
		Name:  c.Name,
	}, nil
}

type headerValidator struct {
	header string
}

// NewHeaderValidator trusts the owner id carried in header.
func NewHeaderValidator(header string) Validator {
	return &headerValidator{header: header}
}

func (v *headerValidator) Identity(r *http.Request) Identity {
	return Identity{Subject: strings.TrimSpace(r.Header.Get(v.header))}
}

func (v *headerValidator) ValidateCaller(ctx context.Context, identity Identity) (*Owner, error) {
	if identity.Subject == "" || strings.ContainsAny(identity.Subject, "/\\") || strings.Contains(identity.Subject, "..") {
		return nil, ErrUnauthorized
	}
	return &Owner{ID: identity.Subject}, nil
}

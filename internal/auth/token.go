// Package auth verifies the bearer tokens presented to the HTTP API.
//
// Tokens are HS256 JWTs issued by the identity provider. The subject claim
// carries the user ID and the optional "adm" claim marks operators.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/example/room-scheduler/internal/application"
)

// ErrMissingSecret is returned when no signing secret is configured.
var ErrMissingSecret = errors.New("auth: signing secret is required")

// Claims is the token payload.
type Claims struct {
	IsAdmin bool `json:"adm,omitempty"`
	jwt.RegisteredClaims
}

// Option configures a TokenValidator.
type Option func(*TokenValidator)

// WithIssuer requires the iss claim to equal issuer.
func WithIssuer(issuer string) Option {
	return func(v *TokenValidator) { v.issuer = issuer }
}

// WithClock overrides the time source used for exp and nbf checks.
func WithClock(now func() time.Time) Option {
	return func(v *TokenValidator) {
		if now != nil {
			v.now = now
		}
	}
}

// WithLeeway tolerates clock skew between issuer and server.
func WithLeeway(leeway time.Duration) Option {
	return func(v *TokenValidator) { v.leeway = leeway }
}

// TokenValidator turns a signed token into the calling principal.
type TokenValidator struct {
	secret []byte
	issuer string
	leeway time.Duration
	now    func() time.Time
}

// NewTokenValidator returns a validator for tokens signed with secret.
func NewTokenValidator(secret string, opts ...Option) (*TokenValidator, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrMissingSecret
	}
	v := &TokenValidator{secret: []byte(secret), now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// ValidateSession verifies token and returns its principal. Every rejection
// wraps application.ErrUnauthorized.
func (v *TokenValidator) ValidateSession(ctx context.Context, token string) (application.Principal, error) {
	if v == nil {
		return application.Principal{}, fmt.Errorf("TokenValidator is nil")
	}
	if err := ctx.Err(); err != nil {
		return application.Principal{}, err
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
		jwt.WithLeeway(v.leeway),
	}
	if v.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(v.issuer))
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(strings.TrimSpace(token), claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, parserOpts...)
	if err != nil {
		return application.Principal{}, fmt.Errorf("%w: %v", application.ErrUnauthorized, err)
	}
	if !parsed.Valid {
		return application.Principal{}, fmt.Errorf("%w: token is not valid", application.ErrUnauthorized)
	}

	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return application.Principal{}, fmt.Errorf("%w: token has no subject", application.ErrUnauthorized)
	}
	return application.Principal{UserID: subject, IsAdmin: claims.IsAdmin}, nil
}

// IssueParams describes a token to sign.
type IssueParams struct {
	UserID   string
	IsAdmin  bool
	Issuer   string
	IssuedAt time.Time
	TTL      time.Duration
}

// IssueToken signs an HS256 token. It exists for development tooling and
// tests; production tokens come from the identity provider.
func IssueToken(secret string, params IssueParams) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", ErrMissingSecret
	}
	if strings.TrimSpace(params.UserID) == "" {
		return "", errors.New("auth: user id is required")
	}
	issuedAt := params.IssuedAt
	if issuedAt.IsZero() {
		issuedAt = time.Now()
	}
	ttl := params.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}

	claims := Claims{
		IsAdmin: params.IsAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   params.UserID,
			Issuer:    params.Issuer,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Package token issues and validates stateless HS256 session tokens.
package token

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

// MinKeyLength is the minimum signing key size in bytes.
const MinKeyLength = 32

var (
	// ErrTokenExpired is returned when the token's expiry has passed.
	ErrTokenExpired = &shared.Error{Kind: shared.ErrAuthentication, Message: "token expired"}
	// ErrTokenMalformed is returned for tokens that cannot be parsed.
	ErrTokenMalformed = &shared.Error{Kind: shared.ErrAuthentication, Message: "token malformed"}
	// ErrTokenSignatureInvalid is returned when the signature does not verify.
	ErrTokenSignatureInvalid = &shared.Error{Kind: shared.ErrAuthentication, Message: "token signature invalid"}
)

// Claims is the payload carried by a session token. Subject holds the
// principal id.
type Claims struct {
	Email       string   `json:"email"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
	IsAdmin     bool     `json:"is_admin"`
	jwt.RegisteredClaims
}

// UserID parses the subject as a principal id.
func (c *Claims) UserID() (uuid.UUID, error) {
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return uuid.Nil, ErrTokenMalformed
	}
	return id, nil
}

// Subject describes the principal a token is issued for.
type Subject struct {
	UserID      uuid.UUID
	Email       string
	Roles       []string
	Permissions []string
	IsAdmin     bool
}

// Service signs and verifies tokens with a single symmetric key.
type Service struct {
	key    []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// Option customises a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIssuer sets the iss claim.
func WithIssuer(issuer string) Option {
	return func(s *Service) { s.issuer = issuer }
}

// NewService builds a Service. ttl is the default lifetime used by Issue when
// no explicit ttl is given.
func NewService(key []byte, ttl time.Duration, opts ...Option) (*Service, error) {
	if len(key) < MinKeyLength {
		return nil, fmt.Errorf("token: signing key must be at least %d bytes", MinKeyLength)
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	s := &Service{key: slices.Clone(key), ttl: ttl, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// TTL returns the default token lifetime.
func (s *Service) TTL() time.Duration { return s.ttl }

// Issue signs a token for subject. A non-positive ttl uses the default.
func (s *Service) Issue(subject Subject, ttl time.Duration) (string, *Claims, error) {
	if subject.UserID == uuid.Nil {
		return "", nil, shared.Errorf(shared.ErrValidation, "token subject required")
	}
	if ttl <= 0 {
		ttl = s.ttl
	}
	// Claims carry whole seconds, so exp is exactly iat + ttl.
	now := s.now().UTC().Truncate(time.Second)
	claims := &Claims{
		Email:       subject.Email,
		Roles:       dedupe(subject.Roles),
		Permissions: dedupe(subject.Permissions),
		IsAdmin:     subject.IsAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject.UserID.String(),
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", nil, fmt.Errorf("token: sign: %w", err)
	}
	return signed, claims, nil
}

// expiryLeeway lets the parser accept a token until exp itself. Expiry is
// then decided in Validate with a strict now > exp comparison.
const expiryLeeway = time.Second

// Validate verifies the signature and expiry of raw and returns its claims.
// A token is valid up to and including its exp instant.
func (s *Service) Validate(raw string) (*Claims, error) {
	if raw == "" {
		return nil, ErrTokenMalformed
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(expiryLeeway),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return s.key, nil
	}, opts...)
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return nil, ErrTokenSignatureInvalid
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrTokenExpired
	default:
		return nil, ErrTokenMalformed
	}
	if s.now().After(claims.ExpiresAt.Time) {
		return nil, ErrTokenExpired
	}
	if _, err := claims.UserID(); err != nil {
		return nil, err
	}
	return claims, nil
}

func dedupe(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok || v == "" {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	slices.Sort(out)
	return out
}

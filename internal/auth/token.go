package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"retail-backend/internal/models"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTokenTTL is how long an issued session token stays valid.
const DefaultTokenTTL = 2 * time.Hour

var signingMethod = jwt.SigningMethodHS256

var ErrMissingSecret = errors.New("token signing secret is empty")

type TokenErrorKind int

const (
	TokenMalformed TokenErrorKind = iota + 1 // malformed, bad signature, wrong alg/iss/aud
	TokenExpired
	TokenNotYetValid
)

func (k TokenErrorKind) String() string {
	switch k {
	case TokenMalformed:
		return "malformed"
	case TokenExpired:
		return "expired"
	case TokenNotYetValid:
		return "not_yet_valid"
	default:
		return "unknown"
	}
}

// TokenError is the tagged outcome of a failed verification.
type TokenError struct {
	Kind TokenErrorKind
	Err  error
}

func (e *TokenError) Error() string {
	return fmt.Sprintf("token %s: %v", e.Kind, e.Err)
}

func (e *TokenError) Unwrap() error { return e.Err }

// Claims is the session snapshot carried by a token. It does not track
// privilege or branch changes made after issuance.
type Claims struct {
	Role models.Role `json:"role"`
	jwt.RegisteredClaims
}

// UserID parses the subject claim.
func (c *Claims) UserID() (uint, error) {
	id, err := strconv.ParseUint(c.Subject, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid subject %q", c.Subject)
	}
	return uint(id), nil
}

type TokenService struct {
	secret   []byte
	issuer   string
	audience string
	ttl      time.Duration
	now      func() time.Time
}

type TokenOption func(*TokenService)

// WithClock overrides the time source, used by tests.
func WithClock(now func() time.Time) TokenOption {
	return func(s *TokenService) { s.now = now }
}

func WithTTL(ttl time.Duration) TokenOption {
	return func(s *TokenService) { s.ttl = ttl }
}

func NewTokenService(secret, issuer, audience string, opts ...TokenOption) (*TokenService, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	s := &TokenService{
		secret:   []byte(secret),
		issuer:   issuer,
		audience: audience,
		ttl:      DefaultTokenTTL,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Issue signs a token for the given user and role.
func (s *TokenService) Issue(userID uint, role models.Role) (string, error) {
	now := s.now()
	claims := &Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(uint64(userID), 10),
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings{s.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	token := jwt.NewWithClaims(signingMethod, claims)
	return token.SignedString(s.secret)
}

// Verify checks signature, algorithm, issuer, audience and time claims.
// Every failure is a *TokenError.
func (s *TokenService) Verify(tokenStr string) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)

	claims := &Claims{}
	_, err := parser.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	})
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, &TokenError{Kind: TokenExpired, Err: err}
	case errors.Is(err, jwt.ErrTokenNotValidYet):
		return nil, &TokenError{Kind: TokenNotYetValid, Err: err}
	default:
		return nil, &TokenError{Kind: TokenMalformed, Err: err}
	}

	if _, err := claims.UserID(); err != nil {
		return nil, &TokenError{Kind: TokenMalformed, Err: err}
	}
	if !claims.Role.Valid() {
		return nil, &TokenError{Kind: TokenMalformed, Err: fmt.Errorf("unknown role %q", claims.Role)}
	}
	return claims, nil
}

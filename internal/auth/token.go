package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenSource mints short-lived system tokens for service-to-service calls
// and verifies inbound admin tokens signed with the same shared key.
type TokenSource struct {
	key      []byte
	method   jwt.SigningMethod
	lifetime time.Duration
	userID   string

	now func() time.Time
}

func NewTokenSource(key, algorithm string, lifetime time.Duration, systemUserID string) (*TokenSource, error) {
	method := jwt.GetSigningMethod(algorithm)
	if method == nil {
		return nil, fmt.Errorf("unknown signing algorithm %q", algorithm)
	}
	return &TokenSource{
		key:      []byte(key),
		method:   method,
		lifetime: lifetime,
		userID:   systemUserID,
		now:      time.Now,
	}, nil
}

// Token returns a fresh system token. A new one is minted per call so the
// expiry is always a full lifetime away.
func (t *TokenSource) Token() (string, error) {
	claims := jwt.MapClaims{
		"exp":     t.now().Add(t.lifetime).Unix(),
		"user_id": t.userID,
		"groups":  []string{"system"},
	}
	token, err := jwt.NewWithClaims(t.method, claims).SignedString(t.key)
	if err != nil {
		return "", fmt.Errorf("sign system token: %w", err)
	}
	return token, nil
}

// Groups verifies the token signature and expiry and returns its groups
// claim.
func (t *TokenSource) Groups(tokenString string) ([]string, error) {
	parsed, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if token.Method.Alg() != t.method.Alg() {
			return nil, fmt.Errorf("unexpected signing method %q", token.Method.Alg())
		}
		return t.key, nil
	}, jwt.WithTimeFunc(func() time.Time { return t.now() }))
	if err != nil {
		return nil, err
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("unexpected claims type %T", parsed.Claims)
	}
	raw, _ := claims["groups"].([]any)
	groups := make([]string, 0, len(raw))
	for _, g := range raw {
		if s, ok := g.(string); ok {
			groups = append(groups, s)
		}
	}
	return groups, nil
}

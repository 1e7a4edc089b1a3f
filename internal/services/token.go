package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/markdave123-py/SupraChat/internal/models"
)

// TokenIssuer signs and verifies the gateway's HS256 access tokens.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

type accessClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue creates a session for user.
func (t *TokenIssuer) Issue(user models.SessionUser) (*models.Session, error) {
	now := t.now()
	expires := now.Add(t.ttl)
	claims := accessClaims{
		Email: user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}
	return &models.Session{AccessToken: signed, ExpiresAt: expires.UTC().Truncate(time.Second), User: user}, nil
}

// Parse verifies a token and returns the identity it carries.
func (t *TokenIssuer) Parse(token string) (models.SessionUser, error) {
	var claims accessClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(tok *jwt.Token) (interface{}, error) {
		return t.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(t.now))
	if err != nil {
		return models.SessionUser{}, err
	}
	if !parsed.Valid || claims.Subject == "" {
		return models.SessionUser{}, errors.New("invalid token claims")
	}
	return models.SessionUser{ID: claims.Subject, Email: claims.Email}, nil
}

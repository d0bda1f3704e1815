package manager

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/elskow/idstore/internal/identity"
)

// tokenProviderName keys rows written by the built-in one-off token
// provider in the token capability.
const tokenProviderName = "idstore"

type userTokenClaims struct {
	Purpose string `json:"purpose"`
	jwt.RegisteredClaims
}

// GenerateUserToken issues a one-off token for the given purpose (e.g.
// "email_confirmation") and persists it through the token capability so it
// can later be matched and consumed.
func (m *Manager[K]) GenerateUserToken(ctx context.Context, user *identity.User[K], purpose string) (string, error) {
	ts, err := m.userTokens()
	if err != nil {
		return "", err
	}

	now := time.Now()
	claims := &userTokenClaims{
		Purpose: purpose,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   fmt.Sprint(user.ID),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.cfg.Tokens.TTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(m.cfg.Tokens.Secret))
	if err != nil {
		return "", err
	}

	if err := ts.SetToken(ctx, user, tokenProviderName, purpose, signed); err != nil {
		return "", err
	}
	return signed, nil
}

// VerifyUserToken checks signature, expiry, purpose and that the token is
// the one currently stored for the user.
func (m *Manager[K]) VerifyUserToken(ctx context.Context, user *identity.User[K], purpose, token string) (bool, error) {
	claims := &userTokenClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(m.cfg.Tokens.Secret), nil
	})
	if err != nil || !parsed.Valid {
		return false, nil
	}
	if claims.Purpose != purpose || claims.Subject != fmt.Sprint(user.ID) {
		return false, nil
	}

	ts, err := m.userTokens()
	if err != nil {
		return false, err
	}
	stored, err := ts.GetToken(ctx, user, tokenProviderName, purpose)
	if err != nil {
		return false, err
	}
	return stored != nil && stored.Value == token, nil
}

// ConsumeUserToken verifies and then removes the token so it cannot be
// replayed.
func (m *Manager[K]) ConsumeUserToken(ctx context.Context, user *identity.User[K], purpose, token string) (bool, error) {
	ok, err := m.VerifyUserToken(ctx, user, purpose, token)
	if err != nil || !ok {
		return false, err
	}

	ts, err := m.userTokens()
	if err != nil {
		return false, err
	}
	if err := ts.RemoveToken(ctx, user, tokenProviderName, purpose); err != nil {
		return false, err
	}
	return true, nil
}

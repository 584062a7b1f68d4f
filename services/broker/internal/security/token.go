package security

import (
	"errors"
	"time"

	"github.com/AfshinJalili/brokerage/libs/auth"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// NewAccessToken signs an HS256 token that auth.Middleware accepts.
func NewAccessToken(customerID uuid.UUID, roles []string, secret []byte, issuer string, ttl time.Duration, now time.Time) (string, time.Time, error) {
	if len(secret) == 0 {
		return "", time.Time{}, errors.New("jwt secret is empty")
	}
	expiresAt := now.Add(ttl)
	claims := auth.Claims{
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   customerID.String(),
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

package testutil

import (
	"time"

	"github.com/AfshinJalili/brokerage/libs/auth"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	AdminID    = uuid.MustParse("00000000-0000-0000-0000-000000000001")
	CustomerID = uuid.MustParse("00000000-0000-0000-0000-000000000002")
	OtherID    = uuid.MustParse("00000000-0000-0000-0000-000000000003")
)

func GenerateJWT(userID uuid.UUID, roles []string, secret []byte, ttl time.Duration, now time.Time) (string, error) {
	claims := auth.Claims{
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

func Customer(id uuid.UUID) auth.Identity {
	return auth.Identity{CustomerID: id, Roles: []string{auth.RoleCustomer}}
}

func Admin() auth.Identity {
	return auth.Identity{CustomerID: AdminID, Roles: []string{auth.RoleAdmin}}
}

// D parses a decimal literal and panics on bad input.
func D(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

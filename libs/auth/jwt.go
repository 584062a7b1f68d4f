package auth

import (
	"errors"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrInvalidToken = errors.New("invalid token")

const (
	RoleCustomer = "customer"
	RoleAdmin    = "admin"
)

// Claims carries the customer id in Subject.
type Claims struct {
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

func ParseJWT(tokenString string, secret []byte) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, ErrInvalidToken
		}
		return secret, nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func ExtractBearer(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// Identity is the authenticated caller handed to every core operation.
type Identity struct {
	CustomerID uuid.UUID
	Roles      []string
}

func (i Identity) HasRole(role string) bool {
	for _, r := range i.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsAdmin is the privilege flag: admins act on behalf of any customer.
func (i Identity) IsAdmin() bool {
	return i.HasRole(RoleAdmin)
}

// IdentityFromClaims fails when the subject is not a customer id.
func IdentityFromClaims(claims *Claims) (Identity, error) {
	if claims == nil {
		return Identity{}, ErrInvalidToken
	}
	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return Identity{}, ErrInvalidToken
	}
	return Identity{CustomerID: id, Roles: append([]string(nil), claims.Roles...)}, nil
}

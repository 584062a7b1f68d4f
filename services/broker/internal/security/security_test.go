package security

import (
	"errors"
	"testing"
	"time"

	"github.com/AfshinJalili/brokerage/libs/auth"
	"github.com/google/uuid"
)

func fastParams() Argon2Params {
	return Argon2Params{Memory: 8 * 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
}

func TestPasswordHashVerify(t *testing.T) {
	hash, err := HashPassword("s3cret", fastParams())
	if err != nil {
		t.Fatalf("hash error: %v", err)
	}

	ok, err := VerifyPassword("s3cret", hash)
	if err != nil {
		t.Fatalf("verify error: %v", err)
	}
	if !ok {
		t.Fatalf("expected password to verify")
	}

	ok, err = VerifyPassword("wrong", hash)
	if err != nil {
		t.Fatalf("verify error: %v", err)
	}
	if ok {
		t.Fatalf("expected password to fail")
	}
}

func TestVerifyPasswordRejectsMalformedHash(t *testing.T) {
	for _, encoded := range []string{"", "plain", "$bcrypt$v=19$m=1,t=1,p=1$AAAA$AAAA", "$argon2id$v=1$m=1,t=1,p=1$AAAA$AAAA"} {
		if _, err := VerifyPassword("x", encoded); !errors.Is(err, ErrMalformedHash) {
			t.Fatalf("expected ErrMalformedHash for %q, got %v", encoded, err)
		}
	}
}

func TestNewAccessTokenRoundTrip(t *testing.T) {
	secret := []byte("test-secret")
	id := uuid.New()
	now := time.Now()

	token, expiresAt, err := NewAccessToken(id, []string{auth.RoleAdmin}, secret, "broker", time.Hour, now)
	if err != nil {
		t.Fatalf("sign error: %v", err)
	}
	if !expiresAt.Equal(now.Add(time.Hour)) {
		t.Fatalf("unexpected expiry %s", expiresAt)
	}

	claims, err := auth.ParseJWT(token, secret)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	identity, err := auth.IdentityFromClaims(claims)
	if err != nil {
		t.Fatalf("identity error: %v", err)
	}
	if identity.CustomerID != id || !identity.IsAdmin() {
		t.Fatalf("unexpected identity %+v", identity)
	}
	if claims.Issuer != "broker" {
		t.Fatalf("unexpected issuer %q", claims.Issuer)
	}

	if _, err := auth.ParseJWT(token, []byte("other")); err == nil {
		t.Fatalf("expected foreign secret to fail")
	}
}

func TestNewAccessTokenRequiresSecret(t *testing.T) {
	if _, _, err := NewAccessToken(uuid.New(), nil, nil, "", time.Minute, time.Now()); err == nil {
		t.Fatalf("expected empty secret to fail")
	}
}

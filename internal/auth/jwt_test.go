package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

func TestGenerateAndParse_Success(t *testing.T) {
	t.Parallel()

	secret := []byte("super-secret")

	tok, expires, err := GenerateToken("dev-A", "field-worker", secret, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken error: %v", err)
	}
	if time.Until(expires) <= 59*time.Minute {
		t.Fatalf("unexpected expiry %v", expires)
	}

	claims, err := ParseToken(tok, secret)
	if err != nil {
		t.Fatalf("ParseToken error: %v", err)
	}
	if claims.DeviceID() != "dev-A" {
		t.Fatalf("device mismatch: got %q want %q", claims.DeviceID(), "dev-A")
	}
	if claims.Role != "field-worker" {
		t.Fatalf("role mismatch: got %q", claims.Role)
	}
}

func TestParseToken_Expired(t *testing.T) {
	t.Parallel()

	tok, _, err := GenerateToken("dev-A", "field-worker", []byte("secret"), -time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken error: %v", err)
	}

	_, err = ParseToken(tok, []byte("secret"))
	if !errors.Is(err, common.ErrTokenExpired) {
		t.Fatalf("expected common.ErrTokenExpired, got %v", err)
	}
}

func TestParseToken_WrongSecret(t *testing.T) {
	t.Parallel()

	tok, _, err := GenerateToken("dev-A", "field-worker", []byte("right-secret"), time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken error: %v", err)
	}

	_, err = ParseToken(tok, []byte("wrong-secret"))
	if !errors.Is(err, common.ErrInvalidToken) {
		t.Fatalf("expected common.ErrInvalidToken, got %v", err)
	}
}

func TestParseToken_MalformedString(t *testing.T) {
	t.Parallel()

	_, err := ParseToken("not.a.jwt", []byte("k"))
	if !errors.Is(err, common.ErrInvalidToken) {
		t.Fatalf("expected common.ErrInvalidToken, got %v", err)
	}
}

func TestParseToken_RejectsForeignTokens(t *testing.T) {
	t.Parallel()

	secret := []byte("k")
	cases := map[string]jwt.Claims{
		"other issuer": jwt.RegisteredClaims{
			Issuer:    "someone-else",
			Subject:   "dev-A",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		"no subject": jwt.RegisteredClaims{
			Issuer:    issuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		"no expiry": jwt.RegisteredClaims{
			Issuer:  issuer,
			Subject: "dev-A",
		},
	}
	for name, c := range cases {
		tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(secret)
		if err != nil {
			t.Fatalf("%s: sign: %v", name, err)
		}
		if _, err := ParseToken(tok, secret); !errors.Is(err, common.ErrInvalidToken) {
			t.Fatalf("%s: expected common.ErrInvalidToken, got %v", name, err)
		}
	}
}

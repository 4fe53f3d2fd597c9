package api

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

func TestBearerTokenFromStringSuccess(t *testing.T) {
	token, err := bearerTokenFromString("  Bearer header.payload.signature ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(token) != "header.payload.signature" {
		t.Fatalf("unexpected token content: %s", string(token))
	}
}

func TestBearerTokenFromStringMissing(t *testing.T) {
	if _, err := bearerTokenFromString("   "); err == nil || err.Error() != "missing authorization header" {
		t.Fatalf("expected missing header error, got %v", err)
	}
}

func TestBearerTokenFromStringBadShape(t *testing.T) {
	tests := []string{
		"Basic abc.def.ghi",
		"Bearer nodots",
		"Bearer " + strings.Repeat(".", 1000),
		"Bearer a.b",
	}
	for _, raw := range tests {
		if _, err := bearerTokenFromString(raw); err == nil || err.Error() != "bad auth header" {
			t.Fatalf("%q: expected bad auth header error, got %v", raw, err)
		}
	}
}

func TestCounsellorIDFromBearerHS256(t *testing.T) {
	secret := []byte("test-secret")
	claims := jwt.MapClaims{
		"sub": "counsellor-123",
		"aud": "api://aud",
		"iss": "https://issuer/",
		"exp": time.Now().Add(5 * time.Minute).Unix(),
		"nbf": time.Now().Add(-time.Minute).Unix(),
		"iat": time.Now().Add(-time.Minute).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}

	auth := &Auth{
		Audience:    "api://aud",
		Issuer:      "https://issuer/",
		LocalMode:   true,
		LocalSecret: secret,
		parser:      jwt.NewParser(jwt.WithValidMethods([]string{"HS256"})),
	}

	counsellorID, err := auth.CounsellorIDFromBearer([]byte(signed))
	if err != nil {
		t.Fatalf("unexpected error verifying token: %v", err)
	}
	if counsellorID != "counsellor-123" {
		t.Fatalf("unexpected counsellor id: %s", counsellorID)
	}
}

func TestCounsellorIDFromBearerExpired(t *testing.T) {
	secret := []byte("test-secret")
	claims := jwt.MapClaims{
		"sub": "counsellor-123",
		"exp": time.Now().Add(-5 * time.Minute).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}

	auth := &Auth{
		LocalMode:   true,
		LocalSecret: secret,
		parser:      jwt.NewParser(jwt.WithValidMethods([]string{"HS256"})),
	}
	if _, err := auth.CounsellorIDFromBearer([]byte(signed)); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}

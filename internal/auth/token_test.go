package auth

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestIssueAndParseToken(t *testing.T) {
	secret := []byte("test-secret")
	claims := Claims{
		Sub:  "64b2f0c8a1d2e3f4a5b6c7d8",
		Name: "Ada",
		JTI:  "jti-1",
		Exp:  time.Now().Add(time.Hour),
	}

	token, err := IssueToken(secret, claims)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	parsed, err := ParseToken(secret, token)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if parsed.Sub != claims.Sub || parsed.Name != claims.Name || parsed.JTI != claims.JTI {
		t.Fatalf("claims mismatch: got %+v", parsed)
	}
}

func TestParseTokenRejectsWrongSecret(t *testing.T) {
	token, err := IssueToken([]byte("secret-a"), Claims{Sub: "u1", JTI: "j1", Exp: time.Now().Add(time.Hour)})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	if _, err := ParseToken([]byte("secret-b"), token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestParseTokenRejectsExpired(t *testing.T) {
	token, err := IssueToken([]byte("secret"), Claims{Sub: "u1", JTI: "j1", Exp: time.Now().Add(-time.Minute)})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	if _, err := ParseToken([]byte("secret"), token); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestParseTokenRejectsTampered(t *testing.T) {
	token, err := IssueToken([]byte("secret"), Claims{Sub: "u1", JTI: "j1", Exp: time.Now().Add(time.Hour)})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	tampered := strings.Replace(token, token[10:12], "zz", 1)
	if _, err := ParseToken([]byte("secret"), tampered); err == nil {
		t.Fatal("expected tampered token to be rejected")
	}
}

func TestHashTokenIsStable(t *testing.T) {
	if HashToken("abc") != HashToken("abc") {
		t.Fatal("expected identical hashes for identical inputs")
	}
	if HashToken("abc") == HashToken("abd") {
		t.Fatal("expected different hashes for different inputs")
	}
}

package auth

import (
	"errors"
	"testing"
	"time"
)

func TestIssueAndParseToken(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, Claims{
		Sub:    "user-1",
		Name:   "Avery",
		Role:   "moderator",
		Bypass: true,
		Exp:    time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	claims, err := ParseToken(secret, issued)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Sub != "user-1" || claims.Name != "Avery" || claims.Role != "moderator" || !claims.Bypass {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestParseTokenRejectsExpired(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, Claims{Sub: "user-1", Exp: time.Now().Add(-time.Minute).Unix()})
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	if _, err := ParseToken(secret, issued); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestParseTokenRejectsTampering(t *testing.T) {
	issued, _ := IssueToken([]byte("secret"), Claims{Sub: "user-1", Exp: time.Now().Add(time.Hour).Unix()})
	if _, err := ParseToken([]byte("other"), issued); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for wrong secret, got %v", err)
	}
	if _, err := ParseToken([]byte("secret"), issued+".x"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for extra segment, got %v", err)
	}
}

func TestFromHeader(t *testing.T) {
	secret := []byte("secret")
	issued, _ := IssueToken(secret, Claims{Sub: "user-1", Exp: time.Now().Add(time.Hour).Unix()})

	claims, err := FromHeader(secret, "Bearer "+issued)
	if err != nil || claims.Sub != "user-1" {
		t.Fatalf("FromHeader() = %+v, %v", claims, err)
	}
	for _, header := range []string{"", "Bearer", "Basic abc", "Bearer   "} {
		if _, err := FromHeader(secret, header); !errors.Is(err, ErrMissingToken) {
			t.Fatalf("FromHeader(%q) expected ErrMissingToken, got %v", header, err)
		}
	}
}

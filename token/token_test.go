package token

import (
	"errors"
	"strings"
	"testing"
	"time"
)

const testIssuer = "http://localhost:4000"

func testSigner(t *testing.T) *Signer {
	t.Helper()
	return NewSigner(testIssuer, []byte("unit-test-secret"))
}

func TestSigner_MintAndVerify(t *testing.T) {
	s := testSigner(t)

	raw, minted, err := s.Mint("user-1", "analytics-app", []string{"notes:read", "profile:read"}, time.Hour)
	if err != nil {
		t.Fatalf("Mint() error = %v", err)
	}
	if parts := strings.Split(raw, "."); len(parts) != 3 {
		t.Fatalf("Mint() produced %d segments, want 3", len(parts))
	}

	claims, err := s.Verify(raw)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if claims.Issuer != testIssuer {
		t.Errorf("iss = %q, want %q", claims.Issuer, testIssuer)
	}
	if claims.Subject != "user-1" {
		t.Errorf("sub = %q, want user-1", claims.Subject)
	}
	if claims.Audience != "analytics-app" {
		t.Errorf("aud = %q, want analytics-app", claims.Audience)
	}
	if claims.Scope != "notes:read profile:read" {
		t.Errorf("scope = %q, want %q", claims.Scope, "notes:read profile:read")
	}
	if claims.ID == "" || claims.ID != minted.ID {
		t.Errorf("jti = %q, want minted jti %q", claims.ID, minted.ID)
	}
	if claims.ExpiresAt <= claims.IssuedAt {
		t.Errorf("exp %d not after iat %d", claims.ExpiresAt, claims.IssuedAt)
	}
}

func TestSigner_MintProducesDistinctTokens(t *testing.T) {
	s := testSigner(t)

	a, _, err := s.Mint("user-1", "analytics-app", []string{"notes:read"}, time.Hour)
	if err != nil {
		t.Fatalf("Mint() error = %v", err)
	}
	b, _, err := s.Mint("user-1", "analytics-app", []string{"notes:read"}, time.Hour)
	if err != nil {
		t.Fatalf("Mint() error = %v", err)
	}
	if a == b {
		t.Error("two mints with identical inputs produced identical tokens")
	}
}

func TestSigner_VerifyFailures(t *testing.T) {
	s := testSigner(t)
	other := NewSigner(testIssuer, []byte("a-different-secret"))

	valid, _, err := s.Mint("user-1", "analytics-app", []string{"notes:read"}, time.Hour)
	if err != nil {
		t.Fatalf("Mint() error = %v", err)
	}
	expired, _, err := s.Mint("user-1", "analytics-app", []string{"notes:read"}, -time.Minute)
	if err != nil {
		t.Fatalf("Mint() error = %v", err)
	}

	// Flip a character inside the payload segment.
	parts := strings.Split(valid, ".")
	payload := []byte(parts[1])
	if payload[10] == 'A' {
		payload[10] = 'B'
	} else {
		payload[10] = 'A'
	}
	tampered := parts[0] + "." + string(payload) + "." + parts[2]

	tests := []struct {
		name string
		raw  string
		s    *Signer
	}{
		{"wrong secret", valid, other},
		{"expired", expired, s},
		{"tampered payload", tampered, s},
		{"two segments", parts[0] + "." + parts[1], s},
		{"garbage", "not-a-token", s},
		{"empty", "", s},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.s.Verify(tt.raw); !errors.Is(err, ErrInvalidToken) {
				t.Errorf("Verify() error = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestDecode_SkipsSignatureAndExpiry(t *testing.T) {
	s := testSigner(t)

	expired, _, err := s.Mint("user-1", "analytics-app", []string{"notes:read"}, -time.Minute)
	if err != nil {
		t.Fatalf("Mint() error = %v", err)
	}

	claims, err := Decode(expired)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if claims.Subject != "user-1" {
		t.Errorf("sub = %q, want user-1", claims.Subject)
	}

	if _, err := Decode("only.two"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Decode() error = %v, want ErrInvalidToken", err)
	}
}

func TestClaims_Scopes(t *testing.T) {
	c := &Claims{Scope: "notes:read notes:write"}
	got := c.Scopes()
	if len(got) != 2 || got[0] != "notes:read" || got[1] != "notes:write" {
		t.Errorf("Scopes() = %v", got)
	}

	empty := &Claims{}
	if len(empty.Scopes()) != 0 {
		t.Errorf("Scopes() on empty scope = %v, want none", empty.Scopes())
	}
}

// Package token mints and verifies the signed JWTs used as access and
// refresh tokens, and implements PKCE challenge verification (RFC 7636).
//
// Tokens are HS256-signed compact JWTs carrying {iss, sub, aud, exp, iat,
// jti, scope}. The signed token is self-contained; the store entry kept
// alongside it (see package storage) is the revocation overlay.
package token

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalidToken is returned for every verification failure: malformed
// token, bad signature, expired, or unparseable claims. Callers never learn
// which check failed, so the token endpoint gives no oracle to probing.
var ErrInvalidToken = errors.New("token: invalid token")

// Claims is the JWT payload for access and refresh tokens. The audience is
// a single client id serialized as a plain JSON string, and scope is the
// space-joined scope list.
type Claims struct {
	Issuer    string `json:"iss"`
	Subject   string `json:"sub"`
	Audience  string `json:"aud"`
	ExpiresAt int64  `json:"exp"`
	IssuedAt  int64  `json:"iat"`
	ID        string `json:"jti"`
	Scope     string `json:"scope"`
}

// Scopes splits the space-joined scope claim into its individual scopes.
func (c *Claims) Scopes() []string {
	return strings.Fields(c.Scope)
}

// GetExpirationTime implements jwt.Claims.
func (c *Claims) GetExpirationTime() (*jwt.NumericDate, error) {
	if c.ExpiresAt == 0 {
		return nil, nil
	}
	return jwt.NewNumericDate(time.Unix(c.ExpiresAt, 0)), nil
}

// GetIssuedAt implements jwt.Claims.
func (c *Claims) GetIssuedAt() (*jwt.NumericDate, error) {
	if c.IssuedAt == 0 {
		return nil, nil
	}
	return jwt.NewNumericDate(time.Unix(c.IssuedAt, 0)), nil
}

// GetNotBefore implements jwt.Claims.
func (c *Claims) GetNotBefore() (*jwt.NumericDate, error) { return nil, nil }

// GetIssuer implements jwt.Claims.
func (c *Claims) GetIssuer() (string, error) { return c.Issuer, nil }

// GetSubject implements jwt.Claims.
func (c *Claims) GetSubject() (string, error) { return c.Subject, nil }

// GetAudience implements jwt.Claims.
func (c *Claims) GetAudience() (jwt.ClaimStrings, error) {
	if c.Audience == "" {
		return nil, nil
	}
	return jwt.ClaimStrings{c.Audience}, nil
}

// Signer mints and verifies tokens under a single symmetric HMAC secret.
type Signer struct {
	secret []byte
	issuer string
}

// NewSigner creates a Signer for the given issuer and shared secret.
func NewSigner(issuer string, secret []byte) *Signer {
	return &Signer{secret: secret, issuer: issuer}
}

// Mint creates a signed token for the user/client pair with the given scopes
// and lifetime. A fresh jti and iat are stamped on every call, so two mints
// with identical inputs still produce distinct tokens.
func (s *Signer) Mint(userID, clientID string, scopes []string, ttl time.Duration) (string, *Claims, error) {
	now := time.Now()
	claims := &Claims{
		Issuer:    s.issuer,
		Subject:   userID,
		Audience:  clientID,
		ExpiresAt: now.Add(ttl).Unix(),
		IssuedAt:  now.Unix(),
		ID:        uuid.NewString(),
		Scope:     strings.Join(scopes, " "),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", nil, err
	}
	return signed, claims, nil
}

// Verify checks structure, signature, and expiry, returning the claims on
// success and ErrInvalidToken on any failure. The signature comparison is
// constant-time (performed by the HMAC verify inside the jwt library).
func (s *Signer) Verify(raw string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Decode parses the claims without verifying signature or expiry. It must
// never be used at a trust boundary; it exists for diagnostics and for
// reading one's own freshly minted tokens.
func Decode(raw string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

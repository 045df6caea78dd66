package server

import (
	"log/slog"
	"time"
)

// Config holds authorization server configuration.
type Config struct {
	// Issuer is the server's issuer identifier (base URL). It is embedded
	// in every minted JWT and echoed by introspection.
	Issuer string

	// Secret is the HMAC-SHA256 signing secret for JWTs. Required.
	Secret string

	// CodeTTL is how long authorization codes are valid.
	// Default: 10 minutes.
	CodeTTL time.Duration

	// AccessTokenTTL is how long access tokens are valid.
	// Default: 1 hour.
	AccessTokenTTL time.Duration

	// RefreshTokenTTL is how long refresh tokens are valid.
	// Default: 30 days.
	RefreshTokenTTL time.Duration

	// DisablePKCEPlain rejects the 'plain' code_challenge_method. The
	// plain method is accepted by default for compatibility with simple
	// clients; S256 is always accepted.
	DisablePKCEPlain bool

	// RotateRefreshTokens revokes a refresh token when it is used. When
	// false (the default) a refresh token stays valid until its own
	// expiry no matter how often it is used.
	RotateRefreshTokens bool

	// SupportedScopes lists the scopes the server will issue. If empty,
	// any scope within a client's registration is allowed.
	SupportedScopes []string

	// Logger for structured logging. Defaults to slog.Default().
	Logger *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.Issuer == "" {
		c.Issuer = "http://localhost:4000"
	}
	if c.CodeTTL <= 0 {
		c.CodeTTL = 10 * time.Minute
	}
	if c.AccessTokenTTL <= 0 {
		c.AccessTokenTTL = time.Hour
	}
	if c.RefreshTokenTTL <= 0 {
		c.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/notegrid/notegrid/internal/password"
	"github.com/notegrid/notegrid/internal/util"
	"github.com/notegrid/notegrid/storage"
	"github.com/notegrid/notegrid/token"
)

const codeBytes = 32

// TokenPair is the result of a successful code or refresh exchange.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
}

// Introspection is the RFC 7662 view of a token's state. Only Active is
// present when the token is invalid, revoked, or expired.
type Introspection struct {
	Active    bool   `json:"active"`
	Scope     string `json:"scope,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
	Subject   string `json:"sub,omitempty"`
	Audience  string `json:"aud,omitempty"`
	Issuer    string `json:"iss,omitempty"`
	ExpiresAt int64  `json:"exp,omitempty"`
	IssuedAt  int64  `json:"iat,omitempty"`
	TokenType string `json:"token_type,omitempty"`
}

// IssueCodeRequest carries an approved authorization request. The caller has
// already validated client, redirect URI, and scopes against the registry.
type IssueCodeRequest struct {
	ClientID            string
	UserID              string
	RedirectURI         string
	Scopes              []string
	CodeChallenge       string
	CodeChallengeMethod string
	ClientIP            string
}

// IssueCode mints a fresh single-use authorization code bound to the
// approved request.
func (s *Service) IssueCode(ctx context.Context, req IssueCodeRequest) (string, error) {
	if err := s.checkChallengeMethod(req.CodeChallengeMethod); err != nil {
		return "", err
	}

	code, err := util.RandomHex(codeBytes)
	if err != nil {
		return "", fmt.Errorf("generate authorization code: %w", err)
	}

	record := &storage.AuthorizationCode{
		Code:                code,
		ClientID:            req.ClientID,
		UserID:              req.UserID,
		RedirectURI:         req.RedirectURI,
		Scopes:              req.Scopes,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		ExpiresAt:           time.Now().Add(s.config.CodeTTL),
	}
	if err := s.codes.SaveCode(ctx, record); err != nil {
		return "", fmt.Errorf("save authorization code: %w", err)
	}

	s.auditor.LogCodeIssued(req.UserID, req.ClientID, req.ClientIP, strings.Join(req.Scopes, " "))
	s.metrics.RecordCodeIssued(ctx, req.ClientID)
	s.logger.Info("Authorization code issued",
		"client_id", req.ClientID,
		"code_prefix", util.SafeTruncate(code, 8))

	return code, nil
}

// ExchangeRequest carries the parameters of an authorization_code token
// request.
type ExchangeRequest struct {
	Code         string
	ClientID     string
	RedirectURI  string
	ClientSecret string
	CodeVerifier string
	ClientIP     string
}

// Exchange redeems an authorization code for a token pair. The checks run in
// a fixed order and each failure short-circuits: client authentication, code
// consumption, client binding, redirect binding, PKCE. Consumption happens
// before the binding checks, so a code that fails any of them is already
// spent and cannot be retried.
func (s *Service) Exchange(ctx context.Context, req ExchangeRequest) (*TokenPair, error) {
	if req.ClientSecret != "" {
		if err := s.authenticateClient(ctx, req.ClientID, req.ClientSecret, req.ClientIP); err != nil {
			return nil, err
		}
	}

	code, err := s.codes.ConsumeCode(ctx, req.Code)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.logger.Info("Code exchange rejected",
				"client_id", req.ClientID,
				"reason", "code not found or expired")
			return nil, fmt.Errorf("%w: code not found or expired", ErrInvalidGrant)
		}
		return nil, fmt.Errorf("consume authorization code: %w", err)
	}

	if code.ClientID != req.ClientID {
		s.auditor.LogAuthFailure(code.UserID, req.ClientID, req.ClientIP, "code bound to different client")
		return nil, fmt.Errorf("%w: code was issued to a different client", ErrInvalidGrant)
	}

	// Exact string equality, no normalization.
	if code.RedirectURI != req.RedirectURI {
		s.auditor.LogAuthFailure(code.UserID, req.ClientID, req.ClientIP, "redirect URI mismatch")
		return nil, fmt.Errorf("%w: redirect_uri does not match", ErrInvalidGrant)
	}

	if code.CodeChallenge != "" {
		if req.CodeVerifier == "" {
			s.metrics.RecordPKCEValidationFailed(ctx, code.CodeChallengeMethod)
			return nil, fmt.Errorf("%w: code_verifier required", ErrInvalidGrant)
		}
		if !token.VerifyChallenge(req.CodeVerifier, code.CodeChallenge, code.CodeChallengeMethod) {
			s.metrics.RecordPKCEValidationFailed(ctx, code.CodeChallengeMethod)
			s.auditor.LogAuthFailure(code.UserID, req.ClientID, req.ClientIP, "PKCE verification failed")
			return nil, fmt.Errorf("%w: PKCE verification failed", ErrInvalidGrant)
		}
	}

	pair, err := s.mintTokenPair(ctx, code.UserID, code.ClientID, code.Scopes)
	if err != nil {
		return nil, err
	}

	s.auditor.LogTokenIssued(code.UserID, code.ClientID, req.ClientIP, pair.Scope)
	s.metrics.RecordCodeExchange(ctx, code.ClientID, code.CodeChallengeMethod)
	s.logger.Info("Authorization code exchanged",
		"client_id", code.ClientID,
		"scope", pair.Scope)

	return pair, nil
}

// RefreshRequest carries the parameters of a refresh_token token request.
type RefreshRequest struct {
	RefreshToken string
	ClientID     string
	ClientSecret string
	ClientIP     string
}

// Refresh exchanges a refresh token for a new token pair. The presented
// token must verify as a JWT, exist in the store, be of refresh kind, and
// belong to the requesting client. When rotation is enabled the presented
// token is revoked after the new pair is minted.
func (s *Service) Refresh(ctx context.Context, req RefreshRequest) (*TokenPair, error) {
	if req.ClientSecret != "" {
		if err := s.authenticateClient(ctx, req.ClientID, req.ClientSecret, req.ClientIP); err != nil {
			return nil, err
		}
	}

	if _, err := s.signer.Verify(req.RefreshToken); err != nil {
		return nil, fmt.Errorf("%w: refresh token invalid", ErrInvalidGrant)
	}

	record, err := s.tokens.GetToken(ctx, req.RefreshToken)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: refresh token not found or expired", ErrInvalidGrant)
		}
		return nil, fmt.Errorf("look up refresh token: %w", err)
	}
	if record.Kind != storage.TokenKindRefresh {
		return nil, fmt.Errorf("%w: token is not a refresh token", ErrInvalidGrant)
	}
	if req.ClientID != "" && record.ClientID != req.ClientID {
		s.auditor.LogAuthFailure(record.UserID, req.ClientID, req.ClientIP, "refresh token bound to different client")
		return nil, fmt.Errorf("%w: refresh token was issued to a different client", ErrInvalidGrant)
	}

	pair, err := s.mintTokenPair(ctx, record.UserID, record.ClientID, record.Scopes)
	if err != nil {
		return nil, err
	}

	rotated := s.config.RotateRefreshTokens
	if rotated {
		if err := s.tokens.DeleteToken(ctx, req.RefreshToken); err != nil {
			s.logger.Warn("Failed to revoke rotated refresh token", "error", err)
		}
	}

	s.auditor.LogTokenRefreshed(record.UserID, record.ClientID, req.ClientIP, rotated)
	s.metrics.RecordTokenRefresh(ctx, record.ClientID, rotated)

	return pair, nil
}

// mintTokenPair builds and stores an access/refresh JWT pair sharing subject,
// audience, and scope but with distinct expiry and jti.
func (s *Service) mintTokenPair(ctx context.Context, userID, clientID string, scopes []string) (*TokenPair, error) {
	access, accessClaims, err := s.signer.Mint(userID, clientID, scopes, s.config.AccessTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("mint access token: %w", err)
	}
	refresh, refreshClaims, err := s.signer.Mint(userID, clientID, scopes, s.config.RefreshTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("mint refresh token: %w", err)
	}

	if err := s.tokens.SaveToken(ctx, &storage.Token{
		Token:     access,
		Kind:      storage.TokenKindAccess,
		UserID:    userID,
		ClientID:  clientID,
		Scopes:    scopes,
		ExpiresAt: time.Unix(accessClaims.ExpiresAt, 0),
	}); err != nil {
		return nil, fmt.Errorf("save access token: %w", err)
	}
	if err := s.tokens.SaveToken(ctx, &storage.Token{
		Token:     refresh,
		Kind:      storage.TokenKindRefresh,
		UserID:    userID,
		ClientID:  clientID,
		Scopes:    scopes,
		ExpiresAt: time.Unix(refreshClaims.ExpiresAt, 0),
	}); err != nil {
		return nil, fmt.Errorf("save refresh token: %w", err)
	}

	return &TokenPair{
		AccessToken:  access,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.config.AccessTokenTTL.Seconds()),
		RefreshToken: refresh,
		Scope:        strings.Join(scopes, " "),
	}, nil
}

// Introspect reports a token's state. A token is active only when the JWT
// verifies AND a store record exists: deleting the record revokes the token
// without touching the signed artifact, and a forged token never has a
// record. All failures collapse to inactive.
func (s *Service) Introspect(ctx context.Context, raw string) *Introspection {
	inactive := &Introspection{Active: false}

	claims, err := s.signer.Verify(raw)
	if err != nil {
		s.metrics.RecordIntrospection(ctx, false)
		return inactive
	}

	record, err := s.tokens.GetToken(ctx, raw)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Error("Token store lookup failed during introspection", "error", err)
		}
		s.metrics.RecordIntrospection(ctx, false)
		return inactive
	}

	s.metrics.RecordIntrospection(ctx, true)
	return &Introspection{
		Active:    true,
		Scope:     claims.Scope,
		ClientID:  record.ClientID,
		Subject:   claims.Subject,
		Audience:  claims.Audience,
		Issuer:    claims.Issuer,
		ExpiresAt: claims.ExpiresAt,
		IssuedAt:  claims.IssuedAt,
		TokenType: "Bearer",
	}
}

// Revoke deletes a token record, making the token inactive regardless of its
// own expiry. Revoking an unknown token succeeds silently.
func (s *Service) Revoke(ctx context.Context, raw, clientIP string) error {
	record, err := s.tokens.GetToken(ctx, raw)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("look up token: %w", err)
	}

	if err := s.tokens.DeleteToken(ctx, raw); err != nil {
		return fmt.Errorf("delete token: %w", err)
	}

	s.auditor.LogTokenRevoked(record.UserID, record.ClientID, clientIP, string(record.Kind))
	s.metrics.RecordTokenRevocation(ctx, record.ClientID)

	return nil
}

// RevokeAllForUser deletes every token belonging to a user, optionally
// restricted to one client. Used for logout.
func (s *Service) RevokeAllForUser(ctx context.Context, userID, clientID, clientIP string) (int, error) {
	deleted, err := s.tokens.DeleteTokensForUser(ctx, userID, clientID)
	if err != nil {
		return 0, fmt.Errorf("delete tokens for user: %w", err)
	}

	if deleted > 0 {
		s.auditor.LogTokenRevoked(userID, clientID, clientIP, "all")
		s.logger.Info("Revoked all tokens for user", "count", deleted)
	}

	return deleted, nil
}

// AuthenticateUser checks a username/password pair against the user store.
func (s *Service) AuthenticateUser(ctx context.Context, username, pass, clientIP string) (*storage.User, error) {
	user, err := s.users.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.auditor.LogAuthFailure("", "", clientIP, "unknown username")
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("look up user: %w", err)
	}

	if !password.Verify(pass, user.PasswordHash) {
		s.auditor.LogAuthFailure(user.ID, "", clientIP, "wrong password")
		return nil, ErrInvalidCredentials
	}

	return user, nil
}

// UserInfo resolves the bearer token to its user. Returns ErrUnauthorized
// when the token is not active and storage.ErrNotFound when the subject no
// longer exists.
func (s *Service) UserInfo(ctx context.Context, raw string) (*storage.User, error) {
	info := s.Introspect(ctx, raw)
	if !info.Active {
		return nil, ErrUnauthorized
	}
	return s.users.GetUser(ctx, info.Subject)
}

// UserByID looks up a user by ID.
func (s *Service) UserByID(ctx context.Context, userID string) (*storage.User, error) {
	return s.users.GetUser(ctx, userID)
}

// authenticateClient checks a client secret with a constant-time comparison.
// An unknown client and a wrong secret report the same error.
func (s *Service) authenticateClient(ctx context.Context, clientID, clientSecret, clientIP string) error {
	client, err := s.clients.GetClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.auditor.LogAuthFailure("", clientID, clientIP, "unknown client")
			return fmt.Errorf("%w: unknown client", ErrInvalidClient)
		}
		return fmt.Errorf("look up client: %w", err)
	}

	if subtle.ConstantTimeCompare([]byte(client.Secret), []byte(clientSecret)) != 1 {
		s.auditor.LogAuthFailure("", clientID, clientIP, "wrong client secret")
		return fmt.Errorf("%w: wrong client secret", ErrInvalidClient)
	}

	return nil
}

func (s *Service) checkChallengeMethod(method string) error {
	switch method {
	case "", token.PKCEMethodS256:
		return nil
	case token.PKCEMethodPlain:
		if s.config.DisablePKCEPlain {
			return fmt.Errorf("%w: plain is disabled", ErrUnsupportedChallengeMethod)
		}
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedChallengeMethod, method)
	}
}

package server

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/notegrid/notegrid/internal/password"
	"github.com/notegrid/notegrid/storage"
	"github.com/notegrid/notegrid/storage/memory"
	"github.com/notegrid/notegrid/token"
)

const (
	testClientID     = "analytics-app"
	testClientSecret = "analytics-app-secret"
	testRedirectURI  = "http://localhost:4002/callback"
	testUserID       = "user-1"
)

func newTestService(t *testing.T, config *Config) (*Service, *memory.Store) {
	t.Helper()

	store := memory.NewWithInterval(time.Hour)
	t.Cleanup(store.Stop)

	if config == nil {
		config = &Config{}
	}
	if config.Secret == "" {
		config.Secret = "unit-test-secret"
	}

	svc, err := New(config, store, store, store, store)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx := context.Background()
	hash, err := password.Hash("password123")
	if err != nil {
		t.Fatalf("password.Hash() error = %v", err)
	}
	if err := store.SaveUser(ctx, &storage.User{
		ID:           testUserID,
		Username:     "testuser",
		Email:        "testuser@example.com",
		PasswordHash: hash,
	}); err != nil {
		t.Fatalf("SaveUser() error = %v", err)
	}
	if err := store.SaveClient(ctx, &storage.Client{
		ID:           testClientID,
		Secret:       testClientSecret,
		Name:         "Analytics App",
		RedirectURIs: []string{testRedirectURI},
		Grants:       []string{"authorization_code", "refresh_token"},
		Scopes:       []string{"notes:read", "notes:write", "profile:read"},
		CreatedAt:    time.Now(),
	}); err != nil {
		t.Fatalf("SaveClient() error = %v", err)
	}

	return svc, store
}

func issueTestCode(t *testing.T, svc *Service, req IssueCodeRequest) string {
	t.Helper()
	if req.ClientID == "" {
		req.ClientID = testClientID
	}
	if req.UserID == "" {
		req.UserID = testUserID
	}
	if req.RedirectURI == "" {
		req.RedirectURI = testRedirectURI
	}
	if req.Scopes == nil {
		req.Scopes = []string{"notes:read"}
	}
	code, err := svc.IssueCode(context.Background(), req)
	if err != nil {
		t.Fatalf("IssueCode() error = %v", err)
	}
	return code
}

func TestExchange_HappyPathWithPKCE(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	verifier := "abc123"
	code := issueTestCode(t, svc, IssueCodeRequest{
		Scopes:              []string{"notes:read"},
		CodeChallenge:       token.S256Challenge(verifier),
		CodeChallengeMethod: token.PKCEMethodS256,
	})

	pair, err := svc.Exchange(ctx, ExchangeRequest{
		Code:         code,
		ClientID:     testClientID,
		RedirectURI:  testRedirectURI,
		ClientSecret: testClientSecret,
		CodeVerifier: verifier,
	})
	if err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}
	if pair.Scope != "notes:read" {
		t.Errorf("scope = %q, want notes:read", pair.Scope)
	}
	if pair.TokenType != "Bearer" {
		t.Errorf("token_type = %q, want Bearer", pair.TokenType)
	}
	if pair.ExpiresIn != 3600 {
		t.Errorf("expires_in = %d, want 3600", pair.ExpiresIn)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" || pair.AccessToken == pair.RefreshToken {
		t.Error("token pair not distinct and non-empty")
	}

	// A replayed code always fails.
	if _, err := svc.Exchange(ctx, ExchangeRequest{
		Code:         code,
		ClientID:     testClientID,
		RedirectURI:  testRedirectURI,
		CodeVerifier: verifier,
	}); !errors.Is(err, ErrInvalidGrant) {
		t.Errorf("replay Exchange() error = %v, want ErrInvalidGrant", err)
	}
}

func TestExchange_WrongVerifier(t *testing.T) {
	svc, _ := newTestService(t, nil)

	code := issueTestCode(t, svc, IssueCodeRequest{
		CodeChallenge:       token.S256Challenge("abc123"),
		CodeChallengeMethod: token.PKCEMethodS256,
	})

	_, err := svc.Exchange(context.Background(), ExchangeRequest{
		Code:         code,
		ClientID:     testClientID,
		RedirectURI:  testRedirectURI,
		CodeVerifier: "wrong",
	})
	if !errors.Is(err, ErrInvalidGrant) {
		t.Errorf("Exchange() error = %v, want ErrInvalidGrant", err)
	}
}

func TestExchange_MissingVerifier(t *testing.T) {
	svc, _ := newTestService(t, nil)

	code := issueTestCode(t, svc, IssueCodeRequest{
		CodeChallenge:       token.S256Challenge("abc123"),
		CodeChallengeMethod: token.PKCEMethodS256,
	})

	_, err := svc.Exchange(context.Background(), ExchangeRequest{
		Code:        code,
		ClientID:    testClientID,
		RedirectURI: testRedirectURI,
	})
	if !errors.Is(err, ErrInvalidGrant) {
		t.Errorf("Exchange() error = %v, want ErrInvalidGrant", err)
	}
}

func TestExchange_Bindings(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	tests := []struct {
		name string
		req  ExchangeRequest
	}{
		{"wrong client", ExchangeRequest{ClientID: "other-app", RedirectURI: testRedirectURI}},
		{"wrong redirect", ExchangeRequest{ClientID: testClientID, RedirectURI: "http://localhost:4002/other"}},
		{"unknown code", ExchangeRequest{Code: "never-issued", ClientID: testClientID, RedirectURI: testRedirectURI}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.req
			if req.Code == "" {
				req.Code = issueTestCode(t, svc, IssueCodeRequest{})
			}
			if _, err := svc.Exchange(ctx, req); !errors.Is(err, ErrInvalidGrant) {
				t.Errorf("Exchange() error = %v, want ErrInvalidGrant", err)
			}
		})
	}
}

func TestExchange_ClientAuthentication(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	code := issueTestCode(t, svc, IssueCodeRequest{})
	_, err := svc.Exchange(ctx, ExchangeRequest{
		Code:         code,
		ClientID:     testClientID,
		RedirectURI:  testRedirectURI,
		ClientSecret: "wrong-secret",
	})
	if !errors.Is(err, ErrInvalidClient) {
		t.Fatalf("Exchange() error = %v, want ErrInvalidClient", err)
	}

	// Client auth runs before consumption, so the code survives and a
	// correct retry succeeds.
	if _, err := svc.Exchange(ctx, ExchangeRequest{
		Code:         code,
		ClientID:     testClientID,
		RedirectURI:  testRedirectURI,
		ClientSecret: testClientSecret,
	}); err != nil {
		t.Errorf("retry Exchange() error = %v", err)
	}
}

func TestExchange_ExpiredCode(t *testing.T) {
	svc, store := newTestService(t, nil)
	ctx := context.Background()

	if err := store.SaveCode(ctx, &storage.AuthorizationCode{
		Code:        "expired-code",
		ClientID:    testClientID,
		UserID:      testUserID,
		RedirectURI: testRedirectURI,
		Scopes:      []string{"notes:read"},
		ExpiresAt:   time.Now().Add(-time.Second),
	}); err != nil {
		t.Fatalf("SaveCode() error = %v", err)
	}

	_, err := svc.Exchange(ctx, ExchangeRequest{
		Code:        "expired-code",
		ClientID:    testClientID,
		RedirectURI: testRedirectURI,
	})
	if !errors.Is(err, ErrInvalidGrant) {
		t.Errorf("Exchange() error = %v, want ErrInvalidGrant", err)
	}
}

func TestExchange_ConcurrentSingleUse(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	code := issueTestCode(t, svc, IssueCodeRequest{})

	const attempts = 20
	var successes, grantFailures atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Exchange(ctx, ExchangeRequest{
				Code:        code,
				ClientID:    testClientID,
				RedirectURI: testRedirectURI,
			})
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, ErrInvalidGrant):
				grantFailures.Add(1)
			}
		}()
	}
	wg.Wait()

	if successes.Load() != 1 {
		t.Errorf("successes = %d, want exactly 1", successes.Load())
	}
	if grantFailures.Load() != attempts-1 {
		t.Errorf("invalid_grant failures = %d, want %d", grantFailures.Load(), attempts-1)
	}
}

func TestExchange_ScopeContainment(t *testing.T) {
	svc, store := newTestService(t, nil)
	ctx := context.Background()

	code := issueTestCode(t, svc, IssueCodeRequest{Scopes: []string{"notes:read"}})

	pair, err := svc.Exchange(ctx, ExchangeRequest{
		Code:        code,
		ClientID:    testClientID,
		RedirectURI: testRedirectURI,
	})
	if err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}
	if pair.Scope != "notes:read" {
		t.Fatalf("scope = %q, want notes:read", pair.Scope)
	}

	record, err := store.GetToken(ctx, pair.AccessToken)
	if err != nil {
		t.Fatalf("GetToken() error = %v", err)
	}
	if len(record.Scopes) != 1 || record.Scopes[0] != "notes:read" {
		t.Errorf("stored scopes = %v, want [notes:read]", record.Scopes)
	}
}

func TestRefresh_MintsNewPair(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	code := issueTestCode(t, svc, IssueCodeRequest{})
	pair, err := svc.Exchange(ctx, ExchangeRequest{
		Code:        code,
		ClientID:    testClientID,
		RedirectURI: testRedirectURI,
	})
	if err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}

	next, err := svc.Refresh(ctx, RefreshRequest{
		RefreshToken: pair.RefreshToken,
		ClientID:     testClientID,
	})
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if next.AccessToken == pair.AccessToken {
		t.Error("refresh returned the same access token")
	}
	if next.Scope != pair.Scope {
		t.Errorf("scope changed across refresh: %q -> %q", pair.Scope, next.Scope)
	}

	// Without rotation the old refresh token remains usable.
	if _, err := svc.Refresh(ctx, RefreshRequest{
		RefreshToken: pair.RefreshToken,
		ClientID:     testClientID,
	}); err != nil {
		t.Errorf("second Refresh() with same token error = %v", err)
	}
}

func TestRefresh_Rotation(t *testing.T) {
	svc, _ := newTestService(t, &Config{RotateRefreshTokens: true})
	ctx := context.Background()

	code := issueTestCode(t, svc, IssueCodeRequest{})
	pair, err := svc.Exchange(ctx, ExchangeRequest{
		Code:        code,
		ClientID:    testClientID,
		RedirectURI: testRedirectURI,
	})
	if err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}

	if _, err := svc.Refresh(ctx, RefreshRequest{
		RefreshToken: pair.RefreshToken,
		ClientID:     testClientID,
	}); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	if _, err := svc.Refresh(ctx, RefreshRequest{
		RefreshToken: pair.RefreshToken,
		ClientID:     testClientID,
	}); !errors.Is(err, ErrInvalidGrant) {
		t.Errorf("rotated token Refresh() error = %v, want ErrInvalidGrant", err)
	}
}

func TestRefresh_RejectsAccessToken(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	code := issueTestCode(t, svc, IssueCodeRequest{})
	pair, err := svc.Exchange(ctx, ExchangeRequest{
		Code:        code,
		ClientID:    testClientID,
		RedirectURI: testRedirectURI,
	})
	if err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}

	if _, err := svc.Refresh(ctx, RefreshRequest{
		RefreshToken: pair.AccessToken,
		ClientID:     testClientID,
	}); !errors.Is(err, ErrInvalidGrant) {
		t.Errorf("Refresh() with access token error = %v, want ErrInvalidGrant", err)
	}
}

func TestRefresh_ForgedToken(t *testing.T) {
	svc, _ := newTestService(t, nil)

	forger := token.NewSigner(svc.Config().Issuer, []byte("attacker-secret"))
	forged, _, err := forger.Mint(testUserID, testClientID, []string{"notes:read"}, time.Hour)
	if err != nil {
		t.Fatalf("Mint() error = %v", err)
	}

	if _, err := svc.Refresh(context.Background(), RefreshRequest{
		RefreshToken: forged,
		ClientID:     testClientID,
	}); !errors.Is(err, ErrInvalidGrant) {
		t.Errorf("Refresh() with forged token error = %v, want ErrInvalidGrant", err)
	}
}

func TestIntrospect_DualCheck(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	code := issueTestCode(t, svc, IssueCodeRequest{Scopes: []string{"notes:read", "profile:read"}})
	pair, err := svc.Exchange(ctx, ExchangeRequest{
		Code:        code,
		ClientID:    testClientID,
		RedirectURI: testRedirectURI,
	})
	if err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}

	info := svc.Introspect(ctx, pair.AccessToken)
	if !info.Active {
		t.Fatal("fresh access token introspected inactive")
	}
	if info.Subject != testUserID || info.Audience != testClientID {
		t.Errorf("sub/aud = %q/%q", info.Subject, info.Audience)
	}
	if info.Scope != "notes:read profile:read" {
		t.Errorf("scope = %q", info.Scope)
	}
	if info.TokenType != "Bearer" {
		t.Errorf("token_type = %q, want Bearer", info.TokenType)
	}

	// Revocation deletes the store record; the JWT still verifies in
	// isolation but introspection must now report inactive.
	if err := svc.Revoke(ctx, pair.AccessToken, ""); err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}
	if _, err := token.NewSigner(svc.Config().Issuer, []byte("unit-test-secret")).Verify(pair.AccessToken); err != nil {
		t.Fatalf("revoked JWT no longer verifies in isolation: %v", err)
	}
	if svc.Introspect(ctx, pair.AccessToken).Active {
		t.Error("revoked token introspected active")
	}
}

func TestIntrospect_GarbageToken(t *testing.T) {
	svc, _ := newTestService(t, nil)

	info := svc.Introspect(context.Background(), "not-a-token")
	if info.Active {
		t.Error("garbage token introspected active")
	}
	if info.Scope != "" || info.Subject != "" {
		t.Errorf("inactive introspection leaked claims: %+v", info)
	}
}

func TestRevokeAllForUser_Logout(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	code := issueTestCode(t, svc, IssueCodeRequest{})
	pair, err := svc.Exchange(ctx, ExchangeRequest{
		Code:        code,
		ClientID:    testClientID,
		RedirectURI: testRedirectURI,
	})
	if err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}

	deleted, err := svc.RevokeAllForUser(ctx, testUserID, "", "")
	if err != nil {
		t.Fatalf("RevokeAllForUser() error = %v", err)
	}
	if deleted != 2 {
		t.Errorf("deleted = %d, want 2 (access + refresh)", deleted)
	}
	if svc.Introspect(ctx, pair.AccessToken).Active {
		t.Error("access token still active after user revocation")
	}
	if _, err := svc.Refresh(ctx, RefreshRequest{
		RefreshToken: pair.RefreshToken,
		ClientID:     testClientID,
	}); !errors.Is(err, ErrInvalidGrant) {
		t.Errorf("Refresh() after user revocation error = %v, want ErrInvalidGrant", err)
	}
}

func TestAuthenticateUser(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	user, err := svc.AuthenticateUser(ctx, "testuser", "password123", "")
	if err != nil {
		t.Fatalf("AuthenticateUser() error = %v", err)
	}
	if user.ID != testUserID {
		t.Errorf("user ID = %q, want %q", user.ID, testUserID)
	}

	if _, err := svc.AuthenticateUser(ctx, "testuser", "wrong", ""); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password error = %v, want ErrInvalidCredentials", err)
	}
	if _, err := svc.AuthenticateUser(ctx, "nobody", "password123", ""); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown user error = %v, want ErrInvalidCredentials", err)
	}
}

func TestUserInfo(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	code := issueTestCode(t, svc, IssueCodeRequest{Scopes: []string{"profile:read"}})
	pair, err := svc.Exchange(ctx, ExchangeRequest{
		Code:        code,
		ClientID:    testClientID,
		RedirectURI: testRedirectURI,
	})
	if err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}

	user, err := svc.UserInfo(ctx, pair.AccessToken)
	if err != nil {
		t.Fatalf("UserInfo() error = %v", err)
	}
	if user.Username != "testuser" || user.Email != "testuser@example.com" {
		t.Errorf("user = %+v", user)
	}

	if _, err := svc.UserInfo(ctx, "garbage"); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("UserInfo(garbage) error = %v, want ErrUnauthorized", err)
	}
}

func TestIssueCode_PKCEMethodPolicy(t *testing.T) {
	ctx := context.Background()

	svc, _ := newTestService(t, nil)
	if _, err := svc.IssueCode(ctx, IssueCodeRequest{
		ClientID:            testClientID,
		UserID:              testUserID,
		RedirectURI:         testRedirectURI,
		Scopes:              []string{"notes:read"},
		CodeChallenge:       "verbatim",
		CodeChallengeMethod: token.PKCEMethodPlain,
	}); err != nil {
		t.Errorf("plain method rejected by default config: %v", err)
	}

	strict, _ := newTestService(t, &Config{DisablePKCEPlain: true})
	if _, err := strict.IssueCode(ctx, IssueCodeRequest{
		ClientID:            testClientID,
		UserID:              testUserID,
		RedirectURI:         testRedirectURI,
		Scopes:              []string{"notes:read"},
		CodeChallenge:       "verbatim",
		CodeChallengeMethod: token.PKCEMethodPlain,
	}); !errors.Is(err, ErrUnsupportedChallengeMethod) {
		t.Errorf("plain method error = %v, want ErrUnsupportedChallengeMethod", err)
	}

	if _, err := svc.IssueCode(ctx, IssueCodeRequest{
		ClientID:            testClientID,
		UserID:              testUserID,
		RedirectURI:         testRedirectURI,
		CodeChallenge:       "x",
		CodeChallengeMethod: "S512",
	}); !errors.Is(err, ErrUnsupportedChallengeMethod) {
		t.Errorf("unknown method error = %v, want ErrUnsupportedChallengeMethod", err)
	}
}

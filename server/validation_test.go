package server

import (
	"context"
	"errors"
	"testing"
)

func TestValidateAuthorizationRequest(t *testing.T) {
	svc, _ := newTestService(t, &Config{
		SupportedScopes: []string{"notes:read", "notes:write", "profile:read"},
	})
	ctx := context.Background()

	base := AuthorizationRequest{
		ResponseType: "code",
		ClientID:     testClientID,
		RedirectURI:  testRedirectURI,
		Scopes:       []string{"notes:read"},
	}

	if _, err := svc.ValidateAuthorizationRequest(ctx, base); err != nil {
		t.Fatalf("valid request rejected: %v", err)
	}

	tests := []struct {
		name    string
		mutate  func(*AuthorizationRequest)
		wantErr error
	}{
		{
			"unknown client",
			func(r *AuthorizationRequest) { r.ClientID = "ghost" },
			ErrUnknownClient,
		},
		{
			"missing redirect",
			func(r *AuthorizationRequest) { r.RedirectURI = "" },
			ErrInvalidRedirectURI,
		},
		{
			"unregistered redirect",
			func(r *AuthorizationRequest) { r.RedirectURI = "http://evil.example/callback" },
			ErrInvalidRedirectURI,
		},
		{
			"token response type",
			func(r *AuthorizationRequest) { r.ResponseType = "token" },
			ErrUnsupportedResponseType,
		},
		{
			"scope outside client ceiling",
			func(r *AuthorizationRequest) { r.Scopes = []string{"admin:all"} },
			ErrInvalidScope,
		},
		{
			"unknown challenge method",
			func(r *AuthorizationRequest) { r.CodeChallengeMethod = "S512" },
			ErrUnsupportedChallengeMethod,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := base
			tt.mutate(&req)
			if _, err := svc.ValidateAuthorizationRequest(ctx, req); !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateAuthorizationRequest_RedirectTrustSplit(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	// Bad scope with a valid client and redirect still returns the client,
	// so the handler can redirect the error back instead of rendering it.
	client, err := svc.ValidateAuthorizationRequest(ctx, AuthorizationRequest{
		ResponseType: "code",
		ClientID:     testClientID,
		RedirectURI:  testRedirectURI,
		Scopes:       []string{"admin:all"},
	})
	if !errors.Is(err, ErrInvalidScope) {
		t.Fatalf("error = %v, want ErrInvalidScope", err)
	}
	if client == nil {
		t.Error("client not returned alongside redirectable error")
	}

	// An untrusted redirect returns no client.
	client, err = svc.ValidateAuthorizationRequest(ctx, AuthorizationRequest{
		ResponseType: "code",
		ClientID:     testClientID,
		RedirectURI:  "http://evil.example/cb",
	})
	if !errors.Is(err, ErrInvalidRedirectURI) {
		t.Fatalf("error = %v, want ErrInvalidRedirectURI", err)
	}
	if client != nil {
		t.Error("client returned for untrusted redirect")
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(&Config{Secret: ""}, nil, nil, nil, nil); err == nil {
		t.Error("New() accepted nil stores")
	}

	svc, _ := newTestService(t, nil)
	cfg := svc.Config()
	if cfg.CodeTTL.Minutes() != 10 {
		t.Errorf("CodeTTL = %v, want 10m", cfg.CodeTTL)
	}
	if cfg.AccessTokenTTL.Hours() != 1 {
		t.Errorf("AccessTokenTTL = %v, want 1h", cfg.AccessTokenTTL)
	}
	if cfg.RefreshTokenTTL.Hours() != 720 {
		t.Errorf("RefreshTokenTTL = %v, want 720h", cfg.RefreshTokenTTL)
	}
	if cfg.Issuer == "" {
		t.Error("Issuer default not applied")
	}
}

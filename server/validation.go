package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/notegrid/notegrid/storage"
)

// AuthorizationRequest is the parsed query of a GET /authorize request.
type AuthorizationRequest struct {
	ResponseType        string
	ClientID            string
	RedirectURI         string
	Scopes              []string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
}

// ValidateAuthorizationRequest checks an authorization request against the
// client registry. Error classes split in two: ErrUnknownClient and
// ErrInvalidRedirectURI mean the redirect target cannot be trusted, so the
// caller must render an error page; every other failure is safe to redirect
// back to the client with the matching OAuth error code.
func (s *Service) ValidateAuthorizationRequest(ctx context.Context, req AuthorizationRequest) (*storage.Client, error) {
	client, err := s.clients.GetClient(ctx, req.ClientID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownClient, req.ClientID)
		}
		return nil, fmt.Errorf("look up client: %w", err)
	}

	if req.RedirectURI == "" || !client.AllowsRedirectURI(req.RedirectURI) {
		return nil, ErrInvalidRedirectURI
	}

	// Redirect target is trusted from here on.
	if req.ResponseType != "code" {
		return client, fmt.Errorf("%w: %s", ErrUnsupportedResponseType, req.ResponseType)
	}

	if len(client.Grants) > 0 && !client.AllowsGrant("authorization_code") {
		return client, ErrUnauthorizedClient
	}

	for _, scope := range req.Scopes {
		if !client.AllowsScope(scope) {
			return client, fmt.Errorf("%w: %s", ErrInvalidScope, scope)
		}
		if len(s.config.SupportedScopes) > 0 && !contains(s.config.SupportedScopes, scope) {
			return client, fmt.Errorf("%w: %s", ErrInvalidScope, scope)
		}
	}

	if err := s.checkChallengeMethod(req.CodeChallengeMethod); err != nil {
		return client, err
	}

	return client, nil
}

func contains(values []string, v string) bool {
	for _, value := range values {
		if value == v {
			return true
		}
	}
	return false
}

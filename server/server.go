// Package server implements the authorization server's core state machine:
// code issuance and consumption, token-pair minting, refresh, introspection,
// and revocation. It performs no HTTP handling; handlers validate request
// shape, call in here, and map the returned errors to protocol responses.
package server

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/notegrid/notegrid/instrumentation"
	"github.com/notegrid/notegrid/security"
	"github.com/notegrid/notegrid/storage"
	"github.com/notegrid/notegrid/token"
)

// Sentinel errors for expected protocol failures. The HTTP layer maps these
// to OAuth error codes; anything else is a server_error.
var (
	// ErrInvalidClient means client authentication failed.
	ErrInvalidClient = errors.New("client authentication failed")

	// ErrInvalidGrant means the authorization code or refresh token is
	// missing, expired, already used, or bound to different parameters.
	ErrInvalidGrant = errors.New("invalid grant")

	// ErrInvalidCredentials means a user login failed.
	ErrInvalidCredentials = errors.New("invalid username or password")

	// ErrUnknownClient means the client_id is not registered.
	ErrUnknownClient = errors.New("unknown client")

	// ErrInvalidRedirectURI means the redirect_uri is missing or not
	// registered for the client.
	ErrInvalidRedirectURI = errors.New("redirect URI not registered for client")

	// ErrUnsupportedResponseType means response_type is not "code".
	ErrUnsupportedResponseType = errors.New("unsupported response type")

	// ErrUnauthorizedClient means the client may not use the grant type.
	ErrUnauthorizedClient = errors.New("client not authorized for grant type")

	// ErrInvalidScope means a requested scope is outside the client's
	// registration or the server's supported set.
	ErrInvalidScope = errors.New("requested scope not allowed")

	// ErrUnsupportedChallengeMethod means the code_challenge_method is
	// unknown or disabled.
	ErrUnsupportedChallengeMethod = errors.New("unsupported code challenge method")

	// ErrUnauthorized means a bearer token is invalid, expired, or
	// revoked.
	ErrUnauthorized = errors.New("invalid or expired token")
)

// Service coordinates the token and code lifecycle over injected storage
// backends.
type Service struct {
	config *Config
	signer *token.Signer

	codes   storage.CodeStore
	tokens  storage.TokenStore
	clients storage.ClientStore
	users   storage.UserStore

	auditor *security.Auditor
	metrics *instrumentation.Metrics
	logger  *slog.Logger
}

// New creates a new authorization server service.
func New(
	config *Config,
	codes storage.CodeStore,
	tokens storage.TokenStore,
	clients storage.ClientStore,
	users storage.UserStore,
) (*Service, error) {
	if codes == nil {
		return nil, fmt.Errorf("code store is required")
	}
	if tokens == nil {
		return nil, fmt.Errorf("token store is required")
	}
	if clients == nil {
		return nil, fmt.Errorf("client store is required")
	}
	if users == nil {
		return nil, fmt.Errorf("user store is required")
	}
	if config == nil {
		config = &Config{}
	}
	if config.Secret == "" {
		return nil, fmt.Errorf("signing secret is required")
	}
	config.applyDefaults()

	return &Service{
		config:  config,
		signer:  token.NewSigner(config.Issuer, []byte(config.Secret)),
		codes:   codes,
		tokens:  tokens,
		clients: clients,
		users:   users,
		logger:  config.Logger,
	}, nil
}

// SetAuditor enables security audit logging.
func (s *Service) SetAuditor(auditor *security.Auditor) {
	s.auditor = auditor
}

// SetInstrumentation enables OpenTelemetry metrics.
func (s *Service) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.metrics = inst.Metrics()
}

// Config returns the effective configuration after defaults.
func (s *Service) Config() *Config {
	return s.config
}

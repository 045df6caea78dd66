// Package storage defines interfaces for persisting authorization codes,
// tokens, clients, users, and notes. It supports in-memory and file-backed
// implementations; other backends can be added behind the same interfaces.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist or has
// expired. Callers must not distinguish the two cases; an expired record is
// indistinguishable from one that never existed.
var ErrNotFound = errors.New("storage: not found")

// TokenKind discriminates access tokens from refresh tokens in the token
// store.
type TokenKind string

const (
	TokenKindAccess  TokenKind = "access"
	TokenKindRefresh TokenKind = "refresh"
)

// AuthorizationCode is a single-use artifact binding an approved
// authorization request to the token exchange that redeems it.
type AuthorizationCode struct {
	Code                string    `json:"code"`
	ClientID            string    `json:"client_id"`
	UserID              string    `json:"user_id"`
	RedirectURI         string    `json:"redirect_uri"`
	Scopes              []string  `json:"scopes"`
	CodeChallenge       string    `json:"code_challenge,omitempty"`
	CodeChallengeMethod string    `json:"code_challenge_method,omitempty"`
	ExpiresAt           time.Time `json:"expires_at"`
}

// Token is the server-side record of an issued access or refresh token.
// Presence in the store is what makes a token live; deleting the record
// revokes it regardless of the token's own expiry.
type Token struct {
	Token     string    `json:"token"`
	Kind      TokenKind `json:"kind"`
	UserID    string    `json:"user_id"`
	ClientID  string    `json:"client_id"`
	Scopes    []string  `json:"scopes"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Client is a registered OAuth client application. Clients are immutable
// after registration.
type Client struct {
	ID           string    `json:"id"`
	Secret       string    `json:"secret"`
	Name         string    `json:"name"`
	RedirectURIs []string  `json:"redirect_uris"`
	Grants       []string  `json:"grants"`
	Scopes       []string  `json:"scopes"`
	CreatedAt    time.Time `json:"created_at"`
}

// AllowsRedirectURI reports whether uri exactly matches one of the client's
// registered redirect URIs.
func (c *Client) AllowsRedirectURI(uri string) bool {
	for _, registered := range c.RedirectURIs {
		if registered == uri {
			return true
		}
	}
	return false
}

// AllowsGrant reports whether the client may use the given grant type.
func (c *Client) AllowsGrant(grantType string) bool {
	for _, g := range c.Grants {
		if g == grantType {
			return true
		}
	}
	return false
}

// AllowsScope reports whether the client is registered for the given scope.
func (c *Client) AllowsScope(scope string) bool {
	for _, allowed := range c.Scopes {
		if allowed == scope {
			return true
		}
	}
	return false
}

// User is an end user of the authorization server.
type User struct {
	ID           string `json:"id"`
	Username     string `json:"username"`
	Email        string `json:"email"`
	PasswordHash string `json:"password_hash"`
}

// Note is a user-owned record served by the resource server.
type Note struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CodeStore persists authorization codes between the authorization and token
// endpoints. All methods accept context.Context for tracing and cancellation.
type CodeStore interface {
	// SaveCode stores a newly issued authorization code.
	SaveCode(ctx context.Context, code *AuthorizationCode) error

	// ConsumeCode atomically retrieves and deletes an authorization code.
	// A second call with the same code returns ErrNotFound, as does a call
	// with an expired code. Atomicity is what makes codes single-use under
	// concurrent redemption attempts.
	ConsumeCode(ctx context.Context, code string) (*AuthorizationCode, error)
}

// TokenStore persists issued tokens. All methods accept context.Context for
// tracing and cancellation.
type TokenStore interface {
	// SaveToken stores an issued token record keyed by the token string.
	SaveToken(ctx context.Context, token *Token) error

	// GetToken retrieves a live token record. Expired records are deleted
	// on read and reported as ErrNotFound.
	GetToken(ctx context.Context, token string) (*Token, error)

	// DeleteToken removes a token record, revoking the token. Deleting a
	// token that does not exist is not an error.
	DeleteToken(ctx context.Context, token string) error

	// DeleteTokensForUser removes every token record belonging to a user,
	// optionally restricted to one client when clientID is non-empty, and
	// returns the number removed.
	DeleteTokensForUser(ctx context.Context, userID, clientID string) (int, error)
}

// ClientStore provides lookup of registered OAuth clients.
type ClientStore interface {
	// SaveClient registers a client, replacing any existing registration
	// with the same ID.
	SaveClient(ctx context.Context, client *Client) error

	// GetClient retrieves a client by ID.
	GetClient(ctx context.Context, clientID string) (*Client, error)
}

// UserStore provides lookup of end users.
type UserStore interface {
	// SaveUser stores a user, replacing any existing user with the same ID.
	SaveUser(ctx context.Context, user *User) error

	// GetUser retrieves a user by ID.
	GetUser(ctx context.Context, userID string) (*User, error)

	// GetUserByUsername retrieves a user by username.
	GetUserByUsername(ctx context.Context, username string) (*User, error)
}

// NoteStore persists user-owned notes for the resource server.
type NoteStore interface {
	// CreateNote stores a new note.
	CreateNote(ctx context.Context, note *Note) error

	// GetNote retrieves a note by ID regardless of owner. Ownership checks
	// belong to the caller.
	GetNote(ctx context.Context, noteID string) (*Note, error)

	// ListNotesForUser returns all notes owned by a user, oldest first.
	ListNotesForUser(ctx context.Context, userID string) ([]*Note, error)

	// UpdateNote replaces an existing note.
	UpdateNote(ctx context.Context, note *Note) error

	// DeleteNote removes a note. Deleting a missing note returns
	// ErrNotFound.
	DeleteNote(ctx context.Context, noteID string) error
}

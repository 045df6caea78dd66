// Package memory provides an in-memory implementation of all storage
// interfaces. It is suitable for development, testing, and single-instance
// deployments.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/notegrid/notegrid/instrumentation"
	"github.com/notegrid/notegrid/storage"
)

// Store is an in-memory implementation of all storage interfaces.
type Store struct {
	mu sync.RWMutex

	codes   map[string]*storage.AuthorizationCode
	tokens  map[string]*storage.Token
	clients map[string]*storage.Client
	users   map[string]*storage.User
	notes   map[string]*storage.Note

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
	logger          *slog.Logger
	metrics         *instrumentation.Metrics
}

// Compile-time interface checks.
var (
	_ storage.CodeStore   = (*Store)(nil)
	_ storage.TokenStore  = (*Store)(nil)
	_ storage.ClientStore = (*Store)(nil)
	_ storage.UserStore   = (*Store)(nil)
	_ storage.NoteStore   = (*Store)(nil)
)

// New creates a new in-memory store with the default cleanup interval
// (1 minute).
func New() *Store {
	return NewWithInterval(time.Minute)
}

// NewWithInterval creates a new in-memory store with a custom cleanup
// interval. If cleanupInterval is 0 or negative, the default of 1 minute is
// used.
func NewWithInterval(cleanupInterval time.Duration) *Store {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}

	s := &Store{
		codes:           make(map[string]*storage.AuthorizationCode),
		tokens:          make(map[string]*storage.Token),
		clients:         make(map[string]*storage.Client),
		users:           make(map[string]*storage.User),
		notes:           make(map[string]*storage.Note),
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan struct{}),
		logger:          slog.Default(),
	}

	go s.cleanupLoop()

	return s
}

// SetLogger sets a custom logger.
func (s *Store) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// SetInstrumentation enables sweep metrics.
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = inst.Metrics()
}

// Stop gracefully stops the cleanup goroutine. Safe to call more than once.
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.stopCleanup) })
}

// SaveCode stores a newly issued authorization code.
func (s *Store) SaveCode(ctx context.Context, code *storage.AuthorizationCode) error {
	if code == nil || code.Code == "" {
		return fmt.Errorf("authorization code must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *code
	s.codes[code.Code] = &cp
	return nil
}

// ConsumeCode atomically retrieves and deletes an authorization code. The
// lookup, expiry check, and delete happen under a single write lock so
// concurrent redemption attempts see exactly one success.
func (s *Store) ConsumeCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.codes[code]
	if !ok {
		return nil, storage.ErrNotFound
	}
	delete(s.codes, code)

	if time.Now().After(record.ExpiresAt) {
		return nil, fmt.Errorf("%w: authorization code expired", storage.ErrNotFound)
	}

	cp := *record
	return &cp, nil
}

// SaveToken stores an issued token record keyed by the token string.
func (s *Store) SaveToken(ctx context.Context, token *storage.Token) error {
	if token == nil || token.Token == "" {
		return fmt.Errorf("token must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *token
	s.tokens[token.Token] = &cp
	return nil
}

// GetToken retrieves a live token record. Expired records are deleted on
// read and reported as ErrNotFound.
func (s *Store) GetToken(ctx context.Context, token string) (*storage.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.tokens[token]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if time.Now().After(record.ExpiresAt) {
		delete(s.tokens, token)
		return nil, fmt.Errorf("%w: token expired", storage.ErrNotFound)
	}

	cp := *record
	return &cp, nil
}

// DeleteToken removes a token record. Deleting a missing token is a no-op.
func (s *Store) DeleteToken(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.tokens, token)
	return nil
}

// DeleteTokensForUser removes every token record belonging to a user,
// optionally restricted to one client.
func (s *Store) DeleteTokensForUser(ctx context.Context, userID, clientID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for key, record := range s.tokens {
		if record.UserID != userID {
			continue
		}
		if clientID != "" && record.ClientID != clientID {
			continue
		}
		delete(s.tokens, key)
		deleted++
	}
	return deleted, nil
}

// SaveClient registers a client.
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) error {
	if client == nil || client.ID == "" {
		return fmt.Errorf("client ID must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *client
	s.clients[client.ID] = &cp
	return nil
}

// GetClient retrieves a client by ID.
func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	client, ok := s.clients[clientID]
	if !ok {
		return nil, storage.ErrNotFound
	}

	cp := *client
	return &cp, nil
}

// SaveUser stores a user.
func (s *Store) SaveUser(ctx context.Context, user *storage.User) error {
	if user == nil || user.ID == "" {
		return fmt.Errorf("user ID must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *user
	s.users[user.ID] = &cp
	return nil
}

// GetUser retrieves a user by ID.
func (s *Store) GetUser(ctx context.Context, userID string) (*storage.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[userID]
	if !ok {
		return nil, storage.ErrNotFound
	}

	cp := *user
	return &cp, nil
}

// GetUserByUsername retrieves a user by username.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*storage.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, user := range s.users {
		if user.Username == username {
			cp := *user
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

// CreateNote stores a new note.
func (s *Store) CreateNote(ctx context.Context, note *storage.Note) error {
	if note == nil || note.ID == "" {
		return fmt.Errorf("note ID must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *note
	s.notes[note.ID] = &cp
	return nil
}

// GetNote retrieves a note by ID.
func (s *Store) GetNote(ctx context.Context, noteID string) (*storage.Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	note, ok := s.notes[noteID]
	if !ok {
		return nil, storage.ErrNotFound
	}

	cp := *note
	return &cp, nil
}

// ListNotesForUser returns all notes owned by a user, oldest first.
func (s *Store) ListNotesForUser(ctx context.Context, userID string) ([]*storage.Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var notes []*storage.Note
	for _, note := range s.notes {
		if note.UserID == userID {
			cp := *note
			notes = append(notes, &cp)
		}
	}
	sort.Slice(notes, func(i, j int) bool {
		return notes[i].CreatedAt.Before(notes[j].CreatedAt)
	})
	return notes, nil
}

// UpdateNote replaces an existing note.
func (s *Store) UpdateNote(ctx context.Context, note *storage.Note) error {
	if note == nil || note.ID == "" {
		return fmt.Errorf("note ID must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.notes[note.ID]; !ok {
		return storage.ErrNotFound
	}

	cp := *note
	s.notes[note.ID] = &cp
	return nil
}

// DeleteNote removes a note.
func (s *Store) DeleteNote(ctx context.Context, noteID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.notes[noteID]; !ok {
		return storage.ErrNotFound
	}
	delete(s.notes, noteID)
	return nil
}

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

// cleanup removes expired authorization codes and tokens. Reads already
// treat expired records as absent, so this only bounds memory growth.
func (s *Store) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	cleaned := 0

	for code, record := range s.codes {
		if now.After(record.ExpiresAt) {
			delete(s.codes, code)
			cleaned++
		}
	}
	for key, record := range s.tokens {
		if now.After(record.ExpiresAt) {
			delete(s.tokens, key)
			cleaned++
		}
	}

	if cleaned > 0 {
		s.metrics.RecordSweep(context.Background(), cleaned)
		s.logger.Debug("Cleaned up expired records",
			"count", cleaned,
			"codes_remaining", len(s.codes),
			"tokens_remaining", len(s.tokens))
	}
}

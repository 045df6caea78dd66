// Package file provides a JSON-file-backed implementation of all storage
// interfaces. State is loaded once at open and rewritten atomically on every
// mutation, so a restart picks up where the last run left off. It targets
// single-instance deployments; concurrent processes must not share a file.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/notegrid/notegrid/storage"
)

// Store is a file-backed implementation of all storage interfaces.
type Store struct {
	mu     sync.Mutex
	path   string
	logger *slog.Logger
	data   *fileData
}

type fileData struct {
	Codes   map[string]*storage.AuthorizationCode `json:"codes"`
	Tokens  map[string]*storage.Token             `json:"tokens"`
	Clients map[string]*storage.Client            `json:"clients"`
	Users   map[string]*storage.User              `json:"users"`
	Notes   map[string]*storage.Note              `json:"notes"`
}

// Compile-time interface checks.
var (
	_ storage.CodeStore   = (*Store)(nil)
	_ storage.TokenStore  = (*Store)(nil)
	_ storage.ClientStore = (*Store)(nil)
	_ storage.UserStore   = (*Store)(nil)
	_ storage.NoteStore   = (*Store)(nil)
)

// Open loads the store from path, creating an empty store if the file does
// not exist. Expired codes and tokens are dropped during load.
func Open(path string) (*Store, error) {
	s := &Store{
		path:   path,
		logger: slog.Default(),
		data: &fileData{
			Codes:   make(map[string]*storage.AuthorizationCode),
			Tokens:  make(map[string]*storage.Token),
			Clients: make(map[string]*storage.Client),
			Users:   make(map[string]*storage.User),
			Notes:   make(map[string]*storage.Note),
		},
	}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read store file: %w", err)
	}
	if err := json.Unmarshal(raw, s.data); err != nil {
		return nil, fmt.Errorf("parse store file %s: %w", path, err)
	}
	s.ensureMaps()
	s.dropExpiredLocked()

	return s, nil
}

// SetLogger sets a custom logger.
func (s *Store) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

func (s *Store) ensureMaps() {
	if s.data.Codes == nil {
		s.data.Codes = make(map[string]*storage.AuthorizationCode)
	}
	if s.data.Tokens == nil {
		s.data.Tokens = make(map[string]*storage.Token)
	}
	if s.data.Clients == nil {
		s.data.Clients = make(map[string]*storage.Client)
	}
	if s.data.Users == nil {
		s.data.Users = make(map[string]*storage.User)
	}
	if s.data.Notes == nil {
		s.data.Notes = make(map[string]*storage.Note)
	}
}

func (s *Store) dropExpiredLocked() {
	now := time.Now()
	for code, record := range s.data.Codes {
		if now.After(record.ExpiresAt) {
			delete(s.data.Codes, code)
		}
	}
	for key, record := range s.data.Tokens {
		if now.After(record.ExpiresAt) {
			delete(s.data.Tokens, key)
		}
	}
}

// persistLocked writes the store to disk via a temp file and rename so a
// crash mid-write never leaves a truncated store behind.
func (s *Store) persistLocked() error {
	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("encode store: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp store file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write store file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close store file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace store file: %w", err)
	}
	return nil
}

// SaveCode stores a newly issued authorization code.
func (s *Store) SaveCode(ctx context.Context, code *storage.AuthorizationCode) error {
	if code == nil || code.Code == "" {
		return fmt.Errorf("authorization code must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *code
	s.data.Codes[code.Code] = &cp
	return s.persistLocked()
}

// ConsumeCode atomically retrieves and deletes an authorization code.
func (s *Store) ConsumeCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.data.Codes[code]
	if !ok {
		return nil, storage.ErrNotFound
	}
	delete(s.data.Codes, code)
	if err := s.persistLocked(); err != nil {
		return nil, err
	}

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
	s.data.Tokens[token.Token] = &cp
	return s.persistLocked()
}

// GetToken retrieves a live token record, deleting expired records on read.
func (s *Store) GetToken(ctx context.Context, token string) (*storage.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.data.Tokens[token]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if time.Now().After(record.ExpiresAt) {
		delete(s.data.Tokens, token)
		if err := s.persistLocked(); err != nil {
			s.logger.Warn("Failed to persist after expiry delete", "error", err)
		}
		return nil, fmt.Errorf("%w: token expired", storage.ErrNotFound)
	}

	cp := *record
	return &cp, nil
}

// DeleteToken removes a token record. Deleting a missing token is a no-op.
func (s *Store) DeleteToken(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data.Tokens[token]; !ok {
		return nil
	}
	delete(s.data.Tokens, token)
	return s.persistLocked()
}

// DeleteTokensForUser removes every token record belonging to a user,
// optionally restricted to one client.
func (s *Store) DeleteTokensForUser(ctx context.Context, userID, clientID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for key, record := range s.data.Tokens {
		if record.UserID != userID {
			continue
		}
		if clientID != "" && record.ClientID != clientID {
			continue
		}
		delete(s.data.Tokens, key)
		deleted++
	}
	if deleted == 0 {
		return 0, nil
	}
	return deleted, s.persistLocked()
}

// SaveClient registers a client.
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) error {
	if client == nil || client.ID == "" {
		return fmt.Errorf("client ID must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *client
	s.data.Clients[client.ID] = &cp
	return s.persistLocked()
}

// GetClient retrieves a client by ID.
func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	client, ok := s.data.Clients[clientID]
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
	s.data.Users[user.ID] = &cp
	return s.persistLocked()
}

// GetUser retrieves a user by ID.
func (s *Store) GetUser(ctx context.Context, userID string) (*storage.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.data.Users[userID]
	if !ok {
		return nil, storage.ErrNotFound
	}

	cp := *user
	return &cp, nil
}

// GetUserByUsername retrieves a user by username.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*storage.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, user := range s.data.Users {
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
	s.data.Notes[note.ID] = &cp
	return s.persistLocked()
}

// GetNote retrieves a note by ID.
func (s *Store) GetNote(ctx context.Context, noteID string) (*storage.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	note, ok := s.data.Notes[noteID]
	if !ok {
		return nil, storage.ErrNotFound
	}

	cp := *note
	return &cp, nil
}

// ListNotesForUser returns all notes owned by a user, oldest first.
func (s *Store) ListNotesForUser(ctx context.Context, userID string) ([]*storage.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var notes []*storage.Note
	for _, note := range s.data.Notes {
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

	if _, ok := s.data.Notes[note.ID]; !ok {
		return storage.ErrNotFound
	}

	cp := *note
	s.data.Notes[note.ID] = &cp
	return s.persistLocked()
}

// DeleteNote removes a note.
func (s *Store) DeleteNote(ctx context.Context, noteID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data.Notes[noteID]; !ok {
		return storage.ErrNotFound
	}
	delete(s.data.Notes, noteID)
	return s.persistLocked()
}

package file

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/notegrid/notegrid/storage"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "store.json")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return s, path
}

func TestOpen_MissingFileStartsEmpty(t *testing.T) {
	s, _ := newTestStore(t)

	if _, err := s.GetClient(context.Background(), "nobody"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetClient() error = %v, want ErrNotFound", err)
	}
}

func TestPersistence_SurvivesReopen(t *testing.T) {
	s, path := newTestStore(t)
	ctx := context.Background()

	if err := s.SaveClient(ctx, &storage.Client{
		ID:           "analytics-app",
		Secret:       "analytics-app-secret",
		Name:         "Analytics App",
		RedirectURIs: []string{"http://localhost:4002/callback"},
		Scopes:       []string{"notes:read", "profile:read"},
	}); err != nil {
		t.Fatalf("SaveClient() error = %v", err)
	}
	if err := s.SaveToken(ctx, &storage.Token{
		Token:     "persisted-token",
		Kind:      storage.TokenKindRefresh,
		UserID:    "user-1",
		ClientID:  "analytics-app",
		Scopes:    []string{"notes:read"},
		ExpiresAt: time.Now().Add(time.Hour),
	}); err != nil {
		t.Fatalf("SaveToken() error = %v", err)
	}
	if err := s.CreateNote(ctx, &storage.Note{
		ID:        "note-1",
		UserID:    "user-1",
		Title:     "groceries",
		Content:   "milk eggs",
		CreatedAt: time.Now(),
	}); err != nil {
		t.Fatalf("CreateNote() error = %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}

	client, err := reopened.GetClient(ctx, "analytics-app")
	if err != nil {
		t.Fatalf("GetClient() after reopen error = %v", err)
	}
	if !client.AllowsRedirectURI("http://localhost:4002/callback") {
		t.Error("redirect URI lost across reopen")
	}

	token, err := reopened.GetToken(ctx, "persisted-token")
	if err != nil {
		t.Fatalf("GetToken() after reopen error = %v", err)
	}
	if token.Kind != storage.TokenKindRefresh || token.UserID != "user-1" {
		t.Errorf("token record = %+v", token)
	}

	notes, err := reopened.ListNotesForUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("ListNotesForUser() error = %v", err)
	}
	if len(notes) != 1 || notes[0].Title != "groceries" {
		t.Errorf("notes = %+v", notes)
	}
}

func TestOpen_DropsExpiredRecords(t *testing.T) {
	s, path := newTestStore(t)
	ctx := context.Background()

	if err := s.SaveToken(ctx, &storage.Token{
		Token:     "stale",
		Kind:      storage.TokenKindAccess,
		UserID:    "user-1",
		ExpiresAt: time.Now().Add(-time.Minute),
	}); err != nil {
		t.Fatalf("SaveToken() error = %v", err)
	}
	if err := s.SaveCode(ctx, &storage.AuthorizationCode{
		Code:      "stale-code",
		ClientID:  "analytics-app",
		UserID:    "user-1",
		ExpiresAt: time.Now().Add(-time.Minute),
	}); err != nil {
		t.Fatalf("SaveCode() error = %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	if len(reopened.data.Tokens) != 0 || len(reopened.data.Codes) != 0 {
		t.Errorf("expired records survived reopen: %d tokens, %d codes",
			len(reopened.data.Tokens), len(reopened.data.Codes))
	}
}

func TestConsumeCode_SingleUseAcrossReopen(t *testing.T) {
	s, path := newTestStore(t)
	ctx := context.Background()

	if err := s.SaveCode(ctx, &storage.AuthorizationCode{
		Code:      "code-1",
		ClientID:  "analytics-app",
		UserID:    "user-1",
		ExpiresAt: time.Now().Add(time.Minute),
	}); err != nil {
		t.Fatalf("SaveCode() error = %v", err)
	}

	if _, err := s.ConsumeCode(ctx, "code-1"); err != nil {
		t.Fatalf("ConsumeCode() error = %v", err)
	}

	// The consume must be durable: a restarted process cannot replay it.
	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	if _, err := reopened.ConsumeCode(ctx, "code-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("ConsumeCode() after reopen error = %v, want ErrNotFound", err)
	}
}

func TestDeleteTokensForUser_File(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	for _, tok := range []string{"a", "b"} {
		if err := s.SaveToken(ctx, &storage.Token{
			Token:     tok,
			Kind:      storage.TokenKindAccess,
			UserID:    "user-1",
			ExpiresAt: time.Now().Add(time.Hour),
		}); err != nil {
			t.Fatalf("SaveToken() error = %v", err)
		}
	}

	deleted, err := s.DeleteTokensForUser(ctx, "user-1", "")
	if err != nil {
		t.Fatalf("DeleteTokensForUser() error = %v", err)
	}
	if deleted != 2 {
		t.Errorf("deleted = %d, want 2", deleted)
	}
}

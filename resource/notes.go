package resource

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/notegrid/notegrid/storage"
)

// NotesHandler serves the ownership-filtered notes CRUD API.
type NotesHandler struct {
	notes  storage.NoteStore
	logger *slog.Logger
}

// NewNotesHandler creates the notes API handler.
func NewNotesHandler(notes storage.NoteStore, logger *slog.Logger) *NotesHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &NotesHandler{notes: notes, logger: logger}
}

// Routes registers the protected notes routes. notes:read gates reads and
// notes:write gates mutations.
func (h *NotesHandler) Routes(r chi.Router, introspection *IntrospectionClient) {
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/api/notes", func(r chi.Router) {
		r.Use(RequireToken(introspection, h.logger))

		r.With(RequireScopes("notes:read")).Get("/", h.List)
		r.With(RequireScopes("notes:read")).Get("/{noteID}", h.Get)
		r.With(RequireScopes("notes:write")).Post("/", h.Create)
		r.With(RequireScopes("notes:write")).Put("/{noteID}", h.Update)
		r.With(RequireScopes("notes:write")).Delete("/{noteID}", h.Delete)
	})

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
}

type noteRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// List returns the caller's notes, oldest first.
func (h *NotesHandler) List(w http.ResponseWriter, r *http.Request) {
	info, _ := TokenFromContext(r.Context())

	notes, err := h.notes.ListNotesForUser(r.Context(), info.Subject)
	if err != nil {
		h.logger.Error("Failed to list notes", "error", err)
		writeAPIError(w, "server_error", "Internal error", http.StatusInternalServerError)
		return
	}
	if notes == nil {
		notes = []*storage.Note{}
	}
	writeJSON(w, http.StatusOK, notes)
}

// Get returns one note. Notes owned by other users report not_found, never
// forbidden, so existence does not leak.
func (h *NotesHandler) Get(w http.ResponseWriter, r *http.Request) {
	info, _ := TokenFromContext(r.Context())

	note, err := h.loadOwnNote(r, info.Subject)
	if err != nil {
		h.writeNoteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

// Create stores a new note owned by the caller.
func (h *NotesHandler) Create(w http.ResponseWriter, r *http.Request) {
	info, _ := TokenFromContext(r.Context())

	var req noteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, "invalid_request", "Malformed JSON body", http.StatusBadRequest)
		return
	}
	if req.Title == "" {
		writeAPIError(w, "invalid_request", "title is required", http.StatusBadRequest)
		return
	}

	now := time.Now()
	note := &storage.Note{
		ID:        uuid.NewString(),
		UserID:    info.Subject,
		Title:     req.Title,
		Content:   req.Content,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.notes.CreateNote(r.Context(), note); err != nil {
		h.logger.Error("Failed to create note", "error", err)
		writeAPIError(w, "server_error", "Internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, note)
}

// Update replaces a note's title and content.
func (h *NotesHandler) Update(w http.ResponseWriter, r *http.Request) {
	info, _ := TokenFromContext(r.Context())

	note, err := h.loadOwnNote(r, info.Subject)
	if err != nil {
		h.writeNoteError(w, err)
		return
	}

	var req noteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, "invalid_request", "Malformed JSON body", http.StatusBadRequest)
		return
	}
	if req.Title == "" {
		writeAPIError(w, "invalid_request", "title is required", http.StatusBadRequest)
		return
	}

	note.Title = req.Title
	note.Content = req.Content
	note.UpdatedAt = time.Now()
	if err := h.notes.UpdateNote(r.Context(), note); err != nil {
		h.logger.Error("Failed to update note", "error", err)
		writeAPIError(w, "server_error", "Internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

// Delete removes a note and responds 204.
func (h *NotesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	info, _ := TokenFromContext(r.Context())

	note, err := h.loadOwnNote(r, info.Subject)
	if err != nil {
		h.writeNoteError(w, err)
		return
	}

	if err := h.notes.DeleteNote(r.Context(), note.ID); err != nil {
		h.logger.Error("Failed to delete note", "error", err)
		writeAPIError(w, "server_error", "Internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// loadOwnNote fetches the note in the URL and enforces ownership. A foreign
// note is indistinguishable from a missing one.
func (h *NotesHandler) loadOwnNote(r *http.Request, userID string) (*storage.Note, error) {
	note, err := h.notes.GetNote(r.Context(), chi.URLParam(r, "noteID"))
	if err != nil {
		return nil, err
	}
	if note.UserID != userID {
		return nil, storage.ErrNotFound
	}
	return note, nil
}

func (h *NotesHandler) writeNoteError(w http.ResponseWriter, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		writeAPIError(w, "not_found", "Note not found", http.StatusNotFound)
		return
	}
	h.logger.Error("Note lookup failed", "error", err)
	writeAPIError(w, "server_error", "Internal error", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

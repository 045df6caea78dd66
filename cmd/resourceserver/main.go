// The resourceserver binary runs the protected notes API. It validates
// bearer tokens against the authorization server's introspection endpoint.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"

	"github.com/notegrid/notegrid/resource"
	"github.com/notegrid/notegrid/storage"
	"github.com/notegrid/notegrid/storage/file"
	"github.com/notegrid/notegrid/storage/memory"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file loaded", "error", err)
	}
	logger := newLogger()

	addr := envOr("RESOURCE_ADDR", ":4001")
	authServerURL := envOr("AUTH_SERVER_URL", "http://localhost:4000")

	var (
		notes storage.NoteStore
		stop  = func() {}
	)
	if path := os.Getenv("STORE_FILE"); path != "" {
		fs, err := file.Open(path)
		if err != nil {
			logger.Error("Failed to open store file", "path", path, "error", err)
			os.Exit(1)
		}
		fs.SetLogger(logger)
		notes = fs
		logger.Info("Using file-backed store", "path", path)
	} else {
		ms := memory.New()
		ms.SetLogger(logger)
		notes = ms
		stop = ms.Stop
	}

	if err := seedNotes(context.Background(), notes, logger); err != nil {
		logger.Error("Failed to seed notes", "error", err)
		os.Exit(1)
	}

	introspection := resource.NewIntrospectionClient(authServerURL+"/introspect", nil)
	handler := resource.NewNotesHandler(notes, logger)

	r := chi.NewRouter()
	handler.Routes(r, introspection)

	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed", "error", err)
			stopSignals()
		}
	}()
	logger.Info("Resource server listening", "addr", addr, "auth_server", authServerURL)

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown failed", "error", err)
	}
	stop()
}

// seedNotes loads a handful of demo notes for the test user.
func seedNotes(ctx context.Context, notes storage.NoteStore, logger *slog.Logger) error {
	day := func(y int, m time.Month, d int) time.Time {
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	}
	seed := []*storage.Note{
		{
			ID: "note-1", UserID: "user-1", Title: "Welcome to Notes",
			Content:   "This is your first note. You can use this app to store all your important thoughts and ideas. Feel free to create, edit, and organize your notes however you like!",
			CreatedAt: day(2024, time.January, 15), UpdatedAt: day(2024, time.January, 15),
		},
		{
			ID: "note-2", UserID: "user-1", Title: "Meeting Notes",
			Content:   "Discussed project timeline with the team. Key points: 1) MVP deadline is end of month, 2) Need to finalize API design, 3) Schedule weekly sync meetings. Action items assigned to each team member.",
			CreatedAt: day(2024, time.February, 10), UpdatedAt: day(2024, time.February, 10),
		},
		{
			ID: "note-3", UserID: "user-1", Title: "Shopping List",
			Content:   "Groceries: milk, bread, eggs, cheese, tomatoes, onions, chicken, rice, pasta, olive oil. Don't forget to check for sales!",
			CreatedAt: day(2024, time.March, 5), UpdatedAt: day(2024, time.March, 5),
		},
		{
			ID: "note-4", UserID: "user-1", Title: "Book Recommendations",
			Content:   "Books to read this year: 1) \"Clean Code\" by Robert Martin, 2) \"The Pragmatic Programmer\", 3) \"Designing Data-Intensive Applications\", 4) \"System Design Interview\". Start with Clean Code!",
			CreatedAt: day(2024, time.March, 20), UpdatedAt: day(2024, time.March, 20),
		},
		{
			ID: "note-5", UserID: "user-1", Title: "OAuth 2.0 Learning Notes",
			Content:   "OAuth 2.0 is an authorization framework. Key concepts: Authorization Code Grant, Access Tokens, Refresh Tokens, Scopes. Remember: OAuth is for authorization, not authentication. OpenID Connect adds authentication layer on top.",
			CreatedAt: day(2024, time.April, 1), UpdatedAt: day(2024, time.April, 1),
		},
	}
	for _, note := range seed {
		if err := notes.CreateNote(ctx, note); err != nil {
			return err
		}
	}
	logger.Info("Seeded notes", "count", len(seed), "user_id", "user-1")
	return nil
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if os.Getenv("LOG_FORMAT") == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

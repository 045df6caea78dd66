// The clientapp binary runs the analytics relying party. It obtains tokens
// from the authorization server and builds a dashboard from the notes API.
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

	"github.com/notegrid/notegrid/clientapp"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file loaded", "error", err)
	}
	logger := newLogger()

	addr := envOr("CLIENT_ADDR", ":4002")

	handler := clientapp.NewHandler(clientapp.Config{
		AuthServerURL:     envOr("AUTH_SERVER_URL", "http://localhost:4000"),
		ResourceServerURL: envOr("RESOURCE_SERVER_URL", "http://localhost:4001"),
		ClientID:          envOr("CLIENT_ID", "analytics-app"),
		ClientSecret:      envOr("CLIENT_SECRET", "analytics-app-secret"),
		RedirectURL:       envOr("CALLBACK_URL", "http://localhost:4002/callback"),
		Scopes:            []string{"notes:read", "profile:read"},
		SessionSecret:     []byte(envOr("SESSION_SECRET", "client-app-session-secret-change-in-production")),
		Logger:            logger,
	})

	r := chi.NewRouter()
	handler.Routes(r)

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
	logger.Info("Client app listening", "addr", addr)

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown failed", "error", err)
	}
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

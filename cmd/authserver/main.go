// The authserver binary runs the OAuth 2.0 authorization server: login and
// consent pages, token issuance, introspection, and revocation.
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

	"github.com/notegrid/notegrid/instrumentation"
	"github.com/notegrid/notegrid/internal/password"
	"github.com/notegrid/notegrid/oauth"
	"github.com/notegrid/notegrid/security"
	"github.com/notegrid/notegrid/server"
	"github.com/notegrid/notegrid/storage"
	"github.com/notegrid/notegrid/storage/file"
	"github.com/notegrid/notegrid/storage/memory"
)

const serviceVersion = "0.1.0"

const defaultJWTSecret = "auth-server-super-secret-key-change-in-production"

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file loaded", "error", err)
	}
	logger := newLogger()

	secret := envOr("JWT_SECRET", defaultJWTSecret)
	if secret == defaultJWTSecret {
		logger.Warn("Using the default JWT secret, set JWT_SECRET in production")
	}
	sessionSecret := envOr("SESSION_SECRET", "session-secret-key-change-in-production")
	issuer := envOr("ISSUER", "http://localhost:4000")
	addr := envOr("AUTH_ADDR", ":4000")

	var (
		codes   storage.CodeStore
		tokens  storage.TokenStore
		clients storage.ClientStore
		users   storage.UserStore
		ms      *memory.Store
		stop    = func() {}
	)
	if path := os.Getenv("STORE_FILE"); path != "" {
		fs, err := file.Open(path)
		if err != nil {
			logger.Error("Failed to open store file", "path", path, "error", err)
			os.Exit(1)
		}
		fs.SetLogger(logger)
		codes, tokens, clients, users = fs, fs, fs, fs
		logger.Info("Using file-backed store", "path", path)
	} else {
		ms = memory.New()
		ms.SetLogger(logger)
		codes, tokens, clients, users = ms, ms, ms, ms
		stop = ms.Stop
	}

	if err := seedData(context.Background(), clients, users, logger); err != nil {
		logger.Error("Failed to seed data", "error", err)
		os.Exit(1)
	}

	svc, err := server.New(&server.Config{
		Issuer:          issuer,
		Secret:          secret,
		SupportedScopes: []string{"notes:read", "notes:write", "profile:read"},
		Logger:          logger,
	}, codes, tokens, clients, users)
	if err != nil {
		logger.Error("Failed to create token service", "error", err)
		os.Exit(1)
	}
	svc.SetAuditor(security.NewAuditor(logger, true))

	inst, err := instrumentation.New(instrumentation.Config{
		ServiceName:    "notegrid-auth",
		ServiceVersion: serviceVersion,
		Enabled:        os.Getenv("OTEL_ENABLED") == "true",
	})
	if err != nil {
		logger.Error("Failed to set up instrumentation", "error", err)
		os.Exit(1)
	}
	svc.SetInstrumentation(inst)
	if ms != nil {
		ms.SetInstrumentation(inst)
	}

	limiter := security.NewRateLimiter(10, 20, logger)

	handler := oauth.NewHandler(svc, []byte(sessionSecret), logger)
	handler.SetRateLimiter(limiter)
	handler.SetInstrumentation(inst)

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
	logger.Info("Authorization server listening", "addr", addr, "issuer", issuer)

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown failed", "error", err)
	}
	limiter.Stop()
	stop()
	if err := inst.Shutdown(shutdownCtx); err != nil {
		logger.Error("Instrumentation shutdown failed", "error", err)
	}
}

// seedData registers the demo user and the analytics client so the flow
// works out of the box.
func seedData(ctx context.Context, clients storage.ClientStore, users storage.UserStore, logger *slog.Logger) error {
	hash, err := password.Hash("password123")
	if err != nil {
		return err
	}
	if err := users.SaveUser(ctx, &storage.User{
		ID:           "user-1",
		Username:     "testuser",
		Email:        "test@example.com",
		PasswordHash: hash,
	}); err != nil {
		return err
	}
	logger.Info("Seeded user", "username", "testuser")

	if err := clients.SaveClient(ctx, &storage.Client{
		ID:           "analytics-app",
		Secret:       "analytics-app-secret",
		Name:         "Notes Analytics App",
		RedirectURIs: []string{"http://localhost:4002/callback"},
		Grants:       []string{"authorization_code", "refresh_token"},
		Scopes:       []string{"notes:read", "profile:read"},
		CreatedAt:    time.Now(),
	}); err != nil {
		return err
	}
	logger.Info("Seeded client", "client_id", "analytics-app")
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

package resource

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
)

type tokenContextKey struct{}

// TokenFromContext retrieves the introspected token placed by RequireToken.
func TokenFromContext(ctx context.Context) (*TokenInfo, bool) {
	info, ok := ctx.Value(tokenContextKey{}).(*TokenInfo)
	return info, ok
}

// RequireToken validates the bearer token via introspection and stores the
// result in the request context. Introspection transport failures surface as
// 500 server_error, not as token invalidity.
func RequireToken(client *IntrospectionClient, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r)
			if !ok {
				w.Header().Set("WWW-Authenticate", "Bearer")
				writeAPIError(w, "unauthorized", "Bearer token required", http.StatusUnauthorized)
				return
			}

			info, err := client.Introspect(r.Context(), raw)
			if err != nil {
				logger.Error("Introspection call failed", "error", err)
				writeAPIError(w, "server_error", "Token validation unavailable", http.StatusInternalServerError)
				return
			}
			if !info.Active {
				w.Header().Set("WWW-Authenticate", "Bearer error=\"invalid_token\"")
				writeAPIError(w, "invalid_token", "Token is invalid, expired, or revoked", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), tokenContextKey{}, info)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireScopes rejects requests whose token lacks any of the given scopes.
func RequireScopes(scopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			info, ok := TokenFromContext(r.Context())
			if !ok {
				writeAPIError(w, "unauthorized", "Bearer token required", http.StatusUnauthorized)
				return
			}
			for _, scope := range scopes {
				if !info.HasScope(scope) {
					writeAPIError(w, "insufficient_scope",
						"Token does not grant scope "+scope, http.StatusForbidden)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

func writeAPIError(w http.ResponseWriter, code, description string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":             code,
		"error_description": description,
	})
}

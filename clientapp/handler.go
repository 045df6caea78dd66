// Package clientapp implements the analytics relying party. It drives the
// authorization-code flow with PKCE against the authorization server and
// reads the user's notes from the resource server to build a dashboard.
package clientapp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/sessions"
	"golang.org/x/oauth2"

	"github.com/notegrid/notegrid/internal/util"
)

const sessionName = "notegrid_client"

var errTokenExpired = errors.New("access token rejected")

// Config carries the relying party's OAuth client registration and the
// addresses of the two servers it talks to.
type Config struct {
	AuthServerURL     string
	ResourceServerURL string
	ClientID          string
	ClientSecret      string
	RedirectURL       string
	Scopes            []string
	SessionSecret     []byte
	Logger            *slog.Logger
}

// Handler serves the relying party's pages.
type Handler struct {
	oauth       *oauth2.Config
	authURL     string
	resourceURL string
	sessions    *sessions.CookieStore
	httpClient  *http.Client
	logger      *slog.Logger
	tmpl        *template.Template
}

// NewHandler creates the relying party handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{"notes:read", "profile:read"}
	}

	store := sessions.NewCookieStore(cfg.SessionSecret)
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   3600,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}

	return &Handler{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthServerURL + "/authorize",
				TokenURL: cfg.AuthServerURL + "/token",
			},
		},
		authURL:     cfg.AuthServerURL,
		resourceURL: cfg.ResourceServerURL,
		sessions:    store,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		logger:      logger,
		tmpl:        parseTemplates(),
	}
}

// SetHTTPClient overrides the client used for token and API calls.
func (h *Handler) SetHTTPClient(c *http.Client) {
	if c != nil {
		h.httpClient = c
	}
}

// Routes registers the relying party routes on the given router.
func (h *Handler) Routes(r chi.Router) {
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/", h.ServeHome)
	r.Get("/connect", h.ServeConnect)
	r.Get("/callback", h.ServeCallback)
	r.Get("/dashboard", h.ServeDashboard)
	r.Post("/logout", h.ServeLogout)
	r.Get("/health", h.ServeHealth)
}

// ServeHome renders the landing page.
func (h *Handler) ServeHome(w http.ResponseWriter, r *http.Request) {
	sess, _ := h.sessions.Get(r, sessionName)
	_, loggedIn := sess.Values["access_token"].(string)
	username, _ := sess.Values["username"].(string)

	h.renderPage(w, "home", map[string]any{
		"LoggedIn": loggedIn,
		"Username": username,
	})
}

// ServeConnect starts the authorization flow. The state and PKCE verifier
// live in the session until the callback consumes them.
func (h *Handler) ServeConnect(w http.ResponseWriter, r *http.Request) {
	state, err := util.RandomHex(16)
	if err != nil {
		h.logger.Error("Failed to generate state", "error", err)
		h.renderError(w, "server_error", "Could not start the authorization flow")
		return
	}
	verifier := oauth2.GenerateVerifier()

	sess, _ := h.sessions.Get(r, sessionName)
	sess.Values["state"] = state
	sess.Values["verifier"] = verifier
	if err := sess.Save(r, w); err != nil {
		h.logger.Error("Failed to save session", "error", err)
		h.renderError(w, "server_error", "Could not start the authorization flow")
		return
	}

	http.Redirect(w, r, h.oauth.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier)), http.StatusFound)
}

// ServeCallback handles the authorization server's redirect back.
func (h *Handler) ServeCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if errCode := q.Get("error"); errCode != "" {
		desc := q.Get("error_description")
		if desc == "" {
			desc = "Authorization failed"
		}
		h.renderError(w, errCode, desc)
		return
	}

	sess, _ := h.sessions.Get(r, sessionName)
	wantState, _ := sess.Values["state"].(string)
	verifier, _ := sess.Values["verifier"].(string)
	if wantState == "" || q.Get("state") != wantState {
		h.renderError(w, "invalid_state", "State parameter mismatch")
		return
	}

	ctx := context.WithValue(r.Context(), oauth2.HTTPClient, h.httpClient)
	token, err := h.oauth.Exchange(ctx, q.Get("code"), oauth2.VerifierOption(verifier))
	if err != nil {
		h.logger.Error("Code exchange failed", "error", err)
		h.renderError(w, "token_error", "Failed to obtain tokens")
		return
	}

	delete(sess.Values, "state")
	delete(sess.Values, "verifier")
	h.storeToken(sess, token)

	// Userinfo is best effort; the dashboard works without a display name.
	if username, err := h.fetchUsername(r.Context(), token.AccessToken); err == nil {
		sess.Values["username"] = username
	}

	if err := sess.Save(r, w); err != nil {
		h.logger.Error("Failed to save session", "error", err)
		h.renderError(w, "server_error", "Could not persist the login")
		return
	}
	http.Redirect(w, r, "/dashboard", http.StatusFound)
}

// ServeDashboard fetches the user's notes and renders analytics over them.
// A rejected access token is refreshed once; if the refresh also fails the
// user is sent back to reconnect.
func (h *Handler) ServeDashboard(w http.ResponseWriter, r *http.Request) {
	sess, _ := h.sessions.Get(r, sessionName)
	access, ok := sess.Values["access_token"].(string)
	if !ok || access == "" {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	notes, err := h.fetchNotes(r.Context(), access)
	if errors.Is(err, errTokenExpired) {
		refresh, _ := sess.Values["refresh_token"].(string)
		token, refreshErr := h.refreshToken(r.Context(), refresh)
		if refreshErr != nil {
			h.logger.Info("Refresh failed, clearing session", "error", refreshErr)
			h.clearLogin(sess)
			_ = sess.Save(r, w)
			http.Redirect(w, r, "/", http.StatusFound)
			return
		}
		h.storeToken(sess, token)
		if err := sess.Save(r, w); err != nil {
			h.logger.Error("Failed to save session", "error", err)
		}
		notes, err = h.fetchNotes(r.Context(), token.AccessToken)
	}
	if err != nil {
		h.logger.Error("Failed to fetch notes", "error", err)
		h.renderError(w, "api_error", "Failed to fetch notes from the resource server")
		return
	}

	username, _ := sess.Values["username"].(string)
	h.renderPage(w, "dashboard", map[string]any{
		"Username":  username,
		"Notes":     notes,
		"Analytics": AnalyzeNotes(notes),
	})
}

// ServeLogout drops the local session. Tokens at the authorization server
// are left to expire; server-side revocation happens via its own logout.
func (h *Handler) ServeLogout(w http.ResponseWriter, r *http.Request) {
	sess, _ := h.sessions.Get(r, sessionName)
	h.clearLogin(sess)
	sess.Values = map[any]any{}
	if err := sess.Save(r, w); err != nil {
		h.logger.Error("Failed to save session", "error", err)
	}
	http.Redirect(w, r, "/", http.StatusFound)
}

// ServeHealth reports liveness.
func (h *Handler) ServeHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok", "service": "clientapp"})
}

func (h *Handler) refreshToken(ctx context.Context, refresh string) (*oauth2.Token, error) {
	if refresh == "" {
		return nil, errors.New("no refresh token in session")
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, h.httpClient)
	return h.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refresh}).Token()
}

func (h *Handler) storeToken(sess *sessions.Session, token *oauth2.Token) {
	sess.Values["access_token"] = token.AccessToken
	if token.RefreshToken != "" {
		sess.Values["refresh_token"] = token.RefreshToken
	}
}

func (h *Handler) clearLogin(sess *sessions.Session) {
	delete(sess.Values, "access_token")
	delete(sess.Values, "refresh_token")
	delete(sess.Values, "username")
}

// fetchNotes lists the user's notes from the resource server. A 401 maps to
// errTokenExpired so the caller can refresh and retry.
func (h *Handler) fetchNotes(ctx context.Context, accessToken string) ([]Note, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.resourceURL+"/api/notes", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call notes API: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, errTokenExpired
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("notes API returned status %d", resp.StatusCode)
	}

	var notes []Note
	if err := json.NewDecoder(resp.Body).Decode(&notes); err != nil {
		return nil, fmt.Errorf("decode notes: %w", err)
	}
	return notes, nil
}

func (h *Handler) fetchUsername(ctx context.Context, accessToken string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.authURL+"/userinfo", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("userinfo returned status %d", resp.StatusCode)
	}

	var info struct {
		Username string `json:"username"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", err
	}
	return info.Username, nil
}

func (h *Handler) renderPage(w http.ResponseWriter, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.tmpl.ExecuteTemplate(w, name, data); err != nil {
		h.logger.Error("Template render failed", "template", name, "error", err)
	}
}

func (h *Handler) renderError(w http.ResponseWriter, code, description string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusBadRequest)
	if err := h.tmpl.ExecuteTemplate(w, "error", map[string]string{
		"Error":       code,
		"Description": description,
	}); err != nil {
		h.logger.Error("Template render failed", "template", "error", "error", err)
	}
}

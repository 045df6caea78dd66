// Package oauth is the HTTP adapter for the authorization server. Handlers
// validate request shape, delegate to the server package, and map its errors
// to protocol-correct JSON responses or redirects.
package oauth

import (
	"encoding/json"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/sessions"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/notegrid/notegrid/instrumentation"
	"github.com/notegrid/notegrid/security"
	"github.com/notegrid/notegrid/server"
	"github.com/notegrid/notegrid/storage"
)

const sessionName = "notegrid_auth"

// Handler is a thin HTTP adapter for the authorization server service.
type Handler struct {
	server   *server.Service
	sessions *sessions.CookieStore
	limiter  *security.RateLimiter
	metrics  *instrumentation.Metrics
	tracer   trace.Tracer
	logger   *slog.Logger
	tmpl     *template.Template
}

// NewHandler creates a new HTTP handler. sessionSecret signs the browser
// session cookie that carries login state between the authorize pages.
func NewHandler(svc *server.Service, sessionSecret []byte, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	store := sessions.NewCookieStore(sessionSecret)
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   3600,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}

	return &Handler{
		server:   svc,
		sessions: store,
		logger:   logger,
		tmpl:     parseTemplates(),
	}
}

// SetRateLimiter enables per-IP rate limiting on all routes.
func (h *Handler) SetRateLimiter(limiter *security.RateLimiter) {
	h.limiter = limiter
}

// SetInstrumentation enables HTTP metrics and tracing.
func (h *Handler) SetInstrumentation(inst *instrumentation.Instrumentation) {
	h.metrics = inst.Metrics()
	h.tracer = inst.Tracer("http")
}

// Routes registers all authorization server routes on the router.
func (h *Handler) Routes(r chi.Router) {
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.rateLimitMiddleware)
	r.Use(h.metricsMiddleware)

	r.Get("/authorize", h.ServeAuthorize)
	r.Post("/authorize/login", h.ServeLogin)
	r.Post("/authorize/consent", h.ServeConsent)
	r.Post("/token", h.ServeToken)
	r.Post("/introspect", h.ServeIntrospection)
	r.Get("/userinfo", h.ServeUserInfo)
	r.Post("/revoke", h.ServeRevocation)
	r.Post("/logout", h.ServeLogout)
	r.Get("/.well-known/openid-configuration", h.ServeDiscovery)
	r.Get("/health", h.ServeHealth)
}

// flowData feeds the login and consent templates. The original authorization
// parameters travel through the forms as hidden fields.
type flowData struct {
	ResponseType        string
	ClientID            string
	RedirectURI         string
	Scope               string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string

	ClientName string
	Username   string
	Scopes     []string
	Error      string
}

func authRequestFromValues(v url.Values) server.AuthorizationRequest {
	return server.AuthorizationRequest{
		ResponseType:        v.Get("response_type"),
		ClientID:            v.Get("client_id"),
		RedirectURI:         v.Get("redirect_uri"),
		Scopes:              strings.Fields(v.Get("scope")),
		State:               v.Get("state"),
		CodeChallenge:       v.Get("code_challenge"),
		CodeChallengeMethod: v.Get("code_challenge_method"),
	}
}

func flowDataFromRequest(req server.AuthorizationRequest, client *storage.Client) flowData {
	d := flowData{
		ResponseType:        req.ResponseType,
		ClientID:            req.ClientID,
		RedirectURI:         req.RedirectURI,
		Scope:               strings.Join(req.Scopes, " "),
		State:               req.State,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		Scopes:              req.Scopes,
	}
	if client != nil {
		d.ClientName = client.Name
	}
	return d
}

// ServeAuthorize begins the authorization flow: it validates the request and
// renders the login page, or the consent page when the browser session is
// already authenticated.
func (h *Handler) ServeAuthorize(w http.ResponseWriter, r *http.Request) {
	req := authRequestFromValues(r.URL.Query())

	client, err := h.server.ValidateAuthorizationRequest(r.Context(), req)
	if err != nil {
		h.handleAuthorizeError(w, r, req, client, err)
		return
	}

	data := flowDataFromRequest(req, client)
	if user := h.sessionUser(r); user != "" {
		if u, err := h.server.UserByID(r.Context(), user); err == nil {
			data.Username = u.Username
			h.renderPage(w, "consent", data, http.StatusOK)
			return
		}
	}
	h.renderPage(w, "login", data, http.StatusOK)
}

// ServeLogin authenticates the resource owner and renders the consent page.
func (h *Handler) ServeLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.renderErrorPage(w, "Malformed form body", http.StatusBadRequest)
		return
	}
	req := authRequestFromValues(r.PostForm)

	client, err := h.server.ValidateAuthorizationRequest(r.Context(), req)
	if err != nil {
		h.handleAuthorizeError(w, r, req, client, err)
		return
	}

	user, err := h.server.AuthenticateUser(r.Context(),
		r.PostFormValue("username"), r.PostFormValue("password"), security.ClientIP(r))
	if err != nil {
		if errors.Is(err, server.ErrInvalidCredentials) {
			data := flowDataFromRequest(req, client)
			data.Error = "Invalid username or password"
			h.renderPage(w, "login", data, http.StatusOK)
			return
		}
		h.logger.Error("Login failed", "error", err)
		h.renderErrorPage(w, "Internal error", http.StatusInternalServerError)
		return
	}

	session, _ := h.sessions.Get(r, sessionName)
	session.Values["user_id"] = user.ID
	if err := session.Save(r, w); err != nil {
		h.logger.Error("Failed to save session", "error", err)
		h.renderErrorPage(w, "Internal error", http.StatusInternalServerError)
		return
	}

	data := flowDataFromRequest(req, client)
	data.Username = user.Username
	h.renderPage(w, "consent", data, http.StatusOK)
}

// ServeConsent records the resource owner's decision. Approval issues a
// single-use code and redirects back to the client; denial redirects with
// error=access_denied.
func (h *Handler) ServeConsent(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.renderErrorPage(w, "Malformed form body", http.StatusBadRequest)
		return
	}
	req := authRequestFromValues(r.PostForm)

	// Re-validate: the hidden fields round-tripped through the browser.
	client, err := h.server.ValidateAuthorizationRequest(r.Context(), req)
	if err != nil {
		h.handleAuthorizeError(w, r, req, client, err)
		return
	}

	userID := h.sessionUser(r)
	if userID == "" {
		data := flowDataFromRequest(req, client)
		data.Error = "Session expired, sign in again"
		h.renderPage(w, "login", data, http.StatusOK)
		return
	}

	if r.PostFormValue("action") != "approve" {
		h.redirectError(w, r, req.RedirectURI, ErrorCodeAccessDenied, "The resource owner denied the request", req.State)
		return
	}

	code, err := h.server.IssueCode(r.Context(), server.IssueCodeRequest{
		ClientID:            req.ClientID,
		UserID:              userID,
		RedirectURI:         req.RedirectURI,
		Scopes:              req.Scopes,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		ClientIP:            security.ClientIP(r),
	})
	if err != nil {
		h.logger.Error("Failed to issue authorization code", "error", err)
		h.redirectError(w, r, req.RedirectURI, ErrorCodeServerError, "Could not issue authorization code", req.State)
		return
	}

	target, err := url.Parse(req.RedirectURI)
	if err != nil {
		h.renderErrorPage(w, "Invalid redirect URI", http.StatusBadRequest)
		return
	}
	q := target.Query()
	q.Set("code", code)
	if req.State != "" {
		q.Set("state", req.State)
	}
	target.RawQuery = q.Encode()
	http.Redirect(w, r, target.String(), http.StatusFound)
}

// ServeToken dispatches on grant_type to the code or refresh exchange.
func (h *Handler) ServeToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.writeOAuthError(w, ErrInvalidRequest("Malformed form body"))
		return
	}

	clientID := r.PostFormValue("client_id")
	clientSecret := r.PostFormValue("client_secret")
	if id, secret, ok := r.BasicAuth(); ok {
		clientID, clientSecret = id, secret
	}

	grantType := r.PostFormValue("grant_type")
	ctx := r.Context()
	if h.tracer != nil {
		var span trace.Span
		ctx, span = h.tracer.Start(ctx, "oauth.token",
			trace.WithAttributes(
				attribute.String("oauth.grant_type", grantType),
				attribute.String("oauth.client_id", clientID),
			))
		defer span.End()
	}

	var (
		pair *server.TokenPair
		err  error
	)
	switch grantType {
	case "authorization_code":
		pair, err = h.server.Exchange(ctx, server.ExchangeRequest{
			Code:         r.PostFormValue("code"),
			ClientID:     clientID,
			RedirectURI:  r.PostFormValue("redirect_uri"),
			ClientSecret: clientSecret,
			CodeVerifier: r.PostFormValue("code_verifier"),
			ClientIP:     security.ClientIP(r),
		})
	case "refresh_token":
		pair, err = h.server.Refresh(ctx, server.RefreshRequest{
			RefreshToken: r.PostFormValue("refresh_token"),
			ClientID:     clientID,
			ClientSecret: clientSecret,
			ClientIP:     security.ClientIP(r),
		})
	default:
		h.writeOAuthError(w, ErrUnsupportedGrantType("Supported grant types: authorization_code, refresh_token"))
		return
	}
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, pair)
}

// ServeIntrospection reports a token's state. Always 200; an invalid token
// is {"active": false}, never an error.
func (h *Handler) ServeIntrospection(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.writeOAuthError(w, ErrInvalidRequest("Malformed form body"))
		return
	}
	info := h.server.Introspect(r.Context(), r.PostFormValue("token"))
	h.writeJSON(w, http.StatusOK, info)
}

// ServeUserInfo returns claims for the bearer token's subject.
func (h *Handler) ServeUserInfo(w http.ResponseWriter, r *http.Request) {
	raw, ok := bearerToken(r)
	if !ok {
		w.Header().Set("WWW-Authenticate", "Bearer")
		h.writeError(w, ErrorCodeUnauthorized, "Bearer token required", http.StatusUnauthorized)
		return
	}

	user, err := h.server.UserInfo(r.Context(), raw)
	if err != nil {
		switch {
		case errors.Is(err, server.ErrUnauthorized):
			w.Header().Set("WWW-Authenticate", "Bearer error=\"invalid_token\"")
			h.writeError(w, ErrorCodeUnauthorized, "Token is invalid or expired", http.StatusUnauthorized)
		case errors.Is(err, storage.ErrNotFound):
			h.writeError(w, ErrorCodeNotFound, "User no longer exists", http.StatusNotFound)
		default:
			h.logger.Error("Userinfo lookup failed", "error", err)
			h.writeError(w, ErrorCodeServerError, "Internal error", http.StatusInternalServerError)
		}
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{
		"sub":      user.ID,
		"username": user.Username,
		"email":    user.Email,
	})
}

// ServeRevocation revokes a token (RFC 7009). Unknown tokens revoke
// successfully.
func (h *Handler) ServeRevocation(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.writeOAuthError(w, ErrInvalidRequest("Malformed form body"))
		return
	}
	raw := r.PostFormValue("token")
	if raw == "" {
		h.writeOAuthError(w, ErrInvalidRequest("token is required"))
		return
	}

	if err := h.server.Revoke(r.Context(), raw, security.ClientIP(r)); err != nil {
		h.logger.Error("Revocation failed", "error", err)
		h.writeOAuthError(w, ErrServerError("Internal error"))
		return
	}
	h.writeJSON(w, http.StatusOK, struct{}{})
}

// ServeLogout revokes every token of the session user and clears the
// browser session.
func (h *Handler) ServeLogout(w http.ResponseWriter, r *http.Request) {
	userID := h.sessionUser(r)

	revoked := 0
	if userID != "" {
		var err error
		revoked, err = h.server.RevokeAllForUser(r.Context(), userID, "", security.ClientIP(r))
		if err != nil {
			h.logger.Error("Logout revocation failed", "error", err)
			h.writeOAuthError(w, ErrServerError("Internal error"))
			return
		}
	}

	session, _ := h.sessions.Get(r, sessionName)
	session.Options.MaxAge = -1
	_ = session.Save(r, w)

	h.writeJSON(w, http.StatusOK, map[string]int{"revoked": revoked})
}

// ServeDiscovery serves the OpenID Provider discovery document.
func (h *Handler) ServeDiscovery(w http.ResponseWriter, r *http.Request) {
	issuer := h.server.Config().Issuer

	methods := []string{"S256"}
	if !h.server.Config().DisablePKCEPlain {
		methods = append(methods, "plain")
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"issuer":                                issuer,
		"authorization_endpoint":                issuer + "/authorize",
		"token_endpoint":                        issuer + "/token",
		"introspection_endpoint":                issuer + "/introspect",
		"revocation_endpoint":                   issuer + "/revoke",
		"userinfo_endpoint":                     issuer + "/userinfo",
		"response_types_supported":              []string{"code"},
		"grant_types_supported":                 []string{"authorization_code", "refresh_token"},
		"scopes_supported":                      h.server.Config().SupportedScopes,
		"token_endpoint_auth_methods_supported": []string{"client_secret_basic", "client_secret_post", "none"},
		"code_challenge_methods_supported":      methods,
	})
}

// ServeHealth is a liveness probe.
func (h *Handler) ServeHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleAuthorizeError routes validation failures to the right surface: an
// error page when the redirect target cannot be trusted, a redirect back to
// the client otherwise.
func (h *Handler) handleAuthorizeError(w http.ResponseWriter, r *http.Request, req server.AuthorizationRequest, client *storage.Client, err error) {
	switch {
	case errors.Is(err, server.ErrUnknownClient):
		h.renderErrorPage(w, "Unknown client", http.StatusBadRequest)
	case errors.Is(err, server.ErrInvalidRedirectURI):
		h.renderErrorPage(w, "Redirect URI is missing or not registered for this client", http.StatusBadRequest)
	case errors.Is(err, server.ErrUnsupportedResponseType):
		h.redirectError(w, r, req.RedirectURI, ErrorCodeUnsupportedResponse, "Only response_type=code is supported", req.State)
	case errors.Is(err, server.ErrUnauthorizedClient):
		h.redirectError(w, r, req.RedirectURI, ErrorCodeUnauthorizedClient, "Client may not use the authorization code grant", req.State)
	case errors.Is(err, server.ErrInvalidScope):
		h.redirectError(w, r, req.RedirectURI, ErrorCodeInvalidScope, "Requested scope exceeds the client registration", req.State)
	case errors.Is(err, server.ErrUnsupportedChallengeMethod):
		h.redirectError(w, r, req.RedirectURI, ErrorCodeInvalidRequest, "Unsupported code_challenge_method", req.State)
	default:
		h.logger.Error("Authorization request validation failed", "error", err)
		h.renderErrorPage(w, "Internal error", http.StatusInternalServerError)
	}
}

// writeServiceError maps server package sentinels to OAuth error responses.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, server.ErrInvalidClient):
		h.writeOAuthError(w, ErrInvalidClient("Client authentication failed"))
	case errors.Is(err, server.ErrInvalidGrant):
		h.writeOAuthError(w, ErrInvalidGrant("The provided grant is invalid, expired, or already used"))
	case errors.Is(err, server.ErrUnsupportedChallengeMethod):
		h.writeOAuthError(w, ErrInvalidRequest("Unsupported code_challenge_method"))
	default:
		h.logger.Error("Token request failed", "error", err)
		h.writeOAuthError(w, ErrServerError("Internal error"))
	}
}

func (h *Handler) redirectError(w http.ResponseWriter, r *http.Request, redirectURI, code, description, state string) {
	target, err := url.Parse(redirectURI)
	if err != nil {
		h.renderErrorPage(w, "Invalid redirect URI", http.StatusBadRequest)
		return
	}
	q := target.Query()
	q.Set("error", code)
	q.Set("error_description", description)
	if state != "" {
		q.Set("state", state)
	}
	target.RawQuery = q.Encode()
	http.Redirect(w, r, target.String(), http.StatusFound)
}

func (h *Handler) sessionUser(r *http.Request) string {
	session, err := h.sessions.Get(r, sessionName)
	if err != nil {
		return ""
	}
	userID, _ := session.Values["user_id"].(string)
	return userID
}

func (h *Handler) renderPage(w http.ResponseWriter, name string, data flowData, status int) {
	security.SetPageSecurityHeaders(w)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := h.tmpl.ExecuteTemplate(w, name, data); err != nil {
		h.logger.Error("Template rendering failed", "template", name, "error", err)
	}
}

func (h *Handler) renderErrorPage(w http.ResponseWriter, description string, status int) {
	security.SetPageSecurityHeaders(w)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := h.tmpl.ExecuteTemplate(w, "error", struct{ Description string }{description}); err != nil {
		h.logger.Error("Template rendering failed", "template", "error", "error", err)
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	security.SetSecurityHeaders(w, h.server.Config().Issuer)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Response encoding failed", "error", err)
	}
}

func (h *Handler) writeOAuthError(w http.ResponseWriter, oerr *OAuthError) {
	h.writeError(w, oerr.Code, oerr.Description, oerr.Status)
}

func (h *Handler) writeError(w http.ResponseWriter, code, description string, status int) {
	security.SetSecurityHeaders(w, h.server.Config().Issuer)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":             code,
		"error_description": description,
	})
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

func (h *Handler) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.limiter != nil && !h.limiter.Allow(security.ClientIP(r)) {
			h.metrics.RecordRateLimitExceeded(r.Context())
			h.writeError(w, ErrorCodeRateLimitExceeded, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.metrics == nil {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.metrics.RecordHTTPRequest(r.Context(), r.Method, r.URL.Path,
			ww.Status(), float64(time.Since(start).Milliseconds()))
	})
}

package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/rs/xid"

	"github.com/sakif/incubator/internal/apperror"
	"github.com/sakif/incubator/internal/auth"
	"github.com/sakif/incubator/internal/model"
	"github.com/sakif/incubator/internal/service"
)

const stateCookie = "oauth_state"

// Authenticator is the part of service.AuthService the auth routes use.
type Authenticator interface {
	Register(ctx context.Context, name, email, password string) (*service.AuthResult, error)
	Login(ctx context.Context, email, password string) (*service.AuthResult, error)
	ResolveOAuthIdentity(ctx context.Context, p model.OAuthProfile) (*service.AuthResult, error)
	CurrentUser(ctx context.Context, id string) (*model.User, error)
}

// OAuthProvider is satisfied by *auth.GoogleProvider.
type OAuthProvider interface {
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (model.OAuthProfile, error)
}

// AuthHandler serves password sign-in, the Google redirect flow and the
// session endpoints.
type AuthHandler struct {
	svc          Authenticator
	google       OAuthProvider
	frontendURL  string
	secureCookie bool
	responder
}

// NewAuthHandler creates an AuthHandler. google may be nil when Google
// sign-in is not configured; its routes are then not mounted.
func NewAuthHandler(svc Authenticator, google OAuthProvider, frontendURL string, mode Mode, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		svc:          svc,
		google:       google,
		frontendURL:  frontendURL,
		secureCookie: mode.Production,
		responder:    responder{logger: logger, dev: mode.Verbose},
	}
}

// GoogleEnabled reports whether the Google routes should be mounted.
func (h *AuthHandler) GoogleEnabled() bool {
	return h.google != nil
}

type authResponse struct {
	Success bool        `json:"success"`
	Token   string      `json:"token"`
	User    *model.User `json:"user"`
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// HandleRegister creates an email/password account.
//
// HTTP: POST /register  {name, email, password}
// 201 {success, token, user}; 400 on validation or duplicate email.
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.svc.Register(r.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, authResponse{Success: true, Token: res.Token, User: res.User})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// HandleLogin signs in with email and password.
//
// HTTP: POST /login  {email, password}
// 200 {success, token, user}; 401 "invalid email or password".
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, authResponse{Success: true, Token: res.Token, User: res.User})
}

// HandleGoogleLogin redirects the browser to Google's consent page.
//
// HTTP: GET /auth/google
//
// CSRF PROTECTION VIA STATE:
// A random state goes into a short-lived HttpOnly cookie and into the
// redirect. The callback only proceeds when both match, which proves the
// flow was started from this browser.
func (h *AuthHandler) HandleGoogleLogin(w http.ResponseWriter, r *http.Request) {
	state := xid.New().String()

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   600,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.google.AuthURL(state), http.StatusTemporaryRedirect)
}

// HandleGoogleCallback completes the Google flow and hands the session to
// the frontend.
//
// HTTP: GET /auth/google/callback?code=...&state=...
//
// Success redirects to <frontend>/auth/callback?token=<jwt>&user=<json>.
// Any failure (bad state, user denied, exchange error, conflict) redirects
// to <frontend>/login?error=auth_failed; the reason is only logged.
func (h *AuthHandler) HandleGoogleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	cookie, err := r.Cookie(stateCookie)
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	if err != nil || cookie.Value == "" || q.Get("state") != cookie.Value {
		h.logger.Warn("google callback: state mismatch")
		h.failOAuth(w, r)
		return
	}

	if e := q.Get("error"); e != "" {
		h.logger.Info("google callback: authorization denied", slog.String("error", e))
		h.failOAuth(w, r)
		return
	}

	profile, err := h.google.Exchange(r.Context(), q.Get("code"))
	if err != nil {
		h.logger.Error("google callback: exchange failed", slog.String("error", err.Error()))
		h.failOAuth(w, r)
		return
	}

	res, err := h.svc.ResolveOAuthIdentity(r.Context(), profile)
	if err != nil {
		h.logger.Warn("google callback: identity not resolved", slog.String("error", err.Error()))
		h.failOAuth(w, r)
		return
	}

	userJSON, err := json.Marshal(res.User)
	if err != nil {
		h.logger.Error("google callback: encoding user", slog.String("error", err.Error()))
		h.failOAuth(w, r)
		return
	}

	v := url.Values{}
	v.Set("token", res.Token)
	v.Set("user", string(userJSON))
	http.Redirect(w, r, h.frontendURL+"/auth/callback?"+v.Encode(), http.StatusSeeOther)
}

func (h *AuthHandler) failOAuth(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, h.frontendURL+"/login?error=auth_failed", http.StatusSeeOther)
}

// HandleVerify confirms the bearer token and returns the full public user.
//
// HTTP: GET /verify   Auth: RequireAuth
func (h *AuthHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	user, ok := h.sessionUser(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"valid": true, "user": user})
}

// HandleMe is /verify in the {success, user} envelope.
//
// HTTP: GET /me   Auth: RequireAuth
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	user, ok := h.sessionUser(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"success": true, "user": user})
}

func (h *AuthHandler) sessionUser(w http.ResponseWriter, r *http.Request) (*model.User, bool) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		h.writeError(w, r, apperror.Unauthorized(auth.MsgNoToken))
		return nil, false
	}

	user, err := h.svc.CurrentUser(r.Context(), id.ID)
	if err != nil {
		// Deleted after RequireAuth let the request through.
		if errors.Is(err, apperror.ErrNotFound) {
			err = apperror.Unauthorized(auth.MsgUserGone)
		}
		h.writeError(w, r, err)
		return nil, false
	}
	return user, true
}

// HandleAdminGetUser returns any user by ID.
//
// HTTP: GET /admin/users/{id}   Auth: RequireAuth + RequireRole(admin)
func (h *AuthHandler) HandleAdminGetUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.svc.CurrentUser(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"success": true, "user": user})
}

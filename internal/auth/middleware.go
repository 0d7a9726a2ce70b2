package auth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sakif/incubator/internal/apperror"
	"github.com/sakif/incubator/internal/model"
)

// contextKey is unexported so no other package can read or shadow our
// context values.
type contextKey string

const identityKey contextKey = "identity"

// Identity is the session projection of a User attached to each
// authenticated request.
type Identity struct {
	ID    string
	Email string
	Name  string
	Role  model.Role
}

// UserLookup is the slice of the credential store the middleware needs.
type UserLookup interface {
	GetUserByID(ctx context.Context, id string) (*model.User, error)
}

// Client-facing messages. Handlers and tests compare against these.
const (
	MsgNoToken         = "no token provided"
	MsgTokenExpired    = "token expired"
	MsgTokenInvalid    = "invalid token"
	MsgUserGone        = "user no longer exists or is inactive"
	MsgAuthUnavailable = "authentication service unavailable"
	MsgForbidden       = "insufficient permissions"
)

// RequireAuth rejects requests without a valid session token.
//
// The token comes from "Authorization: Bearer <token>" or, failing that,
// the "x-auth-token" header. A verified token is not enough on its own: the
// user it names must still exist and be active, so deactivating an account
// cuts off its outstanding tokens immediately.
//
// Status codes:
//   - 401 missing, expired or invalid token; user deleted or inactive
//   - 503 the user lookup failed for any other reason
func RequireAuth(tokens *TokenService, users UserLookup, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := ExtractToken(r)
			if raw == "" {
				writeAuthError(w, http.StatusUnauthorized, MsgNoToken)
				return
			}

			userID, err := tokens.Validate(raw)
			if err != nil {
				if errors.Is(err, ErrTokenExpired) {
					writeAuthError(w, http.StatusUnauthorized, MsgTokenExpired)
					return
				}
				writeAuthError(w, http.StatusUnauthorized, MsgTokenInvalid)
				return
			}

			user, err := users.GetUserByID(r.Context(), userID)
			if err != nil {
				if errors.Is(err, apperror.ErrNotFound) {
					writeAuthError(w, http.StatusUnauthorized, MsgUserGone)
					return
				}
				logger.Error("session user lookup failed",
					slog.String("user_id", userID),
					slog.String("error", err.Error()),
				)
				writeAuthError(w, http.StatusServiceUnavailable, MsgAuthUnavailable)
				return
			}
			if !user.IsActive {
				writeAuthError(w, http.StatusUnauthorized, MsgUserGone)
				return
			}

			ctx := WithIdentity(r.Context(), Identity{
				ID:    user.ID,
				Email: user.Email,
				Name:  user.Name,
				Role:  user.Role,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole must be mounted after RequireAuth.
func RequireRole(role model.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFromContext(r.Context())
			if !ok {
				writeAuthError(w, http.StatusUnauthorized, MsgNoToken)
				return
			}
			if id.Role != role {
				writeAuthError(w, http.StatusForbidden, MsgForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext returns the authenticated identity, or false for an
// anonymous request.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok && id.ID != ""
}

// ExtractToken reads the bearer token. The "Bearer " scheme is matched
// case-insensitively and stripped; a bare Authorization value is used as-is.
func ExtractToken(r *http.Request) string {
	if h := strings.TrimSpace(r.Header.Get("Authorization")); h != "" {
		const scheme = "bearer"
		if len(h) >= len(scheme) && strings.EqualFold(h[:len(scheme)], scheme) &&
			(len(h) == len(scheme) || h[len(scheme)] == ' ') {
			return strings.TrimSpace(h[len(scheme):])
		}
		return h
	}
	return strings.TrimSpace(r.Header.Get("x-auth-token"))
}

func writeAuthError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"success": false, "error": msg})
}

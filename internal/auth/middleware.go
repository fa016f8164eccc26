package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/btouchard/switchboard/internal/model"
)

// Verifier resolves a bearer token to a user id.
type Verifier interface {
	Verify(token string) (string, error)
}

// UserLookup loads the current profile of a user.
type UserLookup interface {
	GetUser(ctx context.Context, id string) (*model.User, error)
}

// BearerAuth returns middleware that validates Bearer session tokens and
// stores the caller's current principal in the request context.
// Websocket upgrades may carry the token in the access_token query
// parameter instead, since browsers cannot set headers on them.
func BearerAuth(v Verifier, users UserLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, msg := bearerToken(r)
			if raw == "" {
				challengeAuth(w, msg)
				return
			}

			userID, err := v.Verify(raw)
			if err != nil {
				slog.Debug("token validation failed", "error", err)
				invalidToken(w, "invalid or expired token")
				return
			}

			user, err := users.GetUser(r.Context(), userID)
			if err != nil {
				slog.Debug("token subject lookup failed", "user_id", userID, "error", err)
				invalidToken(w, "unknown user")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), user.Principal())))
		})
	}
}

// bearerToken extracts the raw token, or returns why there is none.
func bearerToken(r *http.Request) (token, problem string) {
	header := r.Header.Get("Authorization")
	if header == "" {
		if isWebsocketUpgrade(r) {
			if tok := strings.TrimSpace(r.URL.Query().Get("access_token")); tok != "" {
				return tok, ""
			}
		}
		return "", "missing Authorization header"
	}

	scheme, tok, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(tok) == "" {
		return "", "invalid Authorization header format"
	}
	return strings.TrimSpace(tok), ""
}

func isWebsocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

// RequestPrincipal returns the principal BearerAuth stored on r.
func RequestPrincipal(r *http.Request) (model.Principal, error) {
	return PrincipalFrom(r.Context())
}

// RequireAdmin rejects callers whose principal is not an admin.
// It must run after BearerAuth.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := PrincipalFrom(r.Context())
		if err != nil {
			challengeAuth(w, "authentication required")
			return
		}
		if !p.IsAdmin() {
			writeError(w, http.StatusForbidden, "admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// challengeAuth sends a 401 with a Bearer challenge for unauthenticated requests.
func challengeAuth(w http.ResponseWriter, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="switchboard"`)
	writeError(w, http.StatusUnauthorized, msg)
}

// invalidToken sends a 401 for requests with an invalid/expired Bearer token.
func invalidToken(w http.ResponseWriter, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
	writeError(w, http.StatusUnauthorized, msg)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "message": msg})
}

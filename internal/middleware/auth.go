package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	apperrors "github.com/questline/session-server-go/internal/errors"
)

type contextKey string

const PrincipalContextKey contextKey = "principal"

// Principal is the authenticated caller. The credential format is
// "<principalId>:<email>"; the email half may be empty.
type Principal struct {
	ID    string
	Email string
}

func GetPrincipal(ctx context.Context) *Principal {
	if principal, ok := ctx.Value(PrincipalContextKey).(*Principal); ok {
		return principal
	}
	return nil
}

// ParseCredential splits a raw bearer credential into its principal. An
// empty principal id is always rejected.
func ParseCredential(raw string) (*Principal, error) {
	if raw == "" {
		return nil, apperrors.Unauthorized("Missing credential")
	}

	id := raw
	email := ""
	if i := strings.Index(raw, ":"); i >= 0 {
		id = raw[:i]
		email = raw[i+1:]
	}
	if id == "" {
		return nil, apperrors.Unauthorized("Credential has an empty principal id")
	}

	return &Principal{ID: id, Email: email}, nil
}

// ExtractToken pulls the credential from the token query parameter or the
// Authorization header. Query transport exists because browser websocket
// clients cannot set headers.
func ExtractToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}

	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}

	return ""
}

type AuthMiddleware struct{}

func NewAuthMiddleware() *AuthMiddleware {
	return &AuthMiddleware{}
}

func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, err := ParseCredential(ExtractToken(r))
		if err != nil {
			log.Warn().Str("path", r.URL.Path).Msg("auth middleware: rejected credential")
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error": "Missing or invalid credential",
			})
			return
		}

		ctx := context.WithValue(r.Context(), PrincipalContextKey, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

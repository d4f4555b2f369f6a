package auth

import (
	"context"
	"fmt"
	"net/http"

	"ms-booking/internal/logger"
	"ms-booking/internal/utils"
)

type contextKey string

const identityKey contextKey = "identity"

// Middleware rejects requests without a valid bearer token and stores the
// caller's Identity in the request context.
func Middleware(v Verifier, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rawToken, err := ExtractTokenFromRequest(r)
			if err != nil {
				_ = utils.WriteJSON(w, http.StatusUnauthorized, utils.CodedErrorResponse("unauthorized", "Authentication required", err.Error()))
				return
			}

			id, err := v.Verify(r.Context(), rawToken)
			if err != nil {
				log.LogSecurity("AUTH_FAILED", fmt.Sprintf("%s %s: %v", r.Method, r.URL.Path, err))
				_ = utils.WriteJSON(w, http.StatusUnauthorized, utils.CodedErrorResponse("unauthorized", "Invalid token", err.Error()))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// RequireRole lets a request through only if the caller has one of roles.
func RequireRole(log *logger.Logger, roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := FromContext(r.Context())
			for _, role := range roles {
				if id.HasRole(role) {
					next.ServeHTTP(w, r)
					return
				}
			}
			log.LogSecurity("FORBIDDEN", fmt.Sprintf("%s lacks %v for %s %s", id.Subject, roles, r.Method, r.URL.Path))
			_ = utils.WriteJSON(w, http.StatusForbidden, utils.CodedErrorResponse("forbidden", "Insufficient role", "forbidden"))
		})
	}
}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

func FromContext(ctx context.Context) Identity {
	id, _ := ctx.Value(identityKey).(Identity)
	return id
}

// UserID returns the authenticated principal, or "" when there is none.
func UserID(ctx context.Context) string {
	return FromContext(ctx).Subject
}

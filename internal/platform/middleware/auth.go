package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	id "provote/pkg/domain"
	"provote/pkg/requestcontext"
)

// TokenValidator resolves a bearer token to a voter identity.
type TokenValidator interface {
	ValidateToken(tokenString string) (id.UserID, error)
}

// OptionalAuth resolves the voter identity when a Bearer token is present.
// Anonymous requests pass through untouched; a presented-but-invalid token is
// rejected so a voter can't silently fall back to an anonymous identity and
// bypass the one-vote-per-voter constraint.
func OptionalAuth(validator TokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			const bearerPrefix = "Bearer "
			token, ok := strings.CutPrefix(authHeader, bearerPrefix)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			userID, err := validator.ValidateToken(token)
			if err != nil {
				ctx := r.Context()
				logger.WarnContext(ctx, "invalid bearer token",
					"error", err.Error(),
					"request_id", requestcontext.RequestID(ctx),
				)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"unauthorized","error_description":"Invalid or expired token"}`))
				return
			}

			ctx := requestcontext.WithUserID(r.Context(), userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/studytrack/backend/internal/httpx"
	"github.com/studytrack/backend/internal/models"
)

type ctxKey string

const ctxKeyUserID ctxKey = "user_id"

func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxKeyUserID, userID)
}

func UserIDFromContext(ctx context.Context) (string, bool) {
	uid, ok := ctx.Value(ctxKeyUserID).(string)
	return uid, ok && uid != ""
}

// TokenVerifier returns the user id carried by a bearer token.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// Auth rejects requests without a valid bearer token and stores the
// authenticated user id in the request context.
func Auth(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, found := strings.CutPrefix(header, "Bearer ")
			if !found || strings.TrimSpace(token) == "" {
				httpx.WriteJSON(w, http.StatusUnauthorized, models.ErrorResponse{Error: "Authentication required", Code: "unauthorized"})
				return
			}
			userID, err := verifier.Verify(strings.TrimSpace(token))
			if err != nil {
				httpx.WriteJSON(w, http.StatusUnauthorized, models.ErrorResponse{Error: "Invalid or expired token", Code: "unauthorized"})
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

package http

import (
	"context"
	"net/http"
)

type KeyValidator interface {
	Validate(ctx context.Context, apiKey string) bool
}

type AuthMiddleware struct {
	auth KeyValidator
}

func NewAuthMiddleware(a KeyValidator) *AuthMiddleware {
	return &AuthMiddleware{auth: a}
}

// Wrap requires a valid key in X-API-Key. Browsers cannot set headers
// on a websocket upgrade, so the api_key query parameter is accepted
// as well.
func (m *AuthMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey := r.Header.Get("X-API-Key")
		if apiKey == "" {
			apiKey = r.URL.Query().Get("api_key")
		}
		if apiKey == "" {
			writeError(w, http.StatusUnauthorized, "missing X-API-Key header")
			return
		}

		if !m.auth.Validate(r.Context(), apiKey) {
			writeError(w, http.StatusUnauthorized, "invalid API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

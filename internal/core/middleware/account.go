package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"

	"github.com/Nzyazin/arenapay/internal/core/logger"
	"github.com/google/uuid"
)

// HeaderAccountID carries the caller account, set by the authenticating gateway.
const HeaderAccountID = "X-Account-ID"

type accountKey struct{}

// RequireAccount rejects requests without a valid account header and stores the id
// in the request context.
func RequireAccount(log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := uuid.Parse(r.Header.Get(HeaderAccountID))
			if err != nil || id == uuid.Nil {
				log.Warn("Missing or invalid account header",
					logger.StringField("path", r.URL.Path),
					logger.StringField("remote_addr", r.RemoteAddr))
				writeError(w, http.StatusUnauthorized, "account required")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithAccount(r.Context(), id)))
		})
	}
}

func WithAccount(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, accountKey{}, id)
}

func AccountID(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(accountKey{}).(uuid.UUID)
	return id, ok
}

// RequireToken compares header against token in constant time. An empty token
// disables the routes behind it.
func RequireToken(header, token string, log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(header)
			if token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				log.Warn("Rejected token",
					logger.StringField("path", r.URL.Path),
					logger.StringField("remote_addr", r.RemoteAddr))
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write([]byte(`{"error":"` + msg + `","code":"unauthorized"}`))
}

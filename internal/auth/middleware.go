package auth

import (
	"log/slog"
	"net/http"

	"github.com/odyssey-erp/loanbook/internal/platform/httpx"
)

// Middleware rejects requests without a valid bearer token and stores the
// session in the request context.
func Middleware(v *Verifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, err := v.Verify(BearerToken(r.Header.Get("Authorization")))
			if err != nil {
				if logger != nil {
					logger.Warn("reject request", slog.String("path", r.URL.Path), slog.Any("error", err))
				}
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithSession(r.Context(), sess)))
		})
	}
}

package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/mkrupp/peershare/internal/domain"
	context_ "github.com/mkrupp/peershare/internal/infra/context"
	"github.com/mkrupp/peershare/internal/infra/logging"
)

// TokenValidator verifies a session token and returns the identity it was
// issued for. The directory coordinator validates its own tokens locally.
type TokenValidator interface {
	ValidateToken(ctx context.Context, tokenString string) (domain.AuthToken, error)
}

// AuthorizingMiddleware creates middleware that validates session tokens.
// Requests without a valid Bearer token in the Authorization header are
// rejected. On success the session's user identity and username are added to
// the request context.
func AuthorizingMiddleware(
	next http.Handler,
	validator TokenValidator,
	log logging.Logger,
) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			log.ErrorContext(r.Context(), "no token provided")
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)

			return
		}

		tokenString, _ := strings.CutPrefix(authHeader, "Bearer")
		tokenString = strings.TrimSpace(tokenString)

		token, err := validator.ValidateToken(r.Context(), tokenString)
		if err != nil {
			log.ErrorContext(r.Context(), "validate token failed", "error", err)
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)

			return
		}

		ctx := context_.WithUsername(r.Context(), token.Username)
		ctx = context_.WithUserID(ctx, token.UserID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

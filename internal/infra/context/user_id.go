package context

import (
	"context"

	"github.com/mkrupp/peershare/internal/domain"
)

const contextKeyUserID = contextKey("userID")

// UserIDFromContext extracts the authenticated user's identity from the context.
// Returns the identity and true if present, or zero and false if not present.
func UserIDFromContext(ctx context.Context) (domain.UserID, bool) {
	userID, ok := ctx.Value(contextKeyUserID).(domain.UserID)

	return userID, ok
}

// WithUserID creates a new context carrying the authenticated user's identity.
func WithUserID(ctx context.Context, userID domain.UserID) context.Context {
	return context.WithValue(ctx, contextKeyUserID, userID)
}

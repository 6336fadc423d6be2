package session

import (
	"context"

	"github.com/mkrupp/peershare/internal/domain"
)

// Registry defines the interface for the active session registry. It maps a
// logged-in user identity to the endpoint of the peer node serving that
// user's files.
//
// The registry is deliberately ephemeral: it is rebuilt by logins and must
// not survive a coordinator restart, since no stale endpoint can be trusted.
type Registry interface {
	// Register creates a session for the user with an atomic check-and-insert.
	// Returns ErrSessionExists if the user already has a session; an existing
	// endpoint is never silently overwritten.
	Register(ctx context.Context, userID domain.UserID, username, endpoint string) (domain.ActiveSession, error)

	// Lookup returns the endpoint of the user's active session.
	// Returns ErrSessionNotFound if the user has none.
	Lookup(ctx context.Context, userID domain.UserID) (string, error)

	// Remove deletes the user's session. Returns ErrSessionNotFound if the
	// user has none, so callers can treat repeated logouts as idempotent.
	Remove(ctx context.Context, userID domain.UserID) error

	// LockUser serializes registry-adjacent critical sections for one user
	// (register/remove/cascade-delete/upload). The returned func releases the
	// lock and must be called exactly once.
	LockUser(userID domain.UserID) func()
}

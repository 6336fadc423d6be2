package directoryclient

import (
	"context"

	"github.com/mkrupp/peershare/internal/domain"
)

// DirectoryClient is the peer-side view of the directory coordinator.
type DirectoryClient interface {
	// CreateAccount registers a new user account.
	// Returns domain.ErrUserAlreadyExists if the username is taken.
	CreateAccount(ctx context.Context, username, password string) error

	// Login opens a session with the coordinator, announcing the caller's
	// file-serving endpoint. Returns domain.ErrInvalidCredentials on bad
	// credentials and domain.ErrSessionExists if the user is already
	// logged in elsewhere.
	Login(ctx context.Context, username, password, endpoint string) (domain.SessionResponse, error)

	// Logout closes the session identified by userID, which also drops
	// every file record the user owns from the catalog.
	Logout(ctx context.Context, userID domain.UserID, token string) error

	// RegisterFiles records the given filenames as shared by the session
	// behind the token. The batch is all-or-nothing.
	RegisterFiles(ctx context.Context, filenames []string, token string) ([]domain.FileRecord, error)

	// Search returns all shared files whose name contains the keyword.
	Search(ctx context.Context, keyword string) ([]domain.FileRecord, error)

	// Resolve looks up which endpoint currently serves the given file.
	// Returns domain.ErrFileNotFound for unknown identifiers and
	// domain.ErrOwnerOffline when the record exists but its owner has no
	// active session.
	Resolve(ctx context.Context, fileID domain.FileID) (domain.FileLocation, error)
}

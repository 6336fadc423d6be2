package file

import (
	"context"

	"github.com/mkrupp/peershare/internal/domain"
)

// Repository defines the interface for the file ownership catalog.
// It maps server-assigned file identifiers to display filenames and owners.
type Repository interface {
	// RecordUploads registers a batch of filenames for the given owner and
	// returns the created records in request order. The batch is
	// all-or-nothing: if any insert fails, none of the filenames are kept.
	RecordUploads(ctx context.Context, filenames []string, ownerID domain.UserID) ([]domain.FileRecord, error)

	// GetFileByID retrieves a file record by its identifier.
	// Returns ErrFileNotFound if no record exists.
	GetFileByID(ctx context.Context, fileID domain.FileID) (domain.FileRecord, error)

	// Search returns all records whose filename contains the keyword,
	// case-insensitively. The result is unordered and may be empty.
	Search(ctx context.Context, keyword string) ([]domain.FileRecord, error)

	// DeleteAllOwnedBy removes every record owned by the given user and
	// returns the number of records deleted.
	DeleteAllOwnedBy(ctx context.Context, ownerID domain.UserID) (int64, error)

	// CountOwnedBy returns the number of records owned by the given user.
	CountOwnedBy(ctx context.Context, ownerID domain.UserID) (int64, error)

	// Close releases any resources held by the repository.
	Close() error
}

// RepositoryFactory is a function that creates a new Repository instance.
// Returns an error if initialization fails.
type RepositoryFactory func() (Repository, error)

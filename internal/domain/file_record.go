package domain

import "errors"

var (
	// ErrFileNotFound is returned when no file record exists for an identifier.
	ErrFileNotFound = errors.New("file not found")
	// ErrOwnerOffline is returned when a file record exists but its owner has
	// no active session, so the bytes are unreachable.
	ErrOwnerOffline = errors.New("file owner offline")
	// ErrNoFilenames is returned when a file registration carries no filenames.
	ErrNoFilenames = errors.New("no filenames")
)

// FileID uniquely identifies a catalog entry. Identifiers are assigned by the
// coordinator and never reused.
type FileID int64

// FileRecord maps a file identifier to its display filename and owning user.
// Filenames are not unique; records are disambiguated only by ID.
type FileRecord struct {
	ID        FileID `json:"fileId"`
	Filename  string `json:"filename"`
	OwnerID   UserID `json:"ownerId"`
	CreatedAt int64  `json:"-"`
}

// FileLocation is the result of resolving a file identifier: the endpoint of
// the peer currently holding the bytes, and the filename to request from it.
type FileLocation struct {
	Endpoint string `json:"endpoint"`
	Filename string `json:"filename"`
}

// RegisterFilesRequest carries the original filenames of a completed upload
// to the coordinator's catalog.
type RegisterFilesRequest struct {
	Filenames []string `json:"filenames"`
}

// RegisterFilesResponse returns the catalog identifiers assigned to a batch
// of registered files, in request order.
type RegisterFilesResponse struct {
	Files []FileRecord `json:"files"`
}

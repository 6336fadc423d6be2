package localfile

import (
	"context"
	"io"
)

// Store defines the interface for a peer node's local byte storage: the
// "store bytes under a local name" / "stream bytes by local name" capability.
type Store interface {
	// Store writes the reader's bytes under the given local name, replacing
	// any previous content. Returns the number of bytes written.
	Store(ctx context.Context, name string, reader io.Reader) (int64, error)

	// Open returns a stream over the bytes stored under the given local name
	// together with their size. Returns os.ErrNotExist if nothing is stored
	// under that name.
	Open(ctx context.Context, name string) (io.ReadCloser, int64, error)

	// Exists reports whether bytes are stored under the given local name.
	Exists(ctx context.Context, name string) bool

	// CreateTemp opens a pending file for the given target name. The target
	// name stays invisible until Promote; Discard removes all trace. This is
	// how partial downloads are kept from ever surfacing as complete files.
	CreateTemp(ctx context.Context, name string) (PendingFile, error)
}

// PendingFile is a download target in progress. Exactly one of Promote or
// Discard must be called.
type PendingFile interface {
	io.Writer

	// Promote atomically publishes the written bytes under the target name.
	Promote() error

	// Discard drops the written bytes, leaving nothing under the target name.
	Discard() error
}

// StoreFactory is a function that creates a new Store instance rooted at the
// given subdirectory. Returns an error if initialization fails.
type StoreFactory func(ctx context.Context, subdir string) (Store, error)

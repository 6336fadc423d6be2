package localfile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/mkrupp/peershare/internal/infra/logging"
)

var (
	ErrInvalidName = errors.New("invalid local name")
)

// FileSystemStoreConfig holds configuration for the filesystem-backed store.
type FileSystemStoreConfig struct {
	// Basedir is the root directory for the peer's local storage areas
	Basedir string `env:"BASEDIR" default:"var/storage/peer"`
}

// FileSystemStore implements Store on a flat directory. Names are local
// storage names chosen by the peer (never user-controlled paths), so a single
// directory level is enough; path separators in names are rejected outright.
type FileSystemStore struct {
	dir string
	log logging.Logger
}

var _ Store = (*FileSystemStore)(nil)

// FileSystemStoreFactory creates a factory function that returns a new
// FileSystemStore. The factory function implements the StoreFactory type.
func FileSystemStoreFactory(cfg FileSystemStoreConfig) StoreFactory {
	return func(ctx context.Context, subdir string) (Store, error) {
		return NewFileSystemStore(ctx, subdir, cfg)
	}
}

// NewFileSystemStore creates a new FileSystemStore rooted at basedir/subdir,
// creating the directory if needed.
func NewFileSystemStore(
	ctx context.Context,
	subdir string,
	cfg FileSystemStoreConfig,
) (*FileSystemStore, error) {
	dir := filepath.Join(cfg.Basedir, subdir)

	log := logging.GetLogger("repo.localfile.filesystem_store").With(
		logging.Group("store", "dir", dir),
	)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.ErrorContext(ctx, "init storage failed", "error", err)

		return nil, fmt.Errorf("mkdir all: %w", err)
	}

	log.DebugContext(ctx, "init storage")

	return &FileSystemStore{
		dir: dir,
		log: log,
	}, nil
}

func (fs *FileSystemStore) filename(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || name[0] == '.' {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	return filepath.Join(fs.dir, name), nil
}

// Store implements Store.Store.
func (fs *FileSystemStore) Store(
	ctx context.Context,
	name string,
	reader io.Reader,
) (written int64, err error) {
	defer func() {
		log := fs.log.With(logging.Group("file", "name", name, "bytes", written))
		if err != nil {
			log.ErrorContext(ctx, "file store failed", "error", err)
		} else {
			log.DebugContext(ctx, "file stored")
		}
	}()

	filename, err := fs.filename(name)
	if err != nil {
		return 0, err
	}

	file, err := os.OpenFile(filename, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, fmt.Errorf("open: %w", err)
	}
	defer file.Close()

	written, err = io.Copy(file, reader)
	if err != nil {
		return written, fmt.Errorf("copy: %w", err)
	}

	if err := file.Sync(); err != nil {
		return written, fmt.Errorf("sync: %w", err)
	}

	return written, nil
}

// Open implements Store.Open.
func (fs *FileSystemStore) Open(
	ctx context.Context,
	name string,
) (stream io.ReadCloser, size int64, err error) {
	defer func() {
		log := fs.log.With(logging.Group("file", "name", name))
		if err != nil {
			log.ErrorContext(ctx, "file open failed", "error", err)
		} else {
			log.DebugContext(ctx, "file opened", "size", size)
		}
	}()

	filename, err := fs.filename(name)
	if err != nil {
		return nil, 0, err
	}

	file, err := os.Open(filename)
	if err != nil {
		return nil, 0, fmt.Errorf("open: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		_ = file.Close()

		return nil, 0, fmt.Errorf("stat: %w", err)
	}

	return file, info.Size(), nil
}

// Exists implements Store.Exists.
func (fs *FileSystemStore) Exists(ctx context.Context, name string) bool {
	filename, err := fs.filename(name)
	if err != nil {
		return false
	}

	_, err = os.Stat(filename)

	return err == nil
}

// CreateTemp implements Store.CreateTemp. The pending bytes live in a
// dot-prefixed sibling file and only reach the target name through an
// os.Rename on Promote.
func (fs *FileSystemStore) CreateTemp(ctx context.Context, name string) (PendingFile, error) {
	filename, err := fs.filename(name)
	if err != nil {
		return nil, err
	}

	tmp, err := os.CreateTemp(fs.dir, "."+name+".part-*")
	if err != nil {
		return nil, fmt.Errorf("create temp: %w", err)
	}

	fs.log.DebugContext(ctx, "pending file created", logging.Group("file",
		"name", name,
		"temp", tmp.Name(),
	))

	return &pendingFile{
		file:   tmp,
		target: filename,
		log:    fs.log,
	}, nil
}

type pendingFile struct {
	file   *os.File
	target string
	log    logging.Logger
}

var _ PendingFile = (*pendingFile)(nil)

func (p *pendingFile) Write(b []byte) (int, error) {
	n, err := p.file.Write(b)
	if err != nil {
		return n, fmt.Errorf("write: %w", err)
	}

	return n, nil
}

// Promote publishes the pending bytes under the target name via rename, so
// readers either see the whole file or no file at all.
func (p *pendingFile) Promote() error {
	if err := p.file.Sync(); err != nil {
		_ = p.Discard()

		return fmt.Errorf("sync: %w", err)
	}

	if err := p.file.Close(); err != nil {
		_ = os.Remove(p.file.Name())

		return fmt.Errorf("close: %w", err)
	}

	if err := os.Rename(p.file.Name(), p.target); err != nil {
		_ = os.Remove(p.file.Name())

		return fmt.Errorf("rename: %w", err)
	}

	return nil
}

// Discard removes the pending bytes. The target name is untouched.
func (p *pendingFile) Discard() error {
	_ = p.file.Close()

	if err := os.Remove(p.file.Name()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove: %w", err)
	}

	return nil
}

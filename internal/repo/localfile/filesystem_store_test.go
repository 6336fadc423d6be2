package localfile_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mkrupp/peershare/internal/repo/localfile"
)

func setupTestStore(t *testing.T) (*localfile.FileSystemStore, string) {
	t.Helper()

	basedir := t.TempDir()

	store, err := localfile.NewFileSystemStore(context.Background(), "shared", localfile.FileSystemStoreConfig{
		Basedir: basedir,
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	return store, filepath.Join(basedir, "shared")
}

func TestFileSystemStore_StoreAndOpen(t *testing.T) {
	t.Parallel()

	store, _ := setupTestStore(t)
	ctx := context.Background()
	content := []byte("hello peers")

	written, err := store.Store(ctx, "greeting.txt", bytes.NewReader(content))
	if err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	if written != int64(len(content)) {
		t.Errorf("Store() wrote %d bytes, want %d", written, len(content))
	}

	stream, size, err := store.Open(ctx, "greeting.txt")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer stream.Close()

	if size != int64(len(content)) {
		t.Errorf("Open() size = %d, want %d", size, len(content))
	}

	got, err := io.ReadAll(stream)
	if err != nil {
		t.Fatalf("failed to read stream: %v", err)
	}

	if !bytes.Equal(got, content) {
		t.Errorf("Open() content = %q, want %q", got, content)
	}
}

func TestFileSystemStore_OpenMissing(t *testing.T) {
	t.Parallel()

	store, _ := setupTestStore(t)

	_, _, err := store.Open(context.Background(), "missing.txt")
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Open(missing) error = %v, want os.ErrNotExist", err)
	}
}

func TestFileSystemStore_InvalidNames(t *testing.T) {
	t.Parallel()

	store, _ := setupTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		filename string
	}{
		{name: "empty", filename: ""},
		{name: "path traversal", filename: "../escape.txt"},
		{name: "absolute path", filename: "/etc/passwd"},
		{name: "nested path", filename: "dir/file.txt"},
		{name: "dot prefixed", filename: ".hidden"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := store.Store(ctx, tt.filename, strings.NewReader("x"))
			if !errors.Is(err, localfile.ErrInvalidName) {
				t.Errorf("Store(%q) error = %v, want ErrInvalidName", tt.filename, err)
			}

			if store.Exists(ctx, tt.filename) {
				t.Errorf("Exists(%q) = true, want false", tt.filename)
			}
		})
	}
}

func TestFileSystemStore_Exists(t *testing.T) {
	t.Parallel()

	store, _ := setupTestStore(t)
	ctx := context.Background()

	if store.Exists(ctx, "data.bin") {
		t.Error("Exists() = true before Store()")
	}

	if _, err := store.Store(ctx, "data.bin", strings.NewReader("data")); err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	if !store.Exists(ctx, "data.bin") {
		t.Error("Exists() = false after Store()")
	}
}

func TestFileSystemStore_PendingPromote(t *testing.T) {
	t.Parallel()

	store, dir := setupTestStore(t)
	ctx := context.Background()

	pending, err := store.CreateTemp(ctx, "movie.mkv")
	if err != nil {
		t.Fatalf("CreateTemp() error = %v", err)
	}

	if _, err := pending.Write([]byte("partial ")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	// While pending, the target name must not exist
	if store.Exists(ctx, "movie.mkv") {
		t.Error("target name visible before Promote()")
	}

	if _, err := pending.Write([]byte("and the rest")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	if err := pending.Promote(); err != nil {
		t.Fatalf("Promote() error = %v", err)
	}

	stream, _, err := store.Open(ctx, "movie.mkv")
	if err != nil {
		t.Fatalf("Open() after Promote() error = %v", err)
	}
	defer stream.Close()

	got, err := io.ReadAll(stream)
	if err != nil {
		t.Fatalf("failed to read stream: %v", err)
	}

	if string(got) != "partial and the rest" {
		t.Errorf("promoted content = %q", got)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("failed to read store dir: %v", err)
	}

	if len(entries) != 1 {
		t.Errorf("store dir has %d entries after Promote(), want 1", len(entries))
	}
}

func TestFileSystemStore_PendingDiscard(t *testing.T) {
	t.Parallel()

	store, dir := setupTestStore(t)
	ctx := context.Background()

	pending, err := store.CreateTemp(ctx, "aborted.iso")
	if err != nil {
		t.Fatalf("CreateTemp() error = %v", err)
	}

	if _, err := pending.Write([]byte("half a download")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	if err := pending.Discard(); err != nil {
		t.Fatalf("Discard() error = %v", err)
	}

	// No partial file may survive under any name
	if store.Exists(ctx, "aborted.iso") {
		t.Error("target name exists after Discard()")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("failed to read store dir: %v", err)
	}

	if len(entries) != 0 {
		t.Errorf("store dir has %d entries after Discard(), want 0", len(entries))
	}
}

func TestFileSystemStore_StoreReplaces(t *testing.T) {
	t.Parallel()

	store, _ := setupTestStore(t)
	ctx := context.Background()

	if _, err := store.Store(ctx, "file.txt", strings.NewReader("version one")); err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	if _, err := store.Store(ctx, "file.txt", strings.NewReader("two")); err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	stream, size, err := store.Open(ctx, "file.txt")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer stream.Close()

	if size != int64(len("two")) {
		t.Errorf("size after replace = %d, want %d", size, len("two"))
	}
}

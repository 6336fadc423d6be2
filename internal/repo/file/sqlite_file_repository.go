package file

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mkrupp/peershare/internal/domain"
	"github.com/mkrupp/peershare/internal/infra/logging"
)

// SQLiteFileRepositoryConfig holds configuration for the SQLite file catalog.
type SQLiteFileRepositoryConfig struct {
	// DatabasePath is the filesystem path to the SQLite database file
	DatabasePath string `env:"DATABASE_PATH" default:"var/storage/directory-files.db"`
}

// SQLiteFileRepository implements Repository using SQLite as the storage backend.
// File identifiers come from an AUTOINCREMENT column, so they are never reused
// even after records are deleted.
type SQLiteFileRepository struct {
	db        *sql.DB
	log       logging.Logger
	writeLock *sync.Mutex // go-sqlite does not support concurrent writes
}

var _ Repository = (*SQLiteFileRepository)(nil)

// SQLiteFileRepositoryFactory creates a factory function that returns a new
// SQLiteFileRepository. The factory function implements the RepositoryFactory type.
func SQLiteFileRepositoryFactory(cfg SQLiteFileRepositoryConfig) RepositoryFactory {
	return func() (Repository, error) {
		return NewSQLiteFileRepository(cfg)
	}
}

// NewSQLiteFileRepository creates a new SQLiteFileRepository with the given
// configuration. It initializes the database connection and creates the schema
// if needed. Returns an error if database connection or initialization fails.
func NewSQLiteFileRepository(cfg SQLiteFileRepositoryConfig) (*SQLiteFileRepository, error) {
	log := logging.GetLogger("repo.file.sqlite_file_repository").With(
		logging.Group("db", "path", cfg.DatabasePath),
	)

	db, err := sql.Open("sqlite", cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := initializeDB(db); err != nil {
		return nil, fmt.Errorf("initialize db: %w", err)
	}

	db.SetConnMaxLifetime(5 * time.Minute)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	return &SQLiteFileRepository{
		db:        db,
		log:       log,
		writeLock: new(sync.Mutex),
	}, nil
}

func initializeDB(db *sql.DB) (err error) {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS files (
			file_id    INTEGER PRIMARY KEY AUTOINCREMENT,
			filename   TEXT    NOT NULL,
			owner_id   INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	if _, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_files_owner ON files (owner_id)
	`); err != nil {
		return fmt.Errorf("create index: %w", err)
	}

	return nil
}

// RecordUploads implements Repository.RecordUploads using a single transaction,
// so a failed insert never leaves a partial batch in the catalog.
func (r *SQLiteFileRepository) RecordUploads(
	ctx context.Context,
	filenames []string,
	ownerID domain.UserID,
) (records []domain.FileRecord, err error) {
	if len(filenames) == 0 {
		return nil, domain.ErrNoFilenames
	}

	r.writeLock.Lock()
	defer r.writeLock.Unlock()

	defer func() {
		log := r.log.With(logging.Group("batch", "owner", int64(ownerID), "count", len(filenames)))
		if err != nil {
			log.ErrorContext(ctx, "record uploads failed", "error", err)
		} else {
			log.DebugContext(ctx, "uploads recorded")
		}
	}()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().Unix()

	for _, filename := range filenames {
		result, err := tx.ExecContext(ctx,
			"INSERT INTO files (filename, owner_id, created_at) VALUES (?, ?, ?)",
			filename,
			int64(ownerID),
			now,
		)
		if err != nil {
			return nil, fmt.Errorf("insert file %q: %w", filename, err)
		}

		fileID, err := result.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("last insert id: %w", err)
		}

		records = append(records, domain.FileRecord{
			ID:        domain.FileID(fileID),
			Filename:  filename,
			OwnerID:   ownerID,
			CreatedAt: now,
		})
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return records, nil
}

// GetFileByID implements Repository.GetFileByID using SQLite.
func (r *SQLiteFileRepository) GetFileByID(
	ctx context.Context,
	fileID domain.FileID,
) (domain.FileRecord, error) {
	var record domain.FileRecord

	err := r.db.QueryRowContext(ctx,
		"SELECT file_id, filename, owner_id, created_at FROM files WHERE file_id = ?",
		int64(fileID),
	).Scan(&record.ID, &record.Filename, &record.OwnerID, &record.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = errors.Join(domain.ErrFileNotFound, err)
		}

		return domain.FileRecord{}, fmt.Errorf("query file: %w", err)
	}

	return record, nil
}

// Search implements Repository.Search with a case-insensitive substring match
// over the filename column.
func (r *SQLiteFileRepository) Search(
	ctx context.Context,
	keyword string,
) ([]domain.FileRecord, error) {
	pattern := "%" + escapeLike(strings.ToLower(keyword)) + "%"

	rows, err := r.db.QueryContext(ctx,
		"SELECT file_id, filename, owner_id, created_at FROM files "+
			"WHERE lower(filename) LIKE ? ESCAPE '\\'",
		pattern,
	)
	if err != nil {
		return nil, fmt.Errorf("query files: %w", err)
	}
	defer rows.Close()

	var records []domain.FileRecord

	for rows.Next() {
		var record domain.FileRecord
		if err := rows.Scan(&record.ID, &record.Filename, &record.OwnerID, &record.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}

		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate files: %w", err)
	}

	return records, nil
}

// DeleteAllOwnedBy implements Repository.DeleteAllOwnedBy using SQLite.
func (r *SQLiteFileRepository) DeleteAllOwnedBy(
	ctx context.Context,
	ownerID domain.UserID,
) (count int64, err error) {
	r.writeLock.Lock()
	defer r.writeLock.Unlock()

	defer func() {
		log := r.log.With(logging.Group("cascade", "owner", int64(ownerID), "deleted", count))
		if err != nil {
			log.ErrorContext(ctx, "cascade delete failed", "error", err)
		} else {
			log.DebugContext(ctx, "owner files deleted")
		}
	}()

	result, err := r.db.ExecContext(ctx,
		"DELETE FROM files WHERE owner_id = ?",
		int64(ownerID),
	)
	if err != nil {
		return 0, fmt.Errorf("delete files: %w", err)
	}

	count, err = result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}

	return count, nil
}

// CountOwnedBy implements Repository.CountOwnedBy using SQLite.
func (r *SQLiteFileRepository) CountOwnedBy(
	ctx context.Context,
	ownerID domain.UserID,
) (int64, error) {
	var count int64

	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM files WHERE owner_id = ?",
		int64(ownerID),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count files: %w", err)
	}

	return count, nil
}

// Close implements Repository.Close by closing the database connection.
func (r *SQLiteFileRepository) Close() error {
	if err := r.db.Close(); err != nil {
		return fmt.Errorf("close db: %w", err)
	}

	return nil
}

// escapeLike escapes LIKE metacharacters so keywords containing % or _
// match literally.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	s = strings.ReplaceAll(s, "_", `\_`)

	return s
}

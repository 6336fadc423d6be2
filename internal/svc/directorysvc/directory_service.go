package directorysvc

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/mkrupp/peershare/internal/domain"
	"github.com/mkrupp/peershare/internal/infra/logging"
	"github.com/mkrupp/peershare/internal/repo/file"
	"github.com/mkrupp/peershare/internal/repo/session"
	"github.com/mkrupp/peershare/internal/repo/user"
)

// DirectoryConfig contains configuration parameters for the directory coordinator.
type DirectoryConfig struct {
	// SigningKeyFile is the path to the RSA private key file
	SigningKeyFile string `env:"SIGNING_KEY_FILE" default:"var/storage/directorysvc.key"`

	// SessionDuration is the validity duration of session tokens in seconds
	SessionDuration int64 `env:"SESSION_DURATION" default:"1800"` // 30m, matches the session cookie lifetime

	// BcryptCost is the bcrypt work factor for password hashing
	BcryptCost int `env:"BCRYPT_COST" default:"12"`
}

// DirectoryService is the directory coordinator: it owns the credential
// store, the file ownership catalog and the active session registry, and
// brokers file-location resolution for peer nodes.
//
// Registry and catalog mutations for one user are serialized through the
// registry's per-user lock, so a cascade delete can never interleave with a
// concurrent login or upload for the same user.
type DirectoryService struct {
	Config     DirectoryConfig
	UserRepo   user.Repository
	FileRepo   file.Repository
	Sessions   session.Registry
	Log        logging.Logger
	SigningKey *rsa.PrivateKey
}

// NewDirectoryService creates a new DirectoryService from the given repository
// factories and configuration. Returns an error if the signing key cannot be
// loaded or a repository cannot be created.
func NewDirectoryService(
	userFactory user.RepositoryFactory,
	fileFactory file.RepositoryFactory,
	registry session.Registry,
	cfg DirectoryConfig,
) (*DirectoryService, error) {
	log := logging.GetLogger("svc.directorysvc.directory_service")

	signingKey, err := GetPrivateKey(cfg.SigningKeyFile)
	if err != nil {
		return nil, fmt.Errorf("get private key: %w", err)
	}

	userRepo, err := userFactory()
	if err != nil {
		return nil, fmt.Errorf("new user repo: %w", err)
	}

	fileRepo, err := fileFactory()
	if err != nil {
		return nil, fmt.Errorf("new file repo: %w", err)
	}

	return &DirectoryService{
		Config:     cfg,
		UserRepo:   userRepo,
		FileRepo:   fileRepo,
		Sessions:   registry,
		Log:        log,
		SigningKey: signingKey,
	}, nil
}

// RegisterUser creates a new user account with the given username and password.
// The password is bcrypt-hashed before storage.
// Returns ErrUserAlreadyExists if the username is taken.
func (s *DirectoryService) RegisterUser(ctx context.Context, username, password string) (err error) {
	log := s.Log.With(logging.Group("user", "username", username))

	defer func() {
		if err != nil {
			log.ErrorContext(ctx, "register user failed", "error", err)
		} else {
			log.DebugContext(ctx, "user registered")
		}
	}()

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(password), s.Config.BcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	if err := s.UserRepo.CreateUser(ctx, username, passwordHash); err != nil {
		return fmt.Errorf("create user: %w", err)
	}

	return nil
}

// Login verifies the credentials, registers an active session pointing at the
// caller's file-serving endpoint and returns the identity with a signed
// session token.
//
// Returns ErrInvalidCredentials on verification failure and ErrSessionExists
// if the user is already logged in somewhere; an existing session is never
// overwritten.
func (s *DirectoryService) Login(
	ctx context.Context,
	username string,
	password string,
	endpoint string,
) (_ domain.SessionResponse, err error) {
	log := s.Log.With(logging.Group("user", "username", username, "endpoint", endpoint))

	defer func() {
		if err != nil {
			log.ErrorContext(ctx, "login failed", "error", err)
		} else {
			log.DebugContext(ctx, "login successful")
		}
	}()

	if _, _, err := net.SplitHostPort(endpoint); err != nil {
		return domain.SessionResponse{}, errors.Join(domain.ErrInvalidEndpoint, err)
	}

	// Verify credentials
	account, ok, err := s.UserRepo.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return domain.SessionResponse{}, errors.Join(domain.ErrInvalidCredentials, err)
		}

		return domain.SessionResponse{}, fmt.Errorf("get user: %w", err)
	} else if !ok {
		return domain.SessionResponse{}, domain.ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword(account.PasswordHash, []byte(password)); err != nil {
		return domain.SessionResponse{}, errors.Join(domain.ErrInvalidCredentials, err)
	}

	// Register session under the user lock; check-and-insert is atomic
	unlock := s.Sessions.LockUser(account.ID)
	defer unlock()

	if _, err := s.Sessions.Register(ctx, account.ID, account.Username, endpoint); err != nil {
		return domain.SessionResponse{}, fmt.Errorf("register session: %w", err)
	}

	token, err := s.signToken(account.ID, account.Username)
	if err != nil {
		// A session without a usable token is dead weight; roll it back
		_ = s.Sessions.Remove(ctx, account.ID)

		return domain.SessionResponse{}, fmt.Errorf("sign token: %w", err)
	}

	return domain.SessionResponse{
		UserID:   account.ID,
		Username: account.Username,
		Token:    token,
	}, nil
}

// Logout removes the user's active session and cascade-deletes every file
// record the user owns, since the bytes become unreachable once the owning
// node goes offline.
//
// Returns ErrSessionNotFound if no session exists; callers can ignore that to
// keep their own logout flow idempotent.
func (s *DirectoryService) Logout(ctx context.Context, userID domain.UserID) (err error) {
	log := s.Log.With(logging.Group("user", "id", int64(userID)))

	defer func() {
		if err != nil {
			log.ErrorContext(ctx, "logout failed", "error", err)
		} else {
			log.DebugContext(ctx, "logout successful")
		}
	}()

	unlock := s.Sessions.LockUser(userID)
	defer unlock()

	// Cascade first: dependent records go before the session row, so a
	// crash in between leaves no orphaned file records.
	deleted, err := s.FileRepo.DeleteAllOwnedBy(ctx, userID)
	if err != nil {
		return fmt.Errorf("cascade delete files: %w", err)
	}

	log = log.With("filesDeleted", deleted)

	if err := s.Sessions.Remove(ctx, userID); err != nil {
		return fmt.Errorf("remove session: %w", err)
	}

	return nil
}

// RegisterFiles records a batch of uploaded filenames for the given owner.
// The owner must have an active session; the batch is all-or-nothing.
func (s *DirectoryService) RegisterFiles(
	ctx context.Context,
	ownerID domain.UserID,
	filenames []string,
) (records []domain.FileRecord, err error) {
	log := s.Log.With(logging.Group("upload", "owner", int64(ownerID), "count", len(filenames)))

	defer func() {
		if err != nil {
			log.ErrorContext(ctx, "register files failed", "error", err)
		} else {
			log.DebugContext(ctx, "files registered")
		}
	}()

	if len(filenames) == 0 {
		return nil, domain.ErrNoFilenames
	}

	unlock := s.Sessions.LockUser(ownerID)
	defer unlock()

	// An upload racing a logout must not resurrect records after the
	// cascade delete, so the session check sits inside the user lock.
	if _, err := s.Sessions.Lookup(ctx, ownerID); err != nil {
		return nil, fmt.Errorf("lookup session: %w", err)
	}

	records, err = s.FileRepo.RecordUploads(ctx, filenames, ownerID)
	if err != nil {
		return nil, fmt.Errorf("record uploads: %w", err)
	}

	return records, nil
}

// Search returns all catalog records whose filename contains the keyword,
// case-insensitively.
func (s *DirectoryService) Search(ctx context.Context, keyword string) ([]domain.FileRecord, error) {
	records, err := s.FileRepo.Search(ctx, keyword)
	if err != nil {
		return nil, fmt.Errorf("search files: %w", err)
	}

	return records, nil
}

// Resolve turns a file identifier into the endpoint currently serving it and
// the filename to request there. It is a pure read composition over the
// catalog and the registry.
//
// Returns ErrFileNotFound if no record exists and ErrOwnerOffline if the
// record exists but its owner has no active session.
func (s *DirectoryService) Resolve(
	ctx context.Context,
	fileID domain.FileID,
) (_ domain.FileLocation, err error) {
	log := s.Log.With(logging.Group("resolve", "file", int64(fileID)))

	defer func() {
		if err != nil {
			log.WarnContext(ctx, "resolve failed", "error", err)
		} else {
			log.DebugContext(ctx, "file resolved")
		}
	}()

	record, err := s.FileRepo.GetFileByID(ctx, fileID)
	if err != nil {
		return domain.FileLocation{}, fmt.Errorf("get file: %w", err)
	}

	endpoint, err := s.Sessions.Lookup(ctx, record.OwnerID)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			err = errors.Join(domain.ErrOwnerOffline, err)
		}

		return domain.FileLocation{}, fmt.Errorf("lookup owner session: %w", err)
	}

	return domain.FileLocation{
		Endpoint: endpoint,
		Filename: record.Filename,
	}, nil
}

// ValidateToken verifies a session token's signature and expiration.
// Returns the decoded token if valid, or an error if validation fails.
func (s *DirectoryService) ValidateToken(
	ctx context.Context,
	tokenString string,
) (token domain.AuthToken, err error) {
	token, err = ValidateToken(ctx, tokenString, &s.SigningKey.PublicKey)
	if err != nil {
		return domain.AuthToken{}, fmt.Errorf("validate token: %w", err)
	}

	return token, nil
}

func (s *DirectoryService) signToken(userID domain.UserID, username string) (string, error) {
	now := time.Now()
	expiry := now.Add(time.Duration(s.Config.SessionDuration * int64(time.Second)))
	token := domain.AuthToken{
		UserID:    userID,
		Username:  username,
		IssuedAt:  now.Unix(),
		ExpiresAt: expiry.Unix(),
	}

	tokenBytes, err := json.Marshal(token)
	if err != nil {
		return "", fmt.Errorf("marshal token: %w", err)
	}

	hashed := sha256.Sum256(tokenBytes)

	signature, err := rsa.SignPSS(rand.Reader, s.SigningKey, crypto.SHA256, hashed[:], nil)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	return base64.URLEncoding.EncodeToString(append(tokenBytes, signature...)), nil
}

// Close releases resources held by the service, such as database connections.
func (s *DirectoryService) Close() error {
	if err := s.UserRepo.Close(); err != nil {
		return fmt.Errorf("close user repo: %w", err)
	}

	if err := s.FileRepo.Close(); err != nil {
		return fmt.Errorf("close file repo: %w", err)
	}

	return nil
}

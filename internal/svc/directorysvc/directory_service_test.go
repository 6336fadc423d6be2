package directorysvc_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/mkrupp/peershare/internal/domain"
	"github.com/mkrupp/peershare/internal/infra/logging"
	"github.com/mkrupp/peershare/internal/repo/session"
	"github.com/mkrupp/peershare/internal/svc/directorysvc"
)

var ErrRepoError = errors.New("repository error")

// mockUserRepository implements user.Repository for testing.
type mockUserRepository struct {
	users map[string]*domain.User
	err   error
	m     sync.Mutex
}

func newMockUserRepo() *mockUserRepository {
	return &mockUserRepository{
		users: make(map[string]*domain.User),
	}
}

func (m *mockUserRepository) CreateUser(_ context.Context, username string, passwordHash []byte) error {
	m.m.Lock()
	defer m.m.Unlock()

	if m.err != nil {
		return m.err
	}

	if _, exists := m.users[username]; exists {
		return domain.ErrUserAlreadyExists
	}

	m.users[username] = &domain.User{
		ID:           domain.UserID(len(m.users) + 1),
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().Unix(),
	}

	return nil
}

func (m *mockUserRepository) GetUserByUsername(_ context.Context, username string) (*domain.User, bool, error) {
	m.m.Lock()
	defer m.m.Unlock()

	if m.err != nil {
		return nil, false, m.err
	}

	user, exists := m.users[username]
	if !exists {
		return nil, false, domain.ErrUserNotFound
	}

	return user, true, nil
}

func (m *mockUserRepository) Close() error {
	return m.err
}

// mockFileRepository implements file.Repository in memory, with the same
// monotonically increasing ID semantics as the SQLite catalog.
type mockFileRepository struct {
	files  map[domain.FileID]domain.FileRecord
	nextID domain.FileID
	err    error
	m      sync.Mutex
}

func newMockFileRepo() *mockFileRepository {
	return &mockFileRepository{
		files:  make(map[domain.FileID]domain.FileRecord),
		nextID: 1,
	}
}

func (m *mockFileRepository) RecordUploads(
	_ context.Context,
	filenames []string,
	ownerID domain.UserID,
) ([]domain.FileRecord, error) {
	m.m.Lock()
	defer m.m.Unlock()

	if m.err != nil {
		return nil, m.err
	}

	records := make([]domain.FileRecord, 0, len(filenames))

	for _, filename := range filenames {
		record := domain.FileRecord{
			ID:        m.nextID,
			Filename:  filename,
			OwnerID:   ownerID,
			CreatedAt: time.Now().Unix(),
		}
		m.files[record.ID] = record
		m.nextID++

		records = append(records, record)
	}

	return records, nil
}

func (m *mockFileRepository) GetFileByID(_ context.Context, fileID domain.FileID) (domain.FileRecord, error) {
	m.m.Lock()
	defer m.m.Unlock()

	if m.err != nil {
		return domain.FileRecord{}, m.err
	}

	record, ok := m.files[fileID]
	if !ok {
		return domain.FileRecord{}, domain.ErrFileNotFound
	}

	return record, nil
}

func (m *mockFileRepository) Search(_ context.Context, keyword string) ([]domain.FileRecord, error) {
	m.m.Lock()
	defer m.m.Unlock()

	if m.err != nil {
		return nil, m.err
	}

	var records []domain.FileRecord

	for _, record := range m.files {
		if keyword == "" || containsFold(record.Filename, keyword) {
			records = append(records, record)
		}
	}

	return records, nil
}

func (m *mockFileRepository) DeleteAllOwnedBy(_ context.Context, ownerID domain.UserID) (int64, error) {
	m.m.Lock()
	defer m.m.Unlock()

	if m.err != nil {
		return 0, m.err
	}

	var count int64

	for id, record := range m.files {
		if record.OwnerID == ownerID {
			delete(m.files, id)
			count++
		}
	}

	return count, nil
}

func (m *mockFileRepository) CountOwnedBy(_ context.Context, ownerID domain.UserID) (int64, error) {
	m.m.Lock()
	defer m.m.Unlock()

	var count int64

	for _, record := range m.files {
		if record.OwnerID == ownerID {
			count++
		}
	}

	return count, nil
}

func (m *mockFileRepository) Close() error {
	return m.err
}

func containsFold(s, substr string) bool {
	lower := func(b byte) byte {
		if b >= 'A' && b <= 'Z' {
			return b + 'a' - 'A'
		}

		return b
	}

	for i := 0; i+len(substr) <= len(s); i++ {
		match := true

		for j := range len(substr) {
			if lower(s[i+j]) != lower(substr[j]) {
				match = false

				break
			}
		}

		if match {
			return true
		}
	}

	return false
}

func setupTestService(t *testing.T) (*directorysvc.DirectoryService, *mockUserRepository, *mockFileRepository) {
	t.Helper()

	signingKey, err := directorysvc.GeneratePrivateKey(2048)
	if err != nil {
		t.Fatalf("failed to generate signing key: %v", err)
	}

	userRepo := newMockUserRepo()
	fileRepo := newMockFileRepo()

	svc := &directorysvc.DirectoryService{
		Config: directorysvc.DirectoryConfig{
			SessionDuration: 3600,
			BcryptCost:      bcrypt.MinCost,
		},
		UserRepo:   userRepo,
		FileRepo:   fileRepo,
		Sessions:   session.NewMemorySessionRegistry(),
		Log:        logging.GetLogger("test.directorysvc"),
		SigningKey: signingKey,
	}

	return svc, userRepo, fileRepo
}

func TestDirectoryService_RegisterUser(t *testing.T) {
	t.Parallel()

	svc, _, _ := setupTestService(t)
	ctx := context.Background()

	if err := svc.RegisterUser(ctx, "alice", "secret123"); err != nil {
		t.Fatalf("RegisterUser() error = %v", err)
	}

	if err := svc.RegisterUser(ctx, "alice", "othersecret"); !errors.Is(err, domain.ErrUserAlreadyExists) {
		t.Errorf("RegisterUser() duplicate error = %v, want ErrUserAlreadyExists", err)
	}
}

func TestDirectoryService_Login(t *testing.T) {
	t.Parallel()

	svc, _, _ := setupTestService(t)
	ctx := context.Background()

	if err := svc.RegisterUser(ctx, "alice", "secret123"); err != nil {
		t.Fatalf("RegisterUser() error = %v", err)
	}

	tests := []struct {
		name     string
		username string
		password string
		endpoint string
		wantErr  error
	}{
		{
			name:     "successful login",
			username: "alice",
			password: "secret123",
			endpoint: "10.0.0.1:9000",
		},
		{
			name:     "wrong password",
			username: "alice",
			password: "wrongpass",
			endpoint: "10.0.0.1:9000",
			wantErr:  domain.ErrInvalidCredentials,
		},
		{
			name:     "unknown user",
			username: "nobody",
			password: "secret123",
			endpoint: "10.0.0.1:9000",
			wantErr:  domain.ErrInvalidCredentials,
		},
		{
			name:     "endpoint without port",
			username: "alice",
			password: "secret123",
			endpoint: "10.0.0.1",
			wantErr:  domain.ErrInvalidEndpoint,
		},
		{
			name:     "duplicate login",
			username: "alice",
			password: "secret123",
			endpoint: "10.0.0.2:9000",
			wantErr:  domain.ErrSessionExists,
		},
	}

	// Order matters: "successful login" leaves a session behind for the
	// "duplicate login" case.
	for _, tt := range tests { //nolint:paralleltest
		t.Run(tt.name, func(t *testing.T) {
			resp, err := svc.Login(context.Background(), tt.username, tt.password, tt.endpoint)

			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Login() error = %v, want %v", err, tt.wantErr)
				}

				return
			}

			if err != nil {
				t.Fatalf("Login() error = %v", err)
			}

			if resp.Username != tt.username || resp.Token == "" {
				t.Errorf("Login() = %+v, want identity with token", resp)
			}

			token, err := svc.ValidateToken(context.Background(), resp.Token)
			if err != nil {
				t.Errorf("Login() issued invalid token: %v", err)
			} else if token.UserID != resp.UserID {
				t.Errorf("token user = %d, want %d", token.UserID, resp.UserID)
			}
		})
	}
}

func TestDirectoryService_LogoutCascade(t *testing.T) {
	t.Parallel()

	svc, _, fileRepo := setupTestService(t)
	ctx := context.Background()

	if err := svc.RegisterUser(ctx, "alice", "secret123"); err != nil {
		t.Fatalf("RegisterUser() error = %v", err)
	}

	resp, err := svc.Login(ctx, "alice", "secret123", "10.0.0.1:9000")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	if _, err := svc.RegisterFiles(ctx, resp.UserID, []string{"a.txt", "b.txt"}); err != nil {
		t.Fatalf("RegisterFiles() error = %v", err)
	}

	if err := svc.Logout(ctx, resp.UserID); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}

	count, err := fileRepo.CountOwnedBy(ctx, resp.UserID)
	if err != nil {
		t.Fatalf("CountOwnedBy() error = %v", err)
	}

	if count != 0 {
		t.Errorf("catalog still holds %d records after logout", count)
	}

	// Second logout finds no session
	if err := svc.Logout(ctx, resp.UserID); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Errorf("Logout() twice error = %v, want ErrSessionNotFound", err)
	}

	// And the user can log in again afterwards
	if _, err := svc.Login(ctx, "alice", "secret123", "10.0.0.2:9000"); err != nil {
		t.Errorf("Login() after logout error = %v", err)
	}
}

func TestDirectoryService_RegisterFilesRequiresSession(t *testing.T) {
	t.Parallel()

	svc, _, _ := setupTestService(t)
	ctx := context.Background()

	if _, err := svc.RegisterFiles(ctx, 1, []string{"a.txt"}); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Errorf("RegisterFiles() without session error = %v, want ErrSessionNotFound", err)
	}

	if _, err := svc.RegisterFiles(ctx, 1, nil); !errors.Is(err, domain.ErrNoFilenames) {
		t.Errorf("RegisterFiles() with no filenames error = %v, want ErrNoFilenames", err)
	}
}

func TestDirectoryService_Resolve(t *testing.T) {
	t.Parallel()

	svc, _, _ := setupTestService(t)
	ctx := context.Background()

	if err := svc.RegisterUser(ctx, "alice", "secret123"); err != nil {
		t.Fatalf("RegisterUser() error = %v", err)
	}

	resp, err := svc.Login(ctx, "alice", "secret123", "10.0.0.1:9000")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	records, err := svc.RegisterFiles(ctx, resp.UserID, []string{"song.mp3"})
	if err != nil {
		t.Fatalf("RegisterFiles() error = %v", err)
	}

	location, err := svc.Resolve(ctx, records[0].ID)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	if location.Endpoint != "10.0.0.1:9000" || location.Filename != "song.mp3" {
		t.Errorf("Resolve() = %+v, want song.mp3 at 10.0.0.1:9000", location)
	}

	if _, err := svc.Resolve(ctx, 99999); !errors.Is(err, domain.ErrFileNotFound) {
		t.Errorf("Resolve(unknown) error = %v, want ErrFileNotFound", err)
	}
}

func TestDirectoryService_ResolveOwnerOffline(t *testing.T) {
	t.Parallel()

	svc, _, fileRepo := setupTestService(t)
	ctx := context.Background()

	// A record whose owner has no session: possible when the registry was
	// cleared by a restart while the catalog survived on disk.
	records, err := fileRepo.RecordUploads(ctx, []string{"stale.txt"}, 42)
	if err != nil {
		t.Fatalf("RecordUploads() error = %v", err)
	}

	if _, err := svc.Resolve(ctx, records[0].ID); !errors.Is(err, domain.ErrOwnerOffline) {
		t.Errorf("Resolve() error = %v, want ErrOwnerOffline", err)
	}
}

func TestDirectoryService_ConcurrentRegisterFiles(t *testing.T) {
	t.Parallel()

	svc, _, fileRepo := setupTestService(t)
	ctx := context.Background()

	if err := svc.RegisterUser(ctx, "alice", "secret123"); err != nil {
		t.Fatalf("RegisterUser() error = %v", err)
	}

	resp, err := svc.Login(ctx, "alice", "secret123", "10.0.0.1:9000")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	const batches = 16

	var wg sync.WaitGroup

	for i := range batches {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			if _, err := svc.RegisterFiles(ctx, resp.UserID, []string{"file.txt"}); err != nil {
				t.Errorf("RegisterFiles() batch %d error = %v", i, err)
			}
		}(i)
	}

	wg.Wait()

	count, err := fileRepo.CountOwnedBy(ctx, resp.UserID)
	if err != nil {
		t.Fatalf("CountOwnedBy() error = %v", err)
	}

	if count != batches {
		t.Errorf("catalog holds %d records, want %d", count, batches)
	}
}

// TestDirectoryService_ShareAndFetchFlow runs the whole coordinator side of a
// share: two users, one uploads, the other searches, resolves and the owner
// logs out, making the file unresolvable.
func TestDirectoryService_ShareAndFetchFlow(t *testing.T) {
	t.Parallel()

	svc, _, _ := setupTestService(t)
	ctx := context.Background()

	for _, username := range []string{"owner", "leecher"} {
		if err := svc.RegisterUser(ctx, username, "secret123"); err != nil {
			t.Fatalf("RegisterUser(%s) error = %v", username, err)
		}
	}

	owner, err := svc.Login(ctx, "owner", "secret123", "10.0.0.1:9000")
	if err != nil {
		t.Fatalf("Login(owner) error = %v", err)
	}

	if _, err := svc.Login(ctx, "leecher", "secret123", "10.0.0.2:9000"); err != nil {
		t.Fatalf("Login(leecher) error = %v", err)
	}

	if _, err := svc.RegisterFiles(ctx, owner.UserID, []string{"Quarterly_Report.pdf"}); err != nil {
		t.Fatalf("RegisterFiles() error = %v", err)
	}

	found, err := svc.Search(ctx, "report")
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}

	if len(found) != 1 {
		t.Fatalf("Search() returned %d records, want 1", len(found))
	}

	location, err := svc.Resolve(ctx, found[0].ID)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	if location.Endpoint != "10.0.0.1:9000" {
		t.Errorf("Resolve() endpoint = %q, want owner's", location.Endpoint)
	}

	if err := svc.Logout(ctx, owner.UserID); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}

	if _, err := svc.Resolve(ctx, found[0].ID); !errors.Is(err, domain.ErrFileNotFound) {
		t.Errorf("Resolve() after owner logout error = %v, want ErrFileNotFound", err)
	}
}

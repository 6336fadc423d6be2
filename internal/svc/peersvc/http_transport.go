package peersvc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"sort"
	"strconv"
	"sync"

	"github.com/mkrupp/peershare/internal/domain"
	"github.com/mkrupp/peershare/internal/infra/logging"
	http_ "github.com/mkrupp/peershare/internal/infra/transport/http"
)

var (
	// ErrNoUsername is returned when the username is missing from the request.
	ErrNoUsername = errors.New("no username")
	// ErrNoPassword is returned when the password is missing from the request.
	ErrNoPassword = errors.New("no password")
	// ErrNoMultipartFiles is returned when an upload carries no files.
	ErrNoMultipartFiles = errors.New("no multipart files")
)

// HTTPTransportConfig contains configuration parameters for the peer's
// user-facing API.
type HTTPTransportConfig struct {
	http_.HTTPTransportConfig

	// MultipartFormMaxMemory is the maximum allowed memory for multipart form uploads.
	// Default is 10MB.
	MultipartFormMaxMemory int64 `env:"MULTIPART_FORM_MAX_SIZE" default:"10485760"`
}

// HTTPTransport handles HTTP requests for the peer node's user-facing API:
// account and session management, uploads, catalog search and downloads.
// Every operation answers with a structured JSON result.
type HTTPTransport struct {
	peer *PeerService
	log  logging.Logger
	cfg  HTTPTransportConfig
}

var _ http_.HTTPTransport = (*HTTPTransport)(nil)

// NewHTTPTransport creates a new HTTPTransport instance with the given configuration.
func NewHTTPTransport(peer *PeerService, cfg HTTPTransportConfig) *HTTPTransport {
	return &HTTPTransport{
		peer: peer,
		log:  logging.GetLogger("svc.peersvc.http_transport"),
		cfg:  cfg,
	}
}

// ServeHTTP implements http.Handler and sets up the peer API routes:
// - POST   /api/users: create an account at the coordinator
// - POST   /api/login: open a session
// - POST   /api/logout: close the session
// - POST   /api/files: upload and share files (multipart)
// - GET    /api/search?keyword=: search the catalog
// - POST   /api/downloads/{file_id}: start a download
// - DELETE /api/downloads/{transfer_id}: abort a download
// - GET    /api/downloads: list transfers with state and progress.
func (ht *HTTPTransport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/users", ht.HandleCreateAccount)
	mux.HandleFunc("POST /api/login", ht.HandleLogin)
	mux.HandleFunc("POST /api/logout", ht.HandleLogout)
	mux.HandleFunc("POST /api/files", ht.HandleUpload)
	mux.HandleFunc("GET /api/search", ht.HandleSearch)
	mux.HandleFunc("POST /api/downloads/{file_id}", ht.HandleStartDownload)
	mux.HandleFunc("DELETE /api/downloads/{transfer_id}", ht.HandleAbortDownload)
	mux.HandleFunc("GET /api/downloads", ht.HandleListDownloads)

	mux.ServeHTTP(w, r)
}

// HandleCreateAccount creates a new account at the coordinator.
// Expects form parameters: username, password.
func (ht *HTTPTransport) HandleCreateAccount(w http.ResponseWriter, r *http.Request) {
	_ = ht.handleCreateAccount(w, r)
}

func (ht *HTTPTransport) handleCreateAccount(w http.ResponseWriter, r *http.Request) (err error) {
	log := ht.log.With(logging.Group("http", "method", r.Method, "url", r.URL.String()))

	defer func(ctx context.Context) {
		if err != nil {
			log.ErrorContext(ctx, "create account failed", "error", err)
		} else {
			log.DebugContext(ctx, "account created")
		}
	}(r.Context())

	username, password, err := formCredentials(w, r)
	if err != nil {
		return err
	}

	if err := ht.peer.CreateAccount(r.Context(), username, password); err != nil {
		writeDomainError(w, err)

		return fmt.Errorf("create account: %w", err)
	}

	return nil
}

// HandleLogin opens a session at the coordinator.
// Expects form parameters: username, password.
func (ht *HTTPTransport) HandleLogin(w http.ResponseWriter, r *http.Request) {
	_ = ht.handleLogin(w, r)
}

func (ht *HTTPTransport) handleLogin(w http.ResponseWriter, r *http.Request) (err error) {
	log := ht.log.With(logging.Group("http", "method", r.Method, "url", r.URL.String()))

	defer func(ctx context.Context) {
		if err != nil {
			log.ErrorContext(ctx, "login failed", "error", err)
		} else {
			log.DebugContext(ctx, "login successful")
		}
	}(r.Context())

	username, password, err := formCredentials(w, r)
	if err != nil {
		return err
	}

	session, err := ht.peer.Login(r.Context(), username, password)
	if err != nil {
		writeDomainError(w, err)

		return fmt.Errorf("login: %w", err)
	}

	if err := json.NewEncoder(w).Encode(session); err != nil {
		return fmt.Errorf("encode response: %w", err)
	}

	return nil
}

// HandleLogout closes the current session.
func (ht *HTTPTransport) HandleLogout(w http.ResponseWriter, r *http.Request) {
	_ = ht.handleLogout(w, r)
}

func (ht *HTTPTransport) handleLogout(w http.ResponseWriter, r *http.Request) (err error) {
	log := ht.log.With(logging.Group("http", "method", r.Method, "url", r.URL.String()))

	defer func(ctx context.Context) {
		if err != nil {
			log.ErrorContext(ctx, "logout failed", "error", err)
		} else {
			log.DebugContext(ctx, "logout successful")
		}
	}(r.Context())

	if err := ht.peer.Logout(r.Context()); err != nil {
		writeDomainError(w, err)

		return fmt.Errorf("logout: %w", err)
	}

	return nil
}

// HandleUpload shares the files in the multipart form: each file is stored
// locally and the batch is registered with the coordinator. All-or-nothing;
// nothing is published if any file fails.
func (ht *HTTPTransport) HandleUpload(w http.ResponseWriter, r *http.Request) {
	_ = ht.handleUpload(w, r)
}

func (ht *HTTPTransport) handleUpload(w http.ResponseWriter, r *http.Request) (err error) {
	log := ht.log.With(logging.Group("http", "method", r.Method, "url", r.URL.String()))

	defer func(ctx context.Context) {
		if err != nil {
			log.ErrorContext(ctx, "upload failed", "error", err)
		} else {
			log.DebugContext(ctx, "upload complete")
		}
	}(r.Context())

	stored, err := ht.storeMultipartFiles(r)
	if err != nil {
		if errors.Is(err, domain.ErrNotLoggedIn) {
			writeDomainError(w, err)
		} else {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		}

		return fmt.Errorf("store multipart files: %w", err)
	}

	records, err := ht.peer.PublishShared(r.Context(), stored)
	if err != nil {
		writeDomainError(w, err)

		return fmt.Errorf("publish shared: %w", err)
	}

	if err := json.NewEncoder(w).Encode(domain.RegisterFilesResponse{Files: records}); err != nil {
		return fmt.Errorf("encode response: %w", err)
	}

	return nil
}

// storeMultipartFiles stores every uploaded file concurrently and returns
// them in filename order. Any failure fails the whole batch before anything
// is published.
func (ht *HTTPTransport) storeMultipartFiles(r *http.Request) ([]SharedFile, error) {
	if err := r.ParseMultipartForm(ht.cfg.MultipartFormMaxMemory); err != nil {
		return nil, fmt.Errorf("parse multipart form: %w", err)
	}

	if r.MultipartForm == nil || len(r.MultipartForm.File) == 0 {
		return nil, ErrNoMultipartFiles
	}

	var (
		wg        sync.WaitGroup
		m         sync.Mutex
		stored    []SharedFile
		storeErrs []error
	)

	for _, headers := range r.MultipartForm.File {
		for _, fileHeader := range headers {
			wg.Add(1)

			go func(fileHeader *multipart.FileHeader) {
				defer wg.Done()

				shared, err := ht.storeOne(r.Context(), fileHeader)

				m.Lock()
				defer m.Unlock()

				if err != nil {
					storeErrs = append(storeErrs, err)

					return
				}

				stored = append(stored, shared)
			}(fileHeader)
		}
	}

	wg.Wait()

	if len(storeErrs) > 0 {
		return nil, errors.Join(storeErrs...)
	}

	sort.Slice(stored, func(i, j int) bool {
		return stored[i].Filename < stored[j].Filename
	})

	return stored, nil
}

func (ht *HTTPTransport) storeOne(
	ctx context.Context,
	fileHeader *multipart.FileHeader,
) (SharedFile, error) {
	file, err := fileHeader.Open()
	if err != nil {
		return SharedFile{}, fmt.Errorf("open %s: %w", fileHeader.Filename, err)
	}
	defer file.Close()

	shared, err := ht.peer.StoreShared(ctx, fileHeader.Filename, file)
	if err != nil {
		return SharedFile{}, fmt.Errorf("store %s: %w", fileHeader.Filename, err)
	}

	return shared, nil
}

// HandleSearch queries the coordinator's catalog.
func (ht *HTTPTransport) HandleSearch(w http.ResponseWriter, r *http.Request) {
	_ = ht.handleSearch(w, r)
}

func (ht *HTTPTransport) handleSearch(w http.ResponseWriter, r *http.Request) (err error) {
	log := ht.log.With(logging.Group("http", "method", r.Method, "url", r.URL.String()))

	defer func(ctx context.Context) {
		if err != nil {
			log.ErrorContext(ctx, "search failed", "error", err)
		} else {
			log.DebugContext(ctx, "search served")
		}
	}(r.Context())

	records, err := ht.peer.Search(r.Context(), r.URL.Query().Get("keyword"))
	if err != nil {
		writeDomainError(w, err)

		return fmt.Errorf("search: %w", err)
	}

	if records == nil {
		records = []domain.FileRecord{}
	}

	if err := json.NewEncoder(w).Encode(records); err != nil {
		return fmt.Errorf("encode response: %w", err)
	}

	return nil
}

// HandleStartDownload starts fetching the file named in the path and returns
// the tracking transfer.
func (ht *HTTPTransport) HandleStartDownload(w http.ResponseWriter, r *http.Request) {
	_ = ht.handleStartDownload(w, r)
}

func (ht *HTTPTransport) handleStartDownload(w http.ResponseWriter, r *http.Request) (err error) {
	log := ht.log.With(logging.Group("http", "method", r.Method, "url", r.URL.String()))

	defer func(ctx context.Context) {
		if err != nil {
			log.ErrorContext(ctx, "start download failed", "error", err)
		} else {
			log.DebugContext(ctx, "download started")
		}
	}(r.Context())

	fileID, err := strconv.ParseInt(r.PathValue("file_id"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)

		return fmt.Errorf("parse file id: %w", err)
	}

	transfer, err := ht.peer.Download(r.Context(), domain.FileID(fileID))
	if err != nil {
		writeDomainError(w, err)

		return fmt.Errorf("download: %w", err)
	}

	w.WriteHeader(http.StatusAccepted)

	if err := json.NewEncoder(w).Encode(transfer); err != nil {
		return fmt.Errorf("encode response: %w", err)
	}

	return nil
}

// HandleAbortDownload cancels the transfer named in the path.
func (ht *HTTPTransport) HandleAbortDownload(w http.ResponseWriter, r *http.Request) {
	_ = ht.handleAbortDownload(w, r)
}

func (ht *HTTPTransport) handleAbortDownload(w http.ResponseWriter, r *http.Request) (err error) {
	log := ht.log.With(logging.Group("http", "method", r.Method, "url", r.URL.String()))

	defer func(ctx context.Context) {
		if err != nil {
			log.ErrorContext(ctx, "abort download failed", "error", err)
		} else {
			log.DebugContext(ctx, "download abort requested")
		}
	}(r.Context())

	if err := ht.peer.Abort(r.Context(), r.PathValue("transfer_id")); err != nil {
		writeDomainError(w, err)

		return fmt.Errorf("abort: %w", err)
	}

	return nil
}

// HandleListDownloads reports all transfers with their state and progress.
func (ht *HTTPTransport) HandleListDownloads(w http.ResponseWriter, r *http.Request) {
	_ = ht.handleListDownloads(w, r)
}

func (ht *HTTPTransport) handleListDownloads(w http.ResponseWriter, r *http.Request) (err error) {
	log := ht.log.With(logging.Group("http", "method", r.Method, "url", r.URL.String()))

	defer func(ctx context.Context) {
		if err != nil {
			log.ErrorContext(ctx, "list downloads failed", "error", err)
		} else {
			log.DebugContext(ctx, "downloads listed")
		}
	}(r.Context())

	if err := json.NewEncoder(w).Encode(ht.peer.Transfers.List()); err != nil {
		return fmt.Errorf("encode response: %w", err)
	}

	return nil
}

func formCredentials(w http.ResponseWriter, r *http.Request) (username, password string, err error) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)

		return "", "", fmt.Errorf("parse form: %w", err)
	}

	username = r.FormValue("username")
	if username == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)

		return "", "", ErrNoUsername
	}

	password = r.FormValue("password")
	if password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)

		return "", "", ErrNoPassword
	}

	return username, password, nil
}

// writeDomainError maps the error taxonomy onto HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	var status int

	switch {
	case errors.Is(err, domain.ErrInvalidCredentials), errors.Is(err, domain.ErrUnauthorized),
		errors.Is(err, domain.ErrNotLoggedIn):
		status = http.StatusUnauthorized
	case errors.Is(err, domain.ErrSessionExists), errors.Is(err, domain.ErrUserAlreadyExists):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrFileNotFound), errors.Is(err, domain.ErrTransferNotFound),
		errors.Is(err, domain.ErrSessionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrOwnerOffline):
		status = http.StatusGone
	case errors.Is(err, domain.ErrNoFilenames):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrDirectoryUnavailable):
		status = http.StatusBadGateway
	default:
		status = http.StatusInternalServerError
	}

	http.Error(w, http.StatusText(status), status)
}

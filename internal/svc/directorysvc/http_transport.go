package directorysvc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/mkrupp/peershare/internal/domain"
	context_ "github.com/mkrupp/peershare/internal/infra/context"
	"github.com/mkrupp/peershare/internal/infra/logging"
	http_ "github.com/mkrupp/peershare/internal/infra/transport/http"
)

var (
	// ErrNoUsername is returned when the username is missing from the request.
	ErrNoUsername = errors.New("no username")
	// ErrNoPassword is returned when the password is missing from the request.
	ErrNoPassword = errors.New("no password")
	// ErrNoEndpoint is returned when the caller's file-serving endpoint is missing.
	ErrNoEndpoint = errors.New("no endpoint")
)

// HTTPTransportConfig contains configuration parameters for the HTTP transport layer.
type HTTPTransportConfig struct {
	http_.HTTPTransportConfig
}

// HTTPTransport handles HTTP requests for the directory coordinator.
// It exposes account registration, login/logout, file registration, search
// and file-location resolution to peer nodes.
type HTTPTransport struct {
	directory *DirectoryService
	log       logging.Logger
	cfg       HTTPTransportConfig
}

var _ http_.HTTPTransport = (*HTTPTransport)(nil)

// NewHTTPTransport creates a new HTTPTransport instance with the given configuration.
func NewHTTPTransport(
	directory *DirectoryService,
	cfg HTTPTransportConfig,
) *HTTPTransport {
	return &HTTPTransport{
		directory: directory,
		log:       logging.GetLogger("svc.directorysvc.http_transport"),
		cfg:       cfg,
	}
}

// ServeHTTP implements http.Handler and sets up routes for the coordinator endpoints:
// - POST   /api/users: register a new account
// - POST   /api/sessions: login and register an active session
// - DELETE /api/sessions/{user_id}: logout, cascading file deletion (Bearer token)
// - POST   /api/files: register uploaded files (Bearer token)
// - GET    /api/search?keyword=: search the catalog
// - GET    /api/files/{file_id}: resolve a file to its owner's endpoint.
func (ht *HTTPTransport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/users", ht.HandleRegister)
	mux.HandleFunc("POST /api/sessions", ht.HandleLogin)
	mux.HandleFunc("GET /api/search", ht.HandleSearch)
	mux.HandleFunc("GET /api/files/{file_id}", ht.HandleResolve)

	// Mutations require a session token
	authorized := http.NewServeMux()
	authorized.HandleFunc("DELETE /api/sessions/{user_id}", ht.HandleLogout)
	authorized.HandleFunc("POST /api/files", ht.HandleRegisterFiles)
	mux.Handle("DELETE /api/sessions/{user_id}", http_.AuthorizingMiddleware(authorized, ht.directory, ht.log))
	mux.Handle("POST /api/files", http_.AuthorizingMiddleware(authorized, ht.directory, ht.log))

	mux.ServeHTTP(w, r)
}

// HandleRegister processes account registration requests.
// Expects form parameters: username, password.
func (ht *HTTPTransport) HandleRegister(w http.ResponseWriter, r *http.Request) {
	_ = ht.handleRegister(w, r)
}

func (ht *HTTPTransport) handleRegister(w http.ResponseWriter, r *http.Request) (err error) {
	log := ht.log.With(logging.Group("http", "method", r.Method, "url", r.URL.String()))

	defer func(ctx context.Context) {
		if err != nil {
			log.ErrorContext(ctx, "user register failed", "error", err)
		} else {
			log.DebugContext(ctx, "user registered")
		}
	}(r.Context())

	if err := r.ParseForm(); err != nil {
		return fmt.Errorf("parse form: %w", err)
	}

	username := r.FormValue("username")
	if username == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)

		return ErrNoUsername
	}

	log = log.With(logging.Group("user", "username", username))

	password := r.FormValue("password")
	if password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)

		return ErrNoPassword
	}

	if err := ht.directory.RegisterUser(r.Context(), username, password); err != nil {
		if errors.Is(err, domain.ErrUserAlreadyExists) {
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
		} else {
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}

		return fmt.Errorf("register user: %w", err)
	}

	return nil
}

// HandleLogin processes login requests.
// Expects form parameters: username, password, endpoint (the caller's
// file-serving host:port). Returns the session identity and token.
func (ht *HTTPTransport) HandleLogin(w http.ResponseWriter, r *http.Request) {
	_ = ht.handleLogin(w, r)
}

func (ht *HTTPTransport) handleLogin(w http.ResponseWriter, r *http.Request) (err error) {
	log := ht.log.With(logging.Group("http", "method", r.Method, "url", r.URL.String()))

	defer func(ctx context.Context) {
		if err != nil {
			log.ErrorContext(ctx, "login failed", "error", err)
		} else {
			log.DebugContext(ctx, "user logged in")
		}
	}(r.Context())

	if err := r.ParseForm(); err != nil {
		return fmt.Errorf("parse form: %w", err)
	}

	username := r.FormValue("username")
	if username == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)

		return ErrNoUsername
	}

	log = log.With(logging.Group("user", "username", username))

	password := r.FormValue("password")
	if password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)

		return ErrNoPassword
	}

	endpoint := r.FormValue("endpoint")
	if endpoint == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)

		return ErrNoEndpoint
	}

	sessionResp, err := ht.directory.Login(r.Context(), username, password, endpoint)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidCredentials):
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		case errors.Is(err, domain.ErrSessionExists):
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
		case errors.Is(err, domain.ErrInvalidEndpoint):
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		default:
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}

		return fmt.Errorf("login user: %w", err)
	}

	if err := json.NewEncoder(w).Encode(sessionResp); err != nil {
		return fmt.Errorf("encode response: %w", err)
	}

	return nil
}

// HandleLogout processes logout requests.
// The user ID in the path must match the token's identity. Removing an
// already-removed session returns 404 without any other side effect.
func (ht *HTTPTransport) HandleLogout(w http.ResponseWriter, r *http.Request) {
	_ = ht.handleLogout(w, r)
}

func (ht *HTTPTransport) handleLogout(w http.ResponseWriter, r *http.Request) (err error) {
	log := ht.log.With(logging.Group("http", "method", r.Method, "url", r.URL.String()))

	defer func(ctx context.Context) {
		if err != nil {
			log.ErrorContext(ctx, "logout failed", "error", err)
		} else {
			log.DebugContext(ctx, "user logged out")
		}
	}(r.Context())

	userID, err := strconv.ParseInt(r.PathValue("user_id"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)

		return fmt.Errorf("parse user id: %w", err)
	}

	tokenUserID, _ := context_.UserIDFromContext(r.Context())
	if tokenUserID != domain.UserID(userID) {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)

		return domain.ErrUnauthorized
	}

	if err := ht.directory.Logout(r.Context(), domain.UserID(userID)); err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		} else {
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}

		return fmt.Errorf("logout user: %w", err)
	}

	return nil
}

// HandleRegisterFiles processes file registration requests.
// Expects a JSON body {"filenames": [...]}; the owner is the token's identity.
func (ht *HTTPTransport) HandleRegisterFiles(w http.ResponseWriter, r *http.Request) {
	_ = ht.handleRegisterFiles(w, r)
}

func (ht *HTTPTransport) handleRegisterFiles(w http.ResponseWriter, r *http.Request) (err error) {
	log := ht.log.With(logging.Group("http", "method", r.Method, "url", r.URL.String()))

	defer func(ctx context.Context) {
		if err != nil {
			log.ErrorContext(ctx, "register files failed", "error", err)
		} else {
			log.DebugContext(ctx, "files registered")
		}
	}(r.Context())

	var req domain.RegisterFilesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)

		return fmt.Errorf("decode request: %w", err)
	}

	ownerID, ok := context_.UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)

		return domain.ErrNoAuthToken
	}

	records, err := ht.directory.RegisterFiles(r.Context(), ownerID, req.Filenames)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNoFilenames):
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		case errors.Is(err, domain.ErrSessionNotFound):
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		default:
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}

		return fmt.Errorf("register files: %w", err)
	}

	if err := json.NewEncoder(w).Encode(domain.RegisterFilesResponse{Files: records}); err != nil {
		return fmt.Errorf("encode response: %w", err)
	}

	return nil
}

// HandleSearch processes catalog search requests.
// Expects a keyword query parameter; returns the matching records as JSON.
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

	keyword := r.URL.Query().Get("keyword")

	records, err := ht.directory.Search(r.Context(), keyword)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)

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

// HandleResolve processes file-location resolution requests.
// Returns 200 with {endpoint, filename} when the file is reachable,
// 404 when no record exists and 410 when the owner is offline, so the two
// failures stay distinguishable to the downloading peer.
func (ht *HTTPTransport) HandleResolve(w http.ResponseWriter, r *http.Request) {
	_ = ht.handleResolve(w, r)
}

func (ht *HTTPTransport) handleResolve(w http.ResponseWriter, r *http.Request) (err error) {
	log := ht.log.With(logging.Group("http", "method", r.Method, "url", r.URL.String()))

	defer func(ctx context.Context) {
		if err != nil {
			log.WarnContext(ctx, "resolve failed", "error", err)
		} else {
			log.DebugContext(ctx, "resolve served")
		}
	}(r.Context())

	fileID, err := strconv.ParseInt(r.PathValue("file_id"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)

		return fmt.Errorf("parse file id: %w", err)
	}

	location, err := ht.directory.Resolve(r.Context(), domain.FileID(fileID))
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrFileNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		case errors.Is(err, domain.ErrOwnerOffline):
			http.Error(w, http.StatusText(http.StatusGone), http.StatusGone)
		default:
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}

		return fmt.Errorf("resolve: %w", err)
	}

	if err := json.NewEncoder(w).Encode(location); err != nil {
		return fmt.Errorf("encode response: %w", err)
	}

	return nil
}

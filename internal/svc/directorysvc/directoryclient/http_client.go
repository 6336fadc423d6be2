package directoryclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mkrupp/peershare/internal/domain"
	context_ "github.com/mkrupp/peershare/internal/infra/context"
	"github.com/mkrupp/peershare/internal/infra/logging"
)

const (
	TraceIDHeader       = "X-Request-ID"
	AuthorizationHeader = "Authorization"
)

// HTTPClientConfig holds configuration for the HTTP directory client.
type HTTPClientConfig struct {
	// DirectoryURL is the base URL of the directory coordinator
	DirectoryURL string `env:"DIRECTORY_URL" default:"http://localhost:8080"`

	// RequestTimeout bounds each coordinator request
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" default:"10s"`
}

// HTTPClient implements DirectoryClient over the coordinator's HTTP API.
// Transport failures are wrapped in domain.ErrDirectoryUnavailable so callers
// can tell "coordinator unreachable" apart from a definitive refusal.
type HTTPClient struct {
	httpClient *http.Client
	log        logging.Logger
	cfg        HTTPClientConfig
}

var _ DirectoryClient = (*HTTPClient)(nil)

// NewHTTPClient creates a new HTTPClient with the given configuration.
// If httpClient is nil, a client with the configured request timeout is used.
func NewHTTPClient(
	cfg HTTPClientConfig,
	httpClient *http.Client,
) *HTTPClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.RequestTimeout}
	}

	return &HTTPClient{
		httpClient: httpClient,
		log:        logging.GetLogger("svc.directorysvc.http_client"),
		cfg:        cfg,
	}
}

// CreateAccount implements DirectoryClient.CreateAccount.
func (hc *HTTPClient) CreateAccount(ctx context.Context, username, password string) error {
	form := url.Values{
		"username": {username},
		"password": {password},
	}

	resp, err := hc.postForm(ctx, "/api/users", form)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusConflict:
		return domain.ErrUserAlreadyExists
	default:
		return unexpectedStatus(resp.StatusCode)
	}
}

// Login implements DirectoryClient.Login.
func (hc *HTTPClient) Login(
	ctx context.Context,
	username string,
	password string,
	endpoint string,
) (domain.SessionResponse, error) {
	form := url.Values{
		"username": {username},
		"password": {password},
		"endpoint": {endpoint},
	}

	resp, err := hc.postForm(ctx, "/api/sessions", form)
	if err != nil {
		return domain.SessionResponse{}, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return domain.SessionResponse{}, domain.ErrInvalidCredentials
	case http.StatusConflict:
		return domain.SessionResponse{}, domain.ErrSessionExists
	case http.StatusBadRequest:
		return domain.SessionResponse{}, domain.ErrInvalidEndpoint
	default:
		return domain.SessionResponse{}, unexpectedStatus(resp.StatusCode)
	}

	var session domain.SessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return domain.SessionResponse{}, fmt.Errorf("decode response: %w", err)
	}

	return session, nil
}

// Logout implements DirectoryClient.Logout.
func (hc *HTTPClient) Logout(ctx context.Context, userID domain.UserID, token string) error {
	path := "/api/sessions/" + strconv.FormatInt(int64(userID), 10)

	req, err := hc.newRequest(ctx, http.MethodDelete, path, nil, token)
	if err != nil {
		return err
	}

	resp, err := hc.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusUnauthorized, http.StatusForbidden:
		return domain.ErrUnauthorized
	case http.StatusNotFound:
		return domain.ErrSessionNotFound
	default:
		return unexpectedStatus(resp.StatusCode)
	}
}

// RegisterFiles implements DirectoryClient.RegisterFiles.
func (hc *HTTPClient) RegisterFiles(
	ctx context.Context,
	filenames []string,
	token string,
) ([]domain.FileRecord, error) {
	body, err := json.Marshal(domain.RegisterFilesRequest{Filenames: filenames})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := hc.newRequest(ctx, http.MethodPost, "/api/files", bytes.NewReader(body), token)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := hc.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return nil, domain.ErrUnauthorized
	default:
		return nil, unexpectedStatus(resp.StatusCode)
	}

	var registered domain.RegisterFilesResponse
	if err := json.NewDecoder(resp.Body).Decode(&registered); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return registered.Files, nil
}

// Search implements DirectoryClient.Search.
func (hc *HTTPClient) Search(ctx context.Context, keyword string) ([]domain.FileRecord, error) {
	path := "/api/search?keyword=" + url.QueryEscape(keyword)

	req, err := hc.newRequest(ctx, http.MethodGet, path, nil, "")
	if err != nil {
		return nil, err
	}

	resp, err := hc.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, unexpectedStatus(resp.StatusCode)
	}

	var records []domain.FileRecord
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return records, nil
}

// Resolve implements DirectoryClient.Resolve.
func (hc *HTTPClient) Resolve(ctx context.Context, fileID domain.FileID) (domain.FileLocation, error) {
	path := "/api/files/" + strconv.FormatInt(int64(fileID), 10)

	req, err := hc.newRequest(ctx, http.MethodGet, path, nil, "")
	if err != nil {
		return domain.FileLocation{}, err
	}

	resp, err := hc.do(req)
	if err != nil {
		return domain.FileLocation{}, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return domain.FileLocation{}, domain.ErrFileNotFound
	case http.StatusGone:
		return domain.FileLocation{}, domain.ErrOwnerOffline
	default:
		return domain.FileLocation{}, unexpectedStatus(resp.StatusCode)
	}

	var location domain.FileLocation
	if err := json.NewDecoder(resp.Body).Decode(&location); err != nil {
		return domain.FileLocation{}, fmt.Errorf("decode response: %w", err)
	}

	return location, nil
}

func (hc *HTTPClient) postForm(
	ctx context.Context,
	path string,
	form url.Values,
) (*http.Response, error) {
	req, err := hc.newRequest(ctx, http.MethodPost, path, strings.NewReader(form.Encode()), "")
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	return hc.do(req)
}

func (hc *HTTPClient) newRequest(
	ctx context.Context,
	method string,
	path string,
	body io.Reader,
	token string,
) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, hc.cfg.DirectoryURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}

	if token != "" {
		req.Header.Set(AuthorizationHeader, "Bearer "+token)
	}

	if traceID, ok := context_.TraceIDFromContext(ctx); ok {
		req.Header.Set(TraceIDHeader, traceID)
	}

	return req, nil
}

func (hc *HTTPClient) do(req *http.Request) (*http.Response, error) {
	resp, err := hc.httpClient.Do(req)
	if err != nil {
		return nil, errors.Join(domain.ErrDirectoryUnavailable, err)
	}

	return resp, nil
}

func unexpectedStatus(code int) error {
	return fmt.Errorf("unexpected status: %d %s", code, http.StatusText(code))
}

package peersvc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"

	"github.com/mkrupp/peershare/internal/domain"
	"github.com/mkrupp/peershare/internal/infra/logging"
	http_ "github.com/mkrupp/peershare/internal/infra/transport/http"
)

// FileTransportConfig contains configuration parameters for the byte-stream
// listener. It does not share the API listener defaults: the port is the
// well-known file-serving port and the write timeout must cover a whole file
// stream, not a single API response.
type FileTransportConfig struct {
	// ServerAddr is the address the byte-stream listener binds to
	ServerAddr string `env:"SERVER_ADDR" default:":9000"`

	// ReadHeaderTimeout is the timeout in seconds for reading request headers
	ReadHeaderTimeout int64 `env:"READ_HEADER_TIMEOUT" default:"5"`

	ReadTimeout  int64 `env:"READ_TIMEOUT" default:"30"`
	WriteTimeout int64 `env:"WRITE_TIMEOUT" default:"600"`
}

// HTTPConfig converts the listener parameters for ListenAndServe.
func (cfg FileTransportConfig) HTTPConfig() http_.HTTPTransportConfig {
	return http_.HTTPTransportConfig{
		ServerAddr:        cfg.ServerAddr,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
	}
}

// FileTransport serves this node's published files to other peers.
//
// Requests are deliberately unauthenticated: any peer that can resolve a file
// at the coordinator may fetch its bytes directly, identified by nothing but
// the filename. That is the system's trust boundary, not an oversight.
type FileTransport struct {
	peer *PeerService
	log  logging.Logger
	cfg  FileTransportConfig
}

var _ http_.HTTPTransport = (*FileTransport)(nil)

// NewFileTransport creates a new FileTransport instance with the given configuration.
func NewFileTransport(peer *PeerService, cfg FileTransportConfig) *FileTransport {
	return &FileTransport{
		peer: peer,
		log:  logging.GetLogger("svc.peersvc.file_transport"),
		cfg:  cfg,
	}
}

// ServeHTTP implements http.Handler with a single route:
// - GET /files/{filename}: stream a published file's bytes.
func (ft *FileTransport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /files/{filename}", ft.HandleServeFile)

	mux.ServeHTTP(w, r)
}

// HandleServeFile streams the published file named in the path.
func (ft *FileTransport) HandleServeFile(w http.ResponseWriter, r *http.Request) {
	_ = ft.handleServeFile(w, r)
}

func (ft *FileTransport) handleServeFile(w http.ResponseWriter, r *http.Request) (err error) {
	log := ft.log.With(logging.Group("http", "method", r.Method, "url", r.URL.String()))

	defer func(ctx context.Context) {
		if err != nil {
			log.WarnContext(ctx, "file serve failed", "error", err)
		} else {
			log.DebugContext(ctx, "file served")
		}
	}(r.Context())

	filename := r.PathValue("filename")
	log = log.With(logging.Group("file", "filename", filename))

	stream, size, err := ft.peer.OpenShared(r.Context(), filename)
	if err != nil {
		if errors.Is(err, domain.ErrFileNotFound) || errors.Is(err, os.ErrNotExist) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		} else {
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}

		return fmt.Errorf("open shared: %w", err)
	}
	defer stream.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))

	if _, err := io.Copy(w, stream); err != nil {
		return fmt.Errorf("copy: %w", err)
	}

	return nil
}

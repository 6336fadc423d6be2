package peersvc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/mkrupp/peershare/internal/domain"
	"github.com/mkrupp/peershare/internal/infra/logging"
	"github.com/mkrupp/peershare/internal/repo/localfile"
	"github.com/mkrupp/peershare/internal/svc/directorysvc/directoryclient"
	"github.com/mkrupp/peershare/internal/util/encoding"
	"github.com/mkrupp/peershare/internal/util/uuid"
)

// PeerConfig contains configuration parameters for a peer node.
type PeerConfig struct {
	// AdvertiseEndpoint is the host:port other peers use to reach this
	// node's file-serving listener; announced to the coordinator at login
	AdvertiseEndpoint string `env:"ADVERTISE_ENDPOINT" default:"localhost:9000"`

	// DownloadTimeout bounds a whole download, resolve included
	DownloadTimeout time.Duration `env:"DOWNLOAD_TIMEOUT" default:"5m"`
}

// SharedFile binds an uploaded file's catalog filename to the unique local
// name its bytes live under. The two names are intentionally distinct: local
// names never collide, catalog filenames may.
type SharedFile struct {
	Filename  string
	LocalName string
	Size      int64
}

// PeerService is a peer node: it holds the logged-in session, shares local
// files through the serve index, and downloads files from other peers by
// resolving their location at the directory coordinator.
type PeerService struct {
	Config    PeerConfig
	Directory directoryclient.DirectoryClient
	Shared    localfile.Store
	Downloads localfile.Store
	Transfers *TransferManager
	Log       logging.Logger

	m       sync.Mutex
	session *domain.SessionResponse

	// serveIndex maps catalog filenames to local storage names. In-memory
	// only: catalog records do not outlive the session either.
	serveIndex map[string]string
}

// NewPeerService creates a peer node with separate storage areas for shared
// and downloaded files.
func NewPeerService(
	storeFactory localfile.StoreFactory,
	directory directoryclient.DirectoryClient,
	cfg PeerConfig,
) (*PeerService, error) {
	log := logging.GetLogger("svc.peersvc.peer_service")

	shared, err := storeFactory(context.Background(), "shared")
	if err != nil {
		return nil, fmt.Errorf("new shared store: %w", err)
	}

	downloads, err := storeFactory(context.Background(), "downloads")
	if err != nil {
		return nil, fmt.Errorf("new downloads store: %w", err)
	}

	return &PeerService{
		Config:     cfg,
		Directory:  directory,
		Shared:     shared,
		Downloads:  downloads,
		Transfers:  NewTransferManager(),
		Log:        log,
		serveIndex: make(map[string]string),
	}, nil
}

// CreateAccount registers a new account at the coordinator.
func (p *PeerService) CreateAccount(ctx context.Context, username, password string) (err error) {
	log := p.Log.With(logging.Group("user", "username", username))

	defer func() {
		if err != nil {
			log.ErrorContext(ctx, "create account failed", "error", err)
		} else {
			log.DebugContext(ctx, "account created")
		}
	}()

	if err := p.Directory.CreateAccount(ctx, username, password); err != nil {
		return fmt.Errorf("create account: %w", err)
	}

	return nil
}

// Login opens a session at the coordinator, announcing this node's advertised
// file-serving endpoint. Returns domain.ErrSessionExists if this node already
// holds a session or the coordinator reports one elsewhere.
func (p *PeerService) Login(ctx context.Context, username, password string) (_ domain.SessionResponse, err error) {
	log := p.Log.With(logging.Group("user",
		"username", username,
		"endpoint", p.Config.AdvertiseEndpoint,
	))

	defer func() {
		if err != nil {
			log.ErrorContext(ctx, "login failed", "error", err)
		} else {
			log.DebugContext(ctx, "login successful")
		}
	}()

	p.m.Lock()
	defer p.m.Unlock()

	if p.session != nil {
		return domain.SessionResponse{}, domain.ErrSessionExists
	}

	session, err := p.Directory.Login(ctx, username, password, p.Config.AdvertiseEndpoint)
	if err != nil {
		return domain.SessionResponse{}, fmt.Errorf("login: %w", err)
	}

	p.session = &session

	return session, nil
}

// Logout closes the session at the coordinator, which cascade-deletes this
// node's catalog records, and clears the serve index. A session the
// coordinator has already forgotten still logs this node out locally.
func (p *PeerService) Logout(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			p.Log.ErrorContext(ctx, "logout failed", "error", err)
		} else {
			p.Log.DebugContext(ctx, "logout successful")
		}
	}()

	p.m.Lock()
	defer p.m.Unlock()

	if p.session == nil {
		return domain.ErrNotLoggedIn
	}

	err = p.Directory.Logout(ctx, p.session.UserID, p.session.Token)
	if err != nil && !errors.Is(err, domain.ErrSessionNotFound) {
		return fmt.Errorf("logout: %w", err)
	}

	p.session = nil
	p.serveIndex = make(map[string]string)

	return nil
}

// Session returns the current session, if any.
func (p *PeerService) Session() (domain.SessionResponse, bool) {
	p.m.Lock()
	defer p.m.Unlock()

	if p.session == nil {
		return domain.SessionResponse{}, false
	}

	return *p.session, true
}

// StoreShared writes one uploaded file into the shared area under a fresh
// unique local name. The file is not visible to other peers until
// PublishShared binds it; a failed publish discards it again.
func (p *PeerService) StoreShared(
	ctx context.Context,
	filename string,
	reader io.Reader,
) (_ SharedFile, err error) {
	log := p.Log.With(logging.Group("upload", "filename", filename))

	defer func() {
		if err != nil {
			log.ErrorContext(ctx, "store shared failed", "error", err)
		} else {
			log.DebugContext(ctx, "shared file stored")
		}
	}()

	if _, ok := p.Session(); !ok {
		return SharedFile{}, domain.ErrNotLoggedIn
	}

	localName, err := newLocalName(filename)
	if err != nil {
		return SharedFile{}, err
	}

	size, err := p.Shared.Store(ctx, localName, reader)
	if err != nil {
		return SharedFile{}, fmt.Errorf("store: %w", err)
	}

	return SharedFile{
		Filename:  filename,
		LocalName: localName,
		Size:      size,
	}, nil
}

// PublishShared registers the stored files with the coordinator under their
// original filenames and binds them into the serve index. All-or-nothing: if
// registration fails, none of the files become servable.
func (p *PeerService) PublishShared(
	ctx context.Context,
	files []SharedFile,
) (records []domain.FileRecord, err error) {
	log := p.Log.With(logging.Group("upload", "count", len(files)))

	defer func() {
		if err != nil {
			log.ErrorContext(ctx, "publish shared failed", "error", err)
		} else {
			log.DebugContext(ctx, "shared files published")
		}
	}()

	session, ok := p.Session()
	if !ok {
		return nil, domain.ErrNotLoggedIn
	}

	if len(files) == 0 {
		return nil, domain.ErrNoFilenames
	}

	filenames := make([]string, len(files))
	for i, f := range files {
		filenames[i] = f.Filename
	}

	records, err = p.Directory.RegisterFiles(ctx, filenames, session.Token)
	if err != nil {
		return nil, fmt.Errorf("register files: %w", err)
	}

	p.m.Lock()
	for _, f := range files {
		p.serveIndex[f.Filename] = f.LocalName
	}
	p.m.Unlock()

	return records, nil
}

// OpenShared streams a published file by its catalog filename. Unpublished
// or unknown filenames return domain.ErrFileNotFound.
func (p *PeerService) OpenShared(ctx context.Context, filename string) (io.ReadCloser, int64, error) {
	p.m.Lock()
	localName, ok := p.serveIndex[filename]
	p.m.Unlock()

	if !ok {
		return nil, 0, fmt.Errorf("%w: %q not published", domain.ErrFileNotFound, filename)
	}

	return p.Shared.Open(ctx, localName)
}

// Search queries the coordinator's catalog.
func (p *PeerService) Search(ctx context.Context, keyword string) ([]domain.FileRecord, error) {
	records, err := p.Directory.Search(ctx, keyword)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	return records, nil
}

// Download starts fetching the given file in the background and returns the
// tracking transfer in state Requested. Requires an active session, like
// every other coordinator-facing operation. Progress and the terminal state
// are observable through the transfer manager; Abort cancels mid-stream
// without surfacing a partial file.
func (p *PeerService) Download(ctx context.Context, fileID domain.FileID) (domain.Transfer, error) {
	if _, ok := p.Session(); !ok {
		return domain.Transfer{}, domain.ErrNotLoggedIn
	}

	// Detached from the request context: the download outlives the HTTP
	// request that started it.
	transfer, transferCtx, err := p.Transfers.Begin(context.Background(), fileID)
	if err != nil {
		return domain.Transfer{}, fmt.Errorf("begin transfer: %w", err)
	}

	p.Log.DebugContext(ctx, "transfer requested", logging.Group("transfer",
		"id", transfer.ID,
		"file", int64(fileID),
	))

	go p.runTransfer(transferCtx, transfer.ID, fileID)

	return transfer, nil
}

// Abort cancels an in-flight transfer. Finished transfers cancel to no effect.
func (p *PeerService) Abort(ctx context.Context, transferID string) error {
	if err := p.Transfers.Abort(transferID); err != nil {
		return fmt.Errorf("abort transfer: %w", err)
	}

	p.Log.DebugContext(ctx, "transfer aborted", logging.Group("transfer", "id", transferID))

	return nil
}

func (p *PeerService) runTransfer(ctx context.Context, transferID string, fileID domain.FileID) {
	ctx, cancel := context.WithTimeout(ctx, p.Config.DownloadTimeout)
	defer cancel()

	log := p.Log.With(logging.Group("transfer", "id", transferID, "file", int64(fileID)))

	err := p.fetch(ctx, transferID, fileID)
	if err != nil {
		if ctx.Err() != nil {
			err = errors.Join(domain.ErrTransferAborted, err)
		}

		p.Transfers.Update(transferID, func(t *domain.Transfer) {
			t.State = domain.TransferFailed
			t.Error = err.Error()
		})

		log.ErrorContext(ctx, "transfer failed", "error", err)

		return
	}

	p.Transfers.Update(transferID, func(t *domain.Transfer) {
		t.State = domain.TransferComplete
	})

	log.DebugContext(ctx, "transfer complete")
}

func (p *PeerService) fetch(ctx context.Context, transferID string, fileID domain.FileID) error {
	p.Transfers.Update(transferID, func(t *domain.Transfer) {
		t.State = domain.TransferResolving
	})

	location, err := p.Directory.Resolve(ctx, fileID)
	if err != nil {
		return fmt.Errorf("resolve: %w", err)
	}

	p.Transfers.Update(transferID, func(t *domain.Transfer) {
		t.State = domain.TransferStreaming
		t.Filename = location.Filename
		t.Endpoint = location.Endpoint
	})

	body, err := p.openStream(ctx, location)
	if err != nil {
		return err
	}
	defer body.Close()

	pending, err := p.Downloads.CreateTemp(ctx, location.Filename)
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}

	counter := &countingWriter{transferID: transferID, transfers: p.Transfers, w: pending}

	if _, err := io.Copy(counter, readerContext(ctx, body)); err != nil {
		_ = pending.Discard()

		return fmt.Errorf("stream: %w", err)
	}

	if err := pending.Promote(); err != nil {
		return fmt.Errorf("promote: %w", err)
	}

	return nil
}

// openStream connects to the owning peer's byte-stream listener. A resolved
// endpoint can already be stale (the owner died without logging out), so a
// connection failure is the owner-offline case, not an internal error.
func (p *PeerService) openStream(ctx context.Context, location domain.FileLocation) (io.ReadCloser, error) {
	streamURL := "http://" + location.Endpoint + "/files/" + location.Filename

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, errors.Join(domain.ErrOwnerOffline, err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			return nil, domain.ErrFileNotFound
		}

		return nil, fmt.Errorf("unexpected status: %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	return resp.Body, nil
}

// newLocalName derives a fresh unique storage name, keeping the original
// extension so the bytes on disk stay recognizable.
func newLocalName(filename string) (string, error) {
	id, err := uuid.New(uuid.UUIDv7)
	if err != nil {
		return "", fmt.Errorf("new local name: %w", err)
	}

	return encoding.EncodeCrockfordB32LC(id.Bytes()) + filepath.Ext(filename), nil
}

type countingWriter struct {
	transferID string
	transfers  *TransferManager
	w          io.Writer
}

func (cw *countingWriter) Write(b []byte) (int, error) {
	n, err := cw.w.Write(b)

	if n > 0 {
		cw.transfers.Update(cw.transferID, func(t *domain.Transfer) {
			t.Bytes += int64(n)
		})
	}

	return n, err //nolint:wrapcheck
}

// readerContext makes an io.Reader abort between chunks once ctx is done, so
// an Abort takes effect even when the remote side keeps sending.
func readerContext(ctx context.Context, r io.Reader) io.Reader {
	return readerFunc(func(b []byte) (int, error) {
		if err := ctx.Err(); err != nil {
			return 0, err //nolint:wrapcheck
		}

		return r.Read(b) //nolint:wrapcheck
	})
}

type readerFunc func([]byte) (int, error)

func (rf readerFunc) Read(b []byte) (int, error) { return rf(b) }

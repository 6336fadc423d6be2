package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/mkrupp/peershare/internal/infra/config"
	"github.com/mkrupp/peershare/internal/infra/logging"
	"github.com/mkrupp/peershare/internal/infra/transport/http"
	"github.com/mkrupp/peershare/internal/repo/localfile"
	"github.com/mkrupp/peershare/internal/svc/directorysvc/directoryclient"
	"github.com/mkrupp/peershare/internal/svc/peersvc"
)

const (
	appName = "peershare"
	svcName = "peersvc"
)

type Config struct {
	config.EnvConfig

	Log       logging.LoggerConfig             `envPrefix:"LOG_"`
	Peer      peersvc.PeerConfig               `envPrefix:"PEER_"`
	HTTP      peersvc.HTTPTransportConfig      `envPrefix:"HTTP_"`
	FileHTTP  peersvc.FileTransportConfig      `envPrefix:"FILE_HTTP_"`
	Directory directoryclient.HTTPClientConfig `envPrefix:"DIRECTORY_"`
	Storage   localfile.FileSystemStoreConfig  `envPrefix:"STORAGE_"`
}

func main() {
	var (
		cfg Config
		ctx = context.Background()

		configPrefix = strings.ToUpper(strings.Join([]string{appName, svcName}, "_"))
		loggerName   = strings.ToLower(strings.Join([]string{appName, svcName}, "."))
	)

	if err := config.Parse(ctx, &cfg, configPrefix); err != nil {
		panic(err)
	}

	logging.Configure(ctx, cfg.Log, loggerName)

	if err := run(ctx, cfg); err != nil {
		panic(err)
	}
}

func run(ctx context.Context, cfg Config) (err error) {
	defer func() {
		log := logging.GetLogger("cmd.peersvc")

		if err != nil {
			log.ErrorContext(ctx, "error", "err", err)
			panic(err)
		}

		log.InfoContext(ctx, "shutdown")
	}()

	directory := directoryclient.NewHTTPClient(cfg.Directory, nil)

	peerSvc, err := peersvc.NewPeerService(
		localfile.FileSystemStoreFactory(cfg.Storage),
		directory,
		cfg.Peer,
	)
	if err != nil {
		return fmt.Errorf("new peer service: %w", err)
	}

	// The byte-stream listener and the user-facing API run on separate
	// ports: the first is reachable by any peer, the second is local.
	errCh := make(chan error, 2)

	go func() {
		fileTransport := peersvc.NewFileTransport(peerSvc, cfg.FileHTTP)
		errCh <- http.ListenAndServe(ctx, fileTransport, cfg.FileHTTP.HTTPConfig())
	}()

	go func() {
		httpTransport := peersvc.NewHTTPTransport(peerSvc, cfg.HTTP)
		errCh <- http.ListenAndServe(ctx, httpTransport, cfg.HTTP.HTTPTransportConfig)
	}()

	if err := <-errCh; err != nil {
		return fmt.Errorf("listen and serve: %w", err)
	}

	return nil
}

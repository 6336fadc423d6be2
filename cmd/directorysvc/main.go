package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/mkrupp/peershare/internal/infra/config"
	"github.com/mkrupp/peershare/internal/infra/logging"
	"github.com/mkrupp/peershare/internal/infra/transport/http"
	"github.com/mkrupp/peershare/internal/repo/file"
	"github.com/mkrupp/peershare/internal/repo/session"
	"github.com/mkrupp/peershare/internal/repo/user"
	"github.com/mkrupp/peershare/internal/svc/directorysvc"
)

const (
	appName = "peershare"
	svcName = "directorysvc"
)

type Config struct {
	config.EnvConfig

	Log       logging.LoggerConfig             `envPrefix:"LOG_"`
	Directory directorysvc.DirectoryConfig     `envPrefix:"DIRECTORY_"`
	HTTP      directorysvc.HTTPTransportConfig `envPrefix:"HTTP_"`
	User      user.SQLiteUserRepositoryConfig  `envPrefix:"USER_"`
	File      file.SQLiteFileRepositoryConfig  `envPrefix:"FILE_"`
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
		log := logging.GetLogger("cmd.directorysvc")

		if err != nil {
			log.ErrorContext(ctx, "error", "err", err)
			panic(err)
		}

		log.InfoContext(ctx, "shutdown")
	}()

	directorySvc, err := directorysvc.NewDirectoryService(
		user.SQLiteUserRepositoryFactory(cfg.User),
		file.SQLiteFileRepositoryFactory(cfg.File),
		session.NewMemorySessionRegistry(),
		cfg.Directory,
	)
	if err != nil {
		return fmt.Errorf("new directory service: %w", err)
	}
	defer func() { _ = directorySvc.Close() }()

	httpTransport := directorysvc.NewHTTPTransport(directorySvc, cfg.HTTP)

	if err := http.ListenAndServe(ctx, httpTransport, cfg.HTTP.HTTPTransportConfig); err != nil {
		return fmt.Errorf("listen and serve: %w", err)
	}

	return nil
}

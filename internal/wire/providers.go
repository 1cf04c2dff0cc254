// Package wire assembles the application object graph. wire_gen.go is
// maintained by hand in the shape the wire generator emits.
package wire

import (
	"io"
	"log/slog"
	"os"

	"github.com/google/wire"

	"github.com/sevigo/reviewcore/internal/app"
	"github.com/sevigo/reviewcore/internal/config"
	"github.com/sevigo/reviewcore/internal/db"
	"github.com/sevigo/reviewcore/internal/jobs"
	"github.com/sevigo/reviewcore/internal/logger"
	"github.com/sevigo/reviewcore/internal/server"
	"github.com/sevigo/reviewcore/internal/storage"
)

// AppSet is the provider set for the full server application.
var AppSet = wire.NewSet(
	app.NewApp,
	server.NewServer,
	config.LoadConfig,
	db.NewDatabase,
	storage.NewStore,
	jobs.NewDispatcher,
	jobs.NewReviewJob,
	provideLoggerConfig,
	provideLogWriter,
	provideDBConfig,
	provideDefaultSlogLogger,
)

func provideLoggerConfig(cfg *config.Config) logger.Config {
	return cfg.Logging
}

func provideLogWriter(cfg *config.Config) io.Writer {
	switch cfg.Logging.Output {
	case "stderr":
		return os.Stderr
	case "file":
		f, err := os.OpenFile("reviewcore.log", os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o600)
		if err != nil {
			return os.Stdout
		}
		return f
	default:
		return os.Stdout
	}
}

func provideDBConfig(cfg *config.Config) *config.DBConfig {
	return &cfg.Database
}

func provideDefaultSlogLogger(loggerConfig logger.Config, writer io.Writer) *slog.Logger {
	l := logger.NewLogger(loggerConfig, writer)
	slog.SetDefault(l)
	return l
}

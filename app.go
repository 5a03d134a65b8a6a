package main

import (
	"github.com/rs/zerolog"

	"github.com/DatanoiseTV/contextmcp/internal/history"
	"github.com/DatanoiseTV/contextmcp/internal/index"
	"github.com/DatanoiseTV/contextmcp/internal/service"
	"github.com/DatanoiseTV/contextmcp/internal/storage"
)

// App holds the wired components shared by the MCP handlers and the CLI.
type App struct {
	cfg     *Config
	svc     *service.Service
	history *history.Log
	logger  zerolog.Logger
}

// NewApp wires the service for cfg. History is optional: if its database
// cannot be opened the server keeps running without it.
func NewApp(cfg *Config, logger zerolog.Logger) *App {
	paths := storage.NewPaths(cfg.Root)
	idx := index.NewManager(paths.IndexFile(),
		index.WithLockTimeout(cfg.Index.LockTimeout),
		index.WithLogger(logger.With().Str("component", "index").Logger()),
	)

	app := &App{cfg: cfg, logger: logger}
	opts := []service.Option{service.WithLogger(logger.With().Str("component", "service").Logger())}

	if cfg.History.Enabled {
		if err := storage.EnsureDir(paths.HistoryDir()); err != nil {
			logger.Warn().Err(err).Msg("history disabled")
		} else if log, err := history.Open(paths.HistoryDir(), cfg.History.Limit); err != nil {
			logger.Warn().Err(err).Str("dir", paths.HistoryDir()).Msg("history disabled")
		} else {
			app.history = log
			opts = append(opts, service.WithHistory(log))
		}
	}

	app.svc = service.New(paths, idx, opts...)
	return app
}

// Close releases the history database.
func (a *App) Close() error {
	if a.history != nil {
		return a.history.Close()
	}
	return nil
}

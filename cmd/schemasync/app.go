package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"go.uber.org/multierr"

	"db_schema_reconciler/internal/config"
	"db_schema_reconciler/internal/db"
	"db_schema_reconciler/internal/engine"
	"db_schema_reconciler/internal/journal"
	"db_schema_reconciler/internal/logging"
	"db_schema_reconciler/internal/storage"
)

// app holds what a command needs once the configuration is loaded.
type app struct {
	cfg     config.Config
	logger  *slog.Logger
	target  db.Adapter
	journal *journal.Journal
	engine  *engine.Engine
}

func loadConfig() (config.Config, error) {
	path := configFile
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		// environment-only setups have no file
		path = ""
	}
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	return cfg, nil
}

// openApp connects to the target database and, when configured, the run
// journal.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger := logging.NewLogger(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})

	target, err := db.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open target database: %w", err)
	}
	a := &app{cfg: cfg, logger: logger, target: target}

	deps := engine.Deps{Master: cfg.Master, Target: target, Logger: logger}
	if cfg.Journal.DSN != "" {
		j, err := journal.Open(ctx, cfg.Journal.DSN, logger)
		if err != nil {
			target.Close()
			return nil, err
		}
		a.journal = j
		deps.Journal = j
	}
	a.engine, err = engine.New(deps)
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) storage() (*storage.Store, error) {
	return storage.Open(a.cfg.Storage.Path)
}

func (a *app) Close() error {
	var err error
	if a.journal != nil {
		a.journal.Close()
	}
	if a.target != nil {
		err = multierr.Append(err, a.target.Close())
	}
	return err
}

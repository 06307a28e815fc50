package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"driftwatch/internal/checker"
	"driftwatch/internal/config"
	"driftwatch/internal/fetcher"
	"driftwatch/internal/logging"
	"driftwatch/internal/notify"
	"driftwatch/internal/storage"
	"driftwatch/internal/storage/memory"
	"driftwatch/internal/storage/postgres"
	"driftwatch/internal/storage/sqlite"
)

// app holds the wired components shared by all commands.
type app struct {
	cfg        *config.Config
	log        *zap.Logger
	store      storage.TargetStore
	closeStore func() error
	dispatcher *notify.Dispatcher
	engine     *checker.Engine
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}

	logger.Info("initializing storage", zap.String("driver", cfg.Database.Driver))
	store, closeStore, err := openStore(ctx, cfg.Database)
	if err != nil {
		logger.Sync()
		return nil, err
	}

	channels := notify.MultiChannel{notify.NewLogChannel(logger)}
	if cfg.Notify.WebhookURL != "" {
		channels = append(channels, notify.NewWebhookChannel(cfg.Notify.WebhookURL, cfg.Notify.Timeout))
	}
	dispatcher := notify.NewDispatcher(channels, cfg.Notify.QueueSize, cfg.Notify.Timeout, logger)

	f := fetcher.New(cfg.Fetcher, logger)
	engine := checker.NewEngine(store, f, dispatcher, cfg.Monitor, logger)

	return &app{
		cfg:        cfg,
		log:        logger,
		store:      store,
		closeStore: closeStore,
		dispatcher: dispatcher,
		engine:     engine,
	}, nil
}

// Close flushes queued notifications before releasing the store.
func (a *app) Close() error {
	a.dispatcher.Close()
	err := a.closeStore()
	a.log.Sync()
	return err
}

func openStore(ctx context.Context, cfg config.DatabaseConfig) (storage.TargetStore, func() error, error) {
	switch cfg.Driver {
	case "sqlite":
		s, err := sqlite.New(ctx, cfg.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize sqlite storage: %w", err)
		}
		return s, s.Close, nil
	case "postgres":
		s, err := postgres.New(ctx, cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize postgres storage: %w", err)
		}
		return s, s.Close, nil
	case "memory":
		return memory.New(), func() error { return nil }, nil
	}
	return nil, nil, errors.New("unsupported database driver " + cfg.Driver)
}

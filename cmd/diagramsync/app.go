package main

import (
	"context"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/diagramsync/internal/catalog"
	"github.com/MarcoPoloResearchLab/diagramsync/internal/config"
	"github.com/MarcoPoloResearchLab/diagramsync/internal/coordinator"
	"github.com/MarcoPoloResearchLab/diagramsync/internal/database"
	"github.com/MarcoPoloResearchLab/diagramsync/internal/logging"
	"github.com/MarcoPoloResearchLab/diagramsync/internal/remote"
	"github.com/MarcoPoloResearchLab/diagramsync/internal/wire"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// application is the per-invocation service graph. It is built once from
// configuration and handed to each command.
type application struct {
	cfg     config.AppConfig
	logger  *zap.Logger
	codec   *wire.Codec
	catalog *catalog.Catalog
	client  *remote.Client
	closers []func() error
}

func newApplication() (*application, error) {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}

	logger, err := logging.NewLogger(logging.Config{Level: appConfig.LogLevel, File: appConfig.LogFile})
	if err != nil {
		return nil, err
	}

	app := &application{
		cfg:    appConfig,
		logger: logger,
		codec:  wire.NewCodec(time.Now),
	}
	app.closers = append(app.closers, func() error {
		_ = logger.Sync()
		return nil
	})

	db, err := database.OpenSQLite(appConfig.CatalogPath, logger, catalog.Schema())
	if err != nil {
		app.close()
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		app.close()
		return nil, err
	}
	app.closers = append(app.closers, sqlDB.Close)

	app.catalog, err = catalog.NewCatalog(catalog.Config{Database: db, Codec: app.codec, Logger: logger})
	if err != nil {
		app.close()
		return nil, err
	}

	app.client = remote.NewClient(remote.Config{
		APIURL:     appConfig.Sync.APIURL,
		Enabled:    appConfig.Sync.Enabled,
		HTTPClient: &http.Client{Timeout: appConfig.Sync.Timeout},
		Codec:      app.codec,
		Logger:     logger,
	})
	return app, nil
}

func (a *application) syncEnabled() bool {
	return a.cfg.Sync.Enabled && a.client.Enabled()
}

func (a *application) newCoordinator() (*coordinator.Coordinator, error) {
	return coordinator.New(coordinator.Config{
		Client:         a.client,
		Enabled:        a.cfg.Sync.Enabled,
		DebounceWindow: a.cfg.Sync.DebounceWindow,
		Codec:          a.codec,
		Logger:         a.logger,
		OnSuccess: func(diagramID string) {
			a.logger.Info("sync succeeded", zap.String("diagram_id", diagramID))
		},
		OnError: func(err error) {
			a.logger.Warn("sync failed", zap.Error(err))
		},
	})
}

// shutdownCoordinator flushes pending pushes and waits for the in-flight one.
func (a *application) shutdownCoordinator(syncCoordinator *coordinator.Coordinator) {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Sync.Timeout+time.Second)
	defer cancel()
	if syncCoordinator.InFlight() {
		a.logger.Info("waiting for in-flight push")
	}
	if err := syncCoordinator.Shutdown(ctx); err != nil {
		a.logger.Warn("shutdown abandoned in-flight push", zap.Error(err))
	}
}

func (a *application) close() {
	for index := len(a.closers) - 1; index >= 0; index-- {
		_ = a.closers[index]()
	}
}

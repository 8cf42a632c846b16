package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/MarcoPoloResearchLab/diagramsync/internal/catalog"
	"github.com/MarcoPoloResearchLab/diagramsync/internal/config"
	"github.com/MarcoPoloResearchLab/diagramsync/internal/database"
	"github.com/MarcoPoloResearchLab/diagramsync/internal/diagrams"
	"github.com/MarcoPoloResearchLab/diagramsync/internal/logging"
	"github.com/MarcoPoloResearchLab/diagramsync/internal/server"
	"github.com/MarcoPoloResearchLab/diagramsync/internal/startup"
	"github.com/MarcoPoloResearchLab/diagramsync/internal/store"
	"github.com/MarcoPoloResearchLab/diagramsync/internal/watch"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the reference sync server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
	defaults := config.NewViper()
	cmd.Flags().String("address", defaults.GetString("server.address"), "HTTP listen address")
	cmd.Flags().String("server-db", defaults.GetString("server.database_path"), "Server SQLite database path")
	cmd.Flags().Int("cache-ttl-seconds", defaults.GetInt("server.cache_ttl_seconds"), "Pull cache TTL in seconds")
	bindLocalFlag(cmd, "server.address", "address")
	bindLocalFlag(cmd, "server.database_path", "server-db")
	bindLocalFlag(cmd, "server.cache_ttl_seconds", "cache-ttl-seconds")
	return cmd
}

func bindLocalFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(logging.Config{Level: appConfig.LogLevel, File: appConfig.LogFile})
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.Server.DatabasePath, logger, catalog.Schema())
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	persistent, err := catalog.NewCatalog(catalog.Config{Database: db, Logger: logger})
	if err != nil {
		return err
	}
	diagramStore, err := store.NewStore(store.Config{
		Catalog:  persistent,
		CacheTTL: appConfig.Server.CacheTTL,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	gin.SetMode(gin.ReleaseMode)
	handler, err := server.NewHTTPHandler(server.Dependencies{
		Store:    diagramStore,
		Realtime: server.NewRealtimeDispatcher(),
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.Server.Address,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.Server.Address))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func newOpenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "open [diagram-id]",
		Short: "Resolve which diagram to open, importing the remote catalog when needed",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApplication()
			if err != nil {
				return err
			}
			defer app.close()

			surface := newConsoleSurface(cmd.OutOrStdout())
			reconciler, err := startup.NewReconciler(startup.Config{
				Local:            app.catalog,
				Remote:           app.client,
				Surface:          surface,
				DefaultDiagramID: app.cfg.Sync.DefaultDiagramID,
				Logger:           app.logger,
			})
			if err != nil {
				return err
			}

			requestedID := ""
			if len(args) == 1 {
				requestedID = args[0]
			}
			result, err := reconciler.Evaluate(cmd.Context(), requestedID)
			if err != nil {
				return err
			}
			if result.Outcome == startup.OutcomeRedirect {
				result, err = reconciler.Evaluate(cmd.Context(), result.DiagramID)
				if err != nil {
					return err
				}
			}
			if result.Outcome == startup.OutcomeLoaded {
				if _, _, err := app.catalog.LoadFullDiagram(cmd.Context(), result.DiagramID); errors.Is(err, catalog.ErrProjectionOnly) {
					fmt.Fprintf(cmd.OutOrStdout(), "only the catalog entry is stored locally, run `diagramsync pull %s` to fetch its contents\n", result.DiagramID)
				}
			}
			if result.Imported > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "imported %d diagrams from the remote catalog\n", result.Imported)
			}
			return nil
		},
	}
}

func newWatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <directory>",
		Short: "Save edited diagram files to the catalog and push them after a quiet period",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApplication()
			if err != nil {
				return err
			}
			defer app.close()

			syncCoordinator, err := app.newCoordinator()
			if err != nil {
				return err
			}

			signalCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			syncCoordinator.Activate(cmd.Context())

			syncer, err := watch.NewSyncer(watch.SyncerConfig{
				Saver:     app.catalog,
				Scheduler: syncCoordinator,
				Codec:     app.codec,
				Logger:    app.logger,
			})
			if err != nil {
				return err
			}
			watcher, err := watch.NewFileWatcher()
			if err != nil {
				return err
			}
			if err := watcher.Start(args[0]); err != nil {
				return err
			}
			app.logger.Info("watching diagram files", zap.String("directory", args[0]))

			runErr := syncer.Run(signalCtx, watcher)
			stopErr := watcher.Stop()
			app.shutdownCoordinator(syncCoordinator)

			if runErr != nil && !errors.Is(runErr, context.Canceled) {
				return runErr
			}
			return stopErr
		},
	}
}

func newPushCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "push <diagram-id>",
		Short: "Push a catalog diagram to the remote store now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApplication()
			if err != nil {
				return err
			}
			defer app.close()

			syncCoordinator, err := app.newCoordinator()
			if err != nil {
				return err
			}
			outcome, err := pushFromCatalog(cmd.Context(), app.catalog, syncCoordinator, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", args[0], outcome)
			return nil
		},
	}
}

func newPullCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "pull <diagram-id>",
		Short: "Fetch a diagram from the remote store into the catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApplication()
			if err != nil {
				return err
			}
			defer app.close()

			syncCoordinator, err := app.newCoordinator()
			if err != nil {
				return err
			}
			diagram, err := pullIntoCatalog(cmd.Context(), app.catalog, syncCoordinator, app.syncEnabled(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pulled %s (%s)\n", diagram.Name, diagram.ID)
			return nil
		},
	}
}

func newListCommand() *cobra.Command {
	var remoteOnly bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List catalog diagrams",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApplication()
			if err != nil {
				return err
			}
			defer app.close()

			var items []diagrams.ListItem
			if remoteOnly {
				if !app.syncEnabled() {
					return errSyncDisabled
				}
				syncCoordinator, err := app.newCoordinator()
				if err != nil {
					return err
				}
				items = syncCoordinator.ListDiagrams(cmd.Context())
			} else {
				items, err = app.catalog.ListDiagrams(cmd.Context())
				if err != nil {
					return err
				}
			}

			writer := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(writer, "ID\tNAME\tDATABASE\tUPDATED")
			for _, item := range items {
				databaseType := string(item.DatabaseType)
				if item.DatabaseEdition != nil && strings.TrimSpace(*item.DatabaseEdition) != "" {
					databaseType += "/" + *item.DatabaseEdition
				}
				fmt.Fprintf(writer, "%s\t%s\t%s\t%s\n", item.ID, item.Name, databaseType, item.UpdatedAt.Format(time.RFC3339))
			}
			return writer.Flush()
		},
	}
	cmd.Flags().BoolVar(&remoteOnly, "remote", false, "List the remote catalog instead of the local one")
	return cmd
}

func newHealthCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check whether the remote sync endpoint answers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApplication()
			if err != nil {
				return err
			}
			defer app.close()

			if !app.client.Enabled() {
				fmt.Fprintln(cmd.OutOrStdout(), "disabled")
				return nil
			}
			if !app.client.HealthCheck(cmd.Context()) {
				return errors.New("remote sync endpoint unreachable")
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
}

func newNewCommand() *cobra.Command {
	var databaseType string
	cmd := &cobra.Command{
		Use:   "new <name>",
		Short: "Create an empty diagram in the catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApplication()
			if err != nil {
				return err
			}
			defer app.close()

			name := strings.TrimSpace(args[0])
			if name == "" {
				return errors.New("diagram name is required")
			}
			diagramID, err := diagrams.NewUUIDProvider().NewID()
			if err != nil {
				return err
			}
			now := time.Now().UTC()
			diagram := diagrams.Diagram{
				ID:            diagramID,
				Name:          name,
				DatabaseType:  diagrams.DatabaseType(databaseType),
				CreatedAt:     now,
				UpdatedAt:     now,
				Tables:        []diagrams.Table{},
				Relationships: []diagrams.Relationship{},
			}
			if err := app.catalog.SaveDiagram(cmd.Context(), diagram); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), diagramID)
			return nil
		},
	}
	cmd.Flags().StringVar(&databaseType, "database", string(diagrams.DatabaseTypeGeneric), "Database type of the new diagram")
	return cmd
}

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/serroba/collab-engine/internal/config"
	"github.com/serroba/collab-engine/internal/logging"
	"github.com/serroba/collab-engine/internal/presence"
	"github.com/serroba/collab-engine/internal/server"
	"github.com/serroba/collab-engine/internal/snapshot"
	"github.com/serroba/collab-engine/internal/state"
	"github.com/serroba/collab-engine/internal/ws"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "collab-server",
		Short: "Real-time document collaboration server",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path (empty for in-memory snapshots)")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().Int("snapshot-interval", defaults.GetInt("snapshot.interval"), "Operations between automatic snapshots")
	cmd.PersistentFlags().Int("snapshot-keep-count", defaults.GetInt("snapshot.keep_count"), "Snapshots retained per room")
	cmd.PersistentFlags().Duration("snapshot-max-age", defaults.GetDuration("snapshot.max_age"), "Maximum snapshot age before purge")
	cmd.PersistentFlags().Duration("lock-ttl", defaults.GetDuration("lock.ttl"), "Soft lock time-to-live")
	cmd.PersistentFlags().Duration("stale-after", defaults.GetDuration("presence.stale_after"), "Presence staleness threshold")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "snapshot.interval", "snapshot-interval")
	bindFlag(cmd, "snapshot.keep_count", "snapshot-keep-count")
	bindFlag(cmd, "snapshot.max_age", "snapshot-max-age")
	bindFlag(cmd, "lock.ttl", "lock-ttl")
	bindFlag(cmd, "presence.stale_after", "stale-after")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	store, closeStore, err := buildStore(appConfig, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	tracker := presence.NewTracker(presence.TrackerConfig{
		LockTTL:    appConfig.LockTTL,
		StaleAfter: appConfig.StaleAfter,
		Logger:     logger,
	})

	manager := state.NewManager(state.ManagerConfig{
		Store:            store,
		SnapshotInterval: appConfig.SnapshotInterval,
		Logger:           logger,
	})

	hub := ws.NewHub(ws.HubConfig{
		Tracker:        tracker,
		Logger:         logger,
		ReaperInterval: appConfig.ReaperInterval,
		OnEmpty:        manager.Cleanup,
	})
	hub.Start()
	defer hub.Stop()

	sweeper := snapshot.NewSweeper(store, snapshot.SweepConfig{
		Interval:  appConfig.SweepInterval,
		KeepCount: appConfig.SnapshotKeep,
		MaxAge:    appConfig.SnapshotMaxAge,
	}, logger)
	sweeper.Start()
	defer sweeper.Stop()

	handler, err := server.NewHTTPHandler(server.Dependencies{
		State:   manager,
		Tracker: tracker,
		Hub:     hub,
		Store:   store,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
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

// buildStore selects the snapshot backend: SQLite when a database path is
// configured, in-memory otherwise.
func buildStore(appConfig config.AppConfig, logger *zap.Logger) (snapshot.Store, func(), error) {
	if appConfig.DatabasePath == "" {
		logger.Info("using in-memory snapshot store")

		return snapshot.NewMemoryStore(logger), func() {}, nil
	}

	db, err := snapshot.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return nil, nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, err
	}

	closeStore := func() {
		_ = sqlDB.Close()
	}

	return snapshot.NewSQLiteStore(db, logger), closeStore, nil
}

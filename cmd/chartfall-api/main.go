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

	"github.com/chartfall-net/chartfall/backend/internal/assets"
	"github.com/chartfall-net/chartfall/backend/internal/auth"
	"github.com/chartfall-net/chartfall/backend/internal/catalog"
	"github.com/chartfall-net/chartfall/backend/internal/config"
	"github.com/chartfall-net/chartfall/backend/internal/database"
	"github.com/chartfall-net/chartfall/backend/internal/logging"
	"github.com/chartfall-net/chartfall/backend/internal/newsfeed"
	"github.com/chartfall-net/chartfall/backend/internal/pipeline"
	"github.com/chartfall-net/chartfall/backend/internal/server"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "chartfall-api",
		Short: "Chartfall chart catalog backend service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	rootCmd.AddCommand(newBackupCommand())
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
	cmd.PersistentFlags().String("public-base-url", defaults.GetString("http.public_base_url"), "Externally resolvable base URL of this server")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("storage-backend", defaults.GetString("storage.backend"), "Asset store backend (local, badger, remote)")
	cmd.PersistentFlags().String("storage-path", defaults.GetString("storage.path"), "Asset store root path")
	cmd.PersistentFlags().String("storage-base-url", defaults.GetString("storage.base_url"), "Redirect base URL for the remote backend")
	cmd.PersistentFlags().String("renderer-url", defaults.GetString("renderer.url"), "Background renderer service URL")
	cmd.PersistentFlags().String("ffmpeg-path", defaults.GetString("ffmpeg.path"), "ffmpeg binary for preview encoding")
	cmd.PersistentFlags().String("backup-dir", defaults.GetString("backup.dir"), "Directory for backup archives")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "http.public_base_url", "public-base-url")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "storage.backend", "storage-backend")
	bindFlag(cmd, "storage.path", "storage-path")
	bindFlag(cmd, "storage.base_url", "storage-base-url")
	bindFlag(cmd, "renderer.url", "renderer-url")
	bindFlag(cmd, "ffmpeg.path", "ffmpeg-path")
	bindFlag(cmd, "backup.dir", "backup-dir")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
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

func newAssetStore(appConfig config.AppConfig) (assets.Store, error) {
	switch appConfig.StorageBackend {
	case config.StorageBackendBadger:
		return assets.NewBadgerStore(appConfig.StoragePath)
	case config.StorageBackendRemote:
		return assets.NewRemoteStore(appConfig.StoragePath, appConfig.StorageBaseURL)
	default:
		return assets.NewLocalStore(appConfig.StoragePath)
	}
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

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	store, err := newAssetStore(appConfig)
	if err != nil {
		return err
	}
	defer store.Close()

	sessions, err := auth.NewManager(auth.ManagerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        "chartfall",
		SessionTTL:    appConfig.SessionTTL,
	})
	if err != nil {
		return err
	}

	renderer := pipeline.NewRendererClient(pipeline.RendererClientConfig{
		BaseURL:     appConfig.RendererURL,
		CallTimeout: appConfig.RendererCallTimeout,
		MaxAttempts: appConfig.RendererMaxAttempts,
		Logger:      logger,
	})
	chartPipeline, err := pipeline.New(pipeline.Config{
		Store:         store,
		Converter:     pipeline.NewEngineConverter(),
		Preview:       pipeline.NewFFmpegEncoder(appConfig.FfmpegPath),
		Renderer:      renderer,
		PublicBaseURL: appConfig.PublicBaseURL,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	repository, err := catalog.NewRepository(db, time.Now)
	if err != nil {
		return err
	}
	charts, err := repository.ListCharts(ctx)
	if err != nil {
		return err
	}
	mirror := catalog.NewMirror(charts)
	logger.Info("serving mirror loaded", zap.Int("charts", mirror.Len()))

	feedStore, err := newsfeed.NewStore(db, time.Now)
	if err != nil {
		return err
	}
	notifier := newsfeed.NewNotifier(appConfig.WebhookURLs, 10*time.Second, logger)
	publisher := newsfeed.NewPublisher(feedStore, notifier, logger)

	service, err := catalog.NewService(catalog.ServiceConfig{
		Repository: repository,
		Mirror:     mirror,
		Cache:      catalog.NewViewCache(appConfig.CacheTTL, nil),
		Store:      store,
		Pipeline:   chartPipeline,
		Announcer:  publisher,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Sessions:      sessions,
		Catalog:       service,
		Feed:          feedStore,
		Store:         store,
		AdminHandles:  appConfig.AdminHandles,
		IngestTimeout: appConfig.IngestTimeout,
		Logger:        logger,
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

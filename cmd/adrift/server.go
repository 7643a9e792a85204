package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/adrifthq/adrift/internal/config"
	"github.com/adrifthq/adrift/internal/metrics"
	"github.com/adrifthq/adrift/internal/mirror"
	"github.com/adrifthq/adrift/internal/storage"
	"github.com/adrifthq/adrift/internal/storage/bolt"
	"github.com/adrifthq/adrift/internal/storage/redis"
	"github.com/adrifthq/adrift/internal/systemd"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the usage mirror server",
	Long:  `Start the companion usage mirror server with its metrics endpoint. Game clients point mirror.base_url at this server to share a quota across devices.`,
	RunE:  runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Msg("Starting Adrift mirror")

	// Check for systemd socket activation
	sdListeners, err := systemd.GetListeners()
	if err != nil {
		return fmt.Errorf("failed to get systemd listeners: %w", err)
	}
	if sdListeners.Activated {
		logger.Info().Msg("Running with systemd socket activation")
	}

	store, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	logger.Info().
		Str("type", cfg.Storage.Type).
		Str("path", cfg.Storage.Path).
		Msg("Storage initialized")

	mirrorAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.MirrorPort)
	mirrorServer := mirror.NewServer(mirror.ServerConfig{
		Addr:       mirrorAddr,
		DailyLimit: cfg.Quota.DailyLimit,
		CacheSize:  cfg.Mirror.CacheSize,
		CacheTTL:   parseDuration(cfg.Mirror.CacheTTL, 30*time.Second),
	}, store.Usage(), logger)

	if sdListeners.Activated && sdListeners.Mirror != nil {
		mirrorServer.SetListener(sdListeners.Mirror)
	}

	if err := mirrorServer.Start(); err != nil {
		return fmt.Errorf("failed to start Mirror Server: %w", err)
	}

	logger.Info().
		Str("addr", mirrorAddr).
		Msg("Mirror Server started")

	metricsAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.MetricsPort)
	metricsServer := metrics.NewServer(metricsAddr, logger)

	if sdListeners.Activated && sdListeners.Metrics != nil {
		metricsServer.SetListener(sdListeners.Metrics)
	}

	if err := metricsServer.Start(); err != nil {
		return fmt.Errorf("failed to start Metrics Server: %w", err)
	}

	logger.Info().
		Str("addr", metricsAddr).
		Msg("Metrics Server started")

	logger.Info().Msg("Adrift mirror startup complete")
	logger.Info().Msgf("Usage mirror: http://%s/usage/{deviceId}", mirrorAddr)
	logger.Info().Msgf("Metrics: http://%s/metrics", metricsAddr)

	// Notify systemd that we're ready to serve requests
	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan

	logger.Info().Msg("Shutdown signal received, gracefully stopping...")

	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd stopping notification")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := mirrorServer.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Error stopping Mirror Server")
	}

	if err := metricsServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping Metrics Server")
	}

	logger.Info().Msg("Adrift mirror stopped")

	return nil
}

func openStorage(cfg config.StorageConfig) (storage.Store, error) {
	storageType := cfg.Type
	if storageType == "" {
		storageType = "bolt"
	}

	switch storageType {
	case "bolt":
		return bolt.Open(cfg.Path)
	case "redis":
		return redis.Open(cfg.Redis)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", storageType)
	}
}

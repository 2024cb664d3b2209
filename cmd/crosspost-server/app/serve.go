package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"

	"github.com/stacklok/crosspost-server/internal/api"
	"github.com/stacklok/crosspost-server/internal/config"
	"github.com/stacklok/crosspost-server/internal/entity"
	"github.com/stacklok/crosspost-server/internal/notices"
	"github.com/stacklok/crosspost-server/internal/sites"
	"github.com/stacklok/crosspost-server/internal/store"
	syncpkg "github.com/stacklok/crosspost-server/internal/sync"
	"github.com/stacklok/crosspost-server/internal/sync/builder"
	"github.com/stacklok/crosspost-server/internal/telemetry"
	"github.com/stacklok/crosspost-server/internal/transport"
	"github.com/stacklok/crosspost-server/internal/trigger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the crosspost server",
	Long: `Start the crosspost server to accept bulk selections and synchronize
them to the configured remote sites.

The server requires a configuration file (--config) that specifies:
- Remote sites and their credentials
- Chunking, trigger cadence and field exclusions
- Entity source and state store backends

See examples/ directory for sample configurations.`,
	RunE: runServe,
}

const (
	defaultGracefulTimeout = 30 * time.Second
	serverRequestTimeout   = 10 * time.Second
	serverReadTimeout      = 10 * time.Second
	// Must be > serverRequestTimeout to let middleware handle timeout
	serverWriteTimeout = 15 * time.Second
	serverIdleTimeout  = 60 * time.Second
)

func init() {
	serveCmd.Flags().String("address", ":8080", "Address to listen on")
	serveCmd.Flags().String("config", "", "Path to configuration file (YAML format, required)")

	if err := viper.BindPFlag("address", serveCmd.Flags().Lookup("address")); err != nil {
		slog.Error("Failed to bind address flag", "error", err)
		os.Exit(1)
	}
	if err := viper.BindPFlag("config", serveCmd.Flags().Lookup("config")); err != nil {
		slog.Error("Failed to bind config flag", "error", err)
		os.Exit(1)
	}

	if err := serveCmd.MarkFlagRequired("config"); err != nil {
		slog.Error("Failed to mark config flag as required", "error", err)
		os.Exit(1)
	}
}

// newEntityStore creates the local entity source selected by configuration.
func newEntityStore(cfg *config.EntityConfig) (entity.Store, error) {
	switch cfg.Type {
	case "", "memory":
		return entity.NewInMemoryStore(), nil
	case "file":
		return entity.NewFileStore(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown entity source type: %s", cfg.Type)
	}
}

func runServe(_ *cobra.Command, _ []string) error {
	ctx := context.Background()
	address := viper.GetString("address")

	slog.Info("Starting crosspost server", "address", address)

	configPath := viper.GetString("config")
	cfg, err := config.NewLoader().Load(config.WithConfigPath(configPath))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	slog.Info("Loaded configuration",
		"path", configPath,
		"sites", len(cfg.Sites),
		"store", cfg.Store.Type,
		"commerce", cfg.Sync.Commerce)

	registry, err := sites.NewRegistry(cfg)
	if err != nil {
		return fmt.Errorf("failed to build site registry: %w", err)
	}

	entities, err := newEntityStore(&cfg.Entities)
	if err != nil {
		return fmt.Errorf("failed to create entity source: %w", err)
	}

	stores, err := store.NewFromConfig(ctx, &cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to create state store: %w", err)
	}
	defer func() {
		if stores.Close != nil {
			stores.Close()
		}
	}()

	timeout := cfg.Sync.RequestTimeoutDuration()
	client := transport.NewDefaultClient(timeout)
	resolver := builder.NewRESTResolver(client, entities, timeout)
	variations := builder.NewVariationSyncer(client, stores.Links, timeout)

	metrics, err := telemetry.NewSyncMetrics(otel.GetMeterProvider())
	if err != nil {
		return fmt.Errorf("failed to create sync metrics: %w", err)
	}

	triggers := trigger.NewManager(ctx)
	executor := syncpkg.NewExecutor(cfg, entities, stores.Links, client, resolver, variations)
	scheduler := syncpkg.NewScheduler(cfg, registry, stores.Jobs, executor, triggers, metrics)
	renderer := notices.NewRenderer(cfg, scheduler)

	router := api.NewServer(
		&api.Deps{
			Config:    cfg,
			Registry:  registry,
			Scheduler: scheduler,
			Notices:   renderer,
		},
		api.WithMiddlewares(
			middleware.RequestID,
			middleware.RealIP,
			middleware.Recoverer,
			middleware.Timeout(serverRequestTimeout),
			api.LoggingMiddleware,
		),
	)

	server := &http.Server{
		Addr:         address,
		Handler:      router,
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
		IdleTimeout:  serverIdleTimeout,
	}

	go func() {
		slog.Info("Server listening", "address", address)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Failed to start server", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down server...")

	// Stop armed triggers before the HTTP surface goes away
	triggers.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultGracefulTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		return err
	}

	slog.Info("Server shutdown complete")
	return nil
}

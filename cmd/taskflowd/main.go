// Taskflowd is the taskflow daemon.
//
// It serves the task creation, keyword clustering and step progress HTTP
// API backed by the configured record store.
//
// Configuration is loaded from ~/.config/taskflow/config.yaml (or
// /etc/taskflow/config.yaml) and environment variables. See internal/config
// for details.
//
// Usage:
//
//	# Start with the in-memory store and defaults
//	taskflowd
//
//	# Configure via environment
//	SERVER_HTTP_PORT=9191 STORAGE_PROVIDER=sqlite STORAGE_SQLITE_PATH=/var/lib/taskflow/db taskflowd
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/log/global"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/taskflow/internal/clustering"
	"github.com/fyrsmithlabs/taskflow/internal/config"
	"github.com/fyrsmithlabs/taskflow/internal/events"
	httpserver "github.com/fyrsmithlabs/taskflow/internal/http"
	"github.com/fyrsmithlabs/taskflow/internal/logging"
	"github.com/fyrsmithlabs/taskflow/internal/safemsg"
	"github.com/fyrsmithlabs/taskflow/internal/steps"
	"github.com/fyrsmithlabs/taskflow/internal/storage"
	"github.com/fyrsmithlabs/taskflow/internal/telemetry"
	"github.com/fyrsmithlabs/taskflow/internal/transaction"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		case "init":
			if err := config.EnsureConfigDir(); err != nil {
				log.Fatalf("Failed to create config directory: %v", err)
			}
			fmt.Println("Config directory ready: ~/.config/taskflow (place config.yaml there with 0600 permissions)")
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  taskflowd           Start the taskflow daemon\n")
			fmt.Fprintf(os.Stderr, "  taskflowd init      Create the config directory\n")
			fmt.Fprintf(os.Stderr, "  taskflowd version   Show version information\n")
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadWithFile(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := run(ctx, cfg); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server shutdown complete")
}

func printVersion() {
	fmt.Printf("taskflowd by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run wires every service and serves HTTP until ctx is cancelled.
//
//  1. Initializes logger and telemetry
//  2. Opens the record store and event publisher
//  3. Builds the clustering pipeline and the task coordinator
//  4. Starts the HTTP server and shuts it down on cancellation
func run(ctx context.Context, cfg *config.Config) error {
	logger, err := initLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()
	zl := logger.Underlying()

	tel, err := telemetry.New(ctx, telemetry.FromObservability(cfg.Observability, version))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout.Duration())
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			zl.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()
	if h := tel.Health(); h.Degraded {
		zl.Warn("telemetry degraded", zap.String("reason", h.Reason))
	}

	zl.Info("Starting taskflowd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("storage", cfg.Storage.Provider),
		zap.String("pages", cfg.Pages.Provider),
		zap.String("clustering", cfg.Clustering.Provider))

	deps, err := initDependencies(ctx, cfg, zl)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer deps.Close()

	model, err := initModel(ctx, cfg)
	if err != nil {
		return err
	}
	if model == nil {
		zl.Warn("clustering API key not configured; cluster requests will fail")
	}

	client := clustering.NewClient(model,
		clustering.WithRateLimit(cfg.Clustering.RateLimit, cfg.Clustering.Burst),
		clustering.WithTimeout(cfg.Clustering.Timeout.Duration()),
		clustering.WithLogger(zl),
	)
	orchestrator := clustering.NewOrchestrator(deps.pages, client, zl,
		clustering.WithTracerProvider(tel.TracerProvider()),
		clustering.WithMeterProvider(tel.MeterProvider()),
	)
	coordinator := transaction.NewCoordinator(deps.backend, zl,
		transaction.WithTracerProvider(tel.TracerProvider()),
		transaction.WithMeterProvider(tel.MeterProvider()),
	)

	srv, err := httpserver.NewServer(httpserver.Deps{
		Tasks:     coordinator,
		Clusterer: orchestrator,
		Steps:     steps.NewService(deps.backend, zl),
		Publisher: deps.publisher,
		Messages:  safemsg.FromConfig(cfg.Messages),
		Databases: storage.DatabaseIDs{
			Templates: cfg.Databases.Templates,
			Steps:     cfg.Databases.Steps,
			Instances: cfg.Databases.Instances,
		},
		Registry: prometheus.NewRegistry(),
		Version:  version,
	}, zl, &httpserver.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	})
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// initLogger builds the structured logger, bridged to the global OTEL
// logger provider when telemetry is enabled.
func initLogger(cfg *config.Config) (*logging.Logger, error) {
	logCfg, err := logging.FromObservability(cfg.Observability)
	if err != nil {
		return nil, err
	}
	return logging.NewLogger(logCfg, global.GetLoggerProvider())
}

// initModel builds the clustering model. It returns nil without an API key
// so the daemon still serves task requests.
func initModel(ctx context.Context, cfg *config.Config) (clustering.Model, error) {
	if !cfg.Clustering.APIKey.IsSet() {
		return nil, nil
	}
	model, err := clustering.NewModel(ctx, clustering.ModelConfig{
		Provider:    cfg.Clustering.Provider,
		APIKey:      cfg.Clustering.APIKey.Value(),
		Model:       cfg.Clustering.Model,
		BaseURL:     cfg.Clustering.BaseURL,
		Temperature: cfg.Clustering.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create clustering model: %w", err)
	}
	return model, nil
}

// dependencies holds all infrastructure dependencies.
type dependencies struct {
	backend   storage.Backend
	pages     clustering.PageSource
	publisher events.Publisher
	closers   []func() error
	logger    *zap.Logger
}

// Close releases all infrastructure resources.
func (d *dependencies) Close() {
	if d.publisher != nil {
		if err := d.publisher.Close(); err != nil {
			d.logger.Warn("failed to close publisher", zap.Error(err))
		}
	}
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			d.logger.Warn("failed to close resource", zap.Error(err))
		}
	}
}

// initDependencies opens the record store, the keyword page source and the
// event publisher.
func initDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*dependencies, error) {
	deps := &dependencies{logger: logger, publisher: events.NopPublisher{}}

	backend, closer, err := openBackend(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	deps.backend = backend
	if closer != nil {
		deps.closers = append(deps.closers, closer)
	}
	logger.Info("Record store initialized", zap.String("provider", cfg.Storage.Provider))

	pages, err := openPageSource(cfg)
	if err != nil {
		deps.Close()
		return nil, err
	}
	deps.pages = pages

	if cfg.NATS.Enabled {
		pub, err := events.ConnectNATS(cfg.NATS.URL, cfg.NATS.SubjectPrefix, logger)
		if err != nil {
			deps.Close()
			return nil, err
		}
		deps.publisher = pub
	}

	return deps, nil
}

package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/byronwjones/chrysolite/internal/app"
	"github.com/byronwjones/chrysolite/internal/config"
	"github.com/byronwjones/chrysolite/internal/realtime"
	"github.com/byronwjones/chrysolite/internal/watcher"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 5 * time.Second

var (
	serveConfigPath string
	servePort       int
	serveStart      bool
)

// ErrNoApplication is returned by serve when no program path is configured.
var ErrNoApplication = errors.New("no application configured (set app.path or CHRYSOLITE_APP_PATH)")

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve a program over HTTP and WebSocket",
	Long: `Serve exposes the configured program through a REST API and a WebSocket
endpoint. Clients start it, send it input, and receive its messages.

Only one server may use a given lock file. Timing changes in the config file
apply to the next execution without a restart.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(serveConfigPath)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("port") {
			cfg.Port = servePort
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx, serveConfigPath, cfg, serveStart)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveConfigPath, "config", "", "config file (.toml, .yaml)")
	serveCmd.Flags().IntVar(&servePort, "port", config.DefaultPort, "HTTP listen port")
	serveCmd.Flags().BoolVar(&serveStart, "start", false, "start the program with its configured args immediately")
	rootCmd.AddCommand(serveCmd)
}

// acquireLock takes the server lock without blocking.
func acquireLock(path string) (*flock.Flock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating lock dir: %w", err)
	}

	fileLock := flock.New(path)
	locked, err := fileLock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("server already running (lock %s held by another process)", path)
	}
	return fileLock, nil
}

func newApp(cfg config.Config, logger *slog.Logger) *app.App {
	return app.New(cfg.App.Path, cfg.App.Description,
		app.WithOutputLatency(cfg.App.OutputLatency()),
		app.WithInactivityTimeout(cfg.App.InactivityTimeout()),
		app.WithDir(cfg.App.Dir),
		app.WithEnv(cfg.App.Env),
		app.WithHistory(cfg.History),
		app.WithLogger(logger),
	)
}

// reloadTimings re-reads the config file and applies its timings to a.
func reloadTimings(a *app.App, path string, logger *slog.Logger) {
	cfg, err := config.Load(path)
	if err != nil {
		logger.Warn("config reload failed", "path", path, "error", err)
		return
	}
	a.SetTimings(cfg.App.OutputLatency(), cfg.App.InactivityTimeout())
	logger.Info("config reloaded", "path", path,
		"output_latency", cfg.App.OutputLatency(),
		"inactivity_timeout", cfg.App.InactivityTimeout())
}

func serve(ctx context.Context, configPath string, cfg config.Config, start bool) error {
	if cfg.App.Path == "" {
		return ErrNoApplication
	}

	fileLock, err := acquireLock(cfg.LockFile)
	if err != nil {
		return err
	}
	defer func() { _ = fileLock.Unlock() }()

	logger := slog.Default()
	a := newApp(cfg, logger)
	rtServer := realtime.New(a, logger)

	if configPath != "" {
		fileWatch := watcher.New(0, func(path string) {
			reloadTimings(a, path, logger)
		}, logger)
		if err := fileWatch.Watch(configPath); err != nil {
			// Non-fatal: serve without hot reload.
			logger.Warn("config watch failed", "path", configPath, "error", err)
		}
		defer fileWatch.Shutdown()
	}

	if start {
		if err := a.Execute(cfg.App.Args); err != nil {
			return fmt.Errorf("starting %s: %w", cfg.App.Path, err)
		}
	}

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: rtServer.Handler(),
	}

	// Graceful shutdown on signals.
	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
		rtServer.Shutdown()
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.Close(closeCtx)
		httpServer.Close()
	}()

	logger.Info("chrysolite server running", "url", fmt.Sprintf("http://localhost:%d", cfg.Port), "app", cfg.App.Path)
	if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.Close(closeCtx)
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

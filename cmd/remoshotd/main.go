package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/remoshot/coordinator/internal/api"
	"github.com/remoshot/coordinator/internal/coordinator"
	"github.com/remoshot/coordinator/internal/imagestore"
	"github.com/remoshot/coordinator/internal/registry"
	"github.com/remoshot/coordinator/internal/retention"
	"github.com/remoshot/coordinator/internal/secretauth"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type config struct {
	wsPort        string
	httpAddr      string
	retentionMins string
	logLevel      string
	dataDir       string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := &config{}

	root := &cobra.Command{
		Use:   "remoshotd",
		Short: "remoshotd — RemoShot screenshot coordinator",
		Long: `remoshotd coordinates a fleet of screenshot-capture agents over
WebSocket and exposes a synchronous HTTP endpoint that fans a capture
request out to every connected agent and aggregates the results.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}

	root.AddCommand(newVersionCmd())

	root.PersistentFlags().StringVar(&cfg.wsPort, "ws-port", envOrDefault("REMOSHOT_WS_PORT", ""), "WebSocket port for agent connections (prompted if unset)")
	root.PersistentFlags().StringVar(&cfg.httpAddr, "http-addr", envOrDefault("REMOSHOT_HTTP_ADDR", ""), "HTTP listen address, e.g. 127.0.0.1:8113 (prompted if unset)")
	root.PersistentFlags().StringVar(&cfg.retentionMins, "retention-minutes", envOrDefault("REMOSHOT_RETENTION_MINUTES", ""), "Screenshot retention time in minutes (prompted if unset)")
	root.PersistentFlags().StringVar(&cfg.logLevel, "log-level", envOrDefault("REMOSHOT_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&cfg.dataDir, "data-dir", envOrDefault("REMOSHOT_DATA_DIR", "./data"), "Directory for secret.key and images/")

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("remoshotd %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func run(ctx context.Context, cfg *config) error {
	logger, err := buildLogger(cfg.logLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	stdin := bufio.NewScanner(os.Stdin)

	wsPort := cfg.wsPort
	if wsPort == "" {
		wsPort = prompt(stdin, "WebSocket port for agent connections")
	}
	if _, err := strconv.ParseUint(wsPort, 10, 16); err != nil {
		return fmt.Errorf("invalid --ws-port %q: %w", wsPort, err)
	}

	httpAddr := cfg.httpAddr
	if httpAddr == "" {
		httpAddr = prompt(stdin, "HTTP listen address (e.g. 127.0.0.1:8113)")
	}

	retentionStr := cfg.retentionMins
	if retentionStr == "" {
		retentionStr = prompt(stdin, "Screenshot retention time in minutes")
	}
	retentionMins, err := strconv.Atoi(retentionStr)
	if err != nil {
		return fmt.Errorf("invalid --retention-minutes %q: %w", retentionStr, err)
	}

	logger.Info("starting remoshotd",
		zap.String("version", version),
		zap.String("ws_port", wsPort),
		zap.String("http_addr", httpAddr),
		zap.Int("retention_minutes", retentionMins),
	)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// --- Disk init ---
	if err := os.MkdirAll(cfg.dataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	imageDir := filepath.Join(cfg.dataDir, "images")
	if err := os.MkdirAll(imageDir, 0o755); err != nil {
		return fmt.Errorf("failed to create images directory: %w", err)
	}

	// --- Secret ---
	secretPath := filepath.Join(cfg.dataDir, "secret.key")
	auth, loadedFromDisk, err := secretauth.LoadOrGenerate(secretPath)
	if err != nil {
		logger.Warn("secret persistence issue, continuing with in-memory secret", zap.Error(err))
	}
	logger.Info("server secret ready",
		zap.Bool("loaded_from_disk", loadedFromDisk),
		zap.String("secret_path", secretPath),
	)

	// --- Core components ---
	store := imagestore.New(imageDir)
	reg := registry.New(logger)
	coord := coordinator.New(reg, logger)

	sweeper, err := retention.New(store, time.Duration(retentionMins)*time.Minute, logger)
	if err != nil {
		return fmt.Errorf("failed to create retention sweeper: %w", err)
	}
	if err := sweeper.Start(); err != nil {
		return fmt.Errorf("failed to start retention sweeper: %w", err)
	}
	defer func() {
		if err := sweeper.Stop(); err != nil {
			logger.Warn("retention sweeper shutdown error", zap.Error(err))
		}
	}()

	router := api.NewRouter(api.RouterConfig{
		Dispatcher: coord,
		Deliverer:  coord,
		Registry:   reg,
		ImageStore: store,
		Auth:       auth,
		Logger:     logger,
	})

	httpSrv := &http.Server{
		Addr:         httpAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	wsSrv := &http.Server{
		Addr:         "0.0.0.0:" + wsPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("http server listening", zap.String("addr", httpAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			cancel()
		}
	}()

	go func() {
		logger.Info("websocket server listening", zap.String("addr", wsSrv.Addr))
		if err := wsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("websocket server error", zap.Error(err))
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down remoshotd")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server graceful shutdown error", zap.Error(err))
	}
	if err := wsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("websocket server graceful shutdown error", zap.Error(err))
	}

	logger.Info("remoshotd stopped")
	return nil
}

// prompt reads a single line from stdin, used as the interactive fallback
// for any flag not supplied on the command line or via environment — mirrors
// the original Rust implementation's dialoguer::Input prompts.
func prompt(scanner *bufio.Scanner, msg string) string {
	fmt.Printf("%s: ", msg)
	if scanner.Scan() {
		return strings.TrimSpace(scanner.Text())
	}
	return ""
}

func buildLogger(level string) (*zap.Logger, error) {
	var cfg zap.Config

	switch level {
	case "debug":
		cfg = zap.NewDevelopmentConfig()
	default:
		cfg = zap.NewProductionConfig()
	}

	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	return cfg.Build()
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

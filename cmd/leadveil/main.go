// Command leadveil hides spreadsheet lead rows after repeated call attempts
// and unhides them when the cooldown expires.
//
// Usage:
//
//	leadveil -config leadveil.yaml
//
// Environment overrides (take precedence over the config file):
//
//	LEADVEIL_ADDR, LEADVEIL_ADMIN_KEY, LEADVEIL_WEBHOOK_SECRET,
//	LEADVEIL_CREDENTIALS_FILE, LOG_LEVEL
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hazyhaar/leadveil"
	"github.com/hazyhaar/leadveil/internal/journal"
	"github.com/hazyhaar/leadveil/internal/sheetrpc"
)

func main() {
	configPath := flag.String("config", "leadveil.yaml", "path to the YAML config file")
	logLevel := flag.String("log-level", env("LOG_LEVEL", "info"), "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath); err != nil {
		logger.Error("leadveil: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, configPath string) error {
	cfg, err := leadveil.LoadConfigFile(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	var credentials []byte
	if cfg.CredentialsFile != "" {
		credentials, err = os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return fmt.Errorf("read credentials: %w", err)
		}
	}
	client, err := sheetrpc.NewGoogle(ctx, cfg.SpreadsheetID, credentials, logger)
	if err != nil {
		return fmt.Errorf("sheets client: %w", err)
	}

	var jn *journal.Journal
	if cfg.JournalPath != "" {
		jn, err = journal.Open(cfg.JournalPath, logger)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer jn.Close()
	}

	svc := leadveil.NewService(cfg, client, jn, logger)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           svc.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go svc.Run(ctx)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func applyEnv(cfg *leadveil.Config) {
	if v := os.Getenv("LEADVEIL_ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := os.Getenv("LEADVEIL_ADMIN_KEY"); v != "" {
		cfg.AdminKey = v
	}
	if v := os.Getenv("LEADVEIL_WEBHOOK_SECRET"); v != "" {
		cfg.WebhookSecret = v
	}
	if v := os.Getenv("LEADVEIL_CREDENTIALS_FILE"); v != "" {
		cfg.CredentialsFile = v
	}
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

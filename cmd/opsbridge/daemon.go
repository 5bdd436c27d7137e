package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/orbitel/opsbridge/internal/activity"
	"github.com/orbitel/opsbridge/internal/audit"
	"github.com/orbitel/opsbridge/internal/bridge"
	"github.com/orbitel/opsbridge/internal/config"
	"github.com/orbitel/opsbridge/internal/keychain"
	"github.com/orbitel/opsbridge/internal/pipeline"
	"github.com/orbitel/opsbridge/internal/secrets"
	"github.com/orbitel/opsbridge/internal/session"
	"github.com/orbitel/opsbridge/internal/store"
	"github.com/orbitel/opsbridge/internal/warmup"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the opsbridge daemon",
	Long:  "Start the session daemon. Restores the previous session if possible and serves the bridge API over a Unix socket.",
	RunE:  runDaemon,
}

var configPath string

func init() {
	daemonCmd.Flags().StringVar(&configPath, "config", "", "Config file path (default ~/.opsbridge/config.yaml)")
	rootCmd.AddCommand(daemonCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	home, err := opsbridgeHome()
	if err != nil {
		return fmt.Errorf("resolving home dir: %w", err)
	}
	if err := os.MkdirAll(home, 0700); err != nil {
		return fmt.Errorf("creating home dir: %w", err)
	}

	if configPath == "" {
		configPath = config.DefaultPath()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	conf := config.NewRuntime(cfg)

	slog.Info("opsbridge daemon starting", "api_base_url", cfg.APIBaseURL)

	// The local store is load-bearing; refusing to start beats running
	// with session state that cannot be persisted.
	st, err := store.Open(filepath.Join(home, "state.db"))
	if err != nil {
		return fmt.Errorf("opening local store: %w", err)
	}
	defer st.Close()

	ring := keychain.NewSystemStore()
	cipher := secrets.NewCipher(ring)
	if !cipher.Available() {
		slog.Warn("system keychain unavailable; remember-me and silent login disabled")
	}

	auditLog, err := audit.NewLogger(filepath.Join(home, "audit.log"))
	if err != nil {
		return fmt.Errorf("opening audit log: %w", err)
	}
	defer auditLog.Close()

	sessions := session.New(st, cipher, conf, nil, auditLog)
	api := pipeline.New(sessions, conf, nil)
	activityLog := activity.New(256)

	srv := bridge.NewServer(bridge.NewAdapter(sessions, api), activityLog)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	socketPath := defaultSocketPath()
	os.Remove(socketPath)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenUnix(socketPath)
	}()

	go func() {
		if err := config.Watch(ctx, configPath, func(next *config.Config) {
			conf.Replace(next)
			slog.Info("config reloaded", "api_base_url", next.APIBaseURL)
		}); err != nil {
			slog.Warn("config watcher stopped", "error", err)
		}
	}()

	// Probe the remote API before attempting to restore the session so a
	// slow-waking network link doesn't get mistaken for a dead session.
	if err := warmup.Probe(ctx, &http.Client{}, cfg.APIBaseURL, cfg.WarmupAttempts, cfg.WarmupTimeout); err != nil {
		slog.Warn("remote API unreachable at startup", "error", err)
	}
	result := sessions.AttemptSilentLogin(ctx)
	switch {
	case result.Success:
		slog.Info("session restored")
	case result.ReLoginRequired:
		slog.Info("idle window lapsed; login required with prefilled credentials")
	default:
		slog.Info("no session to restore")
	}

	slog.Info("opsbridge daemon ready", "socket", socketPath)

	select {
	case sig := <-sigCh:
		slog.Info("received signal, shutting down", "signal", sig)
	case err := <-errCh:
		if err != nil {
			slog.Error("bridge server error", "error", err)
		}
	}

	cancel()
	srv.Shutdown(context.Background())
	os.Remove(socketPath)

	slog.Info("opsbridge daemon stopped")
	return nil
}

package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"reelflow/internal/config"
	"reelflow/internal/daemon"
	"reelflow/internal/logging"
	"reelflow/internal/preflight"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// Run starts the reelflow daemon and blocks until SIGINT or SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}
	logger, err := logging.NewFromConfig(cfg, opts.LogLevel, opts.Development)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logConfigSnapshot(logger, cfg)
	logPreflight(signalCtx, logger, cfg)

	pidPath := filepath.Join(cfg.Paths.DataDir, "reelflow.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	rt, err := Open(signalCtx, cfg, logger)
	if err != nil {
		logger.Error("open runtime", logging.Error(err))
		return err
	}

	d, err := daemon.New(cfg, daemon.Components{
		Store:   rt.Store,
		Engine:  rt.Engine,
		Scanner: rt.Scanner,
		Ingress: rt.Ingress,
		Locker:  rt.Locker,
		Metrics: rt.Metrics,
	}, logger)
	if err != nil {
		_ = rt.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.String(logging.FieldErrorHint, "check api.bind and that no other daemon uses this data_dir"),
			logging.Error(err),
		)
		return err
	}

	<-signalCtx.Done()
	logger.Info("reelflow daemon shutting down")
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logConfigSnapshot(logger *slog.Logger, cfg *config.Config) {
	logger.Info("configuration snapshot",
		logging.String(logging.FieldEventType, "config_snapshot"),
		logging.String("data_dir", cfg.Paths.DataDir),
		logging.String("api_bind", cfg.API.Bind),
		logging.Bool("api_token_set", strings.TrimSpace(cfg.API.Token) != ""),
		logging.String("public_base_url", cfg.API.PublicBaseURL),
		logging.Bool("dry_run", cfg.Drivers.DryRun),
		logging.String("lock_backend", cfg.Lock.Backend),
		logging.Bool("failsafe_enabled", cfg.Failsafe.Enabled),
		logging.Bool("signatures_required", cfg.Webhooks.RequireSignature),
		logging.Int("brands", len(cfg.Brands)),
	)
}

// logPreflight reports failed readiness checks. They do not block startup:
// vendors may come up after the daemon, and the failsafe scanner recovers
// work submitted in the meantime.
func logPreflight(ctx context.Context, logger *slog.Logger, cfg *config.Config) {
	for _, r := range preflight.Failed(preflight.RunAll(ctx, cfg)) {
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", r.Name),
			logging.String(logging.FieldErrorHint, r.Detail),
		)
	}
}

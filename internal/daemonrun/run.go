package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"workqueue/internal/config"
	"workqueue/internal/daemon"
	"workqueue/internal/deps"
	"workqueue/internal/fileutil"
	"workqueue/internal/logging"
	"workqueue/internal/notifications"
	"workqueue/internal/queue"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// Run starts the work queue daemon and blocks until SIGINT/SIGTERM or until
// background processing fails.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	logger, _, err := logging.NewRunLogger(cfg, opts.LogLevel, opts.Development, time.Now())
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logEnvironmentSnapshot(logger, cfg)

	pidPath := filepath.Join(cfg.Paths.DataDir, "workqueued.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	store, err := queue.Open(cfg)
	if err != nil {
		logger.Error("open queue store", logging.Error(err))
		return err
	}

	d, err := daemon.New(cfg, store, logger, notifications.NewService(cfg))
	if err != nil {
		store.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check configuration, directory permissions and the queue database"),
			logging.String(logging.FieldImpact, "no queue entries are processed"),
		)
		return err
	}

	waitErr := make(chan error, 1)
	go func() { waitErr <- d.Wait() }()

	select {
	case <-signalCtx.Done():
		logger.Info("workqueue daemon shutting down", logging.String(logging.FieldEventType, "daemon_shutdown"))
		return nil
	case err := <-waitErr:
		if err != nil {
			logger.Error("background processing failed", logging.Error(err))
			return err
		}
		return nil
	}
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return fileutil.WriteFileAtomic(path, []byte(value), 0o644)
}

func logEnvironmentSnapshot(logger *slog.Logger, cfg *config.Config) {
	logger.Info("environment snapshot",
		logging.String(logging.FieldEventType, "environment_snapshot"),
		logging.String(logging.FieldProcessorID, cfg.Engine.ProcessorID),
		logging.String("database", cfg.DatabasePath()),
		logging.String("storage_root", cfg.Paths.StorageRoot),
		logging.Int("thread_count", cfg.Engine.ThreadCount),
		logging.Int("priority_thread_count", cfg.Engine.PriorityThreadCount),
		logging.Int("memory_limited_thread_count", cfg.Engine.MemoryLimitedThreadCount),
		logging.Int("schedules", len(cfg.Schedules)),
		logging.Int("missing_binaries", len(deps.Missing(deps.CheckBinaries(deps.Runtime())))),
		logging.Bool("ntfy_configured", cfg.Notifications.NtfyTopic != ""),
	)
}

package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"workqueue/internal/config"
)

// CurrentLogName is the link in log_dir that always points at the log of
// the newest daemon run.
const CurrentLogName = "workqueue.log"

// Options describes logger construction parameters.
type Options struct {
	Level  string
	Format string
	// OutputPaths accepts "stdout", "stderr" or file paths. Empty means stdout.
	OutputPaths []string
	Development bool
}

// New constructs a slog logger using the provided options.
func New(opts Options) (*slog.Logger, error) {
	level := new(slog.LevelVar)
	level.Set(parseLevel(opts.Level))
	addSource := opts.Development || level.Level() <= slog.LevelDebug

	var build func(io.Writer, *slog.LevelVar, bool) slog.Handler
	switch format := strings.ToLower(strings.TrimSpace(opts.Format)); format {
	case "", "console":
		build = newPrettyHandler
	case "json":
		build = newJSONHandler
	default:
		return nil, fmt.Errorf("log format: unsupported value %q", opts.Format)
	}

	out, err := openOutputs(opts.OutputPaths)
	if err != nil {
		return nil, err
	}
	return slog.New(build(out, level, addSource)), nil
}

// NewRunLogger builds the daemon logger. Each run writes to its own
// workqueue-<timestamp>.log in log_dir and repoints CurrentLogName at it.
// levelOverride replaces logging.level when set. The returned path is the
// run's log file.
func NewRunLogger(cfg *config.Config, levelOverride string, development bool, now time.Time) (*slog.Logger, string, error) {
	if cfg == nil {
		return nil, "", fmt.Errorf("config is required")
	}
	level := cfg.Logging.Level
	if strings.TrimSpace(levelOverride) != "" {
		level = levelOverride
	}
	runLog := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("workqueue-%s.log", now.UTC().Format("20060102T150405.000Z")))
	logger, err := New(Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout", runLog},
		Development: development,
	})
	if err != nil {
		return nil, "", err
	}
	if err := pointCurrentLog(cfg.Paths.LogDir, runLog); err != nil {
		WarnWithContext(logger, "unable to update current log link", "log_link_failed",
			Error(err),
			String(FieldErrorHint, "check permissions on log_dir"),
			String(FieldImpact, "workqueue logs may show an older run"),
		)
	}
	return logger, runLog, nil
}

func pointCurrentLog(logDir, target string) error {
	current := filepath.Join(logDir, CurrentLogName)
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log link: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link current log: %w", err)
	}
	return nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error", "fatal":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

var standardStreams = map[string]io.Writer{
	"stdout": os.Stdout,
	"stderr": os.Stderr,
}

func openOutputs(paths []string) (io.Writer, error) {
	seen := make(map[string]bool, len(paths))
	var writers []io.Writer
	for _, path := range paths {
		path = strings.TrimSpace(path)
		if path == "" || seen[path] {
			continue
		}
		seen[path] = true

		if stream, ok := standardStreams[path]; ok {
			writers = append(writers, stream)
			continue
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create log directory for %s: %w", path, err)
		}
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o664)
		if err != nil {
			return nil, fmt.Errorf("open log file %s: %w", path, err)
		}
		writers = append(writers, file)
	}

	switch len(writers) {
	case 0:
		return os.Stdout, nil
	case 1:
		return writers[0], nil
	default:
		return io.MultiWriter(writers...), nil
	}
}

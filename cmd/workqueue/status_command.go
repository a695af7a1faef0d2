package main

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"workqueue/internal/preflight"
	"workqueue/internal/queue"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon, host and queue status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			var lines []string
			lines = append(lines, renderSectionHeader("Daemon", colorize)...)
			running, lockErr := daemonRunning(cfg.LockPath())
			switch {
			case lockErr != nil:
				lines = append(lines, renderStatusLine("Daemon", statusWarn, lockErr.Error(), colorize))
			case running:
				lines = append(lines, renderStatusLine("Daemon", statusOK, "running", colorize))
			default:
				lines = append(lines, renderStatusLine("Daemon", statusInfo, "not running", colorize))
			}
			lines = append(lines, renderStatusLine("Processor", statusInfo, cfg.Engine.ProcessorID, colorize))
			lines = append(lines, renderStatusLine("Config", statusInfo, ctx.configPath, colorize))

			lines = append(lines, "")
			lines = append(lines, renderSectionHeader("Preflight", colorize)...)
			for _, r := range preflight.RunAll(cmd.Context(), cfg) {
				kind := statusOK
				if !r.Passed {
					kind = statusError
					if r.Advisory {
						kind = statusWarn
					}
				}
				lines = append(lines, renderStatusLine(r.Name, kind, r.Detail, colorize))
			}

			lines = append(lines, "")
			lines = append(lines, renderSectionHeader("Queue", colorize)...)
			err = ctx.withStore(func(store *queue.Store) error {
				health, err := store.Health(cmd.Context())
				if err != nil {
					return err
				}
				lines = append(lines,
					renderStatusLine("Waiting", statusInfo, fmt.Sprintf("%d", health.Waiting), colorize),
					renderStatusLine("In progress", statusInfo, fmt.Sprintf("%d", health.InProgress), colorize),
					renderStatusLine("Completed", statusOK, fmt.Sprintf("%d", health.Completed), colorize),
				)
				failedKind := statusOK
				if health.Failed > 0 {
					failedKind = statusError
				}
				lines = append(lines, renderStatusLine("Failed", failedKind, fmt.Sprintf("%d", health.Failed), colorize))

				diag, err := store.CheckHealth(cmd.Context())
				if err != nil {
					return err
				}
				lines = append(lines, renderStatusLine("Database", databaseKind(diag), describeDatabase(diag), colorize))
				return nil
			})
			if err != nil {
				lines = append(lines, renderStatusLine("Database", statusError, err.Error(), colorize))
			}

			fmt.Fprintln(out, strings.Join(lines, "\n"))
			return nil
		},
	}
}

func databaseKind(diag queue.DatabaseHealth) statusKind {
	if diag.OK() {
		return statusOK
	}
	return statusError
}

func describeDatabase(diag queue.DatabaseHealth) string {
	detail := fmt.Sprintf("%s (%s, schema v%d, %s storage units)",
		diag.Path, humanize.IBytes(uint64(diag.SizeBytes)), diag.SchemaVersion, humanize.Comma(int64(diag.Storage)))
	switch {
	case len(diag.MissingTables) > 0:
		detail += "; missing tables: " + strings.Join(diag.MissingTables, ", ")
	case !diag.IntegrityOK:
		detail += "; integrity check failed"
	}
	return detail
}

// daemonRunning probes the daemon lock without holding it.
func daemonRunning(lockPath string) (bool, error) {
	lock := flock.New(lockPath)
	locked, err := lock.TryLock()
	if err != nil {
		return false, fmt.Errorf("probe daemon lock: %w", err)
	}
	if !locked {
		return true, nil
	}
	if err := lock.Unlock(); err != nil {
		return false, fmt.Errorf("release daemon lock probe: %w", err)
	}
	return false, nil
}

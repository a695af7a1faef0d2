package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"workqueue/internal/queue"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the work queue",
	}

	queueCmd.AddCommand(newQueueStatusCommand(ctx))
	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueShowCommand(ctx))
	queueCmd.AddCommand(newQueueAddCommand(ctx))
	queueCmd.AddCommand(newQueueRetryCommand(ctx))
	queueCmd.AddCommand(newQueueClearCommand(ctx))

	return queueCmd
}

func newQueueStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show entry counts per status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *queue.Store) error {
				stats, err := store.Stats(cmd.Context())
				if err != nil {
					return err
				}
				rows := buildQueueStatusRows(stats)
				if len(rows) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable([]column{{Header: "Status"}, {Header: "Count", Align: alignRight}}, rows))
				return nil
			})
		},
	}
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var listStatuses []string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queue entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			statuses, err := parseStatuses(listStatuses)
			if err != nil {
				return err
			}
			return ctx.withStore(func(store *queue.Store) error {
				entries, err := store.List(cmd.Context(), statuses...)
				if err != nil {
					return err
				}
				if len(entries) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(queueListColumns, buildQueueListRows(entries, time.Now())))
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&listStatuses, "status", "s", nil, "Filter by entry status (repeatable)")
	return cmd
}

func newQueueShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <key>",
		Short: "Describe one entry; a unique key prefix is accepted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *queue.Store) error {
				entry, err := resolveEntry(cmd.Context(), store, args[0])
				if err != nil {
					return err
				}
				items, err := store.SubItems(cmd.Context(), entry.Key)
				if err != nil {
					return err
				}
				printEntry(cmd, entry, items)
				return nil
			})
		},
	}
}

func printEntry(cmd *cobra.Command, e *queue.Entry, items []*queue.SubItem) {
	out := cmd.OutOrStdout()
	now := time.Now()
	fmt.Fprintf(out, "Key:           %s\n", e.Key)
	fmt.Fprintf(out, "Type:          %s\n", e.Type)
	fmt.Fprintf(out, "Storage:       %s\n", e.StorageKey)
	fmt.Fprintf(out, "Priority:      %s\n", formatStatusLabel(string(e.Priority)))
	fmt.Fprintf(out, "Status:        %s\n", formatStatusLabel(string(e.Status)))
	if e.ProcessorID != "" {
		fmt.Fprintf(out, "Processor:     %s\n", e.ProcessorID)
	}
	fmt.Fprintf(out, "Scheduled:     %s (%s)\n", formatDisplayTime(e.ScheduledTime), formatRelativeTime(e.ScheduledTime, now))
	fmt.Fprintf(out, "Expires:       %s (%s)\n", formatDisplayTime(e.ExpirationTime), formatRelativeTime(e.ExpirationTime, now))
	fmt.Fprintf(out, "Last updated:  %s\n", formatRelativeTime(e.LastUpdatedTime, now))
	fmt.Fprintf(out, "Created:       %s\n", formatDisplayTime(e.CreatedTime))
	fmt.Fprintf(out, "Failures:      %d\n", e.FailureCount)
	if e.FailureDescription != "" {
		fmt.Fprintf(out, "Reason:        %s\n", e.FailureDescription)
	}
	if e.Data != "" {
		fmt.Fprintf(out, "Data:          %s\n", e.Data)
	}
	if len(items) == 0 {
		return
	}
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		rows = append(rows, []string{item.Path, yesNo(item.Failed), fmt.Sprintf("%d", item.FailureCount)})
	}
	fmt.Fprintln(out)
	fmt.Fprint(out, renderTable([]column{{Header: "Sub-item"}, {Header: "Failed"}, {Header: "Failures", Align: alignRight}}, rows))
}

func newQueueAddCommand(ctx *commandContext) *cobra.Command {
	var (
		jobType  string
		storage  string
		priority string
		data     string
		files    []string
		delay    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Enqueue an entry for a storage unit",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(jobType) == "" || strings.TrimSpace(storage) == "" {
				return errors.New("--type and --storage are required")
			}
			p, ok := queue.ParsePriority(priority)
			if !ok {
				return fmt.Errorf("unknown priority %q (use stat, high or normal)", priority)
			}
			return ctx.withStore(func(store *queue.Store) error {
				req := queue.NewEntry{
					Type:       queue.JobType(jobType),
					StorageKey: storage,
					Priority:   p,
					Data:       data,
					SubItems:   files,
				}
				if delay > 0 {
					req.ScheduledTime = time.Now().Add(delay)
				}
				var (
					entry *queue.Entry
					err   error
				)
				if req.Type == queue.JobTypeReprocess {
					entry, _, err = store.ScheduleReprocess(cmd.Context(), storage, p)
				} else {
					entry, err = store.Insert(cmd.Context(), req)
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Queued %s entry %s for storage %s\n", entry.Type, entry.Key, entry.StorageKey)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&jobType, "type", "t", "", "Job type (reprocess, verify, command)")
	cmd.Flags().StringVarP(&storage, "storage", "s", "", "Storage unit key")
	cmd.Flags().StringVarP(&priority, "priority", "p", "normal", "Priority (stat, high, normal)")
	cmd.Flags().StringVar(&data, "data", "", "Job data, such as the shell command of a command entry")
	cmd.Flags().StringSliceVarP(&files, "file", "f", nil, "Sub-item path (repeatable)")
	cmd.Flags().DurationVar(&delay, "delay", 0, "Hold the entry back for this long")
	return cmd
}

func newQueueRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry [key...]",
		Short: "Reopen failed entries; all of them when no key is given",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *queue.Store) error {
				keys := make([]string, 0, len(args))
				for _, arg := range args {
					entry, err := resolveEntry(cmd.Context(), store, arg)
					if err != nil {
						return err
					}
					keys = append(keys, entry.Key)
				}
				count, err := store.RetryFailed(cmd.Context(), keys...)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Reopened %d failed entries\n", count)
				return nil
			})
		},
	}
}

func newQueueClearCommand(ctx *commandContext) *cobra.Command {
	var clearCompleted, clearFailed, clearAll bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove finished entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			var statuses []queue.Status
			switch {
			case clearAll && (clearCompleted || clearFailed):
				return errors.New("--all cannot be combined with --completed or --failed")
			case clearAll:
			case clearCompleted || clearFailed:
				if clearCompleted {
					statuses = append(statuses, queue.StatusCompleted)
				}
				if clearFailed {
					statuses = append(statuses, queue.StatusFailed)
				}
			default:
				statuses = []queue.Status{queue.StatusCompleted, queue.StatusFailed}
			}
			return ctx.withStore(func(store *queue.Store) error {
				removed, err := store.Clear(cmd.Context(), statuses...)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d entries\n", removed)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&clearCompleted, "completed", false, "Remove completed entries")
	cmd.Flags().BoolVar(&clearFailed, "failed", false, "Remove failed entries")
	cmd.Flags().BoolVar(&clearAll, "all", false, "Remove every entry that is not in progress")
	return cmd
}

func parseStatuses(values []string) ([]queue.Status, error) {
	statuses := make([]queue.Status, 0, len(values))
	for _, value := range values {
		status, ok := queue.ParseStatus(value)
		if !ok {
			return nil, fmt.Errorf("unknown status %q", value)
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

// resolveEntry finds an entry by full key or by a unique key prefix.
func resolveEntry(ctx context.Context, store *queue.Store, key string) (*queue.Entry, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, errors.New("entry key is required")
	}
	entry, err := store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if entry != nil {
		return entry, nil
	}

	all, err := store.List(ctx)
	if err != nil {
		return nil, err
	}
	var match *queue.Entry
	for _, candidate := range all {
		if !strings.HasPrefix(candidate.Key, key) {
			continue
		}
		if match != nil {
			return nil, fmt.Errorf("entry prefix %q is ambiguous", key)
		}
		match = candidate
	}
	if match == nil {
		return nil, fmt.Errorf("entry %s not found", key)
	}
	return match, nil
}

package jobs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"workqueue/internal/logging"
	"workqueue/internal/processor"
	"workqueue/internal/queue"
	"workqueue/internal/services"
)

const (
	commandShell     = "sh"
	outputTailLength = 512
)

// commandHandler runs the shell command stored in the entry data inside the
// storage directory, once per sub-item of the batch or once when the entry
// has no sub-items.
type commandHandler struct {
	processor.Base
	deps  Deps
	shell string
}

func (h *commandHandler) Initialize(_ context.Context, run *processor.Run) error {
	if strings.TrimSpace(run.Entry.Data) == "" {
		return nil
	}
	shell, err := exec.LookPath(commandShell)
	if err != nil {
		return fmt.Errorf("locate %s: %w", commandShell, err)
	}
	h.shell = shell
	return nil
}

// CanStart holds the command back while the storage unit is being
// reprocessed.
func (h *commandHandler) CanStart(ctx context.Context, run *processor.Run) (string, bool) {
	open, err := run.Related(ctx,
		[]queue.JobType{queue.JobTypeReprocess},
		[]queue.Status{queue.StatusPending, queue.StatusInProgress},
	)
	if err != nil {
		return "Unable to check related entries: " + err.Error(), false
	}
	if len(open) > 0 {
		return fmt.Sprintf("Waiting for reprocess entry %s to finish", open[0].Key), false
	}
	return "", true
}

func (h *commandHandler) Process(ctx context.Context, run *processor.Run) (processor.Result, error) {
	command := strings.TrimSpace(run.Entry.Data)
	if command == "" {
		return processor.Result{}, services.Wrap(services.ErrFatal, "command", "process", "Entry has no command to run", nil)
	}

	items, err := run.SubItems(ctx)
	if err != nil {
		return processor.Result{}, err
	}
	if len(items) == 0 {
		if err := h.execute(ctx, run, command, ""); err != nil {
			return processor.Result{}, err
		}
		return processor.Result{Outcome: processor.OutcomeComplete}, nil
	}

	batch, err := run.Batch(ctx)
	if err != nil {
		return processor.Result{}, err
	}
	for _, item := range batch {
		if item.Failed {
			continue
		}
		if err := ctx.Err(); err != nil {
			return processor.Result{}, err
		}
		runErr := h.execute(ctx, run, command, item.Path)
		if runErr == nil {
			if err := run.CompleteSubItem(ctx, item); err != nil {
				return processor.Result{}, err
			}
			continue
		}
		if ctx.Err() != nil {
			return processor.Result{}, ctx.Err()
		}
		run.Logger.Warn("sub-item command failed",
			logging.String("path", item.Path),
			logging.Error(runErr),
			logging.String(logging.FieldEventType, "sub_item_failed"),
		)
		if err := run.FailSubItem(ctx, item, true); err != nil {
			return processor.Result{}, err
		}
	}

	return h.batchResult(ctx, run)
}

// batchResult keeps the entry pending while retryable sub-items remain and
// fails it when only failed sub-items are left.
func (h *commandHandler) batchResult(ctx context.Context, run *processor.Run) (processor.Result, error) {
	remaining, err := run.SubItems(ctx)
	if err != nil {
		return processor.Result{}, err
	}
	failed := 0
	for _, item := range remaining {
		if item.Failed {
			failed++
		}
	}
	switch {
	case len(remaining) == 0:
		return processor.Result{Outcome: processor.OutcomeComplete}, nil
	case failed == len(remaining):
		msg := fmt.Sprintf("%d sub-items failed after %d attempts", failed, run.Settings().MaxSubItemFailures+1)
		return processor.Result{}, services.Wrap(services.ErrFatal, "command", "process", msg, nil)
	default:
		return processor.Result{Outcome: processor.OutcomePending}, nil
	}
}

func (h *commandHandler) execute(ctx context.Context, run *processor.Run, command, file string) error {
	shell := h.shell
	if shell == "" {
		shell = commandShell
	}
	cmd := exec.CommandContext(ctx, shell, "-c", command)
	cmd.Dir = run.Storage.Path
	cmd.Env = append(os.Environ(),
		"WORKQUEUE_ENTRY="+run.Entry.Key,
		"WORKQUEUE_STORAGE="+run.Storage.Key,
		"WORKQUEUE_FILE="+file,
	)
	output, err := cmd.CombinedOutput()
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return fmt.Errorf("command exited with status %d: %s", exitErr.ExitCode(), outputTail(output))
	}
	return fmt.Errorf("run command: %w", err)
}

func outputTail(output []byte) string {
	text := strings.TrimSpace(string(output))
	if len(text) > outputTailLength {
		text = "..." + text[len(text)-outputTailLength:]
	}
	if text == "" {
		return "no output"
	}
	return text
}

package jobs

import (
	"context"

	"workqueue/internal/processor"
)

type verifyHandler struct {
	processor.Base
	deps Deps
}

func (h *verifyHandler) Process(ctx context.Context, run *processor.Run) (processor.Result, error) {
	if err := h.deps.Recoverer.Verify(ctx, run.Storage.Key); err != nil {
		return processor.Result{}, err
	}
	return processor.Result{Outcome: processor.OutcomeComplete}, nil
}

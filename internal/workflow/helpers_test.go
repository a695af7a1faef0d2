package workflow_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"workqueue/internal/config"
	"workqueue/internal/logging"
	"workqueue/internal/notifications"
	"workqueue/internal/pool"
	"workqueue/internal/preflight"
	"workqueue/internal/processor"
	"workqueue/internal/queue"
	"workqueue/internal/recovery"
	"workqueue/internal/retry"
	"workqueue/internal/testsupport"
	"workqueue/internal/workflow"
)

type recordingAlerts struct {
	mu     sync.Mutex
	alerts []notifications.Alert
}

func (r *recordingAlerts) RaiseAlert(_ context.Context, alert notifications.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, alert)
	return nil
}

func (r *recordingAlerts) TestNotification(context.Context) error { return nil }

func (r *recordingAlerts) snapshot() []notifications.Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notifications.Alert(nil), r.alerts...)
}

type completeHandler struct {
	processor.Base
	panicMsg string
}

func (h completeHandler) Process(context.Context, *processor.Run) (processor.Result, error) {
	if h.panicMsg != "" {
		panic(h.panicMsg)
	}
	return processor.Result{Outcome: processor.OutcomeComplete}, nil
}

type harness struct {
	cfg        *config.Config
	store      *queue.Store
	storage    *queue.Storage
	alerts     *recordingAlerts
	dispatcher *workflow.Dispatcher
}

type harnessOptions struct {
	regs        []processor.Registration
	memoryProbe preflight.MemoryProbe
	minFreeMB   int
}

func newHarness(t *testing.T, opts harnessOptions) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithQueryDelay(20), testsupport.WithThreads(2, 1, 1))
	store := testsupport.MustOpenStore(t, cfg)
	storage := testsupport.MustAddStorage(t, store, cfg, "study-1")

	props, err := store.LoadTypeProperties(context.Background())
	if err != nil {
		t.Fatalf("LoadTypeProperties: %v", err)
	}
	settings := processor.NewSettings(cfg, props)
	settings.IntegrityValidation = false

	regs := opts.regs
	if regs == nil {
		regs = []processor.Registration{{
			Type:    queue.JobTypeVerify,
			Factory: func() processor.Handler { return completeHandler{} },
		}}
	}
	registry, err := processor.NewRegistry(regs...)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	alerts := &recordingAlerts{}
	proc := processor.New(processor.Dependencies{
		Store:     store,
		Settings:  settings,
		Alerts:    alerts,
		Recoverer: recovery.New(store, cfg.Engine.InstanceExtension, logging.NewNop()),
		Retry:     retry.Policy{MaxRetries: 0},
		Logger:    logging.NewNop(),
	})
	d := workflow.New(workflow.Options{
		Store:           store,
		Registry:        registry,
		Processor:       proc,
		Pool:            pool.New(cfg.Engine.ThreadCount, cfg.Engine.PriorityThreadCount, cfg.Engine.MemoryLimitedThreadCount, logging.NewNop()),
		Alerts:          alerts,
		MemoryProbe:     opts.memoryProbe,
		MinFreeMemoryMB: opts.minFreeMB,
		Logger:          logging.NewNop(),
	})
	return &harness{cfg: cfg, store: store, storage: storage, alerts: alerts, dispatcher: d}
}

// start runs the dispatcher until the test ends.
func (h *harness) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.dispatcher.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Run: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("dispatcher did not stop")
		}
	})
}

func (h *harness) insert(t *testing.T, jobType queue.JobType) *queue.Entry {
	t.Helper()
	return testsupport.MustInsertEntry(t, h.store, queue.NewEntry{Type: jobType, StorageKey: h.storage.Key})
}

func waitForStatus(t *testing.T, store *queue.Store, key string, want queue.Status) *queue.Entry {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		entry := testsupport.MustGet(t, store, key)
		if entry.Status == want {
			return entry
		}
		if time.Now().After(deadline) {
			t.Fatalf("entry %s status = %s, want %s", key, entry.Status, want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

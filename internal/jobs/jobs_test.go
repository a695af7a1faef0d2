package jobs_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"workqueue/internal/config"
	"workqueue/internal/jobs"
	"workqueue/internal/logging"
	"workqueue/internal/manifest"
	"workqueue/internal/notifications"
	"workqueue/internal/processor"
	"workqueue/internal/queue"
	"workqueue/internal/recovery"
	"workqueue/internal/retry"
	"workqueue/internal/testsupport"
)

type env struct {
	cfg      *config.Config
	store    *queue.Store
	storage  *queue.Storage
	proc     *processor.Processor
	registry *processor.Registry
}

func newEnv(t *testing.T, mutate func(*processor.Settings)) *env {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	storage := testsupport.MustAddStorage(t, store, cfg, "study-1")

	props, err := store.LoadTypeProperties(context.Background())
	if err != nil {
		t.Fatalf("LoadTypeProperties: %v", err)
	}
	settings := processor.NewSettings(cfg, props)
	if mutate != nil {
		mutate(&settings)
	}

	recoverer := recovery.New(store, cfg.Engine.InstanceExtension, logging.NewNop())
	registry, err := processor.NewRegistry(jobs.Registrations(jobs.Deps{
		Store:     store,
		Recoverer: recoverer,
		Extension: cfg.Engine.InstanceExtension,
		Logger:    logging.NewNop(),
	})...)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	proc := processor.New(processor.Dependencies{
		Store:     store,
		Settings:  settings,
		Alerts:    notifications.NewNoop(),
		Recoverer: recoverer,
		Retry:     retry.Policy{MaxRetries: 0},
		Logger:    logging.NewNop(),
	})
	return &env{cfg: cfg, store: store, storage: storage, proc: proc, registry: registry}
}

// runNext claims the next eligible entry and drives it through the processor.
func (e *env) runNext(t *testing.T) *queue.Entry {
	t.Helper()
	entry := testsupport.MustClaim(t, e.store, e.cfg.Engine.ProcessorID, queue.ClaimFilter{})
	reg, ok := e.registry.Lookup(entry.Type)
	if !ok {
		t.Fatalf("no registration for %s", entry.Type)
	}
	if err := e.proc.Process(context.Background(), reg, reg.Factory(), entry); err != nil {
		t.Fatalf("Process: %v", err)
	}
	return testsupport.MustGet(t, e.store, entry.Key)
}

func (e *env) reprocess(t *testing.T) *queue.Entry {
	t.Helper()
	if _, _, err := e.store.ScheduleReprocess(context.Background(), e.storage.Key, queue.PriorityNormal); err != nil {
		t.Fatalf("ScheduleReprocess: %v", err)
	}
	return e.runNext(t)
}

func TestRegistrationsCoverEveryJobType(t *testing.T) {
	e := newEnv(t, nil)
	want := map[queue.JobType]processor.RecoveryMode{
		queue.JobTypeReprocess: processor.RecoveryManual,
		queue.JobTypeVerify:    processor.RecoveryAutomatic,
		queue.JobTypeCommand:   processor.RecoveryAutomatic,
	}
	for jobType, mode := range want {
		reg, ok := e.registry.Lookup(jobType)
		if !ok {
			t.Fatalf("missing registration for %s", jobType)
		}
		if reg.Recovery != mode {
			t.Fatalf("%s recovery = %s, want %s", jobType, reg.Recovery, mode)
		}
	}
}

func TestReprocessRebuildsManifestAndCounts(t *testing.T) {
	e := newEnv(t, nil)
	testsupport.WriteInstances(t, e.storage.Path, "1.2.3", 3, ".dcm")
	testsupport.WriteInstances(t, e.storage.Path, "1.2.4", 2, ".dcm")

	got := e.reprocess(t)
	if got.Status != queue.StatusCompleted {
		t.Fatalf("status = %s (%s), want completed", got.Status, got.FailureDescription)
	}

	m, err := manifest.Load(e.storage.Path)
	if err != nil {
		t.Fatalf("manifest.Load: %v", err)
	}
	if m.InstanceCount() != 5 || len(m.Series) != 2 {
		t.Fatalf("manifest lists %d instances in %d series", m.InstanceCount(), len(m.Series))
	}

	storage, err := e.store.GetStorage(context.Background(), e.storage.Key)
	if err != nil {
		t.Fatalf("GetStorage: %v", err)
	}
	if storage.QueueState != queue.StorageIdle {
		t.Fatalf("queue state = %s, want idle", storage.QueueState)
	}
	if storage.InstanceCount != 5 || storage.SeriesCount != 2 {
		t.Fatalf("stored counts = %d/%d", storage.SeriesCount, storage.InstanceCount)
	}
}

func TestVerifyCompletesConsistentStorage(t *testing.T) {
	e := newEnv(t, nil)
	testsupport.WriteInstances(t, e.storage.Path, "1.2.3", 2, ".dcm")
	e.reprocess(t)

	testsupport.MustInsertEntry(t, e.store, queue.NewEntry{Type: queue.JobTypeVerify, StorageKey: e.storage.Key})
	got := e.runNext(t)
	if got.Status != queue.StatusCompleted {
		t.Fatalf("status = %s (%s), want completed", got.Status, got.FailureDescription)
	}
}

func TestVerifyReportsMissingInstance(t *testing.T) {
	e := newEnv(t, nil)
	names := testsupport.WriteInstances(t, e.storage.Path, "1.2.3", 2, ".dcm")
	e.reprocess(t)
	if err := os.Remove(filepath.Join(e.storage.Path, "1.2.3", names[0])); err != nil {
		t.Fatalf("remove: %v", err)
	}

	testsupport.MustInsertEntry(t, e.store, queue.NewEntry{Type: queue.JobTypeVerify, StorageKey: e.storage.Key})
	got := e.runNext(t)
	if got.Status == queue.StatusCompleted {
		t.Fatal("verify must not complete when files are missing")
	}
	if got.FailureCount != 1 {
		t.Fatalf("failure count = %d, want 1", got.FailureCount)
	}
	if !strings.Contains(got.FailureDescription, "found on disk") {
		t.Fatalf("description = %q", got.FailureDescription)
	}
}

func TestCommandRunsInStorageDirectory(t *testing.T) {
	e := newEnv(t, nil)
	testsupport.MustInsertEntry(t, e.store, queue.NewEntry{
		Type:       queue.JobTypeCommand,
		StorageKey: e.storage.Key,
		Data:       `printf '%s' "$WORKQUEUE_STORAGE" > marker.txt`,
	})

	got := e.runNext(t)
	if got.Status != queue.StatusCompleted {
		t.Fatalf("status = %s (%s), want completed", got.Status, got.FailureDescription)
	}
	data, err := os.ReadFile(filepath.Join(e.storage.Path, "marker.txt"))
	if err != nil {
		t.Fatalf("read marker: %v", err)
	}
	if string(data) != e.storage.Key {
		t.Fatalf("marker = %q, want %q", data, e.storage.Key)
	}
}

func TestCommandWithoutDataFailsImmediately(t *testing.T) {
	e := newEnv(t, nil)
	testsupport.MustInsertEntry(t, e.store, queue.NewEntry{Type: queue.JobTypeCommand, StorageKey: e.storage.Key})

	got := e.runNext(t)
	if got.Status != queue.StatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
}

func TestCommandFailsSubItemsIndividually(t *testing.T) {
	e := newEnv(t, func(s *processor.Settings) { s.MaxSubItemFailures = 0 })
	entry := testsupport.MustInsertEntry(t, e.store, queue.NewEntry{
		Type:       queue.JobTypeCommand,
		StorageKey: e.storage.Key,
		Data:       `[ "$WORKQUEUE_FILE" != "bad.dcm" ]`,
		SubItems:   []string{"good.dcm", "bad.dcm"},
	})

	got := e.runNext(t)
	if got.Status != queue.StatusFailed {
		t.Fatalf("status = %s (%s), want failed", got.Status, got.FailureDescription)
	}
	if !strings.Contains(got.FailureDescription, "1 sub-items failed") {
		t.Fatalf("description = %q", got.FailureDescription)
	}

	items, err := e.store.SubItems(context.Background(), entry.Key)
	if err != nil {
		t.Fatalf("SubItems: %v", err)
	}
	if len(items) != 1 || items[0].Path != "bad.dcm" || !items[0].Failed {
		t.Fatalf("remaining sub-items = %+v", items)
	}
}

func TestCommandRetriesSubItemsWithinBudget(t *testing.T) {
	e := newEnv(t, nil)
	entry := testsupport.MustInsertEntry(t, e.store, queue.NewEntry{
		Type:       queue.JobTypeCommand,
		StorageKey: e.storage.Key,
		Data:       `exit 3`,
		SubItems:   []string{"flaky.dcm"},
	})

	got := e.runNext(t)
	if got.Status != queue.StatusPending {
		t.Fatalf("status = %s (%s), want pending", got.Status, got.FailureDescription)
	}
	if got.FailureCount != 0 {
		t.Fatalf("entry failure count = %d, want 0", got.FailureCount)
	}
	items, err := e.store.SubItems(context.Background(), entry.Key)
	if err != nil {
		t.Fatalf("SubItems: %v", err)
	}
	if len(items) != 1 || items[0].FailureCount != 1 || items[0].Failed {
		t.Fatalf("sub-item = %+v", items[0])
	}
}

func TestCommandWaitsForOpenReprocess(t *testing.T) {
	e := newEnv(t, nil)
	testsupport.MustInsertEntry(t, e.store, queue.NewEntry{
		Type:          queue.JobTypeReprocess,
		StorageKey:    e.storage.Key,
		ScheduledTime: time.Now().Add(time.Hour),
	})
	testsupport.MustInsertEntry(t, e.store, queue.NewEntry{
		Type:       queue.JobTypeCommand,
		StorageKey: e.storage.Key,
		Data:       "true",
	})

	got := e.runNext(t)
	if got.Type != queue.JobTypeCommand {
		t.Fatalf("claimed %s, want command", got.Type)
	}
	if got.Status != queue.StatusPending || got.FailureCount != 0 {
		t.Fatalf("got status %s count %d, want pending/0", got.Status, got.FailureCount)
	}
	if !strings.Contains(got.FailureDescription, "Waiting for reprocess entry") {
		t.Fatalf("description = %q", got.FailureDescription)
	}
}

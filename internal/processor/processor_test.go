package processor_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"workqueue/internal/config"
	"workqueue/internal/logging"
	"workqueue/internal/manifest"
	"workqueue/internal/notifications"
	"workqueue/internal/processor"
	"workqueue/internal/queue"
	"workqueue/internal/recovery"
	"workqueue/internal/retry"
	"workqueue/internal/services"
	"workqueue/internal/testsupport"
)

const testType queue.JobType = "test"

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

func (r *recordingAlerts) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.alerts)
}

type stubHandler struct {
	initErr     error
	refuse      string
	result      processor.Result
	err         error
	processRuns int
}

func (h *stubHandler) Initialize(context.Context, *processor.Run) error { return h.initErr }

func (h *stubHandler) CanStart(context.Context, *processor.Run) (string, bool) {
	if h.refuse != "" {
		return h.refuse, false
	}
	return "", true
}

func (h *stubHandler) Process(context.Context, *processor.Run) (processor.Result, error) {
	h.processRuns++
	return h.result, h.err
}

type fixture struct {
	cfg     *config.Config
	store   *queue.Store
	storage *queue.Storage
	alerts  *recordingAlerts
	proc    *processor.Processor
	props   queue.TypeProperties
}

func newFixture(t *testing.T, mutate func(*processor.Settings)) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	storage := testsupport.MustAddStorage(t, store, cfg, "study-1")

	props := queue.DefaultTypeProperties(testType)
	props.FailureDelaySeconds = 0
	props.AlertOnFailure = true

	settings := processor.Settings{
		ProcessorID:         cfg.Engine.ProcessorID,
		InactiveWindow:      time.Minute,
		QueryDelay:          50 * time.Millisecond,
		IntegrityValidation: false,
		MaxSubItemFailures:  2,
		InstanceExtension:   ".dcm",
		Properties:          map[queue.JobType]queue.TypeProperties{testType: props},
	}
	if mutate != nil {
		mutate(&settings)
	}

	alerts := &recordingAlerts{}
	proc := processor.New(processor.Dependencies{
		Store:     store,
		Settings:  settings,
		Alerts:    alerts,
		Recoverer: recovery.New(store, ".dcm", logging.NewNop()),
		Retry:     retry.Policy{MaxRetries: 0},
		Logger:    logging.NewNop(),
	})
	return &fixture{cfg: cfg, store: store, storage: storage, alerts: alerts, proc: proc, props: settings.Properties[testType]}
}

func (f *fixture) insert(t *testing.T) *queue.Entry {
	t.Helper()
	return testsupport.MustInsertEntry(t, f.store, queue.NewEntry{Type: testType, StorageKey: f.storage.Key})
}

func (f *fixture) claim(t *testing.T) *queue.Entry {
	t.Helper()
	return testsupport.MustClaim(t, f.store, f.cfg.Engine.ProcessorID, queue.ClaimFilter{})
}

func registration(mode processor.RecoveryMode) processor.Registration {
	return processor.Registration{Type: testType, Recovery: mode, Factory: func() processor.Handler { return &stubHandler{} }}
}

func within(t *testing.T, name string, got, want time.Time, tolerance time.Duration) {
	t.Helper()
	diff := got.Sub(want)
	if diff < -tolerance || diff > tolerance {
		t.Fatalf("%s = %s, want %s (+/- %s)", name, got, want, tolerance)
	}
}

func TestNonFatalFailureIsCountedAndRetried(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.insert(t)
	entry := f.claim(t)

	handler := &stubHandler{err: errors.New("disk hiccup")}
	if err := f.proc.Process(ctx, registration(processor.RecoveryManual), handler, entry); err != nil {
		t.Fatalf("Process: %v", err)
	}

	got := testsupport.MustGet(t, f.store, entry.Key)
	if got.Status != queue.StatusPending {
		t.Fatalf("status = %s, want pending", got.Status)
	}
	if got.FailureCount != 1 {
		t.Fatalf("failure count = %d, want 1", got.FailureCount)
	}
	if got.FailureDescription != "disk hiccup" {
		t.Fatalf("description = %q", got.FailureDescription)
	}
	if got.ProcessorID != "" {
		t.Fatalf("owner should be cleared, got %q", got.ProcessorID)
	}
	if f.alerts.count() != 0 {
		t.Fatalf("retryable failure should not alert")
	}
}

func TestFourthFailureIsTerminalWithAlert(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	inserted := f.insert(t)

	for i := 1; i <= 4; i++ {
		entry := f.claim(t)
		handler := &stubHandler{err: errors.New("still broken")}
		if err := f.proc.Process(ctx, registration(processor.RecoveryManual), handler, entry); err != nil {
			t.Fatalf("Process #%d: %v", i, err)
		}
		got := testsupport.MustGet(t, f.store, inserted.Key)
		if got.FailureCount != i {
			t.Fatalf("after failure %d count = %d", i, got.FailureCount)
		}
		if i < 4 && got.Status != queue.StatusPending {
			t.Fatalf("after failure %d status = %s, want pending", i, got.Status)
		}
	}

	got := testsupport.MustGet(t, f.store, inserted.Key)
	if got.Status != queue.StatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	within(t, "expiration", got.ExpirationTime, time.Now(), 5*time.Second)
	if f.alerts.count() != 1 {
		t.Fatalf("alerts = %d, want 1", f.alerts.count())
	}
	if f.alerts.alerts[0].Level != notifications.LevelError {
		t.Fatalf("alert level = %s", f.alerts.alerts[0].Level)
	}

	again, err := f.store.ClaimNext(ctx, f.cfg.Engine.ProcessorID, queue.ClaimFilter{})
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if again != nil {
		t.Fatal("failed entry must not be claimable")
	}
}

func TestFatalErrorFailsImmediately(t *testing.T) {
	f := newFixture(t, nil)
	f.insert(t)
	entry := f.claim(t)

	handler := &stubHandler{err: services.Wrap(services.ErrFatal, "test", "process", "corrupt input", nil)}
	if err := f.proc.Process(context.Background(), registration(processor.RecoveryManual), handler, entry); err != nil {
		t.Fatalf("Process: %v", err)
	}
	got := testsupport.MustGet(t, f.store, entry.Key)
	if got.Status != queue.StatusFailed || got.FailureCount != 1 {
		t.Fatalf("got status %s count %d, want failed/1", got.Status, got.FailureCount)
	}
	if !strings.Contains(got.FailureDescription, "corrupt input") {
		t.Fatalf("description = %q", got.FailureDescription)
	}
}

func TestPostponementsAreNotCounted(t *testing.T) {
	tests := []struct {
		name    string
		handler *stubHandler
		prepare func(t *testing.T, f *fixture) *queue.Entry
		want    string
	}{
		{
			name:    "initialize failure",
			handler: &stubHandler{initErr: errors.New("boom")},
			want:    "Unable to initialize: boom",
		},
		{
			name:    "can start refusal",
			handler: &stubHandler{refuse: "waiting for upstream"},
			want:    "waiting for upstream",
		},
		{
			name:    "missing storage",
			handler: &stubHandler{},
			prepare: func(t *testing.T, f *fixture) *queue.Entry {
				testsupport.MustInsertEntry(t, f.store, queue.NewEntry{Type: testType, StorageKey: "missing"})
				return f.claim(t)
			},
			want: "Unable to find writeable StorageLocation.",
		},
		{
			name:    "reprocess scheduled",
			handler: &stubHandler{},
			prepare: func(t *testing.T, f *fixture) *queue.Entry {
				f.insert(t)
				entry := f.claim(t)
				if err := f.store.SetStorageState(context.Background(), f.storage.Key, queue.StorageReprocessScheduled); err != nil {
					t.Fatalf("SetStorageState: %v", err)
				}
				return entry
			},
			want: "Study is scheduled for reprocess",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			var entry *queue.Entry
			if tt.prepare != nil {
				entry = tt.prepare(t, f)
			} else {
				f.insert(t)
				entry = f.claim(t)
			}
			before := time.Now()
			if err := f.proc.Process(context.Background(), registration(processor.RecoveryManual), tt.handler, entry); err != nil {
				t.Fatalf("Process: %v", err)
			}
			got := testsupport.MustGet(t, f.store, entry.Key)
			if got.Status != queue.StatusPending {
				t.Fatalf("status = %s, want pending", got.Status)
			}
			if got.FailureCount != 0 {
				t.Fatalf("failure count = %d, want 0", got.FailureCount)
			}
			if got.FailureDescription != tt.want {
				t.Fatalf("description = %q, want %q", got.FailureDescription, tt.want)
			}
			within(t, "scheduled", got.ScheduledTime, before.Add(f.props.PostponeDelay()), 5*time.Second)
			within(t, "expiration", got.ExpirationTime, got.ScheduledTime.Add(2*time.Minute), time.Second)
			if tt.handler.processRuns != 0 {
				t.Fatal("job body must not run for a postponed entry")
			}
		})
	}
}

// makeStale claims the only entry and pushes its last update behind the
// inactivity window.
func makeStale(t *testing.T, f *fixture, age time.Duration) *queue.Entry {
	t.Helper()
	ctx := context.Background()
	entry := f.claim(t)
	past := time.Now().Add(-age)
	f.store.SetClock(func() time.Time { return past })
	if _, err := f.store.Update(ctx, entry.Key, queue.Transition{Status: queue.StatusInProgress}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	f.store.SetClock(nil)
	return testsupport.MustGet(t, f.store, entry.Key)
}

func TestSoleStaleEntryIsAbortedOnPostpone(t *testing.T) {
	f := newFixture(t, nil)
	f.insert(t)
	entry := makeStale(t, f, time.Hour)
	if !entry.UpdatedBefore() {
		t.Fatal("fixture entry should have been updated before")
	}

	handler := &stubHandler{refuse: "waiting for upstream"}
	if err := f.proc.Process(context.Background(), registration(processor.RecoveryManual), handler, entry); err != nil {
		t.Fatalf("Process: %v", err)
	}
	got := testsupport.MustGet(t, f.store, entry.Key)
	if got.Status != queue.StatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if !strings.HasPrefix(got.FailureDescription, "Aborted because waiting for upstream. This entry has not been updated since") {
		t.Fatalf("description = %q", got.FailureDescription)
	}
	within(t, "expiration", got.ExpirationTime, time.Now().Add(24*time.Hour), 5*time.Second)
}

func TestStaleEntryWithStuckSiblingsIsAborted(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.insert(t)
	sibling := f.claim(t)
	past := time.Now().Add(-2 * time.Hour)
	f.store.SetClock(func() time.Time { return past })
	if _, err := f.store.Update(ctx, sibling.Key, queue.Transition{Status: queue.StatusFailed, ClearOwner: true}); err != nil {
		t.Fatalf("Update sibling: %v", err)
	}
	f.store.SetClock(nil)

	f.insert(t)
	entry := makeStale(t, f, time.Hour)

	handler := &stubHandler{refuse: "waiting for upstream"}
	if err := f.proc.Process(ctx, registration(processor.RecoveryManual), handler, entry); err != nil {
		t.Fatalf("Process: %v", err)
	}
	got := testsupport.MustGet(t, f.store, entry.Key)
	if got.Status != queue.StatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if !strings.HasPrefix(got.FailureDescription, "Aborted because waiting for upstream. Other entries for the same storage appear stuck. This entry has not been updated since") {
		t.Fatalf("description = %q", got.FailureDescription)
	}
	within(t, "expiration", got.ExpirationTime, time.Now().Add(24*time.Hour), 5*time.Second)
	if f.alerts.count() != 1 {
		t.Fatalf("alerts = %d, want 1", f.alerts.count())
	}
}

func TestActiveSiblingPreventsAbort(t *testing.T) {
	f := newFixture(t, nil)
	f.insert(t)
	entry := makeStale(t, f, time.Hour)
	f.insert(t)

	handler := &stubHandler{refuse: "waiting for upstream"}
	if err := f.proc.Process(context.Background(), registration(processor.RecoveryManual), handler, entry); err != nil {
		t.Fatalf("Process: %v", err)
	}
	got := testsupport.MustGet(t, f.store, entry.Key)
	if got.Status != queue.StatusPending {
		t.Fatalf("status = %s, want pending", got.Status)
	}
}

func TestFreshEntryIsPostponedNotAborted(t *testing.T) {
	f := newFixture(t, nil)
	f.insert(t)
	entry := makeStale(t, f, time.Second)

	handler := &stubHandler{refuse: "busy"}
	if err := f.proc.Process(context.Background(), registration(processor.RecoveryManual), handler, entry); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if got := testsupport.MustGet(t, f.store, entry.Key); got.Status != queue.StatusPending {
		t.Fatalf("status = %s, want pending", got.Status)
	}
}

func TestPostProcessingOutcomes(t *testing.T) {
	tests := []struct {
		name   string
		result processor.Result
		want   queue.Status
	}{
		{name: "complete", result: processor.Result{Outcome: processor.OutcomeComplete}, want: queue.StatusCompleted},
		{name: "complete delay delete", result: processor.Result{Outcome: processor.OutcomeCompleteDelayDelete}, want: queue.StatusIdle},
		{name: "idle", result: processor.Result{Outcome: processor.OutcomeIdle}, want: queue.StatusIdle},
		{name: "pending", result: processor.Result{Outcome: processor.OutcomePending}, want: queue.StatusPending},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			f.insert(t)
			entry := f.claim(t)
			before := time.Now()
			handler := &stubHandler{result: tt.result}
			if err := f.proc.Process(context.Background(), registration(processor.RecoveryManual), handler, entry); err != nil {
				t.Fatalf("Process: %v", err)
			}
			got := testsupport.MustGet(t, f.store, entry.Key)
			if got.Status != tt.want {
				t.Fatalf("status = %s, want %s", got.Status, tt.want)
			}
			if got.FailureCount != 0 {
				t.Fatalf("failure count = %d", got.FailureCount)
			}
			switch tt.result.Outcome {
			case processor.OutcomeCompleteDelayDelete:
				within(t, "expiration", got.ExpirationTime, before.Add(f.props.DeleteDelay()), 5*time.Second)
				if !got.ScheduledTime.Equal(got.ExpirationTime) {
					t.Fatalf("scheduled %s != expiration %s", got.ScheduledTime, got.ExpirationTime)
				}
			case processor.OutcomePending:
				within(t, "scheduled", got.ScheduledTime, before.Add(f.props.ProcessDelay()), 5*time.Second)
				if !got.ExpirationTime.Equal(got.ScheduledTime.Add(f.props.ExpireDelay())) {
					t.Fatalf("expiration = %s, want scheduled + expire delay", got.ExpirationTime)
				}
			case processor.OutcomeComplete:
				if !got.ExpirationTime.Equal(entry.ExpirationTime) {
					t.Fatalf("completion must keep expiration, got %s want %s", got.ExpirationTime, entry.ExpirationTime)
				}
			}
		})
	}
}

func TestResetQueueStateReturnsStorageToIdle(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	if err := f.store.SetStorageState(ctx, f.storage.Key, queue.StorageReprocessScheduled); err != nil {
		t.Fatalf("SetStorageState: %v", err)
	}
	testsupport.MustInsertEntry(t, f.store, queue.NewEntry{Type: queue.JobTypeReprocess, StorageKey: f.storage.Key})
	entry := f.claim(t)

	handler := &stubHandler{result: processor.Result{Outcome: processor.OutcomeComplete, ResetQueueState: true}}
	reg := processor.Registration{Type: queue.JobTypeReprocess, Factory: func() processor.Handler { return handler }}
	if err := f.proc.Process(ctx, reg, handler, entry); err != nil {
		t.Fatalf("Process: %v", err)
	}
	storage, err := f.store.GetStorage(ctx, f.storage.Key)
	if err != nil {
		t.Fatalf("GetStorage: %v", err)
	}
	if storage.QueueState != queue.StorageIdle {
		t.Fatalf("queue state = %s, want idle", storage.QueueState)
	}
	if handler.processRuns != 1 {
		t.Fatal("reprocess entries must run while the storage awaits reprocessing")
	}
}

func writeManifest(t *testing.T, f *fixture) {
	t.Helper()
	testsupport.WriteInstances(t, f.storage.Path, "1.1", 2, ".dcm")
	m, err := manifest.Scan(f.storage.Path, f.storage.Key, ".dcm")
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if err := manifest.Save(f.storage.Path, m); err != nil {
		t.Fatalf("Save: %v", err)
	}
}

func TestIntegrityFailureWithManualRecoveryIsFatal(t *testing.T) {
	f := newFixture(t, nil)
	f.insert(t)
	entry := f.claim(t)

	handler := &stubHandler{err: services.Wrap(services.ErrIntegrity, "", "", "instance count mismatch", nil)}
	if err := f.proc.Process(context.Background(), registration(processor.RecoveryManual), handler, entry); err != nil {
		t.Fatalf("Process: %v", err)
	}
	got := testsupport.MustGet(t, f.store, entry.Key)
	if got.Status != queue.StatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if got.FailureDescription != "instance count mismatch" {
		t.Fatalf("description = %q", got.FailureDescription)
	}
}

func TestIntegrityFailureWithAutomaticRecoveryPostpones(t *testing.T) {
	f := newFixture(t, nil)
	writeManifest(t, f)
	f.insert(t)
	entry := f.claim(t)

	handler := &stubHandler{err: services.Wrap(services.ErrIntegrity, "", "", "instance count mismatch", nil)}
	if err := f.proc.Process(context.Background(), registration(processor.RecoveryAutomatic), handler, entry); err != nil {
		t.Fatalf("Process: %v", err)
	}
	got := testsupport.MustGet(t, f.store, entry.Key)
	if got.Status != queue.StatusPending || got.FailureCount != 1 {
		t.Fatalf("got %s/%d, want pending/1", got.Status, got.FailureCount)
	}
	if got.FailureDescription != "instance count mismatch. Auto-recovery was triggered." {
		t.Fatalf("description = %q", got.FailureDescription)
	}
	storage, _ := f.store.GetStorage(context.Background(), f.storage.Key)
	if storage.InstanceCount != 2 || storage.SeriesCount != 1 {
		t.Fatalf("recovery should rewrite counts, got %d/%d", storage.SeriesCount, storage.InstanceCount)
	}
}

func TestAutomaticRecoveryOnDeletingStorageFails(t *testing.T) {
	f := newFixture(t, nil)
	writeManifest(t, f)
	f.insert(t)
	entry := f.claim(t)
	if err := f.store.SetStorageState(context.Background(), f.storage.Key, queue.StorageDeleting); err != nil {
		t.Fatalf("SetStorageState: %v", err)
	}

	handler := &stubHandler{err: services.Wrap(services.ErrIntegrity, "", "", "instance count mismatch", nil)}
	if err := f.proc.Process(context.Background(), registration(processor.RecoveryAutomatic), handler, entry); err != nil {
		t.Fatalf("Process: %v", err)
	}
	got := testsupport.MustGet(t, f.store, entry.Key)
	if got.Status != queue.StatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if !strings.Contains(got.FailureDescription, "\nAuto-Recovery failed: ") {
		t.Fatalf("description = %q", got.FailureDescription)
	}
}

func TestCompletionValidationRoutesMismatchToRecovery(t *testing.T) {
	f := newFixture(t, func(s *processor.Settings) { s.IntegrityValidation = true })
	writeManifest(t, f)
	f.insert(t)
	entry := f.claim(t)

	handler := &stubHandler{result: processor.Result{Outcome: processor.OutcomeComplete}}
	if err := f.proc.Process(context.Background(), registration(processor.RecoveryManual), handler, entry); err != nil {
		t.Fatalf("Process: %v", err)
	}
	got := testsupport.MustGet(t, f.store, entry.Key)
	if got.Status != queue.StatusFailed {
		t.Fatalf("status = %s, want failed because stored counts are empty", got.Status)
	}

	f.insert(t)
	next := f.claim(t)
	reg := registration(processor.RecoveryManual)
	reg.Validation = processor.ValidationNone
	if err := f.proc.Process(context.Background(), reg, handler, next); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if got := testsupport.MustGet(t, f.store, next.Key); got.Status != queue.StatusCompleted {
		t.Fatalf("status = %s, want completed when validation is off", got.Status)
	}
}

func TestFailQueueItem(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.insert(t)
	entry := f.claim(t)

	before := time.Now()
	if err := f.proc.FailQueueItem(ctx, entry, "worker panicked"); err != nil {
		t.Fatalf("FailQueueItem: %v", err)
	}
	got := testsupport.MustGet(t, f.store, entry.Key)
	if got.Status != queue.StatusPending || got.FailureCount != 1 {
		t.Fatalf("got %s/%d, want pending/1", got.Status, got.FailureCount)
	}
	within(t, "scheduled", got.ScheduledTime, before.Add(50*time.Millisecond), 5*time.Second)

	for got.Status == queue.StatusPending {
		time.Sleep(60 * time.Millisecond)
		claimed := f.claim(t)
		if err := f.proc.FailQueueItem(ctx, claimed, "worker panicked"); err != nil {
			t.Fatalf("FailQueueItem: %v", err)
		}
		got = testsupport.MustGet(t, f.store, entry.Key)
	}
	if got.FailureCount != f.props.MaxFailureCount+1 {
		t.Fatalf("failure count = %d, want %d", got.FailureCount, f.props.MaxFailureCount+1)
	}
	within(t, "expiration", got.ExpirationTime, time.Now().Add(24*time.Hour), 5*time.Second)
	if f.alerts.count() != 1 {
		t.Fatalf("alerts = %d, want 1", f.alerts.count())
	}
}

func TestFailUnhandledIsTerminal(t *testing.T) {
	f := newFixture(t, nil)
	f.insert(t)
	entry := f.claim(t)
	if err := f.proc.FailUnhandled(context.Background(), entry, "No plugin to handle WorkQueue type: test"); err != nil {
		t.Fatalf("FailUnhandled: %v", err)
	}
	got := testsupport.MustGet(t, f.store, entry.Key)
	if got.Status != queue.StatusFailed || got.FailureCount != 1 {
		t.Fatalf("got %s/%d, want failed/1", got.Status, got.FailureCount)
	}
	within(t, "expiration", got.ExpirationTime, time.Now(), 5*time.Second)
}

func TestAlertsRespectTypeGating(t *testing.T) {
	f := newFixture(t, func(s *processor.Settings) {
		p := s.Properties[testType]
		p.AlertOnFailure = false
		s.Properties[testType] = p
	})
	entry := &queue.Entry{Key: "k", Type: testType}
	f.proc.RaiseAlert(context.Background(), entry, notifications.LevelError, "dropped")
	if f.alerts.count() != 0 {
		t.Fatal("error alerts must be gated by AlertOnFailure")
	}
	f.proc.RaiseAlert(context.Background(), entry, notifications.LevelCritical, "sent")
	if f.alerts.count() != 1 {
		t.Fatal("critical alerts bypass the gate")
	}
}

func TestRegistry(t *testing.T) {
	factory := func() processor.Handler { return &stubHandler{} }
	reg, err := processor.NewRegistry(
		processor.Registration{Type: "Verify", Factory: factory, Recovery: processor.RecoveryAutomatic},
		processor.Registration{Type: "command", Factory: factory},
	)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	got, ok := reg.Lookup(queue.JobTypeVerify)
	if !ok || got.Recovery != processor.RecoveryAutomatic {
		t.Fatalf("Lookup(verify) = %#v, %v", got, ok)
	}
	if _, ok := reg.Lookup("unknown"); ok {
		t.Fatal("unknown type should not resolve")
	}
	if types := reg.Types(); len(types) != 2 || types[0] != queue.JobTypeCommand {
		t.Fatalf("Types() = %v", types)
	}

	if _, err := processor.NewRegistry(
		processor.Registration{Type: "verify", Factory: factory},
		processor.Registration{Type: "verify", Factory: factory},
	); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("duplicate registration error = %v", err)
	}
	if _, err := processor.NewRegistry(processor.Registration{Type: "verify"}); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("missing factory error = %v", err)
	}
}

type funcHandler struct {
	processor.Base
	process func(ctx context.Context, run *processor.Run) (processor.Result, error)
}

func (h funcHandler) Process(ctx context.Context, run *processor.Run) (processor.Result, error) {
	return h.process(ctx, run)
}

func TestRunBatchesAndFailsSubItems(t *testing.T) {
	f := newFixture(t, func(s *processor.Settings) {
		p := s.Properties[testType]
		p.MaxBatchSize = 2
		s.Properties[testType] = p
	})
	ctx := context.Background()
	testsupport.MustInsertEntry(t, f.store, queue.NewEntry{
		Type:       testType,
		StorageKey: f.storage.Key,
		SubItems:   []string{"a.dcm", "b.dcm", "c.dcm"},
	})
	sibling := testsupport.MustInsertEntry(t, f.store, queue.NewEntry{
		Type:          queue.JobTypeVerify,
		StorageKey:    f.storage.Key,
		ScheduledTime: time.Now().Add(time.Hour),
	})
	entry := f.claim(t)

	handler := funcHandler{process: func(ctx context.Context, run *processor.Run) (processor.Result, error) {
		batch, err := run.Batch(ctx)
		if err != nil {
			return processor.Result{}, err
		}
		if len(batch) != 2 {
			t.Errorf("batch size = %d, want 2", len(batch))
		}
		if err := run.CompleteSubItem(ctx, batch[0]); err != nil {
			return processor.Result{}, err
		}
		if err := run.FailSubItem(ctx, batch[1], true); err != nil {
			return processor.Result{}, err
		}
		related, err := run.Related(ctx, nil, queue.OpenStatuses)
		if err != nil {
			return processor.Result{}, err
		}
		if len(related) != 1 || related[0].Key != sibling.Key {
			t.Errorf("related = %v, want only the sibling", related)
		}
		return processor.Result{Outcome: processor.OutcomePending}, nil
	}}
	if err := f.proc.Process(ctx, registration(processor.RecoveryManual), handler, entry); err != nil {
		t.Fatalf("Process: %v", err)
	}

	items, err := f.store.SubItems(ctx, entry.Key)
	if err != nil {
		t.Fatalf("SubItems: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("sub-items = %d, want 2", len(items))
	}
	if items[0].Path != "b.dcm" || items[0].FailureCount != 1 || items[0].Failed {
		t.Fatalf("b.dcm = %#v, want one retryable failure", items[0])
	}
}

// flakyStore fails the first call of selected mutations with a transient
// error before passing through to the real store.
type flakyStore struct {
	*queue.Store
	mu     sync.Mutex
	failed map[string]bool
}

func newFlakyStore(store *queue.Store) *flakyStore {
	return &flakyStore{Store: store, failed: make(map[string]bool)}
}

func (s *flakyStore) failOnce(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failed[op] {
		return nil
	}
	s.failed[op] = true
	return services.Wrap(services.ErrTransient, "queue", op, "database is locked", nil)
}

func (s *flakyStore) UpdateSubItem(ctx context.Context, item *queue.SubItem) error {
	if err := s.failOnce("update sub-item"); err != nil {
		return err
	}
	return s.Store.UpdateSubItem(ctx, item)
}

func (s *flakyStore) DeleteSubItem(ctx context.Context, id int64) error {
	if err := s.failOnce("delete sub-item"); err != nil {
		return err
	}
	return s.Store.DeleteSubItem(ctx, id)
}

func (s *flakyStore) UpdateStorageCounts(ctx context.Context, key string, seriesCount, instanceCount int) error {
	if err := s.failOnce("update storage counts"); err != nil {
		return err
	}
	return s.Store.UpdateStorageCounts(ctx, key, seriesCount, instanceCount)
}

func newFlakyProcessor(f *fixture, flaky *flakyStore) *processor.Processor {
	return processor.New(processor.Dependencies{
		Store:     flaky,
		Settings:  f.proc.Settings(),
		Alerts:    f.alerts,
		Recoverer: recovery.New(flaky, ".dcm", logging.NewNop()),
		Retry:     retry.Policy{MaxRetries: 3},
		Logger:    logging.NewNop(),
	})
}

func TestAutomaticRecoveryRetriesTransientStoreErrors(t *testing.T) {
	f := newFixture(t, nil)
	writeManifest(t, f)
	f.insert(t)
	entry := f.claim(t)
	flaky := newFlakyStore(f.store)
	proc := newFlakyProcessor(f, flaky)

	handler := &stubHandler{err: services.Wrap(services.ErrIntegrity, "", "", "instance count mismatch", nil)}
	if err := proc.Process(context.Background(), registration(processor.RecoveryAutomatic), handler, entry); err != nil {
		t.Fatalf("Process: %v", err)
	}
	got := testsupport.MustGet(t, f.store, entry.Key)
	if got.Status != queue.StatusPending || got.FailureCount != 1 {
		t.Fatalf("got %s/%d (%q), want pending/1", got.Status, got.FailureCount, got.FailureDescription)
	}
	if got.FailureDescription != "instance count mismatch. Auto-recovery was triggered." {
		t.Fatalf("description = %q", got.FailureDescription)
	}
	if !flaky.failed["update storage counts"] {
		t.Fatal("expected the storage count update to have failed once")
	}
}

func TestSubItemMutationsRetryTransientStoreErrors(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	testsupport.MustInsertEntry(t, f.store, queue.NewEntry{
		Type:       testType,
		StorageKey: f.storage.Key,
		SubItems:   []string{"a.dcm", "b.dcm"},
	})
	entry := f.claim(t)
	proc := newFlakyProcessor(f, newFlakyStore(f.store))

	handler := funcHandler{process: func(ctx context.Context, run *processor.Run) (processor.Result, error) {
		batch, err := run.Batch(ctx)
		if err != nil {
			return processor.Result{}, err
		}
		if err := run.CompleteSubItem(ctx, batch[0]); err != nil {
			return processor.Result{}, err
		}
		if err := run.FailSubItem(ctx, batch[1], false); err != nil {
			return processor.Result{}, err
		}
		return processor.Result{Outcome: processor.OutcomePending}, nil
	}}
	if err := proc.Process(ctx, registration(processor.RecoveryManual), handler, entry); err != nil {
		t.Fatalf("Process: %v", err)
	}

	got := testsupport.MustGet(t, f.store, entry.Key)
	if got.FailureCount != 0 {
		t.Fatalf("failure count = %d, want transient errors left uncounted", got.FailureCount)
	}
	items, err := f.store.SubItems(ctx, entry.Key)
	if err != nil {
		t.Fatalf("SubItems: %v", err)
	}
	if len(items) != 1 || items[0].Path != "b.dcm" || !items[0].Failed {
		t.Fatalf("sub-items = %#v, want only b.dcm marked failed", items)
	}
}

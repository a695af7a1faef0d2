package workflow_test

import (
	"context"
	"testing"
	"time"

	"workqueue/internal/notifications"
	"workqueue/internal/processor"
	"workqueue/internal/queue"
	"workqueue/internal/testsupport"
)

func TestDispatcherCompletesEntries(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	entry := h.insert(t, queue.JobTypeVerify)
	h.start(t)

	got := waitForStatus(t, h.store, entry.Key, queue.StatusCompleted)
	if got.FailureCount != 0 {
		t.Fatalf("failure count = %d", got.FailureCount)
	}
}

func TestDispatcherFailsUnhandledTypesWithoutBlocking(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	unknown := h.insert(t, "unknown")
	known := h.insert(t, queue.JobTypeVerify)
	h.start(t)

	failed := waitForStatus(t, h.store, unknown.Key, queue.StatusFailed)
	if failed.FailureDescription != "No plugin to handle WorkQueue type: unknown" {
		t.Fatalf("description = %q", failed.FailureDescription)
	}
	waitForStatus(t, h.store, known.Key, queue.StatusCompleted)
}

func TestDispatcherFailsPanickingProcessor(t *testing.T) {
	h := newHarness(t, harnessOptions{regs: []processor.Registration{{
		Type:    queue.JobTypeVerify,
		Factory: func() processor.Handler { return completeHandler{panicMsg: "boom"} },
	}}})
	entry := h.insert(t, queue.JobTypeVerify)
	h.start(t)

	deadline := time.Now().Add(5 * time.Second)
	for {
		got := testsupport.MustGet(t, h.store, entry.Key)
		if got.FailureCount >= 1 {
			if got.Status != queue.StatusPending && got.Status != queue.StatusInProgress && got.Status != queue.StatusFailed {
				t.Fatalf("unexpected status %s", got.Status)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("panic was not recorded as a failure")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestDispatcherReleasesOrphansAtStartup(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	entry := h.insert(t, queue.JobTypeVerify)
	testsupport.MustClaim(t, h.store, h.cfg.Engine.ProcessorID, queue.ClaimFilter{})
	h.start(t)

	waitForStatus(t, h.store, entry.Key, queue.StatusCompleted)
}

func TestDispatcherHoldsWorkWhileMemoryIsLow(t *testing.T) {
	probe := func() (uint64, error) { return 1024, nil }
	h := newHarness(t, harnessOptions{memoryProbe: probe, minFreeMB: 64})
	entry := h.insert(t, queue.JobTypeVerify)
	h.start(t)

	deadline := time.Now().Add(5 * time.Second)
	for len(h.alerts.snapshot()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("expected a memory alert")
		}
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(100 * time.Millisecond)

	alerts := h.alerts.snapshot()
	if len(alerts) != 1 || alerts[0].Level != notifications.LevelCritical {
		t.Fatalf("alerts = %+v, want one critical alert", alerts)
	}
	got, err := h.store.Get(context.Background(), entry.Key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != queue.StatusPending {
		t.Fatalf("status = %s, want pending while memory is low", got.Status)
	}
}

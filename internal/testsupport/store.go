package testsupport

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"workqueue/internal/config"
	"workqueue/internal/queue"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// MustInsertEntry enqueues an entry and fails the test on error.
func MustInsertEntry(t testing.TB, store *queue.Store, req queue.NewEntry) *queue.Entry {
	t.Helper()

	entry, err := store.Insert(context.Background(), req)
	if err != nil {
		t.Fatalf("store.Insert: %v", err)
	}
	return entry
}

// MustClaim claims the next entry matching filter and fails when none is
// eligible.
func MustClaim(t testing.TB, store *queue.Store, processorID string, filter queue.ClaimFilter) *queue.Entry {
	t.Helper()

	entry, err := store.ClaimNext(context.Background(), processorID, filter)
	if err != nil {
		t.Fatalf("store.ClaimNext: %v", err)
	}
	if entry == nil {
		t.Fatal("expected an eligible entry")
	}
	return entry
}

// MustGet reloads an entry and fails when it is missing.
func MustGet(t testing.TB, store *queue.Store, key string) *queue.Entry {
	t.Helper()

	entry, err := store.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("store.Get: %v", err)
	}
	if entry == nil {
		t.Fatalf("entry %s not found", key)
	}
	return entry
}

// MustAddStorage registers a storage unit rooted in the config storage root.
func MustAddStorage(t testing.TB, store *queue.Store, cfg *config.Config, key string) *queue.Storage {
	t.Helper()

	dir := filepath.Join(cfg.Paths.StorageRoot, key)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir storage: %v", err)
	}
	storage, err := store.AddStorage(context.Background(), key, dir)
	if err != nil {
		t.Fatalf("store.AddStorage: %v", err)
	}
	return storage
}

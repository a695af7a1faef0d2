package retry_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"workqueue/internal/retry"
	"workqueue/internal/services"
)

func fastPolicy() retry.Policy {
	p := retry.Default(nil)
	p.NapMin = time.Millisecond
	p.NapMax = 2 * time.Millisecond
	p.WindowMin = time.Millisecond
	p.WindowMax = 3 * time.Millisecond
	return p
}

func transient(n int) error {
	return services.Wrap(services.ErrTransient, "queue", "update", fmt.Sprintf("attempt %d", n), nil)
}

func TestDoCommitsOnceAfterTransientFailures(t *testing.T) {
	p := fastPolicy()
	attempts := 0
	commits := 0
	err := p.Do(context.Background(), "update", func(context.Context) error {
		attempts++
		if attempts <= p.MaxRetries {
			return transient(attempts)
		}
		commits++
		return nil
	})
	if err != nil {
		t.Fatalf("Do returned %v", err)
	}
	if commits != 1 {
		t.Fatalf("commits = %d, want 1", commits)
	}
	if attempts != retry.DefaultMaxRetries+1 {
		t.Fatalf("attempts = %d, want %d", attempts, retry.DefaultMaxRetries+1)
	}
}

func TestDoGivesUpAfterBudget(t *testing.T) {
	p := fastPolicy()
	attempts := 0
	err := p.Do(context.Background(), "update", func(context.Context) error {
		attempts++
		return transient(attempts)
	})
	if !services.IsTransient(err) {
		t.Fatalf("expected wrapped transient error, got %v", err)
	}
	if attempts != p.MaxRetries+1 {
		t.Fatalf("attempts = %d, want %d", attempts, p.MaxRetries+1)
	}
}

func TestDoDoesNotRetryPermanentErrors(t *testing.T) {
	p := fastPolicy()
	permanent := errors.New("constraint violated")
	attempts := 0
	err := p.Do(context.Background(), "update", func(context.Context) error {
		attempts++
		return permanent
	})
	if !errors.Is(err, permanent) || attempts != 1 {
		t.Fatalf("err=%v attempts=%d", err, attempts)
	}
}

func TestDoStopsOnCancellation(t *testing.T) {
	p := fastPolicy()
	p.WindowMin = time.Hour
	p.WindowMax = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	done := make(chan error, 1)
	go func() {
		done <- p.Do(ctx, "update", func(context.Context) error {
			attempts++
			return transient(attempts)
		})
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Do did not observe cancellation")
	}
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1", attempts)
	}
}

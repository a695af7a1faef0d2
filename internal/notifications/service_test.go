package notifications_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"workqueue/internal/config"
	"workqueue/internal/notifications"
)

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = ""
	svc := notifications.NewService(&cfg)
	if err := svc.RaiseAlert(context.Background(), notifications.Alert{Level: notifications.LevelCritical, Message: "x"}); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

func TestRaiseAlertFormatsRequest(t *testing.T) {
	tests := []struct {
		name           string
		alert          notifications.Alert
		expectTitle    string
		expectMessage  []string
		expectTags     string
		expectPriority string
	}{
		{
			name: "critical memory alert",
			alert: notifications.Alert{
				Level:     notifications.LevelCritical,
				Component: "dispatcher",
				Message:   "Available memory below floor",
			},
			expectTitle:    "WorkQueue - Critical (dispatcher)",
			expectMessage:  []string{"Available memory below floor"},
			expectTags:     "workqueue,critical",
			expectPriority: "urgent",
		},
		{
			name: "entry failure",
			alert: notifications.Alert{
				Level:      notifications.LevelError,
				Component:  "processor",
				EntryKey:   "abc",
				JobType:    "verify",
				StorageKey: "study-1",
				Message:    "Failing verify entry",
			},
			expectTitle:    "WorkQueue - Error (processor)",
			expectMessage:  []string{"Failing verify entry", "Type: verify", "Storage: study-1", "Entry: abc"},
			expectTags:     "workqueue,error,verify",
			expectPriority: "high",
		},
		{
			name:          "warning keeps default priority",
			alert:         notifications.Alert{Level: notifications.LevelWarning, Message: "slow"},
			expectTitle:   "WorkQueue - Warning",
			expectMessage: []string{"slow"},
			expectTags:    "workqueue,warning",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var (
				gotTitle, gotTags, gotPriority, gotBody string
			)
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				body, _ := io.ReadAll(r.Body)
				gotBody = string(body)
				gotTitle = r.Header.Get("Title")
				gotTags = r.Header.Get("Tags")
				gotPriority = r.Header.Get("Priority")
				w.WriteHeader(http.StatusOK)
			}))
			defer server.Close()

			cfg := config.Default()
			cfg.Notifications.NtfyTopic = server.URL
			svc := notifications.NewService(&cfg)
			if err := svc.RaiseAlert(context.Background(), tc.alert); err != nil {
				t.Fatalf("RaiseAlert: %v", err)
			}
			if gotTitle != tc.expectTitle {
				t.Fatalf("title = %q, want %q", gotTitle, tc.expectTitle)
			}
			for _, part := range tc.expectMessage {
				if !strings.Contains(gotBody, part) {
					t.Fatalf("body %q missing %q", gotBody, part)
				}
			}
			if gotTags != tc.expectTags {
				t.Fatalf("tags = %q, want %q", gotTags, tc.expectTags)
			}
			if gotPriority != tc.expectPriority {
				t.Fatalf("priority = %q, want %q", gotPriority, tc.expectPriority)
			}
		})
	}
}

func TestRaiseAlertReportsHTTPErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "topic closed", http.StatusForbidden)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	svc := notifications.NewService(&cfg)
	err := svc.RaiseAlert(context.Background(), notifications.Alert{Level: notifications.LevelError, Message: "x"})
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Fatalf("expected 403 error, got %v", err)
	}
}

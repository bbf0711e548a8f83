package notifications_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"keyredeem/internal/config"
	"keyredeem/internal/notifications"
)

type captured struct {
	title, tags, priority, body string
}

func newServer(t *testing.T, status int) (*httptest.Server, *[]captured) {
	t.Helper()
	var got []captured
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got = append(got, captured{
			title:    r.Header.Get("Title"),
			tags:     r.Header.Get("Tags"),
			priority: r.Header.Get("Priority"),
			body:     string(body),
		})
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, &got
}

func serviceFor(url string) notifications.Service {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = url
	return notifications.NewService(&cfg)
}

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = ""
	svc := notifications.NewService(&cfg)
	if err := svc.NotifyRunCompleted(context.Background(), notifications.RunReport{Redeemed: 1}); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

func TestRunCompletedFormatsCounts(t *testing.T) {
	srv, got := newServer(t, http.StatusOK)
	err := serviceFor(srv.URL).NotifyRunCompleted(context.Background(), notifications.RunReport{
		Redeemed:     3,
		AlreadyOwned: 2,
		Errored:      1,
		FriendKeys:   4,
		Duration:     90 * time.Second,
	})
	if err != nil {
		t.Fatalf("NotifyRunCompleted: %v", err)
	}
	if len(*got) != 1 {
		t.Fatalf("requests = %d", len(*got))
	}
	msg := (*got)[0]
	if msg.title != "keyredeem - Run Complete (with errors)" {
		t.Fatalf("title = %q", msg.title)
	}
	for _, want := range []string{"Redeemed 3", "already owned 2", "errored 1", "Friend keys set aside: 4", "Took 1m30s"} {
		if !strings.Contains(msg.body, want) {
			t.Fatalf("body %q missing %q", msg.body, want)
		}
	}
	if strings.Contains(msg.body, "expired") {
		t.Fatalf("zero counts should be omitted: %q", msg.body)
	}
	if msg.tags != "keyredeem,run,completed" {
		t.Fatalf("tags = %q", msg.tags)
	}
}

func TestReauthRequiredIsHighPriority(t *testing.T) {
	srv, got := newServer(t, http.StatusOK)
	if err := serviceFor(srv.URL).NotifyReauthRequired(context.Background(), errors.New("budget spent")); err != nil {
		t.Fatalf("NotifyReauthRequired: %v", err)
	}
	msg := (*got)[0]
	if msg.priority != "high" || !strings.Contains(msg.body, "budget spent") {
		t.Fatalf("message = %+v", msg)
	}
}

func TestNtfyErrorStatusIsReported(t *testing.T) {
	srv, _ := newServer(t, http.StatusBadGateway)
	err := serviceFor(srv.URL).TestNotification(context.Background())
	if err == nil || !strings.Contains(err.Error(), "502") {
		t.Fatalf("err = %v", err)
	}
}

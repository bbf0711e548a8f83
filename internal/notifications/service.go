package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"keyredeem/internal/config"
)

const userAgent = "keyredeem/0.1.0"

// RunReport summarises a finished run for a notification.
type RunReport struct {
	Redeemed     int
	AlreadyOwned int
	Expired      int
	Errored      int
	FriendKeys   int
	Skipped      int
	Reconciled   int
	Duration     time.Duration
}

// Service defines the notification surface used by the runner.
type Service interface {
	NotifyRunStarted(ctx context.Context, keys int) error
	NotifyRunCompleted(ctx context.Context, report RunReport) error
	NotifyReauthRequired(ctx context.Context, err error) error
	NotifyError(ctx context.Context, err error, context string) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyService) NotifyRunStarted(ctx context.Context, keys int) error {
	return n.send(ctx, payload{
		title:   "keyredeem - Run Started",
		message: fmt.Sprintf("Redeeming %d keys", keys),
		tags:    []string{"keyredeem", "run", "started"},
	})
}

func (n *ntfyService) NotifyRunCompleted(ctx context.Context, r RunReport) error {
	duration := r.Duration.Round(time.Second)
	if duration < 0 {
		duration = 0
	}
	title := "keyredeem - Run Complete"
	if r.Errored > 0 {
		title = "keyredeem - Run Complete (with errors)"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "🎮 Redeemed %d, already owned %d", r.Redeemed, r.AlreadyOwned)
	if r.Expired > 0 {
		fmt.Fprintf(&b, ", expired %d", r.Expired)
	}
	if r.Errored > 0 {
		fmt.Fprintf(&b, ", errored %d", r.Errored)
	}
	if r.FriendKeys > 0 {
		fmt.Fprintf(&b, "\nFriend keys set aside: %d", r.FriendKeys)
	}
	if r.Skipped > 0 {
		fmt.Fprintf(&b, "\nSkipped: %d", r.Skipped)
	}
	if r.Reconciled > 0 {
		fmt.Fprintf(&b, "\nRecovered from errored: %d", r.Reconciled)
	}
	fmt.Fprintf(&b, "\nTook %s", duration)
	return n.send(ctx, payload{
		title:   title,
		message: b.String(),
		tags:    []string{"keyredeem", "run", "completed"},
	})
}

func (n *ntfyService) NotifyReauthRequired(ctx context.Context, err error) error {
	message := "🔑 Session could not be recovered. Log in again and rerun."
	if err != nil {
		message += "\n" + strings.TrimSpace(err.Error())
	}
	return n.send(ctx, payload{
		title:    "keyredeem - Login Required",
		message:  message,
		tags:     []string{"keyredeem", "session", "alert"},
		priority: "high",
	})
}

func (n *ntfyService) NotifyError(ctx context.Context, err error, contextLabel string) error {
	var builder strings.Builder
	builder.WriteString("❌ Error")
	if contextLabel = strings.TrimSpace(contextLabel); contextLabel != "" {
		builder.WriteString(" during ")
		builder.WriteString(contextLabel)
	}
	builder.WriteString(": ")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown")
	}

	return n.send(ctx, payload{
		title:    "keyredeem - Error",
		message:  builder.String(),
		tags:     []string{"keyredeem", "error", "alert"},
		priority: "high",
	})
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	return n.send(ctx, payload{
		title:    "keyredeem - Test",
		message:  "🧪 Notification system test",
		tags:     []string{"keyredeem", "test"},
		priority: "low",
	})
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyRunStarted(context.Context, int) error         { return nil }
func (noopService) NotifyRunCompleted(context.Context, RunReport) error { return nil }
func (noopService) NotifyReauthRequired(context.Context, error) error   { return nil }
func (noopService) NotifyError(context.Context, error, string) error    { return nil }
func (noopService) TestNotification(context.Context) error              { return nil }

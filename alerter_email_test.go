package main

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/guregu/null/v5"
	"gocloud.dev/pubsub"
	_ "gocloud.dev/pubsub/mempubsub"
)

// userDirectory serves users from memory.
type userDirectory struct {
	Repository
	users map[string]User
}

func (d *userDirectory) GetUser(ctx context.Context, id string) (User, error) {
	user, ok := d.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return user, nil
}

func openEmailQueue(t *testing.T) (*pubsub.Topic, *pubsub.Subscription) {
	t.Helper()
	address := "mem://email-" + uuid.NewString()

	topic, err := pubsub.OpenTopic(t.Context(), address)
	if err != nil {
		t.Fatalf("opening topic: %v", err)
	}
	t.Cleanup(func() { _ = topic.Shutdown(context.Background()) })

	subscription, err := pubsub.OpenSubscription(t.Context(), address)
	if err != nil {
		t.Fatalf("opening subscription: %v", err)
	}
	t.Cleanup(func() { _ = subscription.Shutdown(context.Background()) })

	return topic, subscription
}

func TestRenderEmail(t *testing.T) {
	notification := Notification{
		ID:        "n-1",
		Title:     "Monitor is down: api",
		Message:   "https://api.example.com is unreachable: timeout of 30000ms exceeded",
		Severity:  SeverityError,
		CreatedAt: time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC),
	}

	subject, htmlBody, textBody, err := RenderEmail(notification, "Public API", "https://api.example.com")
	if err != nil {
		t.Fatalf("rendering email: %v", err)
	}

	if subject != "🚨 Monitor is down: api" {
		t.Errorf("unexpected subject %q", subject)
	}
	if !strings.Contains(htmlBody, "<h2") || !strings.Contains(htmlBody, notification.Title) {
		t.Errorf("expected html body to carry the title, got %s", htmlBody)
	}
	if !strings.Contains(htmlBody, `href="https://api.example.com"`) {
		t.Errorf("expected html body to link the monitor, got %s", htmlBody)
	}
	if !strings.Contains(htmlBody, "<strong>Public API</strong>") {
		t.Errorf("expected html body to name the monitor, got %s", htmlBody)
	}
	if !strings.Contains(textBody, "Public API") || !strings.Contains(textBody, "https://api.example.com") {
		t.Errorf("expected plain text to carry the monitor name and address, got %q", textBody)
	}
	if strings.Contains(textBody, "<") || !strings.Contains(textBody, notification.Message) {
		t.Errorf("expected plain text alternative, got %q", textBody)
	}

	warningSubject, _, _, err := RenderEmail(Notification{Title: "SSL certificate expiring: api", Severity: SeverityWarning}, "", "")
	if err != nil {
		t.Fatalf("rendering email: %v", err)
	}
	if warningSubject != "⚠️ SSL certificate expiring: api" {
		t.Errorf("unexpected warning subject %q", warningSubject)
	}
}

func TestRenderEmail_EscapesContent(t *testing.T) {
	_, htmlBody, _, err := RenderEmail(Notification{Title: `<script>alert("x")</script>`, Severity: SeverityError}, `<b>api</b>`, "")
	if err != nil {
		t.Fatalf("rendering email: %v", err)
	}
	if strings.Contains(htmlBody, "<script>") || strings.Contains(htmlBody, "<b>api</b>") {
		t.Error("expected notification content to be escaped")
	}
}

func TestEmailAlerter_Send(t *testing.T) {
	topic, subscription := openEmailQueue(t)
	directory := &userDirectory{users: map[string]User{
		"user-1":    {ID: "user-1", Email: "ops@example.com", Name: "Ops"},
		"no-e-mail": {ID: "no-e-mail"},
	}}
	alerter := NewEmailAlerter(directory, topic)
	monitor := Monitor{ID: "m-1", Name: "Public API", Url: "https://api.example.com"}

	notification := Notification{
		ID:        uuid.NewString(),
		UserID:    "user-1",
		Title:     "Monitor is down: api",
		Message:   "unreachable",
		Severity:  SeverityError,
		MonitorID: null.StringFrom(monitor.ID),
		CreatedAt: time.Now(),
	}

	if err := alerter.Send(t.Context(), Alert{Action: NotificationCreated, Notification: notification, Monitor: &monitor}); err != nil {
		t.Fatalf("sending alert: %v", err)
	}

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	message, err := subscription.Receive(ctx)
	if err != nil {
		t.Fatalf("receiving email task: %v", err)
	}
	message.Ack()

	var task EmailTask
	if err := json.Unmarshal(message.Body, &task); err != nil {
		t.Fatalf("decoding email task: %v", err)
	}
	if task.To != "ops@example.com" || task.NotificationID != notification.ID || task.Subject != "🚨 Monitor is down: api" {
		t.Errorf("unexpected task %+v", task)
	}
	if !strings.Contains(task.HtmlBody, "Public API") || !strings.Contains(task.TextBody, "https://api.example.com") {
		t.Errorf("expected rendered bodies to carry the monitor, got %q", task.TextBody)
	}
	if message.Metadata["retries"] != "0" {
		t.Errorf("expected retries metadata 0, got %q", message.Metadata["retries"])
	}

	t.Run("skips success and info", func(t *testing.T) {
		for _, severity := range []Severity{SeveritySuccess, SeverityInfo} {
			skipped := notification
			skipped.Severity = severity
			if err := alerter.Send(t.Context(), Alert{Action: NotificationCreated, Notification: skipped}); err != nil {
				t.Errorf("expected %s notifications to be skipped, got %v", severity, err)
			}
		}
	})

	t.Run("skips updates", func(t *testing.T) {
		if err := alerter.Send(t.Context(), Alert{Action: NotificationUpdated, Notification: notification}); err != nil {
			t.Errorf("expected updates to be skipped, got %v", err)
		}
	})

	t.Run("user without address", func(t *testing.T) {
		missing := notification
		missing.UserID = "no-e-mail"
		if err := alerter.Send(t.Context(), Alert{Action: NotificationCreated, Notification: missing}); !errors.Is(err, ErrAlerterNotConfigured) {
			t.Errorf("expected ErrAlerterNotConfigured, got %v", err)
		}
	})

	t.Run("unknown user", func(t *testing.T) {
		missing := notification
		missing.UserID = "ghost"
		if err := alerter.Send(t.Context(), Alert{Action: NotificationCreated, Notification: missing}); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("without queue", func(t *testing.T) {
		unconfigured := NewEmailAlerter(directory, nil)
		if err := unconfigured.Send(t.Context(), Alert{Action: NotificationCreated, Notification: notification}); !errors.Is(err, ErrAlerterNotConfigured) {
			t.Errorf("expected ErrAlerterNotConfigured, got %v", err)
		}
	})

	assertQueueEmpty(t, subscription)
}

func assertQueueEmpty(t *testing.T, subscription *pubsub.Subscription) {
	t.Helper()
	ctx, cancel := context.WithTimeout(t.Context(), 200*time.Millisecond)
	defer cancel()
	if message, err := subscription.Receive(ctx); err == nil {
		message.Ack()
		t.Errorf("expected no further messages on the queue, got %s", message.Body)
	}
}

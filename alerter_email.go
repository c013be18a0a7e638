package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/k3a/html2text"
	"gocloud.dev/pubsub"
)

// EmailTask is the message carried by the email queue.
type EmailTask struct {
	NotificationID string    `json:"notification_id"`
	To             string    `json:"to"`
	Subject        string    `json:"subject"`
	HtmlBody       string    `json:"html_body"`
	TextBody       string    `json:"text_body"`
	QueuedAt       time.Time `json:"queued_at"`
}

type emailTemplateData struct {
	Title       string
	Message     string
	MonitorName string
	MonitorUrl  string
	Severity    Severity
	Color       string
	CreatedAt   string
}

var emailTemplate = template.Must(template.New("email").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #1f2937;">
	<div style="max-width: 600px; margin: 0 auto; padding: 20px;">
		<h2 style="color: {{ .Color }};">{{ .Title }}</h2>
		<p>{{ .Message }}</p>
		{{ if .MonitorName }}<p>Monitor: <strong>{{ .MonitorName }}</strong></p>{{ end }}
		{{ if .MonitorUrl }}<p>Address: <a href="{{ .MonitorUrl }}">{{ .MonitorUrl }}</a></p>{{ end }}
		<p style="color: #6b7280; font-size: 12px;">Severity: {{ .Severity }} &middot; {{ .CreatedAt }}</p>
		<hr>
		<p style="color: #6b7280; font-size: 12px;">Sent by PingMaster</p>
	</div>
</body>
</html>`))

func emailSubject(severity Severity, title string) string {
	switch severity {
	case SeveritySuccess:
		return "✅ " + title
	case SeverityError:
		return "🚨 " + title
	case SeverityWarning:
		return "⚠️ " + title
	default:
		return "ℹ️ " + title
	}
}

func emailColor(severity Severity) string {
	switch severity {
	case SeveritySuccess:
		return "#16a34a"
	case SeverityError:
		return "#dc2626"
	case SeverityWarning:
		return "#d97706"
	default:
		return "#2563eb"
	}
}

// RenderEmail builds the subject, HTML body and plain-text alternative for a
// notification raised by the named monitor. Both monitor fields may be empty.
func RenderEmail(notification Notification, monitorName string, monitorUrl string) (subject string, htmlBody string, textBody string, err error) {
	var buffer bytes.Buffer
	err = emailTemplate.Execute(&buffer, emailTemplateData{
		Title:       notification.Title,
		Message:     notification.Message,
		MonitorName: monitorName,
		MonitorUrl:  monitorUrl,
		Severity:    notification.Severity,
		Color:       emailColor(notification.Severity),
		CreatedAt:   notification.CreatedAt.UTC().Format(time.RFC1123),
	})
	if err != nil {
		return "", "", "", fmt.Errorf("executing email template: %w", err)
	}

	htmlBody = buffer.String()
	return emailSubject(notification.Severity, notification.Title), htmlBody, html2text.HTML2Text(htmlBody), nil
}

// EmailAlerter renders error and warning notifications and hands them to the
// email queue. Sending happens in EmailWorker.
type EmailAlerter struct {
	repository Repository
	producer   *pubsub.Topic
}

func NewEmailAlerter(repository Repository, producer *pubsub.Topic) *EmailAlerter {
	return &EmailAlerter{
		repository: repository,
		producer:   producer,
	}
}

func (e *EmailAlerter) Channel() Channel {
	return ChannelEmail
}

func (e *EmailAlerter) Send(ctx context.Context, alert Alert) error {
	if alert.Action != NotificationCreated {
		return nil
	}
	if alert.Notification.Severity != SeverityError && alert.Notification.Severity != SeverityWarning {
		return nil
	}
	if e.producer == nil {
		return ErrAlerterNotConfigured
	}

	span := sentry.StartSpan(ctx, "function", sentry.WithDescription("Email Alerter Send"))
	ctx = span.Context()
	defer span.Finish()

	user, err := e.repository.GetUser(ctx, alert.Notification.UserID)
	if err != nil {
		return fmt.Errorf("loading user: %w", err)
	}
	if user.Email == "" {
		return fmt.Errorf("%w: user %s has no email address", ErrAlerterNotConfigured, user.ID)
	}

	subject, htmlBody, textBody, err := RenderEmail(alert.Notification, alert.MonitorName(), alert.MonitorUrl())
	if err != nil {
		return err
	}

	body, err := json.Marshal(EmailTask{
		NotificationID: alert.Notification.ID,
		To:             user.Email,
		Subject:        subject,
		HtmlBody:       htmlBody,
		TextBody:       textBody,
		QueuedAt:       time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshaling email task: %w", err)
	}

	err = e.producer.Send(ctx, &pubsub.Message{
		Body: body,
		Metadata: map[string]string{
			"notification_id": alert.Notification.ID,
			"retries":         "0",
		},
	})
	if err != nil {
		return fmt.Errorf("%w: enqueueing email: %s", ErrAlerterDropped, err.Error())
	}

	return nil
}

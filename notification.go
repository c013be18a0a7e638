package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/guregu/null/v5"
)

type Notification struct {
	ID        string      `json:"id"`
	UserID    string      `json:"user_id"`
	Title     string      `json:"title"`
	Message   string      `json:"message"`
	Severity  Severity    `json:"type"`
	MonitorID null.String `json:"monitor_id"`
	Read      bool        `json:"read"`
	CreatedAt time.Time   `json:"created_at"`
}

type NotificationAction string

const (
	NotificationCreated NotificationAction = "created"
	NotificationUpdated NotificationAction = "updated"
	NotificationDeleted NotificationAction = "deleted"
)

// EventType is the webhook event name for the action, e.g. notification.created.
func (a NotificationAction) EventType() string {
	return "notification." + string(a)
}

// NotificationPayload is the body delivered to webhook endpoints.
type NotificationPayload struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Type      Severity  `json:"type"`
	Url       string    `json:"url,omitempty"`
	MonitorID string    `json:"monitorId,omitempty"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"createdAt"`
}

func NewNotificationPayload(notification Notification, monitorUrl string) NotificationPayload {
	return NotificationPayload{
		ID:        notification.ID,
		Title:     notification.Title,
		Message:   notification.Message,
		Type:      notification.Severity,
		Url:       monitorUrl,
		MonitorID: notification.MonitorID.ValueOrZero(),
		Read:      notification.Read,
		CreatedAt: notification.CreatedAt,
	}
}

// PushFrame is a single server-sent event written to connected streams.
type PushFrame struct {
	Type   string             `json:"type"`
	Action NotificationAction `json:"action,omitempty"`
	Data   any                `json:"data,omitempty"`
}

func (f PushFrame) Encode() ([]byte, error) {
	return json.Marshal(f)
}

// describeEvent builds the notification title and message for an event.
func describeEvent(event TransitionEvent) (string, string) {
	name := event.Monitor.Name
	if name == "" {
		name = event.Monitor.Url
	}

	switch event.Kind {
	case EventKindCertificateExpiring:
		days := event.Result.TlsDaysRemaining.ValueOrZero()
		return fmt.Sprintf("SSL certificate expiring: %s", name),
			fmt.Sprintf("The SSL certificate for %s expires in %d days.", event.Monitor.Url, days)
	}

	switch event.Next {
	case StateUp:
		if event.Previous == StatePending || event.Previous == "" {
			return fmt.Sprintf("Monitor is up: %s", name),
				fmt.Sprintf("%s is reachable (%s).", event.Monitor.Url, describeLatency(event.Result))
		}
		return fmt.Sprintf("Monitor recovered: %s", name),
			fmt.Sprintf("%s is back up after being %s (%s).", event.Monitor.Url, event.Previous, describeLatency(event.Result))
	case StateDown:
		return fmt.Sprintf("Monitor is down: %s", name),
			fmt.Sprintf("%s is unreachable: %s", event.Monitor.Url, event.Result.Error.ValueOrZero())
	case StateError:
		return fmt.Sprintf("Monitor check failed: %s", name),
			fmt.Sprintf("%s could not be checked: %s", event.Monitor.Url, event.Result.Error.ValueOrZero())
	default:
		return fmt.Sprintf("Monitor status changed: %s", name),
			fmt.Sprintf("%s changed from %s to %s.", event.Monitor.Url, event.Previous, event.Next)
	}
}

func describeLatency(result CheckResult) string {
	if !result.LatencyMs.Valid {
		return "no response time"
	}
	return fmt.Sprintf("response time %dms", result.LatencyMs.Int64)
}

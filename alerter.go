package main

import (
	"context"
	"errors"
)

// ErrAlerterNotConfigured is returned when an alerter operation is attempted
// but the alerter has not been properly configured or initialized.
var ErrAlerterNotConfigured = errors.New("alerter not configured")

// ErrAlerterRateLimited is returned when the receiving end asked us to slow down.
var ErrAlerterRateLimited = errors.New("alerter rate limited")

// ErrAlerterDropped is returned when an alert message cannot be handed to its
// channel, for example because the email queue refused it.
var ErrAlerterDropped = errors.New("alerter message dropped")

// ErrDelivery is returned when a downstream endpoint could not be reached or
// answered with a non-2xx status.
var ErrDelivery = errors.New("delivery failed")

// Alert is what the dispatcher hands to every enabled channel.
type Alert struct {
	Action       NotificationAction
	Notification Notification
	// Monitor is the monitor that raised the notification. It is nil for
	// updated and deleted actions triggered by the user.
	Monitor *Monitor
}

func (a Alert) MonitorUrl() string {
	if a.Monitor == nil {
		return ""
	}
	return a.Monitor.Url
}

func (a Alert) MonitorName() string {
	if a.Monitor == nil {
		return ""
	}
	return a.Monitor.Name
}

// Alerter delivers alerts through one channel. Implementations must be safe
// for concurrent use; the dispatcher calls Send from its own goroutines.
type Alerter interface {
	Channel() Channel
	// Send delivers the alert. The context ctx can be used to control the request lifetime and cancellation.
	// An error never affects other channels.
	Send(ctx context.Context, alert Alert) error
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/guregu/null/v5"
)

// Dispatcher turns transition events into persisted notifications and fans
// them out to the delivery channels. It is the only owner of the throttle.
type Dispatcher struct {
	repository Repository
	throttle   *Throttle
	alerters   []Alerter
	metrics    *Metrics
	now        func() time.Time
	inflight   sync.WaitGroup
}

type DispatcherOptions struct {
	Repository Repository
	Throttle   *Throttle
	Alerters   []Alerter
	Metrics    *Metrics
	Clock      func() time.Time
}

func NewDispatcher(options DispatcherOptions) *Dispatcher {
	if options.Throttle == nil {
		options.Throttle = NewThrottle(defaultThrottleWindow)
	}
	if options.Clock == nil {
		options.Clock = time.Now
	}
	return &Dispatcher{
		repository: options.Repository,
		throttle:   options.Throttle,
		alerters:   options.Alerters,
		metrics:    options.Metrics,
		now:        options.Clock,
	}
}

// Dispatch persists a notification for the event and starts delivery on every
// channel the monitor enabled. Events inside the throttle window of their
// (monitor, topic) key are suppressed and return a nil notification and nil
// error. Channel delivery runs in the background; its failures are logged
// and never returned.
func (d *Dispatcher) Dispatch(ctx context.Context, event TransitionEvent) (*Notification, error) {
	span := sentry.StartSpan(ctx, "function", sentry.WithDescription("Dispatch Notification"))
	ctx = span.Context()
	defer span.Finish()
	span.SetData("pingmaster.monitor_id", event.Monitor.ID)

	if !d.throttle.Allow(event.Monitor.ID, event.ThrottleTopic()) {
		d.metrics.ObserveThrottled()
		slog.DebugContext(ctx, "notification throttled",
			slog.String("monitor_id", event.Monitor.ID),
			slog.String("state", string(event.Next)),
			slog.String("kind", string(event.Kind)))
		return nil, nil
	}

	title, message := describeEvent(event)
	notification := Notification{
		ID:        uuid.NewString(),
		UserID:    event.Monitor.UserID,
		Title:     title,
		Message:   message,
		Severity:  event.Severity,
		MonitorID: null.StringFrom(event.Monitor.ID),
		CreatedAt: d.now().UTC().Truncate(time.Microsecond),
	}

	if err := d.repository.CreateNotification(ctx, notification); err != nil {
		// Give the next check a chance to notify instead of losing the
		// whole window.
		d.throttle.Release(event.Monitor.ID, event.ThrottleTopic())
		return nil, fmt.Errorf("creating notification: %w", err)
	}
	d.metrics.ObserveNotification(notification.Severity)

	slog.InfoContext(ctx, "notification created",
		slog.String("notification_id", notification.ID),
		slog.String("monitor_id", event.Monitor.ID),
		slog.String("severity", string(notification.Severity)))

	monitor := event.Monitor
	d.fanOut(ctx, Alert{Action: NotificationCreated, Notification: notification, Monitor: &monitor}, monitor.HasChannel)
	return &notification, nil
}

// MarkRead marks notifications as read and tells push streams and webhooks.
// An empty ids slice marks every unread notification of the user.
func (d *Dispatcher) MarkRead(ctx context.Context, userID string, ids []string) ([]Notification, error) {
	notifications, err := d.repository.MarkNotificationsRead(ctx, userID, ids)
	if err != nil {
		return nil, fmt.Errorf("marking notifications read: %w", err)
	}

	for _, notification := range notifications {
		d.fanOut(ctx, Alert{Action: NotificationUpdated, Notification: notification}, userChannels)
	}
	return notifications, nil
}

// Delete removes notifications and tells push streams and webhooks.
func (d *Dispatcher) Delete(ctx context.Context, userID string, ids []string) ([]Notification, error) {
	notifications, err := d.repository.DeleteNotifications(ctx, userID, ids)
	if err != nil {
		return nil, fmt.Errorf("deleting notifications: %w", err)
	}

	for _, notification := range notifications {
		d.fanOut(ctx, Alert{Action: NotificationDeleted, Notification: notification}, userChannels)
	}
	return notifications, nil
}

// ForgetMonitor drops the throttle windows of a removed monitor.
func (d *Dispatcher) ForgetMonitor(monitorID string) {
	d.throttle.Reset(monitorID)
}

func userChannels(channel Channel) bool {
	return channel == ChannelPush || channel == ChannelWebhook
}

func (d *Dispatcher) fanOut(ctx context.Context, alert Alert, enabled func(Channel) bool) {
	// Deliveries outlive the probe cycle or request that produced them.
	ctx = context.WithoutCancel(ctx)

	for _, alerter := range d.alerters {
		if !enabled(alerter.Channel()) {
			continue
		}

		d.inflight.Go(func() {
			defer func() {
				if r := recover(); r != nil {
					err := fmt.Errorf("panic in %s channel: %v", alerter.Channel(), r)
					if hub := sentry.GetHubFromContext(ctx); hub != nil {
						hub.CaptureException(err)
					}
					slog.ErrorContext(ctx, "channel panicked", slog.String("channel", string(alerter.Channel())), slog.String("error", err.Error()))
					d.metrics.ObserveChannelDelivery(alerter.Channel(), err)
				}
			}()

			err := alerter.Send(ctx, alert)
			d.metrics.ObserveChannelDelivery(alerter.Channel(), err)
			if err != nil {
				slog.ErrorContext(ctx, "delivering notification",
					slog.String("channel", string(alerter.Channel())),
					slog.String("notification_id", alert.Notification.ID),
					slog.String("action", string(alert.Action)),
					slog.String("error", err.Error()))
			}
		})
	}
}

// Close waits for in-flight channel deliveries until ctx is done.
func (d *Dispatcher) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for notification deliveries: %w", ctx.Err())
	}
}

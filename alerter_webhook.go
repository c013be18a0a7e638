package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
)

// WebhookAlerter fans an alert out to every active webhook of the user that
// subscribes to the event, recording one WebhookDelivery per endpoint.
type WebhookAlerter struct {
	repository Repository
	deliverer  *WebhookDeliverer
	retryQueue *WebhookRetryWorker
	now        func() time.Time
}

func NewWebhookAlerter(repository Repository, deliverer *WebhookDeliverer, retryQueue *WebhookRetryWorker) *WebhookAlerter {
	return &WebhookAlerter{
		repository: repository,
		deliverer:  deliverer,
		retryQueue: retryQueue,
		now:        deliverer.now,
	}
}

func (w *WebhookAlerter) Channel() Channel {
	return ChannelWebhook
}

func (w *WebhookAlerter) Send(ctx context.Context, alert Alert) error {
	span := sentry.StartSpan(ctx, "function", sentry.WithDescription("Webhook Alerter Send"))
	ctx = span.Context()
	defer span.Finish()

	eventType := alert.Action.EventType()
	webhooks, err := w.repository.ListWebhooks(ctx, alert.Notification.UserID, eventType)
	if err != nil {
		return fmt.Errorf("listing webhooks: %w", err)
	}
	if len(webhooks) == 0 {
		return nil
	}

	payload, err := json.Marshal(NewNotificationPayload(alert.Notification, alert.MonitorUrl()))
	if err != nil {
		return fmt.Errorf("marshaling webhook payload: %w", err)
	}

	var mu sync.Mutex
	var errs []error
	wg := sync.WaitGroup{}
	for _, webhook := range webhooks {
		wg.Go(func() {
			if err := w.deliver(ctx, webhook, eventType, payload); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("webhook %s: %w", webhook.ID, err))
				mu.Unlock()
			}
		})
	}
	wg.Wait()

	return errors.Join(errs...)
}

func (w *WebhookAlerter) deliver(ctx context.Context, webhook WebhookConfig, eventType string, payload []byte) error {
	now := w.now().Truncate(time.Microsecond)
	delivery := WebhookDelivery{
		ID:        uuid.NewString(),
		WebhookID: webhook.ID,
		EventType: eventType,
		Payload:   payload,
		Status:    DeliveryPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := w.repository.SaveWebhookDelivery(ctx, delivery); err != nil {
		// Without the pending row a crash would lose the delivery, but the
		// attempt itself can still go out.
		slog.ErrorContext(ctx, "saving pending webhook delivery", slog.String("webhook_id", webhook.ID), slog.String("error", err.Error()))
	}

	delivery, err := w.deliverer.Attempt(ctx, webhook, delivery)
	if delivery.Retryable() && w.retryQueue != nil {
		w.retryQueue.Enqueue(delivery)
	}
	return err
}

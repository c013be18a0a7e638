package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	pushHeartbeatInterval = 30 * time.Second
	pushStreamBuffer      = 16
)

// PushStream is one connected real-time client of a user.
type PushStream struct {
	ID       string
	UserID   string
	Messages <-chan []byte

	messages chan []byte
}

// PushBroadcaster keeps the registry of connected streams per user and writes
// notification frames to them. Messages for users without streams are
// discarded; nothing is queued for later.
type PushBroadcaster struct {
	mu                sync.RWMutex
	streams           map[string]map[string]*PushStream
	heartbeatInterval time.Duration
	metrics           *Metrics
}

func NewPushBroadcaster(metrics *Metrics) *PushBroadcaster {
	return &PushBroadcaster{
		streams:           make(map[string]map[string]*PushStream),
		heartbeatInterval: pushHeartbeatInterval,
		metrics:           metrics,
	}
}

func (b *PushBroadcaster) Channel() Channel {
	return ChannelPush
}

// Subscribe registers a new stream for the user. The returned function
// unregisters it and closes its channel; calling it more than once is safe.
func (b *PushBroadcaster) Subscribe(userID string) (*PushStream, func()) {
	messages := make(chan []byte, pushStreamBuffer)
	stream := &PushStream{
		ID:       uuid.NewString(),
		UserID:   userID,
		Messages: messages,
		messages: messages,
	}

	b.mu.Lock()
	if b.streams[userID] == nil {
		b.streams[userID] = make(map[string]*PushStream)
	}
	b.streams[userID][stream.ID] = stream
	b.mu.Unlock()
	b.metrics.AddPushStreams(1)

	var once sync.Once
	return stream, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.streams[userID], stream.ID)
			if len(b.streams[userID]) == 0 {
				delete(b.streams, userID)
			}
			// Publish only sends while holding the read lock, so no send can
			// race with this close.
			close(stream.messages)
			b.mu.Unlock()
			b.metrics.AddPushStreams(-1)
		})
	}
}

// Publish writes message to every stream of the user and returns how many
// streams accepted it. A stream whose buffer is full misses the message.
func (b *PushBroadcaster) Publish(userID string, message []byte) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var delivered int
	for _, stream := range b.streams[userID] {
		select {
		case stream.messages <- message:
			delivered++
		default:
			slog.Warn("push stream buffer full, dropping message", slog.String("user_id", userID), slog.String("stream_id", stream.ID))
		}
	}
	return delivered
}

func (b *PushBroadcaster) StreamCount(userID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.streams[userID])
}

func (b *PushBroadcaster) Send(ctx context.Context, alert Alert) error {
	var data any = NewNotificationPayload(alert.Notification, alert.MonitorUrl())
	if alert.Action == NotificationDeleted {
		data = map[string]string{"id": alert.Notification.ID}
	}

	frame, err := PushFrame{Type: "notification", Action: alert.Action, Data: data}.Encode()
	if err != nil {
		return fmt.Errorf("encoding push frame: %w", err)
	}

	delivered := b.Publish(alert.Notification.UserID, frame)
	slog.DebugContext(ctx, "published push frame", slog.String("user_id", alert.Notification.UserID), slog.Int("streams", delivered))
	return nil
}

// ServeStream is the server-sent events endpoint. The first frame confirms
// the connection; a comment line is sent periodically to keep proxies from
// closing an idle stream.
func (b *PushBroadcaster) ServeStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeJSONError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	stream, unsubscribe := b.Subscribe(userID)
	defer unsubscribe()

	connected, _ := json.Marshal(PushFrame{Type: "connected"})
	if _, err := fmt.Fprintf(w, "data: %s\n\n", connected); err != nil {
		return
	}
	flusher.Flush()

	slog.InfoContext(ctx, "push stream connected", slog.String("user_id", userID), slog.String("stream_id", stream.ID))

	heartbeat := time.NewTicker(b.heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "push stream disconnected", slog.String("user_id", userID), slog.String("stream_id", stream.ID))
			return
		case message, ok := <-stream.Messages:
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", message); err != nil {
				slog.DebugContext(ctx, "writing push frame", slog.String("error", err.Error()))
				return
			}
			flusher.Flush()
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ":\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

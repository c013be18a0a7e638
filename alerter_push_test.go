package main

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestPushBroadcaster_Publish(t *testing.T) {
	broadcaster := NewPushBroadcaster(nil)

	first, unsubscribeFirst := broadcaster.Subscribe("user-1")
	second, unsubscribeSecond := broadcaster.Subscribe("user-1")
	defer unsubscribeSecond()

	if delivered := broadcaster.Publish("user-1", []byte(`{"n":1}`)); delivered != 2 {
		t.Errorf("expected 2 streams to receive the message, got %d", delivered)
	}
	if delivered := broadcaster.Publish("user-2", []byte(`{"n":1}`)); delivered != 0 {
		t.Errorf("expected no delivery to a user without streams, got %d", delivered)
	}

	for _, stream := range []*PushStream{first, second} {
		select {
		case message := <-stream.Messages:
			if string(message) != `{"n":1}` {
				t.Errorf("unexpected message %s", message)
			}
		default:
			t.Errorf("stream %s did not receive the message", stream.ID)
		}
	}

	unsubscribeFirst()
	unsubscribeFirst()
	if count := broadcaster.StreamCount("user-1"); count != 1 {
		t.Errorf("expected 1 stream after unsubscribe, got %d", count)
	}
	if _, ok := <-first.Messages; ok {
		t.Error("expected the unsubscribed stream to be closed")
	}
}

func TestPushBroadcaster_FullBufferDropsMessage(t *testing.T) {
	broadcaster := NewPushBroadcaster(nil)
	_, unsubscribe := broadcaster.Subscribe("user-1")
	defer unsubscribe()

	for range pushStreamBuffer {
		if delivered := broadcaster.Publish("user-1", []byte("x")); delivered != 1 {
			t.Fatalf("expected message to fit in the buffer")
		}
	}
	if delivered := broadcaster.Publish("user-1", []byte("overflow")); delivered != 0 {
		t.Errorf("expected message to a full stream to be dropped, got %d", delivered)
	}
}

func TestPushBroadcaster_ConcurrentPublishAndUnsubscribe(t *testing.T) {
	broadcaster := NewPushBroadcaster(nil)

	wg := sync.WaitGroup{}
	for range 20 {
		wg.Go(func() {
			stream, unsubscribe := broadcaster.Subscribe("user-1")
			go func() {
				for range stream.Messages {
				}
			}()
			time.Sleep(time.Millisecond)
			unsubscribe()
		})
		wg.Go(func() {
			for range 50 {
				broadcaster.Publish("user-1", []byte("ping"))
			}
		})
	}
	wg.Wait()

	if count := broadcaster.StreamCount("user-1"); count != 0 {
		t.Errorf("expected every stream to be removed, got %d", count)
	}
}

func readFrame(t *testing.T, reader *bufio.Reader) string {
	t.Helper()
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("reading stream: %v", err)
		}
		line = strings.TrimRight(line, "\n")
		if line == "" {
			continue
		}
		return line
	}
}

func TestPushBroadcaster_ServeStream(t *testing.T) {
	broadcaster := NewPushBroadcaster(nil)
	broadcaster.heartbeatInterval = 100 * time.Millisecond
	server := httptest.NewServer(http.HandlerFunc(broadcaster.ServeStream))
	defer server.Close()

	t.Run("missing user", func(t *testing.T) {
		response, err := http.Get(server.URL)
		if err != nil {
			t.Fatalf("requesting stream: %v", err)
		}
		defer response.Body.Close()
		if response.StatusCode != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", response.StatusCode)
		}
	})

	t.Run("frames", func(t *testing.T) {
		ctx, cancel := context.WithCancel(t.Context())
		request, _ := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"?user_id=user-1", nil)
		response, err := http.DefaultClient.Do(request)
		if err != nil {
			t.Fatalf("requesting stream: %v", err)
		}
		defer response.Body.Close()

		if contentType := response.Header.Get("Content-Type"); contentType != "text/event-stream" {
			t.Errorf("unexpected content type %q", contentType)
		}

		reader := bufio.NewReader(response.Body)
		if frame := readFrame(t, reader); frame != `data: {"type":"connected"}` {
			t.Fatalf("expected connected frame first, got %q", frame)
		}

		notification := Notification{ID: "n-1", UserID: "user-1", Title: "Monitor is down: api", Severity: SeverityError, CreatedAt: time.Now()}
		if err := broadcaster.Send(t.Context(), Alert{Action: NotificationCreated, Notification: notification}); err != nil {
			t.Fatalf("sending alert: %v", err)
		}

		frame := readFrame(t, reader)
		for frame == ":" {
			frame = readFrame(t, reader)
		}
		var created struct {
			Type   string              `json:"type"`
			Action NotificationAction  `json:"action"`
			Data   NotificationPayload `json:"data"`
		}
		if err := json.Unmarshal([]byte(strings.TrimPrefix(frame, "data: ")), &created); err != nil {
			t.Fatalf("decoding frame %q: %v", frame, err)
		}
		if created.Type != "notification" || created.Action != NotificationCreated || created.Data.ID != "n-1" || created.Data.Type != SeverityError {
			t.Errorf("unexpected created frame %+v", created)
		}

		if err := broadcaster.Send(t.Context(), Alert{Action: NotificationDeleted, Notification: notification}); err != nil {
			t.Fatalf("sending alert: %v", err)
		}
		frame = readFrame(t, reader)
		for frame == ":" {
			frame = readFrame(t, reader)
		}
		if frame != `data: {"type":"notification","action":"deleted","data":{"id":"n-1"}}` {
			t.Errorf("unexpected deleted frame %q", frame)
		}

		if frame := readFrame(t, reader); frame != ":" {
			t.Errorf("expected heartbeat comment, got %q", frame)
		}

		cancel()
		deadline := time.Now().Add(2 * time.Second)
		for broadcaster.StreamCount("user-1") != 0 {
			if time.Now().After(deadline) {
				t.Fatal("expected the stream to be removed after the client disconnected")
			}
			time.Sleep(10 * time.Millisecond)
		}
	})
}

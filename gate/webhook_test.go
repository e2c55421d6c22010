package gate

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	hgerrors "github.com/xiaonanln/hubgate/util/errors"
)

func TestWebhookSenderPostsEvent(t *testing.T) {
	var (
		mu      sync.Mutex
		headers http.Header
		body    map[string]any
		method  string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		mu.Lock()
		defer mu.Unlock()
		method = r.Method
		headers = r.Header.Clone()
		_ = json.Unmarshal(data, &body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s := NewWebhookSender(srv.URL, "s3cret", time.Second)
	ev := newHubEvent(EventPortIn, "A1", 123, map[string]any{"side": "north", "level": 3.0})
	if err := s.Send(context.Background(), ev); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if method != http.MethodPost {
		t.Errorf("method = %s, want POST", method)
	}
	if got := headers.Get(TokenHeader); got != "s3cret" {
		t.Errorf("%s = %q, want s3cret", TokenHeader, got)
	}
	if got := headers.Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q", got)
	}
	if body["id"] != ev.ID || body["type"] != "PORT_IN" || body["hubId"] != "A1" || body["ts"] != float64(123) {
		t.Errorf("body = %v", body)
	}
	payload, _ := body["payload"].(map[string]any)
	if payload["side"] != "north" || payload["level"] != 3.0 {
		t.Errorf("payload = %v", payload)
	}
}

func TestWebhookSenderStatusHandling(t *testing.T) {
	tests := []struct {
		status  int
		wantErr bool
	}{
		{http.StatusOK, false},
		{http.StatusNoContent, false},
		{http.StatusMultipleChoices, true},
		{http.StatusBadRequest, true},
		{http.StatusInternalServerError, true},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte("ignored"))
			}))
			defer srv.Close()

			err := NewWebhookSender(srv.URL, "", time.Second).Send(context.Background(), testEvent(1))
			if (err != nil) != tt.wantErr {
				t.Errorf("status %d: err = %v, wantErr %v", tt.status, err, tt.wantErr)
			}
		})
	}
}

func TestWebhookSenderTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	if err := NewWebhookSender(url, "", time.Second).Send(context.Background(), testEvent(1)); err == nil {
		t.Fatal("expected an error from a closed endpoint")
	}
}

func TestQueueRetriesThroughWebhook(t *testing.T) {
	var (
		mu       sync.Mutex
		failing  = true
		received []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ev Event
		_ = json.NewDecoder(r.Body).Decode(&ev)
		mu.Lock()
		defer mu.Unlock()
		if failing {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		received = append(received, ev.HubID)
	}))
	defer srv.Close()

	clock := newFakeClock()
	q := NewQueue(QueueConfig{RetryBase: time.Second, RetryMax: 10 * time.Second},
		NewWebhookSender(srv.URL, "", time.Second), clock.Now)
	q.Enqueue(testEvent(1))
	q.Enqueue(testEvent(2))

	if res := q.Flush(context.Background()); res.Failed != 1 {
		t.Fatalf("first pass = %+v", res)
	}
	if items := q.Items(); items[0].LastError == "" {
		t.Error("lastError should be recorded")
	}

	mu.Lock()
	failing = false
	mu.Unlock()
	clock.Advance(2 * time.Second)

	if res := q.Flush(context.Background()); res.Sent != 2 {
		t.Fatalf("second pass = %+v", res)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(received) != 2 || received[0] != "H1" || received[1] != "H2" {
		t.Errorf("received = %v, want [H1 H2]", received)
	}
}

func TestWebhookSenderTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	err := NewWebhookSender(srv.URL, "", 50*time.Millisecond).Send(context.Background(), testEvent(1))
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !hgerrors.IsTimeout(err) {
		t.Fatalf("IsTimeout(%v) = false", err)
	}
	if deliveryStatus(err) != "timeout" {
		t.Errorf("deliveryStatus = %q, want timeout", deliveryStatus(err))
	}
}

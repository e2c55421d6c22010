package gateserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/xiaonanln/hubgate/gate"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []gate.Event
}

func (s *recordingSender) Send(ctx context.Context, ev gate.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, ev)
	return nil
}

func (s *recordingSender) Sent() []gate.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]gate.Event(nil), s.sent...)
}

func newTestServer(t *testing.T, secret string) (*GateServer, *httptest.Server) {
	t.Helper()
	s, err := NewGateServer(&GateServerConfig{
		HTTPListenAddress: "127.0.0.1:0",
		Gate: gate.GateConfig{
			Name:         "test",
			SharedSecret: secret,
			WebhookURL:   "http://consumer.invalid/events",
			Sender:       &recordingSender{},
		},
	}, nil)
	if err != nil {
		t.Fatalf("NewGateServer failed: %v", err)
	}
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		_ = s.Stop()
		ts.Close()
	})
	return s, ts
}

func postJSON(t *testing.T, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case string:
		buf.WriteString(b)
	default:
		if err := json.NewEncoder(&buf).Encode(b); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	resp, err := http.Post(url, "application/json", &buf)
	if err != nil {
		t.Fatalf("POST %s failed: %v", url, err)
	}
	return resp, decodeBody(t, resp)
}

func getJSON(t *testing.T, url string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s failed: %v", url, err)
	}
	return resp, decodeBody(t, resp)
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response (status %d): %v", resp.StatusCode, err)
	}
	return out
}

package gateserver

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/xiaonanln/hubgate/gate"
	"github.com/xiaonanln/hubgate/runtimecfg"
)

func TestHubOutputEndpoint(t *testing.T) {
	s, ts := newTestServer(t, "")

	tests := []struct {
		name        string
		body        any
		wantLevel   float64
		wantEnabled bool
	}{
		{"mode on clamps", map[string]any{"side": "north", "mode": "on", "level": 20}, 15, true},
		{"mode off ignores level", map[string]any{"side": "north", "mode": "off", "level": 9}, 0, false},
		{"enabled with level", map[string]any{"side": "UP", "enabled": true, "level": 4}, 4, true},
		{"bare level", map[string]any{"side": "down", "level": 7}, 7, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := postJSON(t, ts.URL+"/api/hub/H/output", tt.body)
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("status = %d, body = %v", resp.StatusCode, body)
			}
			if body["ok"] != true || body["hubId"] != "H" || body["level"] != tt.wantLevel || body["enabled"] != tt.wantEnabled {
				t.Errorf("body = %v", body)
			}
			if body["routed"] != false {
				t.Errorf("no connection is bound, routed = %v", body["routed"])
			}
		})
	}

	if got := s.Gate().Queue().Len(); got != len(tests) {
		t.Errorf("audit events queued = %d, want %d", got, len(tests))
	}
}

func TestHubOutputEndpointNormalizesSide(t *testing.T) {
	_, ts := newTestServer(t, "")
	_, body := postJSON(t, ts.URL+"/api/hub/H/output", map[string]any{"side": "NORTH", "mode": "on"})
	if body["side"] != "north" {
		t.Errorf("side = %v, want north", body["side"])
	}
}

func TestHubOutputEndpointValidation(t *testing.T) {
	s, ts := newTestServer(t, "")

	tests := []struct {
		name     string
		body     any
		wantCode string
	}{
		{"invalid side", map[string]any{"side": "sideways", "mode": "on"}, "INVALID_SIDE"},
		{"missing side", map[string]any{"mode": "on"}, "INVALID_SIDE"},
		{"invalid mode", map[string]any{"side": "north", "mode": "blink"}, "INVALID_OUTPUT"},
		{"no output form", map[string]any{"side": "north"}, "INVALID_OUTPUT"},
		{"invalid json", `{"side":`, "INVALID_JSON"},
		{"json array", `[1]`, "INVALID_JSON"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := postJSON(t, ts.URL+"/api/hub/H/output", tt.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", resp.StatusCode)
			}
			if body["code"] != tt.wantCode || body["error"] == "" {
				t.Errorf("body = %v, want code %s", body, tt.wantCode)
			}
		})
	}

	if s.Gate().Queue().Len() != 0 {
		t.Error("rejected commands must not be audited")
	}
}

func TestReaderOutputEndpoint(t *testing.T) {
	_, ts := newTestServer(t, "")

	resp, body := postJSON(t, ts.URL+"/api/reader/R1/output", map[string]any{"mode": "on", "level": 3})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %v", resp.StatusCode, body)
	}
	if body["ok"] != true || body["readerId"] != "R1" || body["level"] != 3.0 || body["enabled"] != true {
		t.Errorf("body = %v", body)
	}
	if _, ok := body["side"]; ok {
		t.Error("reader response should not carry a side")
	}

	resp, body = postJSON(t, ts.URL+"/api/reader/R1/output", map[string]any{})
	if resp.StatusCode != http.StatusBadRequest || body["code"] != "INVALID_OUTPUT" {
		t.Errorf("empty body: status = %d, body = %v", resp.StatusCode, body)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	_, ts := newTestServer(t, "")
	resp, err := http.Get(ts.URL + "/api/hub/H/output")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", resp.StatusCode)
	}
}

func TestConfigEndpoints(t *testing.T) {
	s, ts := newTestServer(t, "")

	resp, body := getJSON(t, ts.URL+"/api/config")
	if resp.StatusCode != http.StatusOK || body["ok"] != true {
		t.Fatalf("GET /api/config = %d %v", resp.StatusCode, body)
	}
	cfg := body["runtimeCfg"].(map[string]any)
	if cfg["testPeriodMs"] != float64(runtimecfg.DefaultTestPeriodMs) {
		t.Errorf("runtimeCfg = %v", cfg)
	}

	resp, body = postJSON(t, ts.URL+"/api/config", map[string]any{"testPeriodMs": 100, "testFailAfterMs": 60000})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /api/config = %d %v", resp.StatusCode, body)
	}
	cfg = body["runtimeCfg"].(map[string]any)
	if cfg["testPeriodMs"] != float64(runtimecfg.MinMs) || cfg["testFailAfterMs"] != 60000.0 {
		t.Errorf("runtimeCfg = %v, want clamped period", cfg)
	}
	if got := s.Gate().Runtime().Get(); got.TestFailAfterMs != 60000 {
		t.Errorf("store not updated: %+v", got)
	}

	resp, body = postJSON(t, ts.URL+"/api/config", `not json`)
	if resp.StatusCode != http.StatusBadRequest || body["code"] != "INVALID_JSON" {
		t.Errorf("invalid JSON: %d %v", resp.StatusCode, body)
	}
}

func TestHealthEndpoint(t *testing.T) {
	s, ts := newTestServer(t, "")
	g := s.Gate()
	p, err := g.Admit("", "test")
	if err != nil {
		t.Fatalf("Admit failed: %v", err)
	}
	g.HandleMessage(context.Background(), p, []byte(`{"type":"HUB_PING","hubId":"A1"}`))

	resp, body := getJSON(t, ts.URL+"/health")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["ok"] != true || body["wsClients"] != 1.0 || body["hubsTracked"] != 1.0 ||
		body["readersTracked"] != 0.0 || body["queue"] != 2.0 || body["webhookUrl"] != "http://consumer.invalid/events" {
		t.Errorf("health = %v", body)
	}
	if _, ok := body["runtimeCfg"].(map[string]any); !ok {
		t.Errorf("runtimeCfg missing: %v", body)
	}
}

func TestHubsEndpoint(t *testing.T) {
	s, ts := newTestServer(t, "")
	g := s.Gate()
	p, _ := g.Admit("", "test")
	g.HandleMessage(context.Background(), p, []byte(`{"type":"HUB_PING","hubId":"B"}`))
	g.HandleMessage(context.Background(), p, []byte(`{"type":"HUB_PING","hubId":"A"}`))

	_, body := getJSON(t, ts.URL+"/api/hubs")
	hubs, ok := body["hubs"].([]any)
	if !ok || len(hubs) != 2 {
		t.Fatalf("hubs = %v", body["hubs"])
	}
	first := hubs[0].(map[string]any)
	if first["hubId"] != "A" || first["online"] != true || first["fail"] != false {
		t.Errorf("first hub = %v", first)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s, ts := newTestServer(t, "")
	g := s.Gate()
	p, _ := g.Admit("", "test")
	g.HandleMessage(context.Background(), p, []byte(`{"type":"HUB_PING","hubId":"A1"}`))

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	for _, name := range []string{"hubgate_events_total", "hubgate_queue_depth", "hubgate_connections_active"} {
		if !strings.Contains(string(data), name) {
			t.Errorf("metrics output missing %s", name)
		}
	}
}

func TestNewGateServerValidation(t *testing.T) {
	if _, err := NewGateServer(nil, nil); err == nil {
		t.Error("nil config should be rejected")
	}
	if _, err := NewGateServer(&GateServerConfig{}, nil); err == nil {
		t.Error("missing HTTP address should be rejected")
	}
	if _, err := NewGateServer(&GateServerConfig{HTTPListenAddress: ":0", WSPath: "ws"}, nil); err == nil {
		t.Error("relative WS path should be rejected")
	}

	cfg := &GateServerConfig{HTTPListenAddress: ":0", Gate: gate.GateConfig{}}
	if _, err := NewGateServer(cfg, nil); err != nil {
		t.Fatalf("NewGateServer failed: %v", err)
	}
	if cfg.WSPath != DefaultWSPath {
		t.Errorf("WSPath = %q, want %q", cfg.WSPath, DefaultWSPath)
	}
}

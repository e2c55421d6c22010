package gate

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseOutputRequest(t *testing.T) {
	tests := []struct {
		name string
		body map[string]any
		want OutputSetting
	}{
		{"mode on clamps level", map[string]any{"mode": "on", "level": 20.0}, OutputSetting{15, true}},
		{"mode on default level", map[string]any{"mode": "on"}, OutputSetting{15, true}},
		{"mode ON case-insensitive", map[string]any{"mode": "ON", "level": 4.0}, OutputSetting{4, true}},
		{"mode off ignores level", map[string]any{"mode": "off", "level": 9.0}, OutputSetting{0, false}},
		{"mode on level zero", map[string]any{"mode": "on", "level": 0.0}, OutputSetting{0, false}},
		{"enabled true", map[string]any{"enabled": true, "level": 7.0}, OutputSetting{7, true}},
		{"enabled default level", map[string]any{"enabled": true}, OutputSetting{15, true}},
		{"enabled false", map[string]any{"enabled": false, "level": 7.0}, OutputSetting{0, false}},
		{"enabled wins over mode", map[string]any{"enabled": false, "mode": "on"}, OutputSetting{0, false}},
		{"mode wins over bare level", map[string]any{"mode": "off", "level": 12.0}, OutputSetting{0, false}},
		{"bare level", map[string]any{"level": 9.0}, OutputSetting{9, true}},
		{"bare numeric string", map[string]any{"level": "3"}, OutputSetting{3, true}},
		{"bare level zero", map[string]any{"level": 0.0}, OutputSetting{0, false}},
		{"bare level negative", map[string]any{"level": -4.0}, OutputSetting{0, false}},
		{"bare level rounds", map[string]any{"level": 2.6}, OutputSetting{3, true}},
		{"non-bool enabled falls through", map[string]any{"enabled": "yes", "level": 5.0}, OutputSetting{5, true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseOutputRequest(tt.body)
			if err != nil {
				t.Fatalf("ParseOutputRequest(%v) error: %v", tt.body, err)
			}
			if got != tt.want {
				t.Errorf("ParseOutputRequest(%v) = %+v, want %+v", tt.body, got, tt.want)
			}
		})
	}
}

func TestParseOutputRequestInvalid(t *testing.T) {
	bodies := []map[string]any{
		{},
		{"side": "north"},
		{"mode": "blink"},
		{"mode": 1.0},
		{"level": "high"},
		{"level": true},
	}
	for _, body := range bodies {
		if _, err := ParseOutputRequest(body); !errors.Is(err, ErrInvalidOutput) {
			t.Errorf("ParseOutputRequest(%v) error = %v, want ErrInvalidOutput", body, err)
		}
	}
}

func TestIssueHubOutputRoutesToBoundConnection(t *testing.T) {
	g, _, _ := newTestGate(t, "")
	target, _ := g.Admit("", "a")
	other, _ := g.Admit("", "b")
	drain(target)
	drain(other)
	g.Registry().BindHub("A1", target)

	res, err := g.IssueHubOutput("A1", "North", OutputSetting{Level: 15, Enabled: true})
	if err != nil {
		t.Fatalf("IssueHubOutput failed: %v", err)
	}
	if !res.Routed || res.Side != SideNorth || res.Level != 15 || !res.Enabled {
		t.Errorf("result = %+v", res)
	}

	frames := drain(target)
	if len(frames) != 1 {
		t.Fatalf("target got %d frames, want 1", len(frames))
	}
	var cmd map[string]any
	if err := json.Unmarshal(frames[0], &cmd); err != nil {
		t.Fatalf("bad command frame: %v", err)
	}
	if cmd["type"] != "SET_OUTPUT" || cmd["hubId"] != "A1" || cmd["side"] != "north" ||
		cmd["level"] != 15.0 || cmd["enabled"] != true || cmd["ts"] == nil {
		t.Errorf("command = %v", cmd)
	}
	if len(drain(other)) != 0 {
		t.Error("routed command should not reach other connections")
	}

	events := queuedEvents(g.Queue())
	if len(events) != 1 || events[0].Type != EventSetOutput || events[0].HubID != "A1" {
		t.Fatalf("audit events = %v", events)
	}
	if events[0].Payload["routed"] != true {
		t.Errorf("audit payload = %v", events[0].Payload)
	}
}

func TestIssueHubOutputBroadcastsWhenUnbound(t *testing.T) {
	g, _, _ := newTestGate(t, "")
	p1, _ := g.Admit("", "a")
	p2, _ := g.Admit("", "b")
	drain(p1)
	drain(p2)

	res, err := g.IssueHubOutput("ghost", "up", OutputSetting{})
	if err != nil {
		t.Fatalf("broadcast fallback must not be an error: %v", err)
	}
	if res.Routed {
		t.Error("unbound hub should not be reported as routed")
	}
	if len(drain(p1)) != 1 || len(drain(p2)) != 1 {
		t.Error("every connection should receive the broadcast")
	}
	if g.Queue().Len() != 1 {
		t.Errorf("audit event not enqueued, Len = %d", g.Queue().Len())
	}
}

func TestIssueHubOutputInvalidSide(t *testing.T) {
	g, _, _ := newTestGate(t, "")
	for _, side := range []string{"", "invalid", "northwest"} {
		if _, err := g.IssueHubOutput("A1", side, OutputSetting{}); !errors.Is(err, ErrInvalidSide) {
			t.Errorf("side %q: err = %v, want ErrInvalidSide", side, err)
		}
	}
	if g.Queue().Len() != 0 {
		t.Error("rejected commands must not be audited")
	}
}

func TestIssueReaderOutput(t *testing.T) {
	g, _, _ := newTestGate(t, "")
	reader, _ := g.Admit("", "a")
	drain(reader)
	g.Registry().BindReader("R1", reader)

	res, err := g.IssueReaderOutput("R1", OutputSetting{Level: 5, Enabled: true})
	if err != nil {
		t.Fatalf("IssueReaderOutput failed: %v", err)
	}
	if !res.Routed || res.ReaderID != "R1" {
		t.Errorf("result = %+v", res)
	}

	frames := drain(reader)
	if len(frames) != 1 {
		t.Fatalf("reader got %d frames", len(frames))
	}
	var cmd map[string]any
	_ = json.Unmarshal(frames[0], &cmd)
	if cmd["type"] != "SET_READER_OUTPUT" || cmd["readerId"] != "R1" || cmd["level"] != 5.0 {
		t.Errorf("command = %v", cmd)
	}
	if _, ok := cmd["side"]; ok {
		t.Error("reader command should not carry a side")
	}

	events := queuedEvents(g.Queue())
	if len(events) != 1 || events[0].Type != EventSetReaderOutput || events[0].ReaderID != "R1" {
		t.Errorf("audit events = %v", events)
	}
}

package gate

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/xiaonanln/hubgate/util/metrics"
)

// MaxLevel is the highest output level a hub or reader accepts
const MaxLevel = 15

var (
	ErrInvalidSide   = errors.New("invalid side")
	ErrInvalidOutput = errors.New("invalid output request")
)

// OutputSetting is a resolved output command
type OutputSetting struct {
	Level   int
	Enabled bool
}

// ParseOutputRequest resolves an output request body. The forms are tried in
// order: "enabled" (bool), "mode" ("on"/"off"), then a bare numeric "level".
// With enabled or mode an optional level is honored, defaulting to MaxLevel.
// The level is clamped to [0, MaxLevel]; a disabled output always has level 0.
func ParseOutputRequest(body map[string]any) (OutputSetting, error) {
	var requested bool
	level := float64(MaxLevel)

	if enabled, ok := body["enabled"].(bool); ok {
		requested = enabled
		if v, ok := numericValue(body["level"]); ok {
			level = v
		}
	} else if rawMode, present := body["mode"]; present && rawMode != nil {
		mode, _ := rawMode.(string)
		switch strings.ToLower(strings.TrimSpace(mode)) {
		case "on":
			requested = true
		case "off":
			requested = false
		default:
			return OutputSetting{}, fmt.Errorf("%w: mode must be \"on\" or \"off\"", ErrInvalidOutput)
		}
		if v, ok := numericValue(body["level"]); ok {
			level = v
		}
	} else if v, ok := numericValue(body["level"]); ok {
		requested = true
		level = v
	} else {
		return OutputSetting{}, fmt.Errorf("%w: expected enabled, mode or numeric level", ErrInvalidOutput)
	}

	return resolveOutput(requested, level), nil
}

func resolveOutput(requested bool, level float64) OutputSetting {
	lv := int(math.Round(math.Max(0, math.Min(MaxLevel, level))))
	if !requested || lv <= 0 {
		return OutputSetting{Level: 0, Enabled: false}
	}
	return OutputSetting{Level: lv, Enabled: true}
}

func numericValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return n, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// CommandResult describes a dispatched output command
type CommandResult struct {
	HubID    string
	ReaderID string
	Side     Side
	Level    int
	Enabled  bool
	// Routed is true when the command went to a bound connection, false
	// when it was broadcast to every connection.
	Routed bool
}

type outputCommand struct {
	Type     EventKind `json:"type"`
	HubID    string    `json:"hubId,omitempty"`
	ReaderID string    `json:"readerId,omitempty"`
	Side     Side      `json:"side,omitempty"`
	Level    int       `json:"level"`
	Enabled  bool      `json:"enabled"`
	TS       int64     `json:"ts"`
}

// IssueHubOutput sends a SET_OUTPUT command to the connection bound to
// hubID, or to every connection if none is bound, and audits it.
func (g *Gate) IssueHubOutput(hubID, side string, s OutputSetting) (CommandResult, error) {
	normalized := NormalizeSide(side)
	if !normalized.Valid() {
		return CommandResult{}, fmt.Errorf("%w: %q", ErrInvalidSide, side)
	}
	if hubID == "" {
		return CommandResult{}, fmt.Errorf("%w: missing hub id", ErrInvalidOutput)
	}

	ts := unixMs(g.now())
	cmd := outputCommand{
		Type:    EventSetOutput,
		HubID:   hubID,
		Side:    normalized,
		Level:   s.Level,
		Enabled: s.Enabled,
		TS:      ts,
	}
	routed := g.dispatch(g.registry.LookupHub(hubID), cmd)
	metrics.RecordCommand("hub", !routed)

	g.emit(newHubEvent(EventSetOutput, hubID, ts, map[string]any{
		"side":    string(normalized),
		"level":   s.Level,
		"enabled": s.Enabled,
		"routed":  routed,
	}))
	return CommandResult{HubID: hubID, Side: normalized, Level: s.Level, Enabled: s.Enabled, Routed: routed}, nil
}

// IssueReaderOutput sends a SET_READER_OUTPUT command to the connection
// bound to readerID, or to every connection if none is bound, and audits it.
func (g *Gate) IssueReaderOutput(readerID string, s OutputSetting) (CommandResult, error) {
	if readerID == "" {
		return CommandResult{}, fmt.Errorf("%w: missing reader id", ErrInvalidOutput)
	}

	ts := unixMs(g.now())
	cmd := outputCommand{
		Type:     EventSetReaderOutput,
		ReaderID: readerID,
		Level:    s.Level,
		Enabled:  s.Enabled,
		TS:       ts,
	}
	routed := g.dispatch(g.registry.LookupReader(readerID), cmd)
	metrics.RecordCommand("reader", !routed)

	g.emit(newReaderEvent(EventSetReaderOutput, readerID, ts, map[string]any{
		"level":   s.Level,
		"enabled": s.Enabled,
		"routed":  routed,
	}))
	return CommandResult{ReaderID: readerID, Level: s.Level, Enabled: s.Enabled, Routed: routed}, nil
}

// dispatch pushes cmd to target, falling back to a broadcast when target is
// missing or cannot take the frame. Receivers filter by id.
func (g *Gate) dispatch(target *ClientProxy, cmd outputCommand) bool {
	data, err := json.Marshal(cmd)
	if err != nil {
		g.logger.Errorf("Failed to encode %s command: %v", cmd.Type, err)
		return false
	}
	if target != nil && target.PushMessage(data) {
		return true
	}
	n := g.registry.Broadcast(data)
	g.logger.Debugf("%s has no reachable connection, broadcast to %d connections", cmd.Type, n)
	return false
}

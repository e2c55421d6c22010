package gate

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/xiaonanln/hubgate/runtimecfg"
)

// Reasons an inbound message is dropped. All of them wrap ErrMalformed.
var (
	ErrMalformed   = errors.New("malformed inbound message")
	ErrInvalidJSON = fmt.Errorf("%w: invalid json", ErrMalformed)
	ErrMissingType = fmt.Errorf("%w: missing type", ErrMalformed)
	ErrUnknownType = fmt.Errorf("%w: unknown type", ErrMalformed)
	ErrMissingID   = fmt.Errorf("%w: missing id", ErrMalformed)
)

// InboundMessage is one of the message kinds a hub or reader may send:
// *HelloMessage, *ClientConfigMessage, *HeartbeatMessage, *HubPingMessage,
// *PortInMessage or *ReaderScanMessage. The set is closed.
type InboundMessage interface {
	inboundType() string
}

type HelloMessage struct {
	Client   string
	ClientID string
	TS       *int64
}

type ClientConfigMessage struct {
	Update runtimecfg.Partial
}

type HeartbeatMessage struct{}

type HubPingMessage struct {
	HubID string
	TS    *int64
	Pos   *Position
}

type PortInMessage struct {
	HubID string
	Side  Side
	Level float64
	TS    *int64
	Pos   *Position
}

type ReaderScanMessage struct {
	ReaderID string
	KeyName  string
	Player   string
	TS       *int64
	Pos      *Position
}

func (*HelloMessage) inboundType() string        { return "HELLO" }
func (*ClientConfigMessage) inboundType() string { return "CLIENT_CONFIG" }
func (*HeartbeatMessage) inboundType() string    { return "HEARTBEAT" }
func (*HubPingMessage) inboundType() string      { return "HUB_PING" }
func (*PortInMessage) inboundType() string       { return "PORT_IN" }
func (*ReaderScanMessage) inboundType() string   { return "READER_SCAN" }

// DecodeInbound parses one text frame. The error wraps ErrMalformed for
// anything that must be dropped.
func DecodeInbound(data []byte) (InboundMessage, error) {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil || m == nil {
		return nil, ErrInvalidJSON
	}

	msgType, _ := m["type"].(string)
	if msgType == "" {
		return nil, ErrMissingType
	}

	switch strings.ToUpper(msgType) {
	case "HELLO":
		return &HelloMessage{
			Client:   stringField(m, "client"),
			ClientID: stringField(m, "clientId"),
			TS:       tsField(m),
		}, nil

	case "CLIENT_CONFIG":
		return &ClientConfigMessage{Update: runtimecfg.PartialFromMap(m)}, nil

	case "HEARTBEAT":
		return &HeartbeatMessage{}, nil

	case "HUB_PING":
		hubID := stringField(m, "hubId")
		if hubID == "" {
			return nil, ErrMissingID
		}
		return &HubPingMessage{HubID: hubID, TS: tsField(m), Pos: positionField(m)}, nil

	case "PORT_IN":
		hubID := stringField(m, "hubId")
		if hubID == "" {
			return nil, ErrMissingID
		}
		side, _ := m["side"].(string)
		return &PortInMessage{
			HubID: hubID,
			Side:  NormalizeSide(side),
			Level: coerceNumber(m["level"]),
			TS:    tsField(m),
			Pos:   positionField(m),
		}, nil

	case "READER_SCAN":
		readerID := stringField(m, "readerId")
		if readerID == "" {
			return nil, ErrMissingID
		}
		return &ReaderScanMessage{
			ReaderID: readerID,
			KeyName:  stringField(m, "keyName"),
			Player:   stringField(m, "player"),
			TS:       tsField(m),
			Pos:      positionField(m),
		}, nil

	default:
		return nil, ErrUnknownType
	}
}

// dropReason is the metrics label for a decode error.
func dropReason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidJSON):
		return "invalid_json"
	case errors.Is(err, ErrMissingType):
		return "missing_type"
	case errors.Is(err, ErrUnknownType):
		return "unknown_type"
	case errors.Is(err, ErrMissingID):
		return "missing_id"
	default:
		return "other"
	}
}

// stringField accepts strings and numbers, since some clients send numeric ids.
func stringField(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

func numberField(m map[string]any, key string) (float64, bool) {
	v, ok := m[key].(float64)
	return v, ok
}

// coerceNumber converts numbers and numeric strings; everything else is 0.
func coerceNumber(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0
		}
		return f
	case bool:
		if n {
			return 1
		}
		return 0
	default:
		return 0
	}
}

func tsField(m map[string]any) *int64 {
	v, ok := numberField(m, "ts")
	if !ok {
		return nil
	}
	ts := int64(v)
	return &ts
}

// positionField reads either a nested "pos" object or top-level x/y/z.
func positionField(m map[string]any) *Position {
	if pos, ok := m["pos"].(map[string]any); ok {
		return positionFrom(pos)
	}
	return positionFrom(m)
}

func positionFrom(m map[string]any) *Position {
	x, okX := numberField(m, "x")
	y, okY := numberField(m, "y")
	z, okZ := numberField(m, "z")
	if !okX && !okY && !okZ {
		return nil
	}
	return &Position{X: x, Y: y, Z: z}
}

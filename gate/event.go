package gate

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// EventKind is the type of a normalized event
type EventKind string

const (
	EventHello               EventKind = "HELLO"
	EventClientConfigApplied EventKind = "CLIENT_CONFIG_APPLIED"
	EventHubPing             EventKind = "HUB_PING"
	EventPortIn              EventKind = "PORT_IN"
	EventReaderScan          EventKind = "READER_SCAN"
	EventTestOK              EventKind = "TEST_OK"
	EventTestFail            EventKind = "TEST_FAIL"
	EventSetOutput           EventKind = "SET_OUTPUT"
	EventSetReaderOutput     EventKind = "SET_READER_OUTPUT"
)

// UnknownSubject is the hub id used for events that are not about a hub or reader.
const UnknownSubject = "unknown"

// Liveness reasons carried in TEST_OK payloads
const (
	ReasonFirstSeen = "FIRST_SEEN"
	ReasonPeriodic  = "PERIODIC"
	ReasonRestored  = "RESTORED"
)

// Event is the canonical record forwarded to the webhook. Events are never
// modified after creation; Payload must be treated as read-only.
type Event struct {
	ID       string         `json:"id"`
	Type     EventKind      `json:"type"`
	HubID    string         `json:"hubId,omitempty"`
	ReaderID string         `json:"readerId,omitempty"`
	TS       int64          `json:"ts"`
	Payload  map[string]any `json:"payload"`
}

// Subject returns the hub or reader id the event is about.
func (e Event) Subject() string {
	if e.ReaderID != "" {
		return e.ReaderID
	}
	return e.HubID
}

func newHubEvent(kind EventKind, hubID string, ts int64, payload map[string]any) Event {
	if hubID == "" {
		hubID = UnknownSubject
	}
	return Event{ID: uuid.NewString(), Type: kind, HubID: hubID, TS: ts, Payload: payload}
}

func newReaderEvent(kind EventKind, readerID string, ts int64, payload map[string]any) Event {
	return Event{ID: uuid.NewString(), Type: kind, ReaderID: readerID, TS: ts, Payload: payload}
}

func unixMs(t time.Time) int64 {
	return t.UnixMilli()
}

// Side is a physical input/output channel on a hub
type Side string

const (
	SideNone  Side = ""
	SideNorth Side = "north"
	SideSouth Side = "south"
	SideEast  Side = "east"
	SideWest  Side = "west"
	SideUp    Side = "up"
	SideDown  Side = "down"
)

// NormalizeSide maps a side name case-insensitively onto one of the six
// sides. Anything else yields SideNone.
func NormalizeSide(s string) Side {
	switch side := Side(strings.ToLower(strings.TrimSpace(s))); side {
	case SideNorth, SideSouth, SideEast, SideWest, SideUp, SideDown:
		return side
	default:
		return SideNone
	}
}

// Valid reports whether s is one of the six sides.
func (s Side) Valid() bool {
	return s != SideNone && NormalizeSide(string(s)) == s
}

// jsonValue renders SideNone as JSON null.
func (s Side) jsonValue() any {
	if s == SideNone {
		return nil
	}
	return string(s)
}

// Position is a client-reported world position
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// jsonValue renders a missing position as JSON null.
func (p *Position) jsonValue() any {
	if p == nil {
		return nil
	}
	return *p
}

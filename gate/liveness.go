package gate

import (
	"sort"
	"sync"
	"time"

	"github.com/xiaonanln/hubgate/util/metrics"
)

type hubState struct {
	lastSeen time.Time
	online   bool
	fail     bool
}

// HubStatus is a point-in-time view of one tracked hub
type HubStatus struct {
	HubID         string `json:"hubId"`
	LastSeenTs    int64  `json:"lastSeenTs"`
	LastSeenAgeMs int64  `json:"lastSeenAgeMs"`
	Online        bool   `json:"online"`
	Fail          bool   `json:"fail"`
}

// Liveness tracks when each hub was last heard from and whether it is
// online or failing. Hubs are created on first sight and never removed.
type Liveness struct {
	mu   sync.Mutex
	hubs map[string]*hubState
}

// NewLiveness creates an empty liveness table
func NewLiveness() *Liveness {
	return &Liveness{hubs: make(map[string]*hubState)}
}

// MarkSeen records a message referencing hubID and passes a TEST_OK event to
// emit when the hub is new (FIRST_SEEN) or was failing (RESTORED). emit runs
// under the table lock so transitions reach it in the order they happen; it
// must not call back into l.
func (l *Liveness) MarkSeen(hubID string, now time.Time, emit func(Event)) {
	l.mu.Lock()
	st, ok := l.hubs[hubID]
	reason := ""
	switch {
	case !ok:
		st = &hubState{}
		l.hubs[hubID] = st
		reason = ReasonFirstSeen
	case st.fail || !st.online:
		reason = ReasonRestored
	}
	st.lastSeen = now
	st.online = true
	st.fail = false
	if reason != "" {
		emit(newHubEvent(EventTestOK, hubID, unixMs(now), map[string]any{"reason": reason}))
	}
	online, failing := l.countsLocked()
	l.mu.Unlock()

	metrics.SetHubStates(online, failing)
}

// Check evaluates every tracked hub at now. Online hubs older than failAfter
// become failing and yield one TEST_FAIL; other online hubs yield a PERIODIC
// TEST_OK. Failing hubs yield nothing until they are seen again.
// Events go to emit in hub id order, under the table lock as in MarkSeen.
func (l *Liveness) Check(now time.Time, failAfter time.Duration, emit func(Event)) {
	l.mu.Lock()
	ids := make([]string, 0, len(l.hubs))
	for id := range l.hubs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	ts := unixMs(now)
	for _, id := range ids {
		st := l.hubs[id]
		if !st.online {
			continue
		}
		age := now.Sub(st.lastSeen)
		if age > failAfter {
			st.online = false
			st.fail = true
			emit(newHubEvent(EventTestFail, id, ts, map[string]any{
				"lastSeenAgeMs": age.Milliseconds(),
				"failAfterMs":   failAfter.Milliseconds(),
			}))
			continue
		}
		emit(newHubEvent(EventTestOK, id, ts, map[string]any{
			"reason":        ReasonPeriodic,
			"lastSeenAgeMs": age.Milliseconds(),
		}))
	}
	online, failing := l.countsLocked()
	l.mu.Unlock()

	metrics.SetHubStates(online, failing)
}

// Snapshot returns the state of every tracked hub, ordered by hub id.
func (l *Liveness) Snapshot(now time.Time) []HubStatus {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]HubStatus, 0, len(l.hubs))
	for id, st := range l.hubs {
		out = append(out, HubStatus{
			HubID:         id,
			LastSeenTs:    unixMs(st.lastSeen),
			LastSeenAgeMs: now.Sub(st.lastSeen).Milliseconds(),
			Online:        st.online,
			Fail:          st.fail,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].HubID < out[j].HubID })
	return out
}

// Count returns the number of tracked hubs
func (l *Liveness) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.hubs)
}

func (l *Liveness) countsLocked() (online, failing int) {
	for _, st := range l.hubs {
		if st.online {
			online++
		} else if st.fail {
			failing++
		}
	}
	return online, failing
}

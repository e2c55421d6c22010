package gate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xiaonanln/hubgate/runtimecfg"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.UnixMilli(1_700_000_000_000)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// recordingSender records delivered events and fails while fail is set
type recordingSender struct {
	mu    sync.Mutex
	sent  []Event
	calls int
	fail  bool
	hook  func(Event)
}

func (s *recordingSender) Send(ctx context.Context, ev Event) error {
	s.mu.Lock()
	s.calls++
	fail := s.fail
	hook := s.hook
	s.mu.Unlock()

	if hook != nil {
		hook(ev)
	}
	if fail {
		return errors.New("downstream unavailable")
	}

	s.mu.Lock()
	s.sent = append(s.sent, ev)
	s.mu.Unlock()
	return nil
}

func (s *recordingSender) setFail(fail bool) {
	s.mu.Lock()
	s.fail = fail
	s.mu.Unlock()
}

func (s *recordingSender) Sent() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.sent...)
}

func (s *recordingSender) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func newTestGate(t *testing.T, secret string) (*Gate, *fakeClock, *recordingSender) {
	t.Helper()
	clock := newFakeClock()
	sender := &recordingSender{}
	g, err := NewGate(&GateConfig{
		Name:         "test",
		SharedSecret: secret,
		Now:          clock.Now,
		Sender:       sender,
	}, runtimecfg.NewStore(nil))
	if err != nil {
		t.Fatalf("NewGate failed: %v", err)
	}
	return g, clock, sender
}

func eventTypes(events []Event) []EventKind {
	out := make([]EventKind, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

func queuedEvents(q *Queue) []Event {
	items := q.Items()
	out := make([]Event, len(items))
	for i, it := range items {
		out[i] = it.Event
	}
	return out
}

// drain pulls every frame currently buffered for proxy
func drain(proxy *ClientProxy) [][]byte {
	var frames [][]byte
	for {
		select {
		case msg, ok := <-proxy.MessageChan():
			if !ok {
				return frames
			}
			frames = append(frames, msg)
		default:
			return frames
		}
	}
}

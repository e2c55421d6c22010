package testutil

import (
	"testing"
	"time"
)

// WaitFor polls condition until it returns true or timeout elapses, failing
// the test on timeout. The condition is checked immediately and then every 20ms.
//
// Usage:
//
//	testutil.WaitFor(t, time.Second, "hub H1 to be bound", func() bool {
//	    return g.Registry().LookupHub("H1") != nil
//	})
func WaitFor(t testing.TB, timeout time.Duration, message string, condition func() bool) {
	t.Helper()

	if condition() {
		return
	}

	start := time.Now()
	deadline := start.Add(timeout)
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	attempts := 1
	for range ticker.C {
		attempts++
		if condition() {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("Timeout waiting for %s (waited %v, %d attempts)", message, time.Since(start).Round(time.Millisecond), attempts)
		}
	}
}

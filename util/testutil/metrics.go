package testutil

import (
	"sync"
	"testing"
)

var metricsTestMutex sync.Mutex

// LockMetrics gives the calling test exclusive access to the global Prometheus
// collectors in util/metrics until it completes. Tests that Reset() or read
// those collectors must call it first, since parallel tests share them.
//
// Usage:
//
//	func TestQueueMetrics(t *testing.T) {
//	    testutil.LockMetrics(t)
//	    metrics.EventsTotal.Reset()
//	    // ...
//	}
func LockMetrics(t *testing.T) {
	t.Helper()
	metricsTestMutex.Lock()
	t.Cleanup(metricsTestMutex.Unlock)
}

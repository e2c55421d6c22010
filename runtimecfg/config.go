// Package runtimecfg holds the gateway's hot-reloadable tunables: how often
// hubs are health-checked and how long a hub may stay silent before it is
// reported as failing.
package runtimecfg

import (
	"time"
)

const (
	// MinMs is the floor applied to every runtime tunable.
	MinMs int64 = 5000

	DefaultTestPeriodMs    int64 = 15000
	DefaultTestFailAfterMs int64 = 30000
)

// Config is the runtime configuration snapshot
type Config struct {
	TestPeriodMs    int64 `json:"testPeriodMs"`
	TestFailAfterMs int64 `json:"testFailAfterMs"`
}

// Default returns the configuration used when nothing is persisted.
func Default() Config {
	return Config{
		TestPeriodMs:    DefaultTestPeriodMs,
		TestFailAfterMs: DefaultTestFailAfterMs,
	}
}

// Clamp returns c with every field raised to at least MinMs.
func (c Config) Clamp() Config {
	if c.TestPeriodMs < MinMs {
		c.TestPeriodMs = MinMs
	}
	if c.TestFailAfterMs < MinMs {
		c.TestFailAfterMs = MinMs
	}
	return c
}

// TestPeriod is the health-check interval.
func (c Config) TestPeriod() time.Duration {
	return time.Duration(c.TestPeriodMs) * time.Millisecond
}

// TestFailAfter is the silence threshold after which a hub is failing.
func (c Config) TestFailAfter() time.Duration {
	return time.Duration(c.TestFailAfterMs) * time.Millisecond
}

// Partial is an update where nil fields are left untouched.
type Partial struct {
	TestPeriodMs    *int64
	TestFailAfterMs *int64
}

// IsEmpty reports whether the update changes nothing.
func (p Partial) IsEmpty() bool {
	return p.TestPeriodMs == nil && p.TestFailAfterMs == nil
}

// PartialFromMap extracts numeric fields from a decoded JSON object.
// Absent or non-numeric values are ignored.
func PartialFromMap(m map[string]any) Partial {
	var p Partial
	if v, ok := numeric(m["testPeriodMs"]); ok {
		p.TestPeriodMs = &v
	}
	if v, ok := numeric(m["testFailAfterMs"]); ok {
		p.TestFailAfterMs = &v
	}
	return p
}

func numeric(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	default:
		return 0, false
	}
}

// merge applies p on top of c without clamping.
func (c Config) merge(p Partial) Config {
	if p.TestPeriodMs != nil {
		c.TestPeriodMs = *p.TestPeriodMs
	}
	if p.TestFailAfterMs != nil {
		c.TestFailAfterMs = *p.TestFailAfterMs
	}
	return c
}

package uniqueid

import (
	"strings"
	"testing"
)

func TestUniqueId(t *testing.T) {
	id := UniqueId()
	if len(id) != 22 {
		t.Errorf("UniqueId() length = %d, want 22 (%q)", len(id), id)
	}
	if strings.ContainsAny(id, "+/=") {
		t.Errorf("UniqueId() contains non URL-safe characters: %q", id)
	}
}

func TestUniqueIdUniqueness(t *testing.T) {
	seen := make(map[string]bool, 10000)
	for i := 0; i < 10000; i++ {
		id := UniqueId()
		if seen[id] {
			t.Fatalf("duplicate id after %d iterations: %s", i, id)
		}
		seen[id] = true
	}
}

func TestConnectionID(t *testing.T) {
	id := ConnectionID("gw-1")
	if !strings.HasPrefix(id, "gw-1/") {
		t.Errorf("ConnectionID() = %q, want gw-1/ prefix", id)
	}
	if id := ConnectionID(""); strings.Contains(id, "/") {
		t.Errorf("ConnectionID(\"\") = %q, want bare id", id)
	}
}

func BenchmarkUniqueId(b *testing.B) {
	for i := 0; i < b.N; i++ {
		UniqueId()
	}
}

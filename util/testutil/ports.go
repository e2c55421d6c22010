package testutil

import (
	"fmt"
	"net"
	"sync"
)

var (
	recentPorts   = make(map[int]struct{})
	recentPortsMu sync.Mutex
)

// GetFreePort returns a TCP port on localhost that was free a moment ago.
// Ports handed out earlier in the same test binary are never returned twice,
// so servers started back to back in one test do not collide.
func GetFreePort() int {
	recentPortsMu.Lock()
	defer recentPortsMu.Unlock()

	for attempt := 0; attempt < 100; attempt++ {
		listener, err := net.Listen("tcp", "localhost:0")
		if err != nil {
			panic(fmt.Sprintf("failed to get free port: %v", err))
		}
		port := listener.Addr().(*net.TCPAddr).Port
		listener.Close()

		if _, seen := recentPorts[port]; !seen {
			recentPorts[port] = struct{}{}
			return port
		}
	}
	panic("failed to get unique free port after 100 attempts")
}

// GetFreeAddress returns "localhost:<port>" for a port from GetFreePort.
func GetFreeAddress() string {
	return fmt.Sprintf("localhost:%d", GetFreePort())
}

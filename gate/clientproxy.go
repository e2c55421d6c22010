package gate

import (
	"fmt"
	"sync"

	"github.com/xiaonanln/hubgate/util/logger"
)

// sendBufferSize is the number of outbound frames a slow connection may lag behind
const sendBufferSize = 64

// ClientProxy represents an admitted hub or reader connection in the gateway.
// It holds minimal connection-local state needed for transport; the
// transport drains MessageChan and writes each frame to the socket.
type ClientProxy struct {
	id          string
	remoteAddr  string
	messageChan chan []byte
	closed      bool
	mu          sync.RWMutex
	logger      *logger.Logger
}

// NewClientProxy creates a new client proxy with the given ID
func NewClientProxy(id, remoteAddr string) *ClientProxy {
	return &ClientProxy{
		id:          id,
		remoteAddr:  remoteAddr,
		messageChan: make(chan []byte, sendBufferSize),
		logger:      logger.NewLogger(fmt.Sprintf("ClientProxy(%s)", id)),
	}
}

// GetID returns the client proxy ID
func (cp *ClientProxy) GetID() string {
	return cp.id
}

// RemoteAddr returns the peer address reported at handshake
func (cp *ClientProxy) RemoteAddr() string {
	return cp.remoteAddr
}

// MessageChan returns the outbound frame channel.
// It is closed by Close.
func (cp *ClientProxy) MessageChan() <-chan []byte {
	return cp.messageChan
}

// Close closes the message channel. Multiple calls to Close are safe.
func (cp *ClientProxy) Close() {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	if cp.closed {
		return
	}
	cp.closed = true
	close(cp.messageChan)
}

// IsClosed returns true if the client proxy has been closed
func (cp *ClientProxy) IsClosed() bool {
	cp.mu.RLock()
	defer cp.mu.RUnlock()
	return cp.closed
}

// PushMessage queues a frame for the connection without blocking.
// It returns false if the proxy is closed or its buffer is full.
func (cp *ClientProxy) PushMessage(msg []byte) bool {
	cp.mu.RLock()
	defer cp.mu.RUnlock()
	if cp.closed {
		return false
	}
	select {
	case cp.messageChan <- msg:
		return true
	default:
		cp.logger.Warnf("message channel full, dropping message")
		return false
	}
}

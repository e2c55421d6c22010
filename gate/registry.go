package gate

import (
	"crypto/subtle"
	"errors"
	"sync"

	"github.com/xiaonanln/hubgate/util/logger"
	"github.com/xiaonanln/hubgate/util/metrics"
	"github.com/xiaonanln/hubgate/util/uniqueid"
)

// ErrUnauthorized is returned by Admit when the handshake token does not
// match the shared secret.
var ErrUnauthorized = errors.New("unauthorized")

// Registry tracks admitted connections and which connection currently
// represents each hub id and reader id.
type Registry struct {
	name   string
	secret string
	logger *logger.Logger

	mu      sync.RWMutex
	clients map[string]*ClientProxy // connection id -> proxy
	hubs    map[string]*ClientProxy // hub id -> proxy
	readers map[string]*ClientProxy // reader id -> proxy
}

// NewRegistry creates an empty registry. An empty secret admits everyone.
func NewRegistry(name, secret string) *Registry {
	return &Registry{
		name:    name,
		secret:  secret,
		logger:  logger.NewLogger("Registry"),
		clients: make(map[string]*ClientProxy),
		hubs:    make(map[string]*ClientProxy),
		readers: make(map[string]*ClientProxy),
	}
}

// Authenticate reports whether token matches the shared secret.
func (r *Registry) Authenticate(token string) bool {
	if r.secret == "" {
		return true
	}
	if len(token) != len(r.secret) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(r.secret)) == 1
}

// Admit authenticates a handshake and registers a new proxy for it.
func (r *Registry) Admit(token, remoteAddr string) (*ClientProxy, error) {
	if !r.Authenticate(token) {
		metrics.RecordAuthRejected()
		r.logger.Warnf("Rejected connection from %s: bad token", remoteAddr)
		return nil, ErrUnauthorized
	}

	proxy := NewClientProxy(uniqueid.ConnectionID(r.name), remoteAddr)
	r.mu.Lock()
	r.clients[proxy.GetID()] = proxy
	r.mu.Unlock()

	metrics.RecordConnectionOpened()
	r.logger.Infof("Admitted connection %s from %s", proxy.GetID(), remoteAddr)
	return proxy, nil
}

// BindHub makes proxy the connection for hubID. The last bind wins.
func (r *Registry) BindHub(hubID string, proxy *ClientProxy) {
	r.bind(r.hubs, hubID, proxy)
}

// BindReader makes proxy the connection for readerID. The last bind wins.
func (r *Registry) BindReader(readerID string, proxy *ClientProxy) {
	r.bind(r.readers, readerID, proxy)
}

func (r *Registry) bind(m map[string]*ClientProxy, id string, proxy *ClientProxy) {
	if id == "" || proxy == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	// A proxy that was already removed must not be resurrected by a late message
	if r.clients[proxy.GetID()] != proxy {
		return
	}
	m[id] = proxy
}

// LookupHub returns the connection bound to hubID, or nil.
func (r *Registry) LookupHub(hubID string) *ClientProxy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.hubs[hubID]
}

// LookupReader returns the connection bound to readerID, or nil.
func (r *Registry) LookupReader(readerID string) *ClientProxy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.readers[readerID]
}

// Broadcast pushes msg to every admitted connection and returns how many
// accepted it. Per-connection failures are ignored.
func (r *Registry) Broadcast(msg []byte) int {
	r.mu.RLock()
	proxies := make([]*ClientProxy, 0, len(r.clients))
	for _, p := range r.clients {
		proxies = append(proxies, p)
	}
	r.mu.RUnlock()

	sent := 0
	for _, p := range proxies {
		if p.PushMessage(msg) {
			sent++
		}
	}
	return sent
}

// OnClose unregisters proxy and every hub or reader binding pointing at it,
// then closes it.
func (r *Registry) OnClose(proxy *ClientProxy) {
	r.mu.Lock()
	_, known := r.clients[proxy.GetID()]
	delete(r.clients, proxy.GetID())
	for id, p := range r.hubs {
		if p == proxy {
			delete(r.hubs, id)
		}
	}
	for id, p := range r.readers {
		if p == proxy {
			delete(r.readers, id)
		}
	}
	r.mu.Unlock()

	proxy.Close()
	if known {
		metrics.RecordConnectionClosed()
		r.logger.Infof("Connection %s closed", proxy.GetID())
	}
}

// Counts returns the number of admitted connections, bound hubs and bound readers.
func (r *Registry) Counts() (clients, hubs, readers int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients), len(r.hubs), len(r.readers)
}

// CloseAll closes every admitted connection.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	proxies := make([]*ClientProxy, 0, len(r.clients))
	for _, p := range r.clients {
		proxies = append(proxies, p)
	}
	r.mu.RUnlock()

	for _, p := range proxies {
		r.OnClose(p)
	}
}

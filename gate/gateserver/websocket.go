package gateserver

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/xiaonanln/hubgate/gate"
	"github.com/xiaonanln/hubgate/util/callcontext"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Hubs and readers are not browsers; the token is the access check.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWebSocket upgrades a hub or reader connection. The shared-secret
// token comes from the "token" query parameter or the X-Hub-Token header.
// A bad token gets a policy-violation close frame.
func (s *GateServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = r.Header.Get(gate.TokenHeader)
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnf("WebSocket upgrade from %s failed: %v", r.RemoteAddr, err)
		return
	}

	proxy, err := s.gate.Admit(token, r.RemoteAddr)
	if err != nil {
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unauthorized")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writePump(conn, proxy)
	}()

	s.readPump(r, conn, proxy)
	s.gate.Disconnect(proxy)
	<-writerDone
}

// readPump feeds inbound frames to the gate until the connection fails.
func (s *GateServer) readPump(r *http.Request, conn *websocket.Conn, proxy *gate.ClientProxy) {
	defer conn.Close()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	ctx := callcontext.WithOrigin(r.Context(), proxy.GetID())
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Warnf("Connection %s read error: %v", proxy.GetID(), err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		if msgType != websocket.TextMessage {
			s.logger.Debugf("Connection %s sent a non-text frame, ignoring", proxy.GetID())
			continue
		}
		s.gate.HandleMessage(ctx, proxy, data)
	}
}

// writePump drains the proxy's outbound frames to the socket and keeps the
// connection alive with pings. It sends a close frame once the proxy closes.
func (s *GateServer) writePump(conn *websocket.Conn, proxy *gate.ClientProxy) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case message, ok := <-proxy.MessageChan():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server closing"))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				s.logger.Debugf("Connection %s write failed: %v", proxy.GetID(), err)
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

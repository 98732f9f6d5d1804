package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/probelab/daplog/internal/infrastructure/config"
	"github.com/probelab/daplog/internal/infrastructure/logging"
	"github.com/probelab/daplog/internal/probe"
)

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// wsClient streams one port's log lines to one WebSocket connection.
type wsClient struct {
	server *Server
	conn   *websocket.Conn
	sub    *probe.Subscription
	logger *logging.Logger
	once   sync.Once
}

// handleWebSocket upgrades the connection and streams the port's log lines,
// one text message per line. Subscribing to an unknown or unplugged port
// succeeds and yields a silent stream that comes alive if the probe appears.
//
// GET /api/ws/{portID}
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	id, ok := s.portIDParam(w, r)
	if !ok {
		return
	}

	// Subscribe before completing the handshake so lines published the
	// moment the client sees the upgrade are not lost.
	sub := s.engine.Subscribe(id)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.engine.Unsubscribe(sub)
		s.logger.Error("websocket upgrade failed", "port", id, "error", err)
		return
	}

	client := &wsClient{
		server: s,
		conn:   conn,
		sub:    sub,
		logger: s.logger,
	}

	s.addClient(client)

	go client.writePump(s.wsCfg)
	go client.readPump(s.wsCfg)
}

// close tears the client down exactly once: unsubscribing stops writePump,
// closing the connection stops readPump.
func (c *wsClient) close() {
	c.once.Do(func() {
		c.server.engine.Unsubscribe(c.sub)
		c.conn.Close() //nolint:errcheck // Best-effort close of a dying connection

		c.server.removeClient(c)

		if dropped := c.sub.Dropped(); dropped > 0 {
			c.logger.Warn("websocket stream dropped lines on a slow client",
				"port", c.sub.Identity(), "dropped", dropped)
		}
		c.logger.Debug("websocket client disconnected", "port", c.sub.Identity())
	})
}

// readPump drains client messages. The stream is one-way, but reading is
// what surfaces pong frames and connection closure.
func (c *wsClient) readPump(cfg config.WebSocketConfig) {
	defer c.close()

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	pongWait := time.Duration(cfg.PongTimeout) * time.Second
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket read error", "port", c.sub.Identity(), "error", err)
			}
			return
		}
		// Any client message resets the read deadline (keeps connection alive
		// even if browser doesn't respond to protocol-level pings).
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	}
}

// writePump forwards lines from the subscription to the connection and sends
// periodic pings.
func (c *wsClient) writePump(cfg config.WebSocketConfig) {
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	pongWait := time.Duration(cfg.PongTimeout) * time.Second

	for {
		select {
		case line, ok := <-c.sub.Lines():
			if !ok {
				// Unsubscribed during shutdown
				//nolint:errcheck // Best-effort close message
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

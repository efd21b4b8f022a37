package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/spec-kit/support-relay/internal/ratelimit"
	"github.com/spec-kit/support-relay/internal/relay"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// Outbound frame buffer per connection; pushes beyond it are dropped.
	sendBuffer = 64

	maxFrameSize = 64 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type messageData struct {
	Text        string `json:"text"`
	DisplayName string `json:"display_name,omitempty"`
}

// Gateway upgrades widget connections and pumps frames between the socket
// and the relay.
type Gateway struct {
	manager *Manager
	relay   *relay.Relay
	limiter *ratelimit.Limiter
	logger  *zap.Logger
}

// NewGateway constructs the gateway.
func NewGateway(manager *Manager, r *relay.Relay, limiter *ratelimit.Limiter, logger *zap.Logger) *Gateway {
	return &Gateway{manager: manager, relay: r, limiter: limiter, logger: logger}
}

// wsConn adapts a gorilla connection to the manager's Socket through a
// buffered send channel so fan-out never writes concurrently.
type wsConn struct {
	conn *websocket.Conn
	send chan Frame
	done chan struct{}
}

func (c *wsConn) Send(frame Frame) error {
	select {
	case c.send <- frame:
		return nil
	case <-c.done:
		return websocket.ErrCloseSent
	default:
		// Slow consumer; dropping is acceptable, durable history covers it.
		return nil
	}
}

func (c *wsConn) Close() error {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
	return c.conn.Close()
}

// Handler returns the HTTP handler for GET /ws.
func (g *Gateway) Handler() http.Handler {
	return http.HandlerFunc(g.serve)
}

func (g *Gateway) serve(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if !ValidSessionID(sessionID) {
		http.Error(w, "invalid session_id", http.StatusBadRequest)
		return
	}
	if result := g.limiter.CheckAddress(r.Context(), r.RemoteAddr); !result.Allowed {
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return
	}

	raw, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	conn := &wsConn{
		conn: raw,
		send: make(chan Frame, sendBuffer),
		done: make(chan struct{}),
	}
	connID := g.manager.Register(sessionID, conn)

	// Optional single-use link token binds the session to an existing
	// ticket. A bad token leaves the session unlinked but connected.
	if token := r.URL.Query().Get("link_token"); token != "" {
		if _, err := g.manager.LinkWithToken(r.Context(), sessionID, token); err != nil {
			g.logger.Info("link token rejected", zap.String("session_id", sessionID), zap.Error(err))
			_ = conn.Send(Frame{Type: "error", Data: map[string]any{"code": "INVALID_TOKEN"}})
		}
	}

	// The request context dies when this handler returns; the pumps outlive
	// it, so they run on their own context.
	go g.writePump(conn)
	go g.readPump(context.Background(), connID, sessionID, conn)
}

func (g *Gateway) writePump(conn *wsConn) {
	ticker := time.NewTicker(g.manager.heartbeat)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case <-conn.done:
			return
		case frame := <-conn.send:
			_ = conn.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.conn.WriteJSON(frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.conn.WriteJSON(Frame{Type: "ping"}); err != nil {
				return
			}
		}
	}
}

func (g *Gateway) readPump(ctx context.Context, connID, sessionID string, conn *wsConn) {
	defer g.manager.Unregister(connID)
	conn.conn.SetReadLimit(maxFrameSize)

	for {
		var frame struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		if err := conn.conn.ReadJSON(&frame); err != nil {
			return
		}
		g.manager.Touch(connID)

		switch frame.Type {
		case "pong":
			// Touch above already recorded liveness.
		case "typing":
			if ticketID, ok := g.manager.TicketFor(sessionID); ok {
				g.relay.NotifyTyping(ticketID)
			}
		case "message":
			g.handleMessage(ctx, sessionID, conn, frame.Data)
		case "close":
			g.handleClose(ctx, sessionID, conn)
		default:
			_ = conn.Send(Frame{Type: "error", Data: map[string]any{"code": "VALIDATION_FAILED", "message": "unknown frame type"}})
		}
	}
}

func (g *Gateway) handleMessage(ctx context.Context, sessionID string, conn *wsConn, raw json.RawMessage) {
	var data messageData
	if err := json.Unmarshal(raw, &data); err != nil || data.Text == "" {
		_ = conn.Send(Frame{Type: "error", Data: map[string]any{"code": "VALIDATION_FAILED", "message": "message text required"}})
		return
	}

	ticketID, linked := g.manager.TicketFor(sessionID)
	if !linked {
		ticket, err := g.relay.OpenWebTicket(ctx, sessionID, data.DisplayName, data.Text)
		if err != nil {
			_ = conn.Send(Frame{Type: "error", Data: map[string]any{"code": "UPSTREAM_UNAVAILABLE", "message": "could not open ticket, try again"}})
			return
		}
		g.manager.BindTicket(sessionID, ticket.ID)
		_ = conn.Send(Frame{Type: "channel_linked", Data: map[string]any{"ticket_id": ticket.ID}})
		_ = conn.Send(Frame{Type: "message", Data: map[string]any{"delivered": true}})
		return
	}

	// Acknowledge only after the platform-side send resolves so the widget
	// can render delivery state.
	if err := g.relay.HandleWebMessage(ctx, ticketID, data.Text); err != nil {
		_ = conn.Send(Frame{Type: "message", Data: map[string]any{"delivered": false}})
		return
	}
	_ = conn.Send(Frame{Type: "message", Data: map[string]any{"delivered": true}})
}

func (g *Gateway) handleClose(ctx context.Context, sessionID string, conn *wsConn) {
	ticketID, linked := g.manager.TicketFor(sessionID)
	if !linked {
		return
	}
	ticket, err := g.relay.TicketIdentity(ctx, ticketID)
	if err != nil {
		_ = conn.Send(Frame{Type: "error", Data: map[string]any{"code": "NOT_FOUND"}})
		return
	}
	if err := g.relay.ResolveByCustomer(ctx, ticketID, ticket); err != nil {
		_ = conn.Send(Frame{Type: "error", Data: map[string]any{"code": "VALIDATION_FAILED", "message": "could not close ticket"}})
	}
}

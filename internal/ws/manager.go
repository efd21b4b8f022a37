package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/support-relay/internal/domain"
	"github.com/spec-kit/support-relay/internal/repository"
	"github.com/spec-kit/support-relay/pkg/util"
)

// Frame is the JSON envelope exchanged with widget clients.
// Client to server types: message, typing, close, pong.
// Server to client types: connected, message, typing, status,
// channel_linked, error, ping.
type Frame struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Socket is one live client connection. Implemented by the gateway's
// connection wrapper; fakes implement it in tests.
type Socket interface {
	Send(frame Frame) error
	Close() error
}

type connection struct {
	id        string
	sessionID string
	sock      Socket
	lastSeen  time.Time
}

// Manager tracks live web-chat connections, their session-to-ticket
// bindings, and per-connection liveness. Pushes fan out to every socket
// currently registered for a session; with none registered the push is
// dropped (offline delivery relies on durable history at reconnect).
type Manager struct {
	tokens repository.LinkTokenRepository
	logger *zap.Logger

	heartbeat      time.Duration
	deadMultiplier int

	mu             sync.RWMutex
	conns          map[string]*connection
	bySession      map[string]map[string]*connection
	sessionTicket  map[string]string
	ticketSessions map[string]map[string]struct{}
}

// NewManager constructs the manager.
func NewManager(tokens repository.LinkTokenRepository, heartbeat time.Duration, deadMultiplier int, logger *zap.Logger) *Manager {
	if deadMultiplier < 2 {
		deadMultiplier = 2
	}
	return &Manager{
		tokens:         tokens,
		logger:         logger,
		heartbeat:      heartbeat,
		deadMultiplier: deadMultiplier,
		conns:          make(map[string]*connection),
		bySession:      make(map[string]map[string]*connection),
		sessionTicket:  make(map[string]string),
		ticketSessions: make(map[string]map[string]struct{}),
	}
}

// Register adds a socket for a validated session and returns the connection
// handle. The caller has already validated the session identifier.
func (m *Manager) Register(sessionID string, sock Socket) string {
	connID := uuid.NewString()
	conn := &connection{
		id:        connID,
		sessionID: sessionID,
		sock:      sock,
		lastSeen:  time.Now(),
	}

	m.mu.Lock()
	m.conns[connID] = conn
	if m.bySession[sessionID] == nil {
		m.bySession[sessionID] = make(map[string]*connection)
	}
	m.bySession[sessionID][connID] = conn
	m.mu.Unlock()

	if err := sock.Send(Frame{Type: "connected", Data: map[string]any{"session_id": sessionID}}); err != nil {
		m.logger.Debug("connected frame failed", zap.String("session_id", sessionID), zap.Error(err))
	}
	return connID
}

// Unregister removes a connection. When it was the session's last one the
// session's ticket binding is released too; a returning visitor relinks
// with a fresh token or starts over.
func (m *Manager) Unregister(connID string) {
	m.mu.Lock()
	conn, ok := m.conns[connID]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.conns, connID)
	if peers := m.bySession[conn.sessionID]; peers != nil {
		delete(peers, connID)
		if len(peers) == 0 {
			delete(m.bySession, conn.sessionID)
			m.unbindLocked(conn.sessionID)
		}
	}
	m.mu.Unlock()
	_ = conn.sock.Close()
}

// unbindLocked drops the session's ticket binding. Caller holds mu.
func (m *Manager) unbindLocked(sessionID string) {
	ticketID, ok := m.sessionTicket[sessionID]
	if !ok {
		return
	}
	delete(m.sessionTicket, sessionID)
	if sessions := m.ticketSessions[ticketID]; sessions != nil {
		delete(sessions, sessionID)
		if len(sessions) == 0 {
			delete(m.ticketSessions, ticketID)
		}
	}
}

// Touch records activity on a connection (any inbound frame).
func (m *Manager) Touch(connID string) {
	m.mu.Lock()
	if conn, ok := m.conns[connID]; ok {
		conn.lastSeen = time.Now()
	}
	m.mu.Unlock()
}

// LinkWithToken binds a session to the ticket behind a single-use link
// token. An expired or already-consumed token fails with INVALID_TOKEN and
// the session stays unlinked; it can still originate a brand-new ticket.
func (m *Manager) LinkWithToken(ctx context.Context, sessionID, tokenStr string) (string, error) {
	token, err := m.tokens.FindValidByToken(ctx, tokenStr)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", util.NewInvalidToken("link token expired or already used")
	}
	if err != nil {
		return "", util.NewUpstreamUnavailable("token store", err)
	}
	// The conditional update is the arbiter when two sessions race past the
	// validity read: exactly one MarkUsed affects a row.
	if err := m.tokens.MarkUsed(ctx, token.ID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", util.NewInvalidToken("link token expired or already used")
		}
		return "", util.NewUpstreamUnavailable("token store", err)
	}

	m.BindTicket(sessionID, token.TicketID)
	m.pushToSession(sessionID, Frame{Type: "channel_linked", Data: map[string]any{"ticket_id": token.TicketID}})
	return token.TicketID, nil
}

// BindTicket binds a session to a ticket directly (used when an unlinked
// session originates a new ticket).
func (m *Manager) BindTicket(sessionID, ticketID string) {
	m.mu.Lock()
	m.unbindLocked(sessionID)
	m.sessionTicket[sessionID] = ticketID
	if m.ticketSessions[ticketID] == nil {
		m.ticketSessions[ticketID] = make(map[string]struct{})
	}
	m.ticketSessions[ticketID][sessionID] = struct{}{}
	m.mu.Unlock()
}

// TicketFor returns the ticket a session is bound to.
func (m *Manager) TicketFor(sessionID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ticketID, ok := m.sessionTicket[sessionID]
	return ticketID, ok
}

// PushMessage fans a relayed message out to every socket bound to the ticket.
func (m *Manager) PushMessage(ticketID, text string) {
	m.pushToTicket(ticketID, Frame{Type: "message", Data: map[string]any{"text": text}})
}

// PushStatus fans a status change out to every socket bound to the ticket.
func (m *Manager) PushStatus(ticketID string, status domain.TicketStatus) {
	m.pushToTicket(ticketID, Frame{Type: "status", Data: map[string]any{"status": string(status)}})
}

// PushTyping fans a typing signal out to every socket bound to the ticket.
func (m *Manager) PushTyping(ticketID string) {
	m.pushToTicket(ticketID, Frame{Type: "typing"})
}

func (m *Manager) pushToTicket(ticketID string, frame Frame) {
	m.mu.RLock()
	var targets []*connection
	for sessionID := range m.ticketSessions[ticketID] {
		for _, conn := range m.bySession[sessionID] {
			targets = append(targets, conn)
		}
	}
	m.mu.RUnlock()

	for _, conn := range targets {
		if err := conn.sock.Send(frame); err != nil {
			m.logger.Debug("push failed",
				zap.String("ticket_id", ticketID),
				zap.String("conn_id", conn.id),
				zap.Error(err))
		}
	}
}

func (m *Manager) pushToSession(sessionID string, frame Frame) {
	m.mu.RLock()
	var targets []*connection
	for _, conn := range m.bySession[sessionID] {
		targets = append(targets, conn)
	}
	m.mu.RUnlock()

	for _, conn := range targets {
		if err := conn.sock.Send(frame); err != nil {
			m.logger.Debug("session push failed",
				zap.String("session_id", sessionID),
				zap.String("conn_id", conn.id),
				zap.Error(err))
		}
	}
}

// StartReaper periodically removes connections silent beyond the configured
// multiple of the heartbeat interval.
func (m *Manager) StartReaper(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(m.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.reap()
			}
		}
	}()
}

func (m *Manager) reap() {
	deadline := time.Now().Add(-time.Duration(m.deadMultiplier) * m.heartbeat)

	m.mu.RLock()
	var dead []string
	for connID, conn := range m.conns {
		if conn.lastSeen.Before(deadline) {
			dead = append(dead, connID)
		}
	}
	m.mu.RUnlock()

	for _, connID := range dead {
		m.logger.Info("reaping dead connection", zap.String("conn_id", connID))
		m.Unregister(connID)
	}
}

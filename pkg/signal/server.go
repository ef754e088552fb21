package signal

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	roleHost  = "host"
	roleGuest = "guest"

	// maxCodeAttempts bounds collision retries when allocating a session code.
	maxCodeAttempts = 16
)

// Client represents a connected WebSocket client
type Client struct {
	id      string
	owner   string
	conn    *websocket.Conn
	send    chan []byte
	done    chan struct{}
	server  *Server
	session string
	role    string
}

// Session pairs a host with at most one guest
type Session struct {
	code      string
	tag       string
	host      *Client
	guest     *Client
	createdAt time.Time
}

// Server manages WebSocket connections and routes messages between the two
// parties of each session. It does not interpret SDP or ICE payloads.
type Server struct {
	sessions map[string]*Session
	mu       sync.Mutex
	upgrader websocket.Upgrader
	store    Store
	logger   *slog.Logger
}

// ServerOptions configures a Server. A nil Store keeps records in memory.
type ServerOptions struct {
	Store       Store
	Logger      *slog.Logger
	CheckOrigin func(r *http.Request) bool
}

// NewServer creates a new signaling server
func NewServer(opts ServerOptions) *Server {
	store := opts.Store
	if store == nil {
		store = NewMemoryStore()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	checkOrigin := opts.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}
	return &Server{
		sessions: make(map[string]*Session),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
		store:  store,
		logger: logger.With("component", "relay"),
	}
}

type ownerKey struct{}

// WithOwner attaches the authenticated user that opened a connection.
func WithOwner(ctx context.Context, owner string) context.Context {
	return context.WithValue(ctx, ownerKey{}, owner)
}

// OwnerFrom returns the user attached by WithOwner, or "".
func OwnerFrom(ctx context.Context) string {
	owner, _ := ctx.Value(ownerKey{}).(string)
	return owner
}

// HandleWebSocket upgrades the request and serves one relay client.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		id:     uuid.NewString(),
		owner:  OwnerFrom(r.Context()),
		conn:   conn,
		send:   make(chan []byte, 256),
		done:   make(chan struct{}),
		server: s,
	}
	s.logger.Debug("client connected", "client", client.id, "owner", client.owner)

	go client.writePump()
	go client.readPump()
}

// SessionCount returns the number of live sessions.
func (s *Server) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Store returns the session record store.
func (s *Server) Store() Store { return s.store }

// allocateCode picks a code unused both locally and in the store.
func (s *Server) allocateCode(ctx context.Context) (string, error) {
	var lastErr error
	for i := 0; i < maxCodeAttempts; i++ {
		code, err := GenerateSessionCode()
		if err != nil {
			return "", err
		}
		s.mu.Lock()
		_, local := s.sessions[code]
		s.mu.Unlock()
		if local {
			continue
		}
		exists, err := s.store.Exists(ctx, code)
		if err != nil {
			lastErr = err
			continue
		}
		if !exists {
			return code, nil
		}
	}
	if lastErr != nil {
		return "", lastErr
	}
	return "", errCodeSpaceExhausted
}

// removeClient tears down whatever session the client belonged to.
func (s *Server) removeClient(client *Client) {
	s.mu.Lock()
	session, exists := s.sessions[client.session]
	if !exists {
		s.mu.Unlock()
		return
	}

	var notify *Client
	var msgType MessageType
	switch {
	case session.host == client:
		notify, msgType = session.guest, TypeHostDisconnected
	case session.guest == client:
		notify, msgType = session.host, TypePeerDisconnected
	default:
		s.mu.Unlock()
		return
	}
	s.dropSessionLocked(session)
	s.mu.Unlock()

	s.forget(session.code)
	s.logger.Info("participant disconnected", "session", session.code, "client", client.id)
	if notify != nil {
		notify.sendMessage(msgType, SessionRef{SessionID: session.code})
	}
}

// dropSessionLocked unlinks both parties from session. s.mu must be held.
func (s *Server) dropSessionLocked(session *Session) {
	delete(s.sessions, session.code)
	if session.host != nil {
		session.host.session, session.host.role = "", ""
	}
	if session.guest != nil {
		session.guest.session, session.guest.role = "", ""
	}
}

func (s *Server) forget(code string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.Delete(ctx, code); err != nil {
		s.logger.Warn("failed to delete session record", "session", code, "error", err)
	}
}

// sendMessage queues a message without blocking. A full buffer drops it.
func (c *Client) sendMessage(t MessageType, payload any) {
	msg, err := NewMessage(t, payload)
	if err != nil {
		c.server.logger.Error("encode message", "type", t, "error", err)
		return
	}
	data, _ := json.Marshal(msg)
	c.sendRaw(data)
}

func (c *Client) sendRaw(data []byte) {
	select {
	case <-c.done:
	case c.send <- data:
	default:
		c.server.logger.Warn("client buffer full, dropping message", "client", c.id)
	}
}

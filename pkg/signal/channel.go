package signal

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tomaslejdung/superdesk/pkg/fault"
	"github.com/tomaslejdung/superdesk/pkg/pubsub"
)

const (
	// DefaultReconnectAttempts bounds automatic reconnection after a drop.
	DefaultReconnectAttempts = 5
	// DefaultReconnectDelay is the fixed wait between reconnection attempts.
	DefaultReconnectDelay = time.Second

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Handler receives one inbound message.
type Handler func(Message)

// Subscriber registers handlers for inbound message types.
type Subscriber interface {
	Subscribe(t MessageType, h Handler) (unsubscribe func())
}

// On subscribes fn to messages of type t, decoding and validating each payload
// into T. Payloads that fail validation are logged and dropped.
func On[T any](s Subscriber, t MessageType, fn func(T)) (unsubscribe func()) {
	return s.Subscribe(t, func(m Message) {
		var v T
		if err := m.Decode(&v); err != nil {
			slog.Default().Warn("dropping signaling message", "type", t, "error", err)
			return
		}
		fn(v)
	})
}

// ChannelOptions tunes a Channel. Zero values select the defaults.
type ChannelOptions struct {
	Header            http.Header
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	Dialer            *websocket.Dialer
	Logger            *slog.Logger
}

// Channel is a client connection to the relay. Inbound messages are delivered
// to subscribers in arrival order from a single goroutine.
type Channel struct {
	url    string
	opts   ChannelOptions
	logger *slog.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	done      chan struct{}

	writeMu sync.Mutex

	handlers    pubsub.Topics[MessageType, Handler]
	disconnects pubsub.List[func(error)]
}

// NewChannel returns an unconnected channel to the relay at url (ws:// or wss://).
func NewChannel(url string, opts ChannelOptions) *Channel {
	if opts.ReconnectAttempts <= 0 {
		opts.ReconnectAttempts = DefaultReconnectAttempts
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.Dialer == nil {
		opts.Dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{url: url, opts: opts, logger: logger.With("component", "signal")}
}

// URL returns the relay address.
func (c *Channel) URL() string { return c.url }

// Connect dials the relay. It returns once the initial connection succeeds;
// later drops are retried in the background and reported only through
// OnDisconnect once retries are exhausted.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	conn, err := c.dial(ctx)
	if err != nil {
		return fault.New(fault.Transport, "signal.connect", err)
	}

	c.mu.Lock()
	if c.connected {
		// Lost a race with a concurrent Connect.
		c.mu.Unlock()
		conn.Close()
		return nil
	}
	c.conn = conn
	c.connected = true
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	c.logger.Info("connected to relay", "url", c.url)
	go c.readLoop(conn, done)
	go c.pingLoop(done)
	return nil
}

func (c *Channel) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, resp, err := c.opts.Dialer.DialContext(ctx, c.url, c.opts.Header)
	if err != nil {
		if resp != nil {
			return nil, errors.Join(err, errors.New(resp.Status))
		}
		return nil, err
	}
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	return conn, nil
}

// readLoop reads frames until the connection fails, then reconnects.
func (c *Channel) readLoop(conn *websocket.Conn, done chan struct{}) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-done:
				return
			default:
			}
			c.logger.Warn("relay connection lost", "error", err)
			next, ok := c.reconnect(done)
			if !ok {
				return
			}
			conn = next
			continue
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("invalid message format", "error", err)
			continue
		}
		c.dispatch(msg)
	}
}

// reconnect retries the dial with a fixed delay. On success the new
// connection replaces the old one.
func (c *Channel) reconnect(done chan struct{}) (*websocket.Conn, bool) {
	var lastErr error
	for attempt := 1; attempt <= c.opts.ReconnectAttempts; attempt++ {
		select {
		case <-done:
			return nil, false
		case <-time.After(c.opts.ReconnectDelay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.opts.Dialer.HandshakeTimeout+time.Second)
		conn, err := c.dial(ctx)
		cancel()
		if err != nil {
			lastErr = err
			c.logger.Debug("reconnect attempt failed", "attempt", attempt, "error", err)
			continue
		}

		c.mu.Lock()
		select {
		case <-done:
			c.mu.Unlock()
			conn.Close()
			return nil, false
		default:
		}
		c.conn = conn
		c.mu.Unlock()
		c.logger.Info("reconnected to relay", "attempt", attempt)
		return conn, true
	}

	c.mu.Lock()
	if c.done == done {
		c.connected = false
		c.conn = nil
		close(done)
		c.done = nil
	}
	c.mu.Unlock()

	err := fault.Newf(fault.Transport, "signal.reconnect",
		"gave up after %d attempts: %v", c.opts.ReconnectAttempts, lastErr)
	c.logger.Error("relay unreachable", "error", err)
	for _, fn := range c.disconnects.Snapshot() {
		fn(err)
	}
	return nil, false
}

func (c *Channel) pingLoop(done chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()
			if conn == nil {
				continue
			}
			c.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				c.logger.Debug("ping failed", "error", err)
			}
		}
	}
}

func (c *Channel) dispatch(msg Message) {
	handlers := c.handlers.Snapshot(msg.Type)
	if len(handlers) == 0 {
		c.logger.Debug("unhandled message", "type", msg.Type)
		return
	}
	for _, h := range handlers {
		h(msg)
	}
}

// Subscribe registers h for messages of type t. Any number of handlers may be
// registered per type; each is called in registration order.
func (c *Channel) Subscribe(t MessageType, h Handler) (unsubscribe func()) {
	return c.handlers.Add(t, h)
}

// OnDisconnect registers fn to be called once reconnection has been exhausted.
func (c *Channel) OnDisconnect(fn func(error)) (unsubscribe func()) {
	return c.disconnects.Add(fn)
}

// IsConnected reports whether the transport is currently up.
func (c *Channel) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Disconnect closes the transport. Sends are no-ops until Connect is called again.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	conn := c.conn
	if c.done != nil {
		close(c.done)
		c.done = nil
	}
	c.conn = nil
	c.connected = false
	c.mu.Unlock()

	if conn != nil {
		c.writeMu.Lock()
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		conn.Close()
		c.logger.Info("disconnected from relay")
	}
}

// Send writes one message. Frames go out in call order.
func (c *Channel) Send(t MessageType, payload any) error {
	msg, err := NewMessage(t, payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		c.logger.Debug("not connected, dropping send", "type", t)
		return nil
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(msg); err != nil {
		return fault.New(fault.Transport, "signal.send", err)
	}
	return nil
}

// CreateSession asks the relay for a new session. tag labels the device.
func (c *Channel) CreateSession(tag string) error {
	return c.Send(TypeCreateSession, CreateSession{Tag: tag})
}

// JoinSession asks to join session id as guest.
func (c *Channel) JoinSession(id string) error {
	return c.Send(TypeJoinSession, SessionRef{SessionID: id})
}

// EndSession ends a hosted session on the relay.
func (c *Channel) EndSession(id string) error {
	return c.Send(TypeEndSession, SessionRef{SessionID: id})
}

// LeaveSession leaves a joined session as guest.
func (c *Channel) LeaveSession(id string) error {
	return c.Send(TypeLeaveSession, SessionRef{SessionID: id})
}

// SendOffer relays an offer to the other party of session id.
func (c *Channel) SendOffer(id string, sdp SessionDescription) error {
	return c.Send(TypeOffer, Description{SessionID: id, SDP: sdp})
}

// SendAnswer relays an answer to the other party of session id.
func (c *Channel) SendAnswer(id string, sdp SessionDescription) error {
	return c.Send(TypeAnswer, Description{SessionID: id, SDP: sdp})
}

// SendIceCandidate relays a local ICE candidate to the other party of session id.
func (c *Channel) SendIceCandidate(id string, candidate IceCandidate) error {
	return c.Send(TypeICECandidate, Candidate{SessionID: id, Candidate: candidate})
}

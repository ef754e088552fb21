package signal

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"
)

var errCodeSpaceExhausted = errors.New("could not allocate a free session code")

// readPump reads messages from the WebSocket
func (c *Client) readPump() {
	defer func() {
		close(c.done)
		c.server.removeClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.server.logger.Warn("websocket error", "client", c.id, "error", err)
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.server.logger.Warn("invalid message format", "client", c.id, "error", err)
			continue
		}

		c.handleMessage(msg, data)
	}
}

// writePump sends queued messages and keeps the connection alive with pings
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.server.logger.Debug("websocket write error", "client", c.id, "error", err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage processes incoming signaling messages
func (c *Client) handleMessage(msg Message, raw []byte) {
	switch msg.Type {
	case TypeCreateSession:
		c.handleCreate(msg)
	case TypeJoinSession:
		c.handleJoin(msg)
	case TypeEndSession:
		c.handleEnd(msg)
	case TypeLeaveSession:
		c.handleLeave(msg)
	case TypeOffer, TypeAnswer, TypeICECandidate:
		c.forwardToPeer(msg, raw)
	default:
		c.server.logger.Debug("unknown message type", "client", c.id, "type", msg.Type)
		c.sendMessage(TypeError, ErrorPayload{Message: "unknown message type " + string(msg.Type)})
	}
}

// handleCreate registers a new session with this client as host
func (c *Client) handleCreate(msg Message) {
	var req CreateSession
	if err := msg.Decode(&req); err != nil {
		c.sendMessage(TypeError, ErrorPayload{Message: err.Error()})
		return
	}

	s := c.server
	s.mu.Lock()
	busy := c.session != ""
	s.mu.Unlock()
	if busy {
		c.sendMessage(TypeError, ErrorPayload{Message: "already in a session"})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	code, err := s.allocateCode(ctx)
	if err != nil {
		s.logger.Error("allocate session code", "error", err)
		c.sendMessage(TypeError, ErrorPayload{Message: "could not create session"})
		return
	}

	session := &Session{code: code, tag: req.Tag, host: c, createdAt: time.Now()}
	s.mu.Lock()
	s.sessions[code] = session
	c.session, c.role = code, roleHost
	s.mu.Unlock()

	record := SessionRecord{
		Code:      code,
		Tag:       req.Tag,
		Owner:     c.owner,
		HostID:    c.id,
		CreatedAt: session.createdAt,
	}
	if err := s.store.Put(ctx, record); err != nil {
		s.logger.Warn("failed to store session record", "session", code, "error", err)
	}

	s.logger.Info("session created", "session", code, "tag", req.Tag, "owner", c.owner)
	c.sendMessage(TypeSessionCreated, SessionCreated{SessionID: code})
}

// handleJoin attaches this client as the guest of an existing session
func (c *Client) handleJoin(msg Message) {
	var req SessionRef
	if err := msg.Decode(&req); err != nil {
		c.sendMessage(TypeSessionJoined, SessionJoined{Success: false, Reason: err.Error()})
		return
	}
	code := NormalizeSessionCode(req.SessionID)

	s := c.server
	s.mu.Lock()
	session, exists := s.sessions[code]
	var reason string
	switch {
	case c.session != "":
		reason = "already in a session"
	case !exists:
		reason = "session not found"
	case session.guest != nil:
		reason = "session full"
	}
	if reason != "" {
		s.mu.Unlock()
		s.logger.Info("join rejected", "session", code, "reason", reason)
		c.sendMessage(TypeSessionJoined, SessionJoined{Success: false, SessionID: code, Reason: reason})
		return
	}
	session.guest = c
	c.session, c.role = code, roleGuest
	host := session.host
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if record, err := s.store.Get(ctx, code); err == nil {
		record.GuestID = c.id
		if err := s.store.Put(ctx, record); err != nil {
			s.logger.Warn("failed to update session record", "session", code, "error", err)
		}
	}

	s.logger.Info("guest joined", "session", code, "guest", c.id)
	c.sendMessage(TypeSessionJoined, SessionJoined{Success: true, SessionID: code})
	host.sendMessage(TypeGuestJoined, GuestJoined{GuestID: c.id, SessionID: code})
}

// handleEnd closes a session at the host's request
func (c *Client) handleEnd(msg Message) {
	var req SessionRef
	if err := msg.Decode(&req); err != nil {
		return
	}

	s := c.server
	s.mu.Lock()
	session, exists := s.sessions[NormalizeSessionCode(req.SessionID)]
	if !exists || session.host != c {
		s.mu.Unlock()
		return
	}
	guest := session.guest
	s.dropSessionLocked(session)
	s.mu.Unlock()

	s.forget(session.code)
	s.logger.Info("session ended", "session", session.code)
	if guest != nil {
		guest.sendMessage(TypeSessionEnded, SessionRef{SessionID: session.code})
	}
}

// handleLeave detaches the guest and ends the session for the host
func (c *Client) handleLeave(msg Message) {
	var req SessionRef
	if err := msg.Decode(&req); err != nil {
		return
	}

	s := c.server
	s.mu.Lock()
	session, exists := s.sessions[NormalizeSessionCode(req.SessionID)]
	if !exists || session.guest != c {
		s.mu.Unlock()
		return
	}
	host := session.host
	s.dropSessionLocked(session)
	s.mu.Unlock()

	s.forget(session.code)
	s.logger.Info("guest left", "session", session.code)
	host.sendMessage(TypePeerDisconnected, SessionRef{SessionID: session.code})
}

// forwardToPeer relays a negotiation message unchanged to the other party
func (c *Client) forwardToPeer(msg Message, raw []byte) {
	var ref SessionRef
	if err := json.Unmarshal(msg.Payload, &ref); err != nil || ref.SessionID == "" {
		c.sendMessage(TypeError, ErrorPayload{Message: "missing sessionId"})
		return
	}

	s := c.server
	s.mu.Lock()
	session, exists := s.sessions[NormalizeSessionCode(ref.SessionID)]
	var peer *Client
	if exists {
		switch c {
		case session.host:
			peer = session.guest
		case session.guest:
			peer = session.host
		}
	}
	s.mu.Unlock()

	if peer == nil {
		s.logger.Debug("no peer to forward to", "session", ref.SessionID, "type", msg.Type)
		return
	}
	peer.sendRaw(raw)
}

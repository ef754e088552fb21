// Package session is the single source of truth for which session this device
// is in, as what role, with which peer.
package session

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/tomaslejdung/superdesk/pkg/fault"
	"github.com/tomaslejdung/superdesk/pkg/pubsub"
	"github.com/tomaslejdung/superdesk/pkg/signal"
)

// DefaultTag labels sessions created by this client.
const DefaultTag = "desktop"

// Signaling is the relay channel as the manager uses it.
type Signaling interface {
	signal.Subscriber
	Connect(ctx context.Context) error
	IsConnected() bool
	CreateSession(tag string) error
	JoinSession(id string) error
	EndSession(id string) error
	LeaveSession(id string) error
	OnDisconnect(fn func(error)) (unsubscribe func())
}

// Options configures a Manager.
type Options struct {
	// Tag labels created sessions on the relay. Empty uses DefaultTag.
	Tag    string
	Logger *slog.Logger
}

// Manager runs the session state machine. State changes only through its
// operations and the relay events it subscribes to.
type Manager struct {
	signaling Signaling
	tag       string
	logger    *slog.Logger

	mu    sync.Mutex
	state State
	// gen changes whenever a session starts or is torn down; work that
	// started under an older generation is discarded.
	gen  uint64
	peer io.Closer
	// joinCode is the code requested while Joining.
	joinCode string

	pending    []change
	delivering bool

	subscribers pubsub.List[func(cur, prev State)]
	listeners   pubsub.Topics[EventKind, func(Event)]
	unsubscribe []func()
}

// NewManager returns an idle manager listening to signaling.
func NewManager(signaling Signaling, opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tag := opts.Tag
	if tag == "" {
		tag = DefaultTag
	}
	m := &Manager{
		signaling: signaling,
		tag:       tag,
		logger:    logger.With("component", "session"),
	}
	m.unsubscribe = []func(){
		signal.On(signaling, signal.TypeSessionCreated, m.handleSessionCreated),
		signal.On(signaling, signal.TypeSessionJoined, m.handleSessionJoined),
		signal.On(signaling, signal.TypeGuestJoined, m.handleGuestJoined),
		signal.On(signaling, signal.TypePeerDisconnected, m.handlePeerDisconnected),
		signal.On(signaling, signal.TypeHostDisconnected, m.handleHostDisconnected),
		signal.On(signaling, signal.TypeSessionEnded, m.handleSessionEnded),
		signal.On(signaling, signal.TypeError, m.handleRelayError),
		signaling.OnDisconnect(m.handleTransportLost),
	}
	return m
}

// Close detaches the manager from signaling. It does not end the session.
func (m *Manager) Close() {
	m.mu.Lock()
	unsubs := m.unsubscribe
	m.unsubscribe = nil
	m.mu.Unlock()
	for _, fn := range unsubs {
		fn()
	}
}

// Subscribe registers fn to be called with (new, previous) on every state change.
func (m *Manager) Subscribe(fn func(cur, prev State)) (unsubscribe func()) {
	return m.subscribers.Add(fn)
}

// On registers fn for events of kind k. Listeners run synchronously in
// registration order.
func (m *Manager) On(k EventKind, fn func(Event)) (unsubscribe func()) {
	return m.listeners.Add(k, fn)
}

// State returns a snapshot of the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// SessionID returns the current session code, or "".
func (m *Manager) SessionID() string { return m.State().SessionID }

// Role returns this device's role.
func (m *Manager) Role() Role { return m.State().Role }

// PeerID returns the connected peer, or "".
func (m *Manager) PeerID() string { return m.State().PeerID }

// IsConnected reports whether a session is active.
func (m *Manager) IsConnected() bool {
	s := m.State()
	return s.Active && s.SessionID != ""
}

// AttachPeer hands the manager the peer connection for the current session so
// it is closed when the session is torn down. A previously attached peer is
// closed first. Without an active session peer is closed right away.
func (m *Manager) AttachPeer(peer io.Closer) {
	m.mu.Lock()
	active := m.state.Active
	old := m.peer
	if active {
		m.peer = peer
	}
	m.mu.Unlock()
	if old != nil && old != peer && active {
		old.Close()
	}
	if !active {
		m.logger.Debug("closing peer attached after teardown")
		peer.Close()
	}
}

// change is a state transition waiting to be delivered to subscribers.
type change struct{ cur, prev State }

// update runs fn on a copy of the state under the lock. When fn returns true
// and the copy differs, it is stored and subscribers are notified. The check
// and the mutation happen in one critical section, so fn sees the state it
// replaces.
func (m *Manager) update(fn func(s *State) bool) (changed bool) {
	m.mu.Lock()
	prev := m.state
	next := prev
	if !fn(&next) || next == prev {
		m.mu.Unlock()
		return false
	}
	m.state = next
	m.pending = append(m.pending, change{cur: next, prev: prev})
	m.mu.Unlock()

	m.deliver()
	return true
}

// deliver drains queued changes in mutation order. A change queued while
// another call is delivering, including one made from inside a subscriber, is
// picked up by that call.
func (m *Manager) deliver() {
	m.mu.Lock()
	if m.delivering {
		m.mu.Unlock()
		return
	}
	m.delivering = true
	for len(m.pending) > 0 {
		c := m.pending[0]
		m.pending = m.pending[1:]
		m.mu.Unlock()

		m.logger.Debug("state changed", "phase", c.cur.Phase.String(), "role", c.cur.Role.String(), "session", c.cur.SessionID)
		for _, fn := range m.subscribers.Snapshot() {
			fn(c.cur, c.prev)
		}

		m.mu.Lock()
	}
	m.delivering = false
	m.mu.Unlock()
}

func (m *Manager) emit(ev Event) {
	for _, fn := range m.listeners.Snapshot(ev.Kind()) {
		fn(ev)
	}
}

// teardown returns to Idle if match accepts the current state, or always when
// match is nil. It bumps the generation, closes the attached peer and returns
// the state it replaced.
func (m *Manager) teardown(match func(s State) bool) (prev State, ok bool) {
	var peer io.Closer
	m.update(func(s *State) bool {
		if match != nil && !match(*s) {
			return false
		}
		ok = true
		prev = *s
		m.gen++
		m.joinCode = ""
		peer, m.peer = m.peer, nil
		*s = State{}
		return true
	})
	if peer != nil {
		if err := peer.Close(); err != nil {
			m.logger.Warn("closing peer connection", "error", err)
		}
	}
	return prev, ok
}

// failWhen tears down and reports err if match accepts the current state.
func (m *Manager) failWhen(err error, match func(s State) bool) {
	if _, ok := m.teardown(match); !ok {
		m.logger.Debug("dropping stale error", "error", err)
		return
	}
	m.logger.Error("session error", "error", err)
	m.emit(Error{Err: err})
}

// abort fails the operation started under gen unless it was superseded.
func (m *Manager) abort(gen uint64, err error) {
	// match runs under m.mu.
	m.failWhen(err, func(State) bool { return m.gen == gen })
}

// begin moves from Idle to phase and returns the new generation.
func (m *Manager) begin(op string, phase Phase, joinCode string) (uint64, error) {
	var (
		gen     uint64
		current Phase
		idle    bool
	)
	m.update(func(s *State) bool {
		current = s.Phase
		if s.Phase != PhaseIdle {
			return false
		}
		idle = true
		m.gen++
		gen = m.gen
		m.joinCode = joinCode
		s.Phase = phase
		return true
	})
	if !idle {
		return 0, fault.Newf(fault.Configuration, op, "a session is already %s", current)
	}
	return gen, nil
}

func (m *Manager) current(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gen == gen
}

// connect brings the transport up for an operation started under gen. It
// reports false when the operation was abandoned in the meantime.
func (m *Manager) connect(ctx context.Context, op string, gen uint64) (bool, error) {
	if !m.signaling.IsConnected() {
		if err := m.signaling.Connect(ctx); err != nil {
			err = fault.New(fault.Transport, op, err)
			m.abort(gen, err)
			return false, err
		}
	}
	return m.current(gen), nil
}

// CreateSession starts hosting. It returns once the request is sent; the
// session becomes active when the relay answers with session-created.
func (m *Manager) CreateSession(ctx context.Context) error {
	const op = "session.create"
	gen, err := m.begin(op, PhaseCreating, "")
	if err != nil {
		return err
	}
	ok, err := m.connect(ctx, op, gen)
	if err != nil || !ok {
		return err
	}
	if err := m.signaling.CreateSession(m.tag); err != nil {
		err = fault.New(fault.Transport, op, err)
		m.abort(gen, err)
		return err
	}
	m.logger.Info("creating session")
	return nil
}

// JoinSession asks to join code as guest. The session becomes active when the
// relay answers with a successful session-joined.
func (m *Manager) JoinSession(ctx context.Context, code string) error {
	const op = "session.join"
	code = signal.NormalizeSessionCode(code)
	if code == "" {
		return fault.Newf(fault.Configuration, op, "empty session code")
	}
	gen, err := m.begin(op, PhaseJoining, code)
	if err != nil {
		return err
	}
	ok, err := m.connect(ctx, op, gen)
	if err != nil || !ok {
		return err
	}
	if err := m.signaling.JoinSession(code); err != nil {
		err = fault.New(fault.Transport, op, err)
		m.abort(gen, err)
		return err
	}
	m.logger.Info("joining session", "session", code)
	return nil
}

// EndSession leaves or ends the current session and returns to Idle. Calling
// it while Idle does nothing.
func (m *Manager) EndSession() {
	s, ok := m.teardown(func(s State) bool { return s.Phase != PhaseIdle })
	if !ok {
		return
	}
	if s.SessionID != "" {
		var err error
		switch s.Role {
		case RoleHost:
			err = m.signaling.EndSession(s.SessionID)
		case RoleGuest:
			err = m.signaling.LeaveSession(s.SessionID)
		}
		if err != nil {
			m.logger.Warn("failed to notify relay of session end", "session", s.SessionID, "error", err)
		}
	}
	m.logger.Info("session ended locally", "session", s.SessionID)
}

// RefreshSessionCode replaces the hosted session's code with a new one,
// dropping the current peer. It fails unless hosting.
func (m *Manager) RefreshSessionCode() error {
	const op = "session.refresh"
	var (
		old     State
		gen     uint64
		peer    io.Closer
		hosting bool
	)
	m.update(func(s *State) bool {
		if !s.Hosting() {
			return false
		}
		hosting = true
		old = *s
		m.gen++
		gen = m.gen
		peer, m.peer = m.peer, nil
		s.Phase = PhaseCreating
		s.PeerID = ""
		s.ScreenSharing = false
		s.WebRTCConnected = false
		return true
	})
	if !hosting {
		return fault.Newf(fault.Configuration, op, "cannot refresh code: not hosting")
	}

	if err := m.signaling.EndSession(old.SessionID); err != nil {
		m.logger.Warn("failed to end old session code", "session", old.SessionID, "error", err)
	}
	if peer != nil {
		peer.Close()
	}
	if err := m.signaling.CreateSession(m.tag); err != nil {
		err = fault.New(fault.Transport, op, err)
		m.abort(gen, err)
		return err
	}
	m.logger.Info("refreshing session code", "old", old.SessionID)
	return nil
}

// SetScreenSharing records whether the host is sending video.
func (m *Manager) SetScreenSharing(active bool) error {
	host := false
	changed := m.update(func(s *State) bool {
		if s.Role != RoleHost {
			return false
		}
		host = true
		s.ScreenSharing = active
		return true
	})
	if !host {
		return fault.Newf(fault.Configuration, "session.screenShare", "only the host shares its screen")
	}
	if !changed {
		return nil
	}
	if active {
		m.emit(ScreenShareStarted{})
	} else {
		m.emit(ScreenShareStopped{})
	}
	return nil
}

// SetWebRTCConnected records whether the peer connection is up. It is ignored
// without an active session.
func (m *Manager) SetWebRTCConnected(connected bool) {
	m.update(func(s *State) bool {
		if !s.Active {
			return false
		}
		s.WebRTCConnected = connected
		return true
	})
}

func (m *Manager) handleSessionCreated(msg signal.SessionCreated) {
	stale := false
	m.update(func(s *State) bool {
		if s.Phase != PhaseCreating {
			stale = true
			return false
		}
		s.Phase = PhaseHostingWaiting
		s.Active = true
		s.Role = RoleHost
		s.SessionID = msg.SessionID
		return true
	})
	if stale {
		// Session was ended before the relay answered; release the code.
		m.logger.Info("releasing stale session", "session", msg.SessionID)
		if err := m.signaling.EndSession(msg.SessionID); err != nil {
			m.logger.Warn("failed to release stale session", "error", err)
		}
		return
	}
	m.logger.Info("session created", "session", msg.SessionID)
}

func (m *Manager) handleSessionJoined(msg signal.SessionJoined) {
	joining := func(s State) bool { return s.Phase == PhaseJoining }
	if !msg.Success {
		reason := msg.Reason
		if reason == "" {
			reason = "session not found"
		}
		m.failWhen(fault.Newf(fault.SessionNotFound, "session.join", "%s", reason), joining)
		return
	}
	var id string
	m.update(func(s *State) bool {
		if !joining(*s) {
			return false
		}
		// The relay may answer without echoing the code.
		id = msg.SessionID
		if id == "" {
			id = m.joinCode
		}
		if id == "" {
			return false
		}
		s.Phase = PhaseGuestConnected
		s.Active = true
		s.Role = RoleGuest
		s.SessionID = id
		return true
	})
	if id != "" {
		m.logger.Info("joined session", "session", id)
	}
}

func (m *Manager) handleGuestJoined(msg signal.GuestJoined) {
	var sessionID string
	ok := m.update(func(s *State) bool {
		if s.Phase != PhaseHostingWaiting || !sameSession(s.SessionID, msg.SessionID) {
			return false
		}
		sessionID = s.SessionID
		s.Phase = PhaseHostingPeerConnected
		s.PeerID = msg.GuestID
		return true
	})
	if !ok {
		m.logger.Debug("ignoring guest-joined", "session", msg.SessionID)
		return
	}
	m.logger.Info("guest joined", "guest", msg.GuestID)
	m.emit(GuestJoined{GuestID: msg.GuestID, SessionID: sessionID})
}

func (m *Manager) handlePeerDisconnected(msg signal.SessionRef) {
	s, ok := m.teardown(func(s State) bool {
		return s.Role == RoleHost && sameSession(s.SessionID, msg.SessionID)
	})
	if !ok {
		return
	}
	m.logger.Info("guest left", "session", s.SessionID)
	m.emit(GuestLeft{SessionID: s.SessionID})
}

func (m *Manager) handleHostDisconnected(msg signal.SessionRef) {
	s, ok := m.teardown(func(s State) bool {
		return s.Role == RoleGuest && sameSession(s.SessionID, msg.SessionID)
	})
	if !ok {
		return
	}
	m.logger.Info("host disconnected", "session", s.SessionID)
	m.emit(HostDisconnected{SessionID: s.SessionID})
}

func (m *Manager) handleSessionEnded(msg signal.SessionRef) {
	s, ok := m.teardown(func(s State) bool {
		return s.Active && sameSession(s.SessionID, msg.SessionID)
	})
	if !ok {
		return
	}
	m.logger.Info("session ended by relay", "session", s.SessionID)
	m.emit(SessionEnded{SessionID: s.SessionID})
}

func (m *Manager) handleRelayError(msg signal.ErrorPayload) {
	err := fault.Newf(fault.Transport, "session.relay", "%s", msg.Message)
	m.failWhen(err, func(s State) bool { return s.Phase != PhaseIdle })
}

func (m *Manager) handleTransportLost(err error) {
	m.failWhen(err, func(s State) bool { return s.Phase != PhaseIdle })
}

// sameSession treats an empty id in a notification as matching.
func sameSession(current, incoming string) bool {
	return incoming == "" || signal.NormalizeSessionCode(current) == signal.NormalizeSessionCode(incoming)
}

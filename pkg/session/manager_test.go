package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomaslejdung/superdesk/pkg/fault"
	"github.com/tomaslejdung/superdesk/pkg/pubsub"
	"github.com/tomaslejdung/superdesk/pkg/signal"
)

type call struct {
	op string
	id string
}

// fakeSignaling records outbound calls and lets tests inject relay messages.
type fakeSignaling struct {
	handlers    pubsub.Topics[signal.MessageType, signal.Handler]
	disconnects pubsub.List[func(error)]
	connected   bool
	connectErr  error

	mu    sync.Mutex
	calls []call
}

func (f *fakeSignaling) record(op, id string) {
	f.mu.Lock()
	f.calls = append(f.calls, call{op, id})
	f.mu.Unlock()
}

func (f *fakeSignaling) Subscribe(t signal.MessageType, h signal.Handler) func() {
	return f.handlers.Add(t, h)
}

func (f *fakeSignaling) OnDisconnect(fn func(error)) func() { return f.disconnects.Add(fn) }

func (f *fakeSignaling) Connect(context.Context) error {
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeSignaling) IsConnected() bool { return f.connected }

func (f *fakeSignaling) CreateSession(tag string) error {
	f.record("create", tag)
	return nil
}

func (f *fakeSignaling) JoinSession(id string) error {
	f.record("join", id)
	return nil
}

func (f *fakeSignaling) EndSession(id string) error {
	f.record("end", id)
	return nil
}

func (f *fakeSignaling) LeaveSession(id string) error {
	f.record("leave", id)
	return nil
}

func (f *fakeSignaling) deliver(t *testing.T, mt signal.MessageType, payload any) {
	t.Helper()
	msg, err := signal.NewMessage(mt, payload)
	require.NoError(t, err)
	for _, h := range f.handlers.Snapshot(mt) {
		h(msg)
	}
}

func (f *fakeSignaling) drop(err error) {
	for _, fn := range f.disconnects.Snapshot() {
		fn(err)
	}
}

var _ Signaling = (*fakeSignaling)(nil)

type closer struct{ closed int }

func (c *closer) Close() error { c.closed++; return nil }

func newTestManager(t *testing.T) (*Manager, *fakeSignaling) {
	t.Helper()
	sig := &fakeSignaling{}
	m := NewManager(sig, Options{Tag: "mobile", Logger: slog.New(slog.NewJSONHandler(io.Discard, nil))})
	t.Cleanup(m.Close)
	return m, sig
}

func checkInvariant(t *testing.T, s State) {
	t.Helper()
	assert.Equal(t, s.Role == RoleNone, s.SessionID == "", "role/sessionId: %+v", s)
	assert.Equal(t, s.SessionID == "", !s.Active, "sessionId/active: %+v", s)
	if s.PeerID != "" {
		assert.True(t, s.Active, "peer without session: %+v", s)
	}
	if s.ScreenSharing {
		assert.Equal(t, RoleHost, s.Role, "screen sharing without hosting: %+v", s)
	}
}

func hostWithGuest(t *testing.T) (*Manager, *fakeSignaling) {
	t.Helper()
	m, sig := newTestManager(t)
	require.NoError(t, m.CreateSession(context.Background()))
	sig.deliver(t, signal.TypeSessionCreated, signal.SessionCreated{SessionID: "ABCD1234"})
	sig.deliver(t, signal.TypeGuestJoined, signal.GuestJoined{GuestID: "g1", SessionID: "ABCD1234"})
	return m, sig
}

func TestHostLifecycle(t *testing.T) {
	m, sig := newTestManager(t)
	var joined []GuestJoined
	m.On(EventGuestJoined, func(ev Event) { joined = append(joined, ev.(GuestJoined)) })

	require.NoError(t, m.CreateSession(context.Background()))
	assert.Equal(t, PhaseCreating, m.State().Phase)
	assert.Equal(t, []call{{"create", "mobile"}}, sig.calls)

	sig.deliver(t, signal.TypeSessionCreated, signal.SessionCreated{SessionID: "ABCD1234"})
	assert.Equal(t, State{
		Phase:     PhaseHostingWaiting,
		Active:    true,
		Role:      RoleHost,
		SessionID: "ABCD1234",
	}, m.State())

	sig.deliver(t, signal.TypeGuestJoined, signal.GuestJoined{GuestID: "g1", SessionID: "ABCD1234"})
	s := m.State()
	assert.Equal(t, "g1", s.PeerID)
	assert.Equal(t, PhaseHostingPeerConnected, s.Phase)
	require.Len(t, joined, 1)
	assert.Equal(t, GuestJoined{GuestID: "g1", SessionID: "ABCD1234"}, joined[0])
	assert.True(t, m.IsConnected())
}

func TestJoinUnknownSessionReturnsToIdle(t *testing.T) {
	m, sig := newTestManager(t)
	var errs []error
	m.On(EventError, func(ev Event) { errs = append(errs, ev.(Error).Err) })

	require.NoError(t, m.JoinSession(context.Background(), "ABCD1234"))
	assert.Equal(t, PhaseJoining, m.State().Phase)
	assert.Equal(t, []call{{"join", "ABCD1234"}}, sig.calls)

	sig.deliver(t, signal.TypeSessionJoined, signal.SessionJoined{Success: false})

	assert.Equal(t, State{}, m.State())
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], fault.ErrSessionNotFound)
}

func TestGuestLifecycle(t *testing.T) {
	m, sig := newTestManager(t)
	var gone int
	m.On(EventHostDisconnected, func(Event) { gone++ })

	require.NoError(t, m.JoinSession(context.Background(), "ABCD1234"))
	sig.deliver(t, signal.TypeSessionJoined, signal.SessionJoined{Success: true, SessionID: "ABCD1234"})
	assert.Equal(t, State{Phase: PhaseGuestConnected, Active: true, Role: RoleGuest, SessionID: "ABCD1234"}, m.State())

	sig.deliver(t, signal.TypeHostDisconnected, signal.SessionRef{SessionID: "ABCD1234"})
	assert.Equal(t, 1, gone)
	assert.Equal(t, State{}, m.State())
}

func TestEndSessionIsIdempotent(t *testing.T) {
	m, sig := hostWithGuest(t)
	peer := &closer{}
	m.AttachPeer(peer)

	m.EndSession()
	first := m.State()
	m.EndSession()

	assert.Equal(t, State{}, first)
	assert.Equal(t, first, m.State())
	assert.Equal(t, 1, peer.closed)
	assert.Equal(t, call{"end", "ABCD1234"}, sig.calls[len(sig.calls)-1])
	assert.Len(t, sig.calls, 2)
}

func TestGuestEndSessionLeaves(t *testing.T) {
	m, sig := newTestManager(t)
	require.NoError(t, m.JoinSession(context.Background(), "ABCD1234"))
	sig.deliver(t, signal.TypeSessionJoined, signal.SessionJoined{Success: true, SessionID: "ABCD1234"})

	m.EndSession()
	assert.Equal(t, call{"leave", "ABCD1234"}, sig.calls[len(sig.calls)-1])
}

func TestRefreshWhileGuestFails(t *testing.T) {
	m, sig := newTestManager(t)
	require.NoError(t, m.JoinSession(context.Background(), "ABCD1234"))
	sig.deliver(t, signal.TypeSessionJoined, signal.SessionJoined{Success: true, SessionID: "ABCD1234"})
	before := m.State()
	calls := len(sig.calls)

	err := m.RefreshSessionCode()
	require.Error(t, err)
	assert.ErrorIs(t, err, fault.ErrConfiguration)
	assert.Contains(t, err.Error(), "not hosting")
	assert.Equal(t, before, m.State())
	assert.Len(t, sig.calls, calls)
}

func TestRefreshReplacesCode(t *testing.T) {
	m, sig := hostWithGuest(t)
	peer := &closer{}
	m.AttachPeer(peer)
	require.NoError(t, m.SetScreenSharing(true))
	m.SetWebRTCConnected(true)

	require.NoError(t, m.RefreshSessionCode())
	s := m.State()
	assert.Equal(t, RoleHost, s.Role)
	assert.Equal(t, "ABCD1234", s.SessionID)
	assert.Empty(t, s.PeerID)
	assert.False(t, s.ScreenSharing)
	assert.False(t, s.WebRTCConnected)
	assert.Equal(t, 1, peer.closed)
	assert.Equal(t, []call{{"end", "ABCD1234"}, {"create", "mobile"}}, sig.calls[1:])

	sig.deliver(t, signal.TypeSessionCreated, signal.SessionCreated{SessionID: "WXYZ5678"})
	assert.Equal(t, "WXYZ5678", m.SessionID())
	assert.Equal(t, PhaseHostingWaiting, m.State().Phase)
}

func TestSecondCreateIsRejected(t *testing.T) {
	m, sig := newTestManager(t)
	require.NoError(t, m.CreateSession(context.Background()))

	err := m.CreateSession(context.Background())
	assert.ErrorIs(t, err, fault.ErrConfiguration)
	err = m.JoinSession(context.Background(), "ABCD1234")
	assert.ErrorIs(t, err, fault.ErrConfiguration)
	assert.Len(t, sig.calls, 1)
}

func TestConnectFailureRejectsAndEmitsError(t *testing.T) {
	m, sig := newTestManager(t)
	sig.connectErr = errors.New("connection refused")
	var errs int
	m.On(EventError, func(Event) { errs++ })

	err := m.CreateSession(context.Background())
	assert.ErrorIs(t, err, fault.ErrTransport)
	assert.Equal(t, State{}, m.State())
	assert.Equal(t, 1, errs)
	assert.Empty(t, sig.calls)
}

func TestLateSessionCreatedIsReleased(t *testing.T) {
	m, sig := newTestManager(t)
	require.NoError(t, m.CreateSession(context.Background()))
	m.EndSession()

	sig.deliver(t, signal.TypeSessionCreated, signal.SessionCreated{SessionID: "LATE0001"})
	assert.Equal(t, State{}, m.State())
	assert.Equal(t, call{"end", "LATE0001"}, sig.calls[len(sig.calls)-1])
}

func TestStaleGuestEventsAreIgnored(t *testing.T) {
	m, sig := hostWithGuest(t)
	var joined int
	m.On(EventGuestJoined, func(Event) { joined++ })

	sig.deliver(t, signal.TypeGuestJoined, signal.GuestJoined{GuestID: "g2", SessionID: "OTHER123"})
	sig.deliver(t, signal.TypePeerDisconnected, signal.SessionRef{SessionID: "OTHER123"})

	assert.Equal(t, 0, joined)
	assert.Equal(t, "g1", m.PeerID())
}

func TestPeerDisconnectTearsDown(t *testing.T) {
	m, sig := hostWithGuest(t)
	peer := &closer{}
	m.AttachPeer(peer)
	var left []GuestLeft
	m.On(EventGuestLeft, func(ev Event) { left = append(left, ev.(GuestLeft)) })

	sig.deliver(t, signal.TypePeerDisconnected, signal.SessionRef{SessionID: "ABCD1234"})
	assert.Equal(t, []GuestLeft{{SessionID: "ABCD1234"}}, left)
	assert.Equal(t, State{}, m.State())
	assert.Equal(t, 1, peer.closed)
}

func TestTransportLossResetsWithError(t *testing.T) {
	m, sig := hostWithGuest(t)
	var errs []error
	m.On(EventError, func(ev Event) { errs = append(errs, ev.(Error).Err) })

	sig.drop(fault.Newf(fault.Transport, "signal.reconnect", "gave up"))
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], fault.ErrTransport)
	assert.Equal(t, State{}, m.State())
}

func TestRelayErrorResets(t *testing.T) {
	m, sig := hostWithGuest(t)
	sig.deliver(t, signal.TypeError, signal.ErrorPayload{Message: "boom"})
	assert.Equal(t, State{}, m.State())
}

func TestScreenSharingEventsAndRules(t *testing.T) {
	m, _ := newTestManager(t)
	assert.ErrorIs(t, m.SetScreenSharing(true), fault.ErrConfiguration)

	m, _ = hostWithGuest(t)
	var kinds []EventKind
	m.On(EventScreenShareStarted, func(ev Event) { kinds = append(kinds, ev.Kind()) })
	m.On(EventScreenShareStopped, func(ev Event) { kinds = append(kinds, ev.Kind()) })

	require.NoError(t, m.SetScreenSharing(true))
	require.NoError(t, m.SetScreenSharing(true))
	require.NoError(t, m.SetScreenSharing(false))
	assert.Equal(t, []EventKind{EventScreenShareStarted, EventScreenShareStopped}, kinds)
}

func TestSubscribersFanOutAndUnsubscribe(t *testing.T) {
	m, sig := newTestManager(t)
	var a, b []State
	unsubA := m.Subscribe(func(cur, prev State) { a = append(a, cur) })
	m.Subscribe(func(cur, prev State) {
		b = append(b, cur)
		assert.NotEqual(t, cur, prev)
	})

	require.NoError(t, m.CreateSession(context.Background()))
	unsubA()
	sig.deliver(t, signal.TypeSessionCreated, signal.SessionCreated{SessionID: "ABCD1234"})

	assert.Len(t, a, 1)
	assert.Len(t, b, 2)
}

// TestInvariantHoldsUnderRandomEvents drives the manager with random
// operations and relay messages and checks every observed state.
func TestInvariantHoldsUnderRandomEvents(t *testing.T) {
	m, sig := newTestManager(t)
	m.Subscribe(func(cur, prev State) {
		checkInvariant(t, cur)
		checkInvariant(t, prev)
	})

	rng := rand.New(rand.NewSource(42))
	steps := []func(){
		func() { _ = m.CreateSession(context.Background()) },
		func() { _ = m.JoinSession(context.Background(), "ABCD1234") },
		func() { m.EndSession() },
		func() { _ = m.RefreshSessionCode() },
		func() { _ = m.SetScreenSharing(rng.Intn(2) == 0) },
		func() { m.SetWebRTCConnected(rng.Intn(2) == 0) },
		func() { sig.deliver(t, signal.TypeSessionCreated, signal.SessionCreated{SessionID: "ABCD1234"}) },
		func() {
			sig.deliver(t, signal.TypeSessionJoined, signal.SessionJoined{Success: rng.Intn(2) == 0, SessionID: "ABCD1234"})
		},
		func() {
			sig.deliver(t, signal.TypeGuestJoined, signal.GuestJoined{GuestID: "g1", SessionID: "ABCD1234"})
		},
		func() { sig.deliver(t, signal.TypePeerDisconnected, signal.SessionRef{}) },
		func() { sig.deliver(t, signal.TypeHostDisconnected, signal.SessionRef{}) },
		func() { sig.deliver(t, signal.TypeSessionEnded, signal.SessionRef{}) },
		func() { sig.deliver(t, signal.TypeError, signal.ErrorPayload{Message: "x"}) },
	}
	for i := 0; i < 2000; i++ {
		steps[rng.Intn(len(steps))]()
		checkInvariant(t, m.State())
	}
}

func TestJoinWithoutEchoedCodeKeepsRequestedCode(t *testing.T) {
	m, sig := newTestManager(t)
	require.NoError(t, m.JoinSession(context.Background(), " abcd-1234 "))
	assert.Equal(t, []call{{"join", "ABCD1234"}}, sig.calls)
	checkInvariant(t, m.State())

	sig.deliver(t, signal.TypeSessionJoined, signal.SessionJoined{Success: true})
	s := m.State()
	checkInvariant(t, s)
	assert.Equal(t, State{Phase: PhaseGuestConnected, Active: true, Role: RoleGuest, SessionID: "ABCD1234"}, s)

	m.EndSession()
	assert.Equal(t, call{"leave", "ABCD1234"}, sig.calls[len(sig.calls)-1])
}

func TestJoinEmptyCodeIsRejected(t *testing.T) {
	m, sig := newTestManager(t)
	assert.ErrorIs(t, m.JoinSession(context.Background(), " - "), fault.ErrConfiguration)
	assert.Equal(t, State{}, m.State())
	assert.Empty(t, sig.calls)
}

func TestPeerAttachedAfterTeardownIsClosed(t *testing.T) {
	m, _ := hostWithGuest(t)
	m.EndSession()

	peer := &closer{}
	m.AttachPeer(peer)
	assert.Equal(t, 1, peer.closed)

	m.EndSession()
	assert.Equal(t, 1, peer.closed)
}

// orderedStates records delivered changes and checks they chain: each prev is
// the cur delivered before it.
type orderedStates struct {
	t    *testing.T
	mu   sync.Mutex
	last State
}

func (o *orderedStates) observe(cur, prev State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	assert.Equal(o.t, o.last, prev, "change delivered out of order")
	checkInvariant(o.t, cur)
	o.last = cur
}

func TestReentrantChangesAreDeliveredInOrder(t *testing.T) {
	m, sig := newTestManager(t)
	order := &orderedStates{t: t}
	m.Subscribe(func(cur, prev State) {
		if cur.Phase == PhaseHostingWaiting {
			m.EndSession()
		}
	})
	m.Subscribe(order.observe)

	require.NoError(t, m.CreateSession(context.Background()))
	sig.deliver(t, signal.TypeSessionCreated, signal.SessionCreated{SessionID: "ABCD1234"})

	assert.Equal(t, State{}, m.State())
	assert.Equal(t, State{}, order.last)
	assert.Equal(t, call{"end", "ABCD1234"}, sig.calls[len(sig.calls)-1])
}

func TestRelayRepliesRacingEndSession(t *testing.T) {
	for i := 0; i < 200; i++ {
		m, sig := newTestManager(t)
		order := &orderedStates{t: t}
		m.Subscribe(order.observe)
		require.NoError(t, m.CreateSession(context.Background()))

		var wg sync.WaitGroup
		start := make(chan struct{})
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			sig.deliver(t, signal.TypeSessionCreated, signal.SessionCreated{SessionID: "ABCD1234"})
			sig.deliver(t, signal.TypeGuestJoined, signal.GuestJoined{GuestID: "g1", SessionID: "ABCD1234"})
		}()
		go func() {
			defer wg.Done()
			<-start
			m.EndSession()
		}()
		close(start)
		wg.Wait()

		// Whichever side wins, the session ends up closed and its code released.
		require.Equal(t, State{}, m.State())
		require.Equal(t, State{}, order.last)
		sig.mu.Lock()
		require.Contains(t, sig.calls, call{"end", "ABCD1234"})
		sig.mu.Unlock()
	}
}

package main

import (
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomaslejdung/superdesk/pkg/coords"
	"github.com/tomaslejdung/superdesk/pkg/input"
	"github.com/tomaslejdung/superdesk/pkg/peer"
	"github.com/tomaslejdung/superdesk/pkg/session"
)

func press(x, y int, b tea.MouseButton) tea.MouseMsg {
	return tea.MouseMsg{X: x, Y: y, Action: tea.MouseActionPress, Button: b}
}

func motion(x, y int) tea.MouseMsg {
	return tea.MouseMsg{X: x, Y: y, Action: tea.MouseActionMotion, Button: tea.MouseButtonLeft}
}

func release(x, y int) tea.MouseMsg {
	return tea.MouseMsg{X: x, Y: y, Action: tea.MouseActionRelease, Button: tea.MouseButtonLeft}
}

// A 192x108 cell view over the default 1920x1080 screen maps cell (x, y) to
// (10x+5, 10y+5).
func testPointer() (*pointer, *input.Codec, *recordingSink, *time.Time) {
	sink := &recordingSink{}
	codec := input.NewCodec(sink, coords.Size{Width: 192, Height: 108}, nil)
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p := newPointer()
	p.now = func() time.Time { return clock }
	return p, codec, sink, &clock
}

func TestPointerClicks(t *testing.T) {
	p, codec, sink, clock := testPointer()

	click := func(x, y int) {
		require.NoError(t, p.handle(press(x, y, tea.MouseButtonLeft), codec))
		require.NoError(t, p.handle(release(x, y), codec))
	}

	click(9, 4)
	*clock = clock.Add(200 * time.Millisecond)
	click(9, 4)
	*clock = clock.Add(time.Second)
	click(9, 4)
	*clock = clock.Add(100 * time.Millisecond)
	click(10, 4)

	assert.Equal(t, []input.Command{
		input.MouseClick(95, 45, input.ButtonLeft),
		input.MouseDoubleClick(95, 45),
		input.MouseClick(95, 45, input.ButtonLeft),
		input.MouseClick(105, 45, input.ButtonLeft),
	}, sink.cmds)
}

func TestPointerDrag(t *testing.T) {
	p, codec, sink, _ := testPointer()

	require.NoError(t, p.handle(press(1, 1, tea.MouseButtonLeft), codec))
	require.NoError(t, p.handle(motion(1, 1), codec))
	assert.Empty(t, sink.cmds)

	require.NoError(t, p.handle(motion(3, 2), codec))
	require.NoError(t, p.handle(motion(4, 2), codec))
	require.NoError(t, p.handle(release(4, 2), codec))

	assert.Equal(t, []input.Command{
		input.MouseMove(15, 15),
		input.MouseMove(35, 25),
		input.MouseMove(45, 25),
		input.MouseClick(45, 25, input.ButtonLeft),
	}, sink.cmds)
}

func TestPointerButtonsAndWheel(t *testing.T) {
	p, codec, sink, _ := testPointer()

	require.NoError(t, p.handle(press(0, 0, tea.MouseButtonRight), codec))
	require.NoError(t, p.handle(press(9, 4, tea.MouseButtonWheelUp), codec))
	require.NoError(t, p.handle(press(9, 4, tea.MouseButtonWheelDown), codec))
	require.NoError(t, p.handle(press(9, 4, tea.MouseButtonWheelRight), codec))

	zoom := press(9, 4, tea.MouseButtonWheelUp)
	zoom.Ctrl = true
	require.NoError(t, p.handle(zoom, codec))

	// A release without a press is ignored.
	require.NoError(t, p.handle(release(2, 2), codec))

	assert.Equal(t, []input.Command{
		input.MouseClick(5, 5, input.ButtonRight),
		input.MouseScroll(0, -wheelStep),
		input.MouseScroll(0, wheelStep),
		input.MouseScroll(wheelStep, 0),
		input.MouseScrollAt(95, 45, -input.PinchScrollAmount),
	}, sink.cmds)
}

func TestModelForwardsMouseWhileViewing(t *testing.T) {
	m := testModel(modeJoin)
	sink := &recordingSink{}
	m.app.codec = input.NewCodec(sink, coords.Size{Width: 800, Height: 600}, nil)

	next, _ := m.Update(tea.WindowSizeMsg{Width: 192, Height: 108})
	m = next.(model)
	assert.Equal(t, coords.Size{Width: 192, Height: 108}, m.app.codec.Mapper().View)

	// Not connected yet.
	next, _ = m.Update(press(9, 4, tea.MouseButtonRight))
	m = next.(model)
	assert.Empty(t, sink.cmds)

	next, _ = m.Update(stateMsg{session.State{
		Phase:     session.PhaseGuestConnected,
		Active:    true,
		Role:      session.RoleGuest,
		SessionID: "ABCD2345",
	}})
	m = next.(model)
	next, _ = m.Update(press(9, 4, tea.MouseButtonRight))
	m = next.(model)
	assert.Equal(t, []input.Command{input.MouseClick(95, 45, input.ButtonRight)}, sink.cmds)
}

func TestHostIgnoresMouse(t *testing.T) {
	m := testModel(modeHost)
	sink := &recordingSink{}
	m.app.codec = input.NewCodec(sink, coords.Size{Width: 192, Height: 108}, nil)
	next, _ := m.Update(stateMsg{session.State{
		Phase:     session.PhaseHostingPeerConnected,
		Active:    true,
		Role:      session.RoleHost,
		SessionID: "ABCD2345",
		PeerID:    "g1",
	}})
	m = next.(model)

	next, _ = m.Update(press(9, 4, tea.MouseButtonRight))
	assert.Empty(t, sink.cmds)
	assert.Empty(t, next.(model).lastError)
}

func TestRefreshDropsStaleController(t *testing.T) {
	a := &app{notify: func(tea.Msg) {}}
	a.ctrl = &peer.Controller{}

	hosting := session.State{Phase: session.PhaseHostingPeerConnected, Active: true, Role: session.RoleHost, SessionID: "ABCD2345", PeerID: "g1"}
	sharing := hosting
	sharing.ScreenSharing = true
	a.handleState(sharing, hosting)
	assert.NotNil(t, a.controller())

	refreshed := session.State{Phase: session.PhaseCreating, Active: true, Role: session.RoleHost, SessionID: "ABCD2345"}
	a.handleState(refreshed, sharing)
	assert.Nil(t, a.controller())

	m := initialModel(a)
	m.sent, m.dropped = 12, 3
	next, _ := m.Update(tickMsg(time.Now()))
	m = next.(model)
	assert.Zero(t, m.sent)
	assert.Zero(t, m.dropped)
}

package input

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomaslejdung/superdesk/pkg/coords"
	"github.com/tomaslejdung/superdesk/pkg/fault"
)

type recordingSink struct {
	cmds []Command
}

func (r *recordingSink) SendInputEvent(cmd Command) {
	r.cmds = append(r.cmds, cmd)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newTestCodec() (*Codec, *recordingSink) {
	sink := &recordingSink{}
	// 1:2 scale on both axes keeps expected values obvious.
	c := NewCodec(sink, coords.Size{Width: 960, Height: 540}, testLogger())
	return c, sink
}

func TestGestureMapping(t *testing.T) {
	c, sink := newTestCodec()

	require.NoError(t, c.Tap(10, 20))
	require.NoError(t, c.DoubleTap(10, 20))
	require.NoError(t, c.LongPress(10, 20))
	require.NoError(t, c.Pinch(1.5, 100, 100))
	require.NoError(t, c.Pinch(0.5, 100, 100))

	require.Len(t, sink.cmds, 5)
	assert.Equal(t, MouseClick(20, 40, ButtonLeft), sink.cmds[0])
	assert.Equal(t, MouseDoubleClick(20, 40), sink.cmds[1])
	assert.Equal(t, MouseClick(20, 40, ButtonRight), sink.cmds[2])
	assert.Equal(t, MouseScrollAt(200, 200, -100), sink.cmds[3])
	assert.Equal(t, MouseScrollAt(200, 200, 100), sink.cmds[4])
}

func TestDragEmitsMovesThenClickAtLastPosition(t *testing.T) {
	c, sink := newTestCodec()

	require.NoError(t, c.DragStart(1, 1))
	require.NoError(t, c.DragMove(5, 6))
	require.NoError(t, c.DragMove(7, 8))
	c.DragEnd()

	require.Len(t, sink.cmds, 4)
	assert.Equal(t, MouseMove(2, 2), sink.cmds[0])
	assert.Equal(t, MouseMove(10, 12), sink.cmds[1])
	assert.Equal(t, MouseMove(14, 16), sink.cmds[2])
	assert.Equal(t, MouseClick(14, 16, ButtonLeft), sink.cmds[3])
}

func TestDragEndWithoutStartSendsNothing(t *testing.T) {
	c, sink := newTestCodec()
	c.DragEnd()
	assert.Empty(t, sink.cmds)
}

func TestKeyboardCommands(t *testing.T) {
	c, sink := newTestCodec()

	c.KeyPress("c", Modifiers{Ctrl: true})
	c.Text("hello")
	c.Text("")
	require.NoError(t, c.Special(KeyPageDown))
	err := c.Special(SpecialKey("f13"))
	assert.ErrorIs(t, err, fault.ErrConfiguration)

	require.Len(t, sink.cmds, 3)
	assert.Equal(t, KeyPress("c", Modifiers{Ctrl: true}), sink.cmds[0])
	assert.Equal(t, KeyType("hello"), sink.cmds[1])
	assert.Equal(t, KeySpecial(KeyPageDown), sink.cmds[2])
}

func TestTwoFingerPanInvertsDelta(t *testing.T) {
	c, sink := newTestCodec()
	c.TwoFingerPan(3, -4)

	require.Len(t, sink.cmds, 1)
	assert.Equal(t, MouseScroll(-3, 4), sink.cmds[0])
}

func TestZeroViewIsRejected(t *testing.T) {
	c, sink := newTestCodec()
	c.SetViewSize(0, 0)

	assert.ErrorIs(t, c.Tap(1, 1), fault.ErrConfiguration)
	assert.Empty(t, sink.cmds)
}

func TestRemoteScreenSizeOverride(t *testing.T) {
	c, sink := newTestCodec()
	c.SetRemoteScreenSize(3840, 2160)

	require.NoError(t, c.Tap(480, 270))
	assert.Equal(t, MouseClick(1920, 1080, ButtonLeft), sink.cmds[0])
	assert.Equal(t, coords.Size{Width: 3840, Height: 2160}, c.Mapper().Remote)
}

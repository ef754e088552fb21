package input

import (
	"log/slog"
	"sync"

	"github.com/tomaslejdung/superdesk/pkg/coords"
	"github.com/tomaslejdung/superdesk/pkg/fault"
)

// PinchScrollAmount is the scroll delta sent for one pinch gesture.
const PinchScrollAmount = 100

// Sink accepts commands for delivery to the host. Delivery is best effort.
type Sink interface {
	SendInputEvent(cmd Command)
}

// Codec maps viewer gestures to commands in remote screen coordinates and
// hands them to a Sink. It remembers only the last pointer position.
type Codec struct {
	mu     sync.Mutex
	mapper coords.Mapper
	last   *coords.Point
	sink   Sink
	logger *slog.Logger
}

// NewCodec returns a codec for a view of the given size, assuming the default
// remote screen size until SetRemoteScreenSize is called.
func NewCodec(sink Sink, view coords.Size, logger *slog.Logger) *Codec {
	if logger == nil {
		logger = slog.Default()
	}
	return &Codec{
		mapper: coords.NewMapper(view),
		sink:   sink,
		logger: logger,
	}
}

// SetViewSize updates the local view dimensions.
func (c *Codec) SetViewSize(width, height float64) {
	c.mu.Lock()
	c.mapper.View = coords.Size{Width: width, Height: height}
	c.mu.Unlock()
}

// SetRemoteScreenSize updates the host screen dimensions.
func (c *Codec) SetRemoteScreenSize(width, height float64) {
	c.mu.Lock()
	c.mapper.Remote = coords.Size{Width: width, Height: height}
	c.mu.Unlock()
	c.logger.Debug("remote screen size updated", "width", width, "height", height)
}

// Mapper returns the current mapping.
func (c *Codec) Mapper() coords.Mapper {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mapper
}

func (c *Codec) translate(x, y float64) (int, int, error) {
	c.mu.Lock()
	m := c.mapper
	c.mu.Unlock()
	p, err := m.Map(coords.Point{X: x, Y: y})
	if err != nil {
		return 0, 0, err
	}
	return int(p.X), int(p.Y), nil
}

func (c *Codec) send(cmd Command) {
	c.sink.SendInputEvent(cmd)
}

// Tap sends a left click.
func (c *Codec) Tap(x, y float64) error {
	rx, ry, err := c.translate(x, y)
	if err != nil {
		return err
	}
	c.send(MouseClick(rx, ry, ButtonLeft))
	return nil
}

// DoubleTap sends a double click.
func (c *Codec) DoubleTap(x, y float64) error {
	rx, ry, err := c.translate(x, y)
	if err != nil {
		return err
	}
	c.send(MouseDoubleClick(rx, ry))
	return nil
}

// LongPress sends a right click.
func (c *Codec) LongPress(x, y float64) error {
	rx, ry, err := c.translate(x, y)
	if err != nil {
		return err
	}
	c.send(MouseClick(rx, ry, ButtonRight))
	return nil
}

// DragStart moves the pointer to the start of a drag.
func (c *Codec) DragStart(x, y float64) error {
	return c.DragMove(x, y)
}

// DragMove moves the pointer and records the position for DragEnd.
func (c *Codec) DragMove(x, y float64) error {
	rx, ry, err := c.translate(x, y)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.last = &coords.Point{X: float64(rx), Y: float64(ry)}
	c.mu.Unlock()
	c.send(MouseMove(rx, ry))
	return nil
}

// DragEnd clicks at the last known pointer position. Without a prior drag it
// sends nothing.
func (c *Codec) DragEnd() {
	c.mu.Lock()
	last := c.last
	c.mu.Unlock()
	if last == nil {
		return
	}
	c.send(MouseClick(int(last.X), int(last.Y), ButtonLeft))
}

// Pinch scrolls up when zooming in (scale > 1) and down otherwise.
func (c *Codec) Pinch(scale, centerX, centerY float64) error {
	rx, ry, err := c.translate(centerX, centerY)
	if err != nil {
		return err
	}
	delta := PinchScrollAmount
	if scale > 1 {
		delta = -PinchScrollAmount
	}
	c.send(MouseScrollAt(rx, ry, delta))
	return nil
}

// TwoFingerPan scrolls opposite to the finger movement.
func (c *Codec) TwoFingerPan(deltaX, deltaY float64) {
	c.send(MouseScroll(int(-deltaX), int(-deltaY)))
}

// KeyPress sends key with modifiers.
func (c *Codec) KeyPress(key string, mods Modifiers) {
	c.send(KeyPress(key, mods))
}

// Text types text on the host.
func (c *Codec) Text(text string) {
	if text == "" {
		return
	}
	c.send(KeyType(text))
}

// Special sends a special key. Unknown keys are rejected.
func (c *Codec) Special(key SpecialKey) error {
	if !IsSpecialKey(string(key)) {
		return fault.Newf(fault.Configuration, "input.special", "unknown special key %q", key)
	}
	c.send(KeySpecial(key))
	return nil
}

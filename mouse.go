package main

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/tomaslejdung/superdesk/pkg/input"
)

const (
	doubleClickWindow = 400 * time.Millisecond
	wheelStep         = 40
)

// pointer turns terminal mouse events into viewer gestures. Positions are in
// terminal cells, which is the unit of the viewer's view size.
type pointer struct {
	now func() time.Time

	down     bool
	dragging bool
	startX   int
	startY   int

	lastTap time.Time
	tapX    int
	tapY    int
}

func newPointer() *pointer {
	return &pointer{now: time.Now}
}

// cellCenter maps a cell to the middle of its area in view coordinates.
func cellCenter(x, y int) (float64, float64) {
	return float64(x) + 0.5, float64(y) + 0.5
}

// handle sends the gesture msg completes, if any.
func (p *pointer) handle(msg tea.MouseMsg, c *input.Codec) error {
	x, y := cellCenter(msg.X, msg.Y)

	switch msg.Action {
	case tea.MouseActionPress:
		switch msg.Button {
		case tea.MouseButtonLeft:
			p.down, p.dragging = true, false
			p.startX, p.startY = msg.X, msg.Y
		case tea.MouseButtonRight:
			return c.LongPress(x, y)
		case tea.MouseButtonWheelUp, tea.MouseButtonWheelDown:
			if msg.Ctrl {
				scale := 1.25
				if msg.Button == tea.MouseButtonWheelDown {
					scale = 0.8
				}
				return c.Pinch(scale, x, y)
			}
			dy := float64(wheelStep)
			if msg.Button == tea.MouseButtonWheelDown {
				dy = -dy
			}
			c.TwoFingerPan(0, dy)
		case tea.MouseButtonWheelLeft, tea.MouseButtonWheelRight:
			dx := float64(wheelStep)
			if msg.Button == tea.MouseButtonWheelRight {
				dx = -dx
			}
			c.TwoFingerPan(dx, 0)
		}
		return nil

	case tea.MouseActionMotion:
		if !p.down {
			return nil
		}
		if !p.dragging {
			if msg.X == p.startX && msg.Y == p.startY {
				return nil
			}
			p.dragging = true
			if err := c.DragStart(cellCenter(p.startX, p.startY)); err != nil {
				return err
			}
		}
		return c.DragMove(x, y)

	case tea.MouseActionRelease:
		if !p.down {
			return nil
		}
		p.down = false
		if p.dragging {
			p.dragging = false
			c.DragEnd()
			return nil
		}
		now := p.now()
		if !p.lastTap.IsZero() && now.Sub(p.lastTap) <= doubleClickWindow &&
			msg.X == p.tapX && msg.Y == p.tapY {
			p.lastTap = time.Time{}
			return c.DoubleTap(x, y)
		}
		p.lastTap, p.tapX, p.tapY = now, msg.X, msg.Y
		return c.Tap(x, y)
	}
	return nil
}

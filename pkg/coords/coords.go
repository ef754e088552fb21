// Package coords maps points from the viewer's local view onto the host's screen.
package coords

import (
	"math"

	"github.com/tomaslejdung/superdesk/pkg/fault"
)

// Default remote screen size used until the host reports its capture resolution.
const (
	DefaultRemoteWidth  = 1920
	DefaultRemoteHeight = 1080
)

// Size is a width/height pair in pixels.
type Size struct {
	Width  float64
	Height float64
}

// Point is a position in either view or screen space.
type Point struct {
	X float64
	Y float64
}

// Mapper translates view coordinates into remote screen coordinates.
// The zero value is not usable; use NewMapper.
type Mapper struct {
	View   Size
	Remote Size
}

// NewMapper returns a mapper for the given local view with the default remote screen size.
func NewMapper(view Size) Mapper {
	return Mapper{
		View:   view,
		Remote: Size{Width: DefaultRemoteWidth, Height: DefaultRemoteHeight},
	}
}

// Map scales p from view space to remote screen space, rounding to whole pixels.
// A zero or negative view dimension is a configuration error.
func (m Mapper) Map(p Point) (Point, error) {
	return Translate(m.View, m.Remote, p)
}

// Translate is the stateless form of Mapper.Map.
func Translate(view, remote Size, p Point) (Point, error) {
	if view.Width <= 0 || view.Height <= 0 {
		return Point{}, fault.Newf(fault.Configuration, "coords.translate",
			"view size %gx%g has a zero dimension", view.Width, view.Height)
	}
	if remote.Width <= 0 || remote.Height <= 0 {
		return Point{}, fault.Newf(fault.Configuration, "coords.translate",
			"remote size %gx%g has a zero dimension", remote.Width, remote.Height)
	}
	return Point{
		X: math.Round(p.X * remote.Width / view.Width),
		Y: math.Round(p.Y * remote.Height / view.Height),
	}, nil
}

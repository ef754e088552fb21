// Package capture provides the host's screen source. Frames are produced by an
// external encoder; this package turns them into a track the peer connection
// can send.
package capture

import (
	"context"
	"time"

	"github.com/pion/rtp"
)

// Frame is one unit of media handed to OnFrame listeners.
type Frame struct {
	Packet   *rtp.Packet
	Received time.Time
}

// Source is a screen capture source.
type Source interface {
	// RequestPermission reports whether capture may start. A false result
	// with a nil error means the user declined.
	RequestPermission(ctx context.Context) (bool, error)
	Start(ctx context.Context) error
	Stop() error
	IsCapturing() bool
	OnFrame(fn func(Frame)) (unsubscribe func())
	OnError(fn func(error)) (unsubscribe func())
}

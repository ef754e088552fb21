package session

// EventKind names an event a Manager emits besides state changes.
type EventKind int

const (
	EventGuestJoined EventKind = iota + 1
	EventGuestLeft
	EventHostDisconnected
	EventSessionEnded
	EventScreenShareStarted
	EventScreenShareStopped
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventGuestJoined:
		return "guestJoined"
	case EventGuestLeft:
		return "guestLeft"
	case EventHostDisconnected:
		return "hostDisconnected"
	case EventSessionEnded:
		return "sessionEnded"
	case EventScreenShareStarted:
		return "screenShareStarted"
	case EventScreenShareStopped:
		return "screenShareStopped"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one of the payload types below.
type Event interface {
	Kind() EventKind
}

// GuestJoined is emitted to the host when a guest joins.
type GuestJoined struct {
	GuestID   string
	SessionID string
}

// GuestLeft is emitted to the host when the guest goes away.
type GuestLeft struct {
	SessionID string
}

// HostDisconnected is emitted to the guest when the host goes away.
type HostDisconnected struct {
	SessionID string
}

// SessionEnded is emitted to the guest when the host ends the session.
type SessionEnded struct {
	SessionID string
}

// ScreenShareStarted is emitted when the host starts sending video.
type ScreenShareStarted struct{}

// ScreenShareStopped is emitted when the host stops sending video.
type ScreenShareStopped struct{}

// Error carries a session-affecting failure. Err is a *fault.Error.
type Error struct {
	Err error
}

func (GuestJoined) Kind() EventKind        { return EventGuestJoined }
func (GuestLeft) Kind() EventKind          { return EventGuestLeft }
func (HostDisconnected) Kind() EventKind   { return EventHostDisconnected }
func (SessionEnded) Kind() EventKind       { return EventSessionEnded }
func (ScreenShareStarted) Kind() EventKind { return EventScreenShareStarted }
func (ScreenShareStopped) Kind() EventKind { return EventScreenShareStopped }
func (Error) Kind() EventKind              { return EventError }

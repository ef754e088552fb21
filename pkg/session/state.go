package session

// Role is this device's part in a session.
type Role int

const (
	RoleNone Role = iota
	RoleHost
	RoleGuest
)

func (r Role) String() string {
	switch r {
	case RoleHost:
		return "host"
	case RoleGuest:
		return "guest"
	default:
		return "none"
	}
}

// Phase is the manager's position in the session lifecycle.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseCreating
	PhaseHostingWaiting
	PhaseHostingPeerConnected
	PhaseJoining
	PhaseGuestConnected
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseCreating:
		return "creating"
	case PhaseHostingWaiting:
		return "hosting (waiting)"
	case PhaseHostingPeerConnected:
		return "hosting (peer connected)"
	case PhaseJoining:
		return "joining"
	case PhaseGuestConnected:
		return "guest (connected)"
	default:
		return "unknown"
	}
}

// State is a snapshot of the current session. Role is RoleNone exactly when
// SessionID is empty and Active is false; PeerID is only set while Active;
// ScreenSharing is only true for a host.
type State struct {
	Phase           Phase
	Active          bool
	Role            Role
	SessionID       string
	PeerID          string
	ScreenSharing   bool
	WebRTCConnected bool
}

// Hosting reports whether the state is one of the hosting phases.
func (s State) Hosting() bool {
	return s.Role == RoleHost && s.SessionID != "" &&
		(s.Phase == PhaseHostingWaiting || s.Phase == PhaseHostingPeerConnected)
}

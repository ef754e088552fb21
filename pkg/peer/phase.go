package peer

import "github.com/pion/webrtc/v3"

// Role is which side of the negotiation a controller plays.
type Role int

const (
	// RoleHost originates the offer and sends media.
	RoleHost Role = iota + 1
	// RoleViewer answers and receives media.
	RoleViewer
)

func (r Role) String() string {
	switch r {
	case RoleHost:
		return "host"
	case RoleViewer:
		return "viewer"
	default:
		return "none"
	}
}

// Phase mirrors the peer connection state.
type Phase int

const (
	PhaseNew Phase = iota
	PhaseConnecting
	PhaseConnected
	PhaseDisconnected
	PhaseFailed
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseNew:
		return "new"
	case PhaseConnecting:
		return "connecting"
	case PhaseConnected:
		return "connected"
	case PhaseDisconnected:
		return "disconnected"
	case PhaseFailed:
		return "failed"
	case PhaseClosed:
		return "closed"
	default:
		return "unknown"
	}
}

func phaseFromState(s webrtc.PeerConnectionState) Phase {
	switch s {
	case webrtc.PeerConnectionStateConnecting:
		return PhaseConnecting
	case webrtc.PeerConnectionStateConnected:
		return PhaseConnected
	case webrtc.PeerConnectionStateDisconnected:
		return PhaseDisconnected
	case webrtc.PeerConnectionStateFailed:
		return PhaseFailed
	case webrtc.PeerConnectionStateClosed:
		return PhaseClosed
	default:
		return PhaseNew
	}
}

// DataChannelPhase is the state of the input data channel.
type DataChannelPhase int

const (
	// DataChannelNone means no channel exists yet.
	DataChannelNone DataChannelPhase = iota
	DataChannelConnecting
	DataChannelOpen
	DataChannelClosing
	DataChannelClosed
)

func (p DataChannelPhase) String() string {
	switch p {
	case DataChannelConnecting:
		return "connecting"
	case DataChannelOpen:
		return "open"
	case DataChannelClosing:
		return "closing"
	case DataChannelClosed:
		return "closed"
	default:
		return "none"
	}
}

func dataChannelPhase(s webrtc.DataChannelState) DataChannelPhase {
	switch s {
	case webrtc.DataChannelStateConnecting:
		return DataChannelConnecting
	case webrtc.DataChannelStateOpen:
		return DataChannelOpen
	case webrtc.DataChannelStateClosing:
		return DataChannelClosing
	case webrtc.DataChannelStateClosed:
		return DataChannelClosed
	default:
		return DataChannelNone
	}
}

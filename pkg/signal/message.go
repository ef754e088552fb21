package signal

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType names a signaling event.
type MessageType string

const (
	TypeCreateSession    MessageType = "create-session"
	TypeSessionCreated   MessageType = "session-created"
	TypeJoinSession      MessageType = "join-session"
	TypeSessionJoined    MessageType = "session-joined"
	TypeGuestJoined      MessageType = "guest-joined"
	TypeOffer            MessageType = "offer"
	TypeAnswer           MessageType = "answer"
	TypeICECandidate     MessageType = "ice-candidate"
	TypeEndSession       MessageType = "end-session"
	TypeLeaveSession     MessageType = "leave-session"
	TypePeerDisconnected MessageType = "peer-disconnected"
	TypeHostDisconnected MessageType = "host-disconnected"
	TypeSessionEnded     MessageType = "session-ended"
	TypeError            MessageType = "error"
)

// Message is the envelope for every frame on the relay connection.
type Message struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewMessage builds an envelope around payload. A nil payload is omitted.
func NewMessage(t MessageType, payload any) (Message, error) {
	msg := Message{Type: t}
	if payload == nil {
		return msg, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s payload: %w", t, err)
	}
	msg.Payload = data
	return msg, nil
}

// Decode unmarshals the payload into v and validates it when v knows how.
func (m Message) Decode(v any) error {
	if len(m.Payload) > 0 {
		if err := json.Unmarshal(m.Payload, v); err != nil {
			return fmt.Errorf("decode %s payload: %w", m.Type, err)
		}
	}
	if val, ok := v.(interface{ Validate() error }); ok {
		if err := val.Validate(); err != nil {
			return fmt.Errorf("invalid %s payload: %w", m.Type, err)
		}
	}
	return nil
}

// SDPType is the kind of a session description.
type SDPType string

const (
	SDPOffer  SDPType = "offer"
	SDPAnswer SDPType = "answer"
)

// SessionDescription is an SDP blob passed through the relay untouched.
type SessionDescription struct {
	Type SDPType `json:"type"`
	SDP  string  `json:"sdp"`
}

// Validate rejects unknown types and empty SDP.
func (d SessionDescription) Validate() error {
	if d.Type != SDPOffer && d.Type != SDPAnswer {
		return fmt.Errorf("unknown sdp type %q", d.Type)
	}
	if d.SDP == "" {
		return errors.New("empty sdp")
	}
	return nil
}

// IceCandidate is a trickled ICE candidate.
type IceCandidate struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

// Validate rejects empty candidates.
func (c IceCandidate) Validate() error {
	if c.Candidate == "" {
		return errors.New("empty candidate")
	}
	return nil
}

// CreateSession asks the relay for a new session code.
type CreateSession struct {
	Tag string `json:"tag,omitempty"`
}

// SessionCreated carries the code assigned to a new session.
type SessionCreated struct {
	SessionID string `json:"sessionId"`
}

// Validate requires a session id.
func (s SessionCreated) Validate() error {
	if s.SessionID == "" {
		return errors.New("missing sessionId")
	}
	return nil
}

// SessionRef addresses an existing session. It is the payload of join-session,
// end-session and leave-session, and of the disconnect notifications.
type SessionRef struct {
	SessionID string `json:"sessionId,omitempty"`
}

// SessionJoined answers a join-session request.
type SessionJoined struct {
	Success   bool   `json:"success"`
	SessionID string `json:"sessionId,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// GuestJoined tells the host a guest has joined.
type GuestJoined struct {
	GuestID   string `json:"guestId"`
	SessionID string `json:"sessionId"`
}

// Validate requires both identifiers.
func (g GuestJoined) Validate() error {
	if g.GuestID == "" || g.SessionID == "" {
		return errors.New("missing guestId or sessionId")
	}
	return nil
}

// Description is the payload of offer and answer messages.
type Description struct {
	SessionID string             `json:"sessionId"`
	SDP       SessionDescription `json:"sdp"`
}

// Validate checks the session id and the description.
func (d Description) Validate() error {
	if d.SessionID == "" {
		return errors.New("missing sessionId")
	}
	return d.SDP.Validate()
}

// Candidate is the payload of ice-candidate messages.
type Candidate struct {
	SessionID string       `json:"sessionId"`
	Candidate IceCandidate `json:"candidate"`
}

// Validate checks the session id and the candidate.
func (c Candidate) Validate() error {
	if c.SessionID == "" {
		return errors.New("missing sessionId")
	}
	return c.Candidate.Validate()
}

// ErrorPayload is a relay-reported failure.
type ErrorPayload struct {
	Message string `json:"message"`
}

package call

import "time"

// Direction says who placed the call.
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// Phase is the lifecycle position of a call session.
type Phase string

const (
	PhaseRinging   Phase = "ringing"
	PhaseActive    Phase = "active"
	PhaseRejected  Phase = "rejected"
	PhaseMissed    Phase = "missed"
	PhaseCancelled Phase = "cancelled"
	PhaseEnded     Phase = "ended"
)

// Terminal reports whether p is a call outcome from which no further
// signaling is expected.
func (p Phase) Terminal() bool {
	switch p {
	case PhaseRejected, PhaseMissed, PhaseCancelled, PhaseEnded:
		return true
	}
	return false
}

// Session is the single call the client knows about.
type Session struct {
	ID             string     `json:"id"`
	PeerIdentity   string     `json:"peer_identity"`
	Direction      Direction  `json:"direction"`
	Phase          Phase      `json:"phase"`
	StartedAt      time.Time  `json:"started_at"`
	ConnectedAt    *time.Time `json:"connected_at,omitempty"`
	ConnectionLost bool       `json:"connection_lost,omitempty"`
}

func (s *Session) clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.ConnectedAt != nil {
		at := *s.ConnectedAt
		c.ConnectedAt = &at
	}
	return &c
}

// live reports whether the session still expects signaling.
func (s *Session) live() bool {
	return s != nil && !s.Phase.Terminal()
}

func (s *Session) ringing(dir Direction) bool {
	return s != nil && s.Phase == PhaseRinging && s.Direction == dir
}

// Snapshot is what subscribers see after every change. A nil Session means
// the machine is idle.
type Snapshot struct {
	Session *Session      `json:"session,omitempty"`
	Elapsed time.Duration `json:"elapsed"`
}

// Idle reports whether no call (not even a terminal one) is shown.
func (s Snapshot) Idle() bool {
	return s.Session == nil
}

// State names the machine state: idle, outgoing, incoming, active or
// terminal(<phase>).
func (s Snapshot) State() string {
	switch {
	case s.Session == nil:
		return "idle"
	case s.Session.Phase.Terminal():
		return "terminal(" + string(s.Session.Phase) + ")"
	case s.Session.Phase == PhaseActive:
		return "active"
	default:
		return string(s.Session.Direction)
	}
}

// Package event defines the closed set of events exchanged over the realtime
// channel. Inbound and Outbound are sealed: only the types declared here
// implement them, so consumers can switch over a known, finite set.
package event

import (
	"time"

	"zchat_go/internal/domain"
)

// Wire names.
const (
	NameCallIncoming   = "call-incoming"
	NameCallAccepted   = "call-accepted"
	NameCallRejected   = "call-rejected"
	NameCallCancelled  = "call-cancelled"
	NameCallEnded      = "call-ended"
	NameTyping         = "typing"
	NameRoster         = "roster"
	NameUserOnline     = "user-online"
	NameUserOffline    = "user-offline"
	NameMessage        = "message"
	NameMessageDeleted = "message-deleted"

	NameCallInitiate = "call-initiate"
	NameCallAccept   = "call-accept"
	NameCallReject   = "call-reject"
	NameCallCancel   = "call-cancel"
	NameCallEnd      = "call-end"

	// NameDisconnected never travels on the wire.
	NameDisconnected = "disconnected"
)

// Event is implemented by every inbound and outbound event.
type Event interface {
	Name() string
	toFrame() frame
}

// Inbound is an event delivered to the client by the channel.
type Inbound interface {
	Event
	inbound()
}

// Outbound is an event the client emits through the channel.
type Outbound interface {
	Event
	outbound()
}

// ── inbound ─────────────────────────────────────────────────────────────────

// CallIncoming announces a call from PeerIdentity.
type CallIncoming struct{ PeerIdentity string }

// CallAccepted reports that PeerIdentity accepted our outgoing call.
type CallAccepted struct{ PeerIdentity string }

// CallRejected reports that PeerIdentity rejected our outgoing call.
type CallRejected struct{ PeerIdentity string }

// CallCancelled reports that PeerIdentity withdrew a call before we answered.
type CallCancelled struct{ PeerIdentity string }

// CallEnded reports that PeerIdentity hung up an active call.
type CallEnded struct{ PeerIdentity string }

// Typing carries the typing state of SenderIdentity. ConversationID is zero
// when the sender did not scope the notice to a conversation.
type Typing struct {
	SenderIdentity string
	ConversationID int64
	IsTyping       bool
}

// Roster is the full list of online identities.
type Roster struct{ Online []string }

// UserOnline adds Identity to the roster.
type UserOnline struct{ Identity string }

// UserOffline removes Identity from the roster.
type UserOffline struct{ Identity string }

// MessageCreated is a live message push.
type MessageCreated struct{ Message domain.Message }

// MessageDeleted reports a soft delete.
type MessageDeleted struct {
	ConversationID int64
	MessageID      int64
	DeletedAt      time.Time
}

// Disconnected is synthesized locally when the channel goes away. Err is nil
// for an explicit disconnect.
type Disconnected struct{ Err error }

func (CallIncoming) inbound()   {}
func (CallAccepted) inbound()   {}
func (CallRejected) inbound()   {}
func (CallCancelled) inbound()  {}
func (CallEnded) inbound()      {}
func (Typing) inbound()         {}
func (Roster) inbound()         {}
func (UserOnline) inbound()     {}
func (UserOffline) inbound()    {}
func (MessageCreated) inbound() {}
func (MessageDeleted) inbound() {}
func (Disconnected) inbound()   {}

func (CallIncoming) Name() string   { return NameCallIncoming }
func (CallAccepted) Name() string   { return NameCallAccepted }
func (CallRejected) Name() string   { return NameCallRejected }
func (CallCancelled) Name() string  { return NameCallCancelled }
func (CallEnded) Name() string      { return NameCallEnded }
func (Typing) Name() string         { return NameTyping }
func (Roster) Name() string         { return NameRoster }
func (UserOnline) Name() string     { return NameUserOnline }
func (UserOffline) Name() string    { return NameUserOffline }
func (MessageCreated) Name() string { return NameMessage }
func (MessageDeleted) Name() string { return NameMessageDeleted }
func (Disconnected) Name() string   { return NameDisconnected }

// ── outbound ────────────────────────────────────────────────────────────────

// CallInitiate rings PeerIdentity.
type CallInitiate struct{ PeerIdentity string }

// CallAccept answers the incoming call from PeerIdentity.
type CallAccept struct{ PeerIdentity string }

// CallReject declines the incoming call from PeerIdentity.
type CallReject struct{ PeerIdentity string }

// CallCancel withdraws our outgoing call to PeerIdentity.
type CallCancel struct{ PeerIdentity string }

// CallEnd hangs up the active call with PeerIdentity.
type CallEnd struct{ PeerIdentity string }

// TypingNotice tells PeerIdentity whether the local user is typing.
type TypingNotice struct {
	PeerIdentity   string
	ConversationID int64
	IsTyping       bool
}

func (CallInitiate) outbound() {}
func (CallAccept) outbound()   {}
func (CallReject) outbound()   {}
func (CallCancel) outbound()   {}
func (CallEnd) outbound()      {}
func (TypingNotice) outbound() {}

func (CallInitiate) Name() string { return NameCallInitiate }
func (CallAccept) Name() string   { return NameCallAccept }
func (CallReject) Name() string   { return NameCallReject }
func (CallCancel) Name() string   { return NameCallCancel }
func (CallEnd) Name() string      { return NameCallEnd }
func (TypingNotice) Name() string { return NameTyping }

// Peer returns the remote identity named by a call signaling event, or ""
// for events that are not call signaling.
func Peer(e Event) string {
	switch v := e.(type) {
	case CallIncoming:
		return v.PeerIdentity
	case CallAccepted:
		return v.PeerIdentity
	case CallRejected:
		return v.PeerIdentity
	case CallCancelled:
		return v.PeerIdentity
	case CallEnded:
		return v.PeerIdentity
	case CallInitiate:
		return v.PeerIdentity
	case CallAccept:
		return v.PeerIdentity
	case CallReject:
		return v.PeerIdentity
	case CallCancel:
		return v.PeerIdentity
	case CallEnd:
		return v.PeerIdentity
	case TypingNotice:
		return v.PeerIdentity
	}
	return ""
}

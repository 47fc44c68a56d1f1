package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"zchat_go/internal/domain"
)

var (
	ErrUnknownEvent   = errors.New("unknown event type")
	ErrMalformedEvent = errors.New("malformed event")
	ErrLocalOnly      = errors.New("event is local only")
)

// frame is the flat JSON shape of every event on the wire.
type frame struct {
	Type           string          `json:"type"`
	PeerIdentity   string          `json:"peerIdentity,omitempty"`
	SenderIdentity string          `json:"senderIdentity,omitempty"`
	ConversationID int64           `json:"conversationId,omitempty"`
	IsTyping       *bool           `json:"isTyping,omitempty"`
	Online         []string        `json:"online,omitempty"`
	Identity       string          `json:"identity,omitempty"`
	Message        *domain.Message `json:"message,omitempty"`
	MessageID      int64           `json:"messageId,omitempty"`
	DeletedAt      *time.Time      `json:"deletedAt,omitempty"`
}

func boolPtr(b bool) *bool { return &b }

func (e CallIncoming) toFrame() frame {
	return frame{Type: NameCallIncoming, PeerIdentity: e.PeerIdentity}
}

func (e CallAccepted) toFrame() frame {
	return frame{Type: NameCallAccepted, PeerIdentity: e.PeerIdentity}
}

func (e CallRejected) toFrame() frame {
	return frame{Type: NameCallRejected, PeerIdentity: e.PeerIdentity}
}

func (e CallCancelled) toFrame() frame {
	return frame{Type: NameCallCancelled, PeerIdentity: e.PeerIdentity}
}

func (e CallEnded) toFrame() frame {
	return frame{Type: NameCallEnded, PeerIdentity: e.PeerIdentity}
}

func (e Roster) toFrame() frame {
	return frame{Type: NameRoster, Online: e.Online}
}

func (e UserOnline) toFrame() frame {
	return frame{Type: NameUserOnline, Identity: e.Identity}
}

func (e UserOffline) toFrame() frame {
	return frame{Type: NameUserOffline, Identity: e.Identity}
}

func (e Disconnected) toFrame() frame {
	return frame{Type: NameDisconnected}
}

func (e Typing) toFrame() frame {
	return frame{
		Type:           NameTyping,
		SenderIdentity: e.SenderIdentity,
		ConversationID: e.ConversationID,
		IsTyping:       boolPtr(e.IsTyping),
	}
}

func (e MessageCreated) toFrame() frame {
	m := e.Message
	return frame{Type: NameMessage, Message: &m}
}

func (e MessageDeleted) toFrame() frame {
	at := e.DeletedAt
	return frame{
		Type:           NameMessageDeleted,
		ConversationID: e.ConversationID,
		MessageID:      e.MessageID,
		DeletedAt:      &at,
	}
}

func (e CallInitiate) toFrame() frame {
	return frame{Type: NameCallInitiate, PeerIdentity: e.PeerIdentity}
}

func (e CallAccept) toFrame() frame {
	return frame{Type: NameCallAccept, PeerIdentity: e.PeerIdentity}
}

func (e CallReject) toFrame() frame {
	return frame{Type: NameCallReject, PeerIdentity: e.PeerIdentity}
}

func (e CallCancel) toFrame() frame {
	return frame{Type: NameCallCancel, PeerIdentity: e.PeerIdentity}
}

func (e CallEnd) toFrame() frame {
	return frame{Type: NameCallEnd, PeerIdentity: e.PeerIdentity}
}

func (e TypingNotice) toFrame() frame {
	return frame{
		Type:           NameTyping,
		PeerIdentity:   e.PeerIdentity,
		ConversationID: e.ConversationID,
		IsTyping:       boolPtr(e.IsTyping),
	}
}

// Encode produces the wire frame for e.
func Encode(e Event) ([]byte, error) {
	if _, ok := e.(Disconnected); ok {
		return nil, ErrLocalOnly
	}
	return json.Marshal(e.toFrame())
}

func malformed(name, why string) error {
	return fmt.Errorf("%w: %s: %s", ErrMalformedEvent, name, why)
}

func parseFrame(data []byte) (frame, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return frame{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if f.Type == "" {
		return frame{}, malformed("?", "missing type")
	}
	return f, nil
}

// Decode parses an inbound wire frame.
func Decode(data []byte) (Inbound, error) {
	f, err := parseFrame(data)
	if err != nil {
		return nil, err
	}

	switch f.Type {
	case NameCallIncoming, NameCallAccepted, NameCallRejected, NameCallCancelled, NameCallEnded:
		if f.PeerIdentity == "" {
			return nil, malformed(f.Type, "missing peerIdentity")
		}
		switch f.Type {
		case NameCallIncoming:
			return CallIncoming{PeerIdentity: f.PeerIdentity}, nil
		case NameCallAccepted:
			return CallAccepted{PeerIdentity: f.PeerIdentity}, nil
		case NameCallRejected:
			return CallRejected{PeerIdentity: f.PeerIdentity}, nil
		case NameCallCancelled:
			return CallCancelled{PeerIdentity: f.PeerIdentity}, nil
		default:
			return CallEnded{PeerIdentity: f.PeerIdentity}, nil
		}

	case NameTyping:
		if f.SenderIdentity == "" || f.IsTyping == nil {
			return nil, malformed(f.Type, "requires senderIdentity and isTyping")
		}
		return Typing{SenderIdentity: f.SenderIdentity, ConversationID: f.ConversationID, IsTyping: *f.IsTyping}, nil

	case NameRoster:
		online := f.Online
		if online == nil {
			online = []string{}
		}
		return Roster{Online: online}, nil

	case NameUserOnline, NameUserOffline:
		if f.Identity == "" {
			return nil, malformed(f.Type, "missing identity")
		}
		if f.Type == NameUserOnline {
			return UserOnline{Identity: f.Identity}, nil
		}
		return UserOffline{Identity: f.Identity}, nil

	case NameMessage:
		if f.Message == nil || f.Message.ID <= 0 {
			return nil, malformed(f.Type, "missing message")
		}
		return MessageCreated{Message: *f.Message}, nil

	case NameMessageDeleted:
		if f.MessageID <= 0 || f.DeletedAt == nil {
			return nil, malformed(f.Type, "requires messageId and deletedAt")
		}
		return MessageDeleted{ConversationID: f.ConversationID, MessageID: f.MessageID, DeletedAt: *f.DeletedAt}, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, f.Type)
}

// DecodeOutbound parses a frame emitted by a client. The relay uses it.
func DecodeOutbound(data []byte) (Outbound, error) {
	f, err := parseFrame(data)
	if err != nil {
		return nil, err
	}

	switch f.Type {
	case NameCallInitiate, NameCallAccept, NameCallReject, NameCallCancel, NameCallEnd:
		if f.PeerIdentity == "" {
			return nil, malformed(f.Type, "missing peerIdentity")
		}
		switch f.Type {
		case NameCallInitiate:
			return CallInitiate{PeerIdentity: f.PeerIdentity}, nil
		case NameCallAccept:
			return CallAccept{PeerIdentity: f.PeerIdentity}, nil
		case NameCallReject:
			return CallReject{PeerIdentity: f.PeerIdentity}, nil
		case NameCallCancel:
			return CallCancel{PeerIdentity: f.PeerIdentity}, nil
		default:
			return CallEnd{PeerIdentity: f.PeerIdentity}, nil
		}

	case NameTyping:
		if f.PeerIdentity == "" || f.IsTyping == nil {
			return nil, malformed(f.Type, "requires peerIdentity and isTyping")
		}
		return TypingNotice{PeerIdentity: f.PeerIdentity, ConversationID: f.ConversationID, IsTyping: *f.IsTyping}, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, f.Type)
}

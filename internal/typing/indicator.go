// Package typing relays the remote peer's typing state for the open
// conversation. There is no debounce and no expiry: if the peer never sends
// isTyping=false the indicator stays on until the next notice or a
// conversation switch.
package typing

import (
	"context"
	"log/slog"
	"sync"

	"zchat_go/internal/event"
	"zchat_go/pkg/logger"
)

// Sender emits the local user's typing notices.
type Sender interface {
	Send(e event.Outbound) error
}

// Indicator holds the typing boolean for the active (conversation, peer).
type Indicator struct {
	sender Sender
	log    *slog.Logger

	mu             sync.Mutex
	conversationID int64
	peer           string
	typing         bool

	listenerMu sync.RWMutex
	listeners  map[chan bool]struct{}
}

// New creates an Indicator with no active conversation. sender may be nil
// when the host never reports local typing.
func New(sender Sender, l *slog.Logger) *Indicator {
	return &Indicator{
		sender:    sender,
		log:       logger.OrDiscard(l).With("component", "typing"),
		listeners: make(map[chan bool]struct{}),
	}
}

// SetConversation scopes the indicator to peer in conversationID and
// resets the state to false.
func (i *Indicator) SetConversation(conversationID int64, peer string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	changed := i.typing
	i.conversationID = conversationID
	i.peer = peer
	i.typing = false
	if changed {
		i.publishLocked()
	}
}

// Typing is the derived boolean for the rendering layer.
func (i *Indicator) Typing() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.typing
}

// Handle applies an inbound typing event. Events from any identity other
// than the active peer are discarded, as are events scoped to another
// conversation.
func (i *Indicator) Handle(e event.Typing) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.peer == "" || e.SenderIdentity != i.peer {
		return
	}
	if e.ConversationID != 0 && i.conversationID != 0 && e.ConversationID != i.conversationID {
		return
	}
	if i.typing == e.IsTyping {
		return
	}
	i.typing = e.IsTyping
	i.publishLocked()
}

// Notify tells the active peer whether the local user is typing. It is a
// no-op without an active conversation.
func (i *Indicator) Notify(_ context.Context, isTyping bool) error {
	i.mu.Lock()
	peer, convID := i.peer, i.conversationID
	i.mu.Unlock()

	if peer == "" || i.sender == nil {
		return nil
	}
	return i.sender.Send(event.TypingNotice{
		PeerIdentity:   peer,
		ConversationID: convID,
		IsTyping:       isTyping,
	})
}

// Subscribe returns a channel receiving every change of the boolean.
func (i *Indicator) Subscribe() (<-chan bool, func()) {
	ch := make(chan bool, 8)
	i.listenerMu.Lock()
	i.listeners[ch] = struct{}{}
	i.listenerMu.Unlock()

	cancel := func() {
		i.listenerMu.Lock()
		if _, ok := i.listeners[ch]; ok {
			delete(i.listeners, ch)
			close(ch)
		}
		i.listenerMu.Unlock()
	}
	return ch, cancel
}

// publishLocked sends the current value to every listener. Callers hold i.mu
// so listeners observe changes in the order they were applied.
func (i *Indicator) publishLocked() {
	v := i.typing
	i.listenerMu.RLock()
	defer i.listenerMu.RUnlock()
	for ch := range i.listeners {
		select {
		case ch <- v:
		default:
			i.log.Debug("typing listener full, dropping")
		}
	}
}

// Package call implements the client-side call signaling state machine.
// One Machine exists per client; it holds at most one call session and is the
// only writer of call state. Channel events and local intents both funnel
// through its transition methods.
package call

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"zchat_go/internal/event"
	"zchat_go/pkg/logger"
)

// DefaultRingTimeout is how long an outgoing call rings before it is
// treated as missed.
const DefaultRingTimeout = 30 * time.Second

var (
	ErrPeerOffline    = errors.New("peer is offline")
	ErrCallInProgress = errors.New("a call is already in progress")
	ErrNoTransition   = errors.New("action not allowed in current call state")
	ErrEmptyPeer      = errors.New("peer identity is required")
)

// Channel is what the machine needs from the channel session.
type Channel interface {
	Send(e event.Outbound) error
	Online(identity string) bool
}

// Option configures a Machine.
type Option func(*Machine)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c clock.Clock) Option {
	return func(m *Machine) { m.clock = c }
}

// WithRingTimeout overrides DefaultRingTimeout.
func WithRingTimeout(d time.Duration) Option {
	return func(m *Machine) {
		if d > 0 {
			m.ringTimeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Machine) { m.log = logger.OrDiscard(l).With("component", "call") }
}

// Machine is the call signaling state machine.
type Machine struct {
	ch          Channel
	clock       clock.Clock
	ringTimeout time.Duration
	log         *slog.Logger

	mu        sync.Mutex
	session   *Session
	elapsed   time.Duration
	ringTimer *clock.Timer
	ticker    *clock.Ticker
	tickStop  chan struct{}
	closed    bool

	listenerMu sync.RWMutex
	listeners  map[chan Snapshot]struct{}
}

// New creates an idle Machine emitting through ch.
func New(ch Channel, opts ...Option) *Machine {
	m := &Machine{
		ch:          ch,
		clock:       clock.New(),
		ringTimeout: DefaultRingTimeout,
		log:         logger.Discard(),
		listeners:   make(map[chan Snapshot]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Current returns the present snapshot.
func (m *Machine) Current() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Elapsed returns the display duration of the active call; zero otherwise.
func (m *Machine) Elapsed() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.elapsed
}

// Subscribe returns a channel of snapshots and a cancel function.
func (m *Machine) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 32)
	m.listenerMu.Lock()
	m.listeners[ch] = struct{}{}
	m.listenerMu.Unlock()

	cancel := func() {
		m.listenerMu.Lock()
		if _, ok := m.listeners[ch]; ok {
			delete(m.listeners, ch)
			close(ch)
		}
		m.listenerMu.Unlock()
	}
	return ch, cancel
}

// Close stops timers and closes all subscriber channels.
func (m *Machine) Close() {
	m.mu.Lock()
	m.closed = true
	m.stopTimersLocked()
	m.mu.Unlock()

	m.listenerMu.Lock()
	for ch := range m.listeners {
		close(ch)
	}
	m.listeners = make(map[chan Snapshot]struct{})
	m.listenerMu.Unlock()
}

// ── local intents ───────────────────────────────────────────────────────────

// Call rings peer. It fails synchronously, without any state change or
// emit, when a non-terminal call exists or the peer is not online.
func (m *Machine) Call(peer string) error {
	if peer == "" {
		return ErrEmptyPeer
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dialLocked(peer)
}

// Redial places a fresh call to the peer of the terminal session on display.
func (m *Machine) Redial() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil || !m.session.Phase.Terminal() {
		return ErrNoTransition
	}
	return m.dialLocked(m.session.PeerIdentity)
}

func (m *Machine) dialLocked(peer string) error {
	if m.session.live() {
		return fmt.Errorf("%w: with %s", ErrCallInProgress, m.session.PeerIdentity)
	}
	if !m.ch.Online(peer) {
		return fmt.Errorf("%w: %s", ErrPeerOffline, peer)
	}
	if err := m.ch.Send(event.CallInitiate{PeerIdentity: peer}); err != nil {
		return fmt.Errorf("send call-initiate: %w", err)
	}
	m.enterLocked(&Session{
		ID:           uuid.NewString(),
		PeerIdentity: peer,
		Direction:    DirectionOutgoing,
		Phase:        PhaseRinging,
		StartedAt:    m.clock.Now(),
	})
	return nil
}

// Accept answers the ringing incoming call.
func (m *Machine) Accept() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.session.ringing(DirectionIncoming) {
		return ErrNoTransition
	}
	if err := m.ch.Send(event.CallAccept{PeerIdentity: m.session.PeerIdentity}); err != nil {
		return fmt.Errorf("send call-accept: %w", err)
	}
	m.activateLocked()
	return nil
}

// Reject declines the ringing incoming call.
func (m *Machine) Reject() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.session.ringing(DirectionIncoming) {
		return ErrNoTransition
	}
	m.sendBestEffortLocked(event.CallReject{PeerIdentity: m.session.PeerIdentity})
	m.terminateLocked(PhaseRejected, false)
	return nil
}

// Cancel withdraws the ringing outgoing call.
func (m *Machine) Cancel() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.session.ringing(DirectionOutgoing) {
		return ErrNoTransition
	}
	m.sendBestEffortLocked(event.CallCancel{PeerIdentity: m.session.PeerIdentity})
	m.terminateLocked(PhaseCancelled, false)
	return nil
}

// End hangs up the active call.
func (m *Machine) End() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil || m.session.Phase != PhaseActive {
		return ErrNoTransition
	}
	m.sendBestEffortLocked(event.CallEnd{PeerIdentity: m.session.PeerIdentity})
	m.terminateLocked(PhaseEnded, false)
	return nil
}

// Dismiss clears a terminal session back to idle.
func (m *Machine) Dismiss() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil || !m.session.Phase.Terminal() {
		return ErrNoTransition
	}
	m.enterLocked(nil)
	return nil
}

// ── inbound events ──────────────────────────────────────────────────────────

// Handle applies one inbound channel event. Events that do not fit the
// current state are expected under network jitter and are dropped.
func (m *Machine) Handle(e event.Inbound) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch v := e.(type) {
	case event.CallIncoming:
		m.onIncomingLocked(v.PeerIdentity)

	case event.CallAccepted:
		if m.session.ringing(DirectionOutgoing) && m.session.PeerIdentity == v.PeerIdentity {
			m.activateLocked()
			return
		}
		m.staleLocked(e)

	case event.CallRejected:
		if m.session.ringing(DirectionOutgoing) && m.session.PeerIdentity == v.PeerIdentity {
			m.terminateLocked(PhaseRejected, false)
			return
		}
		m.staleLocked(e)

	case event.CallCancelled:
		if m.session.ringing(DirectionIncoming) && m.session.PeerIdentity == v.PeerIdentity {
			m.terminateLocked(PhaseCancelled, false)
			return
		}
		m.staleLocked(e)

	case event.CallEnded:
		if m.session != nil && m.session.Phase == PhaseActive && m.session.PeerIdentity == v.PeerIdentity {
			m.terminateLocked(PhaseEnded, false)
			return
		}
		m.staleLocked(e)

	case event.Disconnected:
		if m.session.live() {
			m.log.Warn("channel lost during call", "peer", m.session.PeerIdentity, "phase", m.session.Phase)
			m.terminateLocked(PhaseEnded, true)
		}

	case event.Typing, event.Roster, event.UserOnline, event.UserOffline,
		event.MessageCreated, event.MessageDeleted:
		// not call signaling
	}
}

func (m *Machine) onIncomingLocked(peer string) {
	if m.session.live() {
		if m.session.ringing(DirectionIncoming) && m.session.PeerIdentity == peer {
			m.staleLocked(event.CallIncoming{PeerIdentity: peer})
			return
		}
		m.log.Info("busy, rejecting incoming call", "peer", peer, "current", m.session.PeerIdentity)
		m.sendBestEffortLocked(event.CallReject{PeerIdentity: peer})
		return
	}
	m.enterLocked(&Session{
		ID:           uuid.NewString(),
		PeerIdentity: peer,
		Direction:    DirectionIncoming,
		Phase:        PhaseRinging,
		StartedAt:    m.clock.Now(),
	})
}

func (m *Machine) staleLocked(e event.Inbound) {
	var phase Phase
	if m.session != nil {
		phase = m.session.Phase
	}
	m.log.Debug("ignoring stale call event", "event", e.Name(), "peer", event.Peer(e), "phase", phase)
}

func (m *Machine) sendBestEffortLocked(e event.Outbound) {
	if err := m.ch.Send(e); err != nil {
		m.log.Warn("emit failed", "event", e.Name(), "peer", event.Peer(e), "error", err)
	}
}

// ── transitions ─────────────────────────────────────────────────────────────

func (m *Machine) activateLocked() {
	next := m.session.clone()
	now := m.clock.Now()
	next.Phase = PhaseActive
	next.ConnectedAt = &now
	m.enterLocked(next)
}

func (m *Machine) terminateLocked(phase Phase, connectionLost bool) {
	next := m.session.clone()
	next.Phase = phase
	next.ConnectionLost = connectionLost
	m.enterLocked(next)
}

// enterLocked installs next as the current session. Every scheduled task
// belongs to the state being left and is cancelled here; the new state's
// tasks are started afterwards.
func (m *Machine) enterLocked(next *Session) {
	m.stopTimersLocked()
	m.elapsed = 0
	m.session = next

	if next != nil && !m.closed {
		switch {
		case next.ringing(DirectionOutgoing):
			id := next.ID
			m.ringTimer = m.clock.AfterFunc(m.ringTimeout, func() { m.onRingTimeout(id) })
		case next.Phase == PhaseActive:
			m.startTickerLocked(next.ID)
		}
	}

	if next != nil {
		m.log.Info("call state", "id", next.ID, "peer", next.PeerIdentity,
			"direction", next.Direction, "phase", next.Phase, "connection_lost", next.ConnectionLost)
	} else {
		m.log.Info("call state", "phase", "idle")
	}
	m.publishLocked()
}

func (m *Machine) onRingTimeout(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil || m.session.ID != id || !m.session.ringing(DirectionOutgoing) {
		return
	}
	m.sendBestEffortLocked(event.CallCancel{PeerIdentity: m.session.PeerIdentity})
	m.terminateLocked(PhaseMissed, false)
}

func (m *Machine) startTickerLocked(id string) {
	t := m.clock.Ticker(time.Second)
	stop := make(chan struct{})
	m.ticker = t
	m.tickStop = stop

	go func() {
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				m.mu.Lock()
				if m.session != nil && m.session.ID == id && m.session.Phase == PhaseActive {
					m.elapsed += time.Second
					m.publishLocked()
				}
				m.mu.Unlock()
			}
		}
	}()
}

func (m *Machine) stopTimersLocked() {
	if m.ringTimer != nil {
		m.ringTimer.Stop()
		m.ringTimer = nil
	}
	if m.ticker != nil {
		m.ticker.Stop()
		close(m.tickStop)
		m.ticker = nil
		m.tickStop = nil
	}
}

func (m *Machine) snapshotLocked() Snapshot {
	return Snapshot{Session: m.session.clone(), Elapsed: m.elapsed}
}

func (m *Machine) publishLocked() {
	snap := m.snapshotLocked()
	m.listenerMu.RLock()
	defer m.listenerMu.RUnlock()
	for ch := range m.listeners {
		select {
		case ch <- snap:
		default:
			m.log.Debug("snapshot listener full, dropping")
		}
	}
}

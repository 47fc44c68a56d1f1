package call

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zchat_go/internal/domain"
	"zchat_go/internal/event"
)

type fakeChannel struct {
	mu      sync.Mutex
	online  map[string]bool
	sent    []event.Outbound
	sendErr error
}

func newFakeChannel(online ...string) *fakeChannel {
	f := &fakeChannel{online: make(map[string]bool)}
	for _, id := range online {
		f.online[id] = true
	}
	return f
}

func (f *fakeChannel) Send(e event.Outbound) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, e)
	return nil
}

func (f *fakeChannel) Online(identity string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.online[identity]
}

func (f *fakeChannel) Sent() []event.Outbound {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]event.Outbound(nil), f.sent...)
}

const (
	alice = "alice@example.com"
	bob   = "bob@example.com"
	carol = "carol@example.com"
)

func newTestMachine(t *testing.T, online ...string) (*Machine, *fakeChannel, *clock.Mock) {
	t.Helper()
	ch := newFakeChannel(online...)
	clk := clock.NewMock()
	m := New(ch, WithClock(clk), WithRingTimeout(30*time.Second))
	t.Cleanup(m.Close)
	return m, ch, clk
}

func phaseOf(m *Machine) Phase {
	snap := m.Current()
	if snap.Session == nil {
		return ""
	}
	return snap.Session.Phase
}

func TestCallOfflinePeer(t *testing.T) {
	m, ch, _ := newTestMachine(t)

	err := m.Call(bob)
	assert.ErrorIs(t, err, ErrPeerOffline)
	assert.True(t, m.Current().Idle())
	assert.Empty(t, ch.Sent())
}

func TestCallTwiceKeepsOneSession(t *testing.T) {
	m, ch, _ := newTestMachine(t, bob, carol)

	require.NoError(t, m.Call(bob))
	first := m.Current().Session

	err := m.Call(carol)
	assert.ErrorIs(t, err, ErrCallInProgress)

	err = m.Call(bob)
	assert.ErrorIs(t, err, ErrCallInProgress)

	snap := m.Current()
	require.NotNil(t, snap.Session)
	assert.Equal(t, first.ID, snap.Session.ID)
	assert.Equal(t, bob, snap.Session.PeerIdentity)
	assert.Equal(t, "outgoing", snap.State())
	assert.Equal(t, []event.Outbound{event.CallInitiate{PeerIdentity: bob}}, ch.Sent())
}

func TestCallSendFailureLeavesIdle(t *testing.T) {
	m, ch, _ := newTestMachine(t, bob)
	ch.sendErr = errors.New("socket closed")

	err := m.Call(bob)
	assert.Error(t, err)
	assert.True(t, m.Current().Idle())
}

func TestRejectedThenRedial(t *testing.T) {
	m, ch, _ := newTestMachine(t, bob)

	require.NoError(t, m.Call(bob))
	firstID := m.Current().Session.ID

	m.Handle(event.CallRejected{PeerIdentity: bob})
	assert.Equal(t, PhaseRejected, phaseOf(m))
	assert.Equal(t, "terminal(rejected)", m.Current().State())

	require.NoError(t, m.Redial())
	snap := m.Current()
	assert.Equal(t, PhaseRinging, snap.Session.Phase)
	assert.Equal(t, DirectionOutgoing, snap.Session.Direction)
	assert.NotEqual(t, firstID, snap.Session.ID)
	assert.Equal(t, []event.Outbound{
		event.CallInitiate{PeerIdentity: bob},
		event.CallInitiate{PeerIdentity: bob},
	}, ch.Sent())
}

func TestRedialRequiresTerminal(t *testing.T) {
	m, _, _ := newTestMachine(t, bob)
	assert.ErrorIs(t, m.Redial(), ErrNoTransition)

	require.NoError(t, m.Call(bob))
	assert.ErrorIs(t, m.Redial(), ErrNoTransition)
}

func TestAcceptedCallTicksAndEnds(t *testing.T) {
	m, ch, clk := newTestMachine(t, bob)

	require.NoError(t, m.Call(bob))
	m.Handle(event.CallAccepted{PeerIdentity: bob})

	snap := m.Current()
	require.Equal(t, PhaseActive, snap.Session.Phase)
	require.NotNil(t, snap.Session.ConnectedAt)

	for i := 1; i <= 3; i++ {
		clk.Add(time.Second)
		want := time.Duration(i) * time.Second
		assert.Eventually(t, func() bool { return m.Elapsed() == want }, time.Second, 5*time.Millisecond)
	}

	require.NoError(t, m.End())
	assert.Equal(t, PhaseEnded, phaseOf(m))
	assert.Zero(t, m.Elapsed())
	assert.False(t, m.Current().Session.ConnectionLost)
	assert.Equal(t, event.CallEnd{PeerIdentity: bob}, ch.Sent()[1])

	clk.Add(5 * time.Second)
	time.Sleep(10 * time.Millisecond)
	assert.Zero(t, m.Elapsed())
}

func TestRingTimeoutMarksMissed(t *testing.T) {
	m, ch, clk := newTestMachine(t, bob)

	require.NoError(t, m.Call(bob))
	clk.Add(29 * time.Second)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, PhaseRinging, phaseOf(m))

	clk.Add(time.Second)
	assert.Eventually(t, func() bool { return phaseOf(m) == PhaseMissed }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []event.Outbound{
		event.CallInitiate{PeerIdentity: bob},
		event.CallCancel{PeerIdentity: bob},
	}, ch.Sent())
}

func TestCancelStopsRingTimer(t *testing.T) {
	m, ch, clk := newTestMachine(t, bob)

	require.NoError(t, m.Call(bob))
	require.NoError(t, m.Cancel())
	assert.Equal(t, PhaseCancelled, phaseOf(m))

	clk.Add(time.Minute)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, PhaseCancelled, phaseOf(m))
	assert.Len(t, ch.Sent(), 2)
}

func TestLateAcceptAfterCancelIsIgnored(t *testing.T) {
	m, ch, _ := newTestMachine(t, bob)

	require.NoError(t, m.Call(bob))
	require.NoError(t, m.Cancel())
	m.Handle(event.CallAccepted{PeerIdentity: bob})

	assert.Equal(t, PhaseCancelled, phaseOf(m))
	assert.Nil(t, m.Current().Session.ConnectedAt)
	assert.Len(t, ch.Sent(), 2)
}

func TestAcceptFromOtherPeerIsIgnored(t *testing.T) {
	m, _, _ := newTestMachine(t, bob)

	require.NoError(t, m.Call(bob))
	m.Handle(event.CallAccepted{PeerIdentity: carol})
	assert.Equal(t, PhaseRinging, phaseOf(m))
}

func TestIncomingAcceptReject(t *testing.T) {
	t.Run("Accept", func(t *testing.T) {
		m, ch, _ := newTestMachine(t)
		m.Handle(event.CallIncoming{PeerIdentity: alice})
		assert.Equal(t, "incoming", m.Current().State())

		require.NoError(t, m.Accept())
		assert.Equal(t, PhaseActive, phaseOf(m))
		assert.Equal(t, []event.Outbound{event.CallAccept{PeerIdentity: alice}}, ch.Sent())

		m.Handle(event.CallEnded{PeerIdentity: alice})
		assert.Equal(t, PhaseEnded, phaseOf(m))
		assert.Len(t, ch.Sent(), 1, "remote hang-up is not echoed")
	})

	t.Run("Reject", func(t *testing.T) {
		m, ch, _ := newTestMachine(t)
		m.Handle(event.CallIncoming{PeerIdentity: alice})

		require.NoError(t, m.Reject())
		assert.Equal(t, PhaseRejected, phaseOf(m))
		assert.Equal(t, []event.Outbound{event.CallReject{PeerIdentity: alice}}, ch.Sent())
	})

	t.Run("CancelledByCaller", func(t *testing.T) {
		m, ch, _ := newTestMachine(t)
		m.Handle(event.CallIncoming{PeerIdentity: alice})
		m.Handle(event.CallCancelled{PeerIdentity: alice})

		assert.Equal(t, PhaseCancelled, phaseOf(m))
		assert.Empty(t, ch.Sent())
		assert.ErrorIs(t, m.Accept(), ErrNoTransition)
	})
}

func TestIncomingWhileBusyIsAutoRejected(t *testing.T) {
	m, ch, _ := newTestMachine(t, bob)

	require.NoError(t, m.Call(bob))
	m.Handle(event.CallIncoming{PeerIdentity: carol})

	snap := m.Current()
	assert.Equal(t, bob, snap.Session.PeerIdentity)
	assert.Equal(t, PhaseRinging, snap.Session.Phase)
	assert.Equal(t, event.CallReject{PeerIdentity: carol}, ch.Sent()[1])
}

func TestIncomingReplacesTerminal(t *testing.T) {
	m, _, _ := newTestMachine(t, bob)

	require.NoError(t, m.Call(bob))
	m.Handle(event.CallRejected{PeerIdentity: bob})
	m.Handle(event.CallIncoming{PeerIdentity: carol})

	snap := m.Current()
	assert.Equal(t, carol, snap.Session.PeerIdentity)
	assert.Equal(t, "incoming", snap.State())
}

func TestDisconnectEndsLiveCall(t *testing.T) {
	for _, setup := range []struct {
		name string
		run  func(m *Machine)
	}{
		{"Outgoing", func(m *Machine) { _ = m.Call(bob) }},
		{"Incoming", func(m *Machine) { m.Handle(event.CallIncoming{PeerIdentity: bob}) }},
		{"Active", func(m *Machine) {
			_ = m.Call(bob)
			m.Handle(event.CallAccepted{PeerIdentity: bob})
		}},
	} {
		t.Run(setup.name, func(t *testing.T) {
			m, ch, _ := newTestMachine(t, bob)
			setup.run(m)
			sentBefore := len(ch.Sent())

			m.Handle(event.Disconnected{Err: errors.New("read: connection reset")})

			snap := m.Current()
			assert.Equal(t, PhaseEnded, snap.Session.Phase)
			assert.True(t, snap.Session.ConnectionLost)
			assert.Zero(t, snap.Elapsed)
			assert.Len(t, ch.Sent(), sentBefore)
		})
	}
}

func TestDisconnectWhileTerminalKeepsOutcome(t *testing.T) {
	m, _, _ := newTestMachine(t, bob)
	require.NoError(t, m.Call(bob))
	m.Handle(event.CallRejected{PeerIdentity: bob})

	m.Handle(event.Disconnected{})
	assert.Equal(t, PhaseRejected, phaseOf(m))
	assert.False(t, m.Current().Session.ConnectionLost)
}

func TestDismiss(t *testing.T) {
	m, _, _ := newTestMachine(t, bob)
	assert.ErrorIs(t, m.Dismiss(), ErrNoTransition)

	require.NoError(t, m.Call(bob))
	assert.ErrorIs(t, m.Dismiss(), ErrNoTransition)

	m.Handle(event.CallRejected{PeerIdentity: bob})
	require.NoError(t, m.Dismiss())
	assert.True(t, m.Current().Idle())
}

func TestInterleavedEventsDoNotAffectPhase(t *testing.T) {
	run := func(noise bool) Snapshot {
		m, _, _ := newTestMachine(t, bob)
		sprinkle := func() {
			if !noise {
				return
			}
			m.Handle(event.Typing{SenderIdentity: bob, IsTyping: true})
			m.Handle(event.MessageCreated{Message: domain.Message{ID: 7, ConversationID: 1}})
			m.Handle(event.UserOnline{Identity: carol})
		}
		require.NoError(t, m.Call(bob))
		sprinkle()
		m.Handle(event.CallAccepted{PeerIdentity: bob})
		sprinkle()
		m.Handle(event.CallEnded{PeerIdentity: bob})
		sprinkle()
		return m.Current()
	}

	quiet, noisy := run(false), run(true)
	assert.Equal(t, quiet.State(), noisy.State())
	assert.Equal(t, PhaseEnded, noisy.Session.Phase)
}

func TestSubscribeReceivesTransitions(t *testing.T) {
	m, _, _ := newTestMachine(t, bob)
	ch, cancel := m.Subscribe()
	defer cancel()

	require.NoError(t, m.Call(bob))
	m.Handle(event.CallRejected{PeerIdentity: bob})
	require.NoError(t, m.Dismiss())

	var states []string
	for i := 0; i < 3; i++ {
		select {
		case snap := <-ch:
			states = append(states, snap.State())
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for snapshot")
		}
	}
	assert.Equal(t, []string{"outgoing", "terminal(rejected)", "idle"}, states)
}

package conversation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zchat_go/internal/call"
	"zchat_go/internal/domain"
	"zchat_go/internal/event"
	"zchat_go/internal/media"
	"zchat_go/internal/timeline"
)

const bob = "bob@example.com"

type fakeChannel struct {
	mu     sync.Mutex
	sent   []event.Outbound
	events chan event.Inbound
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{events: make(chan event.Inbound, 16)}
}

func (f *fakeChannel) Send(e event.Outbound) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, e)
	return nil
}

func (f *fakeChannel) Online(string) bool { return true }

func (f *fakeChannel) Subscribe() (<-chan event.Inbound, func()) {
	return f.events, func() {}
}

// blockingFetcher serves one history page per conversation, or blocks until
// the request context ends when block is set.
type blockingFetcher struct {
	mu      sync.Mutex
	block   bool
	started chan struct{}
	history map[int64][]domain.Message
}

func (f *blockingFetcher) wait(ctx context.Context) error {
	f.mu.Lock()
	block := f.block
	f.mu.Unlock()
	if !block {
		return nil
	}
	f.started <- struct{}{}
	<-ctx.Done()
	return ctx.Err()
}

func (f *blockingFetcher) FetchOlder(ctx context.Context, conversationID, cursor int64) (timeline.HistoryPage, error) {
	if err := f.wait(ctx); err != nil {
		return timeline.HistoryPage{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return timeline.HistoryPage{Messages: f.history[conversationID], HasMore: false}, nil
}

func (f *blockingFetcher) FetchMedia(ctx context.Context, conversationID int64, kind domain.MediaKind, cursor int64) (media.Page[domain.MediaItem], error) {
	if err := f.wait(ctx); err != nil {
		return media.Page[domain.MediaItem]{}, err
	}
	return media.Page[domain.MediaItem]{Items: []domain.MediaItem{{MessageID: 3, Name: "a.png"}}}, nil
}

var at = time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

func newTestClient(t *testing.T) (*Client, *fakeChannel, *blockingFetcher) {
	t.Helper()
	ch := newFakeChannel()
	f := &blockingFetcher{
		started: make(chan struct{}, 1),
		history: map[int64][]domain.Message{
			1: {{ID: 2, ConversationID: 1, SenderID: 7, SentAt: at, Content: "hi", Type: domain.MessageTypeText}},
		},
	}
	c := New(ch, f, WithCallOptions(call.WithClock(clock.NewMock())))
	t.Cleanup(c.Close)
	return c, ch, f
}

func TestOpenLoadsHistoryAndResets(t *testing.T) {
	c, _, _ := newTestClient(t)

	require.NoError(t, c.Open(context.Background(), 1, bob))
	require.Len(t, c.Timeline().Messages(), 1)

	c.Dispatch(event.Typing{SenderIdentity: bob, ConversationID: 1, IsTyping: true})
	assert.True(t, c.Typing().Typing())

	require.NoError(t, c.Open(context.Background(), 2, "carol@example.com"))
	assert.Empty(t, c.Timeline().Messages())
	assert.False(t, c.Typing().Typing())
}

func TestRunRoutesEventsInOrder(t *testing.T) {
	c, ch, _ := newTestClient(t)
	require.NoError(t, c.Open(context.Background(), 1, bob))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	ch.events <- event.MessageCreated{Message: domain.Message{ID: 5, ConversationID: 1, SenderID: 9, SentAt: at, Content: "new", Type: domain.MessageTypeText}}
	ch.events <- event.MessageDeleted{ConversationID: 1, MessageID: 2, DeletedAt: at}
	ch.events <- event.CallIncoming{PeerIdentity: bob}

	assert.Eventually(t, func() bool {
		return c.Calls().Current().State() == "incoming"
	}, time.Second, 5*time.Millisecond)

	msgs := c.Timeline().Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, int64(5), msgs[0].ID)
	assert.True(t, msgs[1].IsDeleted())

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestDisconnectEndsCallAndFailsFetch(t *testing.T) {
	c, _, f := newTestClient(t)
	require.NoError(t, c.Open(context.Background(), 1, bob))
	c.Dispatch(event.CallIncoming{PeerIdentity: bob})
	require.NoError(t, c.Calls().Accept())

	f.mu.Lock()
	f.block = true
	f.mu.Unlock()

	errCh := make(chan error, 1)
	go func() { errCh <- c.OpenMedia(context.Background(), domain.MediaKindImage) }()
	<-f.started

	c.Dispatch(event.Disconnected{})

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("fetch was not cancelled")
	}
	assert.ErrorIs(t, c.Media().Err(), context.Canceled)

	snap := c.Calls().Current()
	require.NotNil(t, snap.Session)
	assert.Equal(t, call.PhaseEnded, snap.Session.Phase)
	assert.True(t, snap.Session.ConnectionLost)

	// A retry after the disconnect gets a fresh context.
	f.mu.Lock()
	f.block = false
	f.mu.Unlock()
	require.NoError(t, c.OpenMedia(context.Background(), domain.MediaKindImage))
	assert.Len(t, c.Media().Items(), 1)
}

func TestOpenMediaRequiresConversation(t *testing.T) {
	c, _, _ := newTestClient(t)
	assert.ErrorIs(t, c.OpenMedia(context.Background(), domain.MediaKindFile), ErrNoConversation)
}

func TestSetTypingNotifiesPeer(t *testing.T) {
	c, ch, _ := newTestClient(t)
	require.NoError(t, c.Open(context.Background(), 1, bob))
	require.NoError(t, c.SetTyping(context.Background(), true))

	ch.mu.Lock()
	defer ch.mu.Unlock()
	assert.Equal(t, []event.Outbound{event.TypingNotice{PeerIdentity: bob, ConversationID: 1, IsTyping: true}}, ch.sent)
}

// Package conversation wires the realtime channel into the call machine, the
// typing indicator, the message timeline and the shared-media loader. It is
// the single dispatcher of inbound events, so every component observes them
// in arrival order.
package conversation

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"zchat_go/internal/call"
	"zchat_go/internal/domain"
	"zchat_go/internal/event"
	"zchat_go/internal/media"
	"zchat_go/internal/timeline"
	"zchat_go/internal/typing"
	"zchat_go/pkg/logger"
)

var ErrNoConversation = errors.New("no open conversation")

// Channel is what the client needs from the channel session.
type Channel interface {
	Send(e event.Outbound) error
	Online(identity string) bool
	Subscribe() (<-chan event.Inbound, func())
}

// Fetcher serves history and media pages.
type Fetcher interface {
	timeline.HistoryFetcher
	media.Fetcher
}

// Option configures a Client.
type Option func(*options)

type options struct {
	log          *slog.Logger
	callOpts     []call.Option
	timelineOpts []timeline.Option
}

// WithLogger sets the logger shared by all components.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithCallOptions passes options to the call machine.
func WithCallOptions(opts ...call.Option) Option {
	return func(o *options) { o.callOpts = append(o.callOpts, opts...) }
}

// WithTimelineOptions passes options to the timeline engine.
func WithTimelineOptions(opts ...timeline.Option) Option {
	return func(o *options) { o.timelineOpts = append(o.timelineOpts, opts...) }
}

// Client is the per-user conversation layer.
type Client struct {
	ch       Channel
	log      *slog.Logger
	calls    *call.Machine
	typing   *typing.Indicator
	timeline *timeline.Engine
	media    *media.Loader

	mu             sync.Mutex
	conversationID int64
	peer           string
	fetchCtx       context.Context
	fetchCancel    context.CancelFunc
}

// New builds a Client on ch, fetching pages through f.
func New(ch Channel, f Fetcher, opts ...Option) *Client {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	l := logger.OrDiscard(o.log)

	c := &Client{
		ch:       ch,
		log:      l.With("component", "conversation"),
		calls:    call.New(ch, append([]call.Option{call.WithLogger(l)}, o.callOpts...)...),
		typing:   typing.New(ch, l),
		timeline: timeline.New(f, append([]timeline.Option{timeline.WithLogger(l)}, o.timelineOpts...)...),
		media:    media.NewLoader(f, l),
	}
	c.fetchCtx, c.fetchCancel = context.WithCancel(context.Background())
	return c
}

func (c *Client) Calls() *call.Machine       { return c.calls }
func (c *Client) Typing() *typing.Indicator  { return c.typing }
func (c *Client) Timeline() *timeline.Engine { return c.timeline }
func (c *Client) Media() *media.Loader       { return c.media }

// Run dispatches inbound events until ctx is done or the channel's
// subscription is closed.
func (c *Client) Run(ctx context.Context) error {
	events, cancel := c.ch.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-events:
			if !ok {
				return nil
			}
			c.Dispatch(e)
		}
	}
}

// Dispatch routes one inbound event.
func (c *Client) Dispatch(e event.Inbound) {
	switch e := e.(type) {
	case event.CallIncoming, event.CallAccepted, event.CallRejected, event.CallCancelled, event.CallEnded:
		c.calls.Handle(e)
	case event.Typing:
		c.typing.Handle(e)
	case event.Roster, event.UserOnline, event.UserOffline:
		// The session keeps the roster.
	case event.MessageCreated:
		c.timeline.Ingest(e.Message)
	case event.MessageDeleted:
		c.timeline.MarkDeleted(e.ConversationID, e.MessageID, e.DeletedAt)
	case event.Disconnected:
		c.calls.Handle(e)
		c.onDisconnected(e.Err)
	default:
		c.log.Warn("unhandled event", "event", e.Name())
	}
}

// onDisconnected fails in-flight fetches and clears the peer's typing state.
func (c *Client) onDisconnected(err error) {
	c.mu.Lock()
	c.fetchCancel()
	c.fetchCtx, c.fetchCancel = context.WithCancel(context.Background())
	convID, peer := c.conversationID, c.peer
	c.mu.Unlock()

	c.typing.SetConversation(convID, peer)
	c.log.Info("channel disconnected", "err", err)
}

// fetchContext derives a request context from ctx that is also cancelled on
// transport loss.
func (c *Client) fetchContext(ctx context.Context) (context.Context, context.CancelFunc) {
	c.mu.Lock()
	fctx := c.fetchCtx
	c.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(fctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// Open switches to conversationID with peer and loads its newest page.
func (c *Client) Open(ctx context.Context, conversationID int64, peer string) error {
	c.mu.Lock()
	c.conversationID = conversationID
	c.peer = peer
	c.mu.Unlock()

	c.timeline.Open(conversationID)
	c.typing.SetConversation(conversationID, peer)
	c.media.Close()

	ctx, cancel := c.fetchContext(ctx)
	defer cancel()
	return c.timeline.LoadInitial(ctx)
}

// Conversation returns the open conversation and its peer.
func (c *Client) Conversation() (int64, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conversationID, c.peer
}

// Retry reloads the newest page after a failed initial load.
func (c *Client) Retry(ctx context.Context) error {
	ctx, cancel := c.fetchContext(ctx)
	defer cancel()
	return c.timeline.LoadInitial(ctx)
}

// Scrolled forwards a viewport change to the timeline.
func (c *Client) Scrolled(ctx context.Context, v timeline.Viewport) (bool, error) {
	ctx, cancel := c.fetchContext(ctx)
	defer cancel()
	return c.timeline.OnViewport(ctx, v)
}

// OpenMedia opens the kind section of the open conversation.
func (c *Client) OpenMedia(ctx context.Context, kind domain.MediaKind) error {
	convID, _ := c.Conversation()
	if convID == 0 {
		return ErrNoConversation
	}
	ctx, cancel := c.fetchContext(ctx)
	defer cancel()
	return c.media.LoadInitial(ctx, convID, kind)
}

// MediaItemVisible forwards a media item visibility change.
func (c *Client) MediaItemVisible(ctx context.Context, index int) (bool, error) {
	ctx, cancel := c.fetchContext(ctx)
	defer cancel()
	return c.media.OnItemVisible(ctx, index)
}

// SetTyping reports the local user's typing state to the peer.
func (c *Client) SetTyping(ctx context.Context, isTyping bool) error {
	return c.typing.Notify(ctx, isTyping)
}

// Close stops call timers and fails pending fetches.
func (c *Client) Close() {
	c.calls.Close()
	c.mu.Lock()
	c.fetchCancel()
	c.mu.Unlock()
}

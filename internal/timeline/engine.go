package timeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"zchat_go/internal/domain"
	"zchat_go/pkg/logger"
)

const (
	// DefaultPlaceholder replaces the content of soft-deleted messages.
	DefaultPlaceholder = "This message was deleted"
	// DefaultTriggerDistance is how close to the top (in pixels or rows,
	// whatever the host reports) the viewport must be to page backwards.
	DefaultTriggerDistance = 200
)

// ErrNoConversation is returned when no conversation has been opened.
var ErrNoConversation = errors.New("timeline: no open conversation")

// HistoryPage is one page of older messages.
type HistoryPage struct {
	Messages []domain.Message
	HasMore  bool
}

// HistoryFetcher fetches messages strictly older than cursor. A zero cursor
// means the newest page.
type HistoryFetcher interface {
	FetchOlder(ctx context.Context, conversationID, cursor int64) (HistoryPage, error)
}

// Viewport reports the scroll position of the rendered list.
type Viewport struct {
	DistanceFromTop int
}

// RenderedMessage is a display-ready message.
type RenderedMessage struct {
	ID          int64
	SentAt      time.Time
	Content     string
	Type        domain.MessageType
	Attachments []domain.Attachment
	Deleted     bool
}

// RenderedGroup is a display-ready group.
type RenderedGroup struct {
	SenderID       int64
	SenderIdentity string
	Messages       []RenderedMessage
}

// Option configures an Engine.
type Option func(*Engine)

// WithRule overrides the grouping constants.
func WithRule(r Rule) Option {
	return func(e *Engine) { e.rule = r }
}

// WithTriggerDistance sets the top distance that starts a backward fetch.
func WithTriggerDistance(d int) Option {
	return func(e *Engine) { e.triggerDistance = d }
}

// WithPlaceholder sets the text shown for soft-deleted messages.
func WithPlaceholder(s string) Option {
	return func(e *Engine) { e.placeholder = s }
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// Engine owns the message set of the open conversation.
type Engine struct {
	fetcher         HistoryFetcher
	rule            Rule
	triggerDistance int
	placeholder     string
	log             *slog.Logger
	grouper         *grouper

	mu             sync.Mutex
	conversationID int64
	gen            uint64
	messages       map[int64]domain.Message
	hasMore        bool
	loading        bool
	armed          bool
	err            error
}

// New creates an Engine with no open conversation.
func New(fetcher HistoryFetcher, opts ...Option) *Engine {
	e := &Engine{
		fetcher:         fetcher,
		rule:            DefaultRule(),
		triggerDistance: DefaultTriggerDistance,
		placeholder:     DefaultPlaceholder,
		messages:        make(map[int64]domain.Message),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = logger.OrDiscard(e.log).With("component", "timeline")
	e.grouper = newGrouper(e.rule)
	return e
}

// Open switches to conversationID. All state is cleared and results of
// fetches issued for the previous conversation are discarded.
func (e *Engine) Open(conversationID int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.gen++
	e.conversationID = conversationID
	e.messages = make(map[int64]domain.Message)
	e.hasMore = false
	e.loading = false
	e.armed = false
	e.err = nil
	e.grouper.reset()
}

// ConversationID returns the open conversation, or 0.
func (e *Engine) ConversationID() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conversationID
}

// LoadInitial fetches the newest page. It is a no-op while another fetch is
// in flight.
func (e *Engine) LoadInitial(ctx context.Context) error {
	e.mu.Lock()
	if e.conversationID == 0 {
		e.mu.Unlock()
		return ErrNoConversation
	}
	if e.loading {
		e.mu.Unlock()
		return nil
	}
	gen, convID := e.begin()
	e.mu.Unlock()

	return e.fetch(ctx, gen, convID, 0)
}

// OnViewport reacts to a scroll position change and pages backwards when
// the viewport is near the top. The first call after Open only arms the
// trigger so the initial render cannot fetch twice. It reports whether a
// fetch was issued.
func (e *Engine) OnViewport(ctx context.Context, v Viewport) (bool, error) {
	e.mu.Lock()
	if e.conversationID == 0 {
		e.mu.Unlock()
		return false, nil
	}
	if !e.armed {
		e.armed = true
		e.mu.Unlock()
		return false, nil
	}
	if v.DistanceFromTop > e.triggerDistance || !e.hasMore || e.loading {
		e.mu.Unlock()
		return false, nil
	}
	cursor := e.oldestLocked()
	if cursor == 0 {
		e.mu.Unlock()
		return false, nil
	}
	gen, convID := e.begin()
	e.mu.Unlock()

	return true, e.fetch(ctx, gen, convID, cursor)
}

// begin marks a fetch in flight. Caller holds mu.
func (e *Engine) begin() (uint64, int64) {
	e.loading = true
	return e.gen, e.conversationID
}

func (e *Engine) fetch(ctx context.Context, gen uint64, convID, cursor int64) error {
	page, err := e.fetcher.FetchOlder(ctx, convID, cursor)

	e.mu.Lock()
	defer e.mu.Unlock()
	if gen != e.gen {
		e.log.Debug("discarding stale history page", "conversation_id", convID, "cursor", cursor)
		return nil
	}
	e.loading = false
	if err != nil {
		e.err = err
		e.log.Warn("history fetch failed", "conversation_id", convID, "cursor", cursor, "err", err)
		return err
	}
	e.err = nil
	e.hasMore = page.HasMore
	e.mergeLocked(page.Messages)
	return nil
}

// Ingest merges live messages. Messages of other conversations are ignored.
func (e *Engine) Ingest(msgs ...domain.Message) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.mergeLocked(msgs)
}

func (e *Engine) mergeLocked(msgs []domain.Message) {
	for _, m := range msgs {
		if m.ConversationID != e.conversationID || m.ID == 0 {
			continue
		}
		e.messages[m.ID] = mergeOne(e.messages[m.ID], m)
	}
}

// MarkDeleted soft-deletes a loaded message. Unknown ids are ignored.
func (e *Engine) MarkDeleted(conversationID, messageID int64, at time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if conversationID != e.conversationID {
		return
	}
	m, ok := e.messages[messageID]
	if !ok || m.DeletedAt != nil {
		return
	}
	m.DeletedAt = &at
	e.messages[messageID] = m
}

// Messages returns the loaded messages sorted by id descending.
func (e *Engine) Messages() []domain.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.descLocked()
}

func (e *Engine) descLocked() []domain.Message {
	out := make([]domain.Message, 0, len(e.messages))
	for _, m := range e.messages {
		out = append(out, m)
	}
	return Merge(nil, out)
}

func (e *Engine) oldestLocked() int64 {
	var oldest int64
	for id := range e.messages {
		if oldest == 0 || id < oldest {
			oldest = id
		}
	}
	return oldest
}

// Groups returns the loaded messages partitioned into sender groups.
func (e *Engine) Groups() []Group {
	asc := e.Messages()
	reverse(asc)
	return e.grouper.group(asc)
}

// Render returns Groups with deleted messages replaced by the placeholder.
func (e *Engine) Render() []RenderedGroup {
	groups := e.Groups()
	out := make([]RenderedGroup, 0, len(groups))
	for _, g := range groups {
		rg := RenderedGroup{
			SenderID:       g.SenderID,
			SenderIdentity: g.Messages[0].SenderIdentity,
			Messages:       make([]RenderedMessage, 0, len(g.Messages)),
		}
		for _, m := range g.Messages {
			rm := RenderedMessage{ID: m.ID, SentAt: m.SentAt, Type: m.Type}
			if m.IsDeleted() {
				rm.Deleted = true
				rm.Content = e.placeholder
			} else {
				rm.Content = m.Content
				rm.Attachments = m.Attachments
			}
			rg.Messages = append(rg.Messages, rm)
		}
		out = append(out, rg)
	}
	return out
}

// HasMore reports whether older history may exist.
func (e *Engine) HasMore() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hasMore
}

// Loading reports whether a fetch is in flight.
func (e *Engine) Loading() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loading
}

// Err returns the error of the last fetch, cleared by the next success.
func (e *Engine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

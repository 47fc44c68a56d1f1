package media

import (
	"context"
	"log/slog"
	"sync"

	"zchat_go/internal/domain"
	"zchat_go/pkg/logger"
)

// Fetcher fetches one page of a conversation's media of the given kind.
type Fetcher interface {
	FetchMedia(ctx context.Context, conversationID int64, kind domain.MediaKind, cursor int64) (Page[domain.MediaItem], error)
}

// Loader is the media Pager specialized by conversation and kind. Switching
// either resets the accumulated list.
type Loader struct {
	fetcher Fetcher
	pager   *Pager[domain.MediaItem]

	mu             sync.Mutex
	conversationID int64
	kind           domain.MediaKind
}

// NewLoader creates a Loader with no active section.
func NewLoader(f Fetcher, l *slog.Logger) *Loader {
	l = logger.OrDiscard(l).With("component", "media")
	return &Loader{
		fetcher: f,
		pager:   NewPager(func(it domain.MediaItem) int64 { return it.MessageID }, l),
	}
}

// LoadInitial opens the kind section of conversationID and fetches its
// newest page.
func (l *Loader) LoadInitial(ctx context.Context, conversationID int64, kind domain.MediaKind) error {
	if _, err := domain.ParseMediaKind(string(kind)); err != nil {
		return err
	}
	l.mu.Lock()
	l.conversationID = conversationID
	l.kind = kind
	l.mu.Unlock()

	l.pager.Reset(func(ctx context.Context, cursor int64) (Page[domain.MediaItem], error) {
		return l.fetcher.FetchMedia(ctx, conversationID, kind, cursor)
	})
	return l.pager.LoadInitial(ctx)
}

// Close drops the section, discarding any pending result.
func (l *Loader) Close() {
	l.mu.Lock()
	l.conversationID = 0
	l.kind = ""
	l.mu.Unlock()
	l.pager.Reset(nil)
}

// Section returns the active conversation and kind.
func (l *Loader) Section() (int64, domain.MediaKind) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conversationID, l.kind
}

// LoadMore appends the next page; see Pager.LoadMore.
func (l *Loader) LoadMore(ctx context.Context) (bool, error) { return l.pager.LoadMore(ctx) }

// OnItemVisible triggers LoadMore when index is the last item.
func (l *Loader) OnItemVisible(ctx context.Context, index int) (bool, error) {
	return l.pager.OnItemVisible(ctx, index)
}

func (l *Loader) Items() []domain.MediaItem { return l.pager.Items() }
func (l *Loader) HasMore() bool             { return l.pager.HasMore() }
func (l *Loader) Loading() bool             { return l.pager.Loading() }
func (l *Loader) Err() error                { return l.pager.Err() }

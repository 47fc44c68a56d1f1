// Package media pages the shared-media sections of a conversation.
package media

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"zchat_go/pkg/logger"
)

// ErrNotStarted is returned by Pager operations before the first Reset.
var ErrNotStarted = errors.New("media: pager not started")

// Page is one page of items.
type Page[T any] struct {
	Items   []T
	HasMore bool
}

// FetchFunc fetches the page strictly older than cursor. A zero cursor means
// the newest page.
type FetchFunc[T any] func(ctx context.Context, cursor int64) (Page[T], error)

// Pager accumulates cursor-paginated items. At most one fetch is in flight,
// and results of fetches issued before the last Reset are dropped.
type Pager[T any] struct {
	cursorOf func(T) int64
	log      *slog.Logger

	mu      sync.Mutex
	fetch   FetchFunc[T]
	gen     uint64
	items   []T
	hasMore bool
	loading bool
	err     error
}

// NewPager creates a Pager. cursorOf extracts the cursor from an item; the
// last accumulated item supplies the cursor for LoadMore.
func NewPager[T any](cursorOf func(T) int64, l *slog.Logger) *Pager[T] {
	return &Pager[T]{
		cursorOf: cursorOf,
		log:      logger.OrDiscard(l),
	}
}

// Reset clears all state and binds the pager to fetch.
func (p *Pager[T]) Reset(fetch FetchFunc[T]) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gen++
	p.fetch = fetch
	p.items = nil
	p.hasMore = false
	p.loading = false
	p.err = nil
}

// LoadInitial fetches the first page. It is a no-op while a fetch is
// pending.
func (p *Pager[T]) LoadInitial(ctx context.Context) error {
	p.mu.Lock()
	if p.fetch == nil {
		p.mu.Unlock()
		return ErrNotStarted
	}
	if p.loading {
		p.mu.Unlock()
		return nil
	}
	p.loading = true
	gen, fetch := p.gen, p.fetch
	p.mu.Unlock()

	return p.run(ctx, gen, fetch, 0)
}

// LoadMore appends the next page. It does nothing and reports false while a
// fetch is pending, when there is nothing more to load, or when nothing has
// been loaded yet.
func (p *Pager[T]) LoadMore(ctx context.Context) (bool, error) {
	p.mu.Lock()
	if p.fetch == nil || p.loading || !p.hasMore || len(p.items) == 0 {
		p.mu.Unlock()
		return false, nil
	}
	p.loading = true
	gen, fetch := p.gen, p.fetch
	cursor := p.cursorOf(p.items[len(p.items)-1])
	p.mu.Unlock()

	return true, p.run(ctx, gen, fetch, cursor)
}

// OnItemVisible is the pagination trigger: only the last accumulated item
// becoming visible calls LoadMore.
func (p *Pager[T]) OnItemVisible(ctx context.Context, index int) (bool, error) {
	p.mu.Lock()
	last := len(p.items) - 1
	p.mu.Unlock()

	if index != last || last < 0 {
		return false, nil
	}
	return p.LoadMore(ctx)
}

func (p *Pager[T]) run(ctx context.Context, gen uint64, fetch FetchFunc[T], cursor int64) error {
	page, err := fetch(ctx, cursor)

	p.mu.Lock()
	defer p.mu.Unlock()
	if gen != p.gen {
		p.log.Debug("discarding stale media page", "cursor", cursor)
		return nil
	}
	p.loading = false
	if err != nil {
		p.err = err
		p.log.Warn("media fetch failed", "cursor", cursor, "err", err)
		return err
	}
	p.err = nil
	p.items = append(p.items, page.Items...)
	p.hasMore = page.HasMore
	return nil
}

// Items returns a copy of the accumulated items.
func (p *Pager[T]) Items() []T {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]T, len(p.items))
	copy(out, p.items)
	return out
}

// HasMore reports whether another page may exist.
func (p *Pager[T]) HasMore() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hasMore
}

// Loading reports whether a fetch is pending.
func (p *Pager[T]) Loading() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loading
}

// Err returns the error of the last fetch, cleared by the next success.
func (p *Pager[T]) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Package timeline merges live and paged message history for one open
// conversation and partitions it into sender groups for rendering.
package timeline

import (
	"encoding/binary"
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"zchat_go/internal/domain"
)

// DefaultProximity is the largest gap between consecutive messages of one
// group.
const DefaultProximity = 3 * time.Minute

// Rule holds the grouping constants.
type Rule struct {
	// Proximity closes a group when consecutive messages are further apart.
	Proximity time.Duration
	// Location defines calendar days. Nil means time.Local.
	Location *time.Location
}

// DefaultRule is a 3 minute proximity with local calendar days.
func DefaultRule() Rule {
	return Rule{Proximity: DefaultProximity, Location: time.Local}
}

func (r Rule) withDefaults() Rule {
	if r.Proximity <= 0 {
		r.Proximity = DefaultProximity
	}
	if r.Location == nil {
		r.Location = time.Local
	}
	return r
}

// Group is a non-empty run of messages from one sender, oldest first.
type Group struct {
	SenderID int64
	Messages []domain.Message
}

// FirstID is the oldest id in the group.
func (g Group) FirstID() int64 { return g.Messages[0].ID }

// LastID is the newest id in the group.
func (g Group) LastID() int64 { return g.Messages[len(g.Messages)-1].ID }

// Merge combines two message sets into one slice sorted by id descending,
// with one entry per id. When both sides carry an id the incoming copy wins,
// except that a soft delete is never undone.
func Merge(existing, incoming []domain.Message) []domain.Message {
	byID := make(map[int64]domain.Message, len(existing)+len(incoming))
	for _, m := range existing {
		byID[m.ID] = m
	}
	for _, m := range incoming {
		byID[m.ID] = mergeOne(byID[m.ID], m)
	}
	out := make([]domain.Message, 0, len(byID))
	for _, m := range byID {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

func mergeOne(prev, next domain.Message) domain.Message {
	if prev.ID == 0 {
		return next
	}
	if next.DeletedAt == nil && prev.DeletedAt != nil {
		next.DeletedAt = prev.DeletedAt
	}
	return next
}

// GroupMessages partitions msgs into groups. The input may be unordered and
// contain duplicates. Groups are returned ascending by their newest id.
func GroupMessages(msgs []domain.Message, rule Rule) []Group {
	asc := Merge(nil, msgs)
	reverse(asc)
	return split(asc, boundaries(asc, rule.withDefaults()))
}

// Flatten concatenates the messages of groups in order.
func Flatten(groups []Group) []domain.Message {
	var out []domain.Message
	for _, g := range groups {
		out = append(out, g.Messages...)
	}
	return out
}

// breaks reports whether next may not join the group that ends with prev.
func breaks(prev, next domain.Message, rule Rule) bool {
	if prev.SenderID != next.SenderID {
		return true
	}
	if !sameDay(prev.SentAt, next.SentAt, rule.Location) {
		return true
	}
	gap := next.SentAt.Sub(prev.SentAt)
	if gap < 0 {
		gap = -gap
	}
	return gap > rule.Proximity
}

func sameDay(a, b time.Time, loc *time.Location) bool {
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}

// boundaries returns the size of each group over asc (id ascending).
func boundaries(asc []domain.Message, rule Rule) []int {
	var sizes []int
	n := 0
	for i := range asc {
		if i > 0 && breaks(asc[i-1], asc[i], rule) {
			sizes = append(sizes, n)
			n = 0
		}
		n++
	}
	if n > 0 {
		sizes = append(sizes, n)
	}
	return sizes
}

func split(asc []domain.Message, sizes []int) []Group {
	groups := make([]Group, 0, len(sizes))
	start := 0
	for _, n := range sizes {
		msgs := make([]domain.Message, n)
		copy(msgs, asc[start:start+n])
		groups = append(groups, Group{SenderID: msgs[0].SenderID, Messages: msgs})
		start += n
	}
	return groups
}

func reverse(msgs []domain.Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}

// grouper memoizes group boundaries on the conversation and id set. Messages are immutable
// apart from DeletedAt, which does not affect grouping, so the same id set
// always yields the same boundaries.
type grouper struct {
	rule Rule

	mu    sync.Mutex
	key   uint64
	valid bool
	sizes []int
}

func newGrouper(rule Rule) *grouper {
	return &grouper{rule: rule.withDefaults()}
}

// group partitions asc, which must be sorted by id ascending without
// duplicates.
func (g *grouper) group(asc []domain.Message) []Group {
	key := fingerprint(asc)

	g.mu.Lock()
	if !g.valid || g.key != key {
		g.sizes = boundaries(asc, g.rule)
		g.key = key
		g.valid = true
	}
	sizes := g.sizes
	g.mu.Unlock()

	return split(asc, sizes)
}

// reset drops the memoized boundaries.
func (g *grouper) reset() {
	g.mu.Lock()
	g.valid = false
	g.sizes = nil
	g.mu.Unlock()
}

func fingerprint(asc []domain.Message) uint64 {
	d := xxhash.New()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(len(asc)))
	_, _ = d.Write(buf[:])
	for _, m := range asc {
		binary.LittleEndian.PutUint64(buf[:], uint64(m.ConversationID))
		_, _ = d.Write(buf[:])
		binary.LittleEndian.PutUint64(buf[:], uint64(m.ID))
		_, _ = d.Write(buf[:])
	}
	return d.Sum64()
}

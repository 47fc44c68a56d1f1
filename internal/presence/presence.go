// Package presence tracks which identities hold at least one live relay
// connection. An identity with several connections stays online until the
// last one goes away.
package presence

import (
	"context"
	"sort"
	"sync"
)

// Store counts connections per identity.
type Store interface {
	// Add records a new connection and reports whether identity just came online.
	Add(ctx context.Context, identity string) (bool, error)
	// Remove drops a connection and reports whether identity just went offline.
	Remove(ctx context.Context, identity string) (bool, error)
	// Online lists online identities in sorted order.
	Online(ctx context.Context) ([]string, error)
	IsOnline(ctx context.Context, identity string) (bool, error)
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu    sync.Mutex
	conns map[string]int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{conns: make(map[string]int)}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Add(_ context.Context, identity string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[identity]++
	return s.conns[identity] == 1, nil
}

func (s *MemoryStore) Remove(_ context.Context, identity string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.conns[identity]
	if !ok {
		return false, nil
	}
	if n <= 1 {
		delete(s.conns, identity)
		return true, nil
	}
	s.conns[identity] = n - 1
	return false, nil
}

func (s *MemoryStore) Online(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.conns))
	for id := range s.conns {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) IsOnline(_ context.Context, identity string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.conns[identity]
	return ok, nil
}

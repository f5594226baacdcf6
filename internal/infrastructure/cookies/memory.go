// Package cookies provides CookieStore adapters: an in-process map, HTTP
// request/response cookies, and durable SQL-backed storage.
package cookies

import (
	"fmt"
	"sync"

	"github.com/AtRiskMedia/tracker-go/internal/domain/tracking"
)

// MemoryStore keeps slots in a map. Safe for concurrent use.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[tracking.CookieName]string
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[tracking.CookieName]string)}
}

func (s *MemoryStore) Get(name tracking.CookieName) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[name]
	return v, ok, nil
}

func (s *MemoryStore) Set(name tracking.CookieName, value string) error {
	if !name.IsKnown() {
		return fmt.Errorf("unknown cookie slot %q", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[name] = value
	return nil
}

// Snapshot copies the current contents.
func (s *MemoryStore) Snapshot() map[tracking.CookieName]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[tracking.CookieName]string, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

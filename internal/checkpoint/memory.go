package checkpoint

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps pending interrupts in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	pending map[string]Pending
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryStore creates a memory store. A zero ttl keeps entries forever.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		pending: make(map[string]Pending),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (s *MemoryStore) SavePending(_ context.Context, p Pending) error {
	if err := validate(p); err != nil {
		return err
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	s.pending[p.ThreadID] = p
	return nil
}

func (s *MemoryStore) Pending(_ context.Context, threadID string) (*Pending, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[threadID]
	if !ok {
		return nil, ErrNotFound
	}
	if s.expired(p) {
		delete(s.pending, threadID)
		return nil, ErrNotFound
	}
	return &p, nil
}

func (s *MemoryStore) ClearPending(_ context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, threadID)
	return nil
}

// sweepLocked drops every expired entry, so threads that are never resumed
// or looked up do not accumulate.
func (s *MemoryStore) sweepLocked() {
	if s.ttl <= 0 {
		return
	}
	for threadID, p := range s.pending {
		if s.expired(p) {
			delete(s.pending, threadID)
		}
	}
}

func (s *MemoryStore) expired(p Pending) bool {
	return s.ttl > 0 && s.now().Sub(p.CreatedAt) > s.ttl
}

func (s *MemoryStore) Close() error {
	return nil
}

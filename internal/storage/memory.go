package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dgellow/signin-gate/internal/log"
)

var _ StateStore = (*MemoryStateStore)(nil)

// MemoryStateStore keeps pending authorization requests in process memory.
// Suitable for a single instance; use Redis or Firestore behind a load balancer.
type MemoryStateStore struct {
	ttl    time.Duration
	now    func() time.Time
	states sync.Map // map[string]*AuthorizationRequest
}

// NewMemoryStateStore creates a memory store whose entries live for ttl
func NewMemoryStateStore(ttl time.Duration, opts ...Option) *MemoryStateStore {
	o := applyOptions(opts)
	return &MemoryStateStore{
		ttl: ttl,
		now: o.now,
	}
}

// Issue stores a new pending request
func (s *MemoryStateStore) Issue(_ context.Context, returnURL string) (string, error) {
	req, err := newAuthorizationRequest(returnURL, s.now(), s.ttl)
	if err != nil {
		return "", err
	}
	if _, loaded := s.states.LoadOrStore(req.State, req); loaded {
		return "", fmt.Errorf("state collision")
	}
	return req.State, nil
}

// Consume removes and returns the pending request (one-time use)
func (s *MemoryStateStore) Consume(_ context.Context, state string) (*AuthorizationRequest, error) {
	if state == "" {
		return nil, ErrInvalidOrExpiredState
	}
	v, ok := s.states.LoadAndDelete(state)
	if !ok {
		return nil, ErrInvalidOrExpiredState
	}
	req := v.(*AuthorizationRequest)
	if req.Expired(s.now()) {
		return nil, ErrInvalidOrExpiredState
	}
	return req, nil
}

// DeleteExpired drops requests past their expiry
func (s *MemoryStateStore) DeleteExpired(_ context.Context) (int, error) {
	now := s.now()
	count := 0
	s.states.Range(func(key, value any) bool {
		if value.(*AuthorizationRequest).Expired(now) && s.states.CompareAndDelete(key, value) {
			count++
		}
		return true
	})
	if count > 0 {
		log.LogTraceWithFields("storage", "Removed expired states from memory", map[string]any{
			"count": count,
		})
	}
	return count, nil
}

// Len returns the number of pending requests, expired ones included
func (s *MemoryStateStore) Len() int {
	n := 0
	s.states.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func (s *MemoryStateStore) Close() error {
	return nil
}

package brave

import (
	"context"
	"sync"
	"time"
)

// spacedSearcher keeps at least minInterval between upstream calls made
// through it, across all goroutines.
type spacedSearcher struct {
	inner       Searcher
	minInterval time.Duration

	mu   sync.Mutex
	next time.Time
}

// WithMinInterval wraps inner so searches are spaced by minInterval. A
// non-positive interval returns inner unchanged.
func WithMinInterval(inner Searcher, minInterval time.Duration) Searcher {
	if inner == nil || minInterval <= 0 {
		return inner
	}
	return &spacedSearcher{inner: inner, minInterval: minInterval}
}

func (s *spacedSearcher) Search(ctx context.Context, q Query) ([]Result, error) {
	if err := s.reserve(ctx); err != nil {
		return nil, err
	}
	return s.inner.Search(ctx, q)
}

func (s *spacedSearcher) reserve(ctx context.Context) error {
	for {
		s.mu.Lock()
		now := time.Now()
		if !s.next.After(now) {
			s.next = now.Add(s.minInterval)
			s.mu.Unlock()
			return nil
		}
		wait := s.next.Sub(now)
		s.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

package speedtest

import (
	"context"
	"sync"

	"go4.org/syncutil/singleflight"
)

// NewSampler returns a Sampler that measures using the given provider.
func NewSampler(p Provider) *Sampler {
	return &Sampler{
		provider: p,
	}
}

// Sampler wraps a Provider so that concurrent calls to Measure share a
// single underlying measurement (two transfers racing each other would
// corrupt both readings), and the most recent successful result is
// remembered.
type Sampler struct {
	provider Provider
	group    singleflight.Group
	mu       sync.Mutex
	recent   *Result
}

// Measure implements Provider. If a measurement is already in
// progress, its result is shared rather than starting another.
func (s *Sampler) Measure(ctx context.Context) (Result, error) {
	r0, err := s.group.Do("measure", func() (interface{}, error) {
		r, err := s.provider.Measure(ctx)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		s.recent = &r
		return r, nil
	})
	if err != nil {
		return Result{}, err
	}
	return r0.(Result), nil
}

// Recent returns the most recent successful result, or false if no
// measurement has succeeded yet.
func (s *Sampler) Recent() (Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recent == nil {
		return Result{}, false
	}
	return *s.recent, true
}

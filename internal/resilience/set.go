package resilience

import (
	"sync"
	"time"
)

// Set keeps one Breaker per key so that a single unreachable vehicle does not
// open the circuit for the rest of the fleet.
type Set struct {
	mu          sync.Mutex
	breakers    map[string]*Breaker
	maxFailures int
	timeout     time.Duration
	opts        []Option
}

// NewSet creates an empty Set whose breakers share the given settings.
func NewSet(maxFailures int, timeout time.Duration, opts ...Option) *Set {
	return &Set{
		breakers:    make(map[string]*Breaker),
		maxFailures: maxFailures,
		timeout:     timeout,
		opts:        opts,
	}
}

// Get returns the breaker for key, creating it on first use.
func (s *Set) Get(key string) *Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.breakers[key]
	if !ok {
		b = NewBreaker(s.maxFailures, s.timeout, s.opts...)
		s.breakers[key] = b
	}
	return b
}

// States snapshots every known breaker's state.
func (s *Set) States() map[string]State {
	s.mu.Lock()
	keys := make(map[string]*Breaker, len(s.breakers))
	for k, b := range s.breakers {
		keys[k] = b
	}
	s.mu.Unlock()

	out := make(map[string]State, len(keys))
	for k, b := range keys {
		out[k] = b.State()
	}
	return out
}

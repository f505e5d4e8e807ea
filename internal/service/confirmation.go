package service

import (
	"cmp"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Strob0t/GroundControl/internal/domain/decision"
)

// Confirmation is the state machine for one decision awaiting approval.
// Exactly one of confirm, reject or timeout wins the resolved flag; the
// winner alone drives the remaining transitions and the ledger append.
type Confirmation struct {
	decision decision.Decision
	openedAt time.Time
	deadline time.Time

	resolved atomic.Bool

	mu         sync.Mutex
	timer      *time.Timer
	state      decision.ConfirmationState
	resolvedAt *time.Time
	resolvedBy string
}

func newConfirmation(d decision.Decision, openedAt time.Time, timeout time.Duration) *Confirmation {
	return &Confirmation{
		decision: d,
		openedAt: openedAt,
		deadline: openedAt.Add(timeout),
		state:    decision.StatePending,
	}
}

// arm starts the timeout timer. fire runs on the timer goroutine.
func (c *Confirmation) arm(timeout time.Duration, fire func()) {
	c.mu.Lock()
	c.timer = time.AfterFunc(timeout, fire)
	c.mu.Unlock()
}

// disarm stops the timer if it has not fired yet.
func (c *Confirmation) disarm() {
	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
	}
	c.mu.Unlock()
}

// tryResolve claims the single resolution. It returns false to every caller but the first.
func (c *Confirmation) tryResolve() bool {
	return c.resolved.CompareAndSwap(false, true)
}

// expired reports whether now is at or past the deadline.
func (c *Confirmation) expired(now time.Time) bool {
	return !now.Before(c.deadline)
}

func (c *Confirmation) transition(s decision.ConfirmationState, at time.Time, by string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
	c.resolvedAt = &at
	if by != "" {
		c.resolvedBy = by
	}
}

// Decision returns the decision under confirmation.
func (c *Confirmation) Decision() decision.Decision {
	return c.decision
}

// Snapshot returns the current PendingConfirmation view.
func (c *Confirmation) Snapshot() decision.PendingConfirmation {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := decision.PendingConfirmation{
		DecisionID: c.decision.ID,
		State:      c.state,
		OpenedAt:   c.openedAt,
		Deadline:   c.deadline,
		ResolvedBy: c.resolvedBy,
	}
	if c.resolvedAt != nil {
		at := *c.resolvedAt
		p.ResolvedAt = &at
	}
	return p
}

// confirmationSet holds the live confirmations by decision ID.
type confirmationSet struct {
	mu sync.RWMutex
	m  map[string]*Confirmation
}

func newConfirmationSet() *confirmationSet {
	return &confirmationSet{m: make(map[string]*Confirmation)}
}

func (s *confirmationSet) add(c *Confirmation) {
	s.mu.Lock()
	s.m[c.decision.ID] = c
	s.mu.Unlock()
}

func (s *confirmationSet) get(id string) (*Confirmation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.m[id]
	return c, ok
}

func (s *confirmationSet) remove(id string) {
	s.mu.Lock()
	delete(s.m, id)
	s.mu.Unlock()
}

func (s *confirmationSet) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}

// list returns the live confirmations ordered by opening time.
func (s *confirmationSet) list() []*Confirmation {
	s.mu.RLock()
	out := make([]*Confirmation, 0, len(s.m))
	for _, c := range s.m {
		out = append(out, c)
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b *Confirmation) int {
		if c := a.openedAt.Compare(b.openedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.decision.ID, b.decision.ID)
	})
	return out
}

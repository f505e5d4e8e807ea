package service

import (
	"sync"
	"sync/atomic"

	"github.com/Strob0t/GroundControl/internal/domain/decision"
)

// Ledger is the bounded, append-only audit of resolved decisions.
// It holds at most capacity records; appending to a full ledger evicts the
// oldest record.
type Ledger struct {
	mu      sync.RWMutex
	buf     []decision.Record
	head    int // index of the oldest record
	size    int
	index   map[string]int // decision ID -> slot
	evicted atomic.Int64

	onEvict func(decision.Record)
}

// NewLedger creates a ledger holding at most capacity records. capacity < 1 is treated as 1.
func NewLedger(capacity int) *Ledger {
	if capacity < 1 {
		capacity = 1
	}
	return &Ledger{
		buf:   make([]decision.Record, capacity),
		index: make(map[string]int, capacity),
	}
}

// OnEvict registers fn to be called (outside the lock) with each evicted record.
func (l *Ledger) OnEvict(fn func(decision.Record)) {
	l.mu.Lock()
	l.onEvict = fn
	l.mu.Unlock()
}

// Append adds rec, evicting the oldest record when the ledger is full.
func (l *Ledger) Append(rec decision.Record) {
	var (
		evicted    decision.Record
		hasEvicted bool
	)

	l.mu.Lock()
	capacity := len(l.buf)
	slot := (l.head + l.size) % capacity
	if l.size == capacity {
		evicted = l.buf[l.head]
		hasEvicted = true
		delete(l.index, evicted.Decision.ID)
		slot = l.head
		l.head = (l.head + 1) % capacity
	} else {
		l.size++
	}
	l.buf[slot] = rec
	l.index[rec.Decision.ID] = slot
	onEvict := l.onEvict
	l.mu.Unlock()

	if hasEvicted {
		l.evicted.Add(1)
		if onEvict != nil {
			onEvict(evicted)
		}
	}
}

// Find returns the record for a decision still held by the ledger.
func (l *Ledger) Find(decisionID string) (decision.Record, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	slot, ok := l.index[decisionID]
	if !ok {
		return decision.Record{}, false
	}
	return l.buf[slot], true
}

// List returns records matching filter in insertion order (oldest first),
// paginated by page. The returned slice is a copy.
func (l *Ledger) List(filter decision.Filter, page decision.Page) []decision.Record {
	page = page.Normalize()

	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]decision.Record, 0, min(page.Limit, l.size))
	skipped := 0
	for i := range l.size {
		rec := &l.buf[(l.head+i)%len(l.buf)]
		if !filter.Match(rec) {
			continue
		}
		if skipped < page.Offset {
			skipped++
			continue
		}
		out = append(out, *rec)
		if len(out) == page.Limit {
			break
		}
	}
	return out
}

// Len returns the number of records currently held.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.size
}

// Capacity returns the maximum number of records held.
func (l *Ledger) Capacity() int {
	return len(l.buf)
}

// Evicted returns how many records have been evicted since creation.
func (l *Ledger) Evicted() int64 {
	return l.evicted.Load()
}

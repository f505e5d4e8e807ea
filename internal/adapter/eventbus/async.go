// Package eventbus provides Publisher implementations that keep slow event
// sinks (database, broker) off the decision path.
package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/Strob0t/GroundControl/internal/domain/event"
	port "github.com/Strob0t/GroundControl/internal/port/eventbus"
	"github.com/Strob0t/GroundControl/internal/port/eventstore"
)

// Async forwards events to its sinks from a single worker goroutine so the
// per-decision event order is preserved. When the buffer is full the event
// is dropped and counted.
type Async struct {
	sinks []port.Publisher
	ch    chan asyncItem
	wg    sync.WaitGroup

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
}

type asyncItem struct {
	ctx context.Context
	ev  event.Outcome
}

// NewAsync starts the worker. bufSize <= 0 uses 1024.
func NewAsync(bufSize int, sinks ...port.Publisher) *Async {
	if bufSize <= 0 {
		bufSize = 1024
	}
	a := &Async{sinks: sinks, ch: make(chan asyncItem, bufSize)}
	a.wg.Add(1)
	go a.run()
	return a
}

func (a *Async) run() {
	defer a.wg.Done()
	for item := range a.ch {
		for _, s := range a.sinks {
			s.Publish(item.ctx, item.ev)
		}
	}
}

// Publish enqueues ev without blocking.
func (a *Async) Publish(ctx context.Context, ev event.Outcome) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return
	}
	select {
	case a.ch <- asyncItem{ctx: context.WithoutCancel(ctx), ev: ev}:
	default:
		if a.dropped.Add(1)%100 == 1 {
			slog.Warn("event bus buffer full, dropping events", "type", ev.Type, "dropped", a.dropped.Load())
		}
	}
}

// Close stops accepting events and waits for the buffer to drain.
func (a *Async) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	close(a.ch)
	a.mu.Unlock()
	a.wg.Wait()
}

// Dropped returns the number of events dropped because the buffer was full.
func (a *Async) Dropped() int64 {
	return a.dropped.Load()
}

// StoreSink adapts an eventstore.Store to a Publisher.
type StoreSink struct {
	store eventstore.Store
}

// NewStoreSink creates a StoreSink.
func NewStoreSink(store eventstore.Store) *StoreSink {
	return &StoreSink{store: store}
}

// Publish appends ev. Failures are logged.
func (s *StoreSink) Publish(ctx context.Context, ev event.Outcome) {
	if err := s.store.Append(ctx, &ev); err != nil {
		slog.Error("persist decision event failed", "type", ev.Type, "decision_id", ev.DecisionID, "error", err)
	}
}

package logger

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Closer flushes buffered log output on shutdown.
type Closer interface {
	Close()
}

type nopCloser struct{}

func (nopCloser) Close() {}

// asyncState is shared between an AsyncHandler and its WithAttrs/WithGroup children.
type asyncState struct {
	ch      chan asyncItem
	wg      sync.WaitGroup
	mu      sync.RWMutex // guards closed against concurrent sends
	closed  bool
	dropped atomic.Int64
}

type asyncItem struct {
	h   slog.Handler
	ctx context.Context
	rec slog.Record
}

// AsyncHandler moves record formatting off the caller's goroutine.
// Records are dropped, not blocked on, when the buffer is full, so a slow
// log sink never stalls the decision path.
type AsyncHandler struct {
	inner slog.Handler
	st    *asyncState
}

// NewAsyncHandler creates an AsyncHandler with the given buffer size and worker count.
func NewAsyncHandler(inner slog.Handler, buffer, workers int) *AsyncHandler {
	st := &asyncState{ch: make(chan asyncItem, buffer)}
	for range workers {
		st.wg.Add(1)
		go func() {
			defer st.wg.Done()
			for it := range st.ch {
				_ = it.h.Handle(it.ctx, it.rec)
			}
		}()
	}
	return &AsyncHandler{inner: inner, st: st}
}

func (h *AsyncHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle enqueues the record. The context is detached from cancellation so
// values such as the request ID survive until the worker formats the record.
func (h *AsyncHandler) Handle(ctx context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	h.st.mu.RLock()
	defer h.st.mu.RUnlock()
	if h.st.closed {
		h.st.dropped.Add(1)
		return nil
	}
	select {
	case h.st.ch <- asyncItem{h: h.inner, ctx: context.WithoutCancel(ctx), rec: rec.Clone()}:
	default:
		h.st.dropped.Add(1)
	}
	return nil
}

func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithAttrs(attrs), st: h.st}
}

func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithGroup(name), st: h.st}
}

// DroppedCount returns the number of records discarded because the buffer was full
// or the handler was already closed.
func (h *AsyncHandler) DroppedCount() int64 {
	return h.st.dropped.Load()
}

// Close stops accepting records and waits for the workers to drain. Safe to call twice.
func (h *AsyncHandler) Close() {
	h.st.mu.Lock()
	if h.st.closed {
		h.st.mu.Unlock()
		return
	}
	h.st.closed = true
	close(h.st.ch)
	h.st.mu.Unlock()
	h.st.wg.Wait()
}

package model

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultCloseGrace is how long a replaced bundle stays open so in-flight
// requests holding it can finish.
const DefaultCloseGrace = 30 * time.Second

// LoadFunc loads and validates a bundle.
type LoadFunc func() (*Bundle, error)

// Handle is the process-wide read-only reference to the current bundle.
// Readers never lock; Reload swaps the pointer under a mutex so concurrent
// reloads cannot interleave.
type Handle struct {
	mu         sync.Mutex
	cur        atomic.Pointer[Bundle]
	lastErr    atomic.Pointer[error]
	load       LoadFunc
	closeGrace time.Duration
	logger     *slog.Logger
}

// NewHandle creates an empty handle. Call Reload to load the first bundle.
func NewHandle(load LoadFunc, logger *slog.Logger) *Handle {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handle{load: load, closeGrace: DefaultCloseGrace, logger: logger}
}

// SetCloseGrace changes how long bundles replaced from now on stay open.
func (h *Handle) SetCloseGrace(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closeGrace = d
}

// Current returns the loaded bundle or ErrNotLoaded.
func (h *Handle) Current() (*Bundle, error) {
	if b := h.cur.Load(); b != nil {
		return b, nil
	}
	return nil, ErrNotLoaded
}

// Ready reports whether a bundle is loaded.
func (h *Handle) Ready() bool { return h.cur.Load() != nil }

// LastError returns the error of the most recent failed load, if the most
// recent attempt failed.
func (h *Handle) LastError() error {
	if p := h.lastErr.Load(); p != nil {
		return *p
	}
	return nil
}

// Reload loads a bundle and swaps it in. On failure the current bundle, if
// any, keeps serving.
func (h *Handle) Reload() (*Bundle, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	next, err := h.load()
	if err != nil {
		h.lastErr.Store(&err)
		return nil, err
	}
	h.lastErr.Store(nil)

	prev := h.cur.Swap(next)
	if prev != nil {
		h.retire(prev)
	}
	return next, nil
}

// Set installs an already loaded bundle.
func (h *Handle) Set(b *Bundle) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastErr.Store(nil)
	if prev := h.cur.Swap(b); prev != nil && prev != b {
		h.retire(prev)
	}
}

// retire closes b after the grace period. Must hold mu.
func (h *Handle) retire(b *Bundle) {
	closeFn := func() {
		if err := b.Close(); err != nil {
			h.logger.Warn("closing replaced model bundle", "source", b.Source, "err", err)
		}
	}
	if h.closeGrace <= 0 {
		closeFn()
		return
	}
	time.AfterFunc(h.closeGrace, closeFn)
}

// Close releases the current bundle. The handle is empty afterwards.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if b := h.cur.Swap(nil); b != nil {
		return b.Close()
	}
	return nil
}

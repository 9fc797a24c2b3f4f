package ratelimit

import (
	"container/list"
	"context"
	"sync"
	"time"
)

type window struct {
	key    string
	stamps []time.Time
}

// Window is an in-memory sliding window limiter for a single instance.
type Window struct {
	mu     sync.Mutex
	cfg    Config
	keys   map[string]*list.Element
	lru    *list.List
	now    func() time.Time
	closed bool

	cancel context.CancelFunc
	done   chan struct{}
}

// NewWindow creates an in-memory limiter.
func NewWindow(cfg Config) *Window {
	return &Window{
		cfg:  cfg.withDefaults(),
		keys: make(map[string]*list.Element),
		lru:  list.New(),
		now:  time.Now,
	}
}

// Allow reports whether every key is under the limit and records the request
// when it is.
func (w *Window) Allow(_ context.Context, keys ...string) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return false, ErrClosed
	}

	now := w.now()
	for _, k := range keys {
		el, ok := w.keys[k]
		if !ok {
			continue
		}
		win := w.prune(el, now)
		if win != nil && len(win.stamps) >= w.cfg.Limit {
			return false, nil
		}
	}

	for _, k := range keys {
		el, ok := w.keys[k]
		if !ok {
			w.evictOverflow()
			el = w.lru.PushFront(&window{key: k})
			w.keys[k] = el
		}
		win := el.Value.(*window) //nolint:errcheck,forcetypeassert // only *window is stored
		win.stamps = append(win.stamps, now)
		w.lru.MoveToFront(el)
	}
	return true, nil
}

// Len returns the number of tracked keys.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lru.Len()
}

// Sweep prunes every key and drops the empty ones.
func (w *Window) Sweep() {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	for el := w.lru.Front(); el != nil; {
		nextEl := el.Next()
		w.prune(el, now)
		el = nextEl
	}
}

// StartSweepRoutine periodically drops idle keys until Close is called.
func (w *Window) StartSweepRoutine(interval time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.done = make(chan struct{})

	go func() {
		defer close(w.done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.Sweep()
			}
		}
	}()
}

// Close stops the sweep routine. Later calls to Allow fail with ErrClosed.
func (w *Window) Close() error {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()

	if w.cancel != nil {
		w.cancel()
		<-w.done
	}
	return nil
}

// prune drops stamps outside the window and evicts the key when none remain.
// It returns nil for an evicted key. The caller holds mu.
func (w *Window) prune(el *list.Element, now time.Time) *window {
	win := el.Value.(*window) //nolint:errcheck,forcetypeassert // only *window is stored
	cutoff := now.Add(-w.cfg.Window)

	i := 0
	for i < len(win.stamps) && !win.stamps[i].After(cutoff) {
		i++
	}
	win.stamps = win.stamps[i:]

	if len(win.stamps) == 0 {
		w.lru.Remove(el)
		delete(w.keys, win.key)
		return nil
	}
	return win
}

// evictOverflow makes room for one more key. The caller holds mu.
func (w *Window) evictOverflow() {
	for w.lru.Len() >= w.cfg.MaxKeys {
		oldest := w.lru.Back()
		if oldest == nil {
			return
		}
		w.lru.Remove(oldest)
		delete(w.keys, oldest.Value.(*window).key) //nolint:errcheck,forcetypeassert // only *window is stored
	}
}

// Verify interface compliance.
var _ Limiter = (*Window)(nil)

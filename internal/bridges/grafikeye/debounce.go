package grafikeye

import (
	"sync"
	"sync/atomic"
	"time"
)

// DefaultDebounceWindow is how long observed scenes are ignored after a
// local selection.
const DefaultDebounceWindow = time.Second

// DebouncedHandler suppresses scenes observed shortly after the consumer
// selected a scene itself.
//
// A physical unit takes a moment to settle after a scene command, and the
// next polls may still report the previous or an intermediate scene. Call
// Touch right before SelectScene for the unit this handler is registered on;
// scenes observed within the window after the last Touch are dropped.
type DebouncedHandler struct {
	next   SceneHandler
	window time.Duration
	now    func() time.Time

	mu        sync.Mutex
	lastTouch time.Time

	suppressed atomic.Uint64
}

// NewDebouncedHandler wraps next. A window of zero or less selects
// DefaultDebounceWindow.
func NewDebouncedHandler(next SceneHandler, window time.Duration) *DebouncedHandler {
	if window <= 0 {
		window = DefaultDebounceWindow
	}
	return &DebouncedHandler{
		next:   next,
		window: window,
		now:    time.Now,
	}
}

// Touch records a local scene selection.
func (d *DebouncedHandler) Touch() {
	d.mu.Lock()
	d.lastTouch = d.now()
	d.mu.Unlock()
}

// OnSceneObserved forwards scene unless it falls inside the window.
func (d *DebouncedHandler) OnSceneObserved(scene Scene) {
	d.mu.Lock()
	quiet := !d.lastTouch.IsZero() && d.now().Sub(d.lastTouch) < d.window
	d.mu.Unlock()

	if quiet {
		d.suppressed.Add(1)
		return
	}
	d.next.OnSceneObserved(scene)
}

// Suppressed returns how many observations were dropped.
func (d *DebouncedHandler) Suppressed() uint64 {
	return d.suppressed.Load()
}

package grafikeye

import (
	"sync"
	"testing"
	"time"
)

type recordingHandler struct {
	mu     sync.Mutex
	scenes []Scene
}

func (r *recordingHandler) OnSceneObserved(scene Scene) {
	r.mu.Lock()
	r.scenes = append(r.scenes, scene)
	r.mu.Unlock()
}

func (r *recordingHandler) observed() []Scene {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Scene(nil), r.scenes...)
}

func TestDebouncedHandler(t *testing.T) {
	next := &recordingHandler{}
	d := NewDebouncedHandler(next, time.Second)

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }

	// No local selection yet: everything passes.
	d.OnSceneObserved("1")

	d.Touch()
	now = now.Add(500 * time.Millisecond)
	d.OnSceneObserved("2") // inside the window

	now = now.Add(600 * time.Millisecond)
	d.OnSceneObserved("3") // window elapsed

	got := next.observed()
	if len(got) != 2 || got[0] != "1" || got[1] != "3" {
		t.Errorf("forwarded = %v, want [1 3]", got)
	}
	if d.Suppressed() != 1 {
		t.Errorf("Suppressed() = %d, want 1", d.Suppressed())
	}
}

func TestDebouncedHandlerTouchExtendsWindow(t *testing.T) {
	next := &recordingHandler{}
	d := NewDebouncedHandler(next, time.Second)

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }

	d.Touch()
	now = now.Add(900 * time.Millisecond)
	d.Touch()
	now = now.Add(900 * time.Millisecond)
	d.OnSceneObserved("5")

	if got := next.observed(); len(got) != 0 {
		t.Errorf("forwarded = %v, want none", got)
	}
}

func TestNewDebouncedHandlerDefaultWindow(t *testing.T) {
	d := NewDebouncedHandler(&recordingHandler{}, 0)
	if d.window != DefaultDebounceWindow {
		t.Errorf("window = %v, want %v", d.window, DefaultDebounceWindow)
	}
}

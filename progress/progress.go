// Package progress reports sweep progress to registered listeners. It
// stands in for a terminal progress bar: the engine advances the tracker
// and whatever frontend is attached decides how to render the updates.
package progress

import (
	"slices"
	"sync"
	"time"
)

// Update is the snapshot delivered to listeners after every advance.
type Update struct {
	Completed int
	Total     int
	Label     string
	Elapsed   time.Duration
}

// Tracker counts completed work items and notifies listeners. Every method
// is safe on a nil *Tracker, so callers can simply not attach one.
type Tracker struct {
	mu        sync.Mutex
	completed int
	total     int
	started   time.Time
	listeners []func(Update)
}

// NewTracker constructs a tracker expecting total items. The total may be
// corrected later with SetTotal once the real count is known.
func NewTracker(total int) *Tracker {
	return &Tracker{total: total, started: time.Now()}
}

// AddListener registers a callback invoked on every Advance and on Finish.
func (t *Tracker) AddListener(fn func(Update)) {
	if t == nil || fn == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, fn)
}

// SetTotal fixes the expected item count.
func (t *Tracker) SetTotal(total int) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.total = total
}

// Advance marks one item done and notifies listeners.
func (t *Tracker) Advance(label string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.completed++
	u := Update{
		Completed: t.completed,
		Total:     t.total,
		Label:     label,
		Elapsed:   time.Since(t.started),
	}
	listeners := slices.Clone(t.listeners)
	t.mu.Unlock()

	// Listeners run outside the lock so they may call back into the tracker.
	for _, fn := range listeners {
		fn(u)
	}
}

// Completed reports how far the tracker has come.
func (t *Tracker) Completed() (done, total int) {
	if t == nil {
		return 0, 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.completed, t.total
}

// Finish delivers a final update with whatever count was reached.
func (t *Tracker) Finish() {
	if t == nil {
		return
	}
	t.mu.Lock()
	u := Update{
		Completed: t.completed,
		Total:     t.total,
		Label:     "done",
		Elapsed:   time.Since(t.started),
	}
	listeners := slices.Clone(t.listeners)
	t.mu.Unlock()

	for _, fn := range listeners {
		fn(u)
	}
}

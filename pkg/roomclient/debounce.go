package roomclient

import (
	"sync"
	"time"
)

const debounceQuiet = 500 * time.Millisecond

// debouncer coalesces keystrokes into at most one emission per quiet
// period, always carrying the latest buffer.
type debouncer struct {
	mu      sync.Mutex
	quiet   time.Duration
	emit    func(code string)
	timer   *time.Timer
	latest  string
	pending bool
}

func newDebouncer(quiet time.Duration, emit func(code string)) *debouncer {
	if quiet <= 0 {
		quiet = debounceQuiet
	}
	return &debouncer{quiet: quiet, emit: emit}
}

// Touch records a keystroke and restarts the quiet-period timer.
func (d *debouncer) Touch(code string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.latest = code
	d.pending = true
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.quiet, d.fire)
}

func (d *debouncer) fire() {
	d.mu.Lock()
	if !d.pending {
		d.mu.Unlock()
		return
	}
	code := d.latest
	d.pending = false
	d.mu.Unlock()

	d.emit(code)
}

// Cancel drops any pending emission. Used on room departure.
func (d *debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending = false
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

package monitor

import "time"

// debouncer collapses bursts of change events into one flush. Each event
// restarts the window; a burst of maxBurst events flushes at once so a
// page that never stops mutating is still rechecked.
type debouncer struct {
	window   time.Duration
	maxBurst int
	pending  int
	timer    *time.Timer
	timerCh  <-chan time.Time
	flushFn  func(events int)
}

func newDebouncer(window time.Duration, maxBurst int, flushFn func(int)) *debouncer {
	if maxBurst <= 0 {
		maxBurst = 500
	}
	return &debouncer{window: window, maxBurst: maxBurst, flushFn: flushFn}
}

// add records one event. Returns true if it caused an immediate flush.
func (d *debouncer) add() bool {
	d.pending++
	if d.pending >= d.maxBurst {
		d.flush()
		return true
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.NewTimer(d.window)
	d.timerCh = d.timer.C
	return false
}

// timerC fires when the window expires. It is nil while nothing is pending,
// which blocks forever in a select.
func (d *debouncer) timerC() <-chan time.Time {
	return d.timerCh
}

func (d *debouncer) flush() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
		d.timerCh = nil
	}
	if d.pending == 0 {
		return
	}
	n := d.pending
	d.pending = 0
	d.flushFn(n)
}

func (d *debouncer) stop() {
	if d.timer != nil {
		d.timer.Stop()
	}
}

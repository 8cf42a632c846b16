package coordinator

import (
	"sync"
	"time"
)

// Timer is a cancellable pending callback.
type Timer interface {
	Stop() bool
}

// Scheduler runs callbacks after a delay. Tests inject a virtual clock.
type Scheduler interface {
	AfterFunc(delay time.Duration, callback func()) Timer
}

type realScheduler struct{}

// NewRealScheduler returns a Scheduler backed by time.AfterFunc.
func NewRealScheduler() Scheduler {
	return realScheduler{}
}

func (realScheduler) AfterFunc(delay time.Duration, callback func()) Timer {
	return time.AfterFunc(delay, callback)
}

// Debouncer collapses bursts of Schedule calls into one trailing-edge action
// invoked with the most recent value once the quiet window elapses.
type Debouncer[T any] struct {
	mu         sync.Mutex
	window     time.Duration
	scheduler  Scheduler
	action     func(T)
	timer      Timer
	pending    T
	hasPending bool
	generation uint64
	running    int
	settled    chan struct{}
}

// NewDebouncer constructs a Debouncer. A nil scheduler uses real time.
func NewDebouncer[T any](window time.Duration, scheduler Scheduler, action func(T)) *Debouncer[T] {
	if scheduler == nil {
		scheduler = NewRealScheduler()
	}
	return &Debouncer[T]{
		window:    window,
		scheduler: scheduler,
		action:    action,
	}
}

// Schedule stores value as the pending argument and restarts the quiet window.
func (d *Debouncer[T]) Schedule(value T) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.pending = value
	d.hasPending = true
	d.generation++
	generation := d.generation
	d.timer = d.scheduler.AfterFunc(d.window, func() {
		d.fire(generation)
	})
}

// Flush runs the pending action immediately. It reports whether anything was pending.
func (d *Debouncer[T]) Flush() bool {
	value, ok := d.take(0, false, true)
	if !ok {
		return false
	}
	d.run(value)
	return true
}

// Cancel drops the pending value without running the action.
func (d *Debouncer[T]) Cancel() {
	d.take(0, false, false)
}

// Settled returns a channel closed once no action is running. An action whose
// value was taken before the call counts as running.
func (d *Debouncer[T]) Settled() <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running == 0 {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return d.settled
}

// Pending reports whether a value is waiting for the window to elapse.
func (d *Debouncer[T]) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.hasPending
}

func (d *Debouncer[T]) fire(generation uint64) {
	value, ok := d.take(generation, true, true)
	if !ok {
		return
	}
	d.run(value)
}

func (d *Debouncer[T]) run(value T) {
	defer func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.running--
		if d.running == 0 {
			close(d.settled)
			d.settled = nil
		}
	}()
	d.action(value)
}

// take clears the pending slot. When matchGeneration is set, a stale timer
// whose generation was superseded takes nothing. When forAction is set the
// taken value is counted as running until run completes.
func (d *Debouncer[T]) take(generation uint64, matchGeneration, forAction bool) (T, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var zero T
	if !d.hasPending {
		return zero, false
	}
	if matchGeneration && generation != d.generation {
		return zero, false
	}
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	value := d.pending
	d.pending = zero
	d.hasPending = false
	d.generation++
	if forAction {
		if d.running == 0 {
			d.settled = make(chan struct{})
		}
		d.running++
	}
	return value, true
}

// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package reactor

import (
	"sync/atomic"
	"time"
)

// TimerMode selects how the next fire time of a repeating timer is derived.
type TimerMode uint32

const (
	// TimerRelative schedules the next fire one interval after the callback
	// actually ran. Delays accumulate.
	TimerRelative TimerMode = iota
	// TimerMonotonic schedules the next fire one interval after the previous
	// scheduled time, so a late timer catches up.
	TimerMonotonic
)

// String returns a human-readable representation of the mode.
func (m TimerMode) String() string {
	switch m {
	case TimerRelative:
		return "Relative"
	case TimerMonotonic:
		return "Monotonic"
	default:
		return "Unknown"
	}
}

// MaxTimerInterval is the largest interval a timer accepts. Longer
// intervals are clamped.
const MaxTimerInterval = 30 * 24 * time.Hour

var clockAnchor = time.Now()

// monoNow returns monotonic nanoseconds since clockAnchor.
func monoNow() int64 {
	return int64(time.Since(clockAnchor))
}

// Timer is a scheduled, optionally repeating callback attached to a loop.
// Timers are created stopped, in [TimerRelative] mode, firing until stopped.
//
// The callback receives [EventOther], with the timer as the handle.
// Configuration setters may be called at any time, and take effect at the
// next arming. Start, Stop, Reset, and Remove may be called from any
// goroutine.
type Timer struct {
	loop    *Loop
	handler Handler

	interval   atomic.Int64
	fireCount  atomic.Uint64
	startAt    atomic.Int64 // wall clock unix nanos, consumed by the next Start
	endAt      atomic.Int64 // wall clock unix nanos
	next       atomic.Int64 // monoNow based
	mode       atomic.Uint32
	autoRemove atomic.Bool
	started    atomic.Bool
	removed    atomic.Bool

	// owned by the loop
	key       int64
	lastRun   int64
	fired     uint64
	index     int
	executing bool
	rearmed   bool
	due       bool
}

// AddTimer attaches a new, stopped timer to the loop.
func (l *Loop) AddTimer(handler Handler) (*Timer, error) {
	switch {
	case handler == nil:
		return nil, l.misuse("timer add", ErrNilHandler)
	case l.closed.Load():
		return nil, l.misuse("timer add", ErrLoopClosed)
	case l.status.IsTerminal():
		return nil, l.misuse("timer add", ErrLoopDone)
	}
	t := &Timer{loop: l, handler: handler, index: -1}
	l.objects.Add(1)
	l.exec(func() {
		switch {
		case t.removed.Load():
		case l.status.IsTerminal():
			// finished while the add was queued
			if !t.removed.Swap(true) {
				t.started.Store(false)
				l.objects.Add(-1)
			}
		default:
			l.timers[t] = struct{}{}
		}
	}, false)
	return t, nil
}

// Oneshot adds and starts a timer that fires once, after delay. When
// autoRemove is set the timer removes itself after firing.
func (l *Loop) Oneshot(delay time.Duration, autoRemove bool, handler Handler) (*Timer, error) {
	t, err := l.AddTimer(handler)
	if err != nil {
		return nil, err
	}
	t.fireCount.Store(1)
	t.autoRemove.Store(autoRemove)
	if err := t.Start(delay); err != nil {
		_ = t.Remove()
		return nil, err
	}
	return t, nil
}

// FD implements [Handle]. Timers have no descriptor.
func (t *Timer) FD() int { return -1 }

// Loop returns the loop the timer is attached to.
func (t *Timer) Loop() *Loop { return t.loop }

// Start arms the timer. The first fire happens after interval, or at the
// start time, if one was set. An interval of zero is only valid with a fire
// count of one.
func (t *Timer) Start(interval time.Duration) error {
	if t.removed.Load() {
		return t.loop.misuse("timer start", ErrTimerRemoved)
	}
	if interval < 0 {
		interval = 0
	}
	if interval > MaxTimerInterval {
		interval = MaxTimerInterval
	}
	if interval == 0 && t.fireCount.Load() != 1 {
		return t.loop.misuse("timer start", ErrInvalidInterval)
	}
	t.interval.Store(int64(interval))

	next := monoNow() + int64(interval)
	if at := t.startAt.Swap(0); at != 0 {
		next = monoNow() + int64(time.Until(time.Unix(0, at)))
	}
	t.next.Store(next)
	t.started.Store(true)

	l := t.loop
	l.exec(func() { l.armTimer(t) }, l.Flags()&FlagNoWake == 0)
	return nil
}

// Reset re-arms the timer from now. An interval of zero reuses the previous
// interval.
func (t *Timer) Reset(interval time.Duration) error {
	if interval == 0 {
		interval = t.Interval()
	}
	return t.Start(interval)
}

// Stop disarms the timer, retaining its configuration. Stopping a stopped
// timer does nothing.
func (t *Timer) Stop() error {
	if t.removed.Load() {
		return t.loop.misuse("timer stop", ErrTimerRemoved)
	}
	if !t.started.Swap(false) {
		return nil
	}
	l := t.loop
	l.exec(func() { l.disarmTimer(t) }, true)
	return nil
}

// Remove destroys the timer. Removing twice is misuse.
func (t *Timer) Remove() error {
	if t.removed.Swap(true) {
		return t.loop.misuse("timer remove", ErrTimerRemoved)
	}
	t.started.Store(false)
	l := t.loop
	l.objects.Add(-1)
	l.exec(func() { l.dropTimer(t) }, true)
	return nil
}

// Status reports whether the timer is armed.
func (t *Timer) Status() bool { return t.started.Load() }

// Removed reports whether the timer was removed, explicitly or by
// autoremove.
func (t *Timer) Removed() bool { return t.removed.Load() }

// Remaining returns the time until the next fire, computed from the current
// time. It is zero for a stopped timer, or one that is overdue.
func (t *Timer) Remaining() time.Duration {
	if !t.started.Load() {
		return 0
	}
	d := time.Duration(t.next.Load() - monoNow())
	if d < 0 {
		return 0
	}
	return d
}

// Interval returns the interval of the most recent Start.
func (t *Timer) Interval() time.Duration { return time.Duration(t.interval.Load()) }

// SetStartTime sets an absolute time for the first fire of the next Start.
// It is consumed by that Start. The zero time clears it.
func (t *Timer) SetStartTime(at time.Time) error {
	if t.removed.Load() {
		return t.loop.misuse("timer configure", ErrTimerRemoved)
	}
	t.startAt.Store(unixNanoOrZero(at))
	return nil
}

// StartTime returns the pending start time, or the zero time.
func (t *Timer) StartTime() time.Time { return timeOrZero(t.startAt.Load()) }

// SetEndTime sets an absolute time after which the timer stops instead of
// firing. The zero time clears it.
func (t *Timer) SetEndTime(at time.Time) error {
	if t.removed.Load() {
		return t.loop.misuse("timer configure", ErrTimerRemoved)
	}
	t.endAt.Store(unixNanoOrZero(at))
	return nil
}

// EndTime returns the end time, or the zero time.
func (t *Timer) EndTime() time.Time { return timeOrZero(t.endAt.Load()) }

// SetFireCount limits the number of fires per Start. Zero is unlimited.
func (t *Timer) SetFireCount(n uint64) error {
	if t.removed.Load() {
		return t.loop.misuse("timer configure", ErrTimerRemoved)
	}
	t.fireCount.Store(n)
	return nil
}

// FireCount returns the configured fire count.
func (t *Timer) FireCount() uint64 { return t.fireCount.Load() }

// SetAutoRemove makes the timer remove itself once it stops on its own,
// because the fire count was reached or the end time passed.
func (t *Timer) SetAutoRemove(enabled bool) error {
	if t.removed.Load() {
		return t.loop.misuse("timer configure", ErrTimerRemoved)
	}
	t.autoRemove.Store(enabled)
	return nil
}

// AutoRemove returns the autoremove setting.
func (t *Timer) AutoRemove() bool { return t.autoRemove.Load() }

// SetMode sets the scheduling mode.
func (t *Timer) SetMode(mode TimerMode) error {
	if t.removed.Load() {
		return t.loop.misuse("timer configure", ErrTimerRemoved)
	}
	t.mode.Store(uint32(mode))
	return nil
}

// Mode returns the scheduling mode.
func (t *Timer) Mode() TimerMode { return TimerMode(t.mode.Load()) }

func unixNanoOrZero(at time.Time) int64 {
	if at.IsZero() {
		return 0
	}
	return at.UnixNano()
}

func timeOrZero(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(0, v)
}

// armTimer applies a Start to the heap. Loop-owned.
func (l *Loop) armTimer(t *Timer) {
	if t.removed.Load() || l.status.IsTerminal() {
		return
	}
	t.fired = 0
	t.due = false
	if t.executing {
		t.rearmed = true
		return
	}
	if t.started.Load() {
		l.heap.schedule(t, t.next.Load())
	} else {
		l.heap.unschedule(t)
	}
}

// disarmTimer applies a Stop to the heap. Loop-owned.
func (l *Loop) disarmTimer(t *Timer) {
	if t.started.Load() {
		// restarted before the stop was applied
		return
	}
	t.due = false
	t.rearmed = false
	l.heap.unschedule(t)
}

// dropTimer applies a Remove. Loop-owned.
func (l *Loop) dropTimer(t *Timer) {
	t.due = false
	t.rearmed = false
	l.heap.unschedule(t)
	delete(l.timers, t)
}

// expireTimer stops a timer that ran its course. Loop-owned.
func (l *Loop) expireTimer(t *Timer, reason string) {
	t.started.Store(false)
	autoRemove := t.autoRemove.Load()
	if autoRemove && !t.removed.Swap(true) {
		l.objects.Add(-1)
		l.dropTimer(t)
	}
	l.log.timerExpired(reason, autoRemove)
}

// fireTimers runs every timer due at the start of the pass, earliest first.
// Loop-owned.
func (l *Loop) fireTimers() {
	now := monoNow()
	due := l.heap.popDue(now, l.due[:0])
	for _, t := range due {
		t.due = true
	}
	for i, t := range due {
		due[i] = nil
		if !t.due || t.removed.Load() || !t.started.Load() {
			continue
		}
		t.due = false

		if end := t.endAt.Load(); end != 0 && time.Now().UnixNano() >= end {
			l.expireTimer(t, "end time")
			continue
		}

		t.executing = true
		t.rearmed = false
		t.lastRun = monoNow()
		l.stats.timers.Add(1)
		l.callHandler("timer", t.handler, EventOther, t)
		t.executing = false

		switch {
		case t.removed.Load():
			continue
		case t.rearmed:
			t.rearmed = false
			if t.started.Load() {
				l.heap.schedule(t, t.next.Load())
			}
			continue
		case !t.started.Load():
			continue
		}

		t.fired++
		if n := t.fireCount.Load(); n != 0 && t.fired >= n {
			l.expireTimer(t, "fire count")
			continue
		}

		interval := t.interval.Load()
		var next int64
		if TimerMode(t.mode.Load()) == TimerMonotonic {
			next = t.key + interval
		} else {
			next = monoNow() + interval
		}
		t.next.Store(next)
		l.heap.schedule(t, next)
	}
	l.due = due[:0]
}

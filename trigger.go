// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package reactor

import (
	"sync/atomic"
)

// Trigger is a cross-goroutine wake primitive bound to one loop. Each
// delivery calls the handler with [EventOther] and the trigger as the
// handle.
//
// Signals made before the loop consumes a pending one collapse into a single
// delivery. A signal made while the handler runs causes another delivery.
type Trigger struct {
	loop    *Loop
	handler atomic.Pointer[handlerRef]
	pending atomic.Bool
	removed atomic.Bool
}

// AddTrigger binds a new, unsignaled trigger to the loop.
func (l *Loop) AddTrigger(handler Handler) (*Trigger, error) {
	switch {
	case handler == nil:
		return nil, l.misuse("trigger add", ErrNilHandler)
	case l.closed.Load():
		return nil, l.misuse("trigger add", ErrLoopClosed)
	case l.status.IsTerminal():
		return nil, l.misuse("trigger add", ErrLoopDone)
	}
	t := &Trigger{loop: l}
	t.handler.Store(&handlerRef{handler})
	l.objects.Add(1)
	l.handleCount.Add(1)
	l.exec(func() {
		switch {
		case t.removed.Load():
		case l.status.IsTerminal():
			l.dropTrigger(t)
		default:
			l.triggers[t] = struct{}{}
		}
	}, false)
	return t, nil
}

// FD implements [Handle]. Triggers have no descriptor.
func (t *Trigger) FD() int { return -1 }

// Loop returns the loop the trigger is bound to.
func (t *Trigger) Loop() *Loop { return t.loop }

// Signal wakes the loop and schedules a delivery. It is safe to call from
// any goroutine, including the loop's. Signaling a removed trigger is
// misuse, and has no effect.
func (t *Trigger) Signal() error {
	if t.removed.Load() {
		return t.loop.misuse("trigger signal", ErrTriggerRemoved)
	}
	if t.pending.CompareAndSwap(false, true) {
		t.loop.signal(t)
	}
	return nil
}

// Pending reports whether a signal is waiting for delivery.
func (t *Trigger) Pending() bool { return t.pending.Load() }

// SetHandler replaces the handler used for subsequent deliveries.
func (t *Trigger) SetHandler(h Handler) error {
	if h == nil {
		return t.loop.misuse("trigger edit", ErrNilHandler)
	}
	if t.removed.Load() {
		return t.loop.misuse("trigger edit", ErrTriggerRemoved)
	}
	t.handler.Store(&handlerRef{h})
	return nil
}

// Remove detaches the trigger. A pending signal is discarded.
func (t *Trigger) Remove() error {
	if t.removed.Swap(true) {
		return t.loop.misuse("trigger remove", ErrTriggerRemoved)
	}
	l := t.loop
	l.objects.Add(-1)
	l.handleCount.Add(-1)
	l.exec(func() { delete(l.triggers, t) }, true)
	return nil
}

// Removed reports whether the trigger was removed.
func (t *Trigger) Removed() bool { return t.removed.Load() }

// signal queues t for delivery and wakes the loop.
func (l *Loop) signal(t *Trigger) {
	l.sigMu.Lock()
	l.signals = append(l.signals, t)
	l.sigPending.Store(true)
	l.sigMu.Unlock()
	l.wakeup()
}

// deliverSignals calls the handler of every signaled trigger. Loop-owned.
func (l *Loop) deliverSignals() {
	if !l.sigPending.Load() {
		return
	}
	l.sigMu.Lock()
	signals := l.signals
	l.signals = l.sigSpare[:0]
	l.sigPending.Store(false)
	l.sigMu.Unlock()

	for i, t := range signals {
		signals[i] = nil
		t.pending.Store(false)
		if t.removed.Load() {
			continue
		}
		l.stats.softEvents.Add(1)
		l.callHandler("trigger", t.handler.Load().Handler, EventOther, t)
	}
	l.sigSpare = signals[:0]
}

// dropTrigger releases a trigger the loop is giving up on. Loop-owned.
func (l *Loop) dropTrigger(t *Trigger) {
	if !t.removed.Swap(true) {
		l.objects.Add(-1)
		l.handleCount.Add(-1)
	}
	t.pending.Store(false)
	delete(l.triggers, t)
}

// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package reactor

import (
	"context"
	"errors"
	"time"

	"github.com/eapache/queue"
)

// run is the dispatch cycle. The caller holds the baton.
func (l *Loop) run(ctx context.Context) (err error) {
	if !l.status.TryTransition(StatusPaused, StatusRunning) {
		l.status.TryTransition(StatusReturn, StatusRunning)
	}
	l.log.loopStarted(l.Flags())
	defer func() {
		switch {
		case errors.Is(err, ErrReturn):
			l.status.TryTransition(StatusRunning, StatusReturn)
		case errors.Is(err, ErrTimeout):
			l.status.TryTransition(StatusRunning, StatusPaused)
		}
		l.log.loopStopped(err, l.ProcessTime())
	}()

	// Start context watcher goroutine to wake loop on cancellation
	ctxDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			l.wakeup()
		case <-ctxDone:
		}
	}()
	defer close(ctxDone)

	for {
		l.runControl()

		switch l.request.Take() {
		case requestDone:
			l.finish()
			return ErrDone
		case requestReturn:
			return ErrReturn
		}

		if err := ctx.Err(); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return ErrTimeout
			}
			return ErrReturn
		}

		if ds := l.disconnect; ds != nil {
			now := monoNow()
			if !ds.fired && now >= ds.at {
				ds.fired = true
				l.disconnectAll()
			}
			if now >= ds.deadline {
				l.finish()
				return ErrDone
			}
		}

		if l.exitOnEmpty() {
			l.finish()
			return ErrDone
		}

		ready, err := l.backend.Wait(l.waitTimeout(ctx), l.readyBuf[:0])
		if err != nil {
			l.log.backendFailure("wait", err)
			l.finish()
			return &BackendError{Err: err}
		}

		begin := time.Now()
		l.deliverSignals()
		l.dispatchSoft()
		l.dispatchReady(ready)
		l.readyBuf = ready[:0]
		l.fireTimers()
		l.runTasks()
		l.processTime.Add(int64(time.Since(begin)))
	}
}

// exitOnEmpty reports whether the exit-on-empty flags say the loop should
// finish now.
func (l *Loop) exitOnEmpty() bool {
	flags := l.Flags()
	if flags&FlagExitOnEmpty == 0 || l.handleCount.Load() != 0 || l.tasks.pending() || l.soft.Length() != 0 {
		return false
	}
	return flags&FlagExitOnEmptyNoTimers != 0 || len(l.heap) == 0
}

// waitTimeout computes the bound of the next backend wait. A negative
// result blocks until woken.
func (l *Loop) waitTimeout(ctx context.Context) time.Duration {
	if l.soft.Length() != 0 ||
		l.tasks.pending() ||
		l.control.pending() ||
		l.sigPending.Load() ||
		l.request.Load() != requestNone {
		return 0
	}

	timeout := time.Duration(-1)
	consider := func(d time.Duration) {
		if d < 0 {
			d = 0
		}
		if timeout < 0 || d < timeout {
			timeout = d
		}
	}

	now := monoNow()
	if t := l.heap.peek(); t != nil {
		consider(time.Duration(t.key - now))
	}
	if ds := l.disconnect; ds != nil {
		if !ds.fired {
			consider(time.Duration(ds.at - now))
		}
		consider(time.Duration(ds.deadline - now))
	}
	if deadline, ok := ctx.Deadline(); ok {
		consider(time.Until(deadline))
	}
	return timeout
}

// dispatchSoft delivers the soft events queued before the pass started.
func (l *Loop) dispatchSoft() {
	for n := l.soft.Length(); n > 0; n-- {
		ev := l.soft.Remove().(softEvent)
		l.stats.softEvents.Add(1)
		l.deliver(ev.reg, ev.ev)
	}
}

// dispatchReady delivers OS readiness. Every report is resolved to its
// registration before any handler runs, as a handler may close a descriptor
// and register another under the same number.
func (l *Loop) dispatchReady(ready []Ready) {
	regs := l.readyRegs[:0]
	for _, r := range ready {
		regs = append(regs, l.byFD[r.FD])
	}
	for i, r := range ready {
		reg := regs[i]
		regs[i] = nil
		if r.FD == l.wakeReadFD {
			l.drainWake()
			continue
		}
		if reg == nil || reg.removed.Load() {
			continue
		}
		l.stats.osEvents.Add(1)
		if ev, ok := l.translate(reg, r.Type); ok {
			l.deliver(reg, ev)
		}
	}
	l.readyRegs = regs[:0]
}

// translate maps raw readiness onto the event expected by the interest set
// of reg. Readiness nobody asked for is dropped.
func (l *Loop) translate(reg *Registration, ev EventType) (EventType, bool) {
	interest := reg.Interest()
	switch ev {
	case EventRead:
		if interest&InterestAccept != 0 {
			return EventAccept, true
		}
		return ev, interest&InterestRead != 0
	case EventWrite:
		if interest&InterestConnect != 0 {
			reg.interest.And(^uint32(InterestConnect))
			l.syncBackend(reg)
			return EventConnected, true
		}
		return ev, interest&InterestWrite != 0
	default:
		return ev, true
	}
}

// deliver calls the handler of reg, unless reg was removed or already saw a
// terminal event. A terminal event stops the backend watch.
func (l *Loop) deliver(reg *Registration, ev EventType) {
	if reg.removed.Load() || reg.terminated {
		return
	}
	if f, ok := reg.handle.(EventFilter); ok {
		var keep bool
		if ev, keep = f.FilterEvent(ev); !keep {
			return
		}
	}
	if ev.Terminal() {
		reg.terminated = true
		l.unwatch(reg)
	}
	reg.lastEvent.Store(uint32(ev) + 1)
	l.callHandler("handle", reg.handler.Load().Handler, ev, reg.handle)
}

// callHandler executes a handler with panic recovery.
func (l *Loop) callHandler(kind string, h Handler, ev EventType, handle Handle) {
	defer func() {
		if r := recover(); r != nil {
			l.log.panicked(kind, r)
		}
	}()
	h.HandleEvent(l, ev, handle)
}

// callTask executes a function with panic recovery.
func (l *Loop) callTask(kind string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.panicked(kind, r)
		}
	}()
	fn()
}

// runControl applies the mutations marshaled by other goroutines.
func (l *Loop) runControl() {
	for l.control.pending() {
		batch := l.control.take()
		for i, fn := range batch {
			batch[i] = nil
			l.callTask("control", fn)
		}
	}
}

// runTasks runs the tasks queued before the drain started.
func (l *Loop) runTasks() {
	if !l.tasks.pending() {
		return
	}
	batch := l.tasks.take()
	for i, fn := range batch {
		batch[i] = nil
		l.stats.tasks.Add(1)
		l.callTask("task", fn)
	}
}

func (l *Loop) snapshotHandles() []*Registration {
	regs := make([]*Registration, 0, len(l.handles))
	for _, reg := range l.handles {
		regs = append(regs, reg)
	}
	return regs
}

// finish moves the loop to StatusDone, delivering a final DISCONNECTED to
// each remaining handle, then dropping every registration, trigger, timer,
// and task.
func (l *Loop) finish() {
	if l.status.IsTerminal() {
		return
	}
	l.status.Store(StatusDone)

	regs := l.snapshotHandles()
	for _, reg := range regs {
		if !reg.terminated {
			l.deliver(reg, EventDisconnected)
		}
	}
	for _, reg := range regs {
		l.release(reg)
	}
	// registrations added by the DISCONNECTED handlers were rejected, but
	// the table may still hold failed attachments
	for _, reg := range l.snapshotHandles() {
		l.release(reg)
	}

	for t := range l.triggers {
		l.dropTrigger(t)
	}

	for t := range l.timers {
		t.started.Store(false)
		if !t.removed.Swap(true) {
			l.objects.Add(-1)
		}
		t.due = false
		t.rearmed = false
		t.index = -1
		delete(l.timers, t)
	}
	for i := range l.heap {
		l.heap[i].index = -1
		l.heap[i] = nil
	}
	l.heap = l.heap[:0]
	for i := range l.due {
		l.due[i] = nil
	}
	l.due = l.due[:0]

	l.soft = queue.New()
	l.disconnect = nil
	l.tasks.discard()

	l.log.loopDone(len(regs))
}

// disconnectAll starts the disconnect phase of DoneWithDisconnect.
func (l *Loop) disconnectAll() {
	for _, reg := range l.snapshotHandles() {
		if reg.removed.Load() {
			continue
		}
		if d, ok := reg.handle.(Disconnecter); ok && !reg.terminated {
			l.callTask("disconnect", d.Disconnect)
			continue
		}
		l.deliver(reg, EventDisconnected)
		l.release(reg)
	}
	for t := range l.triggers {
		l.dropTrigger(t)
	}
}

// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package reactor

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Handle is an I/O object that may be registered with a [Loop].
//
// Implementations must be comparable, and are typically pointer types: the
// handle value identifies the registration process-wide.
type Handle interface {
	// FD returns the descriptor watched for readiness, or -1 for a handle
	// that only receives injected events.
	FD() int
}

// Handler receives the events of a registration. It is always called on the
// goroutine running the owning loop.
type Handler interface {
	HandleEvent(l *Loop, ev EventType, h Handle)
}

// HandlerFunc adapts a function to [Handler].
type HandlerFunc func(l *Loop, ev EventType, h Handle)

// HandleEvent calls f(l, ev, h).
func (f HandlerFunc) HandleEvent(l *Loop, ev EventType, h Handle) { f(l, ev, h) }

// Connector may be implemented by a [Handle] that can already be connected
// when it is added. If Connected returns true, an [EventConnected] is
// delivered in the next dispatch pass.
type Connector interface {
	Connected() bool
}

// EventFilter may be implemented by a [Handle] to rewrite or consume events
// before they reach the handler. Returning false drops the event.
type EventFilter interface {
	FilterEvent(ev EventType) (EventType, bool)
}

// Disconnecter may be implemented by a [Handle] to take part in
// [Loop.DoneWithDisconnect]. Disconnect should begin an orderly shutdown
// that ends with the handle being removed from the loop.
type Disconnecter interface {
	Disconnect()
}

// claims maps every registered Handle to its *Registration, guaranteeing a
// handle is registered with at most one loop at a time.
var claims sync.Map

// Registration is the single-owner token for a handle registered with a
// loop. It is created by [Loop.Add] and invalidated by [Registration.Remove].
type Registration struct {
	loop    *Loop
	handle  Handle
	handler atomic.Pointer[handlerRef]

	interest  atomic.Uint32
	lastEvent atomic.Uint32
	removed   atomic.Bool
	fd        int

	// owned by the loop
	watched    Interest
	watching   bool
	terminated bool
}

type handlerRef struct {
	Handler
}

type softEvent struct {
	reg *Registration
	ev  EventType
}

// Loop returns the loop the handle is registered with.
func (r *Registration) Loop() *Loop { return r.loop }

// Handle returns the registered handle.
func (r *Registration) Handle() Handle { return r.handle }

// Handler returns the current handler.
func (r *Registration) Handler() Handler { return r.handler.Load().Handler }

// Interest returns the current interest set. [InterestConnect] is cleared
// once the connection completes.
func (r *Registration) Interest() Interest { return Interest(r.interest.Load()) }

// LastEvent returns the most recent event delivered, if any.
func (r *Registration) LastEvent() (EventType, bool) {
	v := r.lastEvent.Load()
	if v == 0 {
		return 0, false
	}
	return EventType(v - 1), true
}

// Removed reports whether the registration has been removed, either
// explicitly or because the loop finished.
func (r *Registration) Removed() bool { return r.removed.Load() }

// SetHandler replaces the handler. Events already pending for the
// registration are delivered to the new handler.
func (r *Registration) SetHandler(h Handler) error {
	if h == nil {
		return r.loop.misuse("edit", ErrNilHandler)
	}
	if r.removed.Load() {
		return r.loop.misuse("edit", ErrNotRegistered)
	}
	r.handler.Store(&handlerRef{h})
	return nil
}

// SetInterest changes the conditions the registration waits for, without
// removing it from the backend.
func (r *Registration) SetInterest(i Interest) error {
	if r.removed.Load() {
		return r.loop.misuse("edit", ErrNotRegistered)
	}
	r.interest.Store(uint32(i))
	r.loop.exec(func() { r.loop.syncBackend(r) }, true)
	return nil
}

// Inject queues ev for delivery in the next dispatch pass, ahead of I/O
// readiness.
func (r *Registration) Inject(ev EventType) error {
	if !ev.valid() {
		return r.loop.misuse("inject", ErrInvalidEventType)
	}
	if r.removed.Load() {
		return r.loop.misuse("inject", ErrNotRegistered)
	}
	r.loop.exec(func() { r.loop.queueSoft(r, ev) }, true)
	return nil
}

// Remove unregisters the handle, returning it to the caller, who may then
// add it to any loop. No event is delivered to the registration after
// Remove returns on the loop goroutine. Removing twice is misuse.
func (r *Registration) Remove() (Handle, error) {
	if r.removed.Swap(true) {
		return nil, r.loop.misuse("remove", ErrNotRegistered)
	}
	l := r.loop
	l.objects.Add(-1)
	l.handleCount.Add(-1)
	claims.CompareAndDelete(r.handle, r)
	l.exec(func() { l.detach(r) }, true)
	return r.handle, nil
}

// Transfer moves a registration to dst, keeping its handler and interest.
// The handle is removed from its current loop first.
func Transfer(r *Registration, dst *Loop) (*Registration, error) {
	if dst == nil {
		return nil, ErrNilLoop
	}
	interest, handler := r.Interest(), r.Handler()
	h, err := r.Remove()
	if err != nil {
		return nil, err
	}
	return dst.Add(h, interest, handler)
}

// Add registers h with the loop. The loop takes ownership until the
// returned registration is removed. Adding a handle that is registered with
// any loop fails with [ErrAlreadyRegistered].
//
// Add may be called from any goroutine. When the loop is running on another
// goroutine, the backend registration is applied by the loop; a failure is
// then reported to the handler as [EventError].
func (l *Loop) Add(h Handle, interest Interest, handler Handler) (*Registration, error) {
	switch {
	case h == nil:
		return nil, l.misuse("add", ErrNilHandle)
	case handler == nil:
		return nil, l.misuse("add", ErrNilHandler)
	case l.closed.Load():
		return nil, l.misuse("add", ErrLoopClosed)
	case l.status.IsTerminal():
		return nil, l.misuse("add", ErrLoopDone)
	}
	switch h.(type) {
	case *Timer, *Trigger:
		return nil, l.misuse("add", ErrReservedHandle)
	}

	reg := &Registration{loop: l, handle: h, fd: h.FD()}
	reg.interest.Store(uint32(interest))
	reg.handler.Store(&handlerRef{handler})

	if _, loaded := claims.LoadOrStore(h, reg); loaded {
		return nil, l.misuse("add", ErrAlreadyRegistered)
	}
	l.objects.Add(1)
	l.handleCount.Add(1)

	var err error
	if l.tryInline(func() { err = l.attach(reg) }) {
		if err != nil {
			reg.removed.Store(true)
			l.objects.Add(-1)
			l.handleCount.Add(-1)
			claims.CompareAndDelete(h, reg)
			return nil, err
		}
		return reg, nil
	}

	l.enqueue(func() {
		if err := l.attach(reg); err != nil {
			l.failAttach(reg, err)
		}
	}, l.Flags()&FlagNoWake == 0)
	return reg, nil
}

// Has reports whether h is currently registered with the loop.
func (l *Loop) Has(h Handle) bool {
	v, ok := claims.Load(h)
	if !ok {
		return false
	}
	reg := v.(*Registration)
	return reg.loop == l && !reg.removed.Load()
}

// attach inserts reg into the handle table and the backend. Loop-owned.
func (l *Loop) attach(reg *Registration) error {
	if reg.removed.Load() {
		return nil
	}
	if l.status.IsTerminal() {
		return ErrLoopDone
	}
	if reg.fd >= 0 {
		if other, ok := l.byFD[reg.fd]; ok && other != reg {
			return ErrFDRegistered
		}
	}
	l.handles[reg.handle] = reg
	if reg.fd >= 0 {
		l.byFD[reg.fd] = reg
		if want := reg.Interest().readiness(); want != 0 {
			if err := l.backend.Add(reg.fd, want); err != nil {
				delete(l.handles, reg.handle)
				delete(l.byFD, reg.fd)
				return fmt.Errorf("reactor: add fd %d: %w", reg.fd, err)
			}
			reg.watching = true
			reg.watched = want
		}
	}
	if c, ok := reg.handle.(Connector); ok && c.Connected() {
		l.queueSoft(reg, EventConnected)
	}
	return nil
}

// failAttach reports an asynchronous registration failure to the handler.
func (l *Loop) failAttach(reg *Registration, err error) {
	l.log.backendWarning("add", reg.fd, err)
	if reg.removed.Load() {
		return
	}
	if l.status.IsTerminal() {
		l.release(reg)
		return
	}
	l.handles[reg.handle] = reg
	l.deliver(reg, EventError)
}

// detach removes reg from the handle table and the backend. Loop-owned.
func (l *Loop) detach(reg *Registration) {
	if cur, ok := l.handles[reg.handle]; ok && cur == reg {
		delete(l.handles, reg.handle)
	}
	if reg.fd >= 0 {
		if cur, ok := l.byFD[reg.fd]; ok && cur == reg {
			delete(l.byFD, reg.fd)
		}
	}
	l.unwatch(reg)
}

// release drops a registration the loop is giving up on. Loop-owned.
func (l *Loop) release(reg *Registration) {
	if !reg.removed.Swap(true) {
		l.objects.Add(-1)
		l.handleCount.Add(-1)
		claims.CompareAndDelete(reg.handle, reg)
	}
	l.detach(reg)
}

func (l *Loop) unwatch(reg *Registration) {
	if !reg.watching {
		return
	}
	reg.watching = false
	reg.watched = 0
	if err := l.backend.Remove(reg.fd); err != nil {
		l.log.backendWarning("remove", reg.fd, err)
	}
}

// syncBackend brings the backend in line with the interest set of reg.
// Loop-owned.
func (l *Loop) syncBackend(reg *Registration) {
	if reg.removed.Load() || reg.terminated || reg.fd < 0 || l.byFD[reg.fd] != reg {
		return
	}
	want := reg.Interest().readiness()
	var err error
	switch {
	case want == reg.watched && reg.watching == (want != 0):
		return
	case want == 0:
		l.unwatch(reg)
		return
	case !reg.watching:
		err = l.backend.Add(reg.fd, want)
	default:
		err = l.backend.Modify(reg.fd, want)
	}
	if err != nil {
		l.log.backendWarning("modify", reg.fd, err)
		l.deliver(reg, EventError)
		return
	}
	reg.watching = true
	reg.watched = want
}

// queueSoft appends an event to the soft event queue. Loop-owned.
func (l *Loop) queueSoft(reg *Registration, ev EventType) {
	if reg.removed.Load() {
		return
	}
	l.soft.Add(softEvent{reg: reg, ev: ev})
}

// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package reactor

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"golang.org/x/sys/unix"
)

var loopIDCounter atomic.Uint64

// wakeMsg is written to the wake descriptor. Any non-zero value works for
// both eventfd and the self-pipe.
var wakeMsg = [8]byte{1}

var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// Loop is a single-goroutine event reactor. It owns a [Backend], a timer
// heap, a set of triggers, a task queue, and a table of registered handles.
//
// Loop-owned structures are only touched by the goroutine currently holding
// the run baton: the goroutine inside [Loop.Run], or, while the loop is not
// running, a caller performing an operation inline. Every other goroutine
// marshals its mutations onto the loop's control queue.
type Loop struct { // betteralign:ignore
	// Prevent copying
	_ [0]func()

	status  fastStatus
	request requestState

	log     *logger
	backend Backend
	control *taskQueue
	tasks   *taskQueue
	pool    atomic.Pointer[Pool]

	// owned by the baton holder
	handles    map[Handle]*Registration
	byFD       map[int]*Registration
	triggers   map[*Trigger]struct{}
	timers     map[*Timer]struct{}
	heap       timerHeap
	due        []*Timer
	soft       *queue.Queue
	readyBuf   []Ready
	readyRegs  []*Registration
	disconnect *disconnectState

	// Trigger signals
	sigMu      sync.Mutex
	signals    []*Trigger
	sigSpare   []*Trigger
	sigPending atomic.Bool

	// Ownership
	baton   sync.Mutex
	goid    atomic.Uint64
	running atomic.Bool
	closed  atomic.Bool
	runMu   sync.Mutex
	runDone chan struct{}

	// Wake-up mechanism
	wakeReadFD  int
	wakeWriteFD int
	wakeBuf     [8]byte
	wakePending atomic.Uint32

	objects     atomic.Int64
	handleCount atomic.Int64
	processTime atomic.Int64
	stats       loopStats
	flags       atomic.Uint32
	id          uint64
}

// disconnectState tracks a DoneWithDisconnect request, in monoNow time.
type disconnectState struct {
	at       int64
	deadline int64
	fired    bool
}

// New creates a paused loop.
func New(opts ...LoopOption) (*Loop, error) {
	cfg, err := resolveLoopOptions(opts)
	if err != nil {
		return nil, err
	}

	backend, err := newBackend(cfg)
	if err != nil {
		return nil, err
	}

	wakeFd, wakeWriteFd, err := createWakeFd()
	if err != nil {
		_ = backend.Close()
		return nil, err
	}

	closeFDs := func() {
		_ = backend.Close()
		_ = closeFD(wakeFd)
		if wakeWriteFd != wakeFd {
			_ = closeFD(wakeWriteFd)
		}
	}

	// Register wake pipe
	if err := backend.Add(wakeFd, InterestRead); err != nil {
		closeFDs()
		return nil, err
	}

	id := loopIDCounter.Add(1)
	l := &Loop{
		id:          id,
		log:         newLogger(cfg.logger, cfg.misuseRates, id),
		backend:     backend,
		control:     newTaskQueue(),
		tasks:       newTaskQueue(),
		handles:     make(map[Handle]*Registration),
		byFD:        make(map[int]*Registration),
		triggers:    make(map[*Trigger]struct{}),
		timers:      make(map[*Timer]struct{}),
		soft:        queue.New(),
		readyBuf:    make([]Ready, 0, cfg.readyBufferLen),
		readyRegs:   make([]*Registration, 0, cfg.readyBufferLen),
		wakeReadFD:  wakeFd,
		wakeWriteFD: wakeWriteFd,
	}
	l.flags.Store(uint32(cfg.flags))
	return l, nil
}

// ID returns the process-unique identifier of the loop, as used in logs.
func (l *Loop) ID() uint64 { return l.id }

// Flags returns the current flags. [Loop.DoneWithDisconnect] adds to them.
func (l *Loop) Flags() Flags { return Flags(l.flags.Load()) }

// Pool returns the pool the loop belongs to, or nil.
func (l *Loop) Pool() *Pool { return l.pool.Load() }

// Status returns the current dispatch status.
func (l *Loop) Status() Status { return l.status.Load() }

// NumObjects returns the number of registered handles, triggers, and
// timers, including stopped timers.
func (l *Loop) NumObjects() int { return int(l.objects.Load()) }

// ProcessTime returns the cumulative time spent dispatching events.
func (l *Loop) ProcessTime() time.Duration { return time.Duration(l.processTime.Load()) }

// Run dispatches events until the loop finishes, is asked to return, or ctx
// ends. The result is one of:
//
//   - [ErrDone]: the loop is finished, and cannot be run again
//   - [ErrReturn]: [Loop.Return] was called, or ctx was canceled
//   - [ErrTimeout]: the deadline of ctx elapsed
//   - a [*BackendError]: the backend failed, and the loop is finished
//   - an error wrapping [ErrMisuse]
//
// A return request made while the loop is not running applies to the next
// Run, which returns [ErrReturn] without waiting. Run locks the calling
// goroutine to its OS thread for its duration.
func (l *Loop) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if l.onLoopGoroutine() {
		return l.misuse("run", ErrReentrantRun)
	}
	if l.status.IsTerminal() {
		return ErrDone
	}
	if !l.running.CompareAndSwap(false, true) {
		return l.misuse("run", ErrLoopRunning)
	}

	l.runMu.Lock()
	l.runDone = make(chan struct{})
	l.runMu.Unlock()

	l.baton.Lock()
	l.goid.Store(getGoroutineID())

	var err error
	switch {
	case l.closed.Load():
		err = l.misuse("run", ErrLoopClosed)
	case l.status.IsTerminal():
		err = ErrDone
	default:
		runtime.LockOSThread()
		err = l.run(ctx)
		runtime.UnlockOSThread()
	}

	l.goid.Store(0)
	l.running.Store(false)
	l.baton.Unlock()

	l.runMu.Lock()
	close(l.runDone)
	l.runDone = nil
	l.runMu.Unlock()

	l.settle()
	return err
}

// runExited returns a channel closed once the in-flight Run, if any,
// returns.
func (l *Loop) runExited() <-chan struct{} {
	l.runMu.Lock()
	defer l.runMu.Unlock()
	if l.runDone == nil {
		return closedChan
	}
	return l.runDone
}

// Done requests the loop finish. Remaining handles receive a final
// [EventDisconnected], then every registration is released, and every timer
// and trigger dropped. When the loop is running, this happens at the next
// safe point, and Run returns [ErrDone]; otherwise it happens before Done
// returns, unless Done is called from a handler.
//
// Calling Done on a loop owned by a [Pool] finishes the whole pool.
func (l *Loop) Done() {
	if p := l.pool.Load(); p != nil {
		p.Done()
		return
	}
	l.done()
}

func (l *Loop) done() {
	if l.status.IsTerminal() {
		return
	}
	l.request.Done()
	switch {
	case l.onLoopGoroutine():
		return
	case l.running.Load():
		l.wakeup()
	case l.baton.TryLock():
		l.goid.Store(getGoroutineID())
		l.runControl()
		if l.request.Take() == requestDone {
			l.finish()
		}
		l.releaseBaton()
	default:
		// the baton holder settles the request
		l.wakeup()
	}
}

// Return requests the running loop unwind, keeping its registrations. Run
// returns [ErrReturn] at the next safe point. Return is a no-op once Done
// has been requested.
//
// Calling Return on a loop owned by a [Pool] applies to the whole pool.
func (l *Loop) Return() {
	if p := l.pool.Load(); p != nil {
		p.Return()
		return
	}
	l.ret()
}

func (l *Loop) ret() {
	if l.status.IsTerminal() {
		return
	}
	l.request.Return()
	if l.running.Load() && !l.onLoopGoroutine() {
		l.wakeup()
	}
}

// DoneWithDisconnect finishes the loop gracefully. It sets
// [FlagExitOnEmpty] and [FlagExitOnEmptyNoTimers], then, once delay has
// elapsed, asks every handle implementing [Disconnecter] to disconnect, and
// delivers [EventDisconnected] to, then releases, every other handle.
// Triggers are dropped at the same time. The loop finishes as soon as no
// handles remain, or when timeout has elapsed after delay, whichever is
// first.
//
// Calling DoneWithDisconnect on a loop owned by a [Pool] applies to the
// whole pool.
func (l *Loop) DoneWithDisconnect(delay, timeout time.Duration) {
	if p := l.pool.Load(); p != nil {
		p.DoneWithDisconnect(delay, timeout)
		return
	}
	l.doneWithDisconnect(delay, timeout)
}

func (l *Loop) doneWithDisconnect(delay, timeout time.Duration) {
	if l.status.IsTerminal() {
		return
	}
	if delay < 0 {
		delay = 0
	}
	if timeout < 0 {
		timeout = 0
	}
	l.flags.Or(uint32(FlagExitOnEmpty | FlagExitOnEmptyNoTimers))
	now := monoNow()
	ds := &disconnectState{
		at:       now + int64(delay),
		deadline: now + int64(delay) + int64(timeout),
	}
	l.exec(func() {
		if l.disconnect == nil {
			l.disconnect = ds
		}
	}, true)
}

// QueueTask schedules fn to run once on the loop goroutine, after the timers
// of the current or next dispatch pass. Tasks run in the order they were
// queued. Tasks still queued when the loop finishes are discarded.
func (l *Loop) QueueTask(fn func()) error {
	switch {
	case fn == nil:
		return l.misuse("queue task", ErrNilHandler)
	case l.closed.Load():
		return l.misuse("queue task", ErrLoopClosed)
	case l.status.IsTerminal():
		return l.misuse("queue task", ErrLoopDone)
	}
	l.tasks.push(fn)
	if !l.onLoopGoroutine() {
		l.wakeup()
	}
	return nil
}

// Close releases the backend and wake descriptors of an idle loop. It fails
// with an error wrapping [ErrMisuse] if the loop is running, still has
// registered objects, or belongs to a pool.
func (l *Loop) Close() error {
	if err := l.close(); err != nil {
		return l.misuse("close", err)
	}
	return nil
}

// CloseBlocking waits for any in-flight Run to return, then closes the loop
// as [Loop.Close] does. It does not request the loop finish.
func (l *Loop) CloseBlocking(ctx context.Context) error {
	if l.onLoopGoroutine() {
		return l.misuse("close", ErrLoopRunning)
	}
	for {
		err := l.close()
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrLoopRunning) {
			return l.misuse("close", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.runExited():
		}
	}
}

// close is Close, without logging.
func (l *Loop) close() error {
	if l.onLoopGoroutine() || l.running.Load() {
		return ErrLoopRunning
	}

	l.baton.Lock()
	l.goid.Store(getGoroutineID())

	var err error
	switch {
	case l.running.Load():
		err = ErrLoopRunning
	case l.closed.Load():
		err = ErrLoopClosed
	case l.pool.Load() != nil:
		err = ErrLoopInPool
	default:
		l.runControl()
		if l.objects.Load() != 0 {
			err = ErrLoopNotEmpty
			break
		}
		l.closed.Store(true)
		l.tasks.discard()
		l.closeFDs()
	}

	l.releaseBaton()
	return err
}

// closeFDs closes file descriptors.
func (l *Loop) closeFDs() {
	if err := l.backend.Close(); err != nil {
		l.log.backendWarning("close", -1, err)
	}
	_ = closeFD(l.wakeReadFD)
	if l.wakeWriteFD != l.wakeReadFD {
		_ = closeFD(l.wakeWriteFD)
	}
}

// misuse logs a programming error, returning it.
func (l *Loop) misuse(op string, err error) error {
	l.log.misuse(op, err)
	return err
}

// onLoopGoroutine reports whether the caller holds the run baton.
func (l *Loop) onLoopGoroutine() bool {
	id := l.goid.Load()
	if id == 0 {
		return false
	}
	return getGoroutineID() == id
}

// exec runs fn as the baton holder: inline if possible, otherwise on the
// loop goroutine, waking it if wake is set.
func (l *Loop) exec(fn func(), wake bool) {
	if l.tryInline(fn) {
		return
	}
	l.enqueue(fn, wake)
}

// tryInline runs fn on the calling goroutine if it already holds the baton,
// or can take it. Control operations queued earlier run first.
func (l *Loop) tryInline(fn func()) bool {
	if l.onLoopGoroutine() {
		fn()
		return true
	}
	if !l.baton.TryLock() {
		return false
	}
	l.goid.Store(getGoroutineID())
	l.runControl()
	fn()
	l.releaseBaton()
	return true
}

// enqueue pushes fn to the control queue. If nobody holds the baton, the
// queue is drained immediately.
func (l *Loop) enqueue(fn func(), wake bool) {
	l.control.push(fn)
	if l.running.Load() {
		if wake {
			l.wakeup()
		}
		return
	}
	if l.baton.TryLock() {
		l.goid.Store(getGoroutineID())
		l.runControl()
		l.releaseBaton()
	}
}

// releaseBaton gives up the baton, then settles anything queued while it
// was held.
func (l *Loop) releaseBaton() {
	l.goid.Store(0)
	l.baton.Unlock()
	l.settle()
}

// settle applies control operations and done requests left behind by a
// baton holder that is no longer running them. A goroutine that fails to
// take the baton leaves the work to the new holder.
func (l *Loop) settle() {
	for !l.running.Load() && (l.control.pending() || l.request.Load() == requestDone) {
		if !l.baton.TryLock() {
			return
		}
		l.goid.Store(getGoroutineID())
		l.runControl()
		if l.request.Load() == requestDone {
			l.request.Take()
			l.finish()
		}
		l.goid.Store(0)
		l.baton.Unlock()
	}
}

// wakeup interrupts a blocking wait. Concurrent calls are deduplicated
// until the loop drains the wake descriptor.
func (l *Loop) wakeup() {
	if l.closed.Load() || !l.wakePending.CompareAndSwap(0, 1) {
		return
	}
	if _, err := writeFD(l.wakeWriteFD, wakeMsg[:]); err != nil && err != unix.EAGAIN {
		l.wakePending.Store(0)
	}
}

// drainWake drains the wake descriptor.
func (l *Loop) drainWake() {
	for {
		n, err := readFD(l.wakeReadFD, l.wakeBuf[:])
		if err != nil || n <= 0 {
			break
		}
	}
	l.wakePending.Store(0)
	l.stats.wakes.Add(1)
}

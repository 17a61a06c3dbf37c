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

	"github.com/joeycumines/logiface"
	"vawter.tech/stopper"
)

// Pool is a set of loops, each run on a dedicated goroutine locked to its
// own OS thread. Handles, timers, triggers, and tasks directed at the pool
// are assigned to the least-loaded loop, and stay there.
//
// Exit requests made on any member loop apply to the whole pool.
type Pool struct {
	logger   *logiface.Logger[logiface.Event]
	mu       sync.Mutex
	loops    []*Loop
	owned    map[*Loop]bool
	affinity bool
	sctx     *stopper.Context
	joined   *sync.WaitGroup
	results  []error
	closed   bool
}

// NewPool creates a pool of min(runtime.NumCPU(), n) loops, where n is set
// by [WithMaxLoops]. The loops are created paused; see [Pool.Start].
func NewPool(opts ...PoolOption) (*Pool, error) {
	cfg, err := resolvePoolOptions(opts)
	if err != nil {
		return nil, err
	}

	n := runtime.NumCPU()
	if cfg.maxLoops > 0 && cfg.maxLoops < n {
		n = cfg.maxLoops
	}

	loopOpts := make([]LoopOption, 0, len(cfg.loopOptions)+1)
	loopOpts = append(loopOpts, WithLogger(cfg.logger))
	loopOpts = append(loopOpts, cfg.loopOptions...)

	p := &Pool{
		logger:   cfg.logger,
		owned:    make(map[*Loop]bool, n),
		affinity: cfg.affinity,
	}
	for range n {
		l, err := New(loopOpts...)
		if err != nil {
			p.closeOwned()
			return nil, err
		}
		l.pool.Store(p)
		p.loops = append(p.loops, l)
		p.owned[l] = true
	}
	return p, nil
}

// AddLoop adds an externally created loop to the pool. The pool does not
// own it: [Pool.Close] detaches it instead of closing it.
func (p *Pool) AddLoop(l *Loop) error {
	if l == nil {
		return ErrNilLoop
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.closed:
		return l.misuse("pool add loop", ErrPoolClosed)
	case p.sctx != nil:
		return l.misuse("pool add loop", ErrPoolRunning)
	case !l.pool.CompareAndSwap(nil, p):
		return l.misuse("pool add loop", ErrLoopAlreadyPooled)
	}
	p.loops = append(p.loops, l)
	return nil
}

// Loops returns the member loops.
func (p *Pool) Loops() []*Loop {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Loop(nil), p.loops...)
}

// Len returns the number of member loops.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.loops)
}

// Distribute returns the least-loaded member loop. A loop with no objects
// wins outright; otherwise the lowest process time, then the fewest objects,
// is preferred. Finished loops are never chosen.
func (p *Pool) Distribute() (*Loop, error) {
	p.mu.Lock()
	closed := p.closed
	loops := p.loops
	p.mu.Unlock()
	if closed {
		return nil, ErrPoolClosed
	}

	var (
		best      *Loop
		bestTime  int64
		bestCount int
	)
	for _, l := range loops {
		if l.status.IsTerminal() || l.closed.Load() {
			continue
		}
		count := l.NumObjects()
		if count == 0 {
			return l, nil
		}
		ms := l.ProcessTime().Milliseconds()
		if best != nil && (ms > bestTime || (ms == bestTime && count >= bestCount)) {
			continue
		}
		best, bestTime, bestCount = l, ms, count
	}
	if best == nil {
		return nil, ErrPoolEmpty
	}
	return best, nil
}

// Add registers h with the least-loaded loop.
func (p *Pool) Add(h Handle, interest Interest, handler Handler) (*Registration, error) {
	l, err := p.Distribute()
	if err != nil {
		return nil, err
	}
	return l.Add(h, interest, handler)
}

// AddTrigger binds a trigger to the least-loaded loop.
func (p *Pool) AddTrigger(handler Handler) (*Trigger, error) {
	l, err := p.Distribute()
	if err != nil {
		return nil, err
	}
	return l.AddTrigger(handler)
}

// AddTimer attaches a stopped timer to the least-loaded loop.
func (p *Pool) AddTimer(handler Handler) (*Timer, error) {
	l, err := p.Distribute()
	if err != nil {
		return nil, err
	}
	return l.AddTimer(handler)
}

// Oneshot starts a single-fire timer on the least-loaded loop.
func (p *Pool) Oneshot(delay time.Duration, autoRemove bool, handler Handler) (*Timer, error) {
	l, err := p.Distribute()
	if err != nil {
		return nil, err
	}
	return l.Oneshot(delay, autoRemove, handler)
}

// QueueTask queues fn on the least-loaded loop.
func (p *Pool) QueueTask(fn func()) error {
	l, err := p.Distribute()
	if err != nil {
		return err
	}
	return l.QueueTask(fn)
}

// Start runs every member loop in the background, until each returns. Use
// [Pool.Wait] to collect the results. Canceling ctx asks the loops to
// return, as does [Pool.Stop].
func (p *Pool) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.closed:
		return ErrPoolClosed
	case p.sctx != nil:
		return ErrPoolRunning
	case len(p.loops) == 0:
		return ErrPoolEmpty
	}

	sctx := stopper.WithContext(ctx)
	loops := append([]*Loop(nil), p.loops...)
	results := make([]error, len(loops))
	joined := new(sync.WaitGroup)
	var remaining atomic.Int64
	remaining.Store(int64(len(loops)))
	exited := func() {
		if remaining.Add(-1) == 0 {
			sctx.Stop(0)
		}
	}

	for i, l := range loops {
		joined.Add(1)
		accepted := sctx.Go(func(sctx *stopper.Context) error {
			defer joined.Done()
			runtime.LockOSThread()
			pinned := false
			if p.affinity {
				cpu := i % runtime.NumCPU()
				if err := setThreadAffinity(cpu); err != nil {
					logAffinityFailed(p.logger, cpu, err)
				} else {
					pinned = true
				}
			}
			// a pinned thread is discarded rather than reused
			if !pinned {
				defer runtime.UnlockOSThread()
			}

			results[i] = l.Run(sctx)
			exited()
			return nil
		})
		if !accepted {
			// ctx was already canceled
			results[i] = ErrReturn
			joined.Done()
			exited()
		}
	}

	// Return requests made before a loop reached Run are kept for it.
	joined.Add(1)
	if !sctx.Go(func(sctx *stopper.Context) error {
		defer joined.Done()
		<-sctx.Stopping()
		for _, l := range loops {
			l.ret()
		}
		return nil
	}) {
		joined.Done()
	}

	p.sctx = sctx
	p.joined = joined
	p.results = results
	logPoolStarted(p.logger, len(loops), p.affinity)
	return nil
}

// Wait blocks until every loop started by [Pool.Start] has returned. The
// result is the first result that is not [ErrDone], [ErrTimeout], or
// [ErrReturn], otherwise the result of the first loop. The pool may then be
// started again, though finished loops return [ErrDone] immediately.
func (p *Pool) Wait() error {
	p.mu.Lock()
	sctx := p.sctx
	joined := p.joined
	results := p.results
	p.mu.Unlock()
	if sctx == nil {
		return ErrPoolEmpty
	}

	// sctx.Wait returns early once ctx is canceled
	joined.Wait()
	_ = sctx.Wait()

	// the stop fan-out races with loops that already returned
	for _, l := range p.Loops() {
		l.request.clearReturn()
	}

	var err error
	for i, result := range results {
		if i == 0 {
			err = result
		}
		if result != nil && !IsBenign(result) {
			err = result
			break
		}
	}

	p.mu.Lock()
	if p.sctx == sctx {
		p.sctx = nil
		p.joined = nil
		p.results = nil
	}
	p.mu.Unlock()

	logPoolStopped(p.logger, err)
	return err
}

// Run starts the pool, then waits for it, as [Pool.Start] and [Pool.Wait].
func (p *Pool) Run(ctx context.Context) error {
	if err := p.Start(ctx); err != nil {
		return err
	}
	return p.Wait()
}

// Stop asks every running loop to return, canceling the context they run
// with once grace has elapsed.
func (p *Pool) Stop(grace time.Duration) {
	p.mu.Lock()
	sctx := p.sctx
	p.mu.Unlock()
	if sctx != nil {
		sctx.Stop(grace)
	}
}

// Done finishes every member loop. See [Loop.Done].
func (p *Pool) Done() {
	for _, l := range p.Loops() {
		l.done()
	}
}

// Return asks every member loop to return. See [Loop.Return].
func (p *Pool) Return() {
	for _, l := range p.Loops() {
		l.ret()
	}
}

// DoneWithDisconnect gracefully finishes every member loop. See
// [Loop.DoneWithDisconnect].
func (p *Pool) DoneWithDisconnect(delay, timeout time.Duration) {
	for _, l := range p.Loops() {
		l.doneWithDisconnect(delay, timeout)
	}
}

// Status aggregates the status of the member loops: Running if any loop is
// running, otherwise Done if every loop is done, otherwise Return if any
// loop returned, otherwise Paused.
func (p *Pool) Status() Status {
	loops := p.Loops()
	var running, done, returned int
	for _, l := range loops {
		switch l.Status() {
		case StatusRunning:
			running++
		case StatusDone:
			done++
		case StatusReturn:
			returned++
		}
	}
	switch {
	case running != 0:
		return StatusRunning
	case len(loops) != 0 && done == len(loops):
		return StatusDone
	case returned != 0:
		return StatusReturn
	default:
		return StatusPaused
	}
}

// ProcessTime sums the process time of the member loops.
func (p *Pool) ProcessTime() time.Duration {
	var d time.Duration
	for _, l := range p.Loops() {
		d += l.ProcessTime()
	}
	return d
}

// NumObjects sums the object counts of the member loops.
func (p *Pool) NumObjects() int {
	var n int
	for _, l := range p.Loops() {
		n += l.NumObjects()
	}
	return n
}

// Close closes the owned loops, and detaches the rest. It fails if the pool
// is running, or if a member loop has registered objects.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.closed:
		return ErrPoolClosed
	case p.sctx != nil:
		return ErrPoolRunning
	}
	for _, l := range p.loops {
		if l.running.Load() {
			return ErrPoolRunning
		}
		if l.NumObjects() != 0 {
			return ErrLoopNotEmpty
		}
	}
	p.closed = true
	return p.closeOwned()
}

// CloseBlocking waits for a started pool to stop, then closes it. It does
// not ask the loops to stop.
func (p *Pool) CloseBlocking(ctx context.Context) error {
	p.mu.Lock()
	running := p.sctx != nil
	p.mu.Unlock()
	if running {
		done := make(chan struct{})
		go func() {
			defer close(done)
			_ = p.Wait()
		}()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-done:
		}
	}
	return p.Close()
}

// closeOwned closes the owned loops, detaching them first.
func (p *Pool) closeOwned() error {
	var errs []error
	for _, l := range p.loops {
		l.pool.CompareAndSwap(p, nil)
		if p.owned[l] {
			if err := l.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	p.loops = nil
	return errors.Join(errs...)
}

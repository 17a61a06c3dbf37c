// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package reactor

import (
	"runtime/debug"
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
)

// Log categories, attached to every entry as the "category" field, and used
// as the rate limiting key for warnings.
const (
	categoryLoop    = "loop"
	categoryPool    = "pool"
	categoryBackend = "backend"
	categoryMisuse  = "misuse"
	categoryPanic   = "panic"
	categoryTimer   = "timer"
)

// logger wraps the optional logiface logger and the warning rate limiter
// shared by a loop.
type logger struct {
	log     *logiface.Logger[logiface.Event]
	limiter *catrate.Limiter
	loopID  uint64
}

func newLogger(l *logiface.Logger[logiface.Event], rates map[time.Duration]int, loopID uint64) *logger {
	x := &logger{log: l, loopID: loopID}
	if l != nil && len(rates) != 0 {
		x.limiter = catrate.NewLimiter(rates)
	}
	return x
}

// allow applies rate limiting to the given category. A nil limiter allows
// everything.
func (x *logger) allow(category string, key string) bool {
	if x.limiter == nil {
		return true
	}
	_, ok := x.limiter.Allow(category + ":" + key)
	return ok
}

func (x *logger) loopStarted(flags Flags) {
	x.log.Debug().
		Str("category", categoryLoop).
		Uint64("loop", x.loopID).
		Str("flags", flags.String()).
		Log("loop started")
}

func (x *logger) loopStopped(err error, processTime time.Duration) {
	x.log.Debug().
		Str("category", categoryLoop).
		Uint64("loop", x.loopID).
		Str("result", Code(err).String()).
		Dur("process_time", processTime).
		Log("loop stopped")
}

func (x *logger) loopDone(handles int) {
	x.log.Debug().
		Str("category", categoryLoop).
		Uint64("loop", x.loopID).
		Int("dropped_handles", handles).
		Log("loop done")
}

func (x *logger) misuse(op string, err error) {
	b := x.log.Warning()
	if !b.Enabled() {
		return
	}
	if !x.allow(categoryMisuse, op) {
		b.Release()
		return
	}
	b.Str("category", categoryMisuse).
		Uint64("loop", x.loopID).
		Str("op", op).
		Err(err).
		Log("reactor misuse")
}

// backendFailure is never rate limited, as it is fatal to the loop.
func (x *logger) backendFailure(op string, err error) {
	x.log.Err().
		Str("category", categoryBackend).
		Uint64("loop", x.loopID).
		Str("op", op).
		Err(err).
		Log("backend failure")
}

// backendWarning reports a non-fatal backend error, such as a failure to
// remove a descriptor that was already closed.
func (x *logger) backendWarning(op string, fd int, err error) {
	b := x.log.Warning()
	if !b.Enabled() {
		return
	}
	if !x.allow(categoryBackend, op) {
		b.Release()
		return
	}
	b.Str("category", categoryBackend).
		Uint64("loop", x.loopID).
		Str("op", op).
		Int("fd", fd).
		Err(err).
		Log("backend operation failed")
}

func (x *logger) panicked(kind string, r any) {
	b := x.log.Err()
	if !b.Enabled() {
		return
	}
	b.Str("category", categoryPanic).
		Uint64("loop", x.loopID).
		Str("kind", kind).
		Err(PanicError{Value: r}).
		Str("stack", string(debug.Stack())).
		Log("callback panicked")
}

func (x *logger) timerExpired(reason string, autoRemoved bool) {
	x.log.Trace().
		Str("category", categoryTimer).
		Uint64("loop", x.loopID).
		Str("reason", reason).
		Bool("removed", autoRemoved).
		Log("timer stopped")
}

func logPoolStarted(l *logiface.Logger[logiface.Event], loops int, affinity bool) {
	l.Debug().
		Str("category", categoryPool).
		Int("loops", loops).
		Bool("affinity", affinity).
		Log("pool started")
}

func logPoolStopped(l *logiface.Logger[logiface.Event], err error) {
	l.Debug().
		Str("category", categoryPool).
		Str("result", Code(err).String()).
		Log("pool stopped")
}

func logAffinityFailed(l *logiface.Logger[logiface.Event], cpu int, err error) {
	l.Warning().
		Str("category", categoryPool).
		Int("cpu", cpu).
		Err(err).
		Log("failed to set thread affinity")
}

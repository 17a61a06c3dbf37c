// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package reactor

import (
	"errors"
	"fmt"
)

// Results of [Loop.Run]. None of these indicate a failure.
var (
	// ErrDone indicates the loop reached its terminal state, either because
	// [Loop.Done] was requested or because exit-on-empty applied.
	ErrDone = errors.New("reactor: done")
	// ErrTimeout indicates the deadline of the context passed to
	// [Loop.Run] elapsed. The loop may be run again.
	ErrTimeout = errors.New("reactor: timeout")
	// ErrReturn indicates [Loop.Return] was requested, or the context passed
	// to [Loop.Run] was canceled. Registrations are retained.
	ErrReturn = errors.New("reactor: return")
)

// ErrMisuse is wrapped by every error reporting a programming error, such
// as operating on a removed object or registering a handle twice.
var ErrMisuse = errors.New("reactor: misuse")

var (
	ErrLoopRunning       = misuse("loop is running")
	ErrReentrantRun      = misuse("cannot call Run from within the loop")
	ErrLoopClosed        = misuse("loop is closed")
	ErrLoopDone          = misuse("loop is done")
	ErrLoopNotEmpty      = misuse("loop has registered objects")
	ErrLoopInPool        = misuse("loop is owned by a pool")
	ErrAlreadyRegistered = misuse("handle already registered")
	ErrNotRegistered     = misuse("handle not registered")
	ErrFDRegistered      = misuse("fd already registered with loop")
	ErrNilHandler        = misuse("nil handler")
	ErrNilHandle         = misuse("nil handle")
	ErrReservedHandle    = misuse("timers and triggers cannot be added as handles")
	ErrTimerRemoved      = misuse("timer removed")
	ErrTriggerRemoved    = misuse("trigger removed")
	ErrInvalidInterval   = misuse("zero interval requires a fire count of one")
	ErrInvalidEventType  = misuse("invalid event type")
	ErrPoolClosed        = misuse("pool is closed")
	ErrPoolEmpty         = misuse("pool has no loops")
	ErrPoolRunning       = misuse("pool is running")
	ErrLoopAlreadyPooled = misuse("loop already belongs to a pool")
	ErrNilLoop           = misuse("nil loop")
)

type misuseError struct {
	msg string
}

func misuse(msg string) error { return &misuseError{msg: msg} }

func (e *misuseError) Error() string { return "reactor: misuse: " + e.msg }

func (e *misuseError) Is(target error) bool { return target == ErrMisuse }

// BackendError is returned by [Loop.Run] when the readiness backend fails.
// The loop has transitioned to [StatusDone], so errors.Is(err, ErrDone) holds.
type BackendError struct {
	Err error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("reactor: backend failure: %v", e.Err)
}

func (e *BackendError) Unwrap() []error {
	return []error{e.Err, ErrDone}
}

// PanicError wraps a value recovered from a panicking handler, timer, or
// task.
type PanicError struct {
	Value any
}

func (e PanicError) Error() string {
	return fmt.Sprintf("reactor: callback panicked: %v", e.Value)
}

// Unwrap returns the panic value when it is an error.
func (e PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// ResultCode classifies an error returned by this package.
type ResultCode int

const (
	CodeOK ResultCode = iota
	CodeDone
	CodeTimeout
	CodeReturn
	CodeMisuse
	CodeError
)

// String returns a human-readable representation of the code.
func (c ResultCode) String() string {
	switch c {
	case CodeOK:
		return "OK"
	case CodeDone:
		return "DONE"
	case CodeTimeout:
		return "TIMEOUT"
	case CodeReturn:
		return "RETURN"
	case CodeMisuse:
		return "MISUSE"
	case CodeError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Code maps err onto a [ResultCode]. Backend failures are reported as
// CodeError even though they also satisfy errors.Is(err, ErrDone).
func Code(err error) ResultCode {
	var be *BackendError
	switch {
	case err == nil:
		return CodeOK
	case errors.As(err, &be):
		return CodeError
	case errors.Is(err, ErrDone):
		return CodeDone
	case errors.Is(err, ErrTimeout):
		return CodeTimeout
	case errors.Is(err, ErrReturn):
		return CodeReturn
	case errors.Is(err, ErrMisuse):
		return CodeMisuse
	default:
		return CodeError
	}
}

// IsBenign reports whether err is one of the control results of
// [Loop.Run]: [ErrDone], [ErrTimeout], or [ErrReturn].
func IsBenign(err error) bool {
	switch Code(err) {
	case CodeDone, CodeTimeout, CodeReturn:
		return true
	default:
		return false
	}
}

// IsMisuse reports whether err reports a programming error.
func IsMisuse(err error) bool {
	return errors.Is(err, ErrMisuse)
}

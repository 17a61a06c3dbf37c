// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package reactor

import (
	"errors"
	"math"
	"time"
)

// Backend is the readiness multiplexer used by a [Loop]. A backend is owned
// by its loop, and its methods are never called concurrently, with the
// exception of Close, which is only called once the loop has stopped.
//
// Backends are level triggered: Modify must not discard readiness that is
// already pending for the descriptor.
type Backend interface {
	// Add starts watching fd. Interest is [InterestRead], [InterestWrite],
	// or both.
	Add(fd int, interest Interest) error
	// Modify changes what fd is watched for.
	Modify(fd int, interest Interest) error
	// Remove stops watching fd.
	Remove(fd int) error
	// Wait blocks for up to timeout, appending readiness reports to buf. A
	// zero timeout polls, and a negative timeout blocks until at least one
	// report is available. An interrupted wait returns buf unchanged.
	//
	// An error condition is reported as [EventRead] (when read interest is
	// set) followed by [EventError]. A hangup is reported as [EventRead]
	// (when read interest is set) followed by [EventDisconnected].
	Wait(timeout time.Duration, buf []Ready) ([]Ready, error)
	// Close releases the backend.
	Close() error
}

// Standard backend errors.
var (
	ErrBackendClosed    = errors.New("reactor: backend closed")
	ErrFDOutOfRange     = errors.New("reactor: fd out of range")
	ErrFDAlreadyWatched = errors.New("reactor: fd already watched")
	ErrFDNotWatched     = errors.New("reactor: fd not watched")
	ErrUnsupported      = errors.New("reactor: not supported on this platform")
)

// newBackend selects the backend for a loop.
func newBackend(cfg *loopOptions) (Backend, error) {
	if cfg.backend != nil {
		return cfg.backend()
	}
	if cfg.flags&FlagNonScalable != 0 {
		return NewPollBackend(cfg.readyBufferLen)
	}
	return newPlatformBackend(cfg.readyBufferLen)
}

// timeoutMillis converts a wait timeout to milliseconds, rounding up so a
// short timer does not turn into a busy loop.
func timeoutMillis(d time.Duration) int {
	if d < 0 {
		return -1
	}
	ms := (d + time.Millisecond - 1) / time.Millisecond
	if ms > math.MaxInt32 {
		ms = math.MaxInt32
	}
	return int(ms)
}

// appendTerminal appends the reports for a hangup or error condition.
func appendTerminal(buf []Ready, fd int, interest Interest, ev EventType) []Ready {
	if interest&InterestRead != 0 {
		buf = append(buf, Ready{FD: fd, Type: EventRead})
	}
	return append(buf, Ready{FD: fd, Type: ev})
}

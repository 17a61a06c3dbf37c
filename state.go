// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package reactor

import (
	"sync/atomic"
)

// Status is the dispatch state of a [Loop].
//
// State Machine:
//
//	StatusPaused  → StatusRunning  [Run()]
//	StatusRunning → StatusPaused   [Run() returned ErrTimeout]
//	StatusRunning → StatusReturn   [Return(), or ctx canceled]
//	StatusReturn  → StatusRunning  [Run()]
//	StatusRunning → StatusDone     [Done(), exit-on-empty, backend failure]
//	StatusPaused  → StatusDone     [Done() while not running]
//	StatusReturn  → StatusDone     [Done() while not running]
//	StatusDone    → (terminal)
type Status uint32

const (
	// StatusPaused indicates the loop is not running, and may be run.
	StatusPaused Status = iota
	// StatusRunning indicates Run is in progress.
	StatusRunning
	// StatusReturn indicates Run unwound because of a return request.
	StatusReturn
	// StatusDone indicates the loop is finished. It cannot be run again.
	StatusDone
)

// String returns a human-readable representation of the status.
func (s Status) String() string {
	switch s {
	case StatusPaused:
		return "Paused"
	case StatusRunning:
		return "Running"
	case StatusReturn:
		return "Return"
	case StatusDone:
		return "Done"
	default:
		return "Unknown"
	}
}

// fastStatus is a lock-free status holder with cache-line padding, shared
// between the loop goroutine and observers.
type fastStatus struct { // betteralign:ignore
	_ [sizeOfCacheLine]byte     //nolint:unused
	v atomic.Uint32             // Status value
	_ [sizeOfCacheLine - 4]byte //nolint:unused
}

func (s *fastStatus) Load() Status {
	return Status(s.v.Load())
}

// Store must not be used to leave StatusDone.
func (s *fastStatus) Store(status Status) {
	s.v.Store(uint32(status))
}

func (s *fastStatus) TryTransition(from, to Status) bool {
	return s.v.CompareAndSwap(uint32(from), uint32(to))
}

func (s *fastStatus) IsTerminal() bool {
	return s.Load() == StatusDone
}

// request is a pending status change, consumed at the next safe point of
// the dispatch cycle.
type request uint32

const (
	requestNone request = iota
	requestReturn
	requestDone
)

type requestState struct {
	v atomic.Uint32
}

// Return is a no-op if Done has already been requested.
func (r *requestState) Return() {
	r.v.CompareAndSwap(uint32(requestNone), uint32(requestReturn))
}

func (r *requestState) Done() {
	r.v.Store(uint32(requestDone))
}

// clearReturn drops a pending return request, leaving a done request.
func (r *requestState) clearReturn() {
	r.v.CompareAndSwap(uint32(requestReturn), uint32(requestNone))
}

func (r *requestState) Load() request {
	return request(r.v.Load())
}

func (r *requestState) Take() request {
	return request(r.v.Swap(uint32(requestNone)))
}

const sizeOfCacheLine = 64

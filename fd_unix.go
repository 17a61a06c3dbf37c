// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

//go:build linux || darwin

package reactor

import (
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// FD is a [Handle] over a raw, non-blocking file descriptor. The loop never
// closes it; ownership stays with the caller.
type FD struct {
	fd     int
	closed atomic.Bool
}

// NewFD wraps fd. The descriptor should be in non-blocking mode.
func NewFD(fd int) *FD {
	return &FD{fd: fd}
}

// Pipe creates a non-blocking, close-on-exec pipe, returning the read and
// write ends.
func Pipe() (r, w *FD, err error) {
	rfd, wfd, err := newPipe()
	if err != nil {
		return nil, nil, err
	}
	return NewFD(rfd), NewFD(wfd), nil
}

// FD implements [Handle].
func (f *FD) FD() int { return f.fd }

// Read reads from the descriptor. It returns unix.EAGAIN when no data is
// available, and io.EOF semantics are left to the caller: a zero length read
// with a nil error indicates end of stream.
func (f *FD) Read(p []byte) (int, error) {
	n, err := readFD(f.fd, p)
	if n < 0 {
		n = 0
	}
	return n, err
}

// Write writes to the descriptor, returning unix.EAGAIN when it is full.
func (f *FD) Write(p []byte) (int, error) {
	n, err := writeFD(f.fd, p)
	if n < 0 {
		n = 0
	}
	return n, err
}

// Close closes the descriptor. Closing twice is a no-op.
func (f *FD) Close() error {
	if f.closed.Swap(true) {
		return nil
	}
	return closeFD(f.fd)
}

// closeFD closes a file descriptor on Unix systems.
func closeFD(fd int) error {
	return unix.Close(fd)
}

// readFD reads from a file descriptor on Unix systems.
func readFD(fd int, buf []byte) (int, error) {
	return unix.Read(fd, buf)
}

// writeFD writes to a file descriptor on Unix systems.
func writeFD(fd int, buf []byte) (int, error) {
	return unix.Write(fd, buf)
}

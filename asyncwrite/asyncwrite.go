// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

// Package asyncwrite implements a buffered, non-blocking writer driven by a
// [reactor.Loop].
//
// Writes may be made from any goroutine. Each is copied, then handed to the
// loop as a task, and written in order as the descriptor accepts data. The
// writer watches for write readiness only while data is pending.
package asyncwrite

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"
	"github.com/joeycumines/go-reactor"
	"github.com/joeycumines/logiface"
	"golang.org/x/sys/unix"
)

var (
	// ErrClosed is returned by writes made after Close.
	ErrClosed = errors.New("asyncwrite: writer closed")
	// ErrDisconnected is the failure recorded when the peer hangs up, or the
	// loop finishes, before the buffer drained.
	ErrDisconnected = errors.New("asyncwrite: disconnected")
	// ErrHandleError is the failure recorded when the loop reports an error
	// condition on the descriptor.
	ErrHandleError = errors.New("asyncwrite: descriptor error")
)

// Conn is the descriptor written to. Write must be non-blocking, returning
// unix.EAGAIN when full.
type Conn interface {
	reactor.Handle
	io.Writer
}

// Writer is a buffered writer attached to a loop. See the package docs.
type Writer struct {
	conn    Conn
	reg     *reactor.Registration
	onError func(error)
	onDrain func()
	logger  *logiface.Logger[logiface.Event]

	buffered atomic.Int64
	closing  atomic.Bool
	stopped  atomic.Bool
	err      atomic.Pointer[error]
	done     chan struct{}
	doneOnce sync.Once

	// owned by the loop
	pending *queue.Queue
	head    []byte
}

// New registers conn with l, returning a writer for it. The writer owns the
// registration; conn is closed once the writer is closed and drained, if it
// implements [io.Closer].
func New(l *reactor.Loop, conn Conn, opts ...Option) (*Writer, error) {
	cfg := resolveOptions(opts)
	w := &Writer{
		conn:    conn,
		onError: cfg.onError,
		onDrain: cfg.onDrain,
		logger:  cfg.logger,
		done:    make(chan struct{}),
		pending: queue.New(),
	}
	reg, err := l.Add(conn, 0, reactor.HandlerFunc(w.handleEvent))
	if err != nil {
		return nil, err
	}
	w.reg = reg
	return w, nil
}

// Write queues a copy of p. It never blocks, and reports the failure of an
// earlier write, if any.
func (w *Writer) Write(p []byte) (int, error) {
	if err := w.Err(); err != nil {
		return 0, err
	}
	if w.closing.Load() {
		return 0, ErrClosed
	}
	if len(p) == 0 {
		return 0, nil
	}
	buf := append([]byte(nil), p...)
	w.buffered.Add(int64(len(buf)))
	if err := w.reg.Loop().QueueTask(func() { w.push(buf) }); err != nil {
		w.buffered.Add(-int64(len(buf)))
		return 0, err
	}
	return len(p), nil
}

// Close flushes the remaining data, then removes the registration and
// closes the descriptor. It does not wait; see [Writer.Done].
func (w *Writer) Close() error {
	if w.closing.Swap(true) {
		return ErrClosed
	}
	if err := w.reg.Loop().QueueTask(w.flush); err != nil {
		w.fail(err)
	}
	return nil
}

// Buffered returns the number of bytes queued but not yet written.
func (w *Writer) Buffered() int { return int(w.buffered.Load()) }

// Err returns the failure that stopped the writer, if any.
func (w *Writer) Err() error {
	if err := w.err.Load(); err != nil {
		return *err
	}
	return nil
}

// Done is closed once the writer has stopped, either drained after Close,
// or failed.
func (w *Writer) Done() <-chan struct{} { return w.done }

// Registration returns the registration of the descriptor.
func (w *Writer) Registration() *reactor.Registration { return w.reg }

func (w *Writer) handleEvent(_ *reactor.Loop, ev reactor.EventType, _ reactor.Handle) {
	switch ev {
	case reactor.EventWrite:
		w.flush()
	case reactor.EventDisconnected:
		w.fail(ErrDisconnected)
	case reactor.EventError:
		w.fail(ErrHandleError)
	}
}

// push appends buf to the pending data. Data arriving after the writer
// stopped, such as a write racing Close, is dropped. Loop-owned.
func (w *Writer) push(buf []byte) {
	if w.Err() != nil || w.stopped.Load() {
		w.buffered.Add(-int64(len(buf)))
		return
	}
	w.pending.Add(buf)
	w.flush()
}

// flush writes as much as the descriptor accepts. Loop-owned.
func (w *Writer) flush() {
	if w.Err() != nil || w.stopped.Load() {
		return
	}
	for {
		if len(w.head) == 0 {
			if w.pending.Length() == 0 {
				break
			}
			w.head = w.pending.Remove().([]byte)
		}
		n, err := w.conn.Write(w.head)
		if n > 0 {
			w.head = w.head[n:]
			w.buffered.Add(-int64(n))
		}
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			if errors.Is(err, unix.EAGAIN) {
				break
			}
			w.fail(err)
			return
		}
		if n == 0 && len(w.head) != 0 {
			w.fail(io.ErrShortWrite)
			return
		}
	}

	if len(w.head) != 0 || w.pending.Length() != 0 {
		if err := w.reg.SetInterest(reactor.InterestWrite); err != nil {
			w.fail(err)
		}
		return
	}

	if w.onDrain != nil {
		w.onDrain()
	}
	if w.closing.Load() {
		w.stop()
		if c, ok := w.conn.(io.Closer); ok {
			_ = c.Close()
		}
		return
	}
	if !w.reg.Removed() {
		_ = w.reg.SetInterest(0)
	}
}

// fail records err, discards the pending data, and stops the writer.
func (w *Writer) fail(err error) {
	if !w.err.CompareAndSwap(nil, &err) {
		return
	}
	w.logger.Warning().
		Int("fd", w.conn.FD()).
		Err(err).
		Log("async write failed")
	w.head = nil
	for w.pending.Length() != 0 {
		w.pending.Remove()
	}
	w.buffered.Store(0)
	w.stop()
	if w.onError != nil {
		w.onError(err)
	}
}

func (w *Writer) stop() {
	w.doneOnce.Do(func() {
		w.stopped.Store(true)
		if !w.reg.Removed() {
			_, _ = w.reg.Remove()
		}
		close(w.done)
	})
}

// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package reactor

import (
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"
)

// taskQueue is a multi-producer FIFO of callbacks, consumed by the loop
// goroutine. Only the enqueue side is synchronized with the consumer; the
// batch buffer used by take is owned by the consumer.
type taskQueue struct {
	q      *queue.Queue
	batch  []func()
	mu     sync.Mutex
	length atomic.Int64
}

func newTaskQueue() *taskQueue {
	return &taskQueue{q: queue.New()}
}

// push appends fn, returning the queue length after the append.
func (x *taskQueue) push(fn func()) int64 {
	x.mu.Lock()
	x.q.Add(fn)
	n := x.length.Add(1)
	x.mu.Unlock()
	return n
}

// pending reports whether the queue is non-empty. Safe from any goroutine.
func (x *taskQueue) pending() bool {
	return x.length.Load() != 0
}

func (x *taskQueue) len() int {
	return int(x.length.Load())
}

// take removes every callback present at the time of the call, in FIFO
// order. Callbacks pushed while the batch runs are left for the next take.
// The returned slice is reused by the next call.
func (x *taskQueue) take() []func() {
	x.mu.Lock()
	n := x.q.Length()
	batch := x.batch[:0]
	for i := 0; i < n; i++ {
		batch = append(batch, x.q.Remove().(func()))
	}
	x.length.Add(-int64(n))
	x.mu.Unlock()
	x.batch = batch
	return batch
}

// discard drops every queued callback, returning how many were dropped.
func (x *taskQueue) discard() int {
	x.mu.Lock()
	n := x.q.Length()
	for i := 0; i < n; i++ {
		x.q.Remove()
	}
	x.length.Add(-int64(n))
	x.mu.Unlock()
	return n
}

// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package reactor

import (
	"container/heap"
)

// timerHeap holds the armed timers of a loop, ordered by next fire time,
// with ties going to the timer that ran least recently. It is owned by the
// loop goroutine.
type timerHeap []*Timer

// Implement heap.Interface for timerHeap
func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].key != h[j].key {
		return h[i].key < h[j].key
	}
	return h[i].lastRun < h[j].lastRun
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*Timer)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// schedule inserts t keyed at next, or repositions it if already present.
func (h *timerHeap) schedule(t *Timer, next int64) {
	t.key = next
	if t.index >= 0 {
		heap.Fix(h, t.index)
		return
	}
	heap.Push(h, t)
}

// unschedule removes t if present.
func (h *timerHeap) unschedule(t *Timer) {
	if t.index >= 0 {
		heap.Remove(h, t.index)
	}
}

// peek returns the soonest timer, or nil.
func (h timerHeap) peek() *Timer {
	if len(h) == 0 {
		return nil
	}
	return h[0]
}

// popDue removes and appends to buf every timer keyed at or before now, in
// non-decreasing key order.
func (h *timerHeap) popDue(now int64, buf []*Timer) []*Timer {
	for len(*h) > 0 && (*h)[0].key <= now {
		buf = append(buf, heap.Pop(h).(*Timer))
	}
	return buf
}

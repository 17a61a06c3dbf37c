// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

//go:build linux || darwin

package reactor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testTimeout = 5 * time.Second

// startLoop runs l in the background, returning a channel receiving the
// result of Run.
func startLoop(t *testing.T, l *Loop, ctx context.Context) <-chan error {
	t.Helper()
	if ctx == nil {
		ctx = context.Background()
	}
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()
	waitFor(t, "loop running", func() bool { return l.Status() == StatusRunning })
	return done
}

// waitRun waits for the result of a loop started with startLoop.
func waitRun(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for Run to return")
		return nil
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(testTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func newTestLoop(t *testing.T, opts ...LoopOption) *Loop {
	t.Helper()
	l, err := New(opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		l.Done()
		_ = l.CloseBlocking(context.Background())
	})
	return l
}

func newTestPipe(t *testing.T) (r, w *FD) {
	t.Helper()
	r, w, err := Pipe()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = r.Close()
		_ = w.Close()
	})
	return r, w
}

// softHandle is a handle without a descriptor, receiving injected events
// only.
type softHandle struct {
	_ int // distinct addresses
}

func (*softHandle) FD() int { return -1 }

// connectedHandle reports itself as already connected when added.
type connectedHandle struct {
	softHandle
}

func (*connectedHandle) Connected() bool { return true }

// eventRecorder collects the events delivered to a handler.
type eventRecorder struct {
	events chan EventType
	count  atomic.Int64
}

func newEventRecorder() *eventRecorder {
	return &eventRecorder{events: make(chan EventType, 1024)}
}

func (x *eventRecorder) HandleEvent(_ *Loop, ev EventType, _ Handle) {
	x.count.Add(1)
	select {
	case x.events <- ev:
	default:
	}
}

func (x *eventRecorder) next(t *testing.T) EventType {
	t.Helper()
	select {
	case ev := <-x.events:
		return ev
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for event")
		return 0
	}
}

// failingBackend wraps a real backend, failing Wait on demand.
type failingBackend struct {
	Backend
	fail atomic.Bool
}

var errInjected = errors.New("injected backend failure")

func (x *failingBackend) Wait(timeout time.Duration, buf []Ready) ([]Ready, error) {
	if x.fail.Load() {
		return buf, errInjected
	}
	return x.Backend.Wait(timeout, buf)
}

// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

//go:build linux || darwin

package reactor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// filterHandle rewrites READ to OTHER, and drops WRITE.
type filterHandle struct {
	softHandle
}

func (*filterHandle) FilterEvent(ev EventType) (EventType, bool) {
	switch ev {
	case EventRead:
		return EventOther, true
	case EventWrite:
		return ev, false
	default:
		return ev, true
	}
}

func nopHandler() Handler {
	return HandlerFunc(func(*Loop, EventType, Handle) {})
}

// doneAfter finishes l once d has elapsed on the loop.
func doneAfter(t *testing.T, l *Loop, d time.Duration) {
	t.Helper()
	_, err := l.Oneshot(d, true, HandlerFunc(func(l *Loop, _ EventType, _ Handle) { l.Done() }))
	require.NoError(t, err)
}

func TestRegistration_AddRemove(t *testing.T) {
	l := newTestLoop(t)
	h := &softHandle{}

	reg, err := l.Add(h, 0, nopHandler())
	require.NoError(t, err)
	assert.True(t, l.Has(h))
	assert.Same(t, l, reg.Loop())
	assert.Same(t, h, reg.Handle())
	assert.Equal(t, 1, l.NumObjects())
	_, ok := reg.LastEvent()
	assert.False(t, ok)

	got, err := reg.Remove()
	require.NoError(t, err)
	assert.Same(t, h, got)
	assert.False(t, l.Has(h))
	assert.True(t, reg.Removed())
	assert.Equal(t, 0, l.NumObjects())
	assert.Empty(t, l.handles)

	_, err = reg.Remove()
	require.ErrorIs(t, err, ErrNotRegistered)
	assert.True(t, IsMisuse(err))

	// the handle may be registered again once returned
	reg2, err := l.Add(h, InterestRead, nopHandler())
	require.NoError(t, err)
	assert.NotSame(t, reg, reg2)
	assert.True(t, l.Has(h))
}

func TestRegistration_AlreadyRegistered(t *testing.T) {
	l1 := newTestLoop(t)
	l2 := newTestLoop(t)
	h := &softHandle{}

	_, err := l1.Add(h, 0, nopHandler())
	require.NoError(t, err)

	_, err = l1.Add(h, 0, nopHandler())
	require.ErrorIs(t, err, ErrAlreadyRegistered)
	_, err = l2.Add(h, 0, nopHandler())
	require.ErrorIs(t, err, ErrAlreadyRegistered)

	assert.True(t, l1.Has(h))
	assert.False(t, l2.Has(h))
	assert.Equal(t, 1, l1.NumObjects())
	assert.Equal(t, 0, l2.NumObjects())
}

// Concurrent adds of the same handle to different loops leave it
// registered with exactly one.
func TestRegistration_ConcurrentAdd(t *testing.T) {
	loops := []*Loop{newTestLoop(t), newTestLoop(t), newTestLoop(t), newTestLoop(t)}
	for range 50 {
		h := &softHandle{}
		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins int
		)
		for _, l := range loops {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := l.Add(h, 0, nopHandler()); err == nil {
					mu.Lock()
					wins++
					mu.Unlock()
				} else {
					assert.ErrorIs(t, err, ErrAlreadyRegistered)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, wins)

		var has int
		for _, l := range loops {
			if l.Has(h) {
				has++
			}
		}
		assert.Equal(t, 1, has)
	}
}

func TestRegistration_AddMisuse(t *testing.T) {
	l := newTestLoop(t)

	_, err := l.Add(nil, 0, nopHandler())
	require.ErrorIs(t, err, ErrNilHandle)
	_, err = l.Add(&softHandle{}, 0, nil)
	require.ErrorIs(t, err, ErrNilHandler)

	timer, err := l.AddTimer(nopHandler())
	require.NoError(t, err)
	_, err = l.Add(timer, 0, nopHandler())
	require.ErrorIs(t, err, ErrReservedHandle)
	trigger, err := l.AddTrigger(nopHandler())
	require.NoError(t, err)
	_, err = l.Add(trigger, 0, nopHandler())
	require.ErrorIs(t, err, ErrReservedHandle)

	assert.Equal(t, 2, l.NumObjects())
}

func TestRegistration_FDRegistered(t *testing.T) {
	l := newTestLoop(t)
	r, _ := newTestPipe(t)
	alias := NewFD(r.FD())

	_, err := l.Add(r, InterestRead, nopHandler())
	require.NoError(t, err)
	_, err = l.Add(alias, InterestRead, nopHandler())
	require.ErrorIs(t, err, ErrFDRegistered)
	assert.False(t, l.Has(alias))
	assert.Equal(t, 1, l.NumObjects())

	// the claim was released
	l2 := newTestLoop(t)
	_, err = l2.Add(alias, 0, nopHandler())
	require.NoError(t, err)
}

func TestRegistration_Transfer(t *testing.T) {
	src := newTestLoop(t)
	dst := newTestLoop(t, WithFlags(FlagExitOnEmpty))
	h := &softHandle{}
	rec := newEventRecorder()

	reg, err := src.Add(h, InterestRead|InterestWrite, rec)
	require.NoError(t, err)

	moved, err := Transfer(reg, dst)
	require.NoError(t, err)
	assert.True(t, reg.Removed())
	assert.False(t, src.Has(h))
	assert.True(t, dst.Has(h))
	assert.Same(t, dst, moved.Loop())
	assert.Equal(t, InterestRead|InterestWrite, moved.Interest())
	assert.Equal(t, 0, src.NumObjects())
	assert.Equal(t, 1, dst.NumObjects())

	require.NoError(t, moved.Inject(EventOther))
	require.NoError(t, dst.QueueTask(func() { _, _ = moved.Remove() }))
	require.ErrorIs(t, dst.Run(context.Background()), ErrDone)
	assert.Equal(t, EventOther, rec.next(t))

	_, err = Transfer(reg, dst)
	require.ErrorIs(t, err, ErrNotRegistered)
	_, err = Transfer(moved, nil)
	require.ErrorIs(t, err, ErrNilLoop)
}

// Adds minus removes always equals the object count.
func TestRegistration_Count(t *testing.T) {
	l := newTestLoop(t)
	var regs []*Registration
	for i := range 32 {
		reg, err := l.Add(&softHandle{}, 0, nopHandler())
		require.NoError(t, err)
		regs = append(regs, reg)
		if i%3 == 0 {
			_, err = regs[0].Remove()
			require.NoError(t, err)
			regs = regs[1:]
		}
		assert.Equal(t, len(regs), l.NumObjects())
	}
	assert.Len(t, l.handles, len(regs))
}

func TestRegistration_Inject(t *testing.T) {
	l := newTestLoop(t, WithFlags(FlagExitOnEmpty))
	rec := newEventRecorder()
	reg, err := l.Add(&softHandle{}, 0, rec)
	require.NoError(t, err)

	err = reg.Inject(EventType(99))
	require.ErrorIs(t, err, ErrInvalidEventType)
	require.NoError(t, reg.Inject(EventOther))
	require.NoError(t, reg.Inject(EventRead))
	require.NoError(t, reg.Inject(EventDisconnected))
	// events after a terminal one are not delivered
	require.NoError(t, reg.Inject(EventWrite))
	require.NoError(t, l.QueueTask(func() { _, _ = reg.Remove() }))

	require.ErrorIs(t, l.Run(context.Background()), ErrDone)
	assert.Equal(t, EventOther, rec.next(t))
	assert.Equal(t, EventRead, rec.next(t))
	assert.Equal(t, EventDisconnected, rec.next(t))
	assert.Equal(t, int64(3), rec.count.Load())
	last, ok := reg.LastEvent()
	assert.True(t, ok)
	assert.Equal(t, EventDisconnected, last)
	assert.Equal(t, uint64(4), l.Stats().SoftEvents)

	require.ErrorIs(t, reg.Inject(EventOther), ErrNotRegistered)
}

func TestRegistration_Connector(t *testing.T) {
	l := newTestLoop(t)
	rec := newEventRecorder()
	_, err := l.Add(&connectedHandle{}, 0, rec)
	require.NoError(t, err)
	doneAfter(t, l, 20*time.Millisecond)

	require.ErrorIs(t, l.Run(context.Background()), ErrDone)
	assert.Equal(t, EventConnected, rec.next(t))
	assert.Equal(t, EventDisconnected, rec.next(t))
	assert.Equal(t, int64(2), rec.count.Load())
}

func TestRegistration_EventFilter(t *testing.T) {
	l := newTestLoop(t)
	rec := newEventRecorder()
	reg, err := l.Add(&filterHandle{}, 0, rec)
	require.NoError(t, err)
	require.NoError(t, reg.Inject(EventRead))
	require.NoError(t, reg.Inject(EventWrite))
	require.NoError(t, reg.Inject(EventAccept))
	doneAfter(t, l, 20*time.Millisecond)

	require.ErrorIs(t, l.Run(context.Background()), ErrDone)
	assert.Equal(t, EventOther, rec.next(t))
	assert.Equal(t, EventAccept, rec.next(t))
	assert.Equal(t, EventDisconnected, rec.next(t))
	assert.Equal(t, int64(3), rec.count.Load())
}

// A pipe is read until the writer hangs up, which is reported exactly once.
func TestRegistration_PipeReadAndDisconnect(t *testing.T) {
	for _, flags := range []Flags{0, FlagNonScalable} {
		t.Run(flags.String(), func(t *testing.T) {
			l := newTestLoop(t, WithFlags(flags))
			r, w := newTestPipe(t)

			var (
				data         []byte
				disconnected int
				events       []EventType
			)
			reg, err := l.Add(r, InterestRead, HandlerFunc(func(l *Loop, ev EventType, h Handle) {
				events = append(events, ev)
				switch ev {
				case EventRead:
					buf := make([]byte, 64)
					n, _ := h.(*FD).Read(buf)
					data = append(data, buf[:n]...)
				case EventDisconnected:
					disconnected++
				}
			}))
			require.NoError(t, err)
			done := startLoop(t, l, nil)

			_, err = w.Write([]byte("hello"))
			require.NoError(t, err)
			time.Sleep(20 * time.Millisecond)
			require.NoError(t, w.Close())

			waitFor(t, "disconnect", func() bool {
				ev, ok := reg.LastEvent()
				return ok && ev == EventDisconnected
			})
			time.Sleep(20 * time.Millisecond)
			l.Done()
			require.ErrorIs(t, waitRun(t, done), ErrDone)

			assert.Equal(t, "hello", string(data))
			assert.Equal(t, 1, disconnected)
			assert.Equal(t, EventDisconnected, events[len(events)-1])
			assert.True(t, reg.Removed())
			assert.Positive(t, l.Stats().OSEvents)
		})
	}
}

// A handler that closes its descriptor and registers a new one under the
// same number must not see the old descriptor's remaining readiness.
func TestRegistration_FDReusedWithinPass(t *testing.T) {
	for _, flags := range []Flags{0, FlagNonScalable} {
		t.Run(flags.String(), func(t *testing.T) {
			l := newTestLoop(t, WithFlags(flags))
			r, w := newTestPipe(t)
			oldFD := r.FD()

			// READ and DISCONNECTED are reported together
			_, err := w.Write([]byte("x"))
			require.NoError(t, err)
			require.NoError(t, w.Close())

			var (
				reg         *Registration
				fresh       *Registration
				r2, w2      *FD
				addErr      error
				oldEvents   []EventType
				freshEvents []EventType
			)
			reg, err = l.Add(r, InterestRead, HandlerFunc(func(l *Loop, ev EventType, _ Handle) {
				oldEvents = append(oldEvents, ev)
				if ev != EventRead || fresh != nil {
					return
				}
				if _, addErr = reg.Remove(); addErr != nil {
					return
				}
				_ = r.Close()
				if r2, w2, addErr = Pipe(); addErr != nil {
					return
				}
				fresh, addErr = l.Add(r2, InterestRead, HandlerFunc(func(_ *Loop, ev EventType, h Handle) {
					freshEvents = append(freshEvents, ev)
					if ev == EventRead {
						_, _ = h.(*FD).Read(make([]byte, 64))
					}
				}))
			}))
			require.NoError(t, err)

			run := func() {
				ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
				defer cancel()
				require.ErrorIs(t, l.Run(ctx), ErrTimeout)
			}

			run()
			require.NoError(t, addErr)
			require.NotNil(t, fresh)
			t.Cleanup(func() {
				_ = r2.Close()
				_ = w2.Close()
			})
			if r2.FD() != oldFD {
				t.Skipf("descriptor %d was not reused (got %d)", oldFD, r2.FD())
			}

			assert.Equal(t, []EventType{EventRead}, oldEvents)
			assert.Empty(t, freshEvents)
			assert.False(t, fresh.Removed())

			_, err = w2.Write([]byte("y"))
			require.NoError(t, err)
			run()
			assert.Equal(t, []EventType{EventRead}, freshEvents)
			ev, ok := fresh.LastEvent()
			assert.True(t, ok)
			assert.Equal(t, EventRead, ev)
		})
	}
}

func TestRegistration_AcceptTranslation(t *testing.T) {
	l := newTestLoop(t, WithFlags(FlagExitOnEmpty))
	r, w := newTestPipe(t)

	var (
		events []EventType
		reg    *Registration
	)
	reg, err := l.Add(r, InterestAccept, HandlerFunc(func(_ *Loop, ev EventType, h Handle) {
		events = append(events, ev)
		_, _ = h.(*FD).Read(make([]byte, 64))
		_, _ = reg.Remove()
	}))
	require.NoError(t, err)
	_, err = w.Write([]byte("x"))
	require.NoError(t, err)

	require.ErrorIs(t, l.Run(context.Background()), ErrDone)
	assert.Equal(t, []EventType{EventAccept}, events)
}

// Connect interest yields a single CONNECTED, then clears itself.
func TestRegistration_ConnectTranslation(t *testing.T) {
	l := newTestLoop(t)
	_, w := newTestPipe(t)

	var events []EventType
	reg, err := l.Add(w, InterestConnect, HandlerFunc(func(_ *Loop, ev EventType, _ Handle) {
		events = append(events, ev)
	}))
	require.NoError(t, err)
	doneAfter(t, l, 30*time.Millisecond)

	var interest Interest
	_, err = l.Oneshot(20*time.Millisecond, true, HandlerFunc(func(*Loop, EventType, Handle) {
		interest = reg.Interest()
	}))
	require.NoError(t, err)

	require.ErrorIs(t, l.Run(context.Background()), ErrDone)
	assert.Equal(t, []EventType{EventConnected, EventDisconnected}, events)
	assert.Equal(t, Interest(0), interest)
}

func TestRegistration_SetInterest(t *testing.T) {
	l := newTestLoop(t)
	r, w := newTestPipe(t)
	rec := newEventRecorder()

	reg, err := l.Add(r, 0, rec)
	require.NoError(t, err)
	_, err = w.Write([]byte("x"))
	require.NoError(t, err)
	done := startLoop(t, l, nil)

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int64(0), rec.count.Load())

	second := newEventRecorder()
	require.NoError(t, reg.SetHandler(second))
	assert.Same(t, second, reg.Handler())
	require.NoError(t, reg.SetInterest(InterestRead))
	assert.Equal(t, EventRead, second.next(t))
	assert.Equal(t, int64(0), rec.count.Load())

	require.NoError(t, reg.SetInterest(0))
	l.Done()
	require.ErrorIs(t, waitRun(t, done), ErrDone)

	require.ErrorIs(t, reg.SetInterest(InterestRead), ErrNotRegistered)
	require.ErrorIs(t, reg.SetHandler(rec), ErrNotRegistered)
	require.ErrorIs(t, reg.SetHandler(nil), ErrNilHandler)
}

// An add from another goroutine is applied by the running loop.
func TestRegistration_AddWhileRunning(t *testing.T) {
	l := newTestLoop(t)
	done := startLoop(t, l, nil)

	r, w := newTestPipe(t)
	rec := newEventRecorder()
	_, err := w.Write([]byte("x"))
	require.NoError(t, err)
	reg, err := l.Add(r, InterestRead, HandlerFunc(func(l *Loop, ev EventType, h Handle) {
		_, _ = h.(*FD).Read(make([]byte, 64))
		rec.HandleEvent(l, ev, h)
	}))
	require.NoError(t, err)
	assert.True(t, l.Has(r))
	assert.Equal(t, EventRead, rec.next(t))

	_, err = reg.Remove()
	require.NoError(t, err)
	assert.False(t, l.Has(r))

	l.Done()
	require.ErrorIs(t, waitRun(t, done), ErrDone)
}

// A backend failure to watch a descriptor is returned by an inline add, and
// reported as ERROR when the add is applied by the running loop.
func TestRegistration_AddFailure(t *testing.T) {
	const bogus = 1 << 20

	l := newTestLoop(t)
	_, err := l.Add(NewFD(bogus), InterestRead, nopHandler())
	require.Error(t, err)
	assert.Equal(t, 0, l.NumObjects())

	done := startLoop(t, l, nil)
	rec := newEventRecorder()
	reg, err := l.Add(NewFD(bogus), InterestRead, rec)
	require.NoError(t, err)
	assert.Equal(t, EventError, rec.next(t))
	assert.False(t, reg.Removed())

	_, err = reg.Remove()
	require.NoError(t, err)
	l.Done()
	require.ErrorIs(t, waitRun(t, done), ErrDone)
	assert.Equal(t, int64(1), rec.count.Load())
}

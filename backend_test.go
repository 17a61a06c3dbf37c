// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

//go:build linux || darwin

package reactor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var backendFactories = []struct {
	name    string
	factory func(size int) (Backend, error)
}{
	{"platform", newPlatformBackend},
	{"poll", NewPollBackend},
}

func forEachBackend(t *testing.T, fn func(t *testing.T, b Backend)) {
	for _, tc := range backendFactories {
		t.Run(tc.name, func(t *testing.T) {
			b, err := tc.factory(0)
			require.NoError(t, err)
			t.Cleanup(func() { _ = b.Close() })
			fn(t, b)
		})
	}
}

func readyFor(ready []Ready, fd int) []EventType {
	var events []EventType
	for _, r := range ready {
		if r.FD == fd {
			events = append(events, r.Type)
		}
	}
	return events
}

func TestBackend_ReadReadiness(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b Backend) {
		r, w := newTestPipe(t)
		require.NoError(t, b.Add(r.FD(), InterestRead))

		ready, err := b.Wait(0, nil)
		require.NoError(t, err)
		assert.Empty(t, readyFor(ready, r.FD()))

		_, err = w.Write([]byte("x"))
		require.NoError(t, err)
		ready, err = b.Wait(testTimeout, nil)
		require.NoError(t, err)
		assert.Equal(t, []EventType{EventRead}, readyFor(ready, r.FD()))

		// level triggered: unread data is reported again, even after Modify
		require.NoError(t, b.Modify(r.FD(), InterestRead))
		ready, err = b.Wait(0, ready[:0])
		require.NoError(t, err)
		assert.Equal(t, []EventType{EventRead}, readyFor(ready, r.FD()))
	})
}

func TestBackend_WriteReadiness(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b Backend) {
		r, w := newTestPipe(t)
		require.NoError(t, b.Add(w.FD(), InterestWrite))
		require.NoError(t, b.Add(r.FD(), InterestRead))

		ready, err := b.Wait(testTimeout, nil)
		require.NoError(t, err)
		assert.Equal(t, []EventType{EventWrite}, readyFor(ready, w.FD()))
		assert.Empty(t, readyFor(ready, r.FD()))

		require.NoError(t, b.Modify(w.FD(), InterestRead))
		ready, err = b.Wait(0, nil)
		require.NoError(t, err)
		assert.Empty(t, readyFor(ready, w.FD()))
	})
}

func TestBackend_Hangup(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b Backend) {
		r, w := newTestPipe(t)
		require.NoError(t, b.Add(r.FD(), InterestRead))
		require.NoError(t, w.Close())

		ready, err := b.Wait(testTimeout, nil)
		require.NoError(t, err)
		assert.Equal(t, []EventType{EventRead, EventDisconnected}, readyFor(ready, r.FD()))
	})
}

func TestBackend_WaitTimeout(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b Backend) {
		r, _ := newTestPipe(t)
		require.NoError(t, b.Add(r.FD(), InterestRead))

		const timeout = 20 * time.Millisecond
		start := time.Now()
		ready, err := b.Wait(timeout, nil)
		require.NoError(t, err)
		assert.Empty(t, ready)
		assert.GreaterOrEqual(t, time.Since(start), timeout-2*time.Millisecond)
	})
}

func TestBackend_Errors(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b Backend) {
		r, _ := newTestPipe(t)

		require.ErrorIs(t, b.Add(-1, InterestRead), ErrFDOutOfRange)
		require.ErrorIs(t, b.Modify(r.FD(), InterestRead), ErrFDNotWatched)
		require.ErrorIs(t, b.Remove(r.FD()), ErrFDNotWatched)

		require.NoError(t, b.Add(r.FD(), InterestRead))
		require.ErrorIs(t, b.Add(r.FD(), InterestRead), ErrFDAlreadyWatched)
		require.NoError(t, b.Remove(r.FD()))
		require.NoError(t, b.Add(r.FD(), InterestRead))

		require.NoError(t, b.Close())
		require.NoError(t, b.Close())
		_, err := b.Wait(0, nil)
		require.ErrorIs(t, err, ErrBackendClosed)
		require.ErrorIs(t, b.Add(r.FD(), InterestRead), ErrBackendClosed)
	})
}

func TestTimeoutMillis(t *testing.T) {
	for _, tc := range []struct {
		in   time.Duration
		want int
	}{
		{-1, -1},
		{0, 0},
		{time.Nanosecond, 1},
		{time.Millisecond, 1},
		{time.Millisecond + 1, 2},
		{time.Second, 1000},
		{MaxTimerInterval * 2, 1<<31 - 1},
	} {
		assert.Equal(t, tc.want, timeoutMillis(tc.in), tc.in.String())
	}
}

// A loop may be given its backend explicitly.
func TestLoop_WithBackend(t *testing.T) {
	var created int
	l := newTestLoop(t, WithFlags(FlagExitOnEmpty), WithBackend(func() (Backend, error) {
		created++
		return NewPollBackend(8)
	}))
	assert.Equal(t, 1, created)
	assert.IsType(t, (*pollBackend)(nil), l.backend)
}

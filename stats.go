// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package reactor

import (
	"sync/atomic"
	"time"
)

// Stats is a snapshot of the counters of a loop.
type Stats struct {
	// Wakes is the number of times the wake descriptor was drained.
	Wakes uint64
	// OSEvents is the number of readiness reports for registered handles.
	OSEvents uint64
	// SoftEvents counts injected events, CONNECTED-on-add events, and
	// trigger deliveries.
	SoftEvents uint64
	// TimerFires is the number of timer callbacks run.
	TimerFires uint64
	// Tasks is the number of queued tasks run.
	Tasks uint64
	// ProcessTime is the cumulative dispatch time.
	ProcessTime time.Duration
}

type loopStats struct {
	wakes      atomic.Uint64
	osEvents   atomic.Uint64
	softEvents atomic.Uint64
	timers     atomic.Uint64
	tasks      atomic.Uint64
}

// Stats returns a snapshot of the loop counters. It is safe to call from
// any goroutine.
func (l *Loop) Stats() Stats {
	return Stats{
		Wakes:       l.stats.wakes.Load(),
		OSEvents:    l.stats.osEvents.Load(),
		SoftEvents:  l.stats.softEvents.Load(),
		TimerFires:  l.stats.timers.Load(),
		Tasks:       l.stats.tasks.Load(),
		ProcessTime: l.ProcessTime(),
	}
}

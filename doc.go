// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

// Package reactor provides an I/O reactor: a dispatch engine that watches
// file descriptors for readiness, fires timers, and lets independent
// goroutines wake a loop safely.
//
// # Architecture
//
// A [Loop] owns a readiness [Backend] (epoll on Linux, kqueue on Darwin, or
// poll(2) when [FlagNonScalable] is set), a timer heap, a set of [Trigger]
// values, a task queue, and the handles registered with it. [Loop.Run]
// drives the dispatch cycle on a goroutine locked to its OS thread.
//
// A [Pool] groups loops, each running on its own thread, and assigns new
// registrations to the least loaded member. [Default] returns a lazily built,
// process-wide [SharedPool].
//
// # Dispatch Order
//
// Each iteration of the loop:
//  1. Applies registration and timer changes made from other goroutines
//  2. Checks for Done, Return, and exit-on-empty conditions
//  3. Waits for readiness, bounded by the soonest timer
//  4. Delivers soft events (CONNECTED, injected events, triggers)
//  5. Delivers I/O readiness events
//  6. Fires due timers, earliest deadline first
//  7. Runs the tasks that were queued before the drain started
//
// # Thread Safety
//
// Handlers, timer callbacks, and tasks always run on the owning loop's
// goroutine. [Trigger.Signal] and [Loop.QueueTask] are safe from any
// goroutine. Registration, interest changes, removal, and timer control may
// also be called from any goroutine: when the caller is not the loop, the
// request is queued as a control task and applied by the loop itself, so
// loop-owned state is never touched concurrently.
//
// # Results
//
// [Loop.Run] returns one of [ErrDone], [ErrTimeout], or [ErrReturn] in normal
// operation (see [IsBenign]). Programming errors wrap [ErrMisuse]. A failing
// backend ends the loop with a [*BackendError].
//
// # Usage
//
//	loop, err := reactor.New(reactor.WithFlags(reactor.FlagExitOnEmpty))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer loop.Close()
//
//	if _, err := loop.Oneshot(50*time.Millisecond, true, reactor.HandlerFunc(func(l *reactor.Loop, ev reactor.EventType, h reactor.Handle) {
//	    fmt.Println("fired")
//	})); err != nil {
//	    log.Fatal(err)
//	}
//
//	if err := loop.Run(context.Background()); !reactor.IsBenign(err) {
//	    log.Fatal(err)
//	}
package reactor

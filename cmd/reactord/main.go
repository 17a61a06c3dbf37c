// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

// Command reactord runs a pool of reactor loops, pumping data through pipes
// registered with the pool, and reports per-loop statistics until
// interrupted.
//
// Usage:
//
//	reactord [-loops n] [-pipes n] [-interval d] [-duration d] [-affinity] [-v]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joeycumines/go-reactor"
	"github.com/joeycumines/go-reactor/asyncwrite"
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "reactord: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("reactord", flag.ContinueOnError)
	var (
		loops    = fs.Int("loops", 0, "maximum number of loops (0: one per CPU)")
		pipes    = fs.Int("pipes", 4, "number of pipes to pump")
		interval = fs.Duration("interval", time.Second, "statistics interval")
		duration = fs.Duration("duration", 0, "stop after this long (0: until interrupted)")
		affinity = fs.Bool("affinity", false, "pin loop threads to CPUs")
		verbose  = fs.Bool("v", false, "debug logging")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	level := logiface.LevelInformational
	if *verbose {
		level = logiface.LevelDebug
	}
	logger := stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(os.Stderr)),
		stumpy.L.WithLevel(level),
	).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	pool, err := reactor.NewPool(
		reactor.WithMaxLoops(*loops),
		reactor.WithCPUAffinity(*affinity),
		reactor.WithPoolLogger(logger),
	)
	if err != nil {
		return err
	}

	for i := range *pipes {
		if err := addPump(pool, logger, i); err != nil {
			pool.Done()
			_ = pool.Close()
			return err
		}
	}

	for _, l := range pool.Loops() {
		t, err := l.AddTimer(reactor.HandlerFunc(func(l *reactor.Loop, _ reactor.EventType, _ reactor.Handle) {
			s := l.Stats()
			logger.Info().
				Uint64("loop", l.ID()).
				Int("objects", l.NumObjects()).
				Uint64("wakes", s.Wakes).
				Uint64("os_events", s.OSEvents).
				Uint64("timer_fires", s.TimerFires).
				Uint64("tasks", s.Tasks).
				Dur("process_time", s.ProcessTime).
				Log("loop stats")
		}))
		if err != nil {
			return err
		}
		if err := t.Start(*interval); err != nil {
			return err
		}
	}

	// ctx only triggers the graceful shutdown: canceling the loops directly
	// would leave the pipes registered
	if err := pool.Start(context.Background()); err != nil {
		return err
	}

	var (
		g       errgroup.Group
		stopped = make(chan struct{})
	)
	g.Go(func() error {
		defer close(stopped)
		return pool.Wait()
	})
	g.Go(func() error {
		select {
		case <-ctx.Done():
			pool.DoneWithDisconnect(0, 2*time.Second)
		case <-stopped:
		}
		return nil
	})

	err = g.Wait()
	logger.Info().
		Str("result", reactor.Code(err).String()).
		Dur("process_time", pool.ProcessTime()).
		Log("pool stopped")
	if closeErr := pool.Close(); closeErr != nil {
		return closeErr
	}
	if reactor.IsBenign(err) {
		return nil
	}
	return err
}

// addPump registers both ends of a pipe with the pool: the write end
// through an async writer fed by a timer, the read end through a handler
// that counts the bytes received.
func addPump(pool *reactor.Pool, logger *logiface.Logger[logiface.Event], id int) error {
	r, w, err := reactor.Pipe()
	if err != nil {
		return err
	}

	var (
		reg      *reactor.Registration
		received int
		buf      = make([]byte, 4096)
	)
	reg, err = pool.Add(r, reactor.InterestRead, reactor.HandlerFunc(func(_ *reactor.Loop, ev reactor.EventType, _ reactor.Handle) {
		switch ev {
		case reactor.EventRead:
			for {
				n, err := r.Read(buf)
				received += n
				if err != nil || n == 0 {
					break
				}
			}
		case reactor.EventDisconnected, reactor.EventError:
			logger.Debug().
				Int("pipe", id).
				Int("received", received).
				Str("event", ev.String()).
				Log("pipe closed")
			if _, err := reg.Remove(); err == nil {
				_ = r.Close()
			}
		}
	}))
	if err != nil {
		_ = r.Close()
		_ = w.Close()
		return err
	}

	loop, err := pool.Distribute()
	if err != nil {
		return err
	}
	writer, err := asyncwrite.New(loop, w, asyncwrite.WithLogger(logger))
	if err != nil {
		return err
	}
	payload := []byte(fmt.Sprintf("pipe %d\n", id))
	t, err := loop.AddTimer(reactor.HandlerFunc(func(*reactor.Loop, reactor.EventType, reactor.Handle) {
		if _, err := writer.Write(payload); err != nil && !errors.Is(err, asyncwrite.ErrClosed) {
			logger.Warning().Err(err).Log("pump write failed")
		}
	}))
	if err != nil {
		return err
	}
	if err := t.SetMode(reactor.TimerMonotonic); err != nil {
		return err
	}
	return t.Start(10 * time.Millisecond)
}

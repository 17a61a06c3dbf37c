// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package reactor

import (
	"errors"
	"time"

	"github.com/joeycumines/logiface"
)

// Flags alter the behavior of a [Loop].
type Flags uint32

const (
	// FlagNoWake stops registrations and timer changes made from other
	// goroutines from waking a blocked loop. They are applied the next time
	// the loop wakes for another reason. Triggers and tasks always wake.
	FlagNoWake Flags = 1 << iota
	// FlagExitOnEmpty ends the loop, as if [Loop.Done] was called, once no
	// handles, triggers, or armed timers remain.
	FlagExitOnEmpty
	// FlagExitOnEmptyNoTimers modifies FlagExitOnEmpty to ignore timers.
	// It has no effect on its own.
	FlagExitOnEmptyNoTimers
	// FlagNonScalable selects the poll(2) backend, which is cheaper for
	// small numbers of descriptors.
	FlagNonScalable
)

// String returns a human-readable representation of the flags.
func (f Flags) String() string {
	if f == 0 {
		return "NONE"
	}
	var s string
	add := func(bit Flags, name string) {
		if f&bit != 0 {
			if s != "" {
				s += "|"
			}
			s += name
		}
	}
	add(FlagNoWake, "NOWAKE")
	add(FlagExitOnEmpty, "EXITONEMPTY")
	add(FlagExitOnEmptyNoTimers, "EXITONEMPTY_NOTIMERS")
	add(FlagNonScalable, "NON_SCALABLE")
	return s
}

// BackendFactory constructs the readiness backend of a loop.
type BackendFactory func() (Backend, error)

// loopOptions holds configuration options for Loop creation.
type loopOptions struct {
	logger         *logiface.Logger[logiface.Event]
	backend        BackendFactory
	misuseRates    map[time.Duration]int
	flags          Flags
	readyBufferLen int
}

// --- Loop Options ---

// LoopOption configures a Loop instance.
type LoopOption interface {
	applyLoop(*loopOptions) error
}

// loopOptionImpl implements LoopOption.
type loopOptionImpl struct {
	applyLoopFunc func(*loopOptions) error
}

func (l *loopOptionImpl) applyLoop(opts *loopOptions) error {
	return l.applyLoopFunc(opts)
}

// WithFlags sets the loop flags. Multiple uses are combined.
func WithFlags(flags Flags) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.flags |= flags
		return nil
	}}
}

// WithLogger configures structured logging. A nil logger disables logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithBackend replaces the platform backend. It takes precedence over
// [FlagNonScalable].
func WithBackend(factory BackendFactory) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		if factory == nil {
			return errors.New("reactor: nil backend factory")
		}
		opts.backend = factory
		return nil
	}}
}

// WithReadyBufferSize sets the maximum number of readiness reports
// collected by a single wait. The default is 256.
func WithReadyBufferSize(n int) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		if n <= 0 {
			return errors.New("reactor: ready buffer size must be positive")
		}
		opts.readyBufferLen = n
		return nil
	}}
}

// WithMisuseRateLimit sets the sliding windows used to rate limit misuse and
// backend warnings, per category. See catrate.NewLimiter for the rules the
// rates must satisfy. A nil map disables rate limiting.
func WithMisuseRateLimit(rates map[time.Duration]int) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.misuseRates = rates
		return nil
	}}
}

var defaultMisuseRates = map[time.Duration]int{
	time.Second: 10,
	time.Minute: 100,
}

// resolveLoopOptions applies LoopOption instances to loopOptions.
func resolveLoopOptions(opts []LoopOption) (*loopOptions, error) {
	cfg := &loopOptions{
		misuseRates:    defaultMisuseRates,
		readyBufferLen: 256,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyLoop(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// --- Pool Options ---

type poolOptions struct {
	logger      *logiface.Logger[logiface.Event]
	loopOptions []LoopOption
	maxLoops    int
	affinity    bool
}

// PoolOption configures a Pool instance.
type PoolOption interface {
	applyPool(*poolOptions) error
}

type poolOptionImpl struct {
	applyPoolFunc func(*poolOptions) error
}

func (p *poolOptionImpl) applyPool(opts *poolOptions) error {
	return p.applyPoolFunc(opts)
}

// WithMaxLoops bounds the number of loops a pool creates. The pool uses
// min(runtime.NumCPU(), n) loops, and 0 means the CPU count.
func WithMaxLoops(n int) PoolOption {
	return &poolOptionImpl{func(opts *poolOptions) error {
		if n < 0 {
			return errors.New("reactor: max loops must not be negative")
		}
		opts.maxLoops = n
		return nil
	}}
}

// WithCPUAffinity pins the thread of each pool loop to a CPU, where
// supported. Loop i is pinned to CPU i modulo the CPU count.
func WithCPUAffinity(enabled bool) PoolOption {
	return &poolOptionImpl{func(opts *poolOptions) error {
		opts.affinity = enabled
		return nil
	}}
}

// WithPoolLoopOptions sets the options used to create each pool loop.
func WithPoolLoopOptions(opts ...LoopOption) PoolOption {
	return &poolOptionImpl{func(o *poolOptions) error {
		o.loopOptions = append(o.loopOptions, opts...)
		return nil
	}}
}

// WithPoolLogger configures logging for the pool and, unless overridden by
// [WithPoolLoopOptions], its loops.
func WithPoolLogger(logger *logiface.Logger[logiface.Event]) PoolOption {
	return &poolOptionImpl{func(opts *poolOptions) error {
		opts.logger = logger
		return nil
	}}
}

func resolvePoolOptions(opts []PoolOption) (*poolOptions, error) {
	cfg := &poolOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyPool(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

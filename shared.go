// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package reactor

import (
	"context"
	"sync"
)

// SharedPool is a lazily started [Pool], for code that wants a process-wide
// default without owning its lifecycle. The pool is built and started on
// the first Get, and closed at most once.
type SharedPool struct {
	opts      []PoolOption
	getOnce   sync.Once
	closeOnce sync.Once
	pool      *Pool
	err       error
	closed    chan struct{}
}

// NewSharedPool returns a SharedPool that builds its pool with opts.
func NewSharedPool(opts ...PoolOption) *SharedPool {
	return &SharedPool{
		opts:   opts,
		closed: make(chan struct{}),
	}
}

var defaultPool = NewSharedPool()

// Default returns the process-wide shared pool, with one loop per CPU.
func Default() *SharedPool { return defaultPool }

// Get returns the pool, building and starting it on first use. Every call
// after a failed build returns the same error, as does every call after
// Close.
func (s *SharedPool) Get() (*Pool, error) {
	s.getOnce.Do(func() {
		select {
		case <-s.closed:
			s.err = ErrPoolClosed
			return
		default:
		}
		p, err := NewPool(s.opts...)
		if err != nil {
			s.err = err
			return
		}
		if err := p.Start(context.Background()); err != nil {
			_ = p.Close()
			s.err = err
			return
		}
		s.pool = p
	})
	select {
	case <-s.closed:
		return nil, ErrPoolClosed
	default:
	}
	return s.pool, s.err
}

// Close finishes the pool, if it was built, waiting for the loops to stop
// before closing them. Only the first call has any effect; later calls
// return nil.
func (s *SharedPool) Close(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		// prevents a build racing with the close
		s.getOnce.Do(func() { s.err = ErrPoolClosed })
		if s.pool == nil {
			return
		}
		s.pool.Done()
		err = s.pool.CloseBlocking(ctx)
	})
	return err
}

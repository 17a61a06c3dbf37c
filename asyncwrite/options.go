// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package asyncwrite

import (
	"github.com/joeycumines/logiface"
)

type options struct {
	onError func(error)
	onDrain func()
	logger  *logiface.Logger[logiface.Event]
}

// Option configures a Writer.
type Option interface {
	apply(*options)
}

type optionImpl struct {
	applyFunc func(*options)
}

func (o *optionImpl) apply(opts *options) {
	o.applyFunc(opts)
}

// WithErrorHandler sets a callback for the failure that stops the writer.
// It runs on the loop goroutine.
func WithErrorHandler(fn func(error)) Option {
	return &optionImpl{func(opts *options) {
		opts.onError = fn
	}}
}

// WithDrainHandler sets a callback run on the loop goroutine each time the
// buffer empties.
func WithDrainHandler(fn func()) Option {
	return &optionImpl{func(opts *options) {
		opts.onDrain = fn
	}}
}

// WithLogger logs write failures at warning level.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{func(opts *options) {
		opts.logger = logger
	}}
}

func resolveOptions(opts []Option) *options {
	cfg := &options{}
	for _, opt := range opts {
		if opt != nil {
			opt.apply(cfg)
		}
	}
	return cfg
}

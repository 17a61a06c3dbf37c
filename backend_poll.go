// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

//go:build linux || darwin

package reactor

import (
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// pollBackend watches descriptors using poll(2). The descriptor set is
// rebuilt only when it changes. Selected by [FlagNonScalable].
type pollBackend struct {
	fds    map[int]Interest
	pfds   []unix.PollFd
	limit  int
	dirty  bool
	closed atomic.Bool
}

// NewPollBackend creates a poll(2) backend reporting up to size descriptors
// per wait.
func NewPollBackend(size int) (Backend, error) {
	if size <= 0 {
		size = 256
	}
	return &pollBackend{
		fds:   make(map[int]Interest),
		limit: size,
	}, nil
}

func (p *pollBackend) Add(fd int, interest Interest) error {
	if p.closed.Load() {
		return ErrBackendClosed
	}
	if fd < 0 {
		return ErrFDOutOfRange
	}
	if _, ok := p.fds[fd]; ok {
		return ErrFDAlreadyWatched
	}
	p.fds[fd] = interest
	p.dirty = true
	return nil
}

func (p *pollBackend) Modify(fd int, interest Interest) error {
	if p.closed.Load() {
		return ErrBackendClosed
	}
	if _, ok := p.fds[fd]; !ok {
		return ErrFDNotWatched
	}
	p.fds[fd] = interest
	p.dirty = true
	return nil
}

func (p *pollBackend) Remove(fd int) error {
	if p.closed.Load() {
		return ErrBackendClosed
	}
	if _, ok := p.fds[fd]; !ok {
		return ErrFDNotWatched
	}
	delete(p.fds, fd)
	p.dirty = true
	return nil
}

func (p *pollBackend) Wait(timeout time.Duration, buf []Ready) ([]Ready, error) {
	if p.closed.Load() {
		return buf, ErrBackendClosed
	}
	if p.dirty {
		p.pfds = p.pfds[:0]
		for fd, interest := range p.fds {
			p.pfds = append(p.pfds, unix.PollFd{Fd: int32(fd), Events: interestToPoll(interest)})
		}
		p.dirty = false
	}
	n, err := unix.Poll(p.pfds, timeoutMillis(timeout))
	if err != nil {
		if err == unix.EINTR {
			return buf, nil
		}
		return buf, err
	}
	var reported int
	for i := range p.pfds {
		if reported == n || reported == p.limit {
			break
		}
		revents := p.pfds[i].Revents
		if revents == 0 {
			continue
		}
		p.pfds[i].Revents = 0
		reported++
		fd := int(p.pfds[i].Fd)
		interest := p.fds[fd]
		switch {
		case revents&(unix.POLLERR|unix.POLLNVAL) != 0:
			buf = appendTerminal(buf, fd, interest, EventError)
		case revents&unix.POLLHUP != 0:
			buf = appendTerminal(buf, fd, interest, EventDisconnected)
		default:
			if revents&unix.POLLIN != 0 && interest&InterestRead != 0 {
				buf = append(buf, Ready{FD: fd, Type: EventRead})
			}
			if revents&unix.POLLOUT != 0 && interest&InterestWrite != 0 {
				buf = append(buf, Ready{FD: fd, Type: EventWrite})
			}
		}
	}
	return buf, nil
}

func (p *pollBackend) Close() error {
	p.closed.Store(true)
	return nil
}

func interestToPoll(interest Interest) int16 {
	var events int16
	if interest&InterestRead != 0 {
		events |= unix.POLLIN
	}
	if interest&InterestWrite != 0 {
		events |= unix.POLLOUT
	}
	return events
}

// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

//go:build darwin

package reactor

import (
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// kqueueBackend watches descriptors using kqueue (Darwin), with one filter
// per direction.
type kqueueBackend struct {
	fds    map[int]Interest
	seen   map[int]struct{}
	events []unix.Kevent_t
	kq     int
	closed atomic.Bool
}

func newPlatformBackend(size int) (Backend, error) {
	return NewKqueueBackend(size)
}

// NewKqueueBackend creates a kqueue backend collecting up to size events per
// wait.
func NewKqueueBackend(size int) (Backend, error) {
	if size <= 0 {
		size = 256
	}
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	unix.CloseOnExec(kq)
	return &kqueueBackend{
		fds:    make(map[int]Interest),
		seen:   make(map[int]struct{}),
		events: make([]unix.Kevent_t, size),
		kq:     kq,
	}, nil
}

func (p *kqueueBackend) Add(fd int, interest Interest) error {
	if p.closed.Load() {
		return ErrBackendClosed
	}
	if fd < 0 {
		return ErrFDOutOfRange
	}
	if _, ok := p.fds[fd]; ok {
		return ErrFDAlreadyWatched
	}
	if kevents := interestToKevents(fd, interest, unix.EV_ADD|unix.EV_ENABLE); len(kevents) > 0 {
		if _, err := unix.Kevent(p.kq, kevents, nil, nil); err != nil {
			return err
		}
	}
	p.fds[fd] = interest
	return nil
}

func (p *kqueueBackend) Modify(fd int, interest Interest) error {
	if p.closed.Load() {
		return ErrBackendClosed
	}
	old, ok := p.fds[fd]
	if !ok {
		return ErrFDNotWatched
	}
	if removed := old &^ interest; removed != 0 {
		// ignore errors, the filter may already be gone
		_, _ = unix.Kevent(p.kq, interestToKevents(fd, removed, unix.EV_DELETE), nil, nil)
	}
	if added := interest &^ old; added != 0 {
		if _, err := unix.Kevent(p.kq, interestToKevents(fd, added, unix.EV_ADD|unix.EV_ENABLE), nil, nil); err != nil {
			return err
		}
	}
	p.fds[fd] = interest
	return nil
}

func (p *kqueueBackend) Remove(fd int) error {
	if p.closed.Load() {
		return ErrBackendClosed
	}
	interest, ok := p.fds[fd]
	if !ok {
		return ErrFDNotWatched
	}
	delete(p.fds, fd)
	if kevents := interestToKevents(fd, interest, unix.EV_DELETE); len(kevents) > 0 {
		// closing a descriptor removes its filters implicitly
		_, _ = unix.Kevent(p.kq, kevents, nil, nil)
	}
	return nil
}

func (p *kqueueBackend) Wait(timeout time.Duration, buf []Ready) ([]Ready, error) {
	if p.closed.Load() {
		return buf, ErrBackendClosed
	}
	var ts *unix.Timespec
	if ms := timeoutMillis(timeout); ms >= 0 {
		ts = &unix.Timespec{
			Sec:  int64(ms / 1000),
			Nsec: int64((ms % 1000) * 1000000),
		}
	}
	n, err := unix.Kevent(p.kq, nil, p.events, ts)
	if err != nil {
		if err == unix.EINTR {
			return buf, nil
		}
		return buf, err
	}
	clear(p.seen)
	for i := 0; i < n; i++ {
		kev := &p.events[i]
		fd := int(kev.Ident)
		interest, ok := p.fds[fd]
		if !ok {
			continue
		}
		if _, terminal := p.seen[fd]; terminal {
			continue
		}
		switch {
		case kev.Flags&unix.EV_ERROR != 0:
			p.seen[fd] = struct{}{}
			buf = appendTerminal(buf, fd, interest, EventError)
		case kev.Flags&unix.EV_EOF != 0:
			p.seen[fd] = struct{}{}
			buf = appendTerminal(buf, fd, interest, EventDisconnected)
		case kev.Filter == unix.EVFILT_READ:
			buf = append(buf, Ready{FD: fd, Type: EventRead})
		case kev.Filter == unix.EVFILT_WRITE:
			buf = append(buf, Ready{FD: fd, Type: EventWrite})
		}
	}
	return buf, nil
}

func (p *kqueueBackend) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	return unix.Close(p.kq)
}

// interestToKevents converts an interest set to kqueue kevent structures.
func interestToKevents(fd int, interest Interest, flags uint16) []unix.Kevent_t {
	var kevents []unix.Kevent_t
	if interest&InterestRead != 0 {
		kevents = append(kevents, unix.Kevent_t{
			Ident:  uint64(fd),
			Filter: unix.EVFILT_READ,
			Flags:  flags,
		})
	}
	if interest&InterestWrite != 0 {
		kevents = append(kevents, unix.Kevent_t{
			Ident:  uint64(fd),
			Filter: unix.EVFILT_WRITE,
			Flags:  flags,
		})
	}
	return kevents
}

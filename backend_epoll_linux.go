// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

//go:build linux

package reactor

import (
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// epollBackend watches descriptors using epoll (Linux), level triggered.
type epollBackend struct {
	fds    map[int]Interest
	events []unix.EpollEvent
	epfd   int
	closed atomic.Bool
}

func newPlatformBackend(size int) (Backend, error) {
	return NewEpollBackend(size)
}

// NewEpollBackend creates an epoll backend collecting up to size events per
// wait.
func NewEpollBackend(size int) (Backend, error) {
	if size <= 0 {
		size = 256
	}
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &epollBackend{
		fds:    make(map[int]Interest),
		events: make([]unix.EpollEvent, size),
		epfd:   epfd,
	}, nil
}

func (p *epollBackend) Add(fd int, interest Interest) error {
	if p.closed.Load() {
		return ErrBackendClosed
	}
	if fd < 0 {
		return ErrFDOutOfRange
	}
	if _, ok := p.fds[fd]; ok {
		return ErrFDAlreadyWatched
	}
	ev := &unix.EpollEvent{
		Events: interestToEpoll(interest),
		Fd:     int32(fd),
	}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, ev); err != nil {
		return err
	}
	p.fds[fd] = interest
	return nil
}

func (p *epollBackend) Modify(fd int, interest Interest) error {
	if p.closed.Load() {
		return ErrBackendClosed
	}
	if _, ok := p.fds[fd]; !ok {
		return ErrFDNotWatched
	}
	ev := &unix.EpollEvent{
		Events: interestToEpoll(interest),
		Fd:     int32(fd),
	}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, ev); err != nil {
		return err
	}
	p.fds[fd] = interest
	return nil
}

func (p *epollBackend) Remove(fd int) error {
	if p.closed.Load() {
		return ErrBackendClosed
	}
	if _, ok := p.fds[fd]; !ok {
		return ErrFDNotWatched
	}
	delete(p.fds, fd)
	// the descriptor may already be closed, which removes it implicitly
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil && err != unix.EBADF && err != unix.ENOENT {
		return err
	}
	return nil
}

func (p *epollBackend) Wait(timeout time.Duration, buf []Ready) ([]Ready, error) {
	if p.closed.Load() {
		return buf, ErrBackendClosed
	}
	n, err := unix.EpollWait(p.epfd, p.events, timeoutMillis(timeout))
	if err != nil {
		if err == unix.EINTR {
			return buf, nil
		}
		return buf, err
	}
	for i := 0; i < n; i++ {
		fd := int(p.events[i].Fd)
		interest, ok := p.fds[fd]
		if !ok {
			continue
		}
		events := p.events[i].Events
		switch {
		case events&unix.EPOLLERR != 0:
			buf = appendTerminal(buf, fd, interest, EventError)
		case events&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0:
			buf = appendTerminal(buf, fd, interest, EventDisconnected)
		default:
			if events&unix.EPOLLIN != 0 && interest&InterestRead != 0 {
				buf = append(buf, Ready{FD: fd, Type: EventRead})
			}
			if events&unix.EPOLLOUT != 0 && interest&InterestWrite != 0 {
				buf = append(buf, Ready{FD: fd, Type: EventWrite})
			}
		}
	}
	return buf, nil
}

func (p *epollBackend) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	return unix.Close(p.epfd)
}

// interestToEpoll converts an interest set to epoll event flags. Hangup and
// error conditions are always reported.
func interestToEpoll(interest Interest) uint32 {
	epollEvents := uint32(unix.EPOLLRDHUP)
	if interest&InterestRead != 0 {
		epollEvents |= unix.EPOLLIN
	}
	if interest&InterestWrite != 0 {
		epollEvents |= unix.EPOLLOUT
	}
	return epollEvents
}

// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package reactor

// EventType identifies an event delivered to a [Handler].
//
// The declaration order is the delivery priority used when a single
// readiness report carries more than one event for a handle.
type EventType uint8

const (
	// EventConnected reports that a handle finished connecting.
	EventConnected EventType = iota
	// EventAccept reports that a listening handle has a pending connection.
	EventAccept
	// EventRead reports that data is available to read.
	EventRead
	// EventDisconnected is terminal: the peer hung up, or the loop is
	// dropping the handle.
	EventDisconnected
	// EventError is terminal: the descriptor reported an error condition.
	EventError
	// EventWrite reports that the handle can accept more data.
	EventWrite
	// EventOther is used for triggers, timers, and user defined events.
	EventOther
)

// String returns a human-readable representation of the event type.
func (t EventType) String() string {
	switch t {
	case EventConnected:
		return "CONNECTED"
	case EventAccept:
		return "ACCEPT"
	case EventRead:
		return "READ"
	case EventDisconnected:
		return "DISCONNECTED"
	case EventError:
		return "ERROR"
	case EventWrite:
		return "WRITE"
	case EventOther:
		return "OTHER"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether no further events follow t for the same
// registration.
func (t EventType) Terminal() bool {
	return t == EventDisconnected || t == EventError
}

func (t EventType) valid() bool {
	return t <= EventOther
}

// Interest is the set of conditions a registration waits for.
type Interest uint8

const (
	// InterestRead delivers EventRead.
	InterestRead Interest = 1 << iota
	// InterestWrite delivers EventWrite.
	InterestWrite
	// InterestConnect delivers a single EventConnected on the first write
	// readiness, then clears itself.
	InterestConnect
	// InterestAccept delivers EventAccept in place of EventRead.
	InterestAccept
)

// String returns a human-readable representation of the interest set.
func (i Interest) String() string {
	if i == 0 {
		return "NONE"
	}
	var s string
	add := func(bit Interest, name string) {
		if i&bit != 0 {
			if s != "" {
				s += "|"
			}
			s += name
		}
	}
	add(InterestRead, "READ")
	add(InterestWrite, "WRITE")
	add(InterestConnect, "CONNECT")
	add(InterestAccept, "ACCEPT")
	return s
}

// readiness reduces the interest set to what the backend must watch.
func (i Interest) readiness() Interest {
	var r Interest
	if i&(InterestRead|InterestAccept) != 0 {
		r |= InterestRead
	}
	if i&(InterestWrite|InterestConnect) != 0 {
		r |= InterestWrite
	}
	return r
}

// Ready is a single readiness report produced by [Backend.Wait].
type Ready struct {
	FD   int
	Type EventType
}

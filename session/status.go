package session

import "errors"

// Status of the session lifecycle. Idle means no session exists.
type Status int

const (
	Idle Status = iota
	Connecting
	Capturing
	Stopping
)

var statusNames = [...]string{"idle", "connecting", "capturing", "stopping"}

// StatusNames lists every status name in order.
var StatusNames = statusNames[:]

func (s Status) String() string {
	if s < Idle || s > Stopping {
		return "unknown"
	}
	return statusNames[s]
}

var ErrIllegalTransition = errors.New("illegal status transition")

var transitions = map[Status][]Status{
	Idle:       {Connecting},
	Connecting: {Capturing, Stopping, Idle},
	Capturing:  {Stopping, Idle},
	Stopping:   {Idle},
}

func (s Status) CanTransition(to Status) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Active reports whether a session exists in this status.
func (s Status) Active() bool {
	return s != Idle
}

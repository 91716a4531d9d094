package main

import (
	"errors"
	"fmt"
)

var (
	errReadTimeout   = errors.New("session read timed out")
	errSessionClosed = errors.New("session output closed")
	errBridgeBusy    = errors.New("event queue busy")
)

// FailureClass groups session failures by how the manager recovers from them.
type FailureClass string

const (
	FailureInline  FailureClass = "inline"  // refused during connect
	FailureStack   FailureClass = "stack"   // unimplemented function, fd exhaustion, generic fatal
	FailureLost    FailureClass = "lost"    // library warning, invalid handle, disconnect
	FailureProcess FailureClass = "process" // child died or could not be driven
	FailureAdapter FailureClass = "adapter" // adapter reset or spawn failed
)

// SessionFailure is the reason a session was torn down.
type SessionFailure struct {
	Class  FailureClass
	State  ConnState
	Reason string
	Err    error
}

func (e *SessionFailure) Error() string {
	s := fmt.Sprintf("%s failure in %s: %s", e.Class, e.State, e.Reason)
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *SessionFailure) Unwrap() error { return e.Err }

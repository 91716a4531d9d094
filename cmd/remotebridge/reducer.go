package main

import (
	"fmt"
	"time"
)

// This file implements the reducer that owns all button and mode state:
//
//   - Events: inputs (decoded notifications, session lifecycle, status requests)
//   - Commands: side effects requested by the reducer (feedback pulse, webhook
//     dispatch, playlist lookup, status reply)
//   - Reduce(): computes next state + commands, without performing I/O
//
// The bridge loop is the only caller. It executes Commands in order and never
// hands *BridgeState to another goroutine.

// ==============================
// Events
// ==============================

// Event is the input to the reducer.
type Event interface {
	eventMarker()
}

func (Notification) eventMarker() {}

// ListeningStarted is emitted when a session reaches LISTENING.
// Button state never carries over from a previous session.
type ListeningStarted struct {
	Session int
	At      time.Time
}

func (ListeningStarted) eventMarker() {}

// SessionStateChanged mirrors connection manager transitions into the bridge
// state so status requests and the feed can report them.
type SessionStateChanged struct {
	Session int
	State   ConnState
	At      time.Time
}

func (SessionStateChanged) eventMarker() {}

// PlaylistResolved carries the outcome of a CmdPlaylistLookup back into the
// reducer. URI is empty on miss, error or timeout.
type PlaylistResolved struct {
	Lookup CmdPlaylistLookup
	URI    string
}

func (PlaylistResolved) eventMarker() {}

// RequestStatus asks the loop for a StatusSnapshot. Reply must be buffered.
type RequestStatus struct {
	Reply chan StatusSnapshot
}

func (RequestStatus) eventMarker() {}

// ==============================
// Commands
// ==============================

// Command is a side effect requested by the reducer.
type Command interface {
	commandMarker()
	String() string
}

// CmdFeedback requests one haptic/LED pulse.
type CmdFeedback struct{}

func (CmdFeedback) commandMarker() {}
func (CmdFeedback) String() string { return "CmdFeedback()" }

// CmdDispatch requests delivery of one outbound event.
type CmdDispatch struct {
	Action     string
	DeviceType string
	Extra      map[string]string
}

func (CmdDispatch) commandMarker() {}
func (c CmdDispatch) String() string {
	return fmt.Sprintf("CmdDispatch(action=%s, device_type=%s)", c.Action, c.DeviceType)
}

// CmdPlaylistLookup requests a bounded digit to playlist lookup. The mode is
// captured at resolution time and used for the fallback dispatch.
type CmdPlaylistLookup struct {
	Digit int
	Mode  Mode
}

func (CmdPlaylistLookup) commandMarker() {}
func (c CmdPlaylistLookup) String() string {
	return fmt.Sprintf("CmdPlaylistLookup(digit=%d, mode=%s)", c.Digit, c.Mode)
}

// CmdPublishStatus delivers a snapshot to a status requester.
type CmdPublishStatus struct {
	Reply    chan StatusSnapshot
	Snapshot StatusSnapshot
}

func (CmdPublishStatus) commandMarker() {}
func (CmdPublishStatus) String() string { return "CmdPublishStatus()" }

// ==============================
// Broadcasts
// ==============================

// StateBroadcast is a state change worth publishing on the diagnostic feed.
type StateBroadcast interface {
	broadcastMarker()
}

// BroadcastModeChanged is emitted when the Mode Context changes value.
type BroadcastModeChanged struct {
	Mode Mode
	At   time.Time
}

func (BroadcastModeChanged) broadcastMarker() {}

// BroadcastSessionState is emitted on every connection state transition.
type BroadcastSessionState struct {
	Session int
	State   ConnState
	At      time.Time
}

func (BroadcastSessionState) broadcastMarker() {}

// BroadcastActionDispatched is emitted by the effects stage once an
// OutboundEvent has been handed to the dispatcher.
type BroadcastActionDispatched struct {
	Event OutboundEvent
	At    time.Time
}

func (BroadcastActionDispatched) broadcastMarker() {}

// ==============================
// State
// ==============================

// BridgeState is the single-owner state of the bridge loop.
type BridgeState struct {
	Mode    Mode
	Button  ButtonState
	Conn    ConnState
	Session int
}

// NewBridgeState returns the process-start state: Video mode, nothing pressed.
func NewBridgeState() *BridgeState {
	return &BridgeState{Mode: ModeVideo, Conn: StateCleanup}
}

// StatusSnapshot is a copy of the bridge state for external readers.
type StatusSnapshot struct {
	Mode    Mode        `json:"mode"`
	State   string      `json:"state"`
	Session int         `json:"session"`
	Button  ButtonState `json:"button"`
}

func (s *BridgeState) snapshot() StatusSnapshot {
	return StatusSnapshot{
		Mode:    s.Mode,
		State:   s.Conn.String(),
		Session: s.Session,
		Button:  s.Button,
	}
}

// ==============================
// Reducer
// ==============================

// ReduceResult is the output of Reduce(): next state, the actions that were
// resolved, Commands to execute and feed broadcasts.
type ReduceResult struct {
	State      *BridgeState
	Actions    []ActionResult
	Commands   []Command
	Broadcasts []StateBroadcast
}

// Reduce is the pure reducer.
//
// Rules:
// - Must not perform I/O
// - Must not block
// - Must not mutate anything outside the returned state
func Reduce(s *BridgeState, e Event) ReduceResult {
	if s == nil {
		s = NewBridgeState()
	}

	rr := ReduceResult{State: s}

	switch ev := e.(type) {
	case Notification:
		switch s.Button.Observe(ev.Command) {
		case PressNew:
			rr.resolve(ResolveKey(ev.Command), ev.At)
		case PressRepeat:
			// Held keys only keep firing for volume and channel stepping.
			if a := ResolveKey(ev.Command); repeatable(a) {
				rr.resolve(a, ev.At)
			}
		}

	case ListeningStarted:
		s.Button.Reset()
		s.Session = ev.Session

	case SessionStateChanged:
		s.Conn = ev.State
		s.Session = ev.Session
		rr.Broadcasts = append(rr.Broadcasts, BroadcastSessionState{Session: ev.Session, State: ev.State, At: ev.At})

	case PlaylistResolved:
		rr.Commands = append(rr.Commands, PlaylistDispatch(ev.Lookup, ev.URI))

	case RequestStatus:
		rr.Commands = append(rr.Commands, CmdPublishStatus{Reply: ev.Reply, Snapshot: s.snapshot()})

	default:
		// Unknown event type: no-op.
	}

	return rr
}

// resolve applies the current mode to one action and records the outcome.
func (rr *ReduceResult) resolve(a ActionResult, at time.Time) {
	s := rr.State
	res := ApplyMode(s.Mode, a)

	rr.Actions = append(rr.Actions, a)
	rr.Commands = append(rr.Commands, CmdFeedback{})
	for _, d := range res.Dispatches {
		rr.Commands = append(rr.Commands, d)
	}
	if res.Lookup != nil {
		rr.Commands = append(rr.Commands, *res.Lookup)
	}

	if res.Mode != s.Mode {
		s.Mode = res.Mode
		rr.Broadcasts = append(rr.Broadcasts, BroadcastModeChanged{Mode: res.Mode, At: at})
	}
}

package main

import (
	"context"
	"log/slog"
)

// ============================================================================
// Bridge Loop
// ============================================================================
//
// The bridge loop is the single consumer of decoded notifications. It owns
// BridgeState (button tracker, mode context, connection mirror) and is the
// only goroutine that reduces events.
//
// Design rules enforced here:
//   - The reducer performs no I/O and computes: next state + commands.
//   - The loop executes commands through the effects stage.
//   - Effect observations (playlist lookups) are fed back as Events.
//   - Broadcasts go to the diagnostic feed without ever blocking the loop.
//
// Notifications are handled strictly one at a time in arrival order. The
// only blocking effect is the bounded playlist lookup.
//
// ============================================================================

// runBridge consumes events until ctx is canceled or events is closed.
func runBridge(
	ctx context.Context,
	events <-chan Event,
	fx *effects,
	state *BridgeState,
	broadcasts chan<- StateBroadcast,
	logger *slog.Logger,
) {
	if state == nil {
		state = NewBridgeState()
	}

	// Explicit queues:
	// - eventQueue holds events awaiting reduction
	// - cmdQueue holds commands awaiting execution
	var eventQueue []Event
	var cmdQueue []Command

	enqueueEvent := func(ev Event) {
		eventQueue = append(eventQueue, ev)
	}

	publish := func(bs []StateBroadcast) {
		for _, b := range bs {
			publishBroadcast(broadcasts, b, logger)
		}
	}

	flushEvents := func() {
		for len(eventQueue) > 0 {
			ev := eventQueue[0]
			eventQueue = eventQueue[1:]

			prevMode := state.Mode
			rr := Reduce(state, ev)
			if rr.State != nil {
				state = rr.State
			}
			for _, a := range rr.Actions {
				logger.Info("button resolved", "action", a.String(), "mode", prevMode)
			}
			cmdQueue = append(cmdQueue, rr.Commands...)
			publish(rr.Broadcasts)
		}
	}

	flushCommands := func() {
		for len(cmdQueue) > 0 {
			cmd := cmdQueue[0]
			cmdQueue = cmdQueue[1:]

			fx.run(ctx, cmd, enqueueEvent)

			// Observations are reduced before the next queued command so a
			// digit's dispatch keeps its place in the order.
			flushEvents()
		}
	}

	logger.Info("bridge loop started", "mode", state.Mode)

	for {
		select {
		case <-ctx.Done():
			logger.Info("bridge loop stopping (context canceled)")
			return

		case ev, ok := <-events:
			if !ok {
				logger.Info("bridge loop stopping (events channel closed)")
				return
			}
			enqueueEvent(ev)
			flushEvents()
			flushCommands()
		}
	}
}

// publishBroadcast forwards b to the feed without blocking.
func publishBroadcast(ch chan<- StateBroadcast, b StateBroadcast, logger *slog.Logger) {
	if ch == nil {
		return
	}
	select {
	case ch <- b:
	default:
		logger.Debug("broadcast queue full, dropping", "type", broadcastType(b))
	}
}

// hasControlHeadroom reports whether a local control request (IPC inject,
// status) may enter events. The upper half of the queue is kept for BLE
// notifications so the connection manager never waits on local clients.
func hasControlHeadroom(events chan<- Event) bool {
	return len(events) <= cap(events)/2
}

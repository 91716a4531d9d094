package main

import (
	"context"
	"log/slog"
	"time"
)

// effects executes reducer-emitted commands.
//
// Design rules:
//   - This is the only place that performs I/O for the bridge loop.
//   - It must never call Reduce() directly; observations go back through onEvent.
//   - Webhook and feedback calls are handed to the Dispatcher and never awaited.
type effects struct {
	deviceName string
	dispatcher *Dispatcher

	playlist        PlaylistLookup // nil: every digit misses
	playlistTimeout time.Duration

	broadcasts chan<- StateBroadcast
	logger     *slog.Logger
}

func (fx *effects) run(ctx context.Context, cmd Command, onEvent func(Event)) {
	switch c := cmd.(type) {
	case CmdFeedback:
		if fx.dispatcher != nil {
			fx.dispatcher.Pulse()
		}

	case CmdDispatch:
		ev := NewOutboundEvent(fx.deviceName, c)
		fx.logger.Debug("dispatching", "action", ev.Action, "device_type", ev.DeviceType)
		if fx.dispatcher != nil && !fx.dispatcher.Dispatch(ev) {
			return
		}
		publishBroadcast(fx.broadcasts, BroadcastActionDispatched{Event: ev, At: time.Now()}, fx.logger)

	case CmdPlaylistLookup:
		onEvent(PlaylistResolved{Lookup: c, URI: fx.lookupPlaylist(ctx, c.Digit)})

	case CmdPublishStatus:
		if c.Reply == nil {
			fx.logger.Warn("status requested with nil reply channel")
			return
		}
		// Never block the loop on a slow requester.
		select {
		case c.Reply <- c.Snapshot:
		default:
			fx.logger.Warn("status reply channel not ready; dropping snapshot")
		}

	default:
		fx.logger.Warn("unknown command type", "command", cmd.String())
	}
}

// lookupPlaylist runs the bounded lookup. Any failure is a miss.
func (fx *effects) lookupPlaylist(ctx context.Context, digit int) string {
	if fx.playlist == nil {
		return ""
	}

	timeout := fx.playlistTimeout
	if timeout <= 0 {
		timeout = msDuration(defaultPlaylistTimeoutMS)
	}
	lctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	uri, err := fx.playlist.Lookup(lctx, digit)
	if err != nil {
		fx.logger.Warn("playlist lookup failed, sending digit", "digit", digit, "error", err, "took", time.Since(start).Round(time.Millisecond))
		return ""
	}
	if uri == "" {
		fx.logger.Debug("no playlist for digit", "digit", digit)
	}
	return uri
}

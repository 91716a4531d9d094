package main

import "time"

// Protocol constants for the remote's GATT notification service.
// These are fixed by the remote's firmware and are not user-configurable.
const (
	// CCCD handles that enable notifications on the two button characteristics.
	cccdHandleKeys     = "0x0013"
	cccdHandleConsumer = "0x0017"

	// Value written to a CCCD to enable notifications (little-endian 0x0001).
	cccdEnableNotify = "0100"

	// Command byte sent by the remote when every button is released.
	releaseCode = "00"
)

// Connection manager timing.
const (
	connectReadTimeout   = 60 * time.Second // bounded wait for a connect response
	listenReadTimeout    = 30 * time.Second // bounded wait while listening (liveness + logging)
	subscribeReadTimeout = 2 * time.Second  // best-effort wait for a CCCD write answer

	cleanupBackoff     = 3 * time.Second // sleep on every fall back to CLEANUP
	adapterToggleDelay = 1 * time.Second // between power off / power on
	connectRetryDelay  = 1 * time.Second // after "Connection timed out"
	refusedDelay       = 1 * time.Second // after restarting the bluetooth daemon
	stackFailureDelay  = 2 * time.Second // after a stack-level failure marker

	sessionWaitDelay   = 500 * time.Millisecond // exec.Cmd.WaitDelay for the session child
	sessionKillTimeout = 2 * time.Second        // wait for the child to be reaped after SIGKILL
)

// Button debounce.
const (
	// Held notifications are re-resolved only once the repeat count exceeds this.
	repeatThreshold = 3
)

// Outbound defaults.
const (
	defaultWebhookConnectTimeoutMS = 1000
	defaultWebhookTimeoutMS        = 2000
	defaultFeedbackTimeoutMS       = 500
	defaultPlaylistTimeoutMS       = 1500
	defaultMaxInFlight             = 8

	eventSource = "bluetooth"
)

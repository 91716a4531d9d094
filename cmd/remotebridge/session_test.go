package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startScriptSession runs body as a stand-in for gatttool.
func startScriptSession(t *testing.T, body string) *gatttoolSession {
	t.Helper()
	s, err := startGatttool(GatttoolOptions{Path: writeScript(t, body)}, "AA:BB:CC:DD:EE:FF", discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Kill() })
	return s
}

func TestGatttoolSession_SendAndRead(t *testing.T) {
	s := startScriptSession(t, `while read cmd; do echo "ack $cmd"; done`)
	ctx := context.Background()

	require.NoError(t, s.Send("connect"))
	got, err := s.ReadLine(ctx, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "ack connect", got)
	assert.Positive(t, s.PID())
}

func TestGatttoolSession_ArgumentsAndStderr(t *testing.T) {
	s := startScriptSession(t, `echo "args $*"; echo "GLib-WARNING oops" >&2; exec sleep 5`)
	ctx := context.Background()

	got, err := s.ReadLine(ctx, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "args -b AA:BB:CC:DD:EE:FF -I", got)

	got, err = s.ReadLine(ctx, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "GLib-WARNING oops", got, "stderr is merged into the line stream")
}

func TestGatttoolSession_ReadTimeoutWhileAlive(t *testing.T) {
	s := startScriptSession(t, `exec sleep 5`)

	_, err := s.ReadLine(context.Background(), 50*time.Millisecond)
	assert.ErrorIs(t, err, errReadTimeout)
	assert.True(t, s.Alive())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.ReadLine(ctx, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGatttoolSession_ClosedAfterExit(t *testing.T) {
	s := startScriptSession(t, `echo bye; exit 0`)
	ctx := context.Background()

	got, err := s.ReadLine(ctx, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "bye", got)

	_, err = s.ReadLine(ctx, 2*time.Second)
	assert.ErrorIs(t, err, errSessionClosed)

	require.Eventually(t, func() bool { return !s.Alive() }, 2*time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, s.Send("connect"), errSessionClosed)
	assert.NoError(t, s.Kill())
}

func TestGatttoolSession_KillWithOutputBacklog(t *testing.T) {
	s := startScriptSession(t, `exec yes 'Notification handle = 0x0012 value: 00 52 00 00 00 00 00 00'`)

	// Let the line buffer and the pipes fill up.
	time.Sleep(300 * time.Millisecond)

	start := time.Now()
	require.NoError(t, s.Kill())
	assert.Less(t, time.Since(start), sessionKillTimeout)
	assert.False(t, s.Alive(), "child must be reaped")

	assert.NoError(t, s.Kill(), "second Kill is a no-op")
}

func TestGatttoolSession_StartFailure(t *testing.T) {
	_, err := startGatttool(GatttoolOptions{Path: "/nonexistent/gatttool"}, "AA:BB:CC:DD:EE:FF", discardLogger())
	assert.Error(t, err)
}

package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lookup.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func TestStaticLookup(t *testing.T) {
	l := staticLookup{"1": " spotify:playlist:one ", "0": "spotify:playlist:zero"}

	uri, err := l.Lookup(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "spotify:playlist:one", uri)

	uri, err = l.Lookup(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, "spotify:playlist:zero", uri)

	uri, err = l.Lookup(context.Background(), 5)
	require.NoError(t, err)
	assert.Empty(t, uri)
}

func TestCommandLookup(t *testing.T) {
	script := writeScript(t, `echo "spotify:playlist:$2-$1"`)
	l, err := newCommandLookup(script + " favourites")
	require.NoError(t, err)

	uri, err := l.Lookup(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, "spotify:playlist:4-favourites", uri)
}

func TestCommandLookup_FailureAndTimeout(t *testing.T) {
	failing, err := newCommandLookup(writeScript(t, "echo nope >&2; exit 3"))
	require.NoError(t, err)
	_, err = failing.Lookup(context.Background(), 1)
	assert.ErrorContains(t, err, "nope")

	slow, err := newCommandLookup(writeScript(t, "exec sleep 5"))
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err = slow.Lookup(ctx, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestNewPlaylistLookup(t *testing.T) {
	l, err := newPlaylistLookup(PlaylistConfig{})
	require.NoError(t, err)
	assert.Nil(t, l)

	l, err = newPlaylistLookup(PlaylistConfig{Map: map[string]string{"1": "x"}})
	require.NoError(t, err)
	assert.IsType(t, staticLookup{}, l)

	l, err = newPlaylistLookup(PlaylistConfig{Command: "/usr/bin/lookup --json", Map: map[string]string{"1": "x"}})
	require.NoError(t, err)
	assert.IsType(t, &commandLookup{}, l)
}

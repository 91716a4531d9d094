package main

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// PlaylistLookup resolves a digit to a playlist URI. An empty URI with a nil
// error is a miss.
type PlaylistLookup interface {
	Lookup(ctx context.Context, digit int) (string, error)
}

// staticLookup serves digits from the config map.
type staticLookup map[string]string

func (m staticLookup) Lookup(_ context.Context, digit int) (string, error) {
	return strings.TrimSpace(m[strconv.Itoa(digit)]), nil
}

// commandLookup runs `<path> [args...] <digit>` and takes the first line of
// stdout as the URI.
type commandLookup struct {
	path string
	args []string
}

func newCommandLookup(command string) (*commandLookup, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil, fmt.Errorf("playlist command is empty")
	}
	return &commandLookup{path: fields[0], args: fields[1:]}, nil
}

func (c *commandLookup) Lookup(ctx context.Context, digit int) (string, error) {
	args := append(append([]string(nil), c.args...), strconv.Itoa(digit))
	cmd := exec.CommandContext(ctx, c.path, args...)
	// Don't wait on output held open by grandchildren once ctx is done.
	cmd.WaitDelay = 100 * time.Millisecond

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("playlist lookup for %d: %w", digit, ctx.Err())
		}
		return "", fmt.Errorf("playlist lookup for %d: %w (stderr: %s)", digit, err, strings.TrimSpace(stderr.String()))
	}

	line, _, _ := strings.Cut(stdout.String(), "\n")
	return strings.TrimSpace(line), nil
}

// newPlaylistLookup picks the helper command when configured and falls back
// to the static map. It returns nil when neither is set.
func newPlaylistLookup(cfg PlaylistConfig) (PlaylistLookup, error) {
	if cfg.Command != "" {
		return newCommandLookup(cfg.Command)
	}
	if len(cfg.Map) > 0 {
		return staticLookup(cfg.Map), nil
	}
	return nil, nil
}

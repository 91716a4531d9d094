package main

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeProc(t *testing.T, procs map[int][]string) {
	t.Helper()
	root := t.TempDir()
	for pid, args := range procs {
		dir := filepath.Join(root, strconv.Itoa(pid))
		require.NoError(t, os.MkdirAll(dir, 0o755))
		cmdline := strings.Join(args, "\x00") + "\x00"
		require.NoError(t, os.WriteFile(filepath.Join(dir, "cmdline"), []byte(cmdline), 0o644))
	}
	// Non-pid entries are ignored.
	require.NoError(t, os.MkdirAll(filepath.Join(root, "self"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "uptime"), []byte("1 1"), 0o644))

	old := procRoot
	procRoot = root
	t.Cleanup(func() { procRoot = old })
}

func TestFindStaleSessions(t *testing.T) {
	const addr = "AA:BB:CC:DD:EE:FF"
	fakeProc(t, map[int][]string{
		101:         {"/usr/bin/gatttool", "-i", "hci0", "-b", "aa:bb:cc:dd:ee:ff", "-I"},
		102:         {"gatttool", "-b", addr, "-I"},
		103:         {"gatttool", "-b", "11:22:33:44:55:66", "-I"},
		104:         {"bluetoothd"},
		105:         {},
		os.Getpid(): {"gatttool", "-b", addr},
	})

	pids, err := findStaleSessions("/usr/bin/gatttool", addr)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{101, 102}, pids)
}

func TestFindStaleSessions_MissingRoot(t *testing.T) {
	old := procRoot
	procRoot = filepath.Join(t.TempDir(), "nope")
	t.Cleanup(func() { procRoot = old })

	_, err := findStaleSessions("gatttool", "AA:BB:CC:DD:EE:FF")
	assert.Error(t, err)
}

func TestKillStaleSessions_NothingToKill(t *testing.T) {
	fakeProc(t, map[int][]string{
		104: {"bluetoothd"},
	})

	n, err := killStaleSessions("gatttool", "AA:BB:CC:DD:EE:FF")
	require.NoError(t, err)
	assert.Zero(t, n)
}

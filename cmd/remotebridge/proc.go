package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// procRoot is the proc filesystem root; tests point it at a temp dir.
var procRoot = "/proc"

// findStaleSessions returns the pids of processes whose command line names
// the session binary and the remote address. The current process is skipped.
func findStaleSessions(binary, address string) ([]int, error) {
	entries, err := os.ReadDir(procRoot)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", procRoot, err)
	}

	self := os.Getpid()
	bin := filepath.Base(binary)
	addr := strings.ToLower(address)

	var pids []int
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		pid, err := strconv.Atoi(entry.Name())
		if err != nil || pid == self {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(procRoot, entry.Name(), "cmdline"))
		if err != nil || len(raw) == 0 {
			continue
		}
		// cmdline is NUL separated.
		cmdline := strings.ToLower(string(bytes.ReplaceAll(raw, []byte{0}, []byte{' '})))
		if strings.Contains(cmdline, bin) && strings.Contains(cmdline, addr) {
			pids = append(pids, pid)
		}
	}
	return pids, nil
}

// killStaleSessions SIGKILLs every leftover session process bound to address.
// It returns how many processes were signalled.
func killStaleSessions(binary, address string) (int, error) {
	pids, err := findStaleSessions(binary, address)
	if err != nil {
		return 0, err
	}

	var errs []error
	killed := 0
	for _, pid := range pids {
		if err := unix.Kill(pid, unix.SIGKILL); err != nil {
			if !errors.Is(err, unix.ESRCH) {
				errs = append(errs, fmt.Errorf("kill %d: %w", pid, err))
			}
			continue
		}
		killed++
	}
	return killed, errors.Join(errs...)
}

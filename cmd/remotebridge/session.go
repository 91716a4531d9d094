package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// ============================================================================
// BLE session
// ============================================================================
// A Session is one bidirectional, line-oriented conversation with the BLE
// control interface (gatttool in interactive mode) bound to the remote's
// address. Sessions are never reused: the connection manager kills the
// session on any failure and spawns a fresh one.
// ============================================================================

// Session is the connection manager's view of a running BLE control process.
type Session interface {
	// Send writes one command line to the session.
	Send(cmd string) error
	// ReadLine waits up to timeout for the next output line.
	// It returns errReadTimeout when nothing arrived in time and
	// errSessionClosed once the output stream has ended.
	ReadLine(ctx context.Context, timeout time.Duration) (string, error)
	// Alive reports whether the underlying process is still running.
	Alive() bool
	// Kill terminates the session. It is safe to call more than once.
	Kill() error
	// PID returns the child process id, or 0 if unknown.
	PID() int
}

// SessionSpawner starts a new session bound to a remote address.
type SessionSpawner func(ctx context.Context, address string) (Session, error)

// GatttoolOptions configures how the gatttool child is started.
type GatttoolOptions struct {
	Path        string // gatttool binary
	Adapter     string // e.g. hci0
	AddressType string // public or random
}

// gatttoolSession drives `gatttool -I` over pipes. stdout and stderr are
// merged so library warnings are seen by the manager in order.
type gatttoolSession struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	output *io.PipeReader
	lines  chan string
	done   chan struct{} // closed when the process has exited
	stop   chan struct{} // closed by Kill
	logger *slog.Logger

	writeMu  sync.Mutex
	killOnce sync.Once
}

// NewGatttoolSpawner returns a SessionSpawner that starts gatttool processes.
func NewGatttoolSpawner(opts GatttoolOptions, logger *slog.Logger) SessionSpawner {
	return func(ctx context.Context, address string) (Session, error) {
		return startGatttool(opts, address, logger)
	}
}

func startGatttool(opts GatttoolOptions, address string, logger *slog.Logger) (*gatttoolSession, error) {
	args := []string{"-b", address, "-I"}
	if opts.Adapter != "" {
		args = append([]string{"-i", opts.Adapter}, args...)
	}
	if opts.AddressType != "" && opts.AddressType != "public" {
		args = append(args, "-t", opts.AddressType)
	}

	cmd := exec.Command(opts.Path, args...)
	// Own process group so Kill also takes down anything gatttool forked.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	// Bounds Wait if the output copy is stuck after the process is gone.
	cmd.WaitDelay = sessionWaitDelay

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("gatttool stdin: %w", err)
	}
	if err := cmd.Start(); err != nil {
		_ = pr.Close()
		_ = pw.Close()
		return nil, fmt.Errorf("start %s: %w", opts.Path, err)
	}

	s := &gatttoolSession{
		cmd:    cmd,
		stdin:  stdin,
		output: pr,
		lines:  make(chan string, 256),
		done:   make(chan struct{}),
		stop:   make(chan struct{}),
		logger: logger,
	}

	go func() {
		err := cmd.Wait()
		_ = pw.Close()
		s.logger.Debug("gatttool exited", "pid", cmd.Process.Pid, "error", err)
		close(s.done)
	}()

	go s.readLines(pr)

	return s, nil
}

// readLines forwards process output line by line until EOF or Kill.
func (s *gatttoolSession) readLines(r io.Reader) {
	defer close(s.lines)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		select {
		case s.lines <- scanner.Text():
		case <-s.stop:
			return
		}
	}
}

func (s *gatttoolSession) Send(cmd string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if !s.Alive() {
		return errSessionClosed
	}
	if _, err := fmt.Fprintf(s.stdin, "%s\n", cmd); err != nil {
		return fmt.Errorf("write %q: %w", cmd, err)
	}
	return nil
}

func (s *gatttoolSession) ReadLine(ctx context.Context, timeout time.Duration) (string, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case line, ok := <-s.lines:
		if !ok {
			return "", errSessionClosed
		}
		return line, nil
	case <-timer.C:
		return "", errReadTimeout
	}
}

func (s *gatttoolSession) Alive() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

func (s *gatttoolSession) PID() int {
	if s.cmd.Process == nil {
		return 0
	}
	return s.cmd.Process.Pid
}

// Kill sends SIGKILL to the session's process group and waits briefly for
// the process to be reaped.
func (s *gatttoolSession) Kill() error {
	var err error
	s.killOnce.Do(func() {
		close(s.stop)
		_ = s.stdin.Close()
		// Unblocks the output copy so Wait can reap the child.
		_ = s.output.CloseWithError(errSessionClosed)

		if pid := s.PID(); pid > 0 {
			if kerr := unix.Kill(-pid, unix.SIGKILL); kerr != nil && !errors.Is(kerr, unix.ESRCH) {
				err = fmt.Errorf("kill process group %d: %w", pid, kerr)
			}
		}

		select {
		case <-s.done:
		case <-time.After(sessionKillTimeout):
			if err == nil {
				err = errors.New("gatttool did not exit after SIGKILL")
			}
		}
	})
	return err
}

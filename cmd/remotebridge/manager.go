package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// ============================================================================
// Connection Manager
// ============================================================================
//
// The manager is a forever-retry supervisor for the BLE link:
//
//	CLEANUP -> ADAPTER_RESET -> SPAWN -> CONNECTING -> SUBSCRIBING -> LISTENING
//
// Every state can fall back to CLEANUP. Falling back always kills the current
// session and sleeps cleanupBackoff before the next cycle. There is no
// terminal state and no retry budget; the process is meant to run under an
// external supervisor that only detects hangs.
//
// The manager owns the session handle exclusively. Decoded notifications and
// lifecycle events are handed to the bridge loop over a channel; the manager
// never touches button or mode state.
//
// ============================================================================

// ConnState is a connection manager state.
type ConnState int

const (
	StateCleanup ConnState = iota
	StateAdapterReset
	StateSpawn
	StateConnecting
	StateSubscribing
	StateListening
)

func (s ConnState) String() string {
	switch s {
	case StateCleanup:
		return "CLEANUP"
	case StateAdapterReset:
		return "ADAPTER_RESET"
	case StateSpawn:
		return "SPAWN"
	case StateConnecting:
		return "CONNECTING"
	case StateSubscribing:
		return "SUBSCRIBING"
	case StateListening:
		return "LISTENING"
	default:
		return fmt.Sprintf("ConnState(%d)", int(s))
	}
}

// connectOutcome classifies one line read while CONNECTING.
type connectOutcome int

const (
	connectPending connectOutcome = iota
	connectOK
	connectRefused
	connectTimedOut
	connectStackFailure
)

// Stack-level failure markers. The generic "Error:" prefix must stay last so
// the specific refused/timed-out markers are checked first.
var stackFailureMarkers = []string{
	"Function not implemented",
	"Too many open files",
	"Error:",
}

// Mid-session loss markers, matched case-insensitively while SUBSCRIBING
// and LISTENING.
var listenFailureMarkers = []string{
	"glib-warning",
	"invalid handle",
	"connection lost",
	"disconnected",
}

func classifyConnectLine(line string) connectOutcome {
	switch {
	case strings.Contains(line, "Connection successful"):
		return connectOK
	case strings.Contains(line, "Connection refused"):
		return connectRefused
	case strings.Contains(line, "Connection timed out"):
		return connectTimedOut
	}
	for _, m := range stackFailureMarkers {
		if strings.Contains(line, m) {
			return connectStackFailure
		}
	}
	return connectPending
}

// listenFailureMarker returns the marker found in line, or "".
func listenFailureMarker(line string) string {
	lower := strings.ToLower(line)
	for _, m := range listenFailureMarkers {
		if strings.Contains(lower, m) {
			return m
		}
	}
	return ""
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	Address string

	Adapter Adapter
	Spawn   SessionSpawner

	// KillStale removes leftover session processes bound to the address.
	// Optional.
	KillStale func(address string) (int, error)

	// Sleep is used for every fixed delay. Defaults to a context-aware sleep.
	Sleep func(ctx context.Context, d time.Duration) error

	Metrics *Metrics
	Logger  *slog.Logger
}

// Manager drives the connection state machine.
type Manager struct {
	address   string
	adapter   Adapter
	spawn     SessionSpawner
	killStale func(string) (int, error)
	sleep     func(context.Context, time.Duration) error

	events  chan<- Event
	metrics *Metrics
	logger  *slog.Logger // base logger
	log     *slog.Logger // session-tagged logger

	session   Session
	sessionID int
	attempts  int // connect requests issued in the current session
	lastRead  time.Time
}

// NewManager builds a manager that reports to events.
func NewManager(cfg ManagerConfig, events chan<- Event) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = discardLogger()
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	killStale := cfg.KillStale
	if killStale == nil {
		killStale = func(string) (int, error) { return 0, nil }
	}
	return &Manager{
		address:   cfg.Address,
		adapter:   cfg.Adapter,
		spawn:     cfg.Spawn,
		killStale: killStale,
		sleep:     sleep,
		events:    events,
		metrics:   cfg.Metrics,
		logger:    logger,
		log:       logger.With("session", 0, "address", cfg.Address),
	}
}

// Run loops through the state machine until ctx is canceled. It only ever
// returns ctx.Err().
func (m *Manager) Run(ctx context.Context) error {
	defer m.terminate()

	st := StateCleanup
	m.enter(ctx, st)

	for {
		if err := ctx.Err(); err != nil {
			m.log.Info("connection manager stopping", "state", st)
			return err
		}

		next := m.step(ctx, st)
		if next != st {
			m.enter(ctx, next)
		}
		st = next
	}
}

// step executes one state and returns the next one.
func (m *Manager) step(ctx context.Context, st ConnState) ConnState {
	switch st {
	case StateCleanup:
		return m.cleanup(ctx)
	case StateAdapterReset:
		return m.resetAdapter(ctx)
	case StateSpawn:
		return m.spawnSession(ctx)
	case StateConnecting:
		return m.connect(ctx)
	case StateSubscribing:
		return m.subscribe(ctx)
	case StateListening:
		return m.listen(ctx)
	default:
		return m.fail(ctx, &SessionFailure{Class: FailureProcess, State: st, Reason: "unknown state"})
	}
}

// enter records a transition and mirrors it to the bridge loop.
func (m *Manager) enter(ctx context.Context, st ConnState) {
	m.metrics.SetState(st)
	m.log.Debug("state transition", "state", st)
	m.emit(ctx, SessionStateChanged{Session: m.sessionID, State: st, At: time.Now()})
	if st == StateListening {
		m.emit(ctx, ListeningStarted{Session: m.sessionID, At: time.Now()})
	}
}

func (m *Manager) emit(ctx context.Context, ev Event) {
	if m.events == nil {
		return
	}
	select {
	case m.events <- ev:
	case <-ctx.Done():
	}
}

// terminate kills the current session handle, if any.
func (m *Manager) terminate() {
	if m.session == nil {
		return
	}
	if err := m.session.Kill(); err != nil {
		m.log.Warn("failed to kill session", "pid", m.session.PID(), "error", err)
	}
	m.session = nil
}

// fail tears the session down and returns to CLEANUP after the fixed backoff.
func (m *Manager) fail(ctx context.Context, f *SessionFailure) ConnState {
	m.log.Warn("session failed", "class", f.Class, "state", f.State, "reason", f.Reason, "error", f.Err)
	m.metrics.SessionFailed(f.Error())
	m.terminate()
	_ = m.sleep(ctx, cleanupBackoff)
	return StateCleanup
}

func (m *Manager) cleanup(ctx context.Context) ConnState {
	m.terminate()

	n, err := m.killStale(m.address)
	if err != nil {
		m.log.Warn("stale session cleanup incomplete", "error", err)
	}
	if n > 0 {
		m.log.Info("killed stale sessions", "count", n)
	}
	return StateAdapterReset
}

func (m *Manager) resetAdapter(ctx context.Context) ConnState {
	if m.adapter == nil {
		return StateSpawn
	}
	if err := m.adapter.PowerCycle(ctx); err != nil {
		if ctx.Err() != nil {
			return StateAdapterReset
		}
		return m.fail(ctx, &SessionFailure{Class: FailureAdapter, State: StateAdapterReset, Reason: "power cycle", Err: err})
	}
	m.metrics.AdapterReset()
	return StateSpawn
}

func (m *Manager) spawnSession(ctx context.Context) ConnState {
	m.sessionID++
	m.log = m.logger.With("session", m.sessionID, "address", m.address)
	m.attempts = 0

	s, err := m.spawn(ctx, m.address)
	if err != nil {
		return m.fail(ctx, &SessionFailure{Class: FailureAdapter, State: StateSpawn, Reason: "spawn", Err: err})
	}
	m.session = s
	m.metrics.SessionStarted()
	m.log.Info("session spawned", "pid", s.PID())
	return StateConnecting
}

// connect issues one connect request and waits for a decisive answer.
func (m *Manager) connect(ctx context.Context) ConnState {
	if err := m.session.Send("connect"); err != nil {
		return m.fail(ctx, &SessionFailure{Class: FailureProcess, State: StateConnecting, Reason: "send connect", Err: err})
	}
	m.attempts++
	m.metrics.ConnectAttempt()
	m.log.Info("connecting", "attempt", m.attempts)

	for {
		line, err := m.session.ReadLine(ctx, connectReadTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return StateConnecting
			}
			if errors.Is(err, errReadTimeout) && m.session.Alive() {
				m.log.Warn("no connect response, retrying", "wait", connectReadTimeout)
				return StateConnecting
			}
			return m.fail(ctx, &SessionFailure{Class: FailureProcess, State: StateConnecting, Reason: "session ended", Err: err})
		}

		switch classifyConnectLine(line) {
		case connectOK:
			m.log.Info("connected", "attempts", m.attempts)
			return StateSubscribing

		case connectRefused:
			m.log.Warn("connection refused, restarting bluetooth daemon", "line", line)
			m.restartDaemon(ctx)
			_ = m.sleep(ctx, refusedDelay)
			return m.fail(ctx, &SessionFailure{Class: FailureInline, State: StateConnecting, Reason: line})

		case connectTimedOut:
			m.log.Info("connection timed out, retrying", "attempt", m.attempts)
			_ = m.sleep(ctx, connectRetryDelay)
			return StateConnecting

		case connectStackFailure:
			m.terminate()
			_ = m.sleep(ctx, stackFailureDelay)
			return m.fail(ctx, &SessionFailure{Class: FailureStack, State: StateConnecting, Reason: line})

		default:
			m.log.Debug("connect output", "line", line)
		}
	}
}

func (m *Manager) restartDaemon(ctx context.Context) {
	if m.adapter == nil {
		return
	}
	m.metrics.DaemonRestart()
	if err := m.adapter.RestartDaemon(ctx); err != nil {
		m.log.Error("bluetooth daemon restart failed", "error", err)
	}
}

// subscribe enables notifications on both characteristics. Enabling is
// best-effort: answers are logged and never gate progress, but a lost link
// seen while waiting for an answer still fails the session.
func (m *Manager) subscribe(ctx context.Context) ConnState {
	for _, handle := range []string{cccdHandleKeys, cccdHandleConsumer} {
		cmd := fmt.Sprintf("char-write-req %s %s", handle, cccdEnableNotify)
		if err := m.session.Send(cmd); err != nil {
			return m.fail(ctx, &SessionFailure{Class: FailureProcess, State: StateSubscribing, Reason: "send " + cmd, Err: err})
		}
		if next, failed := m.awaitWriteAnswer(ctx, handle); failed {
			return next
		}
	}
	m.lastRead = time.Now()
	m.log.Info("listening for button notifications")
	return StateListening
}

// awaitWriteAnswer reads until the answer to a CCCD write or a timeout.
// Notifications that arrive first are forwarded. It reports failed=true with
// the next state when a link failure marker shows up.
func (m *Manager) awaitWriteAnswer(ctx context.Context, handle string) (ConnState, bool) {
	for {
		line, err := m.session.ReadLine(ctx, subscribeReadTimeout)
		if err != nil {
			m.log.Warn("no answer to notification enable", "handle", handle, "error", err)
			return StateSubscribing, false
		}
		if marker := listenFailureMarker(line); marker != "" {
			return m.fail(ctx, &SessionFailure{Class: FailureLost, State: StateSubscribing, Reason: marker}), true
		}
		if n, ok := DecodeNotification(line); ok {
			m.forward(ctx, n)
			continue
		}
		if strings.Contains(strings.ToLower(line), "error") {
			m.log.Warn("notification enable rejected", "handle", handle, "line", line)
		} else {
			m.log.Debug("notification enable answered", "handle", handle, "line", line)
		}
		return StateSubscribing, false
	}
}

// listen reads one line and routes it.
func (m *Manager) listen(ctx context.Context) ConnState {
	line, err := m.session.ReadLine(ctx, listenReadTimeout)
	if err != nil {
		if ctx.Err() != nil {
			return StateListening
		}
		if errors.Is(err, errReadTimeout) && m.session.Alive() {
			m.log.Debug("still listening", "idle", time.Since(m.lastRead).Truncate(time.Second))
			return StateListening
		}
		return m.fail(ctx, &SessionFailure{Class: FailureProcess, State: StateListening, Reason: "session ended", Err: err})
	}
	m.lastRead = time.Now()

	if marker := listenFailureMarker(line); marker != "" {
		return m.fail(ctx, &SessionFailure{Class: FailureLost, State: StateListening, Reason: marker})
	}

	n, ok := DecodeNotification(line)
	if !ok {
		m.log.Debug("session output", "line", line)
		return StateListening
	}
	n.At = m.lastRead
	m.forward(ctx, n)
	return StateListening
}

// forward hands a decoded notification to the bridge loop.
func (m *Manager) forward(ctx context.Context, n Notification) {
	if n.At.IsZero() {
		n.At = time.Now()
	}
	m.metrics.Notification()
	m.log.Debug("notification", "handle", n.Handle, "command", n.Command)
	m.emit(ctx, n)
}

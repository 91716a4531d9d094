package main

import (
	"sync"
	"sync/atomic"
	"time"
)

// Metrics tracks runtime counters of the bridge.
//
// All methods are safe for concurrent use. A nil *Metrics is a valid no-op
// receiver, so components constructed without metrics never need to nil-check.
type Metrics struct {
	sessionsStarted  atomic.Int64
	sessionFailures  atomic.Int64
	connectAttempts  atomic.Int64
	adapterResets    atomic.Int64
	daemonRestarts   atomic.Int64
	notifications    atomic.Int64
	dispatched       atomic.Int64
	dropped          atomic.Int64
	deliveryFailures atomic.Int64
	feedbackFailures atomic.Int64

	mu             sync.RWMutex
	startTime      time.Time
	state          ConnState
	lastFailure    time.Time
	lastFailureMsg string
	lastNotifyAt   time.Time
}

// NewMetrics creates a collector with the start time set to now.
func NewMetrics() *Metrics {
	return &Metrics{startTime: time.Now()}
}

// ── Connection ───────────────────────────────────────────────────────

func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.sessionsStarted.Add(1)
}

// SessionFailed increments the failure counter and stores the reason.
func (m *Metrics) SessionFailed(reason string) {
	if m == nil {
		return
	}
	m.sessionFailures.Add(1)
	m.mu.Lock()
	m.lastFailure = time.Now()
	m.lastFailureMsg = reason
	m.mu.Unlock()
}

func (m *Metrics) ConnectAttempt() {
	if m == nil {
		return
	}
	m.connectAttempts.Add(1)
}

func (m *Metrics) AdapterReset() {
	if m == nil {
		return
	}
	m.adapterResets.Add(1)
}

func (m *Metrics) DaemonRestart() {
	if m == nil {
		return
	}
	m.daemonRestarts.Add(1)
}

// SetState records the connection manager's current state.
func (m *Metrics) SetState(s ConnState) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// ConnectAttempts returns the lifetime number of connect requests issued.
func (m *Metrics) ConnectAttempts() int64 {
	if m == nil {
		return 0
	}
	return m.connectAttempts.Load()
}

// DaemonRestarts returns how often the bluetooth daemon was restarted.
func (m *Metrics) DaemonRestarts() int64 {
	if m == nil {
		return 0
	}
	return m.daemonRestarts.Load()
}

// ── Notifications and delivery ───────────────────────────────────────

func (m *Metrics) Notification() {
	if m == nil {
		return
	}
	m.notifications.Add(1)
	m.mu.Lock()
	m.lastNotifyAt = time.Now()
	m.mu.Unlock()
}

func (m *Metrics) Dispatched() {
	if m == nil {
		return
	}
	m.dispatched.Add(1)
}

// Dropped counts an outbound task rejected because the pool was saturated.
func (m *Metrics) Dropped() {
	if m == nil {
		return
	}
	m.dropped.Add(1)
}

func (m *Metrics) DeliveryFailed() {
	if m == nil {
		return
	}
	m.deliveryFailures.Add(1)
}

func (m *Metrics) FeedbackFailed() {
	if m == nil {
		return
	}
	m.feedbackFailures.Add(1)
}

// DroppedCount returns the number of outbound tasks dropped.
func (m *Metrics) DroppedCount() int64 {
	if m == nil {
		return 0
	}
	return m.dropped.Load()
}

// ── Snapshot ─────────────────────────────────────────────────────────

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	Uptime             string `json:"uptime"`
	State              string `json:"state"`
	SessionsStarted    int64  `json:"sessions_started"`
	SessionFailures    int64  `json:"session_failures"`
	ConnectAttempts    int64  `json:"connect_attempts"`
	AdapterResets      int64  `json:"adapter_resets"`
	DaemonRestarts     int64  `json:"daemon_restarts"`
	Notifications      int64  `json:"notifications"`
	Dispatched         int64  `json:"dispatched"`
	Dropped            int64  `json:"dropped"`
	DeliveryFailures   int64  `json:"delivery_failures"`
	FeedbackFailures   int64  `json:"feedback_failures"`
	LastNotification   string `json:"last_notification,omitempty"`
	LastFailure        string `json:"last_failure,omitempty"`
	LastFailureMessage string `json:"last_failure_message,omitempty"`
}

// Snapshot returns a copy of all current metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := MetricsSnapshot{
		Uptime:           time.Since(m.startTime).Truncate(time.Second).String(),
		State:            m.state.String(),
		SessionsStarted:  m.sessionsStarted.Load(),
		SessionFailures:  m.sessionFailures.Load(),
		ConnectAttempts:  m.connectAttempts.Load(),
		AdapterResets:    m.adapterResets.Load(),
		DaemonRestarts:   m.daemonRestarts.Load(),
		Notifications:    m.notifications.Load(),
		Dispatched:       m.dispatched.Load(),
		Dropped:          m.dropped.Load(),
		DeliveryFailures: m.deliveryFailures.Load(),
		FeedbackFailures: m.feedbackFailures.Load(),
	}
	if !m.lastNotifyAt.IsZero() {
		s.LastNotification = m.lastNotifyAt.Format(time.RFC3339)
	}
	if !m.lastFailure.IsZero() {
		s.LastFailure = m.lastFailure.Format(time.RFC3339)
		s.LastFailureMessage = m.lastFailureMsg
	}
	return s
}

package main

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMetrics_NilReceiver(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.SessionStarted()
		m.SessionFailed("lost")
		m.ConnectAttempt()
		m.AdapterReset()
		m.DaemonRestart()
		m.SetState(StateListening)
		m.Notification()
		m.Dispatched()
		m.Dropped()
		m.DeliveryFailed()
		m.FeedbackFailed()
	})
	assert.Zero(t, m.ConnectAttempts())
	assert.Zero(t, m.DroppedCount())
	assert.Equal(t, MetricsSnapshot{}, m.Snapshot())
}

func TestMetrics_Snapshot(t *testing.T) {
	m := NewMetrics()

	snap := m.Snapshot()
	assert.Equal(t, "CLEANUP", snap.State)
	assert.Empty(t, snap.LastFailure)
	assert.Empty(t, snap.LastNotification)

	m.SessionStarted()
	m.ConnectAttempt()
	m.ConnectAttempt()
	m.AdapterReset()
	m.DaemonRestart()
	m.SessionFailed("connect refused")
	m.Notification()
	m.Dispatched()
	m.DeliveryFailed()
	m.FeedbackFailed()
	m.SetState(StateSubscribing)

	snap = m.Snapshot()
	assert.Equal(t, int64(1), snap.SessionsStarted)
	assert.Equal(t, int64(2), snap.ConnectAttempts)
	assert.Equal(t, int64(1), snap.AdapterResets)
	assert.Equal(t, int64(1), snap.DaemonRestarts)
	assert.Equal(t, int64(1), snap.SessionFailures)
	assert.Equal(t, int64(1), snap.Notifications)
	assert.Equal(t, int64(1), snap.Dispatched)
	assert.Equal(t, int64(1), snap.DeliveryFailures)
	assert.Equal(t, int64(1), snap.FeedbackFailures)
	assert.Equal(t, "SUBSCRIBING", snap.State)
	assert.Equal(t, "connect refused", snap.LastFailureMessage)
	assert.NotEmpty(t, snap.LastFailure)
	assert.NotEmpty(t, snap.LastNotification)
	assert.NotEmpty(t, snap.Uptime)
}

func TestMetrics_ConcurrentCounters(t *testing.T) {
	m := NewMetrics()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.Dropped()
				m.Notification()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(800), m.DroppedCount())
	assert.Equal(t, int64(800), m.Snapshot().Notifications)
}

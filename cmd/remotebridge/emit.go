package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// ============================================================================
// Outbound delivery
// ============================================================================
// Every OutboundEvent is delivered exactly once per sink, with a bounded
// timeout and no retry. Delivery is detached from the bridge loop: the loop
// hands a value copy to the Dispatcher and moves on. When the pool is
// saturated the delivery is dropped and counted, never queued.
// ============================================================================

// Sink receives outbound events.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, ev OutboundEvent) error
}

// Pulser triggers one feedback pulse on the remote's host device.
type Pulser interface {
	Pulse(ctx context.Context) error
}

// ============================================================================
// Webhook
// ============================================================================

type webhookSink struct {
	url    string
	client *http.Client
}

// newWebhookSink posts events as JSON to cfg.URL. The dial timeout bounds
// connection setup and the client timeout bounds the whole request.
func newWebhookSink(cfg WebhookConfig) *webhookSink {
	dialer := &net.Dialer{Timeout: msDuration(cfg.ConnectTimeoutMS)}
	return &webhookSink{
		url: cfg.URL,
		client: &http.Client{
			Timeout: msDuration(cfg.TimeoutMS),
			Transport: &http.Transport{
				DialContext:         dialer.DialContext,
				TLSHandshakeTimeout: msDuration(cfg.ConnectTimeoutMS),
				MaxIdleConns:        4,
				IdleConnTimeout:     30 * time.Second,
			},
		},
	}
}

func (w *webhookSink) Name() string { return "webhook" }

func (w *webhookSink) Deliver(ctx context.Context, ev OutboundEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook status %d", resp.StatusCode)
	}
	return nil
}

// ============================================================================
// Feedback
// ============================================================================

type feedbackClient struct {
	url    string
	client *http.Client
}

// newFeedbackClient builds a pulser issuing GET <url>?mode=<mode>.
func newFeedbackClient(cfg FeedbackConfig) (*feedbackClient, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse feedback url: %w", err)
	}
	q := u.Query()
	q.Set("mode", cfg.Mode)
	u.RawQuery = q.Encode()

	return &feedbackClient{
		url:    u.String(),
		client: &http.Client{Timeout: msDuration(cfg.TimeoutMS)},
	}, nil
}

func (f *feedbackClient) Pulse(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("feedback: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("feedback status %d", resp.StatusCode)
	}
	return nil
}

// ============================================================================
// Dispatcher
// ============================================================================

type DispatcherConfig struct {
	Sinks    []Sink
	Feedback Pulser // optional

	// MaxInFlight bounds concurrently running deliveries and pulses.
	MaxInFlight int64
	// Timeout bounds one delivery across all sinks.
	Timeout time.Duration
	// FeedbackTimeout bounds one pulse.
	FeedbackTimeout time.Duration

	Metrics *Metrics
	Logger  *slog.Logger
}

// Dispatcher runs deliveries on a bounded set of goroutines.
type Dispatcher struct {
	sinks    []Sink
	feedback Pulser

	sem             *semaphore.Weighted
	timeout         time.Duration
	feedbackTimeout time.Duration

	metrics *Metrics
	logger  *slog.Logger

	wg sync.WaitGroup
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	n := cfg.MaxInFlight
	if n <= 0 {
		n = defaultMaxInFlight
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = msDuration(defaultWebhookTimeoutMS)
	}
	fbTimeout := cfg.FeedbackTimeout
	if fbTimeout <= 0 {
		fbTimeout = msDuration(defaultFeedbackTimeoutMS)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = discardLogger()
	}
	return &Dispatcher{
		sinks:           cfg.Sinks,
		feedback:        cfg.Feedback,
		sem:             semaphore.NewWeighted(n),
		timeout:         timeout,
		feedbackTimeout: fbTimeout,
		metrics:         cfg.Metrics,
		logger:          logger,
	}
}

// Dispatch hands ev to every sink in the background. It never blocks and
// reports false when the delivery was dropped.
func (d *Dispatcher) Dispatch(ev OutboundEvent) bool {
	if !d.sem.TryAcquire(1) {
		d.metrics.Dropped()
		d.logger.Warn("dispatch pool saturated, dropping event", "action", ev.Action, "device_type", ev.DeviceType)
		return false
	}
	d.metrics.Dispatched()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.sem.Release(1)

		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		for _, s := range d.sinks {
			start := time.Now()
			if err := s.Deliver(ctx, ev); err != nil {
				d.metrics.DeliveryFailed()
				d.logger.Warn("delivery failed", "sink", s.Name(), "action", ev.Action, "device_type", ev.DeviceType, "error", err)
				continue
			}
			d.logger.Info("event delivered", "sink", s.Name(), "action", ev.Action, "device_type", ev.DeviceType, "took", time.Since(start).Round(time.Millisecond))
		}
	}()
	return true
}

// Pulse triggers one feedback pulse in the background. A nil feedback
// target is a no-op.
func (d *Dispatcher) Pulse() bool {
	if d.feedback == nil {
		return true
	}
	if !d.sem.TryAcquire(1) {
		d.metrics.Dropped()
		d.logger.Debug("dispatch pool saturated, dropping feedback pulse")
		return false
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.sem.Release(1)

		ctx, cancel := context.WithTimeout(context.Background(), d.feedbackTimeout)
		defer cancel()

		if err := d.feedback.Pulse(ctx); err != nil {
			d.metrics.FeedbackFailed()
			d.logger.Debug("feedback pulse failed", "error", err)
		}
	}()
	return true
}

// Wait blocks until all in-flight deliveries have finished.
func (d *Dispatcher) Wait() { d.wg.Wait() }

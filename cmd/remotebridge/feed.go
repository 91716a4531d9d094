package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ============================================================================
// Diagnostic feed: websocket hub + per-client pumps + broadcaster
// ============================================================================
//
// Read-only view of the bridge for dashboards and debugging:
//   - /ws/events  websocket stream of session, mode and dispatch events
//   - /metrics    JSON counters
//   - /healthz    liveness
//
// Frames are JSON text messages with an envelope: {type, ts, data}. The first
// frame after connect is "status" with a StatusSnapshot requested through the
// bridge loop. A client whose send buffer fills up is disconnected; the bridge
// loop never waits for the feed.
//
// ============================================================================

const (
	feedTypeStatus       = "status"
	feedTypeSessionState = "session_state"
	feedTypeModeChanged  = "mode_changed"
	feedTypeDispatched   = "action_dispatched"
)

// feedEnvelope is the wire format of every feed frame.
type feedEnvelope struct {
	Type string     `json:"type"`
	Ts   *time.Time `json:"ts,omitempty"`
	Data any        `json:"data,omitempty"`
}

type feedSessionStateData struct {
	Session int    `json:"session"`
	State   string `json:"state"`
}

type feedModeChangedData struct {
	Mode Mode `json:"mode"`
}

func marshalFrame(typ string, at time.Time, data any) ([]byte, error) {
	if at.IsZero() {
		at = time.Now()
	}
	at = at.UTC()
	return json.Marshal(feedEnvelope{Type: typ, Ts: &at, Data: data})
}

// ============================================================================
// Hub
// ============================================================================

// FeedHub fans frames out to connected websocket clients.
type FeedHub struct {
	logger *slog.Logger

	frames     chan []byte
	register   chan *feedClient
	unregister chan *feedClient

	mu      sync.Mutex
	clients map[*feedClient]struct{}

	sendBuf int
}

// NewFeedHub constructs a hub. Zero buffer sizes pick defaults.
func NewFeedHub(logger *slog.Logger, sendBuf, frameBuf int) *FeedHub {
	if sendBuf <= 0 {
		sendBuf = 32
	}
	if frameBuf <= 0 {
		frameBuf = 128
	}
	return &FeedHub{
		logger:     logger,
		frames:     make(chan []byte, frameBuf),
		register:   make(chan *feedClient, 16),
		unregister: make(chan *feedClient, 16),
		clients:    make(map[*feedClient]struct{}),
		sendBuf:    sendBuf,
	}
}

// Run processes hub events until ctx is canceled, then closes every client.
func (h *FeedHub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("feed client connected", "remote_addr", c.remoteAddr, "clients", n)

		case c := <-h.unregister:
			h.drop(c, "unregister")

		case frame := <-h.frames:
			// Collect slow clients under the lock, drop them after.
			var slow []*feedClient
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- frame:
				default:
					slow = append(slow, c)
				}
			}
			h.mu.Unlock()

			for _, c := range slow {
				h.drop(c, "slow_client")
			}
		}
	}
}

// Clients returns the number of connected clients.
func (h *FeedHub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Publish enqueues a serialized frame. It never blocks.
func (h *FeedHub) Publish(frame []byte) {
	select {
	case h.frames <- frame:
	default:
		h.logger.Warn("feed queue full, dropping frame", "bytes", len(frame))
	}
}

func (h *FeedHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.close()
		delete(h.clients, c)
	}
}

func (h *FeedHub) drop(c *feedClient, reason string) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		c.close()
		h.logger.Info("feed client disconnected", "remote_addr", c.remoteAddr, "reason", reason, "clients", n)
	}
}

// ============================================================================
// Client
// ============================================================================

const (
	feedWriteWait  = 5 * time.Second
	feedPongWait   = 30 * time.Second
	feedPingPeriod = 20 * time.Second
)

type feedClient struct {
	hub  *FeedHub
	conn *websocket.Conn
	send chan []byte

	remoteAddr string
	logger     *slog.Logger

	closeOnce sync.Once
}

func newFeedClient(hub *FeedHub, conn *websocket.Conn, remoteAddr string) *feedClient {
	return &feedClient{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, hub.sendBuf),
		remoteAddr: remoteAddr,
		logger:     hub.logger,
	}
}

// close signals writePump to exit and closes the connection.
func (c *feedClient) close() {
	c.closeOnce.Do(func() {
		close(c.send)
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
}

func (c *feedClient) logExit(pump string, err error) {
	if errors.Is(err, websocket.ErrCloseSent) {
		return
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		c.logger.Debug("feed "+pump+" exiting (close)", "remote_addr", c.remoteAddr, "code", ce.Code, "reason", ce.Text)
		return
	}
	c.logger.Debug("feed "+pump+" exiting", "remote_addr", c.remoteAddr, "error", err)
}

// writePump drains send into the connection and keeps it alive with pings.
func (c *feedClient) writePump() {
	ticker := time.NewTicker(feedPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logExit("writePump", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logExit("writePump", err)
				return
			}
		}
	}
}

// readPump discards inbound frames; it exists to observe pongs and closes.
func (c *feedClient) readPump() {
	_ = c.conn.SetReadDeadline(time.Now().Add(feedPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(feedPongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			c.logExit("readPump", err)
			c.hub.unregister <- c
			return
		}
	}
}

// ============================================================================
// HTTP handlers
// ============================================================================

// FeedServer serves the diagnostic endpoints.
type FeedServer struct {
	hub     *FeedHub
	events  chan<- Event // status requests go through the bridge loop
	metrics *Metrics
	logger  *slog.Logger
}

func NewFeedServer(hub *FeedHub, events chan<- Event, metrics *Metrics, logger *slog.Logger) *FeedServer {
	return &FeedServer{hub: hub, events: events, metrics: metrics, logger: logger}
}

// Register mounts the feed endpoints on mux.
func (s *FeedServer) Register(mux *http.ServeMux) {
	mux.HandleFunc("/ws/events", s.handleEvents)
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/healthz", s.handleHealth)
}

var feedUpgrader = websocket.Upgrader{
	// The feed is read-only and bound to a local address by default.
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (s *FeedServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := feedUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("feed upgrade failed", "error", err)
		return
	}

	client := newFeedClient(s.hub, conn, r.RemoteAddr)

	// The status frame is queued before the client is registered so it is
	// always the first frame the client sees.
	snap, err := requestStatus(r.Context(), s.events, time.Second)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			s.logger.Warn("feed status request failed", "error", err)
		}
		_ = conn.Close()
		return
	}
	if frame, err := marshalFrame(feedTypeStatus, time.Now(), snap); err == nil {
		client.send <- frame
	}

	s.hub.register <- client

	// Pumps outlive the handler; the request context is canceled on return.
	go client.writePump()
	go client.readPump()
}

func (s *FeedServer) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.metrics.Snapshot())
}

func (s *FeedServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintln(w, "ok")
}

// requestStatus asks the bridge loop for a snapshot and waits up to timeout.
func requestStatus(ctx context.Context, events chan<- Event, timeout time.Duration) (StatusSnapshot, error) {
	if events == nil {
		return StatusSnapshot{}, errors.New("no bridge loop")
	}
	if !hasControlHeadroom(events) {
		return StatusSnapshot{}, errBridgeBusy
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	reply := make(chan StatusSnapshot, 1)
	select {
	case events <- RequestStatus{Reply: reply}:
	case <-ctx.Done():
		return StatusSnapshot{}, ctx.Err()
	}

	select {
	case snap := <-reply:
		return snap, nil
	case <-ctx.Done():
		return StatusSnapshot{}, ctx.Err()
	}
}

// runFeedServer serves handler on addr and shuts down gracefully when ctx is
// canceled.
func runFeedServer(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("feed listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("feed server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("feed server shutdown: %w", err)
		}
		<-errCh
		return nil

	case err := <-errCh:
		return err
	}
}

// ============================================================================
// Broadcaster
// ============================================================================

// RunBroadcaster serializes bridge broadcasts and publishes them on the hub.
// It runs until ctx is canceled or src is closed.
func RunBroadcaster(ctx context.Context, hub *FeedHub, src <-chan StateBroadcast, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return

		case b, ok := <-src:
			if !ok {
				return
			}
			typ, at, data, ok := convertBroadcast(b)
			if !ok {
				continue
			}
			frame, err := marshalFrame(typ, at, data)
			if err != nil {
				logger.Warn("feed marshal failed", "type", typ, "error", err)
				continue
			}
			hub.Publish(frame)
		}
	}
}

func convertBroadcast(b StateBroadcast) (typ string, at time.Time, data any, ok bool) {
	switch ev := b.(type) {
	case BroadcastSessionState:
		return feedTypeSessionState, ev.At, feedSessionStateData{Session: ev.Session, State: ev.State.String()}, true
	case BroadcastModeChanged:
		return feedTypeModeChanged, ev.At, feedModeChangedData{Mode: ev.Mode}, true
	case BroadcastActionDispatched:
		return feedTypeDispatched, ev.At, ev.Event, true
	default:
		return "", time.Time{}, nil, false
	}
}

func broadcastType(b StateBroadcast) string {
	typ, _, _, ok := convertBroadcast(b)
	if !ok {
		return "unknown"
	}
	return typ
}

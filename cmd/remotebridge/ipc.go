package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"
)

// ============================================================================
// IPC Server - Unix Domain Socket Interface
// ============================================================================
// Local control surface for testing without the remote and for scripts.
//
// Protocol: Line-delimited JSON
//   - Client sends: {"type": "press", "data": {"code": "52"}}
//                   {"type": "release"}
//                   {"type": "status"}
//   - Server responds: {"status": "ok"} or {"status": "error", "error": "msg"}
//     status replies carry the snapshot in "data".
//
// Injected presses enter the same event channel as BLE notifications, so the
// bridge loop stays the single consumer. Requests are refused while that
// channel is more than half full.
// ============================================================================

const (
	ipcTypePress   = "press"
	ipcTypeRelease = "release"
	ipcTypeStatus  = "status"

	ipcHandle        = "ipc"
	ipcStatusTimeout = 2 * time.Second
)

// IPCRequest is one line sent by a client.
type IPCRequest struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type ipcPressData struct {
	Code string `json:"code"`
}

// IPCResponse is the reply to one request.
type IPCResponse struct {
	Status string          `json:"status"`          // "ok" or "error"
	Error  string          `json:"error,omitempty"` // set when status == "error"
	Data   *StatusSnapshot `json:"data,omitempty"`
}

// runIPCServer serves the socket until ctx is canceled.
func runIPCServer(ctx context.Context, socketPath string, events chan<- Event, logger *slog.Logger) error {
	if err := os.RemoveAll(socketPath); err != nil {
		return fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", socketPath, err)
	}
	defer listener.Close()
	defer os.Remove(socketPath)

	if err := os.Chmod(socketPath, 0o660); err != nil {
		return fmt.Errorf("chmod socket: %w", err)
	}

	logger.Info("IPC listening", "socket", socketPath)

	// Closing the listener unblocks Accept.
	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				logger.Debug("IPC listener closed")
				return nil
			}
			logger.Error("IPC accept error", "error", err)
			continue
		}
		go handleIPCConnection(ctx, conn, events, logger)
	}
}

func handleIPCConnection(ctx context.Context, conn net.Conn, events chan<- Event, logger *slog.Logger) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	encoder := json.NewEncoder(conn)

	for scanner.Scan() {
		line := scanner.Bytes()
		logger.Debug("IPC received", "line", string(line))

		resp := handleIPCRequest(ctx, line, events)
		if err := encoder.Encode(resp); err != nil {
			logger.Error("IPC failed to send response", "error", err)
			return
		}
	}
}

func handleIPCRequest(ctx context.Context, line []byte, events chan<- Event) IPCResponse {
	var req IPCRequest
	if err := json.Unmarshal(line, &req); err != nil {
		return ipcError(fmt.Errorf("parse request: %w", err))
	}

	switch req.Type {
	case ipcTypePress:
		var d ipcPressData
		if err := json.Unmarshal(req.Data, &d); err != nil {
			return ipcError(fmt.Errorf("parse press: %w", err))
		}
		code, err := ParseCommandCode(d.Code)
		if err != nil {
			return ipcError(err)
		}
		return enqueueIPC(events, Notification{Handle: ipcHandle, Command: code, At: time.Now()})

	case ipcTypeRelease:
		return enqueueIPC(events, Notification{Handle: ipcHandle, Command: releaseCode, At: time.Now()})

	case ipcTypeStatus:
		snap, err := requestStatus(ctx, events, ipcStatusTimeout)
		if err != nil {
			return ipcError(fmt.Errorf("status: %w", err))
		}
		return IPCResponse{Status: "ok", Data: &snap}

	default:
		return ipcError(fmt.Errorf("unknown request type %q", req.Type))
	}
}

func enqueueIPC(events chan<- Event, ev Event) IPCResponse {
	if !hasControlHeadroom(events) {
		return ipcError(errBridgeBusy)
	}
	select {
	case events <- ev:
		return IPCResponse{Status: "ok"}
	default:
		return ipcError(errors.New("event queue full"))
	}
}

func ipcError(err error) IPCResponse {
	return IPCResponse{Status: "error", Error: err.Error()}
}

// ============================================================================
// IPC Client
// ============================================================================

// SendIPC sends requests over one connection and returns the last response.
// It stops at the first error reply.
func SendIPC(socketPath string, reqs ...IPCRequest) (IPCResponse, error) {
	conn, err := net.DialTimeout("unix", socketPath, 2*time.Second)
	if err != nil {
		return IPCResponse{}, fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	encoder := json.NewEncoder(conn)
	decoder := json.NewDecoder(conn)

	var resp IPCResponse
	for _, req := range reqs {
		if err := encoder.Encode(req); err != nil {
			return IPCResponse{}, fmt.Errorf("send %s: %w", req.Type, err)
		}
		resp = IPCResponse{}
		if err := decoder.Decode(&resp); err != nil {
			return IPCResponse{}, fmt.Errorf("decode response: %w", err)
		}
		if resp.Status != "ok" {
			return resp, fmt.Errorf("ipc error: %s", resp.Error)
		}
	}
	return resp, nil
}

// pressRequests builds the press/release pair for one button tap.
func pressRequests(code string) []IPCRequest {
	data, _ := json.Marshal(ipcPressData{Code: code})
	return []IPCRequest{
		{Type: ipcTypePress, Data: data},
		{Type: ipcTypeRelease},
	}
}

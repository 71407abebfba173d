// Package ipc carries the command surface over a unix socket as JSON
// request/response pairs, one exchange per connection.
package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"runtime"
)

// DefaultSocketPath is the daemon's socket on Unix systems.
const DefaultSocketPath = "/tmp/cliped.sock"

// Handler answers one decoded request.
type Handler func(*Request) *Response

// SendRequest connects to the daemon, sends one request and returns the
// response.
func SendRequest(socketPath string, req *Request) (*Response, error) {
	if runtime.GOOS == "windows" {
		return nil, errors.New("IPC not implemented for Windows yet")
	}
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to daemon: %w", err)
	}
	defer conn.Close()

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &resp, nil
}

// ListenAndServe serves requests on the unix socket until ctx is
// cancelled. A stale socket from a previous run is removed first.
func ListenAndServe(ctx context.Context, socketPath string, handler Handler) error {
	if runtime.GOOS == "windows" {
		return errors.New("IPC server not implemented for Windows yet")
	}
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}

	os.Remove(socketPath)
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on socket: %w", err)
	}
	defer ln.Close()
	defer os.Remove(socketPath)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				continue
			}
		}
		go handleConn(conn, handler)
	}
}

func handleConn(conn net.Conn, handler Handler) {
	defer conn.Close()
	dec := json.NewDecoder(conn)
	enc := json.NewEncoder(conn)

	var req Request
	if err := dec.Decode(&req); err != nil {
		enc.Encode(&Response{Status: "error", Message: "invalid request: " + err.Error()})
		return
	}
	enc.Encode(handler(&req))
}

// Package sync implements device synchronization: UDP discovery, the
// connection handshake, and propagation of clipboard entries and file
// payloads between connected devices.
package sync

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/berrythewa/cliped-daemon/internal/types"
)

var (
	// ErrIntegrity reports a received file whose content hash does not
	// match the sender's advertised hash. The transfer is discarded.
	ErrIntegrity = errors.New("file integrity check failed")

	// ErrUnreachable reports a peer that did not respond to a network
	// send within the bounded timeout.
	ErrUnreachable = errors.New("peer unreachable")

	errMessageTooLarge = errors.New("message exceeds size limit")
)

// writeMessage encodes msg as a single JSON line and flushes it.
func writeMessage(w *bufio.Writer, msg *types.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	if len(data) >= types.MaxMessageSize {
		return errMessageTooLarge
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	if err := w.WriteByte('\n'); err != nil {
		return err
	}
	return w.Flush()
}

// readMessage reads one JSON line. The reader's buffer bounds the line
// length, so an oversized message from a misbehaving peer surfaces as
// bufio.ErrBufferFull instead of unbounded allocation.
func readMessage(r *bufio.Reader) (*types.Message, error) {
	line, err := r.ReadSlice('\n')
	if err != nil {
		if errors.Is(err, bufio.ErrBufferFull) {
			return nil, errMessageTooLarge
		}
		return nil, err
	}
	var msg types.Message
	if err := json.Unmarshal(line, &msg); err != nil {
		return nil, fmt.Errorf("malformed message: %w", err)
	}
	return &msg, nil
}

// sendOneShot dials addr, delivers a single message and closes. Used for
// handshake traffic, which is connectionless by design: the persistent
// channel only exists once both sides are Connected.
func sendOneShot(addr string, msg *types.Message, timeout time.Duration) error {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer conn.Close()

	if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	if err := writeMessage(bufio.NewWriter(conn), msg); err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	return nil
}

package sync

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"strconv"

	"github.com/berrythewa/cliped-daemon/internal/storage"
	"github.com/berrythewa/cliped-daemon/internal/types"

	"go.uber.org/zap"
)

// acceptLoop hands each inbound connection to its own goroutine. A single
// connection carries either one handshake message or a peer's entry
// stream; the dispatch loop handles both.
func (e *Engine) acceptLoop(ctx context.Context) {
	defer e.wg.Done()

	for {
		conn, err := e.ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				e.logger.Warn("Accept failed", zap.Error(err))
				return
			}
		}
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.handleConn(ctx, conn)
		}()
	}
}

func (e *Engine) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	// Unblock the read loop when the engine shuts down.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	remoteIP := ""
	if addr, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		remoteIP = addr.IP.String()
	}

	r := bufio.NewReaderSize(conn, types.MaxMessageSize)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msg, err := readMessage(r)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				e.logger.Warn("Dropping stream",
					zap.String("remote", remoteIP), zap.Error(err))
			}
			return
		}
		if msg.DeviceID == "" || msg.DeviceID == e.registry.Local().ID {
			continue
		}
		e.dispatch(r, remoteIP, msg)
	}
}

// dispatch routes one inbound message. Handshake messages mutate the
// registry; entry and file messages require an established relationship
// and feed the store.
func (e *Engine) dispatch(r *bufio.Reader, remoteIP string, msg *types.Message) {
	switch msg.Type {
	case types.MsgConnectRequest:
		e.handleConnectRequest(remoteIP, msg)

	case types.MsgConnectAccept:
		dev, err := e.registry.MarkAccepted(msg.DeviceID)
		if err != nil {
			// Unsolicited accept; nothing was pending.
			e.logger.Warn("Ignoring unexpected accept",
				zap.String("device_id", msg.DeviceID), zap.Error(err))
			return
		}
		e.attachPeer(dev)

	case types.MsgConnectDeny:
		e.registry.MarkDenied(msg.DeviceID)

	case types.MsgDisconnect:
		e.detachPeer(msg.DeviceID)
		e.registry.Disconnect(msg.DeviceID)

	case types.MsgEntry:
		if !e.fromConnected(msg.DeviceID) || msg.Entry == nil {
			return
		}
		e.applyEntry(msg.DeviceID, msg.Entry)

	case types.MsgFileOffer:
		if !e.fromConnected(msg.DeviceID) || msg.Entry == nil {
			return
		}
		entry, err := e.receiveFile(r, msg)
		if err != nil {
			e.logger.Warn("File transfer failed",
				zap.String("device_id", msg.DeviceID), zap.Error(err))
			return
		}
		e.applyEntry(msg.DeviceID, entry)

	default:
		e.logger.Debug("Ignoring unknown message type",
			zap.String("type", string(msg.Type)))
	}
}

func (e *Engine) handleConnectRequest(remoteIP string, msg *types.Message) {
	dev := types.Device{
		ID:   msg.DeviceID,
		Name: msg.DeviceName,
		Addr: net.JoinHostPort(remoteIP, strconv.Itoa(msg.SyncPort)),
	}
	auto, err := e.registry.HandleIncomingRequest(dev)
	if err != nil {
		e.logger.Warn("Connection request rejected",
			zap.String("device_id", dev.ID), zap.Error(err))
		return
	}
	if !auto {
		return
	}

	// Crossed requests: this side resolved them by auto-accepting, so
	// finish the handshake as if the user had accepted.
	if err := sendOneShot(dev.Addr, e.handshake(types.MsgConnectAccept), e.cfg.SendTimeout); err != nil {
		e.logger.Warn("Auto-accept undeliverable",
			zap.String("device_id", dev.ID), zap.Error(err))
		e.registry.Disconnect(dev.ID)
		return
	}
	dev.Status = types.StatusConnected
	e.attachPeer(dev)
}

// fromConnected reports whether sync traffic from the given device is
// allowed. Entries from devices without an established relationship are
// dropped.
func (e *Engine) fromConnected(id string) bool {
	dev, err := e.registry.Get(id)
	if err != nil || dev.Status != types.StatusConnected {
		e.logger.Warn("Rejecting sync traffic from unconnected device",
			zap.String("device_id", id))
		return false
	}
	return true
}

// applyEntry lands a remote entry in the local store and, for text,
// pushes it into the OS clipboard. Identity is recomputed locally so a
// misbehaving peer cannot poison dedup.
func (e *Engine) applyEntry(from string, entry *types.ClipboardEntry) {
	entry.ID = entry.DeriveID()
	if entry.Origin == "" {
		entry.Origin = from
	}

	err := e.store.Append(entry)
	if errors.Is(err, storage.ErrDuplicateEntry) {
		return
	}
	if err != nil {
		e.logger.Error("Failed to store remote entry", zap.Error(err))
		return
	}

	e.logger.Debug("Remote entry applied",
		zap.String("id", entry.ID),
		zap.String("origin", entry.Origin))

	if entry.Type == types.TypeText && e.applyText != nil {
		if err := e.applyText(entry.Content); err != nil {
			e.logger.Warn("Failed to write system clipboard", zap.Error(err))
		}
	}
}

package sync

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/berrythewa/cliped-daemon/internal/device"
	"github.com/berrythewa/cliped-daemon/internal/storage"
	"github.com/berrythewa/cliped-daemon/internal/types"

	"go.uber.org/zap"
)

// EngineConfig configures the sync engine.
type EngineConfig struct {
	// ListenAddr is the TCP listen address, e.g. ":51848". Port zero lets
	// the kernel pick; Port() reports the bound port after Start.
	ListenAddr string

	// QueueSize bounds each peer's outbound queue. A peer whose queue
	// fills is treated as failed and disconnected.
	QueueSize int

	// SendTimeout bounds dials and individual writes.
	SendTimeout time.Duration

	// DownloadsDir receives completed file transfers.
	DownloadsDir string

	// TotalSync replays the full history to a newly connected peer
	// instead of only forwarding entries from that point on.
	TotalSync bool
}

// Engine moves clipboard entries between connected devices. It owns the
// TCP listener, one outbound worker per connected peer, and the file
// transfer protocol. All relationship state lives in the registry; the
// engine only acts on it.
type Engine struct {
	registry *device.Registry
	store    *storage.BoltStore
	cfg      EngineConfig
	logger   *zap.Logger

	// applyText pushes remote text entries into the OS clipboard.
	// Optional; nil when clipboard integration is disabled.
	applyText func(string) error

	mu      sync.Mutex
	ln      net.Listener
	peers   map[string]*peer
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// peer is one connected device's outbound side.
type peer struct {
	device types.Device
	queue  chan *types.Message
	cancel context.CancelFunc
}

// NewEngine creates a sync engine. Start must be called before any
// network activity happens.
func NewEngine(registry *device.Registry, store *storage.BoltStore, cfg EngineConfig, logger *zap.Logger) *Engine {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		registry: registry,
		store:    store,
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "sync")),
		peers:    make(map[string]*peer),
	}
}

// SetClipboardWriter installs the callback that applies remote text
// entries to the OS clipboard. Must be called before Start.
func (e *Engine) SetClipboardWriter(fn func(string) error) {
	e.applyText = fn
}

// Start binds the TCP listener and begins accepting peer traffic and
// watching the store for locally added entries to broadcast.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return nil
	}

	addr := e.cfg.ListenAddr
	if addr == "" {
		addr = ":51848"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind sync listener %s: %w", addr, err)
	}
	e.ln = ln

	ctx, e.cancel = context.WithCancel(ctx)
	e.started = true

	e.wg.Add(2)
	go e.acceptLoop(ctx)
	go e.watchStore(ctx)

	e.logger.Info("Sync engine started", zap.String("addr", ln.Addr().String()))
	return nil
}

// Stop closes the listener and every peer channel.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	e.started = false
	e.cancel()
	e.ln.Close()
	for id, p := range e.peers {
		p.cancel()
		delete(e.peers, id)
	}
	e.mu.Unlock()

	e.wg.Wait()
	e.logger.Info("Sync engine stopped")
}

// Port returns the bound listener port.
func (e *Engine) Port() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ln == nil {
		return 0
	}
	return e.ln.Addr().(*net.TCPAddr).Port
}

// Addr returns the bound listener address.
func (e *Engine) Addr() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ln == nil {
		return ""
	}
	return e.ln.Addr().String()
}

// RequestConnection sends a connection request to a discovered device.
// The device moves to PendingOutgoing and stays there until the peer's
// user answers; an unreachable peer fails immediately with ErrUnreachable
// and the device reverts to Discovered.
func (e *Engine) RequestConnection(id string) error {
	dev, err := e.registry.MarkPendingOutgoing(id)
	if err != nil {
		return err
	}

	if err := sendOneShot(dev.Addr, e.handshake(types.MsgConnectRequest), e.cfg.SendTimeout); err != nil {
		e.logger.Warn("Connection request undeliverable",
			zap.String("device_id", id), zap.Error(err))
		e.registry.Disconnect(id)
		e.registry.UpsertDiscovered(dev)
		return err
	}

	e.logger.Info("Connection request sent", zap.String("device_id", id))
	return nil
}

// AcceptConnection accepts a pending incoming request, notifies the peer
// and opens the persistent sync channel.
func (e *Engine) AcceptConnection(id string) error {
	dev, err := e.registry.Accept(id)
	if err != nil {
		return err
	}

	if err := sendOneShot(dev.Addr, e.handshake(types.MsgConnectAccept), e.cfg.SendTimeout); err != nil {
		// The requester vanished between asking and our answer.
		e.registry.Disconnect(id)
		return err
	}

	e.attachPeer(dev)
	return nil
}

// DenyConnection denies a pending incoming request and drops the device.
// Notification is best effort: a vanished requester does not block the
// local decision.
func (e *Engine) DenyConnection(id string) error {
	dev, err := e.registry.Deny(id)
	if err != nil {
		return err
	}

	if err := sendOneShot(dev.Addr, e.handshake(types.MsgConnectDeny), e.cfg.SendTimeout); err != nil {
		e.logger.Debug("Deny notification undeliverable",
			zap.String("device_id", id), zap.Error(err))
	}
	return nil
}

// RemoveDevice drops a device on user request, closing its sync channel
// and telling the peer so both sides agree.
func (e *Engine) RemoveDevice(id string) error {
	dev, err := e.registry.Remove(id)
	if err != nil {
		return err
	}
	e.detachPeer(id)

	if dev.Status == types.StatusConnected {
		if err := sendOneShot(dev.Addr, e.handshake(types.MsgDisconnect), e.cfg.SendTimeout); err != nil {
			e.logger.Debug("Disconnect notification undeliverable",
				zap.String("device_id", id), zap.Error(err))
		}
	}
	return nil
}

// Broadcast queues an entry for every connected peer except its origin.
// Dedup on the receiving side makes redundant paths safe.
func (e *Engine) Broadcast(entry *types.ClipboardEntry) {
	e.mu.Lock()
	targets := make([]*peer, 0, len(e.peers))
	for id, p := range e.peers {
		if id == entry.Origin {
			continue
		}
		targets = append(targets, p)
	}
	e.mu.Unlock()

	for _, p := range targets {
		e.enqueue(p, e.entryMessage(entry))
	}
}

func (e *Engine) entryMessage(entry *types.ClipboardEntry) *types.Message {
	local := e.registry.Local()
	msg := &types.Message{
		Type:     types.MsgEntry,
		DeviceID: local.ID,
		Entry:    entry,
	}
	if entry.Type == types.TypeFile {
		msg.Type = types.MsgFileOffer
	}
	return msg
}

func (e *Engine) handshake(t types.MessageType) *types.Message {
	local := e.registry.Local()
	return &types.Message{
		Type:       t,
		DeviceID:   local.ID,
		DeviceName: local.Name,
		SyncPort:   e.Port(),
	}
}

// enqueue delivers a message to a peer's queue without blocking. A full
// queue means the peer worker has stalled; the peer is failed rather than
// letting one slow device hold up the rest.
func (e *Engine) enqueue(p *peer, msg *types.Message) {
	select {
	case p.queue <- msg:
	default:
		e.logger.Warn("Peer queue full, disconnecting",
			zap.String("device_id", p.device.ID))
		e.failPeer(p.device.ID)
	}
}

// attachPeer starts the outbound worker for a newly connected device.
func (e *Engine) attachPeer(dev types.Device) {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	if _, ok := e.peers[dev.ID]; ok {
		e.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &peer{
		device: dev,
		queue:  make(chan *types.Message, e.cfg.QueueSize),
		cancel: cancel,
	}
	e.peers[dev.ID] = p
	e.wg.Add(1)
	e.mu.Unlock()

	go e.peerLoop(ctx, p)

	if e.cfg.TotalSync {
		e.replayHistory(p)
	}
}

// detachPeer stops a peer worker without touching the registry.
func (e *Engine) detachPeer(id string) {
	e.mu.Lock()
	p, ok := e.peers[id]
	if ok {
		delete(e.peers, id)
	}
	e.mu.Unlock()
	if ok {
		p.cancel()
	}
}

// failPeer stops a peer worker and records the device as Disconnected.
func (e *Engine) failPeer(id string) {
	e.detachPeer(id)
	e.registry.Disconnect(id)
}

// peerLoop owns one peer's persistent connection: dial once, then drain
// the queue until cancellation or a send failure.
func (e *Engine) peerLoop(ctx context.Context, p *peer) {
	defer e.wg.Done()

	conn, err := net.DialTimeout("tcp", p.device.Addr, e.cfg.SendTimeout)
	if err != nil {
		e.logger.Warn("Failed to open sync channel",
			zap.String("device_id", p.device.ID),
			zap.String("addr", p.device.Addr),
			zap.Error(err))
		e.failPeer(p.device.ID)
		return
	}
	defer conn.Close()

	w := bufio.NewWriter(conn)
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-p.queue:
			conn.SetWriteDeadline(time.Now().Add(e.cfg.SendTimeout))
			var err error
			if msg.Type == types.MsgFileOffer {
				err = e.sendFile(conn, w, msg)
			} else {
				err = writeMessage(w, msg)
			}
			if err != nil {
				e.logger.Warn("Sync send failed",
					zap.String("device_id", p.device.ID),
					zap.Error(err))
				e.failPeer(p.device.ID)
				return
			}
		}
	}
}

// replayHistory queues the full history to a peer, oldest first so the
// peer ends up with the same LIFO order.
func (e *Engine) replayHistory(p *peer) {
	entries, err := e.store.Page(0, e.store.Count())
	if err != nil {
		e.logger.Warn("History replay failed", zap.Error(err))
		return
	}
	for i := len(entries) - 1; i >= 0; i-- {
		entry := entries[i]
		e.enqueue(p, e.entryMessage(&entry))
	}
}

// watchStore broadcasts every entry added to the local store. Entries of
// remote origin are re-broadcast too (minus the origin), which propagates
// across partially connected topologies; receiver dedup absorbs the
// redundant copies.
func (e *Engine) watchStore(ctx context.Context) {
	defer e.wg.Done()

	events := e.store.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			if ev.Kind == types.EventEntryAdded && ev.Entry != nil {
				e.Broadcast(ev.Entry)
			}
		}
	}
}

package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/berrythewa/cliped-daemon/internal/device"
	"github.com/berrythewa/cliped-daemon/internal/types"

	"go.uber.org/zap"
)

const maxDatagramSize = 2048

// DiscoveryConfig configures the UDP discovery service.
type DiscoveryConfig struct {
	// Port is the UDP port the responder listens on and probes target.
	Port int

	// SyncPort is advertised in announcements so peers know where to
	// dial for handshake and sync traffic.
	SyncPort int

	// Window is how long Discover collects replies before returning.
	Window time.Duration

	// Interval between periodic discovery sweeps. Zero disables them;
	// Discover can still be called on demand.
	Interval time.Duration

	// BroadcastAddrs overrides the computed broadcast targets. Empty
	// means broadcast on every interface's IPv4 subnet.
	BroadcastAddrs []string
}

// Discovery announces the local device and collects announcements from
// peers on the same network. Every device runs both roles: a responder
// answering probes on a fixed port, and a prober sweeping the subnet.
type Discovery struct {
	registry *device.Registry
	cfg      DiscoveryConfig
	logger   *zap.Logger

	mu      sync.Mutex
	conn    *net.UDPConn
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// NewDiscovery creates the discovery service. Start must be called before
// the device is visible to peers.
func NewDiscovery(registry *device.Registry, cfg DiscoveryConfig, logger *zap.Logger) *Discovery {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Discovery{
		registry: registry,
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "discovery")),
	}
}

// Start binds the responder socket and, when an interval is configured,
// begins the periodic discovery cycle.
func (d *Discovery) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return nil
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: d.cfg.Port})
	if err != nil {
		return fmt.Errorf("failed to bind discovery port %d: %w", d.cfg.Port, err)
	}
	d.conn = conn

	ctx, d.cancel = context.WithCancel(ctx)
	d.started = true

	d.wg.Add(1)
	go d.serve(ctx)

	if d.cfg.Interval > 0 {
		d.wg.Add(1)
		go d.cycle(ctx)
	}

	d.logger.Info("Discovery started", zap.Int("port", d.cfg.Port))
	return nil
}

// Stop shuts down the responder and the periodic cycle.
func (d *Discovery) Stop() {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return
	}
	d.started = false
	d.cancel()
	d.conn.Close()
	d.mu.Unlock()

	d.wg.Wait()
	d.logger.Info("Discovery stopped")
}

// Port returns the bound responder port. Useful when configured with port
// zero and the kernel picked one.
func (d *Discovery) Port() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn == nil {
		return d.cfg.Port
	}
	return d.conn.LocalAddr().(*net.UDPAddr).Port
}

// Discover probes the local network and collects replies for the
// configured window. Discovered devices are recorded in the registry and
// returned. No peers on the network is an empty result, not an error.
func (d *Discovery) Discover(ctx context.Context) ([]types.Device, error) {
	local := d.registry.Local()

	sock, err := net.ListenUDP("udp4", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open probe socket: %w", err)
	}
	defer sock.Close()

	probe := types.Message{
		Type:       types.MsgDiscover,
		DeviceID:   local.ID,
		DeviceName: local.Name,
		SyncPort:   d.cfg.SyncPort,
	}
	payload, err := json.Marshal(&probe)
	if err != nil {
		return nil, err
	}

	targets := d.cfg.BroadcastAddrs
	if len(targets) == 0 {
		targets = broadcastTargets(d.cfg.Port)
	}
	for _, target := range targets {
		addr, err := net.ResolveUDPAddr("udp4", target)
		if err != nil {
			continue
		}
		if _, err := sock.WriteToUDP(payload, addr); err != nil {
			d.logger.Debug("Probe send failed",
				zap.String("target", target), zap.Error(err))
		}
	}

	deadline := time.Now().Add(d.cfg.Window)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	if err := sock.SetReadDeadline(deadline); err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var found []types.Device
	buf := make([]byte, maxDatagramSize)
	for {
		n, from, err := sock.ReadFromUDP(buf)
		if err != nil {
			// Window elapsed; whatever we collected is the result.
			break
		}
		var msg types.Message
		if err := json.Unmarshal(buf[:n], &msg); err != nil {
			d.logger.Debug("Discarding malformed discovery reply", zap.Error(err))
			continue
		}
		if msg.Type != types.MsgDiscoverReply || msg.DeviceID == local.ID || seen[msg.DeviceID] {
			continue
		}
		seen[msg.DeviceID] = true

		dev := types.Device{
			ID:   msg.DeviceID,
			Name: msg.DeviceName,
			Addr: net.JoinHostPort(from.IP.String(), fmt.Sprintf("%d", msg.SyncPort)),
		}
		d.registry.UpsertDiscovered(dev)
		found = append(found, dev)
	}

	d.logger.Debug("Discovery sweep complete", zap.Int("found", len(found)))
	return found, nil
}

// serve answers discovery probes from peers.
func (d *Discovery) serve(ctx context.Context) {
	defer d.wg.Done()

	local := d.registry.Local()
	buf := make([]byte, maxDatagramSize)
	for {
		n, from, err := d.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				d.logger.Warn("Discovery read failed", zap.Error(err))
				return
			}
		}

		var msg types.Message
		if err := json.Unmarshal(buf[:n], &msg); err != nil {
			continue
		}
		if msg.Type != types.MsgDiscover || msg.DeviceID == local.ID {
			continue
		}

		// The prober is also a live device; record it so discovery is
		// symmetric even when only one side sweeps.
		d.registry.UpsertDiscovered(types.Device{
			ID:   msg.DeviceID,
			Name: msg.DeviceName,
			Addr: net.JoinHostPort(from.IP.String(), fmt.Sprintf("%d", msg.SyncPort)),
		})

		reply := types.Message{
			Type:       types.MsgDiscoverReply,
			DeviceID:   local.ID,
			DeviceName: d.registry.Local().Name,
			SyncPort:   d.cfg.SyncPort,
		}
		payload, err := json.Marshal(&reply)
		if err != nil {
			continue
		}
		if _, err := d.conn.WriteToUDP(payload, from); err != nil {
			d.logger.Debug("Discovery reply failed",
				zap.String("to", from.String()), zap.Error(err))
		}
	}
}

func (d *Discovery) cycle(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.Discover(ctx); err != nil {
				d.logger.Warn("Periodic discovery failed", zap.Error(err))
			}
		}
	}
}

// broadcastTargets returns the directed broadcast address of every IPv4
// interface subnet, plus the limited broadcast address.
func broadcastTargets(port int) []string {
	targets := []string{fmt.Sprintf("255.255.255.255:%d", port)}

	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return targets
	}
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		ip := ipnet.IP.To4()
		if ip == nil || ip.IsLoopback() {
			continue
		}
		bcast := make(net.IP, len(ip))
		for i := range ip {
			bcast[i] = ip[i] | ^ipnet.Mask[i]
		}
		targets = append(targets, fmt.Sprintf("%s:%d", bcast, port))
	}
	return targets
}

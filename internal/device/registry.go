// Package device owns device identity and the handshake state machine.
// Every status transition goes through the registry, which rejects illegal
// transitions instead of trusting callers.
package device

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/berrythewa/cliped-daemon/internal/types"

	"go.uber.org/zap"
)

var (
	// ErrNotFound reports an operation on an unknown device id.
	ErrNotFound = errors.New("device not found")

	// ErrInvalidState reports a handshake operation attempted in the
	// wrong state, e.g. accepting a device that never sent a request.
	ErrInvalidState = errors.New("invalid device state")

	// ErrInvalidName rejects empty or whitespace-only device names.
	ErrInvalidName = errors.New("invalid device name")
)

const eventBuffer = 16

// Registry tracks the local device and every known remote device. A device
// holds exactly one status at a time; Disconnected devices are dropped
// entirely so rediscovery starts fresh.
type Registry struct {
	mu      sync.RWMutex
	local   types.Device
	devices map[string]types.Device
	logger  *zap.Logger

	subsMu sync.Mutex
	subs   []chan types.Event
}

// NewRegistry creates a registry around the local device identity.
func NewRegistry(local types.Device, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	local.Status = types.StatusConnected
	local.LastSeen = time.Now()
	return &Registry{
		local:   local,
		devices: make(map[string]types.Device),
		logger:  logger.With(zap.String("component", "registry")),
	}
}

// Local returns this installation's own identity.
func (r *Registry) Local() types.Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.local
}

// Rename updates the local device's display name.
func (r *Registry) Rename(name string) error {
	if strings.TrimSpace(name) == "" {
		return ErrInvalidName
	}
	r.mu.Lock()
	r.local.Name = name
	r.mu.Unlock()
	r.logger.Info("Local device renamed", zap.String("name", name))
	return nil
}

// Get returns the device with the given id.
func (r *Registry) Get(id string) (types.Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	dev, ok := r.devices[id]
	if !ok {
		return types.Device{}, ErrNotFound
	}
	return dev, nil
}

// UpsertDiscovered records a device reported by the discovery service.
// Unknown devices are inserted as Discovered; known Discovered devices get
// a last-seen refresh. Discovery never regresses an established
// relationship, so Pending and Connected devices are left untouched.
func (r *Registry) UpsertDiscovered(dev types.Device) {
	if dev.ID == r.Local().ID {
		return
	}

	r.mu.Lock()
	existing, known := r.devices[dev.ID]
	if known && existing.Status != types.StatusDiscovered {
		existing.LastSeen = time.Now()
		r.devices[dev.ID] = existing
		r.mu.Unlock()
		return
	}

	dev.Status = types.StatusDiscovered
	dev.LastSeen = time.Now()
	r.devices[dev.ID] = dev
	r.mu.Unlock()

	if !known {
		r.logger.Debug("Device discovered",
			zap.String("device_id", dev.ID),
			zap.String("name", dev.Name),
			zap.String("addr", dev.Addr))
		r.publish(types.Event{Kind: types.EventDeviceDiscovered, Device: &dev})
	}
}

// MarkPendingOutgoing transitions a Discovered device to PendingOutgoing,
// the state held while waiting for the peer's user to answer our request.
func (r *Registry) MarkPendingOutgoing(id string) (types.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	dev, ok := r.devices[id]
	if !ok {
		return types.Device{}, ErrNotFound
	}
	if dev.Status != types.StatusDiscovered {
		return types.Device{}, ErrInvalidState
	}
	dev.Status = types.StatusPendingOutgoing
	r.devices[id] = dev
	return dev, nil
}

// HandleIncomingRequest records a connection request received from the
// network. The returned flag is true when both sides requested each other
// concurrently and this side must complete the handshake immediately: the
// device with the smaller id auto-accepts, giving a single Connected pair
// with no duplicate channels.
func (r *Registry) HandleIncomingRequest(dev types.Device) (autoAccept bool, err error) {
	r.mu.Lock()

	existing, known := r.devices[dev.ID]
	if known {
		switch existing.Status {
		case types.StatusConnected, types.StatusPendingIncoming:
			// Duplicate or replayed request: idempotent no-op.
			r.mu.Unlock()
			return false, nil
		case types.StatusPendingOutgoing:
			if r.local.ID < dev.ID {
				existing.Status = types.StatusConnected
				existing.LastSeen = time.Now()
				r.devices[dev.ID] = existing
				r.mu.Unlock()
				r.logger.Info("Concurrent connection requests resolved",
					zap.String("device_id", dev.ID))
				r.publish(types.Event{Kind: types.EventConnectionAccepted, Device: &existing})
				return true, nil
			}
			// The peer has the smaller id and will auto-accept; we stay
			// PendingOutgoing until its accept arrives.
			r.mu.Unlock()
			return false, nil
		}
	}

	dev.Status = types.StatusPendingIncoming
	dev.LastSeen = time.Now()
	r.devices[dev.ID] = dev
	r.mu.Unlock()

	r.logger.Info("Connection request received",
		zap.String("device_id", dev.ID),
		zap.String("name", dev.Name))
	r.publish(types.Event{Kind: types.EventConnectionRequest, Device: &dev})
	return false, nil
}

// Accept transitions a PendingIncoming device to Connected.
func (r *Registry) Accept(id string) (types.Device, error) {
	r.mu.Lock()
	dev, ok := r.devices[id]
	if !ok {
		r.mu.Unlock()
		return types.Device{}, ErrNotFound
	}
	if dev.Status != types.StatusPendingIncoming {
		r.mu.Unlock()
		return types.Device{}, ErrInvalidState
	}
	dev.Status = types.StatusConnected
	dev.LastSeen = time.Now()
	r.devices[id] = dev
	r.mu.Unlock()

	r.logger.Info("Connection accepted", zap.String("device_id", id))
	return dev, nil
}

// Deny drops a PendingIncoming device from the registry entirely. The
// requester must rediscover to retry, so no stale pending state lingers.
func (r *Registry) Deny(id string) (types.Device, error) {
	r.mu.Lock()
	dev, ok := r.devices[id]
	if !ok {
		r.mu.Unlock()
		return types.Device{}, ErrNotFound
	}
	if dev.Status != types.StatusPendingIncoming {
		r.mu.Unlock()
		return types.Device{}, ErrInvalidState
	}
	delete(r.devices, id)
	r.mu.Unlock()

	r.logger.Info("Connection denied", zap.String("device_id", id))
	return dev, nil
}

// MarkAccepted completes an outbound handshake: the peer accepted our
// request, so PendingOutgoing becomes Connected.
func (r *Registry) MarkAccepted(id string) (types.Device, error) {
	r.mu.Lock()
	dev, ok := r.devices[id]
	if !ok {
		r.mu.Unlock()
		return types.Device{}, ErrNotFound
	}
	if dev.Status != types.StatusPendingOutgoing {
		r.mu.Unlock()
		return types.Device{}, ErrInvalidState
	}
	dev.Status = types.StatusConnected
	dev.LastSeen = time.Now()
	r.devices[id] = dev
	r.mu.Unlock()

	r.logger.Info("Connection request accepted by peer", zap.String("device_id", id))
	r.publish(types.Event{Kind: types.EventConnectionAccepted, Device: &dev})
	return dev, nil
}

// MarkDenied drops a PendingOutgoing device after the peer denied us.
func (r *Registry) MarkDenied(id string) {
	r.mu.Lock()
	dev, ok := r.devices[id]
	if ok && dev.Status == types.StatusPendingOutgoing {
		delete(r.devices, id)
	}
	r.mu.Unlock()
	if ok {
		r.logger.Info("Connection request denied by peer", zap.String("device_id", id))
	}
}

// Disconnect drops a device after a network failure or peer-initiated
// disconnect. Rediscovery is required to re-establish the relationship.
func (r *Registry) Disconnect(id string) {
	r.mu.Lock()
	dev, ok := r.devices[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	wasConnected := dev.Status == types.StatusConnected
	delete(r.devices, id)
	r.mu.Unlock()

	r.logger.Info("Device disconnected", zap.String("device_id", id))
	if wasConnected {
		dev.Status = types.StatusDisconnected
		r.publish(types.Event{Kind: types.EventDeviceDisconnected, Device: &dev})
	}
}

// Remove drops a device on explicit user action. The returned device lets
// the caller close its sync channel and notify the peer.
func (r *Registry) Remove(id string) (types.Device, error) {
	r.mu.Lock()
	dev, ok := r.devices[id]
	if !ok {
		r.mu.Unlock()
		return types.Device{}, ErrNotFound
	}
	wasConnected := dev.Status == types.StatusConnected
	delete(r.devices, id)
	r.mu.Unlock()

	r.logger.Info("Device removed", zap.String("device_id", id))
	if wasConnected {
		removed := dev
		removed.Status = types.StatusDisconnected
		r.publish(types.Event{Kind: types.EventDeviceDisconnected, Device: &removed})
	}
	return dev, nil
}

// ListConnected returns all Connected devices.
func (r *Registry) ListConnected() []types.Device {
	return r.listByStatus(types.StatusConnected)
}

// ListPendingIncoming returns devices waiting on a local accept/deny.
func (r *Registry) ListPendingIncoming() []types.Device {
	return r.listByStatus(types.StatusPendingIncoming)
}

// ListPendingOutgoing returns devices we requested and are waiting on.
func (r *Registry) ListPendingOutgoing() []types.Device {
	return r.listByStatus(types.StatusPendingOutgoing)
}

// ListDiscovered returns reachable devices with no relationship yet.
func (r *Registry) ListDiscovered() []types.Device {
	return r.listByStatus(types.StatusDiscovered)
}

// Reset drops all remote devices. Run at daemon startup so stale
// relationships from a previous run never survive a restart.
func (r *Registry) Reset() {
	r.mu.Lock()
	r.devices = make(map[string]types.Device)
	r.mu.Unlock()
	r.logger.Debug("Registry reset")
}

// Subscribe returns a channel of registry events. Best-effort delivery.
func (r *Registry) Subscribe() <-chan types.Event {
	ch := make(chan types.Event, eventBuffer)
	r.subsMu.Lock()
	r.subs = append(r.subs, ch)
	r.subsMu.Unlock()
	return ch
}

func (r *Registry) listByStatus(status types.DeviceStatus) []types.Device {
	r.mu.RLock()
	result := make([]types.Device, 0)
	for _, dev := range r.devices {
		if dev.Status == status {
			result = append(result, dev)
		}
	}
	r.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].LastSeen.After(result[j].LastSeen)
	})
	return result
}

func (r *Registry) publish(ev types.Event) {
	r.subsMu.Lock()
	defer r.subsMu.Unlock()
	for _, ch := range r.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Package service is the command surface consumed by presentation layers
// (IPC clients, a future UI). It delegates to the store, registry, sync
// engine and clipboard monitor, and re-exports their event streams.
package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/berrythewa/cliped-daemon/internal/clipboard"
	"github.com/berrythewa/cliped-daemon/internal/config"
	"github.com/berrythewa/cliped-daemon/internal/device"
	"github.com/berrythewa/cliped-daemon/internal/storage"
	"github.com/berrythewa/cliped-daemon/internal/sync"
	"github.com/berrythewa/cliped-daemon/internal/types"
	"github.com/berrythewa/cliped-daemon/pkg/utils"

	"go.uber.org/zap"
)

// Service wires the core components behind one command surface.
type Service struct {
	cfg       *config.Config
	store     *storage.BoltStore
	registry  *device.Registry
	engine    *sync.Engine
	discovery *sync.Discovery
	monitor   *clipboard.Monitor
	logger    *zap.Logger
}

// New assembles the service. All collaborators are required except the
// monitor, which may be nil when clipboard integration is unavailable.
func New(cfg *config.Config, store *storage.BoltStore, registry *device.Registry,
	engine *sync.Engine, discovery *sync.Discovery, monitor *clipboard.Monitor,
	logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		cfg:       cfg,
		store:     store,
		registry:  registry,
		engine:    engine,
		discovery: discovery,
		monitor:   monitor,
		logger:    logger.With(zap.String("component", "service")),
	}
}

// --- History ---

// GetClipboardHistoryPaginated returns one page of history, most recent
// first.
func (s *Service) GetClipboardHistoryPaginated(offset, limit int) ([]types.ClipboardEntry, error) {
	return s.store.Page(offset, limit)
}

// GetClipboardHistoryCount returns the number of resident entries.
func (s *Service) GetClipboardHistoryCount() int {
	return s.store.Count()
}

// AddClipboardItem appends an entry to history. Duplicates are absorbed:
// re-adding existing content is a successful no-op from the caller's
// perspective.
func (s *Service) AddClipboardItem(entry *types.ClipboardEntry) error {
	if entry.Origin == "" {
		entry.Origin = s.registry.Local().ID
	}
	err := s.store.Append(entry)
	if errors.Is(err, storage.ErrDuplicateEntry) {
		return nil
	}
	return err
}

// DeleteClipboardItem removes one entry. Deletions stay local; peers keep
// their copies.
func (s *Service) DeleteClipboardItem(id string) error {
	return s.store.Delete(id)
}

// ClearClipboardHistory removes everything and returns the cleared set so
// the caller can offer undo.
func (s *Service) ClearClipboardHistory() ([]types.ClipboardEntry, error) {
	return s.store.Clear()
}

// CaptureText records freshly copied text as a local history entry. Wired
// as the clipboard monitor's change callback.
func (s *Service) CaptureText(content string) {
	entry := &types.ClipboardEntry{
		Content: content,
		Type:    types.TypeText,
		Created: time.Now(),
		Origin:  s.registry.Local().ID,
	}
	if err := s.AddClipboardItem(entry); err != nil {
		s.logger.Error("Failed to record captured text", zap.Error(err))
	}
}

// --- OS clipboard ---

// SetClipboardContent writes text to the OS clipboard without it being
// re-captured as a new entry.
func (s *Service) SetClipboardContent(text string) error {
	if s.monitor == nil {
		return fmt.Errorf("clipboard integration unavailable")
	}
	return s.monitor.Set(text)
}

// IsMonitoringEnabled reports whether clipboard capture is active.
func (s *Service) IsMonitoringEnabled() bool {
	return s.monitor != nil && s.monitor.Enabled()
}

// ToggleMonitoring flips clipboard capture and returns the new state.
func (s *Service) ToggleMonitoring() bool {
	if s.monitor == nil {
		return false
	}
	next := !s.monitor.Enabled()
	s.monitor.SetEnabled(next)
	return next
}

// --- Devices ---

// GetLocalDevice returns this installation's identity.
func (s *Service) GetLocalDevice() types.Device {
	return s.registry.Local()
}

// UpdateDeviceName renames the local device and persists the new name.
func (s *Service) UpdateDeviceName(name string) error {
	if err := s.registry.Rename(name); err != nil {
		return err
	}
	if s.cfg != nil {
		s.cfg.DeviceName = name
		if err := s.cfg.Save(); err != nil {
			s.logger.Warn("Failed to persist device name", zap.Error(err))
		}
	}
	return nil
}

// DiscoverDevices sweeps the network and returns what answered.
func (s *Service) DiscoverDevices(ctx context.Context) ([]types.Device, error) {
	return s.discovery.Discover(ctx)
}

// GetConnectedDevices returns devices with an open sync channel.
func (s *Service) GetConnectedDevices() []types.Device {
	return s.registry.ListConnected()
}

// GetPendingConnections returns devices awaiting an answer on either
// side: incoming requests first, then our own outstanding requests.
func (s *Service) GetPendingConnections() []types.Device {
	pending := s.registry.ListPendingIncoming()
	return append(pending, s.registry.ListPendingOutgoing()...)
}

// GetDiscoveredDevices returns reachable devices with no relationship yet.
func (s *Service) GetDiscoveredDevices() []types.Device {
	return s.registry.ListDiscovered()
}

// SendConnectionRequestToDevice asks a discovered device's user for a
// sync relationship.
func (s *Service) SendConnectionRequestToDevice(id string) error {
	return s.engine.RequestConnection(id)
}

// AcceptConnection answers a pending incoming request positively.
func (s *Service) AcceptConnection(id string) error {
	return s.engine.AcceptConnection(id)
}

// DenyConnection answers a pending incoming request negatively.
func (s *Service) DenyConnection(id string) error {
	return s.engine.DenyConnection(id)
}

// RemoveDevice drops a device entirely, closing its channel if connected.
func (s *Service) RemoveDevice(id string) error {
	return s.engine.RemoveDevice(id)
}

// --- Files ---

// AddFileToClipboard records a file as a clipboard entry. The payload
// stays on disk; history carries the metadata and content hash.
func (s *Service) AddFileToClipboard(path string) (*types.ClipboardEntry, error) {
	hash, size, err := utils.HashFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to hash %s: %w", path, err)
	}

	name := filepath.Base(path)
	entry := &types.ClipboardEntry{
		Content:  "File: " + name,
		Type:     types.TypeFile,
		Created:  time.Now(),
		Origin:   s.registry.Local().ID,
		FileMeta: &types.FileMeta{Name: name, Size: size, Hash: hash},
		FilePath: path,
	}
	if err := s.AddClipboardItem(entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// GetFileContent reads a staged file's bytes.
func (s *Service) GetFileContent(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// SaveReceivedFile writes bytes into the downloads directory, renaming
// "name (n).ext" style on collision, and returns the final path.
func (s *Service) SaveReceivedFile(data []byte, fileName string) (string, error) {
	dir := s.cfg.Sync.DownloadsDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create downloads dir: %w", err)
	}

	path := utils.UniquePath(dir, fileName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to save %s: %w", fileName, err)
	}
	s.logger.Info("File saved", zap.String("path", path), zap.Int("bytes", len(data)))
	return path, nil
}

// --- Events ---

// Events returns a merged stream of store and registry notifications.
// Fire-and-forget: a slow consumer misses events rather than blocking
// the core.
func (s *Service) Events(ctx context.Context) <-chan types.Event {
	out := make(chan types.Event, 32)
	merge := func(in <-chan types.Event) {
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-in:
				select {
				case out <- ev:
				default:
				}
			}
		}
	}
	go merge(s.store.Subscribe())
	go merge(s.registry.Subscribe())
	return out
}

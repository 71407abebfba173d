// Package clipboard integrates with the OS clipboard: reading and writing
// content, and polling for changes made by other applications.
package clipboard

import (
	"context"
	"sync"
	"time"

	"github.com/atotto/clipboard"

	"go.uber.org/zap"
)

// Provider abstracts the OS clipboard so the monitor can be tested
// without a display server.
type Provider interface {
	Read() (string, error)
	Write(text string) error
}

type systemProvider struct{}

func (systemProvider) Read() (string, error) { return clipboard.ReadAll() }
func (systemProvider) Write(s string) error  { return clipboard.WriteAll(s) }

// SystemProvider returns the real OS clipboard.
func SystemProvider() Provider { return systemProvider{} }

const defaultInterval = 500 * time.Millisecond

// Monitor polls the clipboard and reports new content. Writes made
// through Set are suppressed so applying a synced entry never echoes
// back as a fresh local capture.
type Monitor struct {
	provider Provider
	interval time.Duration
	logger   *zap.Logger

	onChange func(content string)

	mu      sync.Mutex
	enabled bool
	last    string
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// NewMonitor creates a clipboard monitor. A nil provider uses the OS
// clipboard. Monitoring starts enabled.
func NewMonitor(provider Provider, interval time.Duration, logger *zap.Logger) *Monitor {
	if provider == nil {
		provider = systemProvider{}
	}
	if interval <= 0 {
		interval = defaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		provider: provider,
		interval: interval,
		enabled:  true,
		logger:   logger.With(zap.String("component", "clipboard")),
	}
}

// SetOnChange installs the callback invoked with newly captured content.
// Must be called before Start.
func (m *Monitor) SetOnChange(fn func(content string)) {
	m.onChange = fn
}

// Start begins the poll loop.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true

	// Baseline: whatever is on the clipboard at startup is not a change.
	if content, err := m.provider.Read(); err == nil {
		m.last = content
	}

	ctx, m.cancel = context.WithCancel(ctx)
	m.mu.Unlock()

	m.wg.Add(1)
	go m.poll(ctx)
	m.logger.Info("Clipboard monitoring started", zap.Duration("interval", m.interval))
}

// Stop halts the poll loop.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	m.cancel()
	m.mu.Unlock()

	m.wg.Wait()
	m.logger.Info("Clipboard monitoring stopped")
}

// Get reads the current clipboard content.
func (m *Monitor) Get() (string, error) {
	return m.provider.Read()
}

// Set writes content to the clipboard and suppresses the resulting
// change so the monitor does not capture its own write.
func (m *Monitor) Set(content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.provider.Write(content); err != nil {
		return err
	}
	m.last = content
	return nil
}

// SetEnabled toggles capturing. Content copied while disabled is not
// captured retroactively: re-enabling re-baselines on the current state.
func (m *Monitor) SetEnabled(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if enabled && !m.enabled {
		if content, err := m.provider.Read(); err == nil {
			m.last = content
		}
	}
	m.enabled = enabled
	m.logger.Info("Clipboard monitoring toggled", zap.Bool("enabled", enabled))
}

// Enabled reports whether capturing is active.
func (m *Monitor) Enabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled
}

func (m *Monitor) poll(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick()
		}
	}
}

func (m *Monitor) tick() {
	m.mu.Lock()
	if !m.enabled {
		m.mu.Unlock()
		return
	}
	content, err := m.provider.Read()
	if err != nil {
		m.mu.Unlock()
		m.logger.Debug("Clipboard read failed", zap.Error(err))
		return
	}
	if content == "" || content == m.last {
		m.mu.Unlock()
		return
	}
	m.last = content
	fn := m.onChange
	m.mu.Unlock()

	m.logger.Debug("Clipboard change captured", zap.Int("bytes", len(content)))
	if fn != nil {
		fn(content)
	}
}

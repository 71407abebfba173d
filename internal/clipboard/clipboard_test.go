package clipboard

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	mu      sync.Mutex
	content string
}

func (f *fakeProvider) Read() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.content, nil
}

func (f *fakeProvider) Write(s string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.content = s
	return nil
}

func newTestMonitor(t *testing.T) (*Monitor, *fakeProvider, chan string) {
	t.Helper()
	provider := &fakeProvider{}
	captured := make(chan string, 8)

	m := NewMonitor(provider, 10*time.Millisecond, nil)
	m.SetOnChange(func(content string) { captured <- content })
	m.Start(context.Background())
	t.Cleanup(m.Stop)

	return m, provider, captured
}

func waitCapture(t *testing.T, captured chan string) string {
	t.Helper()
	select {
	case c := <-captured:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("no clipboard change captured")
		return ""
	}
}

func assertNoCapture(t *testing.T, captured chan string) {
	t.Helper()
	select {
	case c := <-captured:
		t.Fatalf("unexpected capture: %q", c)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestMonitorCapturesExternalChange(t *testing.T) {
	_, provider, captured := newTestMonitor(t)

	require.NoError(t, provider.Write("copied elsewhere"))
	assert.Equal(t, "copied elsewhere", waitCapture(t, captured))

	// Unchanged content is not re-captured.
	assertNoCapture(t, captured)
}

func TestSetSuppressesOwnWrite(t *testing.T) {
	m, _, captured := newTestMonitor(t)

	require.NoError(t, m.Set("applied from a peer"))
	assertNoCapture(t, captured)

	got, err := m.Get()
	require.NoError(t, err)
	assert.Equal(t, "applied from a peer", got)
}

func TestStartupContentIsBaseline(t *testing.T) {
	provider := &fakeProvider{content: "pre-existing"}
	captured := make(chan string, 8)

	m := NewMonitor(provider, 10*time.Millisecond, nil)
	m.SetOnChange(func(content string) { captured <- content })
	m.Start(context.Background())
	t.Cleanup(m.Stop)

	assertNoCapture(t, captured)
}

func TestDisableStopsCapturing(t *testing.T) {
	m, provider, captured := newTestMonitor(t)

	m.SetEnabled(false)
	assert.False(t, m.Enabled())

	require.NoError(t, provider.Write("while disabled"))
	assertNoCapture(t, captured)

	// Content copied while disabled is not captured retroactively.
	m.SetEnabled(true)
	assertNoCapture(t, captured)

	require.NoError(t, provider.Write("after re-enable"))
	assert.Equal(t, "after re-enable", waitCapture(t, captured))
}

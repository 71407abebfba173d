package sync

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/berrythewa/cliped-daemon/internal/device"
	"github.com/berrythewa/cliped-daemon/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscoverFindsResponder(t *testing.T) {
	responderReg := device.NewRegistry(types.Device{ID: "resp", Name: "responder"}, nil)
	responder := NewDiscovery(responderReg, DiscoveryConfig{
		Port:     0, // kernel-assigned, probed directly below
		SyncPort: 51848,
		Window:   500 * time.Millisecond,
	}, nil)
	require.NoError(t, responder.Start(context.Background()))
	t.Cleanup(responder.Stop)

	proberReg := device.NewRegistry(types.Device{ID: "prob", Name: "prober"}, nil)
	prober := NewDiscovery(proberReg, DiscoveryConfig{
		SyncPort:       51849,
		Window:         time.Second,
		BroadcastAddrs: []string{fmt.Sprintf("127.0.0.1:%d", responder.Port())},
	}, nil)

	found, err := prober.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "resp", found[0].ID)
	assert.Equal(t, "responder", found[0].Name)

	// Both registries learned about the other side: the responder records
	// the prober from its probe, the prober records the reply.
	dev, err := proberReg.Get("resp")
	require.NoError(t, err)
	assert.Equal(t, types.StatusDiscovered, dev.Status)
	assert.Contains(t, dev.Addr, ":51848")

	dev, err = responderReg.Get("prob")
	require.NoError(t, err)
	assert.Equal(t, types.StatusDiscovered, dev.Status)
	assert.Contains(t, dev.Addr, ":51849")
}

func TestDiscoverEmptyNetwork(t *testing.T) {
	reg := device.NewRegistry(types.Device{ID: "solo", Name: "solo"}, nil)
	d := NewDiscovery(reg, DiscoveryConfig{
		SyncPort:       51848,
		Window:         200 * time.Millisecond,
		BroadcastAddrs: []string{"127.0.0.1:1"},
	}, nil)

	found, err := d.Discover(context.Background())
	require.NoError(t, err)
	assert.Empty(t, found)
	assert.Empty(t, reg.ListDiscovered())
}

func TestDiscoverHonorsContextDeadline(t *testing.T) {
	reg := device.NewRegistry(types.Device{ID: "solo", Name: "solo"}, nil)
	d := NewDiscovery(reg, DiscoveryConfig{
		SyncPort:       51848,
		Window:         10 * time.Second,
		BroadcastAddrs: []string{"127.0.0.1:1"},
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := d.Discover(ctx)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

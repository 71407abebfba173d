package sync

import (
	"bufio"
	"bytes"
	"strings"
	"testing"

	"github.com/berrythewa/cliped-daemon/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)

	msg := &types.Message{
		Type:       types.MsgConnectRequest,
		DeviceID:   "dev-1",
		DeviceName: "laptop",
		SyncPort:   51848,
	}
	require.NoError(t, writeMessage(w, msg))

	got, err := readMessage(bufio.NewReader(&buf))
	require.NoError(t, err)
	assert.Equal(t, msg.Type, got.Type)
	assert.Equal(t, msg.DeviceID, got.DeviceID)
	assert.Equal(t, msg.SyncPort, got.SyncPort)
}

func TestWriteMessageRejectsOversized(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)

	msg := &types.Message{
		Type:     types.MsgEntry,
		DeviceID: "dev-1",
		Entry: &types.ClipboardEntry{
			Content: strings.Repeat("x", types.MaxMessageSize),
			Type:    types.TypeText,
		},
	}
	assert.ErrorIs(t, writeMessage(w, msg), errMessageTooLarge)
	assert.Zero(t, buf.Len())
}

func TestReadMessageRejectsOversizedLine(t *testing.T) {
	// A line larger than the reader's buffer must surface as a size
	// error, not an allocation.
	line := strings.Repeat("a", 256) + "\n"
	r := bufio.NewReaderSize(strings.NewReader(line), 64)

	_, err := readMessage(r)
	assert.ErrorIs(t, err, errMessageTooLarge)
}

func TestReadMessageRejectsMalformed(t *testing.T) {
	r := bufio.NewReaderSize(strings.NewReader("{not json\n"), 64)
	_, err := readMessage(r)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, errMessageTooLarge)
}

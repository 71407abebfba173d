package sync

import (
	"bufio"
	"bytes"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/berrythewa/cliped-daemon/internal/device"
	"github.com/berrythewa/cliped-daemon/internal/types"
	"github.com/berrythewa/cliped-daemon/pkg/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBareEngine(t *testing.T, id string) *Engine {
	t.Helper()
	registry := device.NewRegistry(types.Device{ID: id, Name: "node-" + id}, nil)
	return NewEngine(registry, nil, EngineConfig{
		SendTimeout:  2 * time.Second,
		DownloadsDir: t.TempDir(),
	}, nil)
}

func fileOffer(meta types.FileMeta) *types.Message {
	return &types.Message{
		Type:     types.MsgFileOffer,
		DeviceID: "sender",
		Entry: &types.ClipboardEntry{
			Content:  "File: " + meta.Name,
			Type:     types.TypeFile,
			Origin:   "sender",
			FileMeta: &meta,
		},
	}
}

func chunkStream(t *testing.T, chunks [][]byte) *bufio.Reader {
	t.Helper()
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	for i, c := range chunks {
		require.NoError(t, writeMessage(w, &types.Message{
			Type:     types.MsgFileChunk,
			DeviceID: "sender",
			Chunk:    c,
			Seq:      i,
		}))
	}
	require.NoError(t, writeMessage(w, &types.Message{
		Type:     types.MsgFileDone,
		DeviceID: "sender",
		Seq:      len(chunks),
	}))
	return bufio.NewReaderSize(&buf, types.MaxMessageSize)
}

func TestReceiveFileVerifiesIntegrity(t *testing.T) {
	e := newBareEngine(t, "receiver")

	payload := []byte("actual content")
	offer := fileOffer(types.FileMeta{
		Name: "doc.txt",
		Size: int64(len(payload)),
		Hash: utils.HashContent([]byte("something else entirely")),
	})

	_, err := e.receiveFile(chunkStream(t, [][]byte{payload}), offer)
	assert.ErrorIs(t, err, ErrIntegrity)

	// The corrupt transfer left nothing behind.
	entries, err := os.ReadDir(e.cfg.DownloadsDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestReceiveFileHappyPath(t *testing.T) {
	e := newBareEngine(t, "receiver")

	payload := bytes.Repeat([]byte("abc123"), 1000)
	offer := fileOffer(types.FileMeta{
		Name: "doc.txt",
		Size: int64(len(payload)),
		Hash: utils.HashContent(payload),
	})

	// Split across two chunks.
	entry, err := e.receiveFile(chunkStream(t, [][]byte{payload[:100], payload[100:]}), offer)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(e.cfg.DownloadsDir, "doc.txt"), entry.FilePath)
	data, err := os.ReadFile(entry.FilePath)
	require.NoError(t, err)
	assert.Equal(t, payload, data)
}

func TestReceiveFileRejectsOversizedTransfer(t *testing.T) {
	e := newBareEngine(t, "receiver")

	payload := []byte("larger than advertised")
	offer := fileOffer(types.FileMeta{
		Name: "doc.txt",
		Size: 4,
		Hash: utils.HashContent(payload),
	})

	_, err := e.receiveFile(chunkStream(t, [][]byte{payload}), offer)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrIntegrity)
}

func TestReceiveFileRejectsOutOfOrderChunks(t *testing.T) {
	e := newBareEngine(t, "receiver")

	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	require.NoError(t, writeMessage(w, &types.Message{
		Type: types.MsgFileChunk, DeviceID: "sender", Chunk: []byte("b"), Seq: 1,
	}))

	offer := fileOffer(types.FileMeta{Name: "doc.txt", Size: 2, Hash: "irrelevant"})
	_, err := e.receiveFile(bufio.NewReaderSize(&buf, types.MaxMessageSize), offer)
	assert.ErrorContains(t, err, "out of order")
}

func TestSendReceiveFileOverPipe(t *testing.T) {
	sender := newBareEngine(t, "sender")
	receiver := newBareEngine(t, "receiver")

	payload := bytes.Repeat([]byte{0x42}, types.FileChunkSize+17)
	src := filepath.Join(t.TempDir(), "blob.bin")
	require.NoError(t, os.WriteFile(src, payload, 0o644))
	hash, size, err := utils.HashFile(src)
	require.NoError(t, err)

	offer := fileOffer(types.FileMeta{Name: "blob.bin", Size: size, Hash: hash})
	offer.Entry.FilePath = src

	client, server := net.Pipe()
	errCh := make(chan error, 1)
	go func() {
		defer client.Close()
		errCh <- sender.sendFile(client, bufio.NewWriter(client), offer)
	}()

	r := bufio.NewReaderSize(server, types.MaxMessageSize)
	got, err := readMessage(r)
	require.NoError(t, err)
	require.Equal(t, types.MsgFileOffer, got.Type)
	// The sender's staging path never crosses the wire.
	assert.Empty(t, got.Entry.FilePath)

	entry, err := receiver.receiveFile(r, got)
	require.NoError(t, err)
	require.NoError(t, <-errCh)

	data, err := os.ReadFile(entry.FilePath)
	require.NoError(t, err)
	assert.Equal(t, payload, data)
}

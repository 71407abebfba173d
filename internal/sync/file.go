package sync

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/berrythewa/cliped-daemon/internal/types"
	"github.com/berrythewa/cliped-daemon/pkg/utils"

	"go.uber.org/zap"
)

// sendFile streams a file entry to a peer: the offer carrying the
// metadata, the raw content in fixed-size chunks, then a completion
// marker. The write deadline is refreshed per chunk so a large file is
// not held to the single-message timeout.
func (e *Engine) sendFile(conn net.Conn, w *bufio.Writer, offer *types.Message) error {
	entry := offer.Entry
	if entry.FileMeta == nil || entry.FilePath == "" {
		return fmt.Errorf("file entry %s has no local payload", entry.ID)
	}

	f, err := os.Open(entry.FilePath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", entry.FilePath, err)
	}
	defer f.Close()

	// The staging path is device-local; the peer stages its own copy.
	wire := *entry
	wire.FilePath = ""
	offerMsg := *offer
	offerMsg.Entry = &wire
	if err := writeMessage(w, &offerMsg); err != nil {
		return err
	}

	local := e.registry.Local()
	buf := make([]byte, types.FileChunkSize)
	seq := 0
	for {
		n, err := f.Read(buf)
		if n > 0 {
			conn.SetWriteDeadline(time.Now().Add(e.cfg.SendTimeout))
			chunk := types.Message{
				Type:     types.MsgFileChunk,
				DeviceID: local.ID,
				Chunk:    buf[:n],
				Seq:      seq,
			}
			if err := writeMessage(w, &chunk); err != nil {
				return err
			}
			seq++
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", entry.FilePath, err)
		}
	}

	conn.SetWriteDeadline(time.Now().Add(e.cfg.SendTimeout))
	done := types.Message{Type: types.MsgFileDone, DeviceID: local.ID, Seq: seq}
	if err := writeMessage(w, &done); err != nil {
		return err
	}

	e.logger.Debug("File sent",
		zap.String("name", entry.FileMeta.Name),
		zap.Int("chunks", seq))
	return nil
}

// receiveFile consumes the chunk stream following a file offer. The
// content is staged to a temporary file and hashed as it arrives; only a
// stream that completes and matches the advertised hash is moved into the
// downloads directory. Anything else is discarded without a trace.
func (e *Engine) receiveFile(r *bufio.Reader, offer *types.Message) (*types.ClipboardEntry, error) {
	entry := offer.Entry
	if entry.FileMeta == nil {
		return nil, fmt.Errorf("file offer without metadata")
	}

	dir := e.cfg.DownloadsDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create downloads dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".cliped-transfer-*")
	if err != nil {
		return nil, fmt.Errorf("failed to stage transfer: %w", err)
	}
	tmpPath := tmp.Name()
	discard := func() {
		tmp.Close()
		os.Remove(tmpPath)
	}

	hasher := sha256.New()
	var received int64
	wantSeq := 0
	for {
		msg, err := readMessage(r)
		if err != nil {
			discard()
			return nil, fmt.Errorf("transfer interrupted: %w", err)
		}

		switch msg.Type {
		case types.MsgFileChunk:
			if msg.Seq != wantSeq {
				discard()
				return nil, fmt.Errorf("chunk %d arrived out of order (want %d)", msg.Seq, wantSeq)
			}
			wantSeq++
			received += int64(len(msg.Chunk))
			if received > entry.FileMeta.Size {
				discard()
				return nil, fmt.Errorf("transfer exceeds advertised size %d", entry.FileMeta.Size)
			}
			if _, err := tmp.Write(msg.Chunk); err != nil {
				discard()
				return nil, fmt.Errorf("failed to write staged file: %w", err)
			}
			hasher.Write(msg.Chunk)

		case types.MsgFileDone:
			if err := tmp.Close(); err != nil {
				os.Remove(tmpPath)
				return nil, err
			}
			sum := hex.EncodeToString(hasher.Sum(nil))
			if sum != entry.FileMeta.Hash || received != entry.FileMeta.Size {
				os.Remove(tmpPath)
				return nil, fmt.Errorf("%w: got %s (%d bytes), want %s (%d bytes)",
					ErrIntegrity, sum, received, entry.FileMeta.Hash, entry.FileMeta.Size)
			}

			final := utils.UniquePath(dir, entry.FileMeta.Name)
			if err := os.Rename(tmpPath, final); err != nil {
				os.Remove(tmpPath)
				return nil, fmt.Errorf("failed to finalize transfer: %w", err)
			}

			e.logger.Info("File received",
				zap.String("name", entry.FileMeta.Name),
				zap.String("path", final),
				zap.Int64("size", received))

			saved := *entry
			saved.FilePath = final
			return &saved, nil

		default:
			discard()
			return nil, fmt.Errorf("unexpected %s during transfer", msg.Type)
		}
	}
}

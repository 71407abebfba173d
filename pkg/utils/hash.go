package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
)

// HashContent returns the hex-encoded SHA-256 digest of data.
func HashContent(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// HashFile streams path through SHA-256 and returns the hex digest and the
// number of bytes read.
func HashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

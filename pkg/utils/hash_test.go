package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashContent(t *testing.T) {
	// sha256("hello") is a well-known vector
	assert.Equal(t,
		"2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824",
		HashContent([]byte("hello")))

	// Empty input still hashes deterministically
	assert.Equal(t, HashContent(nil), HashContent([]byte{}))
}

func TestHashFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "payload.bin")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o600))

	sum, size, err := HashFile(path)
	require.NoError(t, err)
	assert.Equal(t, int64(5), size)
	assert.Equal(t, HashContent([]byte("hello")), sum)

	_, _, err = HashFile(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUniquePath(t *testing.T) {
	dir := t.TempDir()

	p := UniquePath(dir, "report.pdf")
	assert.Equal(t, filepath.Join(dir, "report.pdf"), p)

	require.NoError(t, os.WriteFile(p, nil, 0o644))
	p = UniquePath(dir, "report.pdf")
	assert.Equal(t, filepath.Join(dir, "report (1).pdf"), p)

	require.NoError(t, os.WriteFile(p, nil, 0o644))
	p = UniquePath(dir, "report.pdf")
	assert.Equal(t, filepath.Join(dir, "report (2).pdf"), p)

	// No extension
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README"), nil, 0o644))
	assert.Equal(t, filepath.Join(dir, "README (1)"), UniquePath(dir, "README"))
}

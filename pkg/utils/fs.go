package utils

import (
	"fmt"
	"os"
	"path/filepath"
)

// UniquePath returns dir/name, appending " (n)" before the extension
// until the path does not collide with an existing file.
func UniquePath(dir, name string) string {
	path := filepath.Join(dir, name)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path
	}

	ext := filepath.Ext(name)
	stem := name[:len(name)-len(ext)]
	for n := 1; ; n++ {
		path = filepath.Join(dir, fmt.Sprintf("%s (%d)%s", stem, n, ext))
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return path
		}
	}
}

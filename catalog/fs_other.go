//go:build !unix && !windows

package catalog

import (
	"io/fs"
	"path/filepath"
)

func volumeID(path string) (string, error) {
	return filepath.VolumeName(path), nil
}

func isReparsePoint(_ string, d fs.DirEntry) bool {
	return d.Type()&fs.ModeSymlink != 0
}

//go:build unix

package catalog

import (
	"io/fs"
	"strconv"

	"golang.org/x/sys/unix"
)

// volumeID returns the device number of the filesystem holding path.
func volumeID(path string) (string, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return "", err
	}
	return strconv.FormatUint(uint64(st.Dev), 10), nil
}

func isReparsePoint(_ string, d fs.DirEntry) bool {
	return d.Type()&(fs.ModeSymlink|fs.ModeIrregular) != 0
}

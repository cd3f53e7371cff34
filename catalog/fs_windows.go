//go:build windows

package catalog

import (
	"io/fs"
	"strings"

	"golang.org/x/sys/windows"
)

// volumeID returns the volume mount point that holds path.
func volumeID(path string) (string, error) {
	p, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return "", err
	}
	buf := make([]uint16, windows.MAX_PATH+1)
	if err := windows.GetVolumePathName(p, &buf[0], uint32(len(buf))); err != nil {
		return "", err
	}
	return strings.ToUpper(windows.UTF16ToString(buf)), nil
}

// isReparsePoint catches junctions and mount points as well as symlinks.
func isReparsePoint(path string, d fs.DirEntry) bool {
	if d.Type()&(fs.ModeSymlink|fs.ModeIrregular) != 0 {
		return true
	}
	p, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return true
	}
	attrs, err := windows.GetFileAttributes(p)
	if err != nil {
		return true
	}
	return attrs&windows.FILE_ATTRIBUTE_REPARSE_POINT != 0
}

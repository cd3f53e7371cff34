package perw

import (
	"io"

	"github.com/pkg/errors"

	"goldhash/common"
)

// ReadPageAt fills dst with the page at rva as the loader would map it
// from the file behind r. Section content is read from its raw data,
// header bytes map one to one, and anything without file backing reads
// as zero.
// ReadPageAt: legge una pagina come la mapperebbe il loader
func ReadPageAt(r io.ReaderAt, info *ImageInfo, rva uint64, dst []byte) error {
	clear(dst)

	var pos, avail uint64
	if sec, ok := info.SectionFor(rva); ok {
		off := rva - uint64(sec.VirtualAddress)
		if off >= uint64(sec.SizeOfRawData) {
			return nil
		}
		pos = uint64(sec.PointerToRawData) + off
		avail = uint64(sec.SizeOfRawData) - off
	} else if rva < uint64(info.SizeOfHeaders) {
		pos = rva
		avail = uint64(info.SizeOfHeaders) - rva
	} else {
		return nil
	}

	n := min(avail, uint64(len(dst)))
	if _, err := r.ReadAt(dst[:n], int64(pos)); err != nil && err != io.EOF {
		return errors.WithMessagef(common.ErrIO, "read page at rva 0x%X: %v", rva, err)
	}
	return nil
}

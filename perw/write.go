package perw

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"goldhash/common"
)

// WriteAtOffset writes a little-endian value into page at offset.
// WriteAtOffset: scrive un valore nella pagina a un offset specifico (endianness little)
func WriteAtOffset(page []byte, offset int64, value interface{}) error {
	var size int
	switch v := value.(type) {
	case uint8:
		size = 1
	case uint16:
		size = 2
	case uint32:
		size = 4
	case uint64:
		size = 8
	case []byte:
		size = len(v)
	default:
		return errors.Errorf("unsupported type: %T", value)
	}
	if offset < 0 || offset+int64(size) > int64(len(page)) {
		return errors.Wrapf(common.ErrRange, "write of %d bytes at offset %d", size, offset)
	}

	dst := page[offset : offset+int64(size)]
	switch v := value.(type) {
	case uint8:
		dst[0] = v
	case uint16:
		binary.LittleEndian.PutUint16(dst, v)
	case uint32:
		binary.LittleEndian.PutUint32(dst, v)
	case uint64:
		binary.LittleEndian.PutUint64(dst, v)
	case []byte:
		copy(dst, v)
	}
	return nil
}

// zeroRange clears page[off:off+n], clamped to the page.
func zeroRange(page []byte, off, n int) {
	if off < 0 || n <= 0 || off >= len(page) {
		return
	}
	clear(page[off:min(off+n, len(page))])
}

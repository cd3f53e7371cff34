package engine

import (
	"bytes"
	"os"

	"github.com/edsrzf/mmap-go"
	"github.com/pkg/errors"

	"goldhash/common"
	"goldhash/perw"
)

// reference is an open, memory-mapped reference image. It belongs to a
// single request.
type reference struct {
	path   string
	data   mmap.MMap
	info   *perw.ImageInfo
	header []byte

	scrub *perw.ScrubResult
}

func (e *Engine) openReference(path string) (*reference, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(common.ErrIO, "open %s: %v", path, err)
	}
	defer func(f *os.File) {
		_ = f.Close()
	}(f)

	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, errors.Wrapf(common.ErrIO, "map %s: %v", path, err)
	}

	header, err := perw.ReadHeaderPage(bytes.NewReader(m))
	if err != nil {
		_ = m.Unmap()
		return nil, errors.WithMessage(err, path)
	}
	info, err := e.accessor.TryParse(header)
	if err != nil {
		_ = m.Unmap()
		return nil, errors.WithMessage(err, path)
	}
	return &reference{path: path, data: m, info: info, header: header}, nil
}

func (r *reference) Close() error {
	return r.data.Unmap()
}

// page returns a fresh copy of the page at rva as the loader maps it.
func (r *reference) page(rva uint64) ([]byte, error) {
	buf := make([]byte, common.PageSize)
	if err := perw.ReadPageAt(bytes.NewReader(r.data), r.info, rva, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// headerCopy returns page 0 with everything past SizeOfHeaders cleared.
func (r *reference) headerCopy() []byte {
	hdr := bytes.Clone(r.header)
	perw.TrimHeaderPage(hdr, r.info)
	return hdr
}

// boundImportBytes is the span at BaseOfCode excluded from page compares.
// It is measured on a scratch header when the header compare did not
// already scrub one.
func (r *reference) boundImportBytes(d Delocator) int {
	if r.scrub == nil {
		res := d.ScrubHeader(r.headerCopy(), r.info)
		r.scrub = &res
	}
	return min(r.scrub.BoundImportBytes(), common.PageSize)
}

package engine

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/pkg/errors"

	"goldhash/catalog"
	"goldhash/codeview"
	"goldhash/common"
	"goldhash/perw"
)

// maxMappedImage bounds the memory a single mapped fetch may assemble.
const maxMappedImage = 512 << 20

// Fetch returns the reference image named by the file query key. With
// mapped=<base> the image is laid out as the loader would map it at that
// base and returned only once every page has been built.
func (e *Engine) Fetch(ctx context.Context, query url.Values) (*FetchResult, error) {
	fields := codeview.Lowered(query)
	file := fields["file"]
	if strings.Contains(file, "..") {
		return nil, errors.Wrapf(common.ErrInputValidation, "file %q contains a parent reference", file)
	}
	base := common.BaseName(file)
	if !common.ValidModuleBase(base) {
		return nil, errors.Wrapf(common.ErrInputValidation, "file name %q", base)
	}
	id, err := codeview.FromValues(query)
	if err != nil {
		return nil, err
	}

	rec, ok := e.pick(base, file, id)
	if !ok {
		return nil, errors.Wrapf(common.ErrNotFound, "%s", base)
	}

	mapped, wantMapped := fields["mapped"]
	if !wantMapped {
		return openVerbatim(rec.Path)
	}
	target, err := codeview.ParseUint64(mapped)
	if err != nil {
		return nil, errors.Wrapf(common.ErrInputValidation, "mapped base %q", mapped)
	}
	buf, err := e.assembleMapped(ctx, rec.Path, target)
	if err != nil {
		return nil, err
	}
	return &FetchResult{Path: rec.Path, Size: int64(len(buf)), Body: io.NopCloser(bytes.NewReader(buf))}, nil
}

// pick prefers the record at the requested path, then one matching the
// identity timedate/vsize when given, then the first by path order.
func (e *Engine) pick(base, file string, id *codeview.ModuleIdentity) (catalog.Record, bool) {
	candidates := e.catalog.Lookup(base)
	if len(candidates) == 0 {
		return catalog.Record{}, false
	}
	for _, rec := range candidates {
		if common.SamePath(rec.Path, file) {
			return rec, true
		}
	}
	if id.TimeDateStamp != 0 || id.VSize != 0 {
		for _, rec := range candidates {
			if (id.TimeDateStamp == 0 || rec.TimeStamp == id.TimeDateStamp) &&
				(id.VSize == 0 || rec.SizeOfImage == id.VSize) {
				return rec, true
			}
		}
	}
	return candidates[0], true
}

func openVerbatim(path string) (*FetchResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(common.ErrIO, "open %s: %v", path, err)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, errors.Wrapf(common.ErrIO, "stat %s: %v", path, err)
	}
	return &FetchResult{Path: path, Size: st.Size(), Body: f}, nil
}

func (e *Engine) assembleMapped(ctx context.Context, path string, target uint64) ([]byte, error) {
	ref, err := e.openReference(path)
	if err != nil {
		return nil, err
	}
	defer func(ref *reference) {
		_ = ref.Close()
	}(ref)

	info := ref.info
	size := (uint64(info.SizeOfImage) + common.PageSize - 1) &^ (common.PageSize - 1)
	if size > maxMappedImage {
		return nil, errors.Wrapf(common.ErrRange, "image size 0x%X", info.SizeOfImage)
	}
	out := make([]byte, size)
	copy(out, ref.headerCopy())

	rebase := target != info.ImageBase
	var relocs perw.RelocationSet
	if rebase {
		hdr := out[:common.PageSize]
		if err := e.delocator.DelocateHeader(hdr, target, info.ImageBaseOffset, info.Is64Bit); err != nil {
			return nil, err
		}
		res := e.delocator.ScrubHeader(hdr, info)
		ref.scrub = &res
		if relocs, err = e.relocations(path); err != nil {
			return nil, err
		}
	}

	src := bytes.NewReader(ref.data)
	for rva := uint64(common.PageSize); rva < size; rva += common.PageSize {
		if err := ctx.Err(); err != nil {
			return nil, errors.WithStack(err)
		}
		page := out[rva : rva+common.PageSize]
		if err := perw.ReadPageAt(src, info, rva, page); err != nil {
			return nil, err
		}
		if !rebase {
			continue
		}
		if len(relocs) > 0 {
			e.delocator.ApplyDelta(page, info, info.ImageBase-target, rva, relocs)
		}
		if rva == uint64(info.BaseOfCode) {
			clear(page[:ref.boundImportBytes(e.delocator)])
		}
	}
	return out, nil
}

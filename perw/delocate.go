package perw

import (
	"encoding/binary"
	"sort"

	"goldhash/common"
)

const (
	headerPageLimit = common.PageSize

	// boundImportClampAt and boundImportClampTo reproduce the length cap
	// used by existing agents. The values match one linker's layout and
	// carry no wider meaning.
	boundImportClampAt = 0x400
	boundImportClampTo = 0x3FC
)

// ScrubResult describes what ScrubHeader removed from a header page.
type ScrubResult struct {
	// BoundImportLen is counted in 4-byte units starting at BaseOfCode.
	BoundImportLen int
	ZeroedDirs     int
}

// BoundImportBytes is the span to clear at the start of the code page.
func (s ScrubResult) BoundImportBytes() int {
	if s.BoundImportLen <= 0 {
		return 0
	}
	return s.BoundImportLen * 4
}

// DelocateHeader overwrites the image base field of a header page with
// targetBase.
// DelocateHeader: riscrive il campo ImageBase con l'indirizzo di caricamento
func DelocateHeader(page []byte, targetBase uint64, imageBaseFieldOffset int, is64 bool) error {
	if is64 {
		return WriteAtOffset(page, int64(imageBaseFieldOffset), targetBase)
	}
	return WriteAtOffset(page, int64(imageBaseFieldOffset), uint32(targetBase))
}

// TrimHeaderPage clears everything past SizeOfHeaders.
// TrimHeaderPage: azzera tutto oltre SizeOfHeaders
func TrimHeaderPage(page []byte, info *ImageInfo) {
	if int(info.SizeOfHeaders) < len(page) {
		clear(page[info.SizeOfHeaders:])
	}
}

// ZeroChecksum clears the optional header CheckSum field.
// ZeroChecksum: azzera il campo CheckSum
func ZeroChecksum(page []byte, info *ImageInfo) {
	zeroRange(page, info.CheckSumOffset, 4)
}

// ScrubHeader removes load-dependent content from a header page: the
// checksum, and every data directory region that lies wholly inside the
// header page. The bound import table length is measured before the
// directories are cleared.
// ScrubHeader: rimuove dagli header i dati che dipendono dal caricamento
func ScrubHeader(page []byte, info *ImageInfo) ScrubResult {
	var res ScrubResult
	ZeroChecksum(page, info)

	if off := int(info.Directories[DirBoundImport].RVA); off > 0 && off < headerPageLimit {
		for step := 4; off+step+2 <= len(page); step += 8 {
			curr := int16(binary.LittleEndian.Uint16(page[off+step:]))
			if curr == 0 {
				break
			}
			res.BoundImportLen += int(curr)
		}
	}
	if res.BoundImportLen > boundImportClampAt {
		res.BoundImportLen = boundImportClampTo
	}

	for _, dir := range info.Directories {
		if dir.RVA == 0 || dir.Size == 0 {
			continue
		}
		if uint64(dir.RVA)+uint64(dir.Size) < headerPageLimit {
			zeroRange(page, int(dir.RVA), int(dir.Size))
			res.ZeroedDirs++
		}
	}
	return res
}

// relocWindow returns the fixups whose RVA lies in [start, start+PageSize).
func relocWindow(relocs RelocationSet, start uint64) RelocationSet {
	lo := sort.Search(len(relocs), func(i int) bool {
		return uint64(relocs[i].RVA) >= start
	})
	hi := lo
	for hi < len(relocs) && uint64(relocs[hi].RVA) < start+common.PageSize {
		hi++
	}
	return relocs[lo:hi]
}

// ApplyDelta32 subtracts delta from every HIGHLOW fixup inside the page
// starting at pageStartRVA. Fixups crossing the page end are skipped.
// It returns the number of fixups rewritten.
// ApplyDelta32: sottrae il delta da ogni fixup HIGHLOW della pagina
func ApplyDelta32(page []byte, delta uint32, pageStartRVA uint32, relocs RelocationSet) int {
	applied := 0
	for _, r := range relocWindow(relocs, uint64(pageStartRVA)) {
		off := int(r.RVA - pageStartRVA)
		if r.Width != 4 || off+4 > len(page) {
			continue
		}
		v := binary.LittleEndian.Uint32(page[off:])
		binary.LittleEndian.PutUint32(page[off:], v-delta)
		applied++
	}
	return applied
}

// ApplyDelta64 is ApplyDelta32 for PE32+ images. DIR64 fixups take the
// full delta, stray HIGHLOW fixups the low 32 bits of it.
// ApplyDelta64: come ApplyDelta32 per immagini PE32+
func ApplyDelta64(page []byte, delta uint64, pageStartRVA uint64, relocs RelocationSet) int {
	applied := 0
	for _, r := range relocWindow(relocs, pageStartRVA) {
		off := int(uint64(r.RVA) - pageStartRVA)
		if off+int(r.Width) > len(page) {
			continue
		}
		switch r.Width {
		case 8:
			v := binary.LittleEndian.Uint64(page[off:])
			binary.LittleEndian.PutUint64(page[off:], v-delta)
		case 4:
			v := binary.LittleEndian.Uint32(page[off:])
			binary.LittleEndian.PutUint32(page[off:], v-uint32(delta))
		default:
			continue
		}
		applied++
	}
	return applied
}

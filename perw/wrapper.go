package perw

// Accessor exposes the header and relocation directory readers as a value
// so callers can substitute them in tests.
type Accessor struct{}

func (Accessor) TryParse(buf []byte) (*ImageInfo, error) {
	return TryParse(buf)
}

func (Accessor) ExtractRelocationDirectory(path string) ([]byte, error) {
	return ExtractRelocationDirectory(path)
}

// Delocator bundles the relocation routines behind a value type.
type Delocator struct{}

func (Delocator) ProcessRelocations(raw []byte) RelocationSet {
	return ProcessRelocations(raw)
}

func (Delocator) DelocateHeader(page []byte, targetBase uint64, imageBaseFieldOffset int, is64 bool) error {
	return DelocateHeader(page, targetBase, imageBaseFieldOffset, is64)
}

func (Delocator) ScrubHeader(page []byte, info *ImageInfo) ScrubResult {
	return ScrubHeader(page, info)
}

// ApplyDelta dispatches to ApplyDelta32 or ApplyDelta64 by image bitness.
func (Delocator) ApplyDelta(page []byte, info *ImageInfo, delta, pageStartRVA uint64, relocs RelocationSet) int {
	if info.Is64Bit {
		return ApplyDelta64(page, delta, pageStartRVA, relocs)
	}
	return ApplyDelta32(page, uint32(delta), uint32(pageStartRVA), relocs)
}

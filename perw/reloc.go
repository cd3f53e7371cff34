package perw

import (
	"encoding/binary"
	"io"
	"sort"

	"github.com/Binject/debug/pe"
	"github.com/pkg/errors"

	"goldhash/common"
)

const relocBlockHeaderSize = 8

// ExtractRelocationDirectory returns the raw base relocation directory of
// the image at path, or nil when the image carries none.
// ExtractRelocationDirectory: estrae la directory di rilocazione grezza
func ExtractRelocationDirectory(path string) ([]byte, error) {
	f, err := pe.Open(path)
	if err != nil {
		return nil, errors.Wrapf(common.ErrParse, "open %s: %v", path, err)
	}
	defer func(f *pe.File) {
		_ = f.Close()
	}(f)

	dir, err := dataDirectory(f, DirBaseReloc)
	if err != nil {
		return nil, errors.WithMessage(err, path)
	}
	return directoryBytes(f, dir)
}

func dataDirectory(f *pe.File, index int) (pe.DataDirectory, error) {
	switch oh := f.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		if int(oh.NumberOfRvaAndSizes) > index {
			return oh.DataDirectory[index], nil
		}
	case *pe.OptionalHeader64:
		if int(oh.NumberOfRvaAndSizes) > index {
			return oh.DataDirectory[index], nil
		}
	default:
		return pe.DataDirectory{}, errors.Wrap(ErrNotPE, "no optional header")
	}
	return pe.DataDirectory{}, nil
}

// directoryBytes reads a directory through the section that contains
// it. An empty directory yields nil.
func directoryBytes(f *pe.File, dir pe.DataDirectory) ([]byte, error) {
	if dir.VirtualAddress == 0 || dir.Size == 0 {
		return nil, nil
	}
	for _, s := range f.Sections {
		start, end := s.VirtualAddress, s.VirtualAddress+max(s.VirtualSize, s.Size)
		if dir.VirtualAddress < start || dir.VirtualAddress >= end {
			continue
		}
		raw := make([]byte, dir.Size)
		n, err := s.ReadAt(raw, int64(dir.VirtualAddress-start))
		if err != nil && err != io.EOF {
			return nil, errors.WithMessagef(common.ErrIO, "read directory at 0x%X: %v", dir.VirtualAddress, err)
		}
		return raw[:n], nil
	}
	return nil, errors.Wrapf(common.ErrParse, "directory 0x%X outside all sections", dir.VirtualAddress)
}

// ProcessRelocations flattens base relocation blocks into fixups sorted
// by RVA. Padding entries and types other than HIGHLOW and DIR64 are
// dropped; parsing stops at the first malformed block.
// ProcessRelocations: appiattisce i blocchi di rilocazione in fixup ordinati
func ProcessRelocations(raw []byte) RelocationSet {
	var out RelocationSet
	for pos := 0; pos+relocBlockHeaderSize <= len(raw); {
		pageRVA := binary.LittleEndian.Uint32(raw[pos:])
		blockSize := int(binary.LittleEndian.Uint32(raw[pos+4:]))
		if blockSize < relocBlockHeaderSize || pos+blockSize > len(raw) {
			break
		}
		for e := pos + relocBlockHeaderSize; e+2 <= pos+blockSize; e += 2 {
			entry := binary.LittleEndian.Uint16(raw[e:])
			rva := pageRVA + uint32(entry&0x0FFF)
			switch entry >> 12 {
			case RelBasedHighLow:
				out = append(out, Relocation{RVA: rva, Width: 4})
			case RelBasedDir64:
				out = append(out, Relocation{RVA: rva, Width: 8})
			}
		}
		pos += blockSize
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RVA < out[j].RVA })
	return out
}

// LoadRelocations extracts and processes the relocations of path. A file
// without a relocation directory yields an empty set.
// LoadRelocations: estrae ed elabora le rilocazioni del file
func LoadRelocations(path string) (RelocationSet, error) {
	raw, err := ExtractRelocationDirectory(path)
	if err != nil {
		return nil, err
	}
	return ProcessRelocations(raw), nil
}

package perw

import "fmt"

const (
	dosHeaderSize     = 0x40
	fileHeaderSize    = 20
	sectionHeaderSize = 40
	sectionNameSize   = 8

	// NumDirectories is the number of data directory slots consulted.
	NumDirectories = 15

	magicPE32     = 0x10b
	magicPE32Plus = 0x20b

	// Directory slots used by delocation.
	DirBaseReloc   = 5
	DirDebug       = 6
	DirBoundImport = 11

	// Base relocation entry types that carry a fixup.
	RelBasedAbsolute = 0
	RelBasedHighLow  = 3
	RelBasedDir64    = 10

	maxSections = 96
)

// Section is the part of a section header needed to map an RVA back to
// a file position.
type Section struct {
	Name             string
	VirtualAddress   uint32
	VirtualSize      uint32
	PointerToRawData uint32
	SizeOfRawData    uint32
}

// Contains reports whether rva lies inside the section's virtual range.
// Contains: indica se rva cade nell'intervallo virtuale della sezione
func (s Section) Contains(rva uint64) bool {
	size := s.VirtualSize
	if size == 0 {
		size = s.SizeOfRawData
	}
	return rva >= uint64(s.VirtualAddress) && rva < uint64(s.VirtualAddress)+uint64(size)
}

type DirectoryEntry struct {
	RVA  uint32
	Size uint32
}

// ImageInfo is the per-request description of a reference image header.
// It is never shared between requests.
type ImageInfo struct {
	Machine       uint16
	Is64Bit       bool
	TimeDateStamp uint32
	ImageBase     uint64
	SizeOfImage   uint32
	SizeOfHeaders uint32
	BaseOfCode    uint32
	CheckSum      uint32

	Sections    []Section
	Directories [NumDirectories]DirectoryEntry

	// Offsets inside the header page.
	CheckSumOffset  int
	ImageBaseOffset int
}

// SectionFor returns the first section whose virtual range contains rva.
// SectionFor: restituisce la prima sezione che contiene rva
func (i *ImageInfo) SectionFor(rva uint64) (Section, bool) {
	for _, s := range i.Sections {
		if s.Contains(rva) {
			return s, true
		}
	}
	return Section{}, false
}

func (i *ImageInfo) String() string {
	arch := "PE32"
	if i.Is64Bit {
		arch = "PE32+"
	}
	return fmt.Sprintf("%s base=0x%X size=0x%X headers=0x%X sections=%d",
		arch, i.ImageBase, i.SizeOfImage, i.SizeOfHeaders, len(i.Sections))
}

// Relocation is one fixup location taken from the base relocation directory.
type Relocation struct {
	RVA   uint32
	Width uint8
}

// RelocationSet is ordered by ascending RVA.
type RelocationSet []Relocation

package perw

import (
	"bytes"

	"github.com/lunixbochs/struc"
)

const (
	imageDOSSignature = 0x5A4D
	imageNTSignature  = 0x00004550
)

type imageDOSHeader struct {
	Magic  uint16   `struc:"uint16,little"`
	Unused [58]byte `struc:"[58]byte"`
	Lfanew uint32   `struc:"uint32,little"`
}

type imageNTFileHeader struct {
	Signature            uint32 `struc:"uint32,little"`
	Machine              uint16 `struc:"uint16,little"`
	NumberOfSections     uint16 `struc:"uint16,little"`
	TimeDateStamp        uint32 `struc:"uint32,little"`
	PointerToSymbolTable uint32 `struc:"uint32,little"`
	NumberOfSymbols      uint32 `struc:"uint32,little"`
	SizeOfOptionalHeader uint16 `struc:"uint16,little"`
	Characteristics      uint16 `struc:"uint16,little"`
}

// Optional headers stop before the data directory array, which is read
// entry by entry so a short NumberOfRvaAndSizes is honoured.
type imageOptionalHeader32 struct {
	Magic                       uint16 `struc:"uint16,little"`
	MajorLinkerVersion          byte   `struc:"byte"`
	MinorLinkerVersion          byte   `struc:"byte"`
	SizeOfCode                  uint32 `struc:"uint32,little"`
	SizeOfInitializedData       uint32 `struc:"uint32,little"`
	SizeOfUninitializedData     uint32 `struc:"uint32,little"`
	AddressOfEntryPoint         uint32 `struc:"uint32,little"`
	BaseOfCode                  uint32 `struc:"uint32,little"`
	BaseOfData                  uint32 `struc:"uint32,little"`
	ImageBase                   uint32 `struc:"uint32,little"`
	SectionAlignment            uint32 `struc:"uint32,little"`
	FileAlignment               uint32 `struc:"uint32,little"`
	MajorOperatingSystemVersion uint16 `struc:"uint16,little"`
	MinorOperatingSystemVersion uint16 `struc:"uint16,little"`
	MajorImageVersion           uint16 `struc:"uint16,little"`
	MinorImageVersion           uint16 `struc:"uint16,little"`
	MajorSubsystemVersion       uint16 `struc:"uint16,little"`
	MinorSubsystemVersion       uint16 `struc:"uint16,little"`
	Win32VersionValue           uint32 `struc:"uint32,little"`
	SizeOfImage                 uint32 `struc:"uint32,little"`
	SizeOfHeaders               uint32 `struc:"uint32,little"`
	CheckSum                    uint32 `struc:"uint32,little"`
	Subsystem                   uint16 `struc:"uint16,little"`
	DllCharacteristics          uint16 `struc:"uint16,little"`
	SizeOfStackReserve          uint32 `struc:"uint32,little"`
	SizeOfStackCommit           uint32 `struc:"uint32,little"`
	SizeOfHeapReserve           uint32 `struc:"uint32,little"`
	SizeOfHeapCommit            uint32 `struc:"uint32,little"`
	LoaderFlags                 uint32 `struc:"uint32,little"`
	NumberOfRvaAndSizes         uint32 `struc:"uint32,little"`
}

type imageOptionalHeader64 struct {
	Magic                       uint16 `struc:"uint16,little"`
	MajorLinkerVersion          byte   `struc:"byte"`
	MinorLinkerVersion          byte   `struc:"byte"`
	SizeOfCode                  uint32 `struc:"uint32,little"`
	SizeOfInitializedData       uint32 `struc:"uint32,little"`
	SizeOfUninitializedData     uint32 `struc:"uint32,little"`
	AddressOfEntryPoint         uint32 `struc:"uint32,little"`
	BaseOfCode                  uint32 `struc:"uint32,little"`
	ImageBase                   uint64 `struc:"uint64,little"`
	SectionAlignment            uint32 `struc:"uint32,little"`
	FileAlignment               uint32 `struc:"uint32,little"`
	MajorOperatingSystemVersion uint16 `struc:"uint16,little"`
	MinorOperatingSystemVersion uint16 `struc:"uint16,little"`
	MajorImageVersion           uint16 `struc:"uint16,little"`
	MinorImageVersion           uint16 `struc:"uint16,little"`
	MajorSubsystemVersion       uint16 `struc:"uint16,little"`
	MinorSubsystemVersion       uint16 `struc:"uint16,little"`
	Win32VersionValue           uint32 `struc:"uint32,little"`
	SizeOfImage                 uint32 `struc:"uint32,little"`
	SizeOfHeaders               uint32 `struc:"uint32,little"`
	CheckSum                    uint32 `struc:"uint32,little"`
	Subsystem                   uint16 `struc:"uint16,little"`
	DllCharacteristics          uint16 `struc:"uint16,little"`
	SizeOfStackReserve          uint64 `struc:"uint64,little"`
	SizeOfStackCommit           uint64 `struc:"uint64,little"`
	SizeOfHeapReserve           uint64 `struc:"uint64,little"`
	SizeOfHeapCommit            uint64 `struc:"uint64,little"`
	LoaderFlags                 uint32 `struc:"uint32,little"`
	NumberOfRvaAndSizes         uint32 `struc:"uint32,little"`
}

type imageDataDirectory struct {
	VirtualAddress uint32 `struc:"uint32,little"`
	Size           uint32 `struc:"uint32,little"`
}

type imageSectionHeader struct {
	Name                 [8]byte `struc:"[8]byte"`
	VirtualSize          uint32  `struc:"uint32,little"`
	VirtualAddress       uint32  `struc:"uint32,little"`
	SizeOfRawData        uint32  `struc:"uint32,little"`
	PointerToRawData     uint32  `struc:"uint32,little"`
	PointerToRelocations uint32  `struc:"uint32,little"`
	PointerToLinenumbers uint32  `struc:"uint32,little"`
	NumberOfRelocations  uint16  `struc:"uint16,little"`
	NumberOfLinenumbers  uint16  `struc:"uint16,little"`
	Characteristics      uint32  `struc:"uint32,little"`
}

// Fixed sizes of the optional header before the directory array.
const (
	optionalHeader32Fixed = 96
	optionalHeader64Fixed = 112
)

// unpackAt decodes v from buf[off:], failing when fewer than size bytes remain.
func unpackAt(buf []byte, off, size int, v interface{}) error {
	if off < 0 || size < 0 || off+size > len(buf) {
		return ErrTruncated
	}
	return struc.Unpack(bytes.NewReader(buf[off:off+size]), v)
}

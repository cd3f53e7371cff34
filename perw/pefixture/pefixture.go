// Package pefixture builds small synthetic PE32 and PE32+ images for
// tests. Section file offsets equal their virtual addresses so a file
// page and a mapped page share the same offset.
package pefixture

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"sort"
)

const (
	PageSize = 0x1000

	lfanew          = 0x80
	coffHeaderSize  = 20
	sectionHdrSize  = 40
	optional32Size  = 224
	optional64Size  = 240
	sizeOfHeaders   = 0x400
	machineI386     = 0x14c
	machineAMD64    = 0x8664
	characteristics = 0x2102

	dirBaseReloc   = 5
	dirBoundImport = 11
)

// Section is a section to place in the image. Data is padded to a page
// multiple on disk.
type Section struct {
	Name           string
	VirtualAddress uint32
	VirtualSize    uint32
	Data           []byte
}

type Directory struct {
	Index int
	RVA   uint32
	Size  uint32
}

// Image describes the synthetic image to build.
type Image struct {
	Is64          bool
	ImageBase     uint64
	TimeDateStamp uint32
	CheckSum      uint32
	Sections      []Section

	// Relocs lists RVAs of absolute addresses inside section data. When
	// non-empty a .reloc section is appended after the last section.
	Relocs []uint32

	// HeaderExtra is copied into the header page at HeaderExtraOffset,
	// for directories that live inside the headers.
	HeaderExtra       []byte
	HeaderExtraOffset uint32

	Directories []Directory
}

func alignUp(v, a uint32) uint32 {
	return (v + a - 1) &^ (a - 1)
}

// OptionalHeaderOffset is the file offset of the optional header.
func OptionalHeaderOffset() int {
	return lfanew + 4 + coffHeaderSize
}

// ImageBaseOffset is the file offset of the ImageBase field.
func (img *Image) ImageBaseOffset() int {
	if img.Is64 {
		return OptionalHeaderOffset() + 24
	}
	return OptionalHeaderOffset() + 28
}

// CheckSumOffset is the file offset of the CheckSum field.
func CheckSumOffset() int {
	return OptionalHeaderOffset() + 64
}

func (img *Image) relocSection() (Section, bool) {
	if len(img.Relocs) == 0 {
		return Section{}, false
	}
	rvas := append([]uint32(nil), img.Relocs...)
	sort.Slice(rvas, func(i, j int) bool { return rvas[i] < rvas[j] })

	typ := uint16(3)
	if img.Is64 {
		typ = 10
	}

	var out []byte
	for i := 0; i < len(rvas); {
		page := rvas[i] &^ (PageSize - 1)
		var entries []uint16
		for i < len(rvas) && rvas[i]&^(PageSize-1) == page {
			entries = append(entries, typ<<12|uint16(rvas[i]&0xFFF))
			i++
		}
		if len(entries)%2 == 1 {
			entries = append(entries, 0)
		}
		block := make([]byte, 8+2*len(entries))
		binary.LittleEndian.PutUint32(block[0:], page)
		binary.LittleEndian.PutUint32(block[4:], uint32(len(block)))
		for j, e := range entries {
			binary.LittleEndian.PutUint16(block[8+2*j:], e)
		}
		out = append(out, block...)
	}

	var next uint32 = PageSize
	for _, s := range img.Sections {
		end := alignUp(s.VirtualAddress+max(s.VirtualSize, uint32(len(s.Data))), PageSize)
		next = max(next, end)
	}
	return Section{Name: ".reloc", VirtualAddress: next, VirtualSize: uint32(len(out)), Data: out}, true
}

// Build returns the on-disk bytes of the image.
func (img *Image) Build() []byte {
	sections := append([]Section(nil), img.Sections...)
	dirs := append([]Directory(nil), img.Directories...)
	if rs, ok := img.relocSection(); ok {
		sections = append(sections, rs)
		dirs = append(dirs, Directory{Index: dirBaseReloc, RVA: rs.VirtualAddress, Size: rs.VirtualSize})
	}

	sizeOfImage := uint32(PageSize)
	fileSize := uint32(PageSize)
	for _, s := range sections {
		vsize := max(s.VirtualSize, uint32(len(s.Data)))
		sizeOfImage = max(sizeOfImage, alignUp(s.VirtualAddress+vsize, PageSize))
		if len(s.Data) > 0 {
			fileSize = max(fileSize, s.VirtualAddress+alignUp(uint32(len(s.Data)), PageSize))
		}
	}

	raw := make([]byte, fileSize)
	le := binary.LittleEndian

	raw[0], raw[1] = 'M', 'Z'
	le.PutUint32(raw[0x3C:], lfanew)
	copy(raw[lfanew:], []byte{'P', 'E', 0, 0})

	coff := lfanew + 4
	optSize := optional32Size
	machine := uint16(machineI386)
	if img.Is64 {
		optSize = optional64Size
		machine = machineAMD64
	}
	le.PutUint16(raw[coff:], machine)
	le.PutUint16(raw[coff+2:], uint16(len(sections)))
	le.PutUint32(raw[coff+4:], img.TimeDateStamp)
	le.PutUint16(raw[coff+16:], uint16(optSize))
	le.PutUint16(raw[coff+18:], characteristics)

	opt := OptionalHeaderOffset()
	var baseOfCode uint32 = PageSize
	if len(img.Sections) > 0 {
		baseOfCode = img.Sections[0].VirtualAddress
	}
	dirOff := opt + 96
	if img.Is64 {
		le.PutUint16(raw[opt:], 0x20b)
		le.PutUint64(raw[opt+24:], img.ImageBase)
		le.PutUint32(raw[opt+108:], 16)
		dirOff = opt + 112
	} else {
		le.PutUint16(raw[opt:], 0x10b)
		le.PutUint32(raw[opt+28:], uint32(img.ImageBase))
		le.PutUint32(raw[opt+92:], 16)
	}
	le.PutUint32(raw[opt+20:], baseOfCode)
	le.PutUint32(raw[opt+32:], PageSize)
	le.PutUint32(raw[opt+36:], PageSize)
	le.PutUint32(raw[opt+56:], sizeOfImage)
	le.PutUint32(raw[opt+60:], sizeOfHeaders)
	le.PutUint32(raw[opt+64:], img.CheckSum)
	le.PutUint16(raw[opt+68:], 3)

	for _, d := range dirs {
		le.PutUint32(raw[dirOff+8*d.Index:], d.RVA)
		le.PutUint32(raw[dirOff+8*d.Index+4:], d.Size)
	}

	secTable := opt + optSize
	for i, s := range sections {
		h := secTable + i*sectionHdrSize
		copy(raw[h:h+8], s.Name)
		vsize := max(s.VirtualSize, uint32(len(s.Data)))
		le.PutUint32(raw[h+8:], vsize)
		le.PutUint32(raw[h+12:], s.VirtualAddress)
		if len(s.Data) > 0 {
			le.PutUint32(raw[h+16:], alignUp(uint32(len(s.Data)), PageSize))
			le.PutUint32(raw[h+20:], s.VirtualAddress)
			copy(raw[s.VirtualAddress:], s.Data)
		}
		le.PutUint32(raw[h+36:], 0x60000020)
	}

	if len(img.HeaderExtra) > 0 {
		copy(raw[img.HeaderExtraOffset:], img.HeaderExtra)
	}
	return raw
}

// HeaderPage returns the first page of the built image.
func (img *Image) HeaderPage() []byte {
	page := make([]byte, PageSize)
	copy(page, img.Build())
	return page
}

// MappedPage returns the page at rva as a loader would map it at
// loadBase: file content with every fixup rebased.
func (img *Image) MappedPage(rva uint32, loadBase uint64) []byte {
	raw := img.Build()
	page := make([]byte, PageSize)
	if int(rva) < len(raw) {
		copy(page, raw[rva:])
	}
	delta := loadBase - img.ImageBase
	for _, r := range img.Relocs {
		if r < rva || r >= rva+PageSize {
			continue
		}
		off := r - rva
		if img.Is64 {
			if off+8 > PageSize {
				continue
			}
			binary.LittleEndian.PutUint64(page[off:], binary.LittleEndian.Uint64(page[off:])+delta)
		} else {
			if off+4 > PageSize {
				continue
			}
			binary.LittleEndian.PutUint32(page[off:], binary.LittleEndian.Uint32(page[off:])+uint32(delta))
		}
	}
	return page
}

// WriteFile builds the image into dir/name and returns the full path.
func (img *Image) WriteFile(dir, name string) (string, error) {
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	return path, os.WriteFile(path, img.Build(), 0o644)
}

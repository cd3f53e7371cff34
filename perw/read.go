package perw

import (
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"

	"goldhash/common"
)

var (
	ErrNotPE     = errors.WithMessage(common.ErrParse, "not a PE image")
	ErrTruncated = errors.WithMessage(common.ErrParse, "truncated PE header")
)

// TryParse decodes the PE headers found in buf. Any malformed or
// truncated input yields an error wrapping common.ErrParse.
// TryParse: decodifica gli header PE senza mai andare in panic
func TryParse(buf []byte) (info *ImageInfo, err error) {
	defer func() {
		if r := recover(); r != nil {
			info, err = nil, errors.Wrapf(ErrNotPE, "decode panic: %v", r)
		}
	}()

	var dos imageDOSHeader
	if err := unpackAt(buf, 0, dosHeaderSize, &dos); err != nil {
		return nil, err
	}
	if dos.Magic != imageDOSSignature {
		return nil, ErrNotPE
	}

	ntOff := int(dos.Lfanew)
	if ntOff < 4 || ntOff > len(buf) {
		return nil, errors.Wrapf(ErrNotPE, "e_lfanew 0x%X outside header page", dos.Lfanew)
	}
	var fh imageNTFileHeader
	if err := unpackAt(buf, ntOff, 4+fileHeaderSize, &fh); err != nil {
		return nil, err
	}
	if fh.Signature != imageNTSignature {
		return nil, ErrNotPE
	}
	if fh.NumberOfSections > maxSections {
		return nil, errors.Wrapf(ErrNotPE, "%d sections", fh.NumberOfSections)
	}

	optOff := ntOff + 4 + fileHeaderSize
	if optOff+2 > len(buf) {
		return nil, ErrTruncated
	}
	info = &ImageInfo{
		Machine:        fh.Machine,
		TimeDateStamp:  fh.TimeDateStamp,
		CheckSumOffset: optOff + 64,
	}

	var dirOff, fixed int
	var numDirs uint32
	switch magic := uint16(buf[optOff]) | uint16(buf[optOff+1])<<8; magic {
	case magicPE32:
		var oh imageOptionalHeader32
		if err := unpackAt(buf, optOff, optionalHeader32Fixed, &oh); err != nil {
			return nil, err
		}
		info.ImageBase = uint64(oh.ImageBase)
		info.SizeOfImage = oh.SizeOfImage
		info.SizeOfHeaders = oh.SizeOfHeaders
		info.BaseOfCode = oh.BaseOfCode
		info.CheckSum = oh.CheckSum
		info.ImageBaseOffset = optOff + 28
		fixed, numDirs = optionalHeader32Fixed, oh.NumberOfRvaAndSizes
	case magicPE32Plus:
		var oh imageOptionalHeader64
		if err := unpackAt(buf, optOff, optionalHeader64Fixed, &oh); err != nil {
			return nil, err
		}
		info.Is64Bit = true
		info.ImageBase = oh.ImageBase
		info.SizeOfImage = oh.SizeOfImage
		info.SizeOfHeaders = oh.SizeOfHeaders
		info.BaseOfCode = oh.BaseOfCode
		info.CheckSum = oh.CheckSum
		info.ImageBaseOffset = optOff + 24
		fixed, numDirs = optionalHeader64Fixed, oh.NumberOfRvaAndSizes
	default:
		return nil, errors.Wrapf(ErrNotPE, "optional header magic 0x%X", magic)
	}
	if info.SizeOfImage == 0 {
		return nil, errors.Wrap(ErrNotPE, "zero SizeOfImage")
	}

	dirOff = optOff + fixed
	if room := (int(fh.SizeOfOptionalHeader) - fixed) / 8; room < int(numDirs) {
		numDirs = uint32(max(room, 0))
	}
	for i := 0; i < int(min(numDirs, NumDirectories)); i++ {
		var dd imageDataDirectory
		if err := unpackAt(buf, dirOff+i*8, 8, &dd); err != nil {
			return nil, err
		}
		info.Directories[i] = DirectoryEntry{RVA: dd.VirtualAddress, Size: dd.Size}
	}

	secOff := optOff + int(fh.SizeOfOptionalHeader)
	info.Sections = make([]Section, 0, fh.NumberOfSections)
	for i := 0; i < int(fh.NumberOfSections); i++ {
		var sh imageSectionHeader
		if err := unpackAt(buf, secOff+i*sectionHeaderSize, sectionHeaderSize, &sh); err != nil {
			return nil, err
		}
		info.Sections = append(info.Sections, Section{
			Name:             sectionName(sh.Name),
			VirtualAddress:   sh.VirtualAddress,
			VirtualSize:      sh.VirtualSize,
			PointerToRawData: sh.PointerToRawData,
			SizeOfRawData:    sh.SizeOfRawData,
		})
	}

	return info, nil
}

func sectionName(raw [sectionNameSize]byte) string {
	return strings.TrimRight(string(raw[:]), "\x00")
}

// ReadHeaderPage reads the first page of r. Short files are zero padded.
// ReadHeaderPage: legge la prima pagina, con padding a zero
func ReadHeaderPage(r io.ReaderAt) ([]byte, error) {
	page := make([]byte, common.PageSize)
	n, err := r.ReadAt(page, 0)
	if err != nil && err != io.EOF {
		return nil, errors.WithMessagef(common.ErrIO, "read header page: %v", err)
	}
	if n == 0 {
		return nil, ErrTruncated
	}
	return page, nil
}

// ReadImageHeader opens path and parses its header page.
// ReadImageHeader: apre il file e analizza la pagina degli header
func ReadImageHeader(path string) (*ImageInfo, []byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, errors.Wrapf(common.ErrIO, "open %s: %v", path, err)
	}
	defer func(f *os.File) {
		_ = f.Close()
	}(f)

	page, err := ReadHeaderPage(f)
	if err != nil {
		return nil, nil, err
	}
	info, err := TryParse(page)
	if err != nil {
		return nil, nil, errors.WithMessage(err, path)
	}
	return info, page, nil
}

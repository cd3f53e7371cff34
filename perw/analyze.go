package perw

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/Binject/debug/pe"
	"github.com/google/uuid"
	"github.com/lunixbochs/struc"
	"github.com/pkg/errors"
)

const (
	debugTypeCodeView = 2
	rsdsSignature     = 0x53445352
	debugEntrySize    = 28
)

var directoryNames = [NumDirectories]string{
	"Export", "Import", "Resource", "Exception", "Security", "BaseReloc", "Debug",
	"Architecture", "GlobalPtr", "TLS", "LoadConfig", "BoundImport", "IAT",
	"DelayImport", "CLR",
}

type imageDebugDirectory struct {
	Characteristics  uint32 `struc:"uint32,little"`
	TimeDateStamp    uint32 `struc:"uint32,little"`
	MajorVersion     uint16 `struc:"uint16,little"`
	MinorVersion     uint16 `struc:"uint16,little"`
	Type             uint32 `struc:"uint32,little"`
	SizeOfData       uint32 `struc:"uint32,little"`
	AddressOfRawData uint32 `struc:"uint32,little"`
	PointerToRawData uint32 `struc:"uint32,little"`
}

type cvInfoPDB70 struct {
	Signature uint32   `struc:"uint32,little"`
	GUID      [16]byte `struc:"[16]byte"`
	Age       uint32   `struc:"uint32,little"`
}

// DebugInfo is the CodeView identity recorded in an image.
type DebugInfo struct {
	PDB  string
	GUID uuid.UUID
	Age  uint32
}

// GUIDAge renders the identifier used by symbol servers.
func (d DebugInfo) GUIDAge() string {
	return strings.ToUpper(strings.ReplaceAll(d.GUID.String(), "-", "")) + fmt.Sprintf("%X", d.Age)
}

// ReadDebugInfo returns the RSDS CodeView record of the image at path,
// or nil when it has none.
// ReadDebugInfo: legge il record CodeView RSDS
func ReadDebugInfo(path string) (*DebugInfo, error) {
	f, err := pe.Open(path)
	if err != nil {
		return nil, errors.Wrapf(ErrNotPE, "open %s: %v", path, err)
	}
	defer func(f *pe.File) {
		_ = f.Close()
	}(f)

	dir, err := dataDirectory(f, DirDebug)
	if err != nil {
		return nil, err
	}
	raw, err := directoryBytes(f, dir)
	if err != nil || raw == nil {
		return nil, err
	}

	for off := 0; off+debugEntrySize <= len(raw); off += debugEntrySize {
		var entry imageDebugDirectory
		if err := struc.Unpack(bytes.NewReader(raw[off:off+debugEntrySize]), &entry); err != nil {
			return nil, errors.WithStack(err)
		}
		if entry.Type != debugTypeCodeView || entry.SizeOfData < 24 {
			continue
		}
		data, err := directoryBytes(f, pe.DataDirectory{VirtualAddress: entry.AddressOfRawData, Size: entry.SizeOfData})
		if err != nil || len(data) < 24 {
			continue
		}
		var cv cvInfoPDB70
		if err := struc.Unpack(bytes.NewReader(data[:24]), &cv); err != nil || cv.Signature != rsdsSignature {
			continue
		}
		name := data[24:]
		if i := bytes.IndexByte(name, 0); i >= 0 {
			name = name[:i]
		}
		return &DebugInfo{PDB: string(name), GUID: guidFromCodeView(cv.GUID), Age: cv.Age}, nil
	}
	return nil, nil
}

// guidFromCodeView converts the mixed-endian GUID layout to RFC 4122 order.
func guidFromCodeView(raw [16]byte) uuid.UUID {
	var u uuid.UUID
	binary.BigEndian.PutUint32(u[0:], binary.LittleEndian.Uint32(raw[0:]))
	binary.BigEndian.PutUint16(u[4:], binary.LittleEndian.Uint16(raw[4:]))
	binary.BigEndian.PutUint16(u[6:], binary.LittleEndian.Uint16(raw[6:]))
	copy(u[8:], raw[8:])
	return u
}

// Describe writes a summary of a reference image: the header fields used
// for verification, sections, directories, relocations and debug identity.
// Describe: stampa un riepilogo dell'immagine di riferimento
func Describe(w io.Writer, path string) error {
	info, _, err := ReadImageHeader(path)
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintln(w, "📁 REFERENCE IMAGE")
	_, _ = fmt.Fprintln(w, "═══════════════════")
	_, _ = fmt.Fprintf(w, "File Name:       %s\n", path)
	_, _ = fmt.Fprintf(w, "Architecture:    %s\n", map[bool]string{true: "x64 (PE32+)", false: "x86 (PE32)"}[info.Is64Bit])
	_, _ = fmt.Fprintf(w, "Machine Type:    0x%04X\n", info.Machine)
	_, _ = fmt.Fprintf(w, "Compile Time:    %s (0x%08X)\n",
		time.Unix(int64(info.TimeDateStamp), 0).UTC().Format("2006-01-02 15:04:05 MST"), info.TimeDateStamp)
	_, _ = fmt.Fprintf(w, "Image Base:      0x%X\n", info.ImageBase)
	_, _ = fmt.Fprintf(w, "Size of Image:   0x%X\n", info.SizeOfImage)
	_, _ = fmt.Fprintf(w, "Size of Headers: 0x%X\n", info.SizeOfHeaders)
	_, _ = fmt.Fprintf(w, "Base of Code:    0x%X\n", info.BaseOfCode)
	if info.CheckSum != 0 {
		_, _ = fmt.Fprintf(w, "Checksum:        0x%X (field at +0x%X)\n", info.CheckSum, info.CheckSumOffset)
	} else {
		_, _ = fmt.Fprintf(w, "Checksum:        Not set\n")
	}

	_, _ = fmt.Fprintf(w, "\n📦 SECTIONS (%d):\n", len(info.Sections))
	for _, s := range info.Sections {
		_, _ = fmt.Fprintf(w, "  %-8s VA 0x%08X  VSize 0x%08X  Raw 0x%08X  RawSize 0x%08X\n",
			s.Name, s.VirtualAddress, s.VirtualSize, s.PointerToRawData, s.SizeOfRawData)
	}

	_, _ = fmt.Fprintln(w, "\n🗂️  DATA DIRECTORIES:")
	for i, d := range info.Directories {
		if d.RVA == 0 && d.Size == 0 {
			continue
		}
		where := ""
		if uint64(d.RVA)+uint64(d.Size) < headerPageLimit {
			where = "  (inside header page)"
		}
		_, _ = fmt.Fprintf(w, "  %-13s RVA 0x%08X  Size 0x%X%s\n", directoryNames[i], d.RVA, d.Size, where)
	}

	relocs, err := LoadRelocations(path)
	switch {
	case err != nil:
		_, _ = fmt.Fprintf(w, "\nRelocations:     ⚠️ %v\n", err)
	case len(relocs) == 0:
		_, _ = fmt.Fprintf(w, "\nRelocations:     none (fixed base)\n")
	default:
		_, _ = fmt.Fprintf(w, "\nRelocations:     %d fixups\n", len(relocs))
	}

	dbg, err := ReadDebugInfo(path)
	if err == nil && dbg != nil {
		_, _ = fmt.Fprintf(w, "\n🐛 DEBUG INFO:\n")
		_, _ = fmt.Fprintf(w, "PDB:             %s\n", dbg.PDB)
		_, _ = fmt.Fprintf(w, "GUID/Age:        %s\n", dbg.GUIDAge())
	}
	return nil
}

package perw

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"

	"github.com/google/uuid"

	"goldhash/perw/pefixture"
)

func debugFixture(pdb string, guid [16]byte, age uint32) pefixture.Image {
	rdata := make([]byte, 0x1000)
	cvSize := uint32(24 + len(pdb) + 1)
	binary.LittleEndian.PutUint32(rdata[12:], debugTypeCodeView)
	binary.LittleEndian.PutUint32(rdata[16:], cvSize)
	binary.LittleEndian.PutUint32(rdata[20:], 0x3040)
	binary.LittleEndian.PutUint32(rdata[24:], 0x3040)

	binary.LittleEndian.PutUint32(rdata[0x40:], rsdsSignature)
	copy(rdata[0x44:], guid[:])
	binary.LittleEndian.PutUint32(rdata[0x54:], age)
	copy(rdata[0x58:], pdb)

	return pefixture.Image{
		Is64: true, ImageBase: 0x180000000, TimeDateStamp: 0x60000000,
		Sections: []pefixture.Section{
			textSection(0x1000, 0xC3),
			{Name: ".rdata", VirtualAddress: 0x3000, Data: rdata},
		},
		Relocs:      []uint32{0x1100},
		Directories: []pefixture.Directory{{Index: DirDebug, RVA: 0x3000, Size: debugEntrySize}},
	}
}

func TestGUIDFromCodeView(t *testing.T) {
	raw := [16]byte{0x78, 0x56, 0x34, 0x12, 0x34, 0x12, 0x78, 0x56, 1, 2, 3, 4, 5, 6, 7, 8}
	want := uuid.MustParse("12345678-1234-5678-0102-030405060708")
	if got := guidFromCodeView(raw); got != want {
		t.Fatalf("guidFromCodeView = %s, want %s", got, want)
	}
}

func TestReadDebugInfoAndDescribe(t *testing.T) {
	guid := [16]byte{0x78, 0x56, 0x34, 0x12, 0x34, 0x12, 0x78, 0x56, 1, 2, 3, 4, 5, 6, 7, 8}
	img := debugFixture(`C:\build\gold.pdb`, guid, 3)
	path, err := img.WriteFile(t.TempDir(), "gold.dll")
	if err != nil {
		t.Fatal(err)
	}

	dbg, err := ReadDebugInfo(path)
	if err != nil {
		t.Fatalf("ReadDebugInfo failed: %v", err)
	}
	if dbg == nil {
		t.Fatal("no debug info found")
	}
	if dbg.PDB != `C:\build\gold.pdb` || dbg.Age != 3 {
		t.Errorf("unexpected debug info: %+v", dbg)
	}
	if dbg.GUIDAge() != "12345678123456780102030405060708"+"3" {
		t.Errorf("GUIDAge = %s", dbg.GUIDAge())
	}

	var out bytes.Buffer
	if err := Describe(&out, path); err != nil {
		t.Fatalf("Describe failed: %v", err)
	}
	for _, want := range []string{
		"Image Base:      0x180000000",
		"Relocations:     1 fixups",
		".rdata",
		"Debug",
		`C:\build\gold.pdb`,
	} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("Describe output missing %q:\n%s", want, out.String())
		}
	}
}

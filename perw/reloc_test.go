package perw

import (
	"encoding/binary"
	"testing"

	"goldhash/perw/pefixture"
)

func relocBlock(page uint32, entries ...uint16) []byte {
	b := make([]byte, 8+2*len(entries))
	binary.LittleEndian.PutUint32(b, page)
	binary.LittleEndian.PutUint32(b[4:], uint32(len(b)))
	for i, e := range entries {
		binary.LittleEndian.PutUint16(b[8+2*i:], e)
	}
	return b
}

func TestProcessRelocations(t *testing.T) {
	var raw []byte
	raw = append(raw, relocBlock(0x2000, 0x3010, 0xA008, 0x0000, 0x1004)...)
	raw = append(raw, relocBlock(0x1000, 0x3FFC, 0x3000)...)

	got := ProcessRelocations(raw)
	want := RelocationSet{
		{RVA: 0x1000, Width: 4},
		{RVA: 0x1FFC, Width: 4},
		{RVA: 0x2008, Width: 8},
		{RVA: 0x2010, Width: 4},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d relocations %+v, want %d", len(got), got, len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("reloc %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestProcessRelocationsMalformed(t *testing.T) {
	good := relocBlock(0x1000, 0x3004)
	bad := relocBlock(0x2000, 0x3008)
	binary.LittleEndian.PutUint32(bad[4:], 0x400)

	got := ProcessRelocations(append(good, bad...))
	if len(got) != 1 || got[0].RVA != 0x1004 {
		t.Fatalf("expected parsing to stop at the oversized block, got %+v", got)
	}
	if n := len(ProcessRelocations([]byte{1, 2, 3})); n != 0 {
		t.Fatalf("short input produced %d relocations", n)
	}
}

func TestExtractRelocationDirectory(t *testing.T) {
	dir := t.TempDir()

	withRelocs := pefixture.Image{ImageBase: 0x10000000, TimeDateStamp: 0x5000_0000,
		Sections: []pefixture.Section{textSection(0x1000, 0x90)},
		Relocs:   []uint32{0x1100, 0x1200, 0x2004}}
	path, err := withRelocs.WriteFile(dir, "with.dll")
	if err != nil {
		t.Fatal(err)
	}

	relocs, err := LoadRelocations(path)
	if err != nil {
		t.Fatalf("LoadRelocations failed: %v", err)
	}
	if len(relocs) != 3 || relocs[0].RVA != 0x1100 || relocs[2].RVA != 0x2004 {
		t.Fatalf("unexpected relocations: %+v", relocs)
	}

	fixed := pefixture.Image{ImageBase: 0x10000000, TimeDateStamp: 0x5000_0000,
		Sections: []pefixture.Section{textSection(0x1000, 0x90)}}
	path, err = fixed.WriteFile(dir, "fixed.dll")
	if err != nil {
		t.Fatal(err)
	}
	raw, err := ExtractRelocationDirectory(path)
	if err != nil {
		t.Fatalf("ExtractRelocationDirectory failed: %v", err)
	}
	if raw != nil {
		t.Fatalf("expected no relocation directory, got %d bytes", len(raw))
	}
}

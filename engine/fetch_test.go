package engine

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"net/url"
	"os"
	"testing"

	"github.com/pkg/errors"

	"goldhash/catalog"
	"goldhash/common"
	"goldhash/perw"
)

func fetchAll(t *testing.T, eng *Engine, query url.Values) []byte {
	t.Helper()
	res, err := eng.Fetch(context.Background(), query)
	if err != nil {
		t.Fatalf("Fetch(%v): %v", query, err)
	}
	defer func(b io.ReadCloser) {
		_ = b.Close()
	}(res.Body)
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatal(err)
	}
	if int64(len(data)) != res.Size {
		t.Errorf("Size = %d, read %d bytes", res.Size, len(data))
	}
	return data
}

func TestFetchVerbatim(t *testing.T) {
	f := newFixture(t, referenceImage(false, 0x10000000), nil)
	want, err := os.ReadFile(f.path)
	if err != nil {
		t.Fatal(err)
	}
	got := fetchAll(t, f.eng, url.Values{"File": {"target.dll"}})
	if !bytes.Equal(got, want) {
		t.Error("verbatim fetch differs from the file")
	}
}

func TestFetchMappedNativeBase(t *testing.T) {
	f := newFixture(t, referenceImage(true, 0x180000000), nil)
	got := fetchAll(t, f.eng, url.Values{"file": {"target.dll"}, "mapped": {"0x180000000"}})

	if uint32(len(got)) != f.info.SizeOfImage {
		t.Fatalf("mapped image is 0x%X bytes, want 0x%X", len(got), f.info.SizeOfImage)
	}
	hdr := f.img.HeaderPage()
	perw.TrimHeaderPage(hdr, f.info)
	if !bytes.Equal(got[:common.PageSize], hdr) {
		t.Error("header page is not the trimmed reference header")
	}
	for _, rva := range []uint32{0x1000, 0x2000} {
		if !bytes.Equal(got[rva:rva+common.PageSize], f.img.MappedPage(rva, f.img.ImageBase)) {
			t.Errorf("page 0x%X differs from the file page", rva)
		}
	}
	if f.deloc.headers != 0 || f.deloc.pages != 0 {
		t.Errorf("delocation invoked at the native base")
	}
}

func TestFetchMappedRebased(t *testing.T) {
	f := newFixture(t, referenceImage(false, 0x10000000), nil)
	got := fetchAll(t, f.eng, url.Values{"file": {"target.dll"}, "mapped": {"4194304"}})

	if base := binary.LittleEndian.Uint32(got[f.info.ImageBaseOffset:]); base != clientBase {
		t.Errorf("header image base = 0x%X, want 0x%X", base, clientBase)
	}
	if sum := binary.LittleEndian.Uint32(got[f.info.CheckSumOffset:]); sum != 0 {
		t.Errorf("header checksum = 0x%X, want 0", sum)
	}
	for _, rva := range []uint32{0x1000, 0x2000} {
		if !bytes.Equal(got[rva:rva+common.PageSize], f.img.MappedPage(rva, clientBase)) {
			t.Errorf("page 0x%X is not rebased to 0x%X", rva, clientBase)
		}
	}
}

func TestFetchPicksByIdentity(t *testing.T) {
	f := newFixture(t, referenceImage(false, clientBase), nil)

	older := referenceImage(false, clientBase)
	older.TimeDateStamp = 0x40000000
	oldPath, err := older.WriteFile(t.TempDir(), "target.dll")
	if err != nil {
		t.Fatal(err)
	}
	f.cat.Insert(oldPath, catalog.Record{SizeOfImage: f.info.SizeOfImage, TimeStamp: 0x40000000, Path: oldPath})

	tests := []struct {
		name  string
		query url.Values
		want  string
	}{
		{"by path", url.Values{"file": {oldPath}}, oldPath},
		{"by timedate", url.Values{"file": {"target.dll"}, "timedate": {"0x40000000"}}, oldPath},
		{"by timedate decimal", url.Values{"file": {"target.dll"}, "timedate": {"1579817728"}}, f.path},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := f.eng.Fetch(context.Background(), tt.query)
			if err != nil {
				t.Fatal(err)
			}
			_ = res.Body.Close()
			if res.Path != tt.want {
				t.Errorf("Path = %q, want %q", res.Path, tt.want)
			}
		})
	}
}

func TestFetchErrors(t *testing.T) {
	f := newFixture(t, referenceImage(false, clientBase), nil)

	tests := []struct {
		name  string
		query url.Values
		class error
	}{
		{"missing file", url.Values{}, common.ErrInputValidation},
		{"parent reference", url.Values{"file": {"..\\target.dll"}}, common.ErrInputValidation},
		{"parent reference inside path", url.Values{"file": {"/ref/../ref/target.dll"}}, common.ErrInputValidation},
		{"bad mapped base", url.Values{"file": {"target.dll"}, "mapped": {"zz"}}, common.ErrInputValidation},
		{"unknown module", url.Values{"file": {"absent.dll"}}, common.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := f.eng.Fetch(context.Background(), tt.query)
			if err == nil {
				_ = res.Body.Close()
				t.Fatal("expected an error")
			}
			if !errors.Is(err, tt.class) {
				t.Errorf("error %v is not %v", err, tt.class)
			}
		})
	}
}

func TestFetchMappedClearsBoundImportSpan(t *testing.T) {
	f := newFixture(t, boundImportImage(0x10000000), nil)
	got := fetchAll(t, f.eng, url.Values{"file": {"target.dll"}, "mapped": {"0x400000"}})

	want := f.img.MappedPage(0x1000, clientBase)
	clear(want[:boundImportSpan])
	if !bytes.Equal(got[0x1000:0x2000], want) {
		t.Errorf("code page = % X..., want % X...", got[0x1000:0x1020], want[:0x20])
	}
	if hdr := got[0x300:0x320]; !bytes.Equal(hdr, make([]byte, 0x20)) {
		t.Errorf("bound import table left in header: % X", hdr)
	}

	native := fetchAll(t, f.eng, url.Values{"file": {"target.dll"}, "mapped": {"0x10000000"}})
	if !bytes.Equal(native[0x1000:0x2000], f.img.MappedPage(0x1000, f.img.ImageBase)) {
		t.Error("native base fetch cleared the code page")
	}
}

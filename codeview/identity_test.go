package codeview

import (
	"net/url"
	"testing"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"goldhash/common"
)

func TestParseNumbers(t *testing.T) {
	tests := []struct {
		in      string
		want    uint64
		wantErr bool
	}{
		{"0x1000", 4096, false},
		{"4096", 4096, false},
		{"  '4096',  ", 4096, false},
		{`"0x7FF6A0000000"&`, 0x7FF6A0000000, false},
		{"1A2B", 0x1A2B, false},
		{"?=0X10.", 16, false},
		{"fish", 0, true},
		{"0xZZ", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseUint64(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseUint64(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseUint64(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}

	if _, err := ParseUint32("0x100000000"); err == nil {
		t.Error("ParseUint32 accepted a 33-bit value")
	}
	if _, err := ParseUint32("   "); !errors.Is(err, ErrEmpty) {
		t.Errorf("blank input error = %v, want ErrEmpty", err)
	}
}

func TestFromValues(t *testing.T) {
	q := url.Values{
		"NAME":     {"ntdll.dll"},
		"pdb":      {"ntdll.pdb"},
		"TimeDate": {"0x5A5A5A5A"},
		"vsize":    {"'1966080'"},
		"baseva":   {"0x7FFB1C000000"},
		"age":      {"1"},
		"guid":     {"{1B2D1C3E-6F4A-4B5C-9D8E-7F6A5B4C3D2E}"},
		"symname":  {"NtClose"},
	}
	id, err := FromValues(q)
	if err != nil {
		t.Fatalf("FromValues failed: %v", err)
	}
	if !id.FullyParsed {
		t.Error("expected FullyParsed")
	}
	if id.Name != "ntdll.dll" || id.PdbName != "ntdll.pdb" || id.SymName != "NtClose" {
		t.Errorf("unexpected names: %+v", id)
	}
	if id.TimeDateStamp != 0x5A5A5A5A || id.VSize != 1966080 || id.BaseVA != 0x7FFB1C000000 || id.Age != 1 {
		t.Errorf("unexpected numbers: %+v", id)
	}
	if id.GUID != uuid.MustParse("1B2D1C3E-6F4A-4B5C-9D8E-7F6A5B4C3D2E") {
		t.Errorf("GUID = %s", id.GUID)
	}
}

func TestFromValuesNotFullyParsed(t *testing.T) {
	id, err := FromValues(url.Values{"name": {"foo.dll"}, "vsize": {"lots"}, "sig": {"12"}})
	if err != nil {
		t.Fatal(err)
	}
	if id.FullyParsed {
		t.Error("FullyParsed should be false")
	}
	if id.VSize != 0 || id.Sig != 12 {
		t.Errorf("VSize = %d, Sig = %d", id.VSize, id.Sig)
	}
}

func TestFromValuesRejects(t *testing.T) {
	tests := []struct {
		name string
		q    url.Values
	}{
		{"dotdot name", url.Values{"name": {"..foo.dll"}}},
		{"dotdot pdb", url.Values{"pdb": {"a..pdb"}}},
		{"separator", url.Values{"name": {`dir\foo.dll`}}},
		{"volume", url.Values{"pdb": {"c:foo.pdb"}}},
		{"control", url.Values{"name": {"foo\x07.dll"}}},
		{"symbol", url.Values{"name": {"foo™.dll"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := FromValues(tt.q)
			if err == nil {
				t.Fatalf("expected rejection, got %+v", id)
			}
			if !errors.Is(err, common.ErrInputValidation) {
				t.Errorf("error %v is not an input validation error", err)
			}
		})
	}
}

package common

import "testing"

func TestBaseName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{`C:\Windows\System32\ntdll.dll`, "ntdll.dll"},
		{"/usr/lib/foo.dll", "foo.dll"},
		{`C:/mixed\path/kernel32.dll`, "kernel32.dll"},
		{"bare.exe", "bare.exe"},
		{`trailing\`, ""},
	}
	for _, tt := range tests {
		if got := BaseName(tt.in); got != tt.want {
			t.Errorf("BaseName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestValidModuleBase(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{"plain dll", "ntdll.dll", true},
		{"too short", "a.b", false},
		{"four chars", "a.sy", true},
		{"three runes, six bytes", "äöü", false},
		{"four runes", "äö.ü", true},
		{"dot dot", "..foo.dll", false},
		{"wildcard", "foo*.dll", false},
		{"volume separator", "c:foo.dll", false},
		{"list separator", "foo;.dll", false},
		{"control", "foo\x01.dll", false},
		{"symbol", "foo\u00a9.dll", false},
		{"invalid utf8", "foo\xff.dll", false},
		{"unicode letter", "fü.dll", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidModuleBase(tt.input); got != tt.want {
				t.Errorf("ValidModuleBase(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestSamePath(t *testing.T) {
	if !SamePath(`C:\Gold\System32\NTDLL.dll`, "/gold/system32/ntdll.dll") {
		t.Error("expected drive-less, case-insensitive match")
	}
	if !SamePath(`D:\a\b.dll`, `C:\a\b.dll`) {
		t.Error("drive letter should be ignored")
	}
	if SamePath(`C:\a\b.dll`, `C:\a\c.dll`) {
		t.Error("different files reported as equal")
	}
}

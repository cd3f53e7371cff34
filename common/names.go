package common

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const invalidFileNameChars = "<>:\"/\\|?*;"

// BaseName returns the last path segment of p, splitting on both
// Windows and POSIX separators regardless of the host.
func BaseName(p string) string {
	if i := strings.LastIndexAny(p, `/\`); i >= 0 {
		return p[i+1:]
	}
	return p
}

// HasDisallowedRune reports whether s carries a path separator, a volume
// or list separator, a control character, a symbol or an invalid code
// point.
func HasDisallowedRune(s string) bool {
	for _, r := range s {
		switch {
		case r == utf8.RuneError:
			return true
		case r >= 0xD800 && r <= 0xDFFF:
			return true
		case unicode.IsControl(r), unicode.IsSymbol(r):
			return true
		case r == '/', r == '\\', r == ':', r == ';':
			return true
		}
	}
	return false
}

// ValidModuleBase checks a reported module file name before it is used
// as a catalog key.
func ValidModuleBase(name string) bool {
	if utf8.RuneCountInString(name) < 4 || strings.Contains(name, "..") {
		return false
	}
	if strings.ContainsAny(name, invalidFileNameChars) {
		return false
	}
	return !HasDisallowedRune(name)
}

// StripDrive drops a leading "X:" volume prefix so paths reported from a
// Windows host compare against catalog paths from any host.
func StripDrive(p string) string {
	if len(p) >= 2 && p[1] == ':' {
		return p[2:]
	}
	return p
}

// SamePath compares two file paths ignoring drive letters, separator
// style and case.
func SamePath(a, b string) bool {
	norm := func(s string) string {
		return strings.ReplaceAll(StripDrive(s), `\`, "/")
	}
	return strings.EqualFold(norm(a), norm(b))
}

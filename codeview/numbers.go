package codeview

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/pkg/errors"

	"goldhash/common"
)

// ErrEmpty marks a numeric field that was not supplied.
var ErrEmpty = errors.New("empty value")

const trimSet = "\"'?&=.,"

func cleanNumber(s string) string {
	return strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsControl(r) || strings.ContainsRune(trimSet, r)
	})
}

// ParseUint64 accepts 0x-prefixed hexadecimal or decimal text. Values
// that fail as decimal are retried as bare hexadecimal.
func ParseUint64(s string) (uint64, error) {
	return parseUint(s, 64)
}

// ParseUint32 is ParseUint64 limited to 32 bits.
func ParseUint32(s string) (uint32, error) {
	v, err := parseUint(s, 32)
	return uint32(v), err
}

func parseUint(s string, bits int) (uint64, error) {
	c := cleanNumber(s)
	if c == "" {
		return 0, ErrEmpty
	}
	if len(c) > 2 && (c[:2] == "0x" || c[:2] == "0X") {
		v, err := strconv.ParseUint(c[2:], 16, bits)
		if err != nil {
			return 0, errors.Wrapf(common.ErrInputValidation, "parse %q: %v", s, err)
		}
		return v, nil
	}
	if v, err := strconv.ParseUint(c, 10, bits); err == nil {
		return v, nil
	}
	v, err := strconv.ParseUint(c, 16, bits)
	if err != nil {
		return 0, errors.Wrapf(common.ErrInputValidation, "parse %q: %v", s, err)
	}
	return v, nil
}

package common

import (
	"crypto/sha256"
	"encoding/base64"
	"testing"
)

func TestPageDigest(t *testing.T) {
	page := make([]byte, PageSize)
	page[17] = 0x90

	sum := sha256.Sum256(page)
	want := base64.StdEncoding.EncodeToString(sum[:])
	if got := PageDigest(page); got != want {
		t.Fatalf("PageDigest = %s, want %s", got, want)
	}

	page[17] = 0xCC
	if PageDigest(page) == want {
		t.Fatal("digest did not change with content")
	}
}

func TestIsRequestFatal(t *testing.T) {
	if IsRequestFatal(nil) {
		t.Error("nil error reported fatal")
	}
	if !IsRequestFatal(ErrRange) {
		t.Error("ErrRange not classified")
	}
}

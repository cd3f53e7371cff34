package common

import (
	"crypto/sha256"
	"encoding/base64"
)

// PageSize is the comparison granularity for memory and file content.
const PageSize = 0x1000

// PageDigest returns the base64 encoded SHA-256 of a page, the same
// encoding the monitoring agent reports.
func PageDigest(page []byte) string {
	sum := sha256.Sum256(page)
	return base64.StdEncoding.EncodeToString(sum[:])
}

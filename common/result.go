package common

import "fmt"

// ScanResult is the outcome of examining one file during a catalog build.
type ScanResult struct {
	Path    string
	Indexed bool
	Reason  string
	Err     error
}

// NewIndexed creates a result for a file that was added to the catalog
func NewIndexed(path string) ScanResult {
	return ScanResult{Path: path, Indexed: true}
}

// NewSkipped creates a result for a readable file that is not a PE image
func NewSkipped(path, reason string) ScanResult {
	return ScanResult{Path: path, Reason: reason}
}

// NewFailed creates a result for a file that could not be read
func NewFailed(path string, err error) ScanResult {
	return ScanResult{Path: path, Err: err, Reason: "error"}
}

// String returns a human-readable representation
func (r ScanResult) String() string {
	switch {
	case r.Indexed:
		return fmt.Sprintf("INDEXED (%s)", r.Path)
	case r.Err != nil:
		return fmt.Sprintf("FAILED (%s: %v)", r.Path, r.Err)
	default:
		return fmt.Sprintf("SKIPPED (%s, %s)", r.Path, r.Reason)
	}
}

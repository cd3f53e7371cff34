package common

import "github.com/pkg/errors"

// Error classes shared across packages. Callers wrap them with
// errors.Wrap and classify with errors.Is.
var (
	ErrInputValidation = errors.New("invalid input")
	ErrNotFound        = errors.New("reference image not found")
	ErrParse           = errors.New("unrecognized image format")
	ErrRange           = errors.New("address out of range")
	ErrIO              = errors.New("i/o failure")
)

// IsRequestFatal reports whether err should collapse a verification
// request into the all-false response.
func IsRequestFatal(err error) bool {
	for _, class := range []error{ErrInputValidation, ErrNotFound, ErrParse, ErrRange, ErrIO} {
		if errors.Is(err, class) {
			return true
		}
	}
	return false
}

package serialization

import (
	"errors"
	"fmt"
)

// Common errors.
var (
	ErrChecksumMismatch   = errors.New("checksum mismatch: file may be corrupted")
	ErrInvalidMagic       = errors.New("invalid magic bytes")
	ErrUnsupportedVersion = errors.New("unsupported format version")
	ErrHeaderTooLarge     = errors.New("header exceeds maximum size")
	ErrTruncated          = errors.New("file is truncated")
	ErrTensorNotFound     = errors.New("tensor not found")
	ErrNotCheckpoint      = errors.New("file is not a checkpoint")
)

// ValidationError provides detailed information about validation failures.
type ValidationError struct {
	Type    string // e.g. "offset_overlap", "out_of_bounds"
	Tensor  string
	Tensor2 string // Second tensor for overlap errors
	Details string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	switch {
	case e.Tensor2 != "":
		return fmt.Sprintf("%s: tensors %q and %q: %s", e.Type, e.Tensor, e.Tensor2, e.Details)
	case e.Tensor != "":
		return fmt.Sprintf("%s: tensor %q: %s", e.Type, e.Tensor, e.Details)
	default:
		return fmt.Sprintf("%s: %s", e.Type, e.Details)
	}
}

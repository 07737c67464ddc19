package serialization

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
)

// Validation limits.
const (
	MaxHeaderSize    = 16 * 1024 * 1024
	MaxTensorCount   = 10_000
	MaxTensorNameLen = 1024
)

// ValidationLevel controls the strictness of validation.
type ValidationLevel int

const (
	// ValidationStrict checks names and offsets (default).
	ValidationStrict ValidationLevel = iota
	// ValidationNormal checks names only.
	ValidationNormal
	// ValidationNone skips validation. Use only with trusted input.
	ValidationNone
)

// ValidateTensorOffsets checks for overlapping and out-of-bounds tensor regions.
func ValidateTensorOffsets(tensors []TensorMeta, dataSize int64) error {
	sorted := slices.SortedFunc(slices.Values(tensors), func(a, b TensorMeta) int {
		return cmp.Compare(a.Offset, b.Offset)
	})

	for i, t := range sorted {
		if t.Offset < 0 || t.Size < 0 {
			return &ValidationError{
				Type:    "negative_offset",
				Tensor:  t.Name,
				Details: fmt.Sprintf("offset=%d, size=%d", t.Offset, t.Size),
			}
		}
		if t.Offset+t.Size > dataSize {
			return &ValidationError{
				Type:    "out_of_bounds",
				Tensor:  t.Name,
				Details: fmt.Sprintf("offset %d + size %d > data_size %d", t.Offset, t.Size, dataSize),
			}
		}
		if i+1 < len(sorted) && t.Offset+t.Size > sorted[i+1].Offset {
			next := sorted[i+1]
			return &ValidationError{
				Type:    "offset_overlap",
				Tensor:  t.Name,
				Tensor2: next.Name,
				Details: fmt.Sprintf("regions [%d-%d] and [%d-%d] overlap",
					t.Offset, t.Offset+t.Size, next.Offset, next.Offset+next.Size),
			}
		}
	}
	return nil
}

// ValidateTensorName rejects names that could be used for path traversal
// when a state dict is exported to other formats.
func ValidateTensorName(name string) error {
	invalid := func(details string) error {
		return &ValidationError{Type: "invalid_name", Tensor: name, Details: details}
	}
	switch {
	case name == "":
		return invalid("empty name")
	case len(name) > MaxTensorNameLen:
		return &ValidationError{
			Type:    "name_too_long",
			Tensor:  name,
			Details: fmt.Sprintf("length %d > max %d", len(name), MaxTensorNameLen),
		}
	case strings.Contains(name, ".."):
		return invalid("contains '..'")
	case strings.ContainsAny(name, `/\`):
		return invalid("contains path separator")
	case strings.ContainsRune(name, 0):
		return invalid("contains null byte")
	}
	return nil
}

// ValidateHeader validates a decoded header against the data section size.
func ValidateHeader(h *Header, dataSize int64, level ValidationLevel) error {
	if level == ValidationNone {
		return nil
	}
	if len(h.Tensors) > MaxTensorCount {
		return &ValidationError{
			Type:    "too_many_tensors",
			Details: fmt.Sprintf("got %d, max %d", len(h.Tensors), MaxTensorCount),
		}
	}
	for _, t := range h.Tensors {
		if err := ValidateTensorName(t.Name); err != nil {
			return err
		}
	}
	if level == ValidationStrict {
		return ValidateTensorOffsets(h.Tensors, dataSize)
	}
	return nil
}

package serialization

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"

	"github.com/born-ml/digits/internal/tensor"
)

// ReaderOptions configures decoding.
type ReaderOptions struct {
	SkipChecksumValidation bool            // Skip checksum validation (faster but less safe)
	ValidationLevel        ValidationLevel // Validation strictness level
}

// File is a decoded .born file held in memory.
type File struct {
	Header  Header
	Version uint32
	Flags   uint32
	data    []byte // tensor data section
}

// ReadFile reads and decodes the .born file at path with strict validation.
func ReadFile(path string) (*File, error) {
	return ReadFileWithOptions(path, ReaderOptions{ValidationLevel: ValidationStrict})
}

// ReadFileWithOptions reads and decodes the .born file at path.
func ReadFileWithOptions(path string, opts ReaderOptions) (*File, error) {
	//nolint:gosec // G304: model paths come from the operator's configuration
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	f, err := Decode(buf, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Decode parses a complete .born file image.
func Decode(buf []byte, opts ReaderOptions) (*File, error) {
	if len(buf) < FixedHeaderSizeV1 {
		return nil, ErrTruncated
	}
	if string(buf[0:4]) != MagicBytes {
		return nil, ErrInvalidMagic
	}

	f := &File{Version: binary.LittleEndian.Uint32(buf[4:8])}
	var (
		headerJSON []byte
		data       []byte
		err        error
	)
	switch f.Version {
	case FormatVersion:
		headerJSON, data, err = f.splitV1(buf)
	case FormatVersionV2:
		headerJSON, data, err = f.splitV2(buf, opts)
	default:
		return nil, fmt.Errorf("%w: got %d, expected %d or %d", ErrUnsupportedVersion, f.Version, FormatVersion, FormatVersionV2)
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(headerJSON, &f.Header); err != nil {
		return nil, fmt.Errorf("failed to parse header JSON: %w", err)
	}
	if err := ValidateHeader(&f.Header, int64(len(data)), opts.ValidationLevel); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	f.data = data
	return f, nil
}

func (f *File) splitV1(buf []byte) (headerJSON, data []byte, err error) {
	f.Flags = binary.LittleEndian.Uint32(buf[8:12])
	headerSize := binary.LittleEndian.Uint64(buf[12:20])
	if headerSize > MaxHeaderSize {
		return nil, nil, ErrHeaderTooLarge
	}
	dataOffset := alignedDataOffset(FixedHeaderSizeV1, int64(headerSize))
	if int64(len(buf)) < dataOffset {
		return nil, nil, ErrTruncated
	}
	return buf[FixedHeaderSizeV1 : FixedHeaderSizeV1+int(headerSize)], buf[dataOffset:], nil
}

func (f *File) splitV2(buf []byte, opts ReaderOptions) (headerJSON, data []byte, err error) {
	if len(buf) < FixedHeaderSizeV2 {
		return nil, nil, ErrTruncated
	}
	f.Flags = binary.LittleEndian.Uint32(buf[8:12])
	headerSize := binary.LittleEndian.Uint64(buf[16:24])
	dataSize := binary.LittleEndian.Uint64(buf[24:32])
	if headerSize > MaxHeaderSize {
		return nil, nil, ErrHeaderTooLarge
	}

	dataOffset := alignedDataOffset(FixedHeaderSizeV2, int64(headerSize))
	if dataSize > uint64(len(buf)) || int64(len(buf))-dataOffset < int64(dataSize) {
		return nil, nil, ErrTruncated
	}
	data = buf[dataOffset : dataOffset+int64(dataSize)]

	if !opts.SkipChecksumValidation {
		var stored [32]byte
		copy(stored[:], buf[ChecksumOffsetV2:ChecksumOffsetV2+ChecksumSize])
		if ComputeChecksum(data) != stored {
			return nil, nil, ErrChecksumMismatch
		}
	}
	return buf[FixedHeaderSizeV2 : FixedHeaderSizeV2+int(headerSize)], data, nil
}

// TensorNames returns the names of all tensors in file order.
func (f *File) TensorNames() []string {
	names := make([]string, len(f.Header.Tensors))
	for i, meta := range f.Header.Tensors {
		names[i] = meta.Name
	}
	return names
}

// Tensor returns a copy of the named tensor.
func (f *File) Tensor(name string) (*tensor.RawTensor, error) {
	for _, meta := range f.Header.Tensors {
		if meta.Name == name {
			return f.load(meta)
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrTensorNotFound, name)
}

// StateDict returns copies of every tensor keyed by name.
func (f *File) StateDict() (map[string]*tensor.RawTensor, error) {
	state := make(map[string]*tensor.RawTensor, len(f.Header.Tensors))
	for _, meta := range f.Header.Tensors {
		raw, err := f.load(meta)
		if err != nil {
			return nil, err
		}
		state[meta.Name] = raw
	}
	return state, nil
}

func (f *File) load(meta TensorMeta) (*tensor.RawTensor, error) {
	dtype, err := tensor.ParseDataType(meta.DType)
	if err != nil {
		return nil, fmt.Errorf("tensor %s: %w", meta.Name, err)
	}
	if meta.Offset < 0 || meta.Size < 0 || meta.Offset+meta.Size > int64(len(f.data)) {
		return nil, &ValidationError{Type: "out_of_bounds", Tensor: meta.Name,
			Details: fmt.Sprintf("offset %d + size %d > data_size %d", meta.Offset, meta.Size, len(f.data))}
	}
	raw, err := tensor.FromBytes(f.data[meta.Offset:meta.Offset+meta.Size], tensor.Shape(meta.Shape), dtype)
	if err != nil {
		return nil, fmt.Errorf("tensor %s: %w", meta.Name, err)
	}
	return raw, nil
}

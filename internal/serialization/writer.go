package serialization

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"github.com/born-ml/digits/internal/tensor"
)

// Producer is recorded in every header this package writes.
const Producer = "digits"

// Write encodes stateDict as a v2 .born stream.
//
// Tensors, FormatVersion and Producer in header are filled in; CreatedAt is
// set to now when zero.
func Write(w io.Writer, stateDict map[string]*tensor.RawTensor, header Header) error {
	names := make([]string, 0, len(stateDict))
	for name := range stateDict {
		if err := ValidateTensorName(name); err != nil {
			return err
		}
		names = append(names, name)
	}
	slices.Sort(names)

	header.FormatVersion = FormatVersionV2
	header.Producer = Producer
	if header.CreatedAt.IsZero() {
		header.CreatedAt = time.Now().UTC()
	}
	if header.Metadata == nil {
		header.Metadata = make(map[string]string)
	}

	header.Tensors = make([]TensorMeta, 0, len(names))
	var offset int64
	for _, name := range names {
		raw := stateDict[name]
		size := int64(raw.ByteSize())
		header.Tensors = append(header.Tensors, TensorMeta{
			Name:   name,
			DType:  raw.DType().String(),
			Shape:  []int(raw.Shape().Clone()),
			Offset: offset,
			Size:   size,
		})
		offset += size
	}

	data := make([]byte, 0, offset)
	for _, name := range names {
		data = append(data, stateDict[name].Data()...)
	}
	checksum := ComputeChecksum(data)

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}

	flags := uint32(0)
	if len(header.Metadata) > 0 {
		flags |= FlagHasMetadata
	}
	if header.CheckpointMeta != nil && header.CheckpointMeta.IsCheckpoint {
		flags |= FlagHasOptimizer
	}

	fixed := make([]byte, FixedHeaderSizeV2)
	copy(fixed[0:4], MagicBytes)
	binary.LittleEndian.PutUint32(fixed[4:8], FormatVersionV2)
	binary.LittleEndian.PutUint32(fixed[8:12], flags)
	binary.LittleEndian.PutUint64(fixed[16:24], uint64(len(headerJSON)))
	binary.LittleEndian.PutUint64(fixed[24:32], uint64(len(data)))
	copy(fixed[ChecksumOffsetV2:ChecksumOffsetV2+ChecksumSize], checksum[:])

	padding := alignedDataOffset(FixedHeaderSizeV2, int64(len(headerJSON))) - FixedHeaderSizeV2 - int64(len(headerJSON))

	for _, chunk := range [][]byte{fixed, headerJSON, make([]byte, padding), data} {
		if _, err := w.Write(chunk); err != nil {
			return fmt.Errorf("failed to write: %w", err)
		}
	}
	return nil
}

// WriteFile writes stateDict to path, replacing any existing file.
func WriteFile(path string, stateDict map[string]*tensor.RawTensor, header Header) (err error) {
	//nolint:gosec // G304: model paths come from the operator's configuration
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	bw := bufio.NewWriter(file)
	if err := Write(bw, stateDict, header); err != nil {
		return err
	}
	return bw.Flush()
}

package serialization

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/born-ml/digits/internal/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleState(t *testing.T) map[string]*tensor.RawTensor {
	t.Helper()
	w, err := tensor.FromFloat32([]float32{1, 2, 3, 4, 5, 6}, tensor.Shape{2, 3})
	require.NoError(t, err)
	b, err := tensor.FromFloat32([]float32{-1, 1}, tensor.Shape{2})
	require.NoError(t, err)
	step, err := tensor.FromInt32([]int32{42}, tensor.Shape{1})
	require.NoError(t, err)
	return map[string]*tensor.RawTensor{"1.weight": w, "1.bias": b, "step": step}
}

func encode(t *testing.T, state map[string]*tensor.RawTensor, h Header) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, state, h))
	return buf.Bytes()
}

func TestWriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.born")
	state := sampleState(t)

	require.NoError(t, WriteFile(path, state, Header{ModelType: "mnist-mlp", Metadata: map[string]string{"epochs": "3"}}))

	f, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, uint32(FormatVersionV2), f.Version)
	assert.Equal(t, FlagHasMetadata, f.Flags&FlagHasMetadata)
	assert.Equal(t, "mnist-mlp", f.Header.ModelType)
	assert.Equal(t, Producer, f.Header.Producer)
	assert.Equal(t, "3", f.Header.Metadata["epochs"])
	assert.Equal(t, []string{"1.bias", "1.weight", "step"}, f.TensorNames())

	got, err := f.StateDict()
	require.NoError(t, err)
	require.Len(t, got, 3)
	for name, want := range state {
		assert.Equal(t, want.Shape(), got[name].Shape(), name)
		assert.Equal(t, want.DType(), got[name].DType(), name)
		assert.Equal(t, want.Data(), got[name].Data(), name)
	}

	_, err = f.Tensor("missing")
	assert.ErrorIs(t, err, ErrTensorNotFound)
}

func TestWriteIsDeterministic(t *testing.T) {
	h := Header{ModelType: "mnist-mlp", CreatedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)}
	a := encode(t, sampleState(t), h)
	b := encode(t, sampleState(t), h)
	assert.Equal(t, a, b)

	dataSize := binary.LittleEndian.Uint64(a[24:32])
	assert.Zero(t, (uint64(len(a))-dataSize)%HeaderAlignment, "tensor data must start aligned")
}

func TestDecodeDetectsCorruption(t *testing.T) {
	buf := encode(t, sampleState(t), Header{})
	buf[len(buf)-1] ^= 0xFF

	_, err := Decode(buf, ReaderOptions{})
	assert.ErrorIs(t, err, ErrChecksumMismatch)

	_, err = Decode(buf, ReaderOptions{SkipChecksumValidation: true})
	assert.NoError(t, err)
}

func TestDecodeRejectsBadInput(t *testing.T) {
	good := encode(t, sampleState(t), Header{})

	badMagic := bytes.Clone(good)
	copy(badMagic, "NOPE")
	_, err := Decode(badMagic, ReaderOptions{})
	assert.ErrorIs(t, err, ErrInvalidMagic)

	badVersion := bytes.Clone(good)
	binary.LittleEndian.PutUint32(badVersion[4:8], 9)
	_, err = Decode(badVersion, ReaderOptions{})
	assert.ErrorIs(t, err, ErrUnsupportedVersion)

	_, err = Decode(good[:FixedHeaderSizeV2+4], ReaderOptions{})
	assert.ErrorIs(t, err, ErrTruncated)

	_, err = Decode([]byte("BORN"), ReaderOptions{})
	assert.ErrorIs(t, err, ErrTruncated)
}

// v1 files carry no checksum and a 20-byte prefix.
func TestDecodeV1(t *testing.T) {
	data := []byte{0, 0, 128, 63, 0, 0, 0, 64} // float32 1, 2
	header, err := json.Marshal(Header{
		FormatVersion: FormatVersion,
		ModelType:     "legacy",
		Tensors:       []TensorMeta{{Name: "w", DType: DTypeFloat32, Shape: []int{2}, Offset: 0, Size: 8}},
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	buf.WriteString(MagicBytes)
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint32(FormatVersion)))
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint32(0)))
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint64(len(header))))
	buf.Write(header)
	buf.Write(make([]byte, alignedDataOffset(FixedHeaderSizeV1, int64(len(header)))-int64(buf.Len())))
	buf.Write(data)

	f, err := Decode(buf.Bytes(), ReaderOptions{})
	require.NoError(t, err)
	w, err := f.Tensor("w")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2}, w.AsFloat32())
}

func TestWriteRejectsTraversalNames(t *testing.T) {
	raw := tensor.MustRaw(tensor.Shape{1}, tensor.Float32)
	err := Write(&bytes.Buffer{}, map[string]*tensor.RawTensor{"../evil": raw}, Header{})

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "invalid_name", verr.Type)
}

func TestValidateTensorOffsets(t *testing.T) {
	tests := []struct {
		name    string
		tensors []TensorMeta
		kind    string
	}{
		{"ok", []TensorMeta{{Name: "a", Offset: 0, Size: 8}, {Name: "b", Offset: 8, Size: 8}}, ""},
		{"overlap", []TensorMeta{{Name: "a", Offset: 0, Size: 12}, {Name: "b", Offset: 8, Size: 8}}, "offset_overlap"},
		{"out of bounds", []TensorMeta{{Name: "a", Offset: 8, Size: 16}}, "out_of_bounds"},
		{"negative", []TensorMeta{{Name: "a", Offset: -1, Size: 4}}, "negative_offset"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTensorOffsets(tt.tensors, 16)
			if tt.kind == "" {
				assert.NoError(t, err)
				return
			}
			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.kind, verr.Type)
		})
	}
}

func TestValidateTensorName(t *testing.T) {
	assert.NoError(t, ValidateTensorName("optimizer.m.1.weight"))
	for _, bad := range []string{"", "a/b", `a\b`, "a..b", "a\x00b"} {
		assert.Error(t, ValidateTensorName(bad), "%q", bad)
	}
}

package tensor

import (
	"fmt"
	"unsafe"
)

// RawTensor is the low-level tensor representation: a contiguous row-major
// buffer plus shape and element type.
type RawTensor struct {
	data  []byte
	shape Shape
	dtype DataType
}

// NewRaw creates a zero-filled RawTensor with the given shape and type.
func NewRaw(shape Shape, dtype DataType) (*RawTensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape: %w", err)
	}
	return &RawTensor{
		data:  make([]byte, shape.NumElements()*dtype.Size()),
		shape: shape.Clone(),
		dtype: dtype,
	}, nil
}

// MustRaw is NewRaw for shapes known to be valid. It panics otherwise.
func MustRaw(shape Shape, dtype DataType) *RawTensor {
	t, err := NewRaw(shape, dtype)
	if err != nil {
		panic(err)
	}
	return t
}

// FromFloat32 creates a float32 tensor holding a copy of values.
func FromFloat32(values []float32, shape Shape) (*RawTensor, error) {
	if shape.NumElements() != len(values) {
		return nil, fmt.Errorf("shape %v needs %d elements, got %d", shape, shape.NumElements(), len(values))
	}
	t, err := NewRaw(shape, Float32)
	if err != nil {
		return nil, err
	}
	copy(t.AsFloat32(), values)
	return t, nil
}

// FromInt32 creates an int32 tensor holding a copy of values.
func FromInt32(values []int32, shape Shape) (*RawTensor, error) {
	if shape.NumElements() != len(values) {
		return nil, fmt.Errorf("shape %v needs %d elements, got %d", shape, shape.NumElements(), len(values))
	}
	t, err := NewRaw(shape, Int32)
	if err != nil {
		return nil, err
	}
	copy(t.AsInt32(), values)
	return t, nil
}

// FromBytes creates a tensor whose buffer is a copy of data. The byte length
// must match shape and dtype exactly.
func FromBytes(data []byte, shape Shape, dtype DataType) (*RawTensor, error) {
	t, err := NewRaw(shape, dtype)
	if err != nil {
		return nil, err
	}
	if len(data) != len(t.data) {
		return nil, fmt.Errorf("shape %v of %s needs %d bytes, got %d", shape, dtype, len(t.data), len(data))
	}
	copy(t.data, data)
	return t, nil
}

// Shape returns the tensor's shape.
func (r *RawTensor) Shape() Shape {
	return r.shape
}

// DType returns the tensor's data type.
func (r *RawTensor) DType() DataType {
	return r.dtype
}

// NumElements returns the total number of elements.
func (r *RawTensor) NumElements() int {
	return r.shape.NumElements()
}

// ByteSize returns the total memory size in bytes.
func (r *RawTensor) ByteSize() int {
	return len(r.data)
}

// Data returns the raw little-endian byte slice backing the tensor.
func (r *RawTensor) Data() []byte {
	return r.data
}

// AsFloat32 interprets the data as []float32.
// Panics if the tensor's dtype is not Float32.
func (r *RawTensor) AsFloat32() []float32 {
	if r.dtype != Float32 {
		panic(fmt.Sprintf("tensor dtype is %s, not float32", r.dtype))
	}
	//nolint:gosec // unsafe.Slice for zero-copy access, length bounded by NumElements()
	return unsafe.Slice((*float32)(unsafe.Pointer(&r.data[0])), r.NumElements())
}

// AsInt32 interprets the data as []int32.
// Panics if the tensor's dtype is not Int32.
func (r *RawTensor) AsInt32() []int32 {
	if r.dtype != Int32 {
		panic(fmt.Sprintf("tensor dtype is %s, not int32", r.dtype))
	}
	//nolint:gosec // unsafe.Slice for zero-copy access, length bounded by NumElements()
	return unsafe.Slice((*int32)(unsafe.Pointer(&r.data[0])), r.NumElements())
}

// Clone returns a deep copy.
func (r *RawTensor) Clone() *RawTensor {
	data := make([]byte, len(r.data))
	copy(data, r.data)
	return &RawTensor{data: data, shape: r.shape.Clone(), dtype: r.dtype}
}

// Reshape returns a tensor sharing r's buffer with a new shape.
// Panics if the element count differs.
func (r *RawTensor) Reshape(shape Shape) *RawTensor {
	if shape.NumElements() != r.NumElements() {
		panic(fmt.Sprintf("reshape: cannot view %v as %v", r.shape, shape))
	}
	return &RawTensor{data: r.data, shape: shape.Clone(), dtype: r.dtype}
}

// Zero sets every element to zero.
func (r *RawTensor) Zero() {
	clear(r.data)
}

// String returns a short description such as "float32[1 1 28 28]".
func (r *RawTensor) String() string {
	return fmt.Sprintf("%s%v", r.dtype, []int(r.shape))
}

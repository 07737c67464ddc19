package tensor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRawRejectsBadShape(t *testing.T) {
	_, err := NewRaw(Shape{2, 0}, Float32)
	require.Error(t, err)
}

func TestFromFloat32(t *testing.T) {
	tt, err := FromFloat32([]float32{1, 2, 3, 4, 5, 6}, Shape{2, 3})
	require.NoError(t, err)
	assert.Equal(t, 6, tt.NumElements())
	assert.Equal(t, 24, tt.ByteSize())
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6}, tt.AsFloat32())

	_, err = FromFloat32([]float32{1, 2}, Shape{3})
	require.Error(t, err)
}

func TestReshapeSharesBuffer(t *testing.T) {
	tt, err := FromFloat32([]float32{1, 2, 3, 4}, Shape{1, 1, 2, 2})
	require.NoError(t, err)

	flat := tt.Reshape(Shape{1, 4})
	flat.AsFloat32()[3] = 9
	assert.Equal(t, float32(9), tt.AsFloat32()[3])
	assert.True(t, flat.Shape().Equal(Shape{1, 4}))

	assert.Panics(t, func() { tt.Reshape(Shape{3}) })
}

func TestCloneIsDeep(t *testing.T) {
	tt, err := FromInt32([]int32{7, 8}, Shape{2})
	require.NoError(t, err)

	c := tt.Clone()
	c.AsInt32()[0] = 0
	assert.Equal(t, int32(7), tt.AsInt32()[0])
}

func TestDTypeMismatchPanics(t *testing.T) {
	tt := MustRaw(Shape{2}, Int32)
	assert.Panics(t, func() { tt.AsFloat32() })
}

func TestFromBytesLength(t *testing.T) {
	_, err := FromBytes(make([]byte, 7), Shape{2}, Float32)
	require.Error(t, err)

	tt, err := FromBytes(make([]byte, 8), Shape{2}, Float32)
	require.NoError(t, err)
	assert.Equal(t, "float32[2]", tt.String())
}

package nn

import (
	"math"
	"math/rand"

	"github.com/born-ml/digits/internal/tensor"
)

// Xavier (Glorot) initialization for weights.
//
// Values are drawn from U(-sqrt(6/(fan_in + fan_out)), sqrt(6/(fan_in + fan_out))).
// The same rng seed always yields the same tensor.
func Xavier(rng *rand.Rand, fanIn, fanOut int, shape tensor.Shape) *tensor.RawTensor {
	bound := math.Sqrt(6.0 / float64(fanIn+fanOut))

	t := tensor.MustRaw(shape, tensor.Float32)
	data := t.AsFloat32()
	for i := range data {
		data[i] = float32((rng.Float64()*2.0 - 1.0) * bound)
	}
	return t
}

// Zeros creates a float32 tensor filled with zeros.
func Zeros(shape tensor.Shape) *tensor.RawTensor {
	return tensor.MustRaw(shape, tensor.Float32)
}

package nn

import (
	"github.com/born-ml/digits/internal/autodiff"
	"github.com/born-ml/digits/internal/autodiff/ops"
	"github.com/born-ml/digits/internal/tensor"
)

// ReLU applies max(0, x) elementwise. It has no parameters.
type ReLU struct{}

// NewReLU creates a new ReLU activation.
func NewReLU() *ReLU {
	return &ReLU{}
}

// Forward applies ReLU.
func (r *ReLU) Forward(tape *autodiff.Tape, input *tensor.RawTensor) *tensor.RawTensor {
	out := ops.ReLU(input)
	tape.Record(ops.NewReLUOp(input, out))
	return out
}

// Parameters returns nil.
func (r *ReLU) Parameters() []*Parameter { return nil }

// StateDict returns an empty map.
func (r *ReLU) StateDict() map[string]*tensor.RawTensor { return map[string]*tensor.RawTensor{} }

// LoadStateDict is a no-op.
func (r *ReLU) LoadStateDict(map[string]*tensor.RawTensor) error { return nil }

// Flatten reshapes [N, d1, d2, ...] to [N, d1*d2*...].
type Flatten struct{}

// NewFlatten creates a new Flatten layer.
func NewFlatten() *Flatten {
	return &Flatten{}
}

// Forward flattens every dimension after the batch dimension.
func (f *Flatten) Forward(tape *autodiff.Tape, input *tensor.RawTensor) *tensor.RawTensor {
	n := input.Shape()[0]
	out := input.Reshape(tensor.Shape{n, input.NumElements() / n})
	tape.Record(ops.NewReshapeOp(input, out))
	return out
}

// Parameters returns nil.
func (f *Flatten) Parameters() []*Parameter { return nil }

// StateDict returns an empty map.
func (f *Flatten) StateDict() map[string]*tensor.RawTensor { return map[string]*tensor.RawTensor{} }

// LoadStateDict is a no-op.
func (f *Flatten) LoadStateDict(map[string]*tensor.RawTensor) error { return nil }

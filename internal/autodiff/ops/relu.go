package ops

import "github.com/born-ml/digits/internal/tensor"

// ReLU returns max(0, x) elementwise.
func ReLU(x *tensor.RawTensor) *tensor.RawTensor {
	y := tensor.MustRaw(x.Shape(), tensor.Float32)
	yd := y.AsFloat32()
	for i, v := range x.AsFloat32() {
		if v > 0 {
			yd[i] = v
		}
	}
	return y
}

// ReLUOp represents the ReLU activation operation: output = max(0, x).
type ReLUOp struct {
	input  *tensor.RawTensor
	output *tensor.RawTensor
}

// NewReLUOp creates a new ReLU operation.
func NewReLUOp(input, output *tensor.RawTensor) *ReLUOp {
	return &ReLUOp{input: input, output: output}
}

// Inputs returns the input tensors.
func (op *ReLUOp) Inputs() []*tensor.RawTensor {
	return []*tensor.RawTensor{op.input}
}

// Output returns the output tensor.
func (op *ReLUOp) Output() *tensor.RawTensor {
	return op.output
}

// Backward passes the gradient through where the input was positive.
func (op *ReLUOp) Backward(outputGrad *tensor.RawTensor) []*tensor.RawTensor {
	grad := tensor.MustRaw(op.input.Shape(), tensor.Float32)
	gd, og := grad.AsFloat32(), outputGrad.AsFloat32()
	for i, v := range op.input.AsFloat32() {
		if v > 0 {
			gd[i] = og[i]
		}
	}
	return []*tensor.RawTensor{grad}
}

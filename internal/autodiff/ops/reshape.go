package ops

import "github.com/born-ml/digits/internal/tensor"

// ReshapeOp represents a reshape. The gradient is the output gradient
// viewed in the input's shape.
type ReshapeOp struct {
	input  *tensor.RawTensor
	output *tensor.RawTensor
}

// NewReshapeOp creates a new reshape operation.
func NewReshapeOp(input, output *tensor.RawTensor) *ReshapeOp {
	return &ReshapeOp{input: input, output: output}
}

// Inputs returns the input tensors.
func (op *ReshapeOp) Inputs() []*tensor.RawTensor {
	return []*tensor.RawTensor{op.input}
}

// Output returns the output tensor.
func (op *ReshapeOp) Output() *tensor.RawTensor {
	return op.output
}

// Backward reshapes the gradient back to the input shape.
func (op *ReshapeOp) Backward(outputGrad *tensor.RawTensor) []*tensor.RawTensor {
	return []*tensor.RawTensor{outputGrad.Clone().Reshape(op.input.Shape())}
}

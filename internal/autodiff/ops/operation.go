// Package ops defines the differentiable CPU operations of the digits model.
//
// Each operation has a forward kernel (a plain function returning a fresh
// tensor) and an Operation type that remembers inputs and output so the
// gradient tape can compute input gradients during the backward pass.
//
// Supported operations:
//   - LinearOp: y = x·Wᵀ + b
//   - ReLUOp: rectified linear unit (d(ReLU(x))/dx = 1 if x > 0, else 0)
//   - ReshapeOp: shape change without data movement
//   - CrossEntropyOp: mean softmax cross-entropy against class indices
package ops

import (
	"github.com/born-ml/digits/internal/parallel"
	"github.com/born-ml/digits/internal/tensor"
)

// Operation represents a differentiable operation in the computation graph.
// Each operation records its inputs and output during the forward pass,
// and computes input gradients during the backward pass.
type Operation interface {
	// Backward computes gradients for inputs given the output gradient.
	// Returns a slice of gradients corresponding to each input tensor;
	// a nil entry means no gradient flows to that input.
	Backward(outputGrad *tensor.RawTensor) []*tensor.RawTensor

	// Inputs returns the input tensors for this operation.
	Inputs() []*tensor.RawTensor

	// Output returns the output tensor produced by this operation.
	Output() *tensor.RawTensor
}

// rows is the parallel configuration for per-row kernels. A row of the
// hidden layer is ~100k multiply-adds, so small chunks already pay off.
var rows = parallel.DefaultConfig().WithMinChunkSize(4)

// Package nn implements the neural network building blocks of the digits
// classifier:
//   - Module interface: Base interface for all NN components
//   - Parameter: Trainable tensor with its gradient
//   - Linear, ReLU, Flatten: Layers
//   - Sequential: Container for stacking layers
//   - CrossEntropyLoss, Accuracy, Argmax: Training and prediction helpers
//
// Layers run eagerly on CPU tensors. Passing a recording *autodiff.Tape to
// Forward records the operations for backpropagation; passing nil runs
// inference without gradient bookkeeping.
package nn

import (
	"github.com/born-ml/digits/internal/autodiff"
	"github.com/born-ml/digits/internal/tensor"
)

// Module is the base interface for all neural network components.
//
// Modules can be composed to build complex architectures:
//
//	model := nn.NewSequential(
//	    nn.NewFlatten(),
//	    nn.NewLinear(784, 128, rng),
//	    nn.NewReLU(),
//	    nn.NewLinear(128, 10, rng),
//	)
type Module interface {
	// Forward computes the output of the module given an input tensor,
	// recording on tape when it is non-nil and recording.
	Forward(tape *autodiff.Tape, input *tensor.RawTensor) *tensor.RawTensor

	// Parameters returns all trainable parameters of this module.
	// Returns an empty slice for modules without trainable parameters.
	Parameters() []*Parameter

	// StateDict returns parameter tensors keyed by name.
	StateDict() map[string]*tensor.RawTensor

	// LoadStateDict copies tensors from stateDict into the module's parameters.
	LoadStateDict(stateDict map[string]*tensor.RawTensor) error
}

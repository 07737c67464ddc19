package nn

import (
	"fmt"
	"math/rand"

	"github.com/born-ml/digits/internal/autodiff"
	"github.com/born-ml/digits/internal/autodiff/ops"
	"github.com/born-ml/digits/internal/tensor"
)

// Linear implements a fully connected (dense) layer.
//
// Performs the transformation: y = x @ W.T + b
// where:
//   - x is the input tensor with shape [batch_size, in_features]
//   - W is the weight matrix with shape [out_features, in_features]
//   - b is the bias vector with shape [out_features]
//
// Weights are initialized using Xavier/Glorot initialization.
// Biases are initialized to zeros.
type Linear struct {
	inFeatures  int
	outFeatures int
	weight      *Parameter
	bias        *Parameter
}

// NewLinear creates a new Linear layer initialised from rng.
func NewLinear(inFeatures, outFeatures int, rng *rand.Rand) *Linear {
	return &Linear{
		inFeatures:  inFeatures,
		outFeatures: outFeatures,
		weight:      NewParameter("weight", Xavier(rng, inFeatures, outFeatures, tensor.Shape{outFeatures, inFeatures})),
		bias:        NewParameter("bias", Zeros(tensor.Shape{outFeatures})),
	}
}

// Forward computes x @ W.T + b.
//
// Panics if input is not [batch_size, in_features].
func (l *Linear) Forward(tape *autodiff.Tape, input *tensor.RawTensor) *tensor.RawTensor {
	shape := input.Shape()
	if len(shape) != 2 {
		panic(fmt.Sprintf("Linear.Forward: expected 2D input [batch, features], got shape %v", shape))
	}
	if shape[1] != l.inFeatures {
		panic(fmt.Sprintf("Linear.Forward: expected input with %d features, got %d", l.inFeatures, shape[1]))
	}

	w, b := l.weight.Tensor(), l.bias.Tensor()
	out := ops.Linear(input, w, b)
	tape.Record(ops.NewLinearOp(input, w, b, out))
	return out
}

// Parameters returns [weight, bias].
func (l *Linear) Parameters() []*Parameter {
	return []*Parameter{l.weight, l.bias}
}

// StateDict returns {"weight", "bias"}.
func (l *Linear) StateDict() map[string]*tensor.RawTensor {
	return map[string]*tensor.RawTensor{
		"weight": l.weight.Tensor(),
		"bias":   l.bias.Tensor(),
	}
}

// LoadStateDict copies weight and bias, validating shape and dtype.
func (l *Linear) LoadStateDict(stateDict map[string]*tensor.RawTensor) error {
	if err := loadInto(l.weight, stateDict, tensor.Shape{l.outFeatures, l.inFeatures}); err != nil {
		return err
	}
	return loadInto(l.bias, stateDict, tensor.Shape{l.outFeatures})
}

func loadInto(p *Parameter, stateDict map[string]*tensor.RawTensor, want tensor.Shape) error {
	raw, ok := stateDict[p.Name()]
	if !ok {
		return fmt.Errorf("missing %s in state dict", p.Name())
	}
	if !raw.Shape().Equal(want) {
		return fmt.Errorf("%s shape mismatch: expected %v, got %v", p.Name(), want, raw.Shape())
	}
	if raw.DType() != tensor.Float32 {
		return fmt.Errorf("%s dtype mismatch: expected float32, got %v", p.Name(), raw.DType())
	}
	copy(p.Tensor().AsFloat32(), raw.AsFloat32())
	return nil
}

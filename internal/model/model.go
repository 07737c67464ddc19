// Package model defines the digits classifier architecture.
//
//   - Input: [N, 1, 28, 28] grayscale images in [0, 1]
//   - Flatten to 784 features
//   - Hidden: 128 units with ReLU activation
//   - Output: 10 logits, one per digit
//
// The same constructor is used for training and serving, so a parameter
// set produced by one always fits the other.
package model

import (
	"errors"
	"fmt"
	"math/rand"
	"slices"

	"github.com/born-ml/digits/internal/nn"
	"github.com/born-ml/digits/internal/serialization"
	"github.com/born-ml/digits/internal/tensor"
)

// Architecture constants.
const (
	ImageSize     = 28
	InputFeatures = ImageSize * ImageSize
	HiddenUnits   = 128
	NumClasses    = 10

	// Type is recorded as the model type of .born files.
	Type = "mnist-mlp"
)

// InputShape is the shape of a single preprocessed image.
var InputShape = tensor.Shape{1, 1, ImageSize, ImageSize}

// ErrArchitectureMismatch reports a parameter set that does not fit the model.
var ErrArchitectureMismatch = errors.New("parameter set does not match model architecture")

// New builds the classifier with Xavier-initialised weights drawn from rng.
//
// Module indices: 0 Flatten, 1 Linear(784→128), 2 ReLU, 3 Linear(128→10).
func New(rng *rand.Rand) *nn.Sequential {
	return nn.NewSequential(
		nn.NewFlatten(),
		nn.NewLinear(InputFeatures, HiddenUnits, rng),
		nn.NewReLU(),
		nn.NewLinear(HiddenUnits, NumClasses, rng),
	)
}

// ParameterShapes returns the expected state dict layout.
func ParameterShapes() map[string]tensor.Shape {
	return map[string]tensor.Shape{
		"1.weight": {HiddenUnits, InputFeatures},
		"1.bias":   {HiddenUnits},
		"3.weight": {NumClasses, HiddenUnits},
		"3.bias":   {NumClasses},
	}
}

// Verify checks that stateDict has exactly the model's tensors with the
// right shapes and float32 type.
func Verify(stateDict map[string]*tensor.RawTensor) error {
	want := ParameterShapes()
	var problems []string
	for name, shape := range want {
		raw, ok := stateDict[name]
		switch {
		case !ok:
			problems = append(problems, fmt.Sprintf("missing %s", name))
		case raw.DType() != tensor.Float32:
			problems = append(problems, fmt.Sprintf("%s is %s, want float32", name, raw.DType()))
		case !raw.Shape().Equal(shape):
			problems = append(problems, fmt.Sprintf("%s has shape %v, want %v", name, raw.Shape(), shape))
		}
	}
	for name := range stateDict {
		if _, ok := want[name]; !ok {
			problems = append(problems, fmt.Sprintf("unexpected %s", name))
		}
	}
	if len(problems) > 0 {
		slices.Sort(problems)
		return fmt.Errorf("%w: %v", ErrArchitectureMismatch, problems)
	}
	return nil
}

// FromStateDict builds the model and loads a verified parameter set into it.
func FromStateDict(stateDict map[string]*tensor.RawTensor) (*nn.Sequential, error) {
	if err := Verify(stateDict); err != nil {
		return nil, err
	}
	m := New(rand.New(rand.NewSource(0)))
	if err := m.LoadStateDict(stateDict); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrArchitectureMismatch, err)
	}
	return m, nil
}

// Load reads a .born model or checkpoint file and returns the model.
func Load(path string) (*nn.Sequential, serialization.Header, error) {
	f, err := serialization.ReadFile(path)
	if err != nil {
		return nil, serialization.Header{}, err
	}
	stateDict, err := f.StateDict()
	if err != nil {
		return nil, serialization.Header{}, err
	}
	if f.Header.CheckpointMeta != nil && f.Header.CheckpointMeta.IsCheckpoint {
		stateDict, _ = nn.SplitOptimizerState(stateDict)
	}
	m, err := FromStateDict(stateDict)
	if err != nil {
		return nil, serialization.Header{}, fmt.Errorf("%s: %w", path, err)
	}
	return m, f.Header, nil
}

// Save writes the model's parameters to path as a .born file.
func Save(m *nn.Sequential, path string, metadata map[string]string) error {
	return nn.Save(m, path, Type, metadata)
}

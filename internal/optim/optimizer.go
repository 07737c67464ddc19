// Package optim implements the optimizers used to train the digits model.
//
//   - Optimizer interface: Step, ZeroGrad, GetLR
//   - Adam: Adaptive Moment Estimation (the default)
//   - SGD: Stochastic Gradient Descent with optional momentum
//
// Both keep per-parameter state keyed by parameter position, so
// StateDict output is only meaningful for a model with the same
// parameter order.
package optim

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/born-ml/digits/internal/nn"
	"github.com/born-ml/digits/internal/tensor"
)

// Optimizer is the base interface for all optimization algorithms.
type Optimizer interface {
	// Step applies gradient updates to all parameters in place.
	// grads maps parameter tensors to their gradients, as returned by
	// autodiff.Tape.Backward.
	Step(grads map[*tensor.RawTensor]*tensor.RawTensor)

	// ZeroGrad clears all parameter gradients.
	ZeroGrad()

	// GetLR returns the current learning rate.
	GetLR() float32

	// Name identifies the algorithm in checkpoints and logs.
	Name() string

	// StateDict returns internal state for checkpointing.
	StateDict() map[string]*tensor.RawTensor

	// LoadStateDict restores state produced by StateDict.
	LoadStateDict(stateDict map[string]*tensor.RawTensor) error
}

// Kind selects an optimizer algorithm by name.
type Kind string

// Supported optimizers.
const (
	KindAdam Kind = "adam"
	KindSGD  Kind = "sgd"
)

// New builds the optimizer named by kind with learning rate lr.
func New(kind Kind, params []*nn.Parameter, lr float32) (Optimizer, error) {
	switch kind {
	case KindAdam, "":
		return NewAdam(params, AdamConfig{LR: lr}), nil
	case KindSGD:
		return NewSGD(params, SGDConfig{LR: lr, Momentum: 0.9}), nil
	default:
		return nil, fmt.Errorf("unknown optimizer %q", kind)
	}
}

func getGradient(param *nn.Parameter, grads map[*tensor.RawTensor]*tensor.RawTensor) *tensor.RawTensor {
	if g, ok := grads[param.Tensor()]; ok {
		return g
	}
	return param.Grad()
}

func bufferKey(prefix string, index int) string {
	return prefix + "." + strconv.Itoa(index)
}

// loadBuffers restores per-parameter buffers saved under "<prefix>.<index>".
func loadBuffers(prefix string, params []*nn.Parameter, stateDict map[string]*tensor.RawTensor) (map[*nn.Parameter]*tensor.RawTensor, error) {
	out := make(map[*nn.Parameter]*tensor.RawTensor)
	for key, raw := range stateDict {
		rest, ok := strings.CutPrefix(key, prefix+".")
		if !ok {
			continue
		}
		i, err := strconv.Atoi(rest)
		if err != nil || i < 0 || i >= len(params) {
			return nil, fmt.Errorf("invalid optimizer state key %q", key)
		}
		p := params[i]
		if !raw.Shape().Equal(p.Tensor().Shape()) || raw.DType() != tensor.Float32 {
			return nil, fmt.Errorf("optimizer state %q: expected float32 %v, got %s", key, p.Tensor().Shape(), raw)
		}
		out[p] = raw.Clone()
	}
	return out, nil
}

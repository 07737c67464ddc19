// Package autodiff implements reverse-mode automatic differentiation with a
// gradient tape.
//
// Layers run their forward kernels eagerly and record an ops.Operation on
// the tape. Backward walks the tape in reverse, applying the chain rule and
// accumulating gradients per tensor.
//
// A nil *Tape is valid and never records, which is how inference runs
// with gradient recording disabled.
//
// Usage:
//
//	tape := autodiff.NewTape()
//	tape.StartRecording()
//	loss := nn.CrossEntropyLoss(tape, model.Forward(tape, x), y)
//	grads := tape.Backward(autodiff.Ones(loss))
package autodiff

import (
	"github.com/born-ml/digits/internal/autodiff/ops"
	"github.com/born-ml/digits/internal/tensor"
)

// Tape records operations during the forward pass and computes
// gradients during the backward pass.
type Tape struct {
	operations []ops.Operation // Recorded operations (in execution order)
	recording  bool
}

// NewTape creates a new gradient tape. It does not record until
// StartRecording is called.
func NewTape() *Tape {
	return &Tape{operations: make([]ops.Operation, 0, 16)}
}

// StartRecording enables operation recording.
func (t *Tape) StartRecording() {
	t.recording = true
}

// StopRecording disables operation recording.
func (t *Tape) StopRecording() {
	if t != nil {
		t.recording = false
	}
}

// IsRecording returns true if the tape is currently recording operations.
func (t *Tape) IsRecording() bool {
	return t != nil && t.recording
}

// Record adds an operation to the tape if it is recording.
func (t *Tape) Record(op ops.Operation) {
	if t.IsRecording() {
		t.operations = append(t.operations, op)
	}
}

// Clear removes all recorded operations. Recording state is preserved.
func (t *Tape) Clear() {
	if t != nil {
		clear(t.operations)
		t.operations = t.operations[:0]
	}
}

// NumOps returns the number of recorded operations.
func (t *Tape) NumOps() int {
	if t == nil {
		return 0
	}
	return len(t.operations)
}

// Backward computes gradients for every tensor that influenced the output
// of the last recorded operation, seeded with outputGrad.
//
// Returns a map from RawTensor to its accumulated gradient.
func (t *Tape) Backward(outputGrad *tensor.RawTensor) map[*tensor.RawTensor]*tensor.RawTensor {
	grads := make(map[*tensor.RawTensor]*tensor.RawTensor)
	if t.NumOps() == 0 {
		return grads
	}

	// Gradient kernels must not land on the tape.
	wasRecording := t.recording
	t.recording = false
	defer func() { t.recording = wasRecording }()

	grads[t.operations[len(t.operations)-1].Output()] = outputGrad

	for i := len(t.operations) - 1; i >= 0; i-- {
		op := t.operations[i]
		outGrad, ok := grads[op.Output()]
		if !ok {
			continue
		}
		for j, g := range op.Backward(outGrad) {
			if g == nil {
				continue
			}
			in := op.Inputs()[j]
			if existing, ok := grads[in]; ok {
				grads[in] = add(existing, g)
			} else {
				grads[in] = g
			}
		}
	}
	return grads
}

// Ones returns a tensor of ones shaped like t, the usual seed for a scalar loss.
func Ones(t *tensor.RawTensor) *tensor.RawTensor {
	o := tensor.MustRaw(t.Shape(), tensor.Float32)
	for i := range o.AsFloat32() {
		o.AsFloat32()[i] = 1
	}
	return o
}

func add(a, b *tensor.RawTensor) *tensor.RawTensor {
	out := a.Clone()
	od := out.AsFloat32()
	for i, v := range b.AsFloat32() {
		od[i] += v
	}
	return out
}

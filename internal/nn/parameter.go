package nn

import "github.com/born-ml/digits/internal/tensor"

// Parameter represents a trainable parameter in a neural network.
//
// The tensor is updated in place by optimizers, so its identity is stable
// across steps and can be used to look up gradients from a tape.
type Parameter struct {
	name   string
	tensor *tensor.RawTensor
	grad   *tensor.RawTensor
}

// NewParameter creates a new trainable parameter.
func NewParameter(name string, t *tensor.RawTensor) *Parameter {
	return &Parameter{name: name, tensor: t}
}

// Name returns the parameter name.
func (p *Parameter) Name() string {
	return p.name
}

// Tensor returns the parameter tensor.
func (p *Parameter) Tensor() *tensor.RawTensor {
	return p.tensor
}

// Grad returns the gradient, or nil before the first backward pass.
func (p *Parameter) Grad() *tensor.RawTensor {
	return p.grad
}

// SetGrad sets the gradient tensor.
func (p *Parameter) SetGrad(grad *tensor.RawTensor) {
	p.grad = grad
}

// ZeroGrad clears the gradient.
func (p *Parameter) ZeroGrad() {
	p.grad = nil
}

// CollectGrads copies gradients for params out of a tape's gradient map.
// Parameters that did not take part in the forward pass get a nil gradient.
func CollectGrads(params []*Parameter, grads map[*tensor.RawTensor]*tensor.RawTensor) {
	for _, p := range params {
		p.SetGrad(grads[p.Tensor()])
	}
}

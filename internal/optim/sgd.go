package optim

import (
	"github.com/born-ml/digits/internal/nn"
	"github.com/born-ml/digits/internal/tensor"
)

// SGD implements stochastic gradient descent with optional momentum.
//
//	velocity = momentum * velocity + gradient
//	param    = param - lr * velocity
type SGD struct {
	params   []*nn.Parameter
	lr       float32
	momentum float32
	velocity map[*nn.Parameter]*tensor.RawTensor
}

// SGDConfig holds configuration for SGD optimizer.
type SGDConfig struct {
	LR       float32 // Learning rate (default: 0.01)
	Momentum float32 // 0 disables momentum
}

// NewSGD creates a new SGD optimizer.
func NewSGD(params []*nn.Parameter, config SGDConfig) *SGD {
	if config.LR == 0 {
		config.LR = 0.01
	}
	return &SGD{
		params:   params,
		lr:       config.LR,
		momentum: config.Momentum,
		velocity: make(map[*nn.Parameter]*tensor.RawTensor),
	}
}

// Step performs a single optimization step.
func (s *SGD) Step(grads map[*tensor.RawTensor]*tensor.RawTensor) {
	for _, param := range s.params {
		grad := getGradient(param, grads)
		if grad == nil {
			continue
		}
		g, pd := grad.AsFloat32(), param.Tensor().AsFloat32()

		if s.momentum == 0 {
			for i := range pd {
				pd[i] -= s.lr * g[i]
			}
			continue
		}

		vel, ok := s.velocity[param]
		if !ok {
			vel = nn.Zeros(param.Tensor().Shape())
			s.velocity[param] = vel
		}
		vd := vel.AsFloat32()
		for i := range pd {
			vd[i] = s.momentum*vd[i] + g[i]
			pd[i] -= s.lr * vd[i]
		}
	}
}

// ZeroGrad clears gradients for all parameters.
func (s *SGD) ZeroGrad() {
	for _, param := range s.params {
		param.ZeroGrad()
	}
}

// GetLR returns the current learning rate.
func (s *SGD) GetLR() float32 {
	return s.lr
}

// Name returns "SGD".
func (s *SGD) Name() string {
	return "SGD"
}

// StateDict returns momentum buffers under "velocity.<i>".
func (s *SGD) StateDict() map[string]*tensor.RawTensor {
	state := make(map[string]*tensor.RawTensor)
	for i, p := range s.params {
		if v, ok := s.velocity[p]; ok {
			state[bufferKey("velocity", i)] = v
		}
	}
	return state
}

// LoadStateDict restores momentum buffers.
func (s *SGD) LoadStateDict(stateDict map[string]*tensor.RawTensor) error {
	vel, err := loadBuffers("velocity", s.params, stateDict)
	if err != nil {
		return err
	}
	s.velocity = vel
	return nil
}

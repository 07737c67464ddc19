package optim

import (
	"fmt"
	"math"

	"github.com/born-ml/digits/internal/nn"
	"github.com/born-ml/digits/internal/tensor"
)

// Adam implements the Adam (Adaptive Moment Estimation) optimizer.
//
// Update rule:
//
//	m_t = beta1 * m_{t-1} + (1-beta1) * gradient       // First moment
//	v_t = beta2 * v_{t-1} + (1-beta2) * gradient²      // Second moment
//	m_hat = m_t / (1 - beta1^t)                        // Bias correction
//	v_hat = v_t / (1 - beta2^t)                        // Bias correction
//	param = param - lr * m_hat / (sqrt(v_hat) + eps)
//
// Reference: "Adam: A Method for Stochastic Optimization" (Kingma & Ba, 2014)
type Adam struct {
	params []*nn.Parameter
	lr     float32
	beta1  float32
	beta2  float32
	eps    float32
	t      int                                 // Timestep for bias correction
	m      map[*nn.Parameter]*tensor.RawTensor // First moment estimates
	v      map[*nn.Parameter]*tensor.RawTensor // Second moment estimates
}

// AdamConfig holds configuration for Adam optimizer.
type AdamConfig struct {
	LR    float32    // Learning rate (default: 0.001)
	Betas [2]float32 // Running average coefficients (default: [0.9, 0.999])
	Eps   float32    // Numerical stability term (default: 1e-8)
}

// NewAdam creates a new Adam optimizer. Zero config fields take defaults.
func NewAdam(params []*nn.Parameter, config AdamConfig) *Adam {
	if config.LR == 0 {
		config.LR = 0.001
	}
	if config.Betas[0] == 0 {
		config.Betas[0] = 0.9
	}
	if config.Betas[1] == 0 {
		config.Betas[1] = 0.999
	}
	if config.Eps == 0 {
		config.Eps = 1e-8
	}
	return &Adam{
		params: params,
		lr:     config.LR,
		beta1:  config.Betas[0],
		beta2:  config.Betas[1],
		eps:    config.Eps,
		m:      make(map[*nn.Parameter]*tensor.RawTensor),
		v:      make(map[*nn.Parameter]*tensor.RawTensor),
	}
}

// Step performs a single optimization step.
// Parameters with no gradient are skipped.
func (a *Adam) Step(grads map[*tensor.RawTensor]*tensor.RawTensor) {
	a.t++
	bc1 := float32(1.0 - math.Pow(float64(a.beta1), float64(a.t)))
	bc2 := float32(1.0 - math.Pow(float64(a.beta2), float64(a.t)))

	for _, param := range a.params {
		grad := getGradient(param, grads)
		if grad == nil {
			continue
		}
		m, ok := a.m[param]
		if !ok {
			m = nn.Zeros(param.Tensor().Shape())
			a.m[param] = m
		}
		v, ok := a.v[param]
		if !ok {
			v = nn.Zeros(param.Tensor().Shape())
			a.v[param] = v
		}

		g, md, vd := grad.AsFloat32(), m.AsFloat32(), v.AsFloat32()
		pd := param.Tensor().AsFloat32()
		for i := range pd {
			md[i] = a.beta1*md[i] + (1-a.beta1)*g[i]
			vd[i] = a.beta2*vd[i] + (1-a.beta2)*g[i]*g[i]
			mHat := md[i] / bc1
			vHat := vd[i] / bc2
			pd[i] -= a.lr * mHat / (float32(math.Sqrt(float64(vHat))) + a.eps)
		}
	}
}

// ZeroGrad clears gradients for all parameters.
func (a *Adam) ZeroGrad() {
	for _, param := range a.params {
		param.ZeroGrad()
	}
}

// GetLR returns the current learning rate.
func (a *Adam) GetLR() float32 {
	return a.lr
}

// Name returns "Adam".
func (a *Adam) Name() string {
	return "Adam"
}

// StateDict returns moments under "m.<i>"/"v.<i>" and the timestep under "t".
func (a *Adam) StateDict() map[string]*tensor.RawTensor {
	state := make(map[string]*tensor.RawTensor)
	for i, p := range a.params {
		if m, ok := a.m[p]; ok {
			state[bufferKey("m", i)] = m
		}
		if v, ok := a.v[p]; ok {
			state[bufferKey("v", i)] = v
		}
	}
	t, _ := tensor.FromInt32([]int32{int32(a.t)}, tensor.Shape{1})
	state["t"] = t
	return state
}

// LoadStateDict restores moments and timestep.
func (a *Adam) LoadStateDict(stateDict map[string]*tensor.RawTensor) error {
	raw, ok := stateDict["t"]
	if !ok || raw.DType() != tensor.Int32 || raw.NumElements() != 1 {
		return fmt.Errorf("adam state: missing or invalid timestep")
	}
	m, err := loadBuffers("m", a.params, stateDict)
	if err != nil {
		return err
	}
	v, err := loadBuffers("v", a.params, stateDict)
	if err != nil {
		return err
	}
	a.t, a.m, a.v = int(raw.AsInt32()[0]), m, v
	return nil
}

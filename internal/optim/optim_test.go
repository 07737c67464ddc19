package optim

import (
	"math"
	"testing"

	"github.com/born-ml/digits/internal/nn"
	"github.com/born-ml/digits/internal/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newParam(t *testing.T, name string, values ...float32) *nn.Parameter {
	t.Helper()
	raw, err := tensor.FromFloat32(values, tensor.Shape{len(values)})
	require.NoError(t, err)
	return nn.NewParameter(name, raw)
}

func gradFor(t *testing.T, p *nn.Parameter, values ...float32) map[*tensor.RawTensor]*tensor.RawTensor {
	t.Helper()
	g, err := tensor.FromFloat32(values, p.Tensor().Shape())
	require.NoError(t, err)
	return map[*tensor.RawTensor]*tensor.RawTensor{p.Tensor(): g}
}

func TestAdamFirstStepMovesByLR(t *testing.T) {
	p := newParam(t, "w", 1, -1, 0)
	adam := NewAdam([]*nn.Parameter{p}, AdamConfig{LR: 0.1})

	// With bias correction the first update is lr * sign(grad).
	adam.Step(gradFor(t, p, 0.5, -2, 0))
	got := p.Tensor().AsFloat32()
	assert.InDelta(t, 0.9, got[0], 1e-5)
	assert.InDelta(t, -0.9, got[1], 1e-5)
	assert.InDelta(t, 0, got[2], 1e-5)
	assert.Equal(t, 1, adam.t)
}

func TestAdamDefaults(t *testing.T) {
	adam := NewAdam(nil, AdamConfig{})
	assert.InDelta(t, 0.001, adam.GetLR(), 1e-9)
	assert.InDelta(t, 0.9, adam.beta1, 1e-7)
	assert.InDelta(t, 0.999, adam.beta2, 1e-7)
	assert.InDelta(t, 1e-8, adam.eps, 1e-12)
}

func TestAdamMinimisesQuadratic(t *testing.T) {
	p := newParam(t, "x", 3)
	adam := NewAdam([]*nn.Parameter{p}, AdamConfig{LR: 0.1})
	for range 300 {
		x := p.Tensor().AsFloat32()[0]
		adam.Step(gradFor(t, p, 2*x)) // d/dx x²
	}
	assert.Less(t, math.Abs(float64(p.Tensor().AsFloat32()[0])), 0.05)
}

func TestAdamSkipsParamsWithoutGrad(t *testing.T) {
	p := newParam(t, "w", 1)
	q := newParam(t, "frozen", 2)
	adam := NewAdam([]*nn.Parameter{p, q}, AdamConfig{})
	adam.Step(gradFor(t, p, 1))
	assert.Equal(t, float32(2), q.Tensor().AsFloat32()[0])
}

func TestAdamStateDictRoundTrip(t *testing.T) {
	p := newParam(t, "w", 1, 2)
	a := NewAdam([]*nn.Parameter{p}, AdamConfig{LR: 0.01})
	a.Step(gradFor(t, p, 0.3, -0.1))
	a.Step(gradFor(t, p, 0.2, 0.4))

	q := newParam(t, "w", 1, 2)
	copy(q.Tensor().AsFloat32(), p.Tensor().AsFloat32())
	b := NewAdam([]*nn.Parameter{q}, AdamConfig{LR: 0.01})
	require.NoError(t, b.LoadStateDict(a.StateDict()))
	assert.Equal(t, 2, b.t)

	a.Step(gradFor(t, p, 0.1, 0.1))
	b.Step(gradFor(t, q, 0.1, 0.1))
	assert.Equal(t, p.Tensor().AsFloat32(), q.Tensor().AsFloat32())
}

func TestAdamLoadStateDictRejectsBadShape(t *testing.T) {
	p := newParam(t, "w", 1, 2)
	a := NewAdam([]*nn.Parameter{p}, AdamConfig{})
	state := a.StateDict()
	state["m.0"] = tensor.MustRaw(tensor.Shape{3}, tensor.Float32)
	assert.Error(t, a.LoadStateDict(state))

	assert.Error(t, a.LoadStateDict(map[string]*tensor.RawTensor{}))
}

func TestSGDMomentum(t *testing.T) {
	p := newParam(t, "w", 1)
	sgd := NewSGD([]*nn.Parameter{p}, SGDConfig{LR: 0.1, Momentum: 0.5})

	sgd.Step(gradFor(t, p, 1)) // v=1, w=0.9
	sgd.Step(gradFor(t, p, 1)) // v=1.5, w=0.75
	assert.InDelta(t, 0.75, p.Tensor().AsFloat32()[0], 1e-6)

	state := sgd.StateDict()
	require.Contains(t, state, "velocity.0")
	assert.InDelta(t, 1.5, state["velocity.0"].AsFloat32()[0], 1e-6)
}

func TestNewByKind(t *testing.T) {
	opt, err := New(KindAdam, nil, 0.002)
	require.NoError(t, err)
	assert.Equal(t, "Adam", opt.Name())
	assert.InDelta(t, 0.002, opt.GetLR(), 1e-9)

	opt, err = New(KindSGD, nil, 0.05)
	require.NoError(t, err)
	assert.Equal(t, "SGD", opt.Name())

	_, err = New("rmsprop", nil, 0.1)
	assert.Error(t, err)
}

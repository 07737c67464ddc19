package trainer

import (
	"context"
	"math/rand"
	"testing"

	"github.com/born-ml/digits/internal/mnist"
	"github.com/born-ml/digits/internal/model"
	"github.com/born-ml/digits/internal/optim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunReducesLoss(t *testing.T) {
	ds := mnist.Synthetic(100, 42)
	m := model.New(rand.New(rand.NewSource(1)))
	opt := optim.NewAdam(m.Parameters(), optim.AdamConfig{LR: 0.001})

	before, _, err := Evaluate(m, ds, 50)
	require.NoError(t, err)

	report, err := Run(context.Background(), m, opt, ds, RunConfig{Epochs: 1, BatchSize: 10, Seed: 7, Shuffle: true})
	require.NoError(t, err)
	require.Len(t, report.Epochs, 1)
	assert.Equal(t, int64(10), report.Steps)
	assert.Equal(t, int64(10), report.Step)
	assert.Equal(t, 1, report.FinalEpoch())
	assert.Equal(t, 10, report.Epochs[0].Batches)

	after, _, err := Evaluate(m, ds, 50)
	require.NoError(t, err)
	assert.Less(t, after, before)
}

func TestRunIsDeterministic(t *testing.T) {
	train := func() []float32 {
		ds := mnist.Synthetic(40, 3)
		m := model.New(rand.New(rand.NewSource(5)))
		_, err := Run(context.Background(), m, optim.NewAdam(m.Parameters(), optim.AdamConfig{}), ds,
			RunConfig{Epochs: 2, BatchSize: 8, Seed: 11, Shuffle: true})
		require.NoError(t, err)
		return m.StateDict()["3.weight"].AsFloat32()
	}
	assert.Equal(t, train(), train())
}

func TestRunRejectsBadConfig(t *testing.T) {
	ds := mnist.Synthetic(4, 1)
	m := model.New(rand.New(rand.NewSource(1)))
	opt := optim.NewAdam(m.Parameters(), optim.AdamConfig{})

	_, err := Run(context.Background(), m, opt, ds, RunConfig{Epochs: 0, BatchSize: 2})
	assert.Error(t, err)
	_, err = Run(context.Background(), m, opt, ds, RunConfig{Epochs: 1, BatchSize: 0})
	assert.Error(t, err)
	_, err = Run(context.Background(), m, opt, ds, RunConfig{Epochs: 1, BatchSize: 2, StartStep: -1})
	assert.Error(t, err)
}

func TestRunContinuesFromStartPosition(t *testing.T) {
	ds := mnist.Synthetic(100, 42)
	m := model.New(rand.New(rand.NewSource(1)))
	opt := optim.NewAdam(m.Parameters(), optim.AdamConfig{})

	report, err := Run(context.Background(), m, opt, ds, RunConfig{
		Epochs:     2,
		BatchSize:  10,
		StartEpoch: 3,
		StartStep:  30,
	})
	require.NoError(t, err)
	require.Len(t, report.Epochs, 2)
	assert.Equal(t, 4, report.Epochs[0].Epoch)
	assert.Equal(t, 5, report.FinalEpoch())
	assert.Equal(t, int64(20), report.Steps)
	assert.Equal(t, int64(50), report.Step)
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ds := mnist.Synthetic(4, 1)
	m := model.New(rand.New(rand.NewSource(1)))
	_, err := Run(ctx, m, optim.NewAdam(m.Parameters(), optim.AdamConfig{}), ds, RunConfig{Epochs: 1, BatchSize: 2})
	assert.ErrorIs(t, err, context.Canceled)
}

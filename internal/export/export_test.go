package export

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/digits/internal/model"
	"github.com/born-ml/digits/internal/nn"
	"github.com/born-ml/digits/internal/onnx"
	"github.com/born-ml/digits/internal/optim"
	"github.com/born-ml/digits/internal/tensor"
)

func testInput(seed int64) *tensor.RawTensor {
	rng := rand.New(rand.NewSource(seed))
	x := tensor.MustRaw(tensor.Shape{4, 1, model.ImageSize, model.ImageSize}, tensor.Float32)
	for i := range x.AsFloat32() {
		x.AsFloat32()[i] = rng.Float32()
	}
	return x
}

func TestCheckpointRoundTrip(t *testing.T) {
	m := model.New(rand.New(rand.NewSource(3)))
	path := filepath.Join(t.TempDir(), "mnist.born")

	e := New(m, Options{Metadata: map[string]string{"epochs": "3"}})
	require.NoError(t, e.SaveCheckpoint(path))

	loaded, header, err := model.Load(path)
	require.NoError(t, err)
	assert.Equal(t, model.Type, header.ModelType)
	assert.Equal(t, "3", header.Metadata["epochs"])

	x := testInput(1)
	assert.Equal(t, m.Forward(nil, x).AsFloat32(), loaded.Forward(nil, x).AsFloat32())
}

func TestSaveTrainingState(t *testing.T) {
	m := model.New(rand.New(rand.NewSource(3)))
	opt, err := optim.New(optim.KindAdam, m.Parameters(), 0.001)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "state.born")

	require.NoError(t, New(m, Options{}).SaveTrainingState(path, opt, 2, 1876, 0.12))

	restored := model.New(rand.New(rand.NewSource(9)))
	restoredOpt, err := optim.New(optim.KindAdam, restored.Parameters(), 0.001)
	require.NoError(t, err)
	cp, err := nn.LoadCheckpoint(path, restored, restoredOpt)
	require.NoError(t, err)
	assert.Equal(t, 2, cp.Epoch)
	assert.EqualValues(t, 1876, cp.Step)

	// A training state is also a valid model file.
	_, _, err = model.Load(path)
	require.NoError(t, err)
}

func TestInterchangeMerge(t *testing.T) {
	dir := t.TempDir()
	m := model.New(rand.New(rand.NewSource(5)))
	temp := filepath.Join(dir, "temp_model.onnx")
	final := filepath.Join(dir, "mnist.onnx")

	e := New(m, Options{TempPath: temp, ExternalDataThreshold: 1024})
	size, err := e.ExportInterchange(final)
	require.NoError(t, err)

	info, err := os.Stat(final)
	require.NoError(t, err)
	assert.Equal(t, info.Size(), size)
	// 784*128 + 128 + 128*10 + 10 float32 parameters are inline.
	assert.Greater(t, size, int64(4*(784*128+128+128*10+10)))

	for _, p := range []string{temp, temp + ".data"} {
		_, err := os.Stat(p)
		assert.True(t, os.IsNotExist(err), "%s should be removed", p)
	}

	merged, err := onnx.ReadFile(final)
	require.NoError(t, err)
	assert.False(t, onnx.HasExternalData(merged))

	exec, err := onnx.Compile(merged)
	require.NoError(t, err)
	x := testInput(2)
	got, err := exec.Forward(x)
	require.NoError(t, err)
	assert.InDeltaSlice(t, m.Forward(nil, x).AsFloat32(), got.AsFloat32(), 1e-5)
}

func TestInterchangeInlineOnly(t *testing.T) {
	dir := t.TempDir()
	m := model.New(rand.New(rand.NewSource(5)))
	e := New(m, Options{TempPath: filepath.Join(dir, "t.onnx"), ExternalDataThreshold: -1})

	_, err := e.ExportInterchange(filepath.Join(dir, "mnist.onnx"))
	require.NoError(t, err)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "mnist.onnx", entries[0].Name())
}

func TestInterchangeFailureLeavesTemporaries(t *testing.T) {
	dir := t.TempDir()
	m := model.New(rand.New(rand.NewSource(5)))
	temp := filepath.Join(dir, "temp_model.onnx")

	e := New(m, Options{TempPath: temp})
	_, err := e.ExportInterchange(filepath.Join(dir, "missing", "mnist.onnx"))
	require.Error(t, err)

	_, err = os.Stat(temp)
	assert.NoError(t, err)
	_, err = os.Stat(temp + ".data")
	assert.NoError(t, err)
}

func TestMergeKeepsSource(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "external.onnx")
	dst := filepath.Join(dir, "single.onnx")
	m := model.New(rand.New(rand.NewSource(1)))
	require.NoError(t, onnx.Export(src, m.StateDict(), onnx.ExportOptions{
		ExternalDataPath:      "external.onnx.data",
		ExternalDataThreshold: 0,
	}))

	size, err := Merge(src, dst)
	require.NoError(t, err)
	assert.Positive(t, size)

	_, err = os.Stat(src)
	assert.NoError(t, err)
}

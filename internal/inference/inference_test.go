package inference

import (
	"bytes"
	"context"
	"image"
	"image/draw"
	"image/png"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/digits/internal/export"
	"github.com/born-ml/digits/internal/model"
	"github.com/born-ml/digits/internal/nn"
	"github.com/born-ml/digits/internal/onnx"
	"github.com/born-ml/digits/internal/preprocess"
	"github.com/born-ml/digits/internal/tensor"
)

type fixedClassifier struct {
	scores []float32
}

func (f fixedClassifier) Scores(context.Context, *tensor.RawTensor) ([]float32, error) {
	return f.scores, nil
}
func (f fixedClassifier) Kind() EngineKind { return "fixed" }
func (f fixedClassifier) Close() error     { return nil }

func randomInput(rng *rand.Rand) *tensor.RawTensor {
	x := tensor.MustRaw(model.InputShape, tensor.Float32)
	for i := range x.AsFloat32() {
		x.AsFloat32()[i] = rng.Float32()
	}
	return x
}

func newPreprocessor(t *testing.T) *preprocess.Preprocessor {
	t.Helper()
	p, err := preprocess.New(preprocess.Options{Webcam: true})
	require.NoError(t, err)
	return p
}

func writeModels(t *testing.T) (bornPath, onnxPath string, m *nn.Sequential) {
	t.Helper()
	dir := t.TempDir()
	m = model.New(rand.New(rand.NewSource(21)))
	bornPath = filepath.Join(dir, "mnist.born")
	onnxPath = filepath.Join(dir, "mnist.onnx")

	e := export.New(m, export.Options{TempPath: filepath.Join(dir, "temp_model.onnx")})
	require.NoError(t, e.SaveCheckpoint(bornPath))
	_, err := e.ExportInterchange(onnxPath)
	require.NoError(t, err)
	return bornPath, onnxPath, m
}

func TestOpenNativeAndGraphAgree(t *testing.T) {
	bornPath, onnxPath, m := writeModels(t)

	native, err := Open(bornPath, EngineAuto, Options{})
	require.NoError(t, err)
	defer native.Close()
	assert.Equal(t, EngineNative, native.Kind())

	graph, err := Open(onnxPath, EngineAuto, Options{})
	require.NoError(t, err)
	defer graph.Close()
	assert.Equal(t, EngineGraph, graph.Kind())

	rng := rand.New(rand.NewSource(4))
	for range 5 {
		x := randomInput(rng)
		a, err := native.Scores(context.Background(), x)
		require.NoError(t, err)
		b, err := graph.Scores(context.Background(), x)
		require.NoError(t, err)
		assert.Equal(t, m.Forward(nil, x).AsFloat32(), a)
		assert.InDeltaSlice(t, a, b, 1e-5)
	}
}

func TestOpenGraphResolvesSideCar(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "split.onnx")
	m := model.New(rand.New(rand.NewSource(2)))
	require.NoError(t, onnx.Export(path, m.StateDict(), onnx.ExportOptions{
		ExternalDataPath:      "split.onnx.data",
		ExternalDataThreshold: 1024,
	}))

	c, err := Open(path, EngineGraph, Options{})
	require.NoError(t, err)
	x := randomInput(rand.New(rand.NewSource(1)))
	scores, err := c.Scores(context.Background(), x)
	require.NoError(t, err)
	assert.InDeltaSlice(t, m.Forward(nil, x).AsFloat32(), scores, 1e-5)
}

func TestOpenNativeReadsONNXInitializers(t *testing.T) {
	_, onnxPath, m := writeModels(t)

	c, err := Open(onnxPath, EngineNative, Options{})
	require.NoError(t, err)
	defer c.Close()
	assert.Equal(t, EngineNative, c.Kind())

	x := randomInput(rand.New(rand.NewSource(8)))
	scores, err := c.Scores(context.Background(), x)
	require.NoError(t, err)
	assert.Equal(t, m.Forward(nil, x).AsFloat32(), scores)
}

func TestOpenMissingFileFails(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"missing.born", "missing.onnx"} {
		_, err := Open(filepath.Join(dir, name), EngineAuto, Options{})
		assert.Error(t, err, name)
	}
}

func TestOpenUnknownFormat(t *testing.T) {
	_, err := Open("model.pt", EngineAuto, Options{})
	assert.ErrorIs(t, err, ErrUnknownFormat)
}

func TestOpenRejectsMismatch(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	wrong := nn.NewSequential(
		nn.NewFlatten(),
		nn.NewLinear(model.InputFeatures, 32, rng),
		nn.NewReLU(),
		nn.NewLinear(32, model.NumClasses, rng),
	)
	path := filepath.Join(t.TempDir(), "wrong.born")
	require.NoError(t, nn.Save(wrong, path, model.Type, nil))

	_, err := Open(path, EngineNative, Options{})
	assert.ErrorIs(t, err, model.ErrArchitectureMismatch)
}

func TestScoresRejectsWrongShape(t *testing.T) {
	e := NewNativeEngine(model.New(rand.New(rand.NewSource(1))))
	_, err := e.Scores(context.Background(), tensor.MustRaw(tensor.Shape{1, 784}, tensor.Float32))
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.Scores(ctx, tensor.MustRaw(model.InputShape, tensor.Float32))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestServicePredictAlwaysReturnsDigit(t *testing.T) {
	svc := NewService(newPreprocessor(t), NewNativeEngine(model.New(rand.New(rand.NewSource(8)))))
	rng := rand.New(rand.NewSource(8))
	for range 50 {
		p, err := svc.Predict(context.Background(), randomInput(rng))
		require.NoError(t, err)
		assert.GreaterOrEqual(t, p.Digit, 0)
		assert.LessOrEqual(t, p.Digit, 9)
		assert.Len(t, p.Scores, model.NumClasses)
	}
}

func TestServiceTieBreak(t *testing.T) {
	pre := newPreprocessor(t)
	x := tensor.MustRaw(model.InputShape, tensor.Float32)

	p, err := NewService(pre, fixedClassifier{scores: make([]float32, 10)}).Predict(context.Background(), x)
	require.NoError(t, err)
	assert.Equal(t, 0, p.Digit)

	p, err = NewService(pre, fixedClassifier{scores: []float32{0, 3, 1, 3, 0, 0, 0, 0, 0, 0}}).Predict(context.Background(), x)
	require.NoError(t, err)
	assert.Equal(t, 1, p.Digit)

	_, err = NewService(pre, fixedClassifier{scores: []float32{1, 2}}).Predict(context.Background(), x)
	assert.Error(t, err)
}

func TestPredictionProbabilities(t *testing.T) {
	p := Prediction{Digit: 2, Scores: []float32{0, 0, 1000, 0, 0, 0, 0, 0, 0, -1000}}
	probs := p.Probabilities()
	require.Len(t, probs, model.NumClasses)
	assert.InDelta(t, 1, probs[2], 1e-6)
	assert.InDelta(t, 0, probs[9], 1e-6)

	var sum float32
	for _, v := range (Prediction{Scores: []float32{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}}).Probabilities() {
		sum += v
	}
	assert.InDelta(t, 1, sum, 1e-5)
}

func TestServicePredictImage(t *testing.T) {
	svc := NewService(newPreprocessor(t), NewNativeEngine(model.New(rand.New(rand.NewSource(8)))))
	assert.Equal(t, EngineNative, svc.Engine())

	img := image.NewGray(image.Rect(0, 0, 280, 280))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	p, err := svc.PredictImage(context.Background(), buf.Bytes())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, p.Digit, 0)
	assert.LessOrEqual(t, p.Digit, 9)

	_, err = svc.PredictImage(context.Background(), []byte("nope"))
	assert.ErrorIs(t, err, preprocess.ErrDecode)
}

func TestParseEngineKind(t *testing.T) {
	k, err := ParseEngineKind("")
	require.NoError(t, err)
	assert.Equal(t, EngineAuto, k)

	k, err = ParseEngineKind("ort")
	require.NoError(t, err)
	assert.Equal(t, EngineRuntime, k)

	_, err = ParseEngineKind("tensorrt")
	assert.Error(t, err)
}

package main

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"testing"

	"github.com/born-ml/digits/internal/model"
	"github.com/born-ml/digits/internal/nn"
	"github.com/born-ml/digits/internal/optim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), args, &stdout, &stderr)
	return stdout.String(), err
}

func writePNG(t *testing.T, path string) {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 40, 40))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	for y := 8; y < 32; y++ {
		img.SetGray(20, y, color.Gray{})
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
}

func TestVersion(t *testing.T) {
	out, err := runCLI(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "digits "+version+"\n", out)
}

func TestUnknownCommand(t *testing.T) {
	_, err := runCLI(t, "fly")
	assert.ErrorIs(t, err, errUsage)

	_, err = runCLI(t)
	assert.ErrorIs(t, err, errUsage)
}

func TestTrainExportInfer(t *testing.T) {
	t.Chdir(t.TempDir())

	out, err := runCLI(t, "train",
		"-synthetic", "160",
		"-epochs", "1",
		"-batch-size", "32",
		"-checkpoint", "model.born",
		"-state", "state.born",
		"-onnx", "-onnx-path", "model.onnx",
	)
	require.NoError(t, err)
	assert.Contains(t, out, "checkpoint saved to model.born")
	assert.Contains(t, out, "model exported to model.onnx")
	assert.Contains(t, out, "KB)")

	for _, p := range []string{"model.born", "state.born", "model.onnx"} {
		assert.FileExists(t, p)
	}
	for _, p := range []string{"temp_model.onnx", "temp_model.onnx.data"} {
		assert.NoFileExists(t, p)
	}

	writePNG(t, "digit.png")
	for _, path := range []string{"model.born", "model.onnx"} {
		out, err := runCLI(t, "infer", "-model", path, "-image", "digit.png")
		require.NoError(t, err, path)
		digit, err := strconv.Atoi(strings.TrimSpace(out))
		require.NoError(t, err)
		assert.True(t, digit >= 0 && digit <= 9, "digit %d", digit)
	}

	out, err = runCLI(t, "infer", "-model", "model.onnx", "-engine", "native", "-image", "digit.png", "-scores")
	require.NoError(t, err)
	assert.Equal(t, 11, strings.Count(out, "\n"))
	assert.Contains(t, out, "  9: ")
	assert.Contains(t, out, "(p=")

	// 128 training samples in batches of 32 give four steps per epoch.
	epoch, step := loadState(t, "state.born")
	assert.Equal(t, 1, epoch)
	assert.Equal(t, int64(4), step)

	out, err = runCLI(t, "train",
		"-synthetic", "160",
		"-epochs", "1",
		"-batch-size", "32",
		"-resume", "state.born",
		"-state", "resumed_state.born",
		"-checkpoint", "resumed.born",
	)
	require.NoError(t, err)
	assert.Contains(t, out, "checkpoint saved to resumed.born")
	assert.Contains(t, out, "now at epoch 2 step 8")

	epoch, step = loadState(t, "resumed_state.born")
	assert.Equal(t, 2, epoch)
	assert.Equal(t, int64(8), step)
}

func loadState(t *testing.T, path string) (int, int64) {
	t.Helper()
	m := model.New(rand.New(rand.NewSource(1)))
	opt, err := optim.New(optim.KindAdam, m.Parameters(), 0.001)
	require.NoError(t, err)
	cp, err := nn.LoadCheckpoint(path, m, opt)
	require.NoError(t, err)
	return cp.Epoch, cp.Step
}

func TestTrainMaxSamplesCapsSynthetic(t *testing.T) {
	t.Chdir(t.TempDir())

	out, err := runCLI(t, "train", "-synthetic", "160", "-max-samples", "50", "-epochs", "1", "-batch-size", "32", "-checkpoint", "model.born")
	require.NoError(t, err)
	assert.Contains(t, out, "trained 1 epochs (2 steps, now at epoch 1 step 2)")
}

func TestConvert(t *testing.T) {
	t.Chdir(t.TempDir())

	_, err := runCLI(t, "train", "-synthetic", "64", "-epochs", "1", "-checkpoint", "model.born", "-onnx", "-onnx-path", "first.onnx")
	require.NoError(t, err)

	out, err := runCLI(t, "convert", "-in", "first.onnx", "-out", "second.onnx")
	require.NoError(t, err)
	assert.Contains(t, out, "model merged to second.onnx")

	a, err := os.ReadFile("first.onnx")
	require.NoError(t, err)
	b, err := os.ReadFile("second.onnx")
	require.NoError(t, err)
	assert.Equal(t, a, b)

	_, err = runCLI(t, "convert", "-in", "second.onnx", "-out", "second.onnx")
	assert.Error(t, err)
}

func TestInferRequiresImage(t *testing.T) {
	_, err := runCLI(t, "infer")
	assert.ErrorIs(t, err, errUsage)
}

func TestInferMissingModelFails(t *testing.T) {
	t.Chdir(t.TempDir())
	writePNG(t, "digit.png")
	_, err := runCLI(t, "infer", "-model", "absent.born", "-image", "digit.png")
	assert.ErrorContains(t, err, "failed to load model")
}

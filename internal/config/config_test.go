package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "digits.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 64, cfg.Train.BatchSize)
	assert.Equal(t, 3, cfg.Train.Epochs)
	assert.Equal(t, float32(0.001), cfg.Train.LearningRate)
	assert.Equal(t, ":8000", cfg.Serve.Addr)
	assert.Equal(t, []string{"*"}, cfg.Serve.CORSOrigins)
	assert.True(t, cfg.Serve.Webcam)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := writeConfig(t, `
log_level: debug
train:
  epochs: 5
  optimizer: sgd
serve:
  addr: 127.0.0.1:9000
  webcam: false
  cors_origins: [https://digits.example]
  read_timeout: 2s
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 5, cfg.Train.Epochs)
	assert.Equal(t, "sgd", cfg.Train.Optimizer)
	assert.Equal(t, 64, cfg.Train.BatchSize, "unset keys keep defaults")
	assert.Equal(t, "127.0.0.1:9000", cfg.Serve.Addr)
	assert.False(t, cfg.Serve.Webcam)
	assert.Equal(t, []string{"https://digits.example"}, cfg.Serve.CORSOrigins)
	assert.Equal(t, 2*time.Second, cfg.Serve.ReadTimeout)
	assert.Equal(t, 15*time.Second, cfg.Serve.WriteTimeout)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	_, err := Load(writeConfig(t, "train:\n  epoch: 5\n"))
	assert.Error(t, err)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"batch size":    "train:\n  batch_size: 0\n",
		"optimizer":     "train:\n  optimizer: rmsprop\n",
		"engine":        "serve:\n  engine: tensorrt\n",
		"interpolation": "serve:\n  interpolation: area\n",
		"log level":     "log_level: loud\n",
		"upload":        "serve:\n  max_upload_bytes: -1\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestEmptyFileUsesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestApplyOverrides(t *testing.T) {
	cfg := Default()
	off := false
	cfg.ApplyOverrides(Overrides{
		Epochs:    10,
		ModelPath: "mnist.onnx",
		Engine:    "graph",
		Webcam:    &off,
	})
	assert.Equal(t, 10, cfg.Train.Epochs)
	assert.Equal(t, 64, cfg.Train.BatchSize)
	assert.Equal(t, "mnist.onnx", cfg.Serve.ModelPath)
	assert.Equal(t, "graph", cfg.Serve.Engine)
	assert.False(t, cfg.Serve.Webcam)
	require.NoError(t, cfg.Validate())
}

func TestNewLoggerHonoursLevel(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "warn"
	var buf bytes.Buffer
	logger := cfg.NewLogger(&buf)

	logger.Info("hidden")
	logger.Warn("shown", "epoch", 1)
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "msg=shown epoch=1")
}

// Package config loads the digits YAML configuration.
//
//	log_level: info
//	train:
//	  data_dir: ./data
//	  epochs: 3
//	serve:
//	  addr: :8000
//	  model_path: mnist.born
//
// Every key is optional; missing keys keep the defaults of Default.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full configuration file.
type Config struct {
	LogLevel string      `yaml:"log_level"`
	Train    TrainConfig `yaml:"train"`
	Serve    ServeConfig `yaml:"serve"`
}

// TrainConfig captures the knobs of `digits train`.
type TrainConfig struct {
	DataDir               string  `yaml:"data_dir"`
	BatchSize             int     `yaml:"batch_size"`
	Epochs                int     `yaml:"epochs"`
	LearningRate          float32 `yaml:"learning_rate"`
	Optimizer             string  `yaml:"optimizer"`
	Seed                  int64   `yaml:"seed"`
	MaxSamples            int     `yaml:"max_samples"` // 0 uses the whole split
	LogEvery              int     `yaml:"log_every"`
	Checkpoint            string  `yaml:"checkpoint"`
	ONNXPath              string  `yaml:"onnx_path"`
	TempONNXPath          string  `yaml:"temp_onnx_path"`
	ExternalDataThreshold int     `yaml:"external_data_threshold"` // bytes
	VerifyDigests         bool    `yaml:"verify_digests"`
}

// ServeConfig captures the knobs of `digits serve`.
type ServeConfig struct {
	Addr            string        `yaml:"addr"`
	ModelPath       string        `yaml:"model_path"`
	Engine          string        `yaml:"engine"`
	ORTLibrary      string        `yaml:"ort_library"`
	Webcam          bool          `yaml:"webcam"`
	Interpolation   string        `yaml:"interpolation"`
	CORSOrigins     []string      `yaml:"cors_origins"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Train: TrainConfig{
			DataDir:               "./data",
			BatchSize:             64,
			Epochs:                3,
			LearningRate:          0.001,
			Optimizer:             "adam",
			Seed:                  1,
			LogEvery:              100,
			Checkpoint:            "mnist.born",
			ONNXPath:              "mnist.onnx",
			TempONNXPath:          "temp_model.onnx",
			ExternalDataThreshold: 1024,
			VerifyDigests:         true,
		},
		Serve: ServeConfig{
			Addr:            ":8000",
			ModelPath:       "mnist.born",
			Engine:          "auto",
			Webcam:          true,
			Interpolation:   "bilinear",
			CORSOrigins:     []string{"*"},
			MaxUploadBytes:  10 << 20,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 5 * time.Second,
		},
	}
}

// Load reads path over the defaults and validates the result. A missing
// file yields the defaults; an empty path skips reading.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	if err := decode(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Overrides captures CLI supplied values. Zero values leave the config
// untouched; Webcam is a pointer so false can override true.
type Overrides struct {
	LogLevel string

	DataDir      string
	BatchSize    int
	Epochs       int
	LearningRate float32
	Optimizer    string
	Seed         int64
	MaxSamples   int
	Checkpoint   string
	ONNXPath     string

	Addr          string
	ModelPath     string
	Engine        string
	ORTLibrary    string
	Webcam        *bool
	Interpolation string
}

// ApplyOverrides updates c using any non-zero override.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.LogLevel != "" {
		c.LogLevel = o.LogLevel
	}

	t := &c.Train
	if o.DataDir != "" {
		t.DataDir = o.DataDir
	}
	if o.BatchSize > 0 {
		t.BatchSize = o.BatchSize
	}
	if o.Epochs > 0 {
		t.Epochs = o.Epochs
	}
	if o.LearningRate > 0 {
		t.LearningRate = o.LearningRate
	}
	if o.Optimizer != "" {
		t.Optimizer = o.Optimizer
	}
	if o.Seed != 0 {
		t.Seed = o.Seed
	}
	if o.MaxSamples > 0 {
		t.MaxSamples = o.MaxSamples
	}
	if o.Checkpoint != "" {
		t.Checkpoint = o.Checkpoint
	}
	if o.ONNXPath != "" {
		t.ONNXPath = o.ONNXPath
	}

	s := &c.Serve
	if o.Addr != "" {
		s.Addr = o.Addr
	}
	if o.ModelPath != "" {
		s.ModelPath = o.ModelPath
	}
	if o.Engine != "" {
		s.Engine = o.Engine
	}
	if o.ORTLibrary != "" {
		s.ORTLibrary = o.ORTLibrary
	}
	if o.Webcam != nil {
		s.Webcam = *o.Webcam
	}
	if o.Interpolation != "" {
		s.Interpolation = o.Interpolation
	}
}

// Validate verifies the config is runnable.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if _, err := c.Level(); err != nil {
		return err
	}

	t := c.Train
	if t.BatchSize <= 0 {
		return fmt.Errorf("train.batch_size must be > 0 (got %d)", t.BatchSize)
	}
	if t.Epochs <= 0 {
		return fmt.Errorf("train.epochs must be > 0 (got %d)", t.Epochs)
	}
	if t.LearningRate <= 0 {
		return fmt.Errorf("train.learning_rate must be > 0 (got %g)", t.LearningRate)
	}
	if t.Optimizer != "adam" && t.Optimizer != "sgd" {
		return fmt.Errorf("train.optimizer must be adam or sgd (got %q)", t.Optimizer)
	}
	if t.MaxSamples < 0 {
		return fmt.Errorf("train.max_samples must be >= 0 (got %d)", t.MaxSamples)
	}
	if t.Checkpoint == "" {
		return errors.New("train.checkpoint must be set")
	}

	s := c.Serve
	if s.Addr == "" {
		return errors.New("serve.addr must be set")
	}
	if s.ModelPath == "" {
		return errors.New("serve.model_path must be set")
	}
	switch s.Engine {
	case "auto", "native", "graph", "ort":
	default:
		return fmt.Errorf("serve.engine must be auto, native, graph or ort (got %q)", s.Engine)
	}
	switch s.Interpolation {
	case "nearest", "bilinear", "bicubic", "lanczos3":
	default:
		return fmt.Errorf("serve.interpolation must be nearest, bilinear, bicubic or lanczos3 (got %q)", s.Interpolation)
	}
	if s.MaxUploadBytes <= 0 {
		return fmt.Errorf("serve.max_upload_bytes must be > 0 (got %d)", s.MaxUploadBytes)
	}
	if s.ReadTimeout < 0 || s.WriteTimeout < 0 || s.ShutdownTimeout < 0 {
		return errors.New("serve timeouts must not be negative")
	}
	return nil
}

// Level parses LogLevel (debug, info, warn or error).
func (c *Config) Level() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return lvl, nil
}

// NewLogger returns a text logger writing to w at the configured level.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	lvl, err := c.Level()
	if err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}

// Package inference loads a trained classifier and answers predictions.
//
// Three engines share the Classifier interface:
//
//   - native: a .born parameter set (or the initializers of an .onnx file)
//     run through the nn model
//   - graph: an .onnx file run by the pure-Go onnx executor
//   - ort: an .onnx file run by ONNX Runtime (cgo and the shared library)
//
// Every engine is checked with one dry run when opened, so a file that
// does not fit the architecture fails at startup, not on the first request.
package inference

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/born-ml/digits/internal/model"
	"github.com/born-ml/digits/internal/tensor"
)

// ErrUnknownFormat reports a model file whose engine cannot be inferred.
var ErrUnknownFormat = errors.New("inference: unknown model format")

// EngineKind selects an engine.
type EngineKind string

// Engine kinds.
const (
	EngineAuto    EngineKind = "auto"
	EngineNative  EngineKind = "native"
	EngineGraph   EngineKind = "graph"
	EngineRuntime EngineKind = "ort"
)

// ParseEngineKind validates s. The empty string selects EngineAuto.
func ParseEngineKind(s string) (EngineKind, error) {
	switch k := EngineKind(s); k {
	case "":
		return EngineAuto, nil
	case EngineAuto, EngineNative, EngineGraph, EngineRuntime:
		return k, nil
	default:
		return "", fmt.Errorf("unknown engine %q (want auto, native, graph or ort)", s)
	}
}

// Classifier produces the ten class scores for one preprocessed image.
type Classifier interface {
	// Scores runs one forward pass on a [1, 1, 28, 28] tensor.
	Scores(ctx context.Context, input *tensor.RawTensor) ([]float32, error)

	// Kind names the engine.
	Kind() EngineKind

	Close() error
}

// Options configures Open.
type Options struct {
	// RuntimeLibrary is the path of the onnxruntime shared library. Empty
	// uses the library's platform default.
	RuntimeLibrary string
}

// Open loads the model at path with the requested engine. EngineAuto picks
// native for .born files and graph for .onnx files.
func Open(path string, kind EngineKind, opts Options) (Classifier, error) {
	if kind == EngineAuto || kind == "" {
		switch strings.ToLower(filepath.Ext(path)) {
		case ".born":
			kind = EngineNative
		case ".onnx":
			kind = EngineGraph
		default:
			return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, path)
		}
	}

	var (
		c   Classifier
		err error
	)
	switch kind {
	case EngineNative:
		c, err = openNative(path)
	case EngineGraph:
		c, err = openGraph(path)
	case EngineRuntime:
		c, err = openRuntime(path, opts.RuntimeLibrary)
	default:
		return nil, fmt.Errorf("unknown engine %q", kind)
	}
	if err != nil {
		return nil, err
	}

	if err := dryRun(c); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

func dryRun(c Classifier) error {
	scores, err := c.Scores(context.Background(), tensor.MustRaw(model.InputShape, tensor.Float32))
	if err != nil {
		return fmt.Errorf("dry run failed: %w", err)
	}
	if len(scores) != model.NumClasses {
		return fmt.Errorf("%w: model produces %d scores, want %d", model.ErrArchitectureMismatch, len(scores), model.NumClasses)
	}
	return nil
}

func checkInput(input *tensor.RawTensor) error {
	if input == nil || !input.Shape().Equal(model.InputShape) || input.DType() != tensor.Float32 {
		return fmt.Errorf("input must be float32 %v, got %v", model.InputShape, input)
	}
	return nil
}

package inference

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/born-ml/digits/internal/model"
	"github.com/born-ml/digits/internal/nn"
	"github.com/born-ml/digits/internal/onnx"
	"github.com/born-ml/digits/internal/tensor"
)

// NativeEngine runs a .born parameter set. Forward passes use a nil tape,
// so nothing is recorded and concurrent calls are safe.
type NativeEngine struct {
	model *nn.Sequential
}

// NewNativeEngine wraps an already loaded model.
func NewNativeEngine(m *nn.Sequential) *NativeEngine {
	return &NativeEngine{model: m}
}

func openNative(path string) (*NativeEngine, error) {
	if strings.EqualFold(filepath.Ext(path), ".onnx") {
		return openNativeONNX(path)
	}
	m, _, err := model.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load model: %w", err)
	}
	return NewNativeEngine(m), nil
}

// openNativeONNX runs the initializers of an exported graph through the
// nn model. The graph itself is ignored.
func openNativeONNX(path string) (*NativeEngine, error) {
	mp, err := onnx.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := onnx.LoadExternalData(mp, filepath.Dir(path)); err != nil {
		return nil, err
	}
	state, err := onnx.ToStateDict(mp)
	if err != nil {
		return nil, fmt.Errorf("failed to read initializers: %w", err)
	}
	m, err := model.FromStateDict(state)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return NewNativeEngine(m), nil
}

// Scores implements Classifier.
func (e *NativeEngine) Scores(ctx context.Context, input *tensor.RawTensor) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkInput(input); err != nil {
		return nil, err
	}
	out := e.model.Forward(nil, input)
	return append([]float32(nil), out.AsFloat32()...), nil
}

// Kind implements Classifier.
func (e *NativeEngine) Kind() EngineKind { return EngineNative }

// Close implements Classifier.
func (e *NativeEngine) Close() error { return nil }

// GraphEngine runs an ONNX file with the pure-Go executor. Side-car data
// next to the file is resolved at load time.
type GraphEngine struct {
	graph *onnx.Model
}

func openGraph(path string) (*GraphEngine, error) {
	m, err := onnx.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := onnx.LoadExternalData(m, filepath.Dir(path)); err != nil {
		return nil, err
	}
	g, err := onnx.Compile(m)
	if err != nil {
		return nil, fmt.Errorf("failed to compile %s: %w", path, err)
	}
	return &GraphEngine{graph: g}, nil
}

// Scores implements Classifier.
func (e *GraphEngine) Scores(ctx context.Context, input *tensor.RawTensor) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkInput(input); err != nil {
		return nil, err
	}
	out, err := e.graph.Forward(input)
	if err != nil {
		return nil, err
	}
	if out.DType() != tensor.Float32 {
		return nil, fmt.Errorf("graph output is %s, want float32", out.DType())
	}
	return append([]float32(nil), out.AsFloat32()...), nil
}

// Kind implements Classifier.
func (e *GraphEngine) Kind() EngineKind { return EngineGraph }

// Close implements Classifier.
func (e *GraphEngine) Close() error { return nil }

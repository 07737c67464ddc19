//go:build cgo

package inference

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/born-ml/digits/internal/model"
	"github.com/born-ml/digits/internal/onnx"
	"github.com/born-ml/digits/internal/tensor"
)

// RuntimeEngine runs an ONNX file through ONNX Runtime. The session binds
// fixed input and output tensors, so calls are serialised.
type RuntimeEngine struct {
	mu      sync.Mutex
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

func openRuntime(path, library string) (*RuntimeEngine, error) {
	if !ort.IsInitialized() {
		if library != "" {
			ort.SetSharedLibraryPath(library)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX Runtime: %w", err)
		}
	}

	input, err := ort.NewEmptyTensor[float32](ort.NewShape(model.InputShape.Int64s()...))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, model.NumClasses))
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(path,
		[]string{onnx.InputName}, []string{onnx.OutputName},
		[]ort.ArbitraryTensor{input}, []ort.ArbitraryTensor{output},
		nil)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("failed to create ONNX Runtime session: %w", err)
	}

	return &RuntimeEngine{session: session, input: input, output: output}, nil
}

// Scores implements Classifier.
func (e *RuntimeEngine) Scores(ctx context.Context, input *tensor.RawTensor) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkInput(input); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	copy(e.input.GetData(), input.AsFloat32())
	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	return append([]float32(nil), e.output.GetData()...), nil
}

// Kind implements Classifier.
func (e *RuntimeEngine) Kind() EngineKind { return EngineRuntime }

// Close releases the session and tensors. The ONNX Runtime environment
// stays initialised for the life of the process.
func (e *RuntimeEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.input != nil {
		e.input.Destroy()
	}
	if e.output != nil {
		e.output.Destroy()
	}
	if e.session != nil {
		e.session.Destroy()
	}
	e.session, e.input, e.output = nil, nil, nil
	return nil
}

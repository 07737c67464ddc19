package nn

import (
	"fmt"
	"strings"
	"time"

	"github.com/born-ml/digits/internal/serialization"
	"github.com/born-ml/digits/internal/tensor"
)

const optimizerPrefix = "optimizer."

// OptimizerState represents an optimizer that can save/load its state.
//
// Declared here instead of importing optim to keep the dependency pointing
// from optim to nn.
type OptimizerState interface {
	StateDict() map[string]*tensor.RawTensor
	LoadStateDict(stateDict map[string]*tensor.RawTensor) error
	GetLR() float32
	Name() string
}

// Checkpoint represents a complete training state snapshot: model
// parameters, optimizer moments and the position in training.
//
// A checkpoint file is also a valid model file; Load ignores the
// optimizer entries.
type Checkpoint struct {
	Model     Module
	Optimizer OptimizerState
	Epoch     int
	Step      int64
	Loss      float64
	Metadata  map[string]any
	CreatedAt time.Time
}

// Save writes the checkpoint to a .born file.
func (c *Checkpoint) Save(path, modelType string) error {
	combined := make(map[string]*tensor.RawTensor)
	for name, raw := range c.Model.StateDict() {
		combined[name] = raw
	}
	for name, raw := range c.Optimizer.StateDict() {
		combined[optimizerPrefix+name] = raw
	}

	header := serialization.Header{
		ModelType: modelType,
		CreatedAt: c.CreatedAt,
		CheckpointMeta: &serialization.CheckpointMeta{
			IsCheckpoint:    true,
			Epoch:           c.Epoch,
			Step:            c.Step,
			Loss:            c.Loss,
			OptimizerType:   c.Optimizer.Name(),
			OptimizerConfig: map[string]any{"lr": c.Optimizer.GetLR()},
			TrainingMeta:    c.Metadata,
		},
	}
	if err := serialization.WriteFile(path, combined, header); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	return nil
}

// LoadCheckpoint restores model and optimizer state from path.
//
// The model and optimizer must be constructed with the same architecture
// and configuration as when the checkpoint was saved.
func LoadCheckpoint(path string, model Module, optimizer OptimizerState) (*Checkpoint, error) {
	f, err := serialization.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}
	meta := f.Header.CheckpointMeta
	if meta == nil || !meta.IsCheckpoint {
		return nil, serialization.ErrNotCheckpoint
	}

	stateDict, err := f.StateDict()
	if err != nil {
		return nil, fmt.Errorf("failed to read state dict: %w", err)
	}
	modelState, optimState := SplitOptimizerState(stateDict)

	if err := model.LoadStateDict(modelState); err != nil {
		return nil, fmt.Errorf("failed to load model state: %w", err)
	}
	if err := optimizer.LoadStateDict(optimState); err != nil {
		return nil, fmt.Errorf("failed to load optimizer state: %w", err)
	}

	return &Checkpoint{
		Model:     model,
		Optimizer: optimizer,
		Epoch:     meta.Epoch,
		Step:      meta.Step,
		Loss:      meta.Loss,
		Metadata:  meta.TrainingMeta,
		CreatedAt: f.Header.CreatedAt,
	}, nil
}

// SplitOptimizerState separates "optimizer."-prefixed checkpoint entries
// from model parameters, stripping the prefix.
func SplitOptimizerState(stateDict map[string]*tensor.RawTensor) (model, optimizer map[string]*tensor.RawTensor) {
	model = make(map[string]*tensor.RawTensor)
	optimizer = make(map[string]*tensor.RawTensor)
	for name, raw := range stateDict {
		if rest, ok := strings.CutPrefix(name, optimizerPrefix); ok {
			optimizer[rest] = raw
		} else {
			model[name] = raw
		}
	}
	return model, optimizer
}

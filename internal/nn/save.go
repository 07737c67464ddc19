package nn

import (
	"fmt"

	"github.com/born-ml/digits/internal/serialization"
)

// Save writes the module's state dict to a .born file at path.
func Save(module Module, path, modelType string, metadata map[string]string) error {
	header := serialization.Header{ModelType: modelType, Metadata: metadata}
	if err := serialization.WriteFile(path, module.StateDict(), header); err != nil {
		return fmt.Errorf("failed to save model: %w", err)
	}
	return nil
}

// Load reads a .born file and loads its tensors into module.
//
// Returns the file header so callers can inspect model type and metadata.
func Load(path string, module Module) (serialization.Header, error) {
	f, err := serialization.ReadFile(path)
	if err != nil {
		return serialization.Header{}, fmt.Errorf("failed to read model: %w", err)
	}
	stateDict, err := f.StateDict()
	if err != nil {
		return serialization.Header{}, fmt.Errorf("failed to read state dict: %w", err)
	}
	if f.Header.CheckpointMeta != nil && f.Header.CheckpointMeta.IsCheckpoint {
		stateDict, _ = SplitOptimizerState(stateDict)
	}
	if err := module.LoadStateDict(stateDict); err != nil {
		return serialization.Header{}, fmt.Errorf("failed to load state dict: %w", err)
	}
	return f.Header, nil
}

package nn

import (
	"fmt"
	"strings"

	"github.com/born-ml/digits/internal/autodiff"
	"github.com/born-ml/digits/internal/tensor"
)

// Sequential is a container module that chains multiple modules together.
//
// State dict keys are prefixed with the module index ("1.weight",
// "3.bias"), so parameterless layers still occupy an index.
type Sequential struct {
	modules []Module
}

// NewSequential creates a new Sequential container.
func NewSequential(modules ...Module) *Sequential {
	return &Sequential{modules: modules}
}

// Forward applies all modules in sequence.
func (s *Sequential) Forward(tape *autodiff.Tape, input *tensor.RawTensor) *tensor.RawTensor {
	output := input
	for _, module := range s.modules {
		output = module.Forward(tape, output)
	}
	return output
}

// Parameters returns all trainable parameters from all modules, in order.
func (s *Sequential) Parameters() []*Parameter {
	var params []*Parameter
	for _, module := range s.modules {
		params = append(params, module.Parameters()...)
	}
	return params
}

// StateDict returns every module's parameters under "<index>.<name>".
func (s *Sequential) StateDict() map[string]*tensor.RawTensor {
	stateDict := make(map[string]*tensor.RawTensor)
	for i, module := range s.modules {
		for name, raw := range module.StateDict() {
			stateDict[fmt.Sprintf("%d.%s", i, name)] = raw
		}
	}
	return stateDict
}

// LoadStateDict loads parameters keyed by "<index>.<name>".
//
// Every module with parameters must find its entries; keys that belong to
// no module are rejected.
func (s *Sequential) LoadStateDict(stateDict map[string]*tensor.RawTensor) error {
	own := s.StateDict()
	for key := range stateDict {
		if _, ok := own[key]; !ok {
			return fmt.Errorf("unexpected key %q in state dict", key)
		}
	}

	for i, module := range s.modules {
		if len(module.Parameters()) == 0 {
			continue
		}
		prefix := fmt.Sprintf("%d.", i)
		moduleState := make(map[string]*tensor.RawTensor)
		for key, raw := range stateDict {
			if name, ok := strings.CutPrefix(key, prefix); ok {
				moduleState[name] = raw
			}
		}
		if err := module.LoadStateDict(moduleState); err != nil {
			return fmt.Errorf("failed to load module %d: %w", i, err)
		}
	}
	return nil
}

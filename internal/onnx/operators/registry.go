package operators

import (
	"fmt"
	"sort"

	"github.com/born-ml/digits/internal/tensor"
)

// OpHandler runs one node on its resolved inputs. Omitted optional inputs
// are nil.
type OpHandler func(node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error)

// Registry maps ONNX operator types to handler functions.
type Registry struct {
	handlers map[string]OpHandler
}

// NewRegistry creates a registry with every built-in operator.
func NewRegistry() *Registry {
	r := &Registry{handlers: make(map[string]OpHandler)}
	r.registerMathOps()
	r.registerShapeOps()
	return r
}

// Register adds or replaces the handler for opType.
func (r *Registry) Register(opType string, handler OpHandler) {
	r.handlers[opType] = handler
}

// Get returns the handler for an operator type.
func (r *Registry) Get(opType string) (OpHandler, bool) {
	h, ok := r.handlers[opType]
	return h, ok
}

// Execute runs node with the given inputs.
func (r *Registry) Execute(node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	handler, ok := r.handlers[node.OpType]
	if !ok {
		return nil, fmt.Errorf("unsupported operator: %s", node.OpType)
	}
	return handler(node, inputs)
}

// SupportedOps returns the registered operator types in sorted order.
func (r *Registry) SupportedOps() []string {
	ops := make([]string, 0, len(r.handlers))
	for op := range r.handlers {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}

func requireInputs(op string, inputs []*tensor.RawTensor, lo, hi int) error {
	if len(inputs) < lo || len(inputs) > hi {
		if lo == hi {
			return fmt.Errorf("%s requires %d inputs, got %d", op, lo, len(inputs))
		}
		return fmt.Errorf("%s requires %d to %d inputs, got %d", op, lo, hi, len(inputs))
	}
	for i := range lo {
		if inputs[i] == nil {
			return fmt.Errorf("%s: input %d is missing", op, i)
		}
	}
	return nil
}

func requireFloat(op string, ts ...*tensor.RawTensor) error {
	for _, t := range ts {
		if t != nil && t.DType() != tensor.Float32 {
			return fmt.Errorf("%s: expected float32 input, got %s", op, t.DType())
		}
	}
	return nil
}

func single(t *tensor.RawTensor) []*tensor.RawTensor {
	return []*tensor.RawTensor{t}
}

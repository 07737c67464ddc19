package onnx

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/born-ml/digits/internal/onnx/operators"
	"github.com/born-ml/digits/internal/tensor"
)

// Model is a compiled ONNX graph ready for execution.
type Model struct {
	registry    *operators.Registry
	tensors     map[string]*tensor.RawTensor // initializers
	inputNames  []string
	outputNames []string
	sortedNodes []*operators.Node
	opset       int64
}

// Compile prepares m for execution. Initializers must be inline (see
// LoadExternalData) and every node must have a registered operator.
func Compile(m *ModelProto) (*Model, error) {
	if m.Graph == nil {
		return nil, fmt.Errorf("model has no graph")
	}
	if HasExternalData(m) {
		return nil, fmt.Errorf("%w: initializers not loaded", ErrExternalData)
	}

	model := &Model{
		registry: operators.NewRegistry(),
		tensors:  make(map[string]*tensor.RawTensor, len(m.Graph.Initializers)),
	}
	for _, op := range m.OpsetImport {
		if op.Domain == "" || op.Domain == "ai.onnx" {
			model.opset = op.Version
		}
	}

	for i := range m.Graph.Initializers {
		tp := &m.Graph.Initializers[i]
		t, err := tensorFromProto(tp)
		if err != nil {
			return nil, err
		}
		model.tensors[tp.Name] = t
	}

	// Graph inputs that are also initializers are constants, not feeds.
	for _, in := range m.Graph.Inputs {
		if _, ok := model.tensors[in.Name]; !ok {
			model.inputNames = append(model.inputNames, in.Name)
		}
	}
	for _, out := range m.Graph.Outputs {
		model.outputNames = append(model.outputNames, out.Name)
	}
	if len(model.inputNames) == 0 || len(model.outputNames) == 0 {
		return nil, fmt.Errorf("graph needs at least one input and one output")
	}

	nodes := make([]*operators.Node, 0, len(m.Graph.Nodes))
	for i := range m.Graph.Nodes {
		np := &m.Graph.Nodes[i]
		if np.Domain != "" && np.Domain != "ai.onnx" {
			return nil, fmt.Errorf("%w: %s in domain %q", ErrUnsupportedOp, np.OpType, np.Domain)
		}
		// Constants are folded into the tensor table at compile time.
		if np.OpType == "Constant" {
			t, err := constantValue(np)
			if err != nil {
				return nil, err
			}
			model.tensors[np.Outputs[0]] = t
			continue
		}
		if _, ok := model.registry.Get(np.OpType); !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedOp, np.OpType)
		}
		nodes = append(nodes, nodeFromProto(np))
	}

	sorted, err := topologicalSort(nodes, model.available())
	if err != nil {
		return nil, err
	}
	model.sortedNodes = sorted
	return model, nil
}

// InputNames returns the names of the graph's runtime inputs.
func (m *Model) InputNames() []string { return m.inputNames }

// OutputNames returns the names of the graph's outputs.
func (m *Model) OutputNames() []string { return m.outputNames }

// Opset returns the default-domain opset version the graph declares.
func (m *Model) Opset() int64 { return m.opset }

// Forward runs a single-input graph and returns its first output.
func (m *Model) Forward(input *tensor.RawTensor) (*tensor.RawTensor, error) {
	if len(m.inputNames) != 1 {
		return nil, fmt.Errorf("forward: graph has %d inputs, use ForwardNamed", len(m.inputNames))
	}
	outs, err := m.ForwardNamed(map[string]*tensor.RawTensor{m.inputNames[0]: input})
	if err != nil {
		return nil, err
	}
	return outs[m.outputNames[0]], nil
}

// ForwardNamed runs the graph with named inputs and returns every graph
// output by name.
func (m *Model) ForwardNamed(inputs map[string]*tensor.RawTensor) (map[string]*tensor.RawTensor, error) {
	values := make(map[string]*tensor.RawTensor, len(m.tensors)+len(inputs))
	for name, t := range m.tensors {
		values[name] = t
	}
	for _, name := range m.inputNames {
		t, ok := inputs[name]
		if !ok || t == nil {
			return nil, fmt.Errorf("missing input %q", name)
		}
		values[name] = t
	}

	for _, node := range m.sortedNodes {
		args := make([]*tensor.RawTensor, len(node.Inputs))
		for i, name := range node.Inputs {
			if name == "" {
				continue
			}
			args[i] = values[name]
		}
		outs, err := m.registry.Execute(node, args)
		if err != nil {
			return nil, fmt.Errorf("node %s (%s): %w", node.Name, node.OpType, err)
		}
		if len(outs) < len(node.Outputs) {
			return nil, fmt.Errorf("node %s (%s): %d outputs, want %d", node.Name, node.OpType, len(outs), len(node.Outputs))
		}
		for i, name := range node.Outputs {
			values[name] = outs[i]
		}
	}

	result := make(map[string]*tensor.RawTensor, len(m.outputNames))
	for _, name := range m.outputNames {
		t, ok := values[name]
		if !ok {
			return nil, fmt.Errorf("output %q was not produced", name)
		}
		result[name] = t
	}
	return result, nil
}

func (m *Model) available() map[string]bool {
	avail := make(map[string]bool, len(m.tensors)+len(m.inputNames))
	for name := range m.tensors {
		avail[name] = true
	}
	for _, name := range m.inputNames {
		avail[name] = true
	}
	return avail
}

// topologicalSort orders nodes so every input is produced before use,
// keeping file order among ready nodes.
func topologicalSort(nodes []*operators.Node, avail map[string]bool) ([]*operators.Node, error) {
	sorted := make([]*operators.Node, 0, len(nodes))
	done := make([]bool, len(nodes))

	for len(sorted) < len(nodes) {
		progress := false
		for i, node := range nodes {
			if done[i] || !ready(node, avail) {
				continue
			}
			for _, out := range node.Outputs {
				avail[out] = true
			}
			sorted = append(sorted, node)
			done[i] = true
			progress = true
		}
		if !progress {
			for i, node := range nodes {
				if !done[i] {
					return nil, fmt.Errorf("graph is cyclic or node %s (%s) has undefined inputs", node.Name, node.OpType)
				}
			}
		}
	}
	return sorted, nil
}

func ready(node *operators.Node, avail map[string]bool) bool {
	for _, in := range node.Inputs {
		if in != "" && !avail[in] {
			return false
		}
	}
	return true
}

func nodeFromProto(np *NodeProto) *operators.Node {
	node := &operators.Node{
		Name:    np.Name,
		OpType:  np.OpType,
		Inputs:  np.Inputs,
		Outputs: np.Outputs,
	}
	for _, a := range np.Attributes {
		node.Attributes = append(node.Attributes, operators.Attribute{
			Name:   a.Name,
			Type:   a.Type,
			F:      a.F,
			I:      a.I,
			Floats: a.Floats,
			Ints:   a.Ints,
		})
	}
	return node
}

// constantValue evaluates a Constant node from whichever value attribute
// it carries.
func constantValue(np *NodeProto) (*tensor.RawTensor, error) {
	if len(np.Outputs) != 1 {
		return nil, fmt.Errorf("Constant %q: want 1 output, got %d", np.Name, len(np.Outputs))
	}
	for i := range np.Attributes {
		a := &np.Attributes[i]
		switch a.Name {
		case "value":
			if a.T == nil {
				return nil, fmt.Errorf("Constant %q: value attribute holds no tensor", np.Name)
			}
			return tensorFromProto(a.T)
		case "value_float":
			return tensor.FromFloat32([]float32{a.F}, tensor.Shape{})
		case "value_floats":
			return tensor.FromFloat32(a.Floats, tensor.Shape{len(a.Floats)})
		case "value_int":
			return tensorFromProto(&TensorProto{Name: np.Name, DataType: TensorProtoInt64, Int64Data: []int64{a.I}})
		case "value_ints":
			return tensorFromProto(&TensorProto{
				Name:      np.Name,
				DataType:  TensorProtoInt64,
				Dims:      []int64{int64(len(a.Ints))},
				Int64Data: a.Ints,
			})
		}
	}
	return nil, fmt.Errorf("%w: Constant %q has no supported value attribute", ErrUnsupportedOp, np.Name)
}

// tensorFromProto converts an inline initializer. Integer tensors become
// Int32, which covers shape operands.
func tensorFromProto(tp *TensorProto) (*tensor.RawTensor, error) {
	if tp.DataLocation == DataLocationExternal {
		return nil, fmt.Errorf("%w: tensor %q not loaded", ErrExternalData, tp.Name)
	}
	shape := make(tensor.Shape, len(tp.Dims))
	for i, d := range tp.Dims {
		shape[i] = int(d)
	}

	switch tp.DataType {
	case TensorProtoFloat:
		if len(tp.RawData) > 0 {
			t, err := tensor.FromBytes(tp.RawData, shape, tensor.Float32)
			if err != nil {
				return nil, fmt.Errorf("tensor %q: %w", tp.Name, err)
			}
			return t, nil
		}
		t, err := tensor.FromFloat32(tp.FloatData, shape)
		if err != nil {
			return nil, fmt.Errorf("tensor %q: %w", tp.Name, err)
		}
		return t, nil

	case TensorProtoInt32, TensorProtoInt64:
		values, err := integerValues(tp)
		if err != nil {
			return nil, fmt.Errorf("tensor %q: %w", tp.Name, err)
		}
		t, err := tensor.FromInt32(values, shape)
		if err != nil {
			return nil, fmt.Errorf("tensor %q: %w", tp.Name, err)
		}
		return t, nil

	default:
		return nil, fmt.Errorf("tensor %q: unsupported data type %d", tp.Name, tp.DataType)
	}
}

func integerValues(tp *TensorProto) ([]int32, error) {
	var wide []int64
	switch {
	case tp.DataType == TensorProtoInt32 && len(tp.RawData) > 0:
		if len(tp.RawData)%4 != 0 {
			return nil, fmt.Errorf("raw data of %d bytes is not int32", len(tp.RawData))
		}
		for i := 0; i < len(tp.RawData); i += 4 {
			wide = append(wide, int64(int32(binary.LittleEndian.Uint32(tp.RawData[i:]))))
		}
	case tp.DataType == TensorProtoInt32:
		for _, v := range tp.Int32Data {
			wide = append(wide, int64(v))
		}
	case len(tp.RawData) > 0:
		if len(tp.RawData)%8 != 0 {
			return nil, fmt.Errorf("raw data of %d bytes is not int64", len(tp.RawData))
		}
		for i := 0; i < len(tp.RawData); i += 8 {
			wide = append(wide, int64(binary.LittleEndian.Uint64(tp.RawData[i:])))
		}
	default:
		wide = tp.Int64Data
	}

	out := make([]int32, len(wide))
	for i, v := range wide {
		if v < math.MinInt32 || v > math.MaxInt32 {
			return nil, fmt.Errorf("value %d overflows int32", v)
		}
		out[i] = int32(v)
	}
	return out, nil
}

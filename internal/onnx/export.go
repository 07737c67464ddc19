package onnx

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/born-ml/digits/internal/model"
	"github.com/born-ml/digits/internal/tensor"
)

// Graph constants shared by the exporter and the engines.
const (
	OpsetVersion = 17
	IRVersion    = 8
	Producer     = "digits"
	InputName    = "input"
	OutputName   = "output"
	BatchDim     = "N"
)

// externalAlignment is the offset alignment of tensors in a side-car file.
const externalAlignment = 4096

// ExportOptions controls how Export lays out initializers.
type ExportOptions struct {
	// ProducerVersion is stored in the model header.
	ProducerVersion string

	// ExternalDataPath names the side-car file, relative to the model's
	// directory. Empty keeps every initializer inline.
	ExternalDataPath string

	// ExternalDataThreshold is the size in bytes above which an
	// initializer moves to the side-car.
	ExternalDataThreshold int
}

// Build returns the ONNX graph of the digit classifier for a verified
// state dict:
//
//	input [N,1,28,28] -> Flatten(axis=1) -> Gemm(transB=1) -> Relu -> Gemm(transB=1) -> output [N,10]
//
// All initializers are inline.
func Build(state map[string]*tensor.RawTensor, producerVersion string) (*ModelProto, error) {
	if err := model.Verify(state); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(state))
	for name := range state {
		names = append(names, name)
	}
	sort.Strings(names)

	inits := make([]TensorProto, 0, len(names))
	for _, name := range names {
		t := state[name]
		inits = append(inits, TensorProto{
			Name:     name,
			DataType: TensorProtoFloat,
			Dims:     t.Shape().Int64s(),
			RawData:  append([]byte(nil), t.Data()...),
		})
	}

	flat, hidden, act := "/0/Flatten_output_0", "/1/Gemm_output_0", "/2/Relu_output_0"
	nodes := []NodeProto{
		{
			Name: "/0/Flatten", OpType: "Flatten",
			Inputs: []string{InputName}, Outputs: []string{flat},
			Attributes: []AttributeProto{intAttr("axis", 1)},
		},
		{
			Name: "/1/Gemm", OpType: "Gemm",
			Inputs: []string{flat, "1.weight", "1.bias"}, Outputs: []string{hidden},
			Attributes: gemmAttrs(),
		},
		{
			Name: "/2/Relu", OpType: "Relu",
			Inputs: []string{hidden}, Outputs: []string{act},
		},
		{
			Name: "/3/Gemm", OpType: "Gemm",
			Inputs: []string{act, "3.weight", "3.bias"}, Outputs: []string{OutputName},
			Attributes: gemmAttrs(),
		},
	}

	return &ModelProto{
		IRVersion:       IRVersion,
		ProducerName:    Producer,
		ProducerVersion: producerVersion,
		OpsetImport:     []OperatorSetID{{Version: OpsetVersion}},
		Graph: &GraphProto{
			Name:         "main_graph",
			Nodes:        nodes,
			Initializers: inits,
			Inputs: []ValueInfoProto{
				floatValue(InputName, dynamicDim(), fixedDim(1), fixedDim(model.ImageSize), fixedDim(model.ImageSize)),
			},
			Outputs: []ValueInfoProto{
				floatValue(OutputName, dynamicDim(), fixedDim(model.NumClasses)),
			},
		},
	}, nil
}

// Export builds the graph for state and writes it to path. When
// opts.ExternalDataPath is set, initializers larger than the threshold are
// written to that side-car next to path.
func Export(path string, state map[string]*tensor.RawTensor, opts ExportOptions) error {
	m, err := Build(state, opts.ProducerVersion)
	if err != nil {
		return fmt.Errorf("failed to build ONNX graph: %w", err)
	}
	if opts.ExternalDataPath != "" {
		if err := Externalize(m, filepath.Dir(path), opts.ExternalDataPath, opts.ExternalDataThreshold); err != nil {
			return err
		}
	}
	return WriteFile(path, m)
}

// Externalize moves every initializer whose RawData exceeds threshold
// bytes into the side-car baseDir/location, replacing the payload with
// location/offset/length references. Offsets are 4096-aligned. Nothing is
// written when no initializer qualifies.
func Externalize(m *ModelProto, baseDir, location string, threshold int) error {
	if err := checkLocation(location); err != nil {
		return err
	}

	var data []byte
	for i := range m.Graph.Initializers {
		t := &m.Graph.Initializers[i]
		if len(t.RawData) <= threshold {
			continue
		}
		if pad := len(data) % externalAlignment; pad != 0 {
			data = append(data, make([]byte, externalAlignment-pad)...)
		}
		offset := len(data)
		data = append(data, t.RawData...)
		t.ExternalData = []StringStringEntry{
			{Key: ExternalLocation, Value: location},
			{Key: ExternalOffset, Value: strconv.Itoa(offset)},
			{Key: ExternalLength, Value: strconv.Itoa(len(t.RawData))},
		}
		t.DataLocation = DataLocationExternal
		t.RawData = nil
	}
	if data == nil {
		return nil
	}
	if err := os.WriteFile(filepath.Join(baseDir, location), data, 0o600); err != nil {
		return fmt.Errorf("%w: failed to write side-car: %w", ErrExternalData, err)
	}
	return nil
}

// ToStateDict converts the float initializers of m into tensors keyed by
// initializer name. External data must already be resolved.
func ToStateDict(m *ModelProto) (map[string]*tensor.RawTensor, error) {
	state := make(map[string]*tensor.RawTensor, len(m.Graph.Initializers))
	for i := range m.Graph.Initializers {
		t, err := tensorFromProto(&m.Graph.Initializers[i])
		if err != nil {
			return nil, err
		}
		state[m.Graph.Initializers[i].Name] = t
	}
	return state, nil
}

func intAttr(name string, v int64) AttributeProto {
	return AttributeProto{Name: name, Type: AttributeProtoInt, I: v}
}

func floatAttr(name string, v float32) AttributeProto {
	return AttributeProto{Name: name, Type: AttributeProtoFloat, F: v}
}

func gemmAttrs() []AttributeProto {
	return []AttributeProto{floatAttr("alpha", 1), floatAttr("beta", 1), intAttr("transB", 1)}
}

func fixedDim(v int) DimensionProto { return DimensionProto{DimValue: int64(v)} }

func dynamicDim() DimensionProto { return DimensionProto{DimParam: BatchDim} }

func floatValue(name string, dims ...DimensionProto) ValueInfoProto {
	return ValueInfoProto{
		Name: name,
		Type: &TypeProto{TensorType: &TensorTypeProto{
			ElemType: TensorProtoFloat,
			Shape:    &TensorShapeProto{Dims: dims},
		}},
	}
}

package onnx

// Hand-written subset of the ONNX protobuf schema. Field numbers follow
// onnx.proto. Fields without a struct member (functions, sparse
// initializers, training info, ...) are kept verbatim in unknown and
// written back by Encode, so a decode/encode cycle loses nothing.

// ModelProto is the top-level ONNX message.
type ModelProto struct {
	IRVersion       int64
	OpsetImport     []OperatorSetID
	ProducerName    string
	ProducerVersion string
	Domain          string
	ModelVersion    int64
	DocString       string
	Graph           *GraphProto
	MetadataProps   []StringStringEntry

	unknown []byte
}

// GraphProto is the computation graph.
type GraphProto struct {
	Name         string
	Nodes        []NodeProto
	Initializers []TensorProto
	DocString    string
	Inputs       []ValueInfoProto
	Outputs      []ValueInfoProto
	ValueInfo    []ValueInfoProto

	unknown []byte
}

// NodeProto is a single operator application.
type NodeProto struct {
	Inputs     []string
	Outputs    []string
	Name       string
	OpType     string
	Attributes []AttributeProto
	DocString  string
	Domain     string

	unknown []byte
}

// TensorProto holds an initializer. Payloads live in RawData unless
// DataLocation is DataLocationExternal, in which case ExternalData names
// the side-car file and byte range.
type TensorProto struct {
	Dims         []int64
	DataType     int32
	FloatData    []float32
	Int32Data    []int32
	Int64Data    []int64
	Name         string
	RawData      []byte
	DocString    string
	ExternalData []StringStringEntry
	DataLocation int32

	unknown []byte
}

// ValueInfoProto describes a graph input or output.
type ValueInfoProto struct {
	Name      string
	Type      *TypeProto
	DocString string

	unknown []byte
}

// TypeProto only models the tensor_type variant.
type TypeProto struct {
	TensorType *TensorTypeProto

	unknown []byte
}

// TensorTypeProto is an element type plus shape.
type TensorTypeProto struct {
	ElemType int32
	Shape    *TensorShapeProto

	unknown []byte
}

// TensorShapeProto is a list of dimensions.
type TensorShapeProto struct {
	Dims []DimensionProto

	unknown []byte
}

// DimensionProto is either a fixed size or a symbolic name such as "N".
type DimensionProto struct {
	DimValue int64
	DimParam string

	unknown []byte
}

// AttributeProto is a node attribute.
type AttributeProto struct {
	Name      string
	F         float32
	I         int64
	S         []byte
	Floats    []float32
	Ints      []int64
	Strings   [][]byte
	T         *TensorProto // Constant "value" and other TENSOR attributes
	G         *GraphProto  // If/Loop bodies
	Tensors   []TensorProto
	Graphs    []GraphProto
	DocString string
	Type      int32

	unknown []byte
}

// OperatorSetID names an opset and its version.
type OperatorSetID struct {
	Domain  string
	Version int64

	unknown []byte
}

// StringStringEntry is a key/value pair.
type StringStringEntry struct {
	Key   string
	Value string

	unknown []byte
}

// TensorProto.DataType values.
const (
	TensorProtoUndefined = 0
	TensorProtoFloat     = 1
	TensorProtoUint8     = 2
	TensorProtoInt8      = 3
	TensorProtoInt32     = 6
	TensorProtoInt64     = 7
	TensorProtoDouble    = 11
)

// TensorProto.DataLocation values.
const (
	DataLocationDefault  = 0
	DataLocationExternal = 1
)

// AttributeProto.Type values.
const (
	AttributeProtoUndefined = 0
	AttributeProtoFloat     = 1
	AttributeProtoInt       = 2
	AttributeProtoString    = 3
	AttributeProtoTensor    = 4
	AttributeProtoGraph     = 5
	AttributeProtoFloats    = 6
	AttributeProtoInts      = 7
	AttributeProtoStrings   = 8
	AttributeProtoTensors   = 9
	AttributeProtoGraphs    = 10
)

// Keys of TensorProto.ExternalData entries.
const (
	ExternalLocation = "location"
	ExternalOffset   = "offset"
	ExternalLength   = "length"
)

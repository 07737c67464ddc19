package onnx

import (
	"fmt"
	"math"
	"os"

	"google.golang.org/protobuf/encoding/protowire"
)

// WriteFile encodes m and writes it to path.
func WriteFile(path string, m *ModelProto) error {
	if err := os.WriteFile(path, Encode(m), 0o600); err != nil {
		return fmt.Errorf("failed to write ONNX file: %w", err)
	}
	return nil
}

// Encode serializes m in protobuf wire format. Zero-valued scalar fields
// are omitted; attribute values are always written for their declared type.
// Fields kept raw by Decode follow the modelled fields of their message.
func Encode(m *ModelProto) []byte {
	var b []byte
	b = appendVarintField(b, 1, uint64(m.IRVersion))
	b = appendStringField(b, 2, m.ProducerName)
	b = appendStringField(b, 3, m.ProducerVersion)
	b = appendStringField(b, 4, m.Domain)
	b = appendVarintField(b, 5, uint64(m.ModelVersion))
	b = appendStringField(b, 6, m.DocString)
	if m.Graph != nil {
		b = appendMessage(b, 7, appendGraph(nil, m.Graph))
	}
	for i := range m.OpsetImport {
		b = appendMessage(b, 8, appendOpset(nil, &m.OpsetImport[i]))
	}
	for i := range m.MetadataProps {
		b = appendMessage(b, 14, appendEntry(nil, &m.MetadataProps[i]))
	}
	return append(b, m.unknown...)
}

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendStringField(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendBytesField(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	return appendBytesField(b, num, msg)
}

func appendPackedVarints(b []byte, num protowire.Number, vals []uint64) []byte {
	if len(vals) == 0 {
		return b
	}
	var packed []byte
	for _, v := range vals {
		packed = protowire.AppendVarint(packed, v)
	}
	return appendBytesField(b, num, packed)
}

func appendPackedFloats(b []byte, num protowire.Number, vals []float32) []byte {
	if len(vals) == 0 {
		return b
	}
	packed := make([]byte, 0, 4*len(vals))
	for _, v := range vals {
		packed = protowire.AppendFixed32(packed, math.Float32bits(v))
	}
	return appendBytesField(b, num, packed)
}

func appendGraph(b []byte, g *GraphProto) []byte {
	for i := range g.Nodes {
		b = appendMessage(b, 1, appendNode(nil, &g.Nodes[i]))
	}
	b = appendStringField(b, 2, g.Name)
	for i := range g.Initializers {
		b = appendMessage(b, 5, appendTensor(nil, &g.Initializers[i]))
	}
	b = appendStringField(b, 10, g.DocString)
	for i := range g.Inputs {
		b = appendMessage(b, 11, appendValueInfo(nil, &g.Inputs[i]))
	}
	for i := range g.Outputs {
		b = appendMessage(b, 12, appendValueInfo(nil, &g.Outputs[i]))
	}
	for i := range g.ValueInfo {
		b = appendMessage(b, 13, appendValueInfo(nil, &g.ValueInfo[i]))
	}
	return append(b, g.unknown...)
}

func appendNode(b []byte, n *NodeProto) []byte {
	// Empty input names are meaningful (omitted optional inputs).
	for _, in := range n.Inputs {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, in)
	}
	for _, out := range n.Outputs {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendString(b, out)
	}
	b = appendStringField(b, 3, n.Name)
	b = appendStringField(b, 4, n.OpType)
	for i := range n.Attributes {
		b = appendMessage(b, 5, appendAttribute(nil, &n.Attributes[i]))
	}
	b = appendStringField(b, 6, n.DocString)
	b = appendStringField(b, 7, n.Domain)
	return append(b, n.unknown...)
}

func appendTensor(b []byte, t *TensorProto) []byte {
	// dims is not declared packed in onnx.proto.
	for _, d := range t.Dims {
		b = protowire.AppendTag(b, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(d))
	}
	b = appendVarintField(b, 2, uint64(t.DataType))
	b = appendPackedFloats(b, 4, t.FloatData)
	if len(t.Int32Data) > 0 {
		vals := make([]uint64, len(t.Int32Data))
		for i, v := range t.Int32Data {
			vals[i] = uint64(int64(v))
		}
		b = appendPackedVarints(b, 5, vals)
	}
	if len(t.Int64Data) > 0 {
		vals := make([]uint64, len(t.Int64Data))
		for i, v := range t.Int64Data {
			vals[i] = uint64(v)
		}
		b = appendPackedVarints(b, 7, vals)
	}
	b = appendStringField(b, 8, t.Name)
	if len(t.RawData) > 0 {
		b = appendBytesField(b, 9, t.RawData)
	}
	b = appendStringField(b, 12, t.DocString)
	for i := range t.ExternalData {
		b = appendMessage(b, 13, appendEntry(nil, &t.ExternalData[i]))
	}
	b = appendVarintField(b, 14, uint64(t.DataLocation))
	return append(b, t.unknown...)
}

func appendValueInfo(b []byte, vi *ValueInfoProto) []byte {
	b = appendStringField(b, 1, vi.Name)
	if vi.Type != nil {
		b = appendMessage(b, 2, appendType(nil, vi.Type))
	}
	b = appendStringField(b, 3, vi.DocString)
	return append(b, vi.unknown...)
}

func appendType(b []byte, tp *TypeProto) []byte {
	if tt := tp.TensorType; tt != nil {
		var tb []byte
		tb = appendVarintField(tb, 1, uint64(tt.ElemType))
		if tt.Shape != nil {
			var sb []byte
			for i := range tt.Shape.Dims {
				sb = appendMessage(sb, 1, appendDim(nil, &tt.Shape.Dims[i]))
			}
			tb = appendMessage(tb, 2, append(sb, tt.Shape.unknown...))
		}
		b = appendMessage(b, 1, append(tb, tt.unknown...))
	}
	return append(b, tp.unknown...)
}

func appendDim(b []byte, d *DimensionProto) []byte {
	switch {
	case d.DimParam != "":
		b = appendStringField(b, 2, d.DimParam)
	case d.DimValue != 0:
		b = protowire.AppendTag(b, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(d.DimValue))
	}
	return append(b, d.unknown...)
}

func appendAttribute(b []byte, a *AttributeProto) []byte {
	b = appendStringField(b, 1, a.Name)
	// Attributes from old IR versions may carry a value without a type.
	untyped := a.Type == AttributeProtoUndefined
	if a.Type == AttributeProtoFloat || untyped && a.F != 0 {
		b = protowire.AppendTag(b, 2, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, math.Float32bits(a.F))
	}
	if a.Type == AttributeProtoInt || untyped && a.I != 0 {
		b = protowire.AppendTag(b, 3, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(a.I))
	}
	if a.Type == AttributeProtoString || untyped && a.S != nil {
		b = appendBytesField(b, 4, a.S)
	}
	if a.T != nil {
		b = appendMessage(b, 5, appendTensor(nil, a.T))
	}
	if a.G != nil {
		b = appendMessage(b, 6, appendGraph(nil, a.G))
	}
	for _, f := range a.Floats {
		b = protowire.AppendTag(b, 7, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, math.Float32bits(f))
	}
	for _, v := range a.Ints {
		b = protowire.AppendTag(b, 8, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(v))
	}
	for _, s := range a.Strings {
		b = appendBytesField(b, 9, s)
	}
	for i := range a.Tensors {
		b = appendMessage(b, 10, appendTensor(nil, &a.Tensors[i]))
	}
	for i := range a.Graphs {
		b = appendMessage(b, 11, appendGraph(nil, &a.Graphs[i]))
	}
	b = appendStringField(b, 13, a.DocString)
	b = appendVarintField(b, 20, uint64(a.Type))
	return append(b, a.unknown...)
}

func appendOpset(b []byte, o *OperatorSetID) []byte {
	b = appendStringField(b, 1, o.Domain)
	// Version 0 is never valid, but write it anyway so it round-trips.
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(o.Version))
	return append(b, o.unknown...)
}

func appendEntry(b []byte, e *StringStringEntry) []byte {
	b = appendStringField(b, 1, e.Key)
	b = appendStringField(b, 2, e.Value)
	return append(b, e.unknown...)
}

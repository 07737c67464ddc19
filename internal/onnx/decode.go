package onnx

import (
	"bytes"
	"fmt"
	"math"
	"os"

	"google.golang.org/protobuf/encoding/protowire"
)

// ReadFile decodes the ONNX model stored at path. External data is not
// resolved; use LoadExternalData for that.
func ReadFile(path string) (*ModelProto, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read ONNX file: %w", err)
	}
	m, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Decode parses a serialized ModelProto.
func Decode(data []byte) (*ModelProto, error) {
	m := &ModelProto{}
	if err := decodeModel(data, m); err != nil {
		return nil, fmt.Errorf("failed to parse ONNX model: %w", err)
	}
	if m.Graph == nil {
		return nil, fmt.Errorf("failed to parse ONNX model: no graph")
	}
	return m, nil
}

// fieldFunc handles one field whose tag has already been consumed. It
// returns the number of bytes of b it used, or 0 to leave the field to
// walk.
type fieldFunc func(num protowire.Number, typ protowire.Type, b []byte) (int, error)

// walk calls fn for every field of the message b. Fields fn leaves alone
// are appended, tag included, to unknown.
func walk(b []byte, unknown *[]byte, fn fieldFunc) error {
	for len(b) > 0 {
		field := b
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		used, err := fn(num, typ, b)
		if err != nil {
			return fmt.Errorf("field %d: %w", num, err)
		}
		if used == 0 {
			used = protowire.ConsumeFieldValue(num, typ, b)
			if used < 0 {
				return protowire.ParseError(used)
			}
			*unknown = append(*unknown, field[:n+used]...)
		}
		b = b[used:]
	}
	return nil
}

func wireType(got, want protowire.Type) error {
	if got != want {
		return fmt.Errorf("wire type %d, want %d", got, want)
	}
	return nil
}

func consumeVarint(typ protowire.Type, b []byte) (uint64, int, error) {
	if err := wireType(typ, protowire.VarintType); err != nil {
		return 0, 0, err
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, 0, protowire.ParseError(n)
	}
	return v, n, nil
}

func consumeBytes(typ protowire.Type, b []byte) ([]byte, int, error) {
	if err := wireType(typ, protowire.BytesType); err != nil {
		return nil, 0, err
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, 0, protowire.ParseError(n)
	}
	return v, n, nil
}

func consumeFloat(typ protowire.Type, b []byte) (float32, int, error) {
	if err := wireType(typ, protowire.Fixed32Type); err != nil {
		return 0, 0, err
	}
	v, n := protowire.ConsumeFixed32(b)
	if n < 0 {
		return 0, 0, protowire.ParseError(n)
	}
	return math.Float32frombits(v), n, nil
}

// consumeVarints reads a repeated varint field in either packed or
// unpacked encoding.
func consumeVarints(typ protowire.Type, b []byte, dst *[]uint64) (int, error) {
	if typ != protowire.BytesType {
		v, n, err := consumeVarint(typ, b)
		if err != nil {
			return 0, err
		}
		*dst = append(*dst, v)
		return n, nil
	}
	packed, n, err := consumeBytes(typ, b)
	if err != nil {
		return 0, err
	}
	for len(packed) > 0 {
		v, m := protowire.ConsumeVarint(packed)
		if m < 0 {
			return 0, protowire.ParseError(m)
		}
		*dst = append(*dst, v)
		packed = packed[m:]
	}
	return n, nil
}

func consumeFloats(typ protowire.Type, b []byte, dst *[]float32) (int, error) {
	if typ != protowire.BytesType {
		v, n, err := consumeFloat(typ, b)
		if err != nil {
			return 0, err
		}
		*dst = append(*dst, v)
		return n, nil
	}
	packed, n, err := consumeBytes(typ, b)
	if err != nil {
		return 0, err
	}
	if len(packed)%4 != 0 {
		return 0, fmt.Errorf("packed floats: %d bytes", len(packed))
	}
	for len(packed) > 0 {
		v, _ := protowire.ConsumeFixed32(packed)
		*dst = append(*dst, math.Float32frombits(v))
		packed = packed[4:]
	}
	return n, nil
}

func consumeString(typ protowire.Type, b []byte, dst *string) (int, error) {
	v, n, err := consumeBytes(typ, b)
	if err != nil {
		return 0, err
	}
	*dst = string(v)
	return n, nil
}

func consumeInt64(typ protowire.Type, b []byte, dst *int64) (int, error) {
	v, n, err := consumeVarint(typ, b)
	if err != nil {
		return 0, err
	}
	*dst = int64(v)
	return n, nil
}

func consumeInt32(typ protowire.Type, b []byte, dst *int32) (int, error) {
	v, n, err := consumeVarint(typ, b)
	if err != nil {
		return 0, err
	}
	*dst = int32(v)
	return n, nil
}

// consumeMessage decodes an embedded message into a freshly appended
// element using decode.
func consumeMessage[T any](typ protowire.Type, b []byte, dst *[]T, decode func([]byte, *T) error) (int, error) {
	v, n, err := consumeBytes(typ, b)
	if err != nil {
		return 0, err
	}
	var msg T
	if err := decode(v, &msg); err != nil {
		return 0, err
	}
	*dst = append(*dst, msg)
	return n, nil
}

func decodeModel(b []byte, m *ModelProto) error {
	return walk(b, &m.unknown, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeInt64(typ, b, &m.IRVersion)
		case 2:
			return consumeString(typ, b, &m.ProducerName)
		case 3:
			return consumeString(typ, b, &m.ProducerVersion)
		case 4:
			return consumeString(typ, b, &m.Domain)
		case 5:
			return consumeInt64(typ, b, &m.ModelVersion)
		case 6:
			return consumeString(typ, b, &m.DocString)
		case 7:
			v, n, err := consumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			m.Graph = &GraphProto{}
			return n, decodeGraph(v, m.Graph)
		case 8:
			return consumeMessage(typ, b, &m.OpsetImport, decodeOpset)
		case 14:
			return consumeMessage(typ, b, &m.MetadataProps, decodeEntry)
		}
		return 0, nil
	})
}

func decodeGraph(b []byte, g *GraphProto) error {
	return walk(b, &g.unknown, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeMessage(typ, b, &g.Nodes, decodeNode)
		case 2:
			return consumeString(typ, b, &g.Name)
		case 5:
			return consumeMessage(typ, b, &g.Initializers, decodeTensor)
		case 10:
			return consumeString(typ, b, &g.DocString)
		case 11:
			return consumeMessage(typ, b, &g.Inputs, decodeValueInfo)
		case 12:
			return consumeMessage(typ, b, &g.Outputs, decodeValueInfo)
		case 13:
			return consumeMessage(typ, b, &g.ValueInfo, decodeValueInfo)
		}
		return 0, nil
	})
}

func decodeNode(b []byte, node *NodeProto) error {
	return walk(b, &node.unknown, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1, 2:
			var s string
			n, err := consumeString(typ, b, &s)
			if num == 1 {
				node.Inputs = append(node.Inputs, s)
			} else {
				node.Outputs = append(node.Outputs, s)
			}
			return n, err
		case 3:
			return consumeString(typ, b, &node.Name)
		case 4:
			return consumeString(typ, b, &node.OpType)
		case 5:
			return consumeMessage(typ, b, &node.Attributes, decodeAttribute)
		case 6:
			return consumeString(typ, b, &node.DocString)
		case 7:
			return consumeString(typ, b, &node.Domain)
		}
		return 0, nil
	})
}

func decodeTensor(b []byte, t *TensorProto) error {
	return walk(b, &t.unknown, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1, 5, 7:
			var vals []uint64
			n, err := consumeVarints(typ, b, &vals)
			for _, v := range vals {
				switch num {
				case 1:
					t.Dims = append(t.Dims, int64(v))
				case 5:
					t.Int32Data = append(t.Int32Data, int32(v))
				case 7:
					t.Int64Data = append(t.Int64Data, int64(v))
				}
			}
			return n, err
		case 2:
			return consumeInt32(typ, b, &t.DataType)
		case 4:
			return consumeFloats(typ, b, &t.FloatData)
		case 8:
			return consumeString(typ, b, &t.Name)
		case 9:
			v, n, err := consumeBytes(typ, b)
			t.RawData = bytes.Clone(v)
			return n, err
		case 12:
			return consumeString(typ, b, &t.DocString)
		case 13:
			return consumeMessage(typ, b, &t.ExternalData, decodeEntry)
		case 14:
			return consumeInt32(typ, b, &t.DataLocation)
		}
		return 0, nil
	})
}

func decodeValueInfo(b []byte, vi *ValueInfoProto) error {
	return walk(b, &vi.unknown, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeString(typ, b, &vi.Name)
		case 2:
			v, n, err := consumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			vi.Type = &TypeProto{}
			return n, decodeType(v, vi.Type)
		case 3:
			return consumeString(typ, b, &vi.DocString)
		}
		return 0, nil
	})
}

func decodeType(b []byte, tp *TypeProto) error {
	return walk(b, &tp.unknown, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != 1 {
			return 0, nil
		}
		v, n, err := consumeBytes(typ, b)
		if err != nil {
			return 0, err
		}
		tp.TensorType = &TensorTypeProto{}
		return n, decodeTensorType(v, tp.TensorType)
	})
}

func decodeTensorType(b []byte, tt *TensorTypeProto) error {
	return walk(b, &tt.unknown, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeInt32(typ, b, &tt.ElemType)
		case 2:
			v, n, err := consumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			tt.Shape = &TensorShapeProto{}
			return n, walk(v, &tt.Shape.unknown, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
				if num != 1 {
					return 0, nil
				}
				return consumeMessage(typ, b, &tt.Shape.Dims, decodeDim)
			})
		}
		return 0, nil
	})
}

func decodeDim(b []byte, d *DimensionProto) error {
	return walk(b, &d.unknown, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			// An explicit zero stays raw so it is not re-encoded as an
			// unknown dimension.
			v, n, err := consumeVarint(typ, b)
			if err != nil || v == 0 {
				return 0, err
			}
			d.DimValue = int64(v)
			return n, nil
		case 2:
			return consumeString(typ, b, &d.DimParam)
		}
		return 0, nil
	})
}

func decodeAttribute(b []byte, a *AttributeProto) error {
	return walk(b, &a.unknown, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeString(typ, b, &a.Name)
		case 2:
			v, n, err := consumeFloat(typ, b)
			a.F = v
			return n, err
		case 3:
			return consumeInt64(typ, b, &a.I)
		case 4:
			v, n, err := consumeBytes(typ, b)
			a.S = bytes.Clone(v)
			return n, err
		case 5:
			v, n, err := consumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			a.T = &TensorProto{}
			return n, decodeTensor(v, a.T)
		case 6:
			v, n, err := consumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			a.G = &GraphProto{}
			return n, decodeGraph(v, a.G)
		case 7:
			return consumeFloats(typ, b, &a.Floats)
		case 8:
			var vals []uint64
			n, err := consumeVarints(typ, b, &vals)
			for _, v := range vals {
				a.Ints = append(a.Ints, int64(v))
			}
			return n, err
		case 9:
			v, n, err := consumeBytes(typ, b)
			a.Strings = append(a.Strings, bytes.Clone(v))
			return n, err
		case 10:
			return consumeMessage(typ, b, &a.Tensors, decodeTensor)
		case 11:
			return consumeMessage(typ, b, &a.Graphs, decodeGraph)
		case 13:
			return consumeString(typ, b, &a.DocString)
		case 20:
			return consumeInt32(typ, b, &a.Type)
		}
		return 0, nil
	})
}

func decodeOpset(b []byte, o *OperatorSetID) error {
	return walk(b, &o.unknown, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeString(typ, b, &o.Domain)
		case 2:
			return consumeInt64(typ, b, &o.Version)
		}
		return 0, nil
	})
}

func decodeEntry(b []byte, e *StringStringEntry) error {
	return walk(b, &e.unknown, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeString(typ, b, &e.Key)
		case 2:
			return consumeString(typ, b, &e.Value)
		}
		return 0, nil
	})
}

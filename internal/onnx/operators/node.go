// Package operators implements the ONNX operators the digit graph needs on
// CPU float32 tensors.
package operators

// Node is the executor's view of an ONNX node. It mirrors the fields of
// onnx.NodeProto that operators read, which keeps this package free of an
// import cycle with onnx.
type Node struct {
	Name       string
	OpType     string
	Inputs     []string
	Outputs    []string
	Attributes []Attribute
}

// Attribute is a node attribute. Only the field matching Type is set.
type Attribute struct {
	Name   string
	Type   int32
	F      float32
	I      int64
	Floats []float32
	Ints   []int64
}

func (n *Node) attr(name string) (*Attribute, bool) {
	for i := range n.Attributes {
		if n.Attributes[i].Name == name {
			return &n.Attributes[i], true
		}
	}
	return nil, false
}

// GetAttrInt returns an integer attribute or defaultVal.
func GetAttrInt(node *Node, name string, defaultVal int64) int64 {
	if a, ok := node.attr(name); ok {
		return a.I
	}
	return defaultVal
}

// GetAttrFloat returns a float attribute or defaultVal.
func GetAttrFloat(node *Node, name string, defaultVal float32) float32 {
	if a, ok := node.attr(name); ok {
		return a.F
	}
	return defaultVal
}

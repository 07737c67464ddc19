package operators

import (
	"fmt"

	"github.com/born-ml/digits/internal/tensor"
)

func (r *Registry) registerShapeOps() {
	r.Register("Flatten", handleFlatten)
	r.Register("Reshape", handleReshape)
	r.Register("Identity", handleIdentity)
}

// handleFlatten reshapes to [prod(dims[:axis]), prod(dims[axis:])].
func handleFlatten(node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := requireInputs("flatten", inputs, 1, 1); err != nil {
		return nil, err
	}
	x := inputs[0]
	shape := x.Shape()

	axis := int(GetAttrInt(node, "axis", 1))
	if axis < 0 {
		axis += len(shape)
	}
	if axis < 0 || axis > len(shape) {
		return nil, fmt.Errorf("flatten: axis %d out of range for rank %d", axis, len(shape))
	}

	outer := 1
	for _, d := range shape[:axis] {
		outer *= d
	}
	return single(x.Reshape(tensor.Shape{outer, x.NumElements() / outer})), nil
}

// handleReshape follows ONNX semantics: 0 copies the input dimension and
// a single -1 is inferred.
func handleReshape(_ *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := requireInputs("reshape", inputs, 2, 2); err != nil {
		return nil, err
	}
	x, target := inputs[0], inputs[1]
	if target.DType() != tensor.Int32 {
		return nil, fmt.Errorf("reshape: shape input must be integer, got %s", target.DType())
	}

	dims := target.AsInt32()
	shape := make(tensor.Shape, len(dims))
	infer, known := -1, 1
	for i, d := range dims {
		switch {
		case d == 0:
			if i >= len(x.Shape()) {
				return nil, fmt.Errorf("reshape: dimension %d copies missing input axis", i)
			}
			shape[i] = x.Shape()[i]
		case d == -1:
			if infer >= 0 {
				return nil, fmt.Errorf("reshape: more than one -1 in %v", dims)
			}
			infer = i
			continue
		case d < 0:
			return nil, fmt.Errorf("reshape: invalid dimension %d", d)
		default:
			shape[i] = int(d)
		}
		known *= shape[i]
	}
	if infer >= 0 {
		if known == 0 || x.NumElements()%known != 0 {
			return nil, fmt.Errorf("reshape: cannot infer dimension of %v from %v", dims, x.Shape())
		}
		shape[infer] = x.NumElements() / known
	}
	if shape.NumElements() != x.NumElements() {
		return nil, fmt.Errorf("reshape: cannot reshape %v to %v", x.Shape(), shape)
	}
	return single(x.Reshape(shape)), nil
}

func handleIdentity(_ *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := requireInputs("identity", inputs, 1, 1); err != nil {
		return nil, err
	}
	return single(inputs[0]), nil
}

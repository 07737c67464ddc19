package operators

import (
	"fmt"

	"github.com/born-ml/digits/internal/autodiff/ops"
	"github.com/born-ml/digits/internal/tensor"
)

func (r *Registry) registerMathOps() {
	r.Register("Gemm", handleGemm)
	r.Register("MatMul", handleMatMul)
	r.Register("Add", handleAdd)
	r.Register("Relu", handleRelu)
}

// handleGemm implements Y = alpha·A'·B' + beta·C, where A' and B' are
// optionally transposed and C broadcasts to [M, N].
func handleGemm(node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := requireInputs("gemm", inputs, 2, 3); err != nil {
		return nil, err
	}
	a, b := inputs[0], inputs[1]
	var c *tensor.RawTensor
	if len(inputs) == 3 {
		c = inputs[2]
	}
	if err := requireFloat("gemm", a, b, c); err != nil {
		return nil, err
	}

	alpha := GetAttrFloat(node, "alpha", 1.0)
	beta := GetAttrFloat(node, "beta", 1.0)
	transA := GetAttrInt(node, "transA", 0) != 0
	transB := GetAttrInt(node, "transB", 0) != 0

	as, bs := a.Shape(), b.Shape()
	if len(as) != 2 || len(bs) != 2 {
		return nil, fmt.Errorf("gemm: inputs must be 2-D, got %v and %v", as, bs)
	}
	m, k := as[0], as[1]
	if transA {
		m, k = k, m
	}
	kb, n := bs[0], bs[1]
	if transB {
		kb, n = n, kb
	}
	if k != kb {
		return nil, fmt.Errorf("gemm: inner dimensions differ: %v and %v (transA=%v, transB=%v)", as, bs, transA, transB)
	}

	// The exported graph always takes this path: a Linear layer.
	if !transA && transB && alpha == 1 && (c == nil || (beta == 1 && len(c.Shape()) == 1 && c.Shape()[0] == n)) {
		return single(ops.Linear(a, b, c)), nil
	}

	ad, bd := a.AsFloat32(), b.AsFloat32()
	y := tensor.MustRaw(tensor.Shape{m, n}, tensor.Float32)
	yd := y.AsFloat32()
	for i := range m {
		for j := range n {
			var sum float32
			for p := range k {
				var av, bv float32
				if transA {
					av = ad[p*m+i]
				} else {
					av = ad[i*k+p]
				}
				if transB {
					bv = bd[j*k+p]
				} else {
					bv = bd[p*n+j]
				}
				sum += av * bv
			}
			yd[i*n+j] = alpha * sum
		}
	}

	if c != nil && beta != 0 {
		bias, err := broadcastTo(c, tensor.Shape{m, n})
		if err != nil {
			return nil, fmt.Errorf("gemm: %w", err)
		}
		for i, v := range bias {
			yd[i] += beta * v
		}
	}
	return single(y), nil
}

func handleMatMul(_ *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := requireInputs("matmul", inputs, 2, 2); err != nil {
		return nil, err
	}
	return handleGemm(&Node{OpType: "Gemm"}, inputs)
}

func handleAdd(_ *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := requireInputs("add", inputs, 2, 2); err != nil {
		return nil, err
	}
	a, b := inputs[0], inputs[1]
	if err := requireFloat("add", a, b); err != nil {
		return nil, err
	}
	if b.NumElements() > a.NumElements() {
		a, b = b, a
	}
	other, err := broadcastTo(b, a.Shape())
	if err != nil {
		return nil, fmt.Errorf("add: %w", err)
	}
	y := a.Clone()
	yd := y.AsFloat32()
	for i, v := range other {
		yd[i] += v
	}
	return single(y), nil
}

func handleRelu(_ *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := requireInputs("relu", inputs, 1, 1); err != nil {
		return nil, err
	}
	if err := requireFloat("relu", inputs[0]); err != nil {
		return nil, err
	}
	return single(ops.ReLU(inputs[0])), nil
}

// broadcastTo expands t to shape following numpy rules and returns the
// expanded values in row-major order.
func broadcastTo(t *tensor.RawTensor, shape tensor.Shape) ([]float32, error) {
	src := t.AsFloat32()
	if t.Shape().Equal(shape) {
		return src, nil
	}

	ts := t.Shape()
	if len(ts) > len(shape) {
		return nil, fmt.Errorf("cannot broadcast %v to %v", ts, shape)
	}
	// Align ts to the right of shape and compute source strides, with
	// stride 0 on broadcast dimensions.
	strides := make([]int, len(shape))
	stride := 1
	for i := len(shape) - 1; i >= 0; i-- {
		j := i - (len(shape) - len(ts))
		if j < 0 {
			continue
		}
		switch ts[j] {
		case shape[i]:
			strides[i] = stride
		case 1:
		default:
			return nil, fmt.Errorf("cannot broadcast %v to %v", ts, shape)
		}
		stride *= ts[j]
	}

	out := make([]float32, shape.NumElements())
	idx := make([]int, len(shape))
	for o := range out {
		off := 0
		for d, v := range idx {
			off += v * strides[d]
		}
		out[o] = src[off]
		for d := len(idx) - 1; d >= 0; d-- {
			idx[d]++
			if idx[d] < shape[d] {
				break
			}
			idx[d] = 0
		}
	}
	return out, nil
}

package ops

import (
	"fmt"

	"github.com/born-ml/digits/internal/parallel"
	"github.com/born-ml/digits/internal/tensor"
)

// Linear computes y = x·Wᵀ + b.
//
// Shapes: x [N, in], w [out, in], b [out] (b may be nil), y [N, out].
// Panics on shape mismatch.
func Linear(x, w, b *tensor.RawTensor) *tensor.RawTensor {
	xs, ws := x.Shape(), w.Shape()
	if len(xs) != 2 || len(ws) != 2 || xs[1] != ws[1] {
		panic(fmt.Sprintf("linear: input %v incompatible with weight %v", xs, ws))
	}
	n, in, out := xs[0], xs[1], ws[0]
	if b != nil && (len(b.Shape()) != 1 || b.Shape()[0] != out) {
		panic(fmt.Sprintf("linear: bias %v incompatible with weight %v", b.Shape(), ws))
	}

	y := tensor.MustRaw(tensor.Shape{n, out}, tensor.Float32)
	xd, wd, yd := x.AsFloat32(), w.AsFloat32(), y.AsFloat32()
	var bd []float32
	if b != nil {
		bd = b.AsFloat32()
	}

	parallel.For(n, func(r int) {
		xr := xd[r*in : (r+1)*in]
		yr := yd[r*out : (r+1)*out]
		for o := range out {
			wr := wd[o*in : (o+1)*in]
			var sum float32
			for i, v := range xr {
				sum += v * wr[i]
			}
			if bd != nil {
				sum += bd[o]
			}
			yr[o] = sum
		}
	}, rows)
	return y
}

// LinearOp represents y = x·Wᵀ + b.
//
// Backward:
//
//	dx = dy·W        [N, in]
//	dW = dyᵀ·x       [out, in]
//	db = Σ_rows dy   [out]
type LinearOp struct {
	x, w, b *tensor.RawTensor
	output  *tensor.RawTensor
}

// NewLinearOp creates a new linear operation. b may be nil.
func NewLinearOp(x, w, b, output *tensor.RawTensor) *LinearOp {
	return &LinearOp{x: x, w: w, b: b, output: output}
}

// Inputs returns [x, w, b] (or [x, w] without bias).
func (op *LinearOp) Inputs() []*tensor.RawTensor {
	if op.b == nil {
		return []*tensor.RawTensor{op.x, op.w}
	}
	return []*tensor.RawTensor{op.x, op.w, op.b}
}

// Output returns the output tensor.
func (op *LinearOp) Output() *tensor.RawTensor {
	return op.output
}

// Backward computes gradients for x, W and b.
func (op *LinearOp) Backward(outputGrad *tensor.RawTensor) []*tensor.RawTensor {
	n, in := op.x.Shape()[0], op.x.Shape()[1]
	out := op.w.Shape()[0]

	g := outputGrad.AsFloat32()
	xd, wd := op.x.AsFloat32(), op.w.AsFloat32()

	dx := tensor.MustRaw(op.x.Shape(), tensor.Float32)
	dxd := dx.AsFloat32()
	parallel.For(n, func(r int) {
		gr := g[r*out : (r+1)*out]
		dxr := dxd[r*in : (r+1)*in]
		for o, gv := range gr {
			if gv == 0 {
				continue
			}
			wr := wd[o*in : (o+1)*in]
			for i, wv := range wr {
				dxr[i] += gv * wv
			}
		}
	}, rows)

	dw := tensor.MustRaw(op.w.Shape(), tensor.Float32)
	dwd := dw.AsFloat32()
	parallel.For(out, func(o int) {
		dwr := dwd[o*in : (o+1)*in]
		for r := range n {
			gv := g[r*out+o]
			if gv == 0 {
				continue
			}
			xr := xd[r*in : (r+1)*in]
			for i, xv := range xr {
				dwr[i] += gv * xv
			}
		}
	}, rows)

	if op.b == nil {
		return []*tensor.RawTensor{dx, dw}
	}

	db := tensor.MustRaw(op.b.Shape(), tensor.Float32)
	dbd := db.AsFloat32()
	for r := range n {
		for o := range out {
			dbd[o] += g[r*out+o]
		}
	}
	return []*tensor.RawTensor{dx, dw, db}
}

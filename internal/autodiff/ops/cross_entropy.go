package ops

import (
	"fmt"
	"math"

	"github.com/born-ml/digits/internal/tensor"
)

// CrossEntropy returns the scalar mean cross-entropy of logits [N, C]
// against int32 class indices [N].
//
// log_softmax uses the log-sum-exp trick for numerical stability:
//
//	log_softmax(z) = z - (max(z) + log(Σ exp(z - max(z))))
func CrossEntropy(logits, targets *tensor.RawTensor) *tensor.RawTensor {
	n, c := checkCrossEntropy(logits, targets)
	ld, td := logits.AsFloat32(), targets.AsInt32()

	var total float64
	for b := range n {
		row := ld[b*c : (b+1)*c]
		total += logSumExp(row) - float64(row[td[b]])
	}

	loss := tensor.MustRaw(tensor.Shape{}, tensor.Float32)
	loss.AsFloat32()[0] = float32(total / float64(n))
	return loss
}

// Softmax returns row-wise softmax of a [N, C] tensor.
func Softmax(logits *tensor.RawTensor) *tensor.RawTensor {
	s := logits.Shape()
	if len(s) != 2 {
		panic(fmt.Sprintf("softmax: expected 2D logits, got %v", s))
	}
	out := tensor.MustRaw(s, tensor.Float32)
	softmaxRows(logits.AsFloat32(), out.AsFloat32(), s[0], s[1])
	return out
}

// CrossEntropyOp represents the fused softmax + cross-entropy loss.
//
// Backward:
//
//	∂L/∂logits[b,i] = (softmax(logits[b])[i] - y_one_hot[b,i]) / batch_size
type CrossEntropyOp struct {
	logits  *tensor.RawTensor
	targets *tensor.RawTensor
	output  *tensor.RawTensor
}

// NewCrossEntropyOp creates a new cross-entropy operation.
func NewCrossEntropyOp(logits, targets, output *tensor.RawTensor) *CrossEntropyOp {
	return &CrossEntropyOp{logits: logits, targets: targets, output: output}
}

// Inputs returns the input tensors. Targets are not differentiable.
func (op *CrossEntropyOp) Inputs() []*tensor.RawTensor {
	return []*tensor.RawTensor{op.logits}
}

// Output returns the output tensor.
func (op *CrossEntropyOp) Output() *tensor.RawTensor {
	return op.output
}

// Backward computes the gradient with respect to logits, scaled by the
// incoming scalar gradient.
func (op *CrossEntropyOp) Backward(outputGrad *tensor.RawTensor) []*tensor.RawTensor {
	n, c := checkCrossEntropy(op.logits, op.targets)
	scale := outputGrad.AsFloat32()[0] / float32(n)

	grad := tensor.MustRaw(op.logits.Shape(), tensor.Float32)
	gd := grad.AsFloat32()
	softmaxRows(op.logits.AsFloat32(), gd, n, c)

	td := op.targets.AsInt32()
	for b := range n {
		gd[b*c+int(td[b])] -= 1
	}
	for i := range gd {
		gd[i] *= scale
	}
	return []*tensor.RawTensor{grad}
}

func checkCrossEntropy(logits, targets *tensor.RawTensor) (n, c int) {
	ls, ts := logits.Shape(), targets.Shape()
	if len(ls) != 2 {
		panic(fmt.Sprintf("cross entropy: expected 2D logits [batch, classes], got %v", ls))
	}
	if len(ts) != 1 || ts[0] != ls[0] {
		panic(fmt.Sprintf("cross entropy: targets %v do not match logits %v", ts, ls))
	}
	n, c = ls[0], ls[1]
	for b, t := range targets.AsInt32() {
		if t < 0 || int(t) >= c {
			panic(fmt.Sprintf("cross entropy: target %d at row %d out of range [0,%d)", t, b, c))
		}
	}
	return n, c
}

func logSumExp(row []float32) float64 {
	m := row[0]
	for _, v := range row[1:] {
		m = max(m, v)
	}
	var sum float64
	for _, v := range row {
		sum += math.Exp(float64(v - m))
	}
	return float64(m) + math.Log(sum)
}

func softmaxRows(src, dst []float32, n, c int) {
	for b := range n {
		row := src[b*c : (b+1)*c]
		out := dst[b*c : (b+1)*c]
		m := row[0]
		for _, v := range row[1:] {
			m = max(m, v)
		}
		var sum float64
		for i, v := range row {
			e := math.Exp(float64(v - m))
			out[i] = float32(e)
			sum += e
		}
		for i := range out {
			out[i] = float32(float64(out[i]) / sum)
		}
	}
}

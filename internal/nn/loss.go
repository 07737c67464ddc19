package nn

import (
	"fmt"

	"github.com/born-ml/digits/internal/autodiff"
	"github.com/born-ml/digits/internal/autodiff/ops"
	"github.com/born-ml/digits/internal/tensor"
)

// CrossEntropyLoss returns the scalar mean cross-entropy of logits
// [batch, classes] against int32 class indices [batch].
func CrossEntropyLoss(tape *autodiff.Tape, logits, targets *tensor.RawTensor) *tensor.RawTensor {
	loss := ops.CrossEntropy(logits, targets)
	tape.Record(ops.NewCrossEntropyOp(logits, targets, loss))
	return loss
}

// Argmax returns the index of the largest score.
// Ties resolve to the lowest index. Panics on an empty slice.
func Argmax(scores []float32) int {
	if len(scores) == 0 {
		panic("argmax of empty slice")
	}
	best := 0
	for i, v := range scores[1:] {
		if v > scores[best] {
			best = i + 1
		}
	}
	return best
}

// ArgmaxRows returns the per-row argmax of a [batch, classes] tensor.
func ArgmaxRows(logits *tensor.RawTensor) []int {
	shape := logits.Shape()
	if len(shape) != 2 {
		panic(fmt.Sprintf("ArgmaxRows: expected 2D logits, got shape %v", shape))
	}
	n, c := shape[0], shape[1]
	data := logits.AsFloat32()
	out := make([]int, n)
	for b := range n {
		out[b] = Argmax(data[b*c : (b+1)*c])
	}
	return out
}

// Accuracy returns the fraction of rows whose argmax equals the target.
func Accuracy(logits, targets *tensor.RawTensor) float32 {
	preds := ArgmaxRows(logits)
	labels := targets.AsInt32()
	correct := 0
	for i, p := range preds {
		if p == int(labels[i]) {
			correct++
		}
	}
	return float32(correct) / float32(len(preds))
}

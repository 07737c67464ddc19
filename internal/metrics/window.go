// Package metrics aggregates training throughput and loss.
package metrics

import "time"

// Window accumulates timing, loss and accuracy across multiple steps.
type Window struct {
	samples   int
	correct   int
	data      time.Duration
	compute   time.Duration
	steps     int
	lossSum   float64
	firstLoss float64
	lastLoss  float64
}

// Record adds a new measurement to the window. correct is the number of
// samples in the batch the model classified correctly.
func (w *Window) Record(batchSize, correct int, dataTime, computeTime time.Duration, loss float64) {
	if w.steps == 0 {
		w.firstLoss = loss
	}
	w.samples += batchSize
	w.correct += correct
	w.data += dataTime
	w.compute += computeTime
	w.steps++
	w.lossSum += loss
	w.lastLoss = loss
}

// Steps returns the number of steps recorded since the last snapshot.
func (w *Window) Steps() int {
	return w.steps
}

// Snapshot returns aggregated metrics and resets the window.
func (w *Window) Snapshot() Snapshot {
	snap := Snapshot{
		Steps:     w.steps,
		Samples:   w.samples,
		FirstLoss: w.firstLoss,
		LastLoss:  w.lastLoss,
	}
	if total := w.data + w.compute; total > 0 {
		snap.ImagesPerSec = float64(w.samples) / total.Seconds()
	}
	if w.steps > 0 {
		snap.AvgDataMS = (w.data.Seconds() * 1000) / float64(w.steps)
		snap.AvgComputeMS = (w.compute.Seconds() * 1000) / float64(w.steps)
		snap.MeanLoss = w.lossSum / float64(w.steps)
	}
	if w.samples > 0 {
		snap.Accuracy = float64(w.correct) / float64(w.samples)
	}

	*w = Window{}
	return snap
}

// Snapshot represents loggable metrics.
type Snapshot struct {
	Steps        int
	Samples      int
	ImagesPerSec float64
	AvgDataMS    float64
	AvgComputeMS float64
	FirstLoss    float64
	LastLoss     float64
	MeanLoss     float64
	Accuracy     float64
}

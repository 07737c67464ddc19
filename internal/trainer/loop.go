// Package trainer runs the supervised training loop for the digits model.
package trainer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/born-ml/digits/internal/autodiff"
	"github.com/born-ml/digits/internal/metrics"
	"github.com/born-ml/digits/internal/mnist"
	"github.com/born-ml/digits/internal/nn"
	"github.com/born-ml/digits/internal/optim"
)

// RunConfig captures the knobs required by the training loop.
type RunConfig struct {
	Epochs    int
	BatchSize int
	Seed      int64 // shuffle seed; samples are reshuffled every epoch
	Shuffle   bool
	LogEvery  int          // batches between progress logs; 0 logs only per epoch
	Logger    *slog.Logger // nil discards

	// Position already reached by a resumed run. Epoch numbers and the
	// reported step continue from here.
	StartEpoch int
	StartStep  int64
}

// EpochStats summarises one pass over the dataset.
type EpochStats struct {
	Epoch        int // 1-based
	Batches      int
	FirstLoss    float64
	LastLoss     float64
	MeanLoss     float64
	Accuracy     float64
	ImagesPerSec float64
	Duration     time.Duration
}

// Report is the outcome of Run.
type Report struct {
	Epochs []EpochStats
	Steps  int64 // optimizer steps taken by this run
	Step   int64 // training position after the run, StartStep included
}

// FinalEpoch returns the number of the last completed epoch, counting
// epochs completed before a resume.
func (r Report) FinalEpoch() int {
	if len(r.Epochs) == 0 {
		return 0
	}
	return r.Epochs[len(r.Epochs)-1].Epoch
}

// FinalLoss returns the mean loss of the last epoch.
func (r Report) FinalLoss() float64 {
	if len(r.Epochs) == 0 {
		return 0
	}
	return r.Epochs[len(r.Epochs)-1].MeanLoss
}

// Run trains model on ds for cfg.Epochs epochs. Each batch is a forward
// pass, mean cross-entropy, backward pass over the tape and one optimizer
// step. Parameters are updated in place.
//
// Run stops at the first error or when ctx is cancelled; there is no
// checkpointing or early stopping.
func Run(ctx context.Context, model nn.Module, opt optim.Optimizer, ds *mnist.Dataset, cfg RunConfig) (Report, error) {
	if cfg.Epochs <= 0 {
		return Report{}, errors.New("trainer: epochs must be > 0")
	}
	if cfg.BatchSize <= 0 {
		return Report{}, errors.New("trainer: batch size must be > 0")
	}
	if cfg.StartEpoch < 0 || cfg.StartStep < 0 {
		return Report{}, errors.New("trainer: start position must not be negative")
	}
	if ds.Len() == 0 {
		return Report{}, errors.New("trainer: empty dataset")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	params := model.Parameters()
	tape := autodiff.NewTape()

	var (
		report Report
		window metrics.Window
	)
	report.Step = cfg.StartStep
	for epoch := cfg.StartEpoch + 1; epoch <= cfg.StartEpoch+cfg.Epochs; epoch++ {
		start := time.Now()
		if cfg.Shuffle {
			ds.Shuffle(rng)
		}
		dataStart := time.Now()
		batches, err := ds.Batches(cfg.BatchSize)
		if err != nil {
			return report, fmt.Errorf("epoch %d: %w", epoch, err)
		}
		dataTime := time.Since(dataStart) / time.Duration(len(batches))

		for i, batch := range batches {
			if err := ctx.Err(); err != nil {
				return report, err
			}

			computeStart := time.Now()
			opt.ZeroGrad()
			tape.Clear()
			tape.StartRecording()

			logits := model.Forward(tape, batch.Images)
			loss := nn.CrossEntropyLoss(tape, logits, batch.Labels)
			grads := tape.Backward(autodiff.Ones(loss))
			tape.StopRecording()

			nn.CollectGrads(params, grads)
			opt.Step(grads)
			report.Steps++
			report.Step++

			lossValue := float64(loss.AsFloat32()[0])
			correct := int(nn.Accuracy(logits, batch.Labels)*float32(batch.Size) + 0.5)
			window.Record(batch.Size, correct, dataTime, time.Since(computeStart), lossValue)

			if cfg.LogEvery > 0 && (i+1)%cfg.LogEvery == 0 {
				logger.Info("training", "epoch", epoch, "step", report.Step, "batch", i+1, "of", len(batches), "loss", lossValue)
			}
		}

		snap := window.Snapshot()
		stats := EpochStats{
			Epoch:        epoch,
			Batches:      snap.Steps,
			FirstLoss:    snap.FirstLoss,
			LastLoss:     snap.LastLoss,
			MeanLoss:     snap.MeanLoss,
			Accuracy:     snap.Accuracy,
			ImagesPerSec: snap.ImagesPerSec,
			Duration:     time.Since(start),
		}
		report.Epochs = append(report.Epochs, stats)
		logger.Info("epoch complete",
			"epoch", epoch,
			"loss", stats.MeanLoss,
			"first_loss", stats.FirstLoss,
			"last_loss", stats.LastLoss,
			"acc", stats.Accuracy,
			"images_per_sec", stats.ImagesPerSec,
			"duration", stats.Duration.Round(time.Millisecond),
		)
	}
	tape.Clear()
	return report, nil
}

// Evaluate returns mean loss and accuracy of model over ds without
// recording gradients.
func Evaluate(model nn.Module, ds *mnist.Dataset, batchSize int) (loss, accuracy float64, err error) {
	batches, err := ds.Batches(batchSize)
	if err != nil {
		return 0, 0, err
	}
	if len(batches) == 0 {
		return 0, 0, errors.New("trainer: empty dataset")
	}
	var correct, total int
	for _, batch := range batches {
		logits := model.Forward(nil, batch.Images)
		loss += float64(nn.CrossEntropyLoss(nil, logits, batch.Labels).AsFloat32()[0]) * float64(batch.Size)
		correct += int(nn.Accuracy(logits, batch.Labels)*float32(batch.Size) + 0.5)
		total += batch.Size
	}
	return loss / float64(total), float64(correct) / float64(total), nil
}

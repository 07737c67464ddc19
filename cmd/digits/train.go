package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"

	"github.com/born-ml/digits/internal/config"
	"github.com/born-ml/digits/internal/export"
	"github.com/born-ml/digits/internal/mnist"
	"github.com/born-ml/digits/internal/model"
	"github.com/born-ml/digits/internal/nn"
	"github.com/born-ml/digits/internal/optim"
	"github.com/born-ml/digits/internal/parallel"
	"github.com/born-ml/digits/internal/trainer"
)

func runTrain(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("train", stderr)
	var common commonFlags
	common.register(fs)
	dataDir := fs.String("data", "", "Override directory holding the MNIST IDX files")
	epochs := fs.Int("epochs", 0, "Override number of epochs")
	batchSize := fs.Int("batch-size", 0, "Override batch size")
	lr := fs.Float64("lr", 0, "Override learning rate")
	optimizer := fs.String("optimizer", "", "Override optimizer (adam or sgd)")
	seed := fs.Int64("seed", 0, "Override PRNG seed")
	maxSamples := fs.Int("max-samples", 0, "Use at most N samples per split")
	checkpoint := fs.String("checkpoint", "", "Override .born output path")
	withONNX := fs.Bool("onnx", false, "Also export a single-file ONNX model")
	onnxPath := fs.String("onnx-path", "", "Override ONNX output path")
	statePath := fs.String("state", "", "Also write a resumable training state to this path")
	resume := fs.String("resume", "", "Resume from a training state written with -state")
	synthetic := fs.Int("synthetic", 0, "Train on N synthetic samples instead of MNIST")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := common.load(config.Overrides{
		DataDir:      *dataDir,
		Epochs:       *epochs,
		BatchSize:    *batchSize,
		LearningRate: float32(*lr),
		Optimizer:    *optimizer,
		Seed:         *seed,
		MaxSamples:   *maxSamples,
		Checkpoint:   *checkpoint,
		ONNXPath:     *onnxPath,
	})
	if err != nil {
		return err
	}
	logger := cfg.NewLogger(stderr)
	tc := cfg.Train
	logger.Info("starting training", "version", version, "cpu", parallel.Describe(), "workers", parallel.Workers())

	trainSet, testSet, err := loadData(tc, *synthetic, logger)
	if err != nil {
		return err
	}

	m := model.New(rand.New(rand.NewSource(tc.Seed)))
	opt, err := optim.New(optim.Kind(tc.Optimizer), m.Parameters(), tc.LearningRate)
	if err != nil {
		return err
	}
	runCfg := trainer.RunConfig{
		Epochs:    tc.Epochs,
		BatchSize: tc.BatchSize,
		Seed:      tc.Seed,
		Shuffle:   true,
		LogEvery:  tc.LogEvery,
		Logger:    logger,
	}
	if *resume != "" {
		cp, err := nn.LoadCheckpoint(*resume, m, opt)
		if err != nil {
			return fmt.Errorf("failed to resume: %w", err)
		}
		runCfg.StartEpoch, runCfg.StartStep = cp.Epoch, cp.Step
		logger.Info("resumed", "path", *resume, "epoch", cp.Epoch, "step", cp.Step, "loss", cp.Loss)
	}

	report, err := trainer.Run(ctx, m, opt, trainSet, runCfg)
	if err != nil {
		return fmt.Errorf("training failed: %w", err)
	}
	fmt.Fprintf(stdout, "trained %d epochs (%d steps, now at epoch %d step %d), final loss %.4f\n",
		len(report.Epochs), report.Steps, report.FinalEpoch(), report.Step, report.FinalLoss())

	if testSet != nil {
		loss, acc, err := trainer.Evaluate(m, testSet, tc.BatchSize)
		if err != nil {
			return fmt.Errorf("evaluation failed: %w", err)
		}
		fmt.Fprintf(stdout, "test loss %.4f, accuracy %.2f%%\n", loss, acc*100)
	}

	exp := export.New(m, export.Options{
		TempPath:              tc.TempONNXPath,
		ExternalDataThreshold: tc.ExternalDataThreshold,
		ProducerVersion:       version,
		Metadata: map[string]string{
			"version":   version,
			"optimizer": opt.Name(),
			"epochs":    fmt.Sprint(tc.Epochs),
		},
		Logger: logger,
	})
	if err := exp.SaveCheckpoint(tc.Checkpoint); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "checkpoint saved to %s\n", tc.Checkpoint)

	if *statePath != "" {
		if err := exp.SaveTrainingState(*statePath, opt, report.FinalEpoch(), report.Step, report.FinalLoss()); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "training state saved to %s\n", *statePath)
	}

	if *withONNX {
		size, err := exp.ExportInterchange(tc.ONNXPath)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "model exported to %s (%.2f KB)\n", tc.ONNXPath, kilobytes(size))
	}
	return nil
}

// loadData returns the training split and, when present, the test split.
func loadData(tc config.TrainConfig, synthetic int, logger *slog.Logger) (train, test *mnist.Dataset, err error) {
	if synthetic > 0 {
		full := mnist.Synthetic(synthetic, tc.Seed)
		train, test = full.Split(0.2)
		train, test = train.Subset(tc.MaxSamples), test.Subset(tc.MaxSamples)
		logger.Info("using synthetic data", "train", train.Len(), "test", test.Len())
		return train, test, nil
	}

	opts := mnist.LoadOptions{MaxSamples: tc.MaxSamples, VerifyDigests: tc.VerifyDigests}
	train, err = mnist.Load(tc.DataDir, mnist.Train, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load training data: %w", err)
	}
	test, err = mnist.Load(tc.DataDir, mnist.Test, opts)
	if err != nil {
		logger.Warn("test split unavailable, skipping evaluation", "error", err)
		test = nil
	}
	logger.Info("dataset loaded", "dir", tc.DataDir, "train", train.Len())
	return train, test, nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/born-ml/digits/internal/config"
	"github.com/born-ml/digits/internal/export"
	"github.com/born-ml/digits/internal/inference"
	"github.com/born-ml/digits/internal/preprocess"
)

func runConvert(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("convert", stderr)
	in := fs.String("in", export.DefaultTempPath, "ONNX graph, possibly referencing external data")
	out := fs.String("out", "mnist.onnx", "Single-file ONNX output")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == *out {
		return errors.New("-in and -out must differ")
	}

	size, err := export.Merge(*in, *out)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "model merged to %s (%.2f KB)\n", *out, kilobytes(size))
	return nil
}

func runInfer(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("infer", stderr)
	var common commonFlags
	common.register(fs)
	modelPath := fs.String("model", "", "Override model path (.born or .onnx)")
	engine := fs.String("engine", "", "Override engine (auto, native, graph, ort)")
	image := fs.String("image", "", "Image file to classify")
	plain := fs.Bool("plain", false, "Skip the invert and threshold steps")
	scores := fs.Bool("scores", false, "Print the ten class scores and their softmax probabilities")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *image == "" {
		fs.Usage()
		return errUsage
	}

	o := config.Overrides{ModelPath: *modelPath, Engine: *engine}
	if *plain {
		o.Webcam = new(bool)
	}
	cfg, err := common.load(o)
	if err != nil {
		return err
	}

	svc, err := openService(cfg.Serve)
	if err != nil {
		return err
	}
	defer svc.Close()

	data, err := os.ReadFile(*image)
	if err != nil {
		return fmt.Errorf("failed to read image: %w", err)
	}
	pred, err := svc.PredictImage(ctx, data)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%d\n", pred.Digit)
	if *scores {
		probs := pred.Probabilities()
		for i, s := range pred.Scores {
			fmt.Fprintf(stdout, "  %d: %.4f (p=%.3f)\n", i, s, probs[i])
		}
	}
	return nil
}

// openService loads the model and builds the preprocessing pipeline
// described by sc. A model that cannot be loaded is an error.
func openService(sc config.ServeConfig) (*inference.Service, error) {
	kind, err := inference.ParseEngineKind(sc.Engine)
	if err != nil {
		return nil, err
	}
	pre, err := preprocess.New(preprocess.Options{
		Webcam:        sc.Webcam,
		Interpolation: preprocess.Interpolation(sc.Interpolation),
	})
	if err != nil {
		return nil, err
	}
	clf, err := inference.Open(sc.ModelPath, kind, inference.Options{RuntimeLibrary: sc.ORTLibrary})
	if err != nil {
		return nil, fmt.Errorf("failed to load model: %w", err)
	}
	return inference.NewService(pre, clf), nil
}

package main

import (
	"context"
	"io"

	"github.com/born-ml/digits/internal/config"
	"github.com/born-ml/digits/internal/server"
)

func runServe(ctx context.Context, args []string, stderr io.Writer) error {
	fs := newFlagSet("serve", stderr)
	var common commonFlags
	common.register(fs)
	addr := fs.String("addr", "", "Override listen address")
	modelPath := fs.String("model", "", "Override model path (.born or .onnx)")
	engine := fs.String("engine", "", "Override engine (auto, native, graph, ort)")
	ortLib := fs.String("ort-library", "", "Path to the onnxruntime shared library")
	interp := fs.String("interpolation", "", "Override resize filter (nearest, bilinear, bicubic, lanczos3)")
	plain := fs.Bool("plain", false, "Skip the invert and threshold steps")
	if err := fs.Parse(args); err != nil {
		return err
	}

	o := config.Overrides{
		Addr:          *addr,
		ModelPath:     *modelPath,
		Engine:        *engine,
		ORTLibrary:    *ortLib,
		Interpolation: *interp,
	}
	if *plain {
		o.Webcam = new(bool)
	}
	cfg, err := common.load(o)
	if err != nil {
		return err
	}
	logger := cfg.NewLogger(stderr)
	sc := cfg.Serve

	svc, err := openService(sc)
	if err != nil {
		return err
	}
	defer svc.Close()
	logger.Info("model loaded",
		"path", sc.ModelPath,
		"engine", svc.Engine(),
		"webcam", sc.Webcam,
		"interpolation", svc.Preprocessor().Interpolation(),
	)

	h := server.NewHandler(svc, server.HandlerOptions{
		CORSOrigins:    sc.CORSOrigins,
		MaxUploadBytes: sc.MaxUploadBytes,
		Logger:         logger,
	})
	return server.New(h, server.Options{
		Addr:            sc.Addr,
		ReadTimeout:     sc.ReadTimeout,
		WriteTimeout:    sc.WriteTimeout,
		ShutdownTimeout: sc.ShutdownTimeout,
		Logger:          logger,
	}).Run(ctx)
}

// Package export writes a trained classifier to disk, either as a .born
// checkpoint or as a single self-contained ONNX file.
package export

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/born-ml/digits/internal/model"
	"github.com/born-ml/digits/internal/nn"
	"github.com/born-ml/digits/internal/onnx"
)

// Default export settings.
const (
	DefaultTempPath              = "temp_model.onnx"
	DefaultExternalDataThreshold = 1024
)

// Options configures an Exporter.
type Options struct {
	// TempPath is where the intermediate graph is written. Its side-car is
	// TempPath + ".data" in the same directory.
	TempPath string

	// ExternalDataThreshold is the initializer size in bytes above which
	// the intermediate graph stores data in the side-car. Negative keeps
	// everything inline.
	ExternalDataThreshold int

	// ProducerVersion is recorded in the ONNX header.
	ProducerVersion string

	// Metadata is stored in .born headers.
	Metadata map[string]string

	Logger *slog.Logger // nil discards
}

// Exporter writes one model in the supported formats.
type Exporter struct {
	model  *nn.Sequential
	opts   Options
	logger *slog.Logger
}

// New returns an Exporter for m. Zero-valued options take the defaults.
func New(m *nn.Sequential, opts Options) *Exporter {
	if opts.TempPath == "" {
		opts.TempPath = DefaultTempPath
	}
	if opts.ExternalDataThreshold == 0 {
		opts.ExternalDataThreshold = DefaultExternalDataThreshold
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Exporter{model: m, opts: opts, logger: logger}
}

// SaveCheckpoint writes the model's parameters to path as a .born file.
func (e *Exporter) SaveCheckpoint(path string) error {
	if err := model.Save(e.model, path, e.opts.Metadata); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	e.logger.Info("checkpoint saved", "path", path)
	return nil
}

// SaveTrainingState writes a resumable checkpoint: parameters, optimizer
// moments and the training position.
func (e *Exporter) SaveTrainingState(path string, opt nn.OptimizerState, epoch int, step int64, loss float64) error {
	meta := make(map[string]any, len(e.opts.Metadata))
	for k, v := range e.opts.Metadata {
		meta[k] = v
	}
	cp := &nn.Checkpoint{
		Model:     e.model,
		Optimizer: opt,
		Epoch:     epoch,
		Step:      step,
		Loss:      loss,
		Metadata:  meta,
		CreatedAt: time.Now().UTC(),
	}
	if err := cp.Save(path, model.Type); err != nil {
		return fmt.Errorf("failed to save training state: %w", err)
	}
	e.logger.Info("training state saved", "path", path, "epoch", epoch)
	return nil
}

// ExportInterchange writes the model to finalPath as one ONNX file with
// every initializer inline and returns its size in bytes.
//
// The graph is first exported to the temporary path, possibly with a
// side-car for large initializers, then reloaded with the side-car
// resolved and saved again as a single file. The temporary graph and
// side-car are removed afterwards. A failure part way leaves them in place.
func (e *Exporter) ExportInterchange(finalPath string) (int64, error) {
	temp := e.opts.TempPath
	sidecar := filepath.Base(temp) + ".data"

	opts := onnx.ExportOptions{ProducerVersion: e.opts.ProducerVersion}
	if e.opts.ExternalDataThreshold >= 0 {
		opts.ExternalDataPath = sidecar
		opts.ExternalDataThreshold = e.opts.ExternalDataThreshold
	}
	if err := onnx.Export(temp, e.model.StateDict(), opts); err != nil {
		return 0, fmt.Errorf("failed to export temporary graph: %w", err)
	}
	e.logger.Info("temporary graph exported", "path", temp)

	if err := onnx.Merge(temp, finalPath); err != nil {
		return 0, fmt.Errorf("failed to merge %s: %w", temp, err)
	}

	for _, p := range []string{temp, filepath.Join(filepath.Dir(temp), sidecar)} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return 0, fmt.Errorf("failed to remove %s: %w", p, err)
		}
	}

	size, err := fileSize(finalPath)
	if err != nil {
		return 0, err
	}
	e.logger.Info("interchange model written", "path", finalPath, "bytes", size)
	return size, nil
}

// Merge folds src and any side-car data it references into dst and
// returns the size of dst. src is left untouched.
func Merge(src, dst string) (int64, error) {
	if err := onnx.Merge(src, dst); err != nil {
		return 0, err
	}
	return fileSize(dst)
}

func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	return info.Size(), nil
}

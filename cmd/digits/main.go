// Command digits trains, exports and serves the handwritten digit
// classifier.
//
//	digits train   [-config digits.yaml] [-epochs 3] [-onnx]
//	digits convert -in temp_model.onnx -out mnist.onnx
//	digits infer   -model mnist.born -image digit.png
//	digits serve   [-addr :8000] [-model mnist.onnx] [-engine graph]
//	digits version
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/born-ml/digits/internal/config"
)

const version = "v0.1.0"

var errUsage = errors.New("usage")

func main() {
	log.SetFlags(0)
	log.SetPrefix("digits: ")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		stop()
		switch {
		case errors.Is(err, flag.ErrHelp):
			os.Exit(0)
		case errors.Is(err, errUsage):
			os.Exit(2)
		}
		fatal(err)
	}
}

func fatal(err error) {
	log.Fatalf("%v", err)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		usage(stderr)
		return errUsage
	}
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "train":
		return runTrain(ctx, rest, stdout, stderr)
	case "convert":
		return runConvert(rest, stdout, stderr)
	case "infer":
		return runInfer(ctx, rest, stdout, stderr)
	case "serve":
		return runServe(ctx, rest, stderr)
	case "version":
		fmt.Fprintf(stdout, "digits %s\n", version)
		return nil
	case "help", "-h", "-help", "--help":
		usage(stdout)
		return nil
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n", cmd)
		usage(stderr)
		return errUsage
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "Usage: digits <command> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  train      Train the classifier and export a checkpoint")
	fmt.Fprintln(w, "  convert    Merge an ONNX graph and its external data into one file")
	fmt.Fprintln(w, "  infer      Classify one image file")
	fmt.Fprintln(w, "  serve      Serve POST /predict over HTTP")
	fmt.Fprintln(w, "  version    Show version")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Run 'digits <command> -h' for the flags of a command.")
}

// commonFlags registers the flags every config-driven command accepts.
type commonFlags struct {
	configPath string
	logLevel   string
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.configPath, "config", "digits.yaml", "Path to YAML config (missing file uses defaults)")
	fs.StringVar(&c.logLevel, "log-level", "", "Override log level (debug, info, warn, error)")
}

// load reads the config, applies o and validates the result.
func (c *commonFlags) load(o config.Overrides) (*config.Config, error) {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	o.LogLevel = c.logLevel
	cfg.ApplyOverrides(o)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet("digits "+name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func kilobytes(n int64) float64 {
	return float64(n) / 1024
}

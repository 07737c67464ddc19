// Package preprocess turns an uploaded image into the classifier's input
// tensor.
//
// Pipeline, in order:
//
//  1. decode (PNG, JPEG, GIF, BMP or WebP) and convert to 8-bit grayscale
//  2. webcam mode only: invert (255 - v), then threshold at 128 to pure
//     black and white, turning a dark digit on light paper into the light
//     digit on black background the model was trained on
//  3. resize to 28×28 with the configured interpolation
//  4. scale to [0, 1] as a [1, 1, 28, 28] float32 tensor
package preprocess

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif" // register decoder
	_ "image/jpeg"
	_ "image/png"

	"github.com/nfnt/resize"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/born-ml/digits/internal/model"
	"github.com/born-ml/digits/internal/tensor"
)

// Fixed pipeline constants.
const (
	Size      = model.ImageSize
	Threshold = 128
)

// ErrDecode reports bytes that are not a supported image.
var ErrDecode = errors.New("preprocess: cannot decode image")

// Interpolation names the resampling filter used by the resize step.
type Interpolation string

// Supported interpolations. Bilinear matches the default of the reference
// training transforms.
const (
	Nearest  Interpolation = "nearest"
	Bilinear Interpolation = "bilinear"
	Bicubic  Interpolation = "bicubic"
	Lanczos3 Interpolation = "lanczos3"
)

// ParseInterpolation validates s. The empty string selects Bilinear.
func ParseInterpolation(s string) (Interpolation, error) {
	switch i := Interpolation(s); i {
	case "":
		return Bilinear, nil
	case Nearest, Bilinear, Bicubic, Lanczos3:
		return i, nil
	default:
		return "", fmt.Errorf("unknown interpolation %q (want nearest, bilinear, bicubic or lanczos3)", s)
	}
}

func (i Interpolation) filter() resize.InterpolationFunction {
	switch i {
	case Nearest:
		return resize.NearestNeighbor
	case Bicubic:
		return resize.Bicubic
	case Lanczos3:
		return resize.Lanczos3
	default:
		return resize.Bilinear
	}
}

// Options configures a Preprocessor.
type Options struct {
	// Webcam enables the invert and threshold steps for photos of dark
	// ink on light paper.
	Webcam bool

	// Interpolation defaults to Bilinear.
	Interpolation Interpolation
}

// Preprocessor runs the pipeline. It is stateless and safe for concurrent
// use.
type Preprocessor struct {
	webcam bool
	interp Interpolation
}

// New returns a Preprocessor, rejecting unknown interpolations.
func New(opts Options) (*Preprocessor, error) {
	interp, err := ParseInterpolation(string(opts.Interpolation))
	if err != nil {
		return nil, err
	}
	return &Preprocessor{webcam: opts.Webcam, interp: interp}, nil
}

// Webcam reports whether the invert and threshold steps run.
func (p *Preprocessor) Webcam() bool { return p.webcam }

// Interpolation returns the resize filter in use.
func (p *Preprocessor) Interpolation() Interpolation { return p.interp }

// Process decodes data and returns the [1, 1, 28, 28] input tensor.
func (p *Preprocessor) Process(data []byte) (*tensor.RawTensor, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return p.ProcessImage(img), nil
}

// ProcessImage runs every step after decoding. An empty image yields an
// all-zero tensor.
func (p *Preprocessor) ProcessImage(img image.Image) *tensor.RawTensor {
	t := tensor.MustRaw(model.InputShape, tensor.Float32)
	if img.Bounds().Empty() {
		return t
	}

	gray := Grayscale(img)
	if p.webcam {
		Invert(gray)
		Binarize(gray, Threshold)
	}
	small := Grayscale(resize.Resize(Size, Size, gray, p.interp.filter()))

	out := t.AsFloat32()
	for y := range Size {
		row := small.Pix[y*small.Stride : y*small.Stride+Size]
		for x, v := range row {
			out[y*Size+x] = float32(v) / 255
		}
	}
	return t
}

// Grayscale returns a copy of img as an 8-bit gray image with origin
// (0, 0), using ITU-R 601 luma weights. Alpha is ignored: a transparent
// pixel keeps the luma of its stored colour, so a transparent canvas
// background stays white.
func Grayscale(img image.Image) *image.Gray {
	b := img.Bounds()
	g := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	if src, ok := img.(*image.Gray); ok {
		for y := range b.Dy() {
			copy(g.Pix[y*g.Stride:(y+1)*g.Stride], src.Pix[src.PixOffset(b.Min.X, b.Min.Y+y):])
		}
		return g
	}
	for y := range b.Dy() {
		for x := range b.Dx() {
			c := color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			g.Pix[y*g.Stride+x] = luma(c.R, c.G, c.B)
		}
	}
	return g
}

func luma(r, g, b uint8) uint8 {
	return uint8((19595*uint32(r) + 38470*uint32(g) + 7471*uint32(b) + 1<<15) >> 16)
}

// Invert replaces every pixel v with 255 - v in place.
func Invert(g *image.Gray) {
	for i, v := range g.Pix {
		g.Pix[i] = 255 - v
	}
}

// Binarize maps pixels below level to 0 and the rest to 255 in place.
func Binarize(g *image.Gray, level uint8) {
	for i, v := range g.Pix {
		if v < level {
			g.Pix[i] = 0
		} else {
			g.Pix[i] = 255
		}
	}
}

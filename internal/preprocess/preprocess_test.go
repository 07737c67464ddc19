package preprocess

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"

	"github.com/born-ml/digits/internal/model"
)

func solid(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, c)
		}
	}
	return img
}

func noisy(w, h int, seed int64) *image.RGBA {
	rng := rand.New(rand.NewSource(seed))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = uint8(rng.Intn(256))
	}
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 255
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestProcessShapeAndRange(t *testing.T) {
	encoders := map[string]func(*bytes.Buffer, image.Image) error{
		"png":  func(b *bytes.Buffer, img image.Image) error { return png.Encode(b, img) },
		"jpeg": func(b *bytes.Buffer, img image.Image) error { return jpeg.Encode(b, img, nil) },
		"bmp":  func(b *bytes.Buffer, img image.Image) error { return bmp.Encode(b, img) },
	}
	sizes := []image.Point{{1, 1}, {28, 28}, {100, 37}, {320, 240}}
	interps := []Interpolation{Nearest, Bilinear, Bicubic, Lanczos3}

	for format, encode := range encoders {
		for _, size := range sizes {
			var buf bytes.Buffer
			require.NoError(t, encode(&buf, noisy(size.X, size.Y, int64(size.X))))
			data := buf.Bytes()

			for _, interp := range interps {
				for _, webcam := range []bool{true, false} {
					p, err := New(Options{Webcam: webcam, Interpolation: interp})
					require.NoError(t, err)

					x, err := p.Process(data)
					require.NoError(t, err, "%s %v %s", format, size, interp)
					assert.Equal(t, model.InputShape, x.Shape())
					for _, v := range x.AsFloat32() {
						require.GreaterOrEqual(t, v, float32(0))
						require.LessOrEqual(t, v, float32(1))
					}
				}
			}
		}
	}
}

func TestProcessGrayInput(t *testing.T) {
	g := image.NewGray(image.Rect(0, 0, 56, 56))
	for i := range g.Pix {
		g.Pix[i] = 200
	}
	p, err := New(Options{})
	require.NoError(t, err)

	x, err := p.Process(encodePNG(t, g))
	require.NoError(t, err)
	for _, v := range x.AsFloat32() {
		assert.InDelta(t, 200.0/255, v, 0.01)
	}
}

func TestSolidBlackWebcam(t *testing.T) {
	p, err := New(Options{Webcam: true})
	require.NoError(t, err)

	// Black paper inverts to white.
	x, err := p.Process(encodePNG(t, solid(64, 48, color.Black)))
	require.NoError(t, err)
	for _, v := range x.AsFloat32() {
		assert.InDelta(t, 1, v, 0.01)
	}

	// Without webcam mode black stays black.
	plain, err := New(Options{})
	require.NoError(t, err)
	x, err = plain.Process(encodePNG(t, solid(64, 48, color.Black)))
	require.NoError(t, err)
	for _, v := range x.AsFloat32() {
		assert.InDelta(t, 0, v, 0.01)
	}
}

func TestThresholdIdempotent(t *testing.T) {
	g := Grayscale(noisy(40, 30, 3))
	Invert(g)
	Binarize(g, Threshold)
	once := bytes.Clone(g.Pix)

	Binarize(g, Threshold)
	assert.Equal(t, once, g.Pix)
	for _, v := range g.Pix {
		assert.True(t, v == 0 || v == 255)
	}
}

func TestBinarizeBoundary(t *testing.T) {
	g := image.NewGray(image.Rect(0, 0, 3, 1))
	copy(g.Pix, []uint8{127, 128, 129})
	Binarize(g, Threshold)
	assert.Equal(t, []uint8{0, 255, 255}, g.Pix)
}

func TestGrayscaleCopiesSubImage(t *testing.T) {
	g := image.NewGray(image.Rect(0, 0, 4, 4))
	for i := range g.Pix {
		g.Pix[i] = uint8(i)
	}
	sub := g.SubImage(image.Rect(1, 1, 3, 3)).(*image.Gray)

	out := Grayscale(sub)
	assert.Equal(t, image.Rect(0, 0, 2, 2), out.Bounds())
	assert.Equal(t, []uint8{5, 6, 9, 10}, out.Pix)

	Invert(out)
	assert.Equal(t, uint8(5), g.Pix[5], "source is not modified")
}

func TestGrayscaleIgnoresAlpha(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 4, 1))
	img.SetNRGBA(0, 0, color.NRGBA{255, 255, 255, 0})
	img.SetNRGBA(1, 0, color.NRGBA{0, 0, 0, 0})
	img.SetNRGBA(2, 0, color.NRGBA{255, 0, 0, 255})
	img.SetNRGBA(3, 0, color.NRGBA{200, 200, 200, 128})

	assert.Equal(t, []uint8{255, 0, 76, 200}, Grayscale(img).Pix)
}

func TestTransparentCanvasWebcam(t *testing.T) {
	// Dark opaque stroke on a fully transparent white background, as
	// exported by an HTML canvas.
	img := image.NewNRGBA(image.Rect(0, 0, Size, Size))
	for y := range Size {
		for x := range Size {
			c := color.NRGBA{255, 255, 255, 0}
			if x >= 12 && x < 16 {
				c = color.NRGBA{0, 0, 0, 255}
			}
			img.SetNRGBA(x, y, c)
		}
	}
	p, err := New(Options{Webcam: true})
	require.NoError(t, err)

	x, err := p.Process(encodePNG(t, img))
	require.NoError(t, err)
	out := x.AsFloat32()
	assert.InDelta(t, 0, out[0], 0.01, "background inverts to black")
	assert.InDelta(t, 0, out[Size*Size-1], 0.01)
	assert.Greater(t, out[14*Size+13], float32(0.5), "stroke inverts to white")
}

func TestProcessRejectsGarbage(t *testing.T) {
	p, err := New(Options{})
	require.NoError(t, err)

	_, err = p.Process([]byte("definitely not an image"))
	assert.ErrorIs(t, err, ErrDecode)

	_, err = p.Process(nil)
	assert.ErrorIs(t, err, ErrDecode)
}

func TestParseInterpolation(t *testing.T) {
	i, err := ParseInterpolation("")
	require.NoError(t, err)
	assert.Equal(t, Bilinear, i)

	i, err = ParseInterpolation("lanczos3")
	require.NoError(t, err)
	assert.Equal(t, Lanczos3, i)

	_, err = ParseInterpolation("cubic")
	assert.Error(t, err)

	_, err = New(Options{Interpolation: "area"})
	assert.Error(t, err)
}

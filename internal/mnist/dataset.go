// Package mnist loads the MNIST handwritten digit dataset from the official
// IDX files and turns it into training batches.
package mnist

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/born-ml/digits/internal/model"
	"github.com/born-ml/digits/internal/tensor"
)

// Split selects the training or test half of MNIST.
type Split int

// Dataset splits.
const (
	Train Split = iota
	Test
)

func (s Split) String() string {
	if s == Test {
		return "t10k"
	}
	return "train"
}

// SHA-256 digests of the official gzip archives.
var digests = map[string]string{
	"t10k-images-idx3-ubyte.gz":  "8d422c7b0a1c1c79245a5bcf07fe86e33eeafee792b84584aec276f5a2dbc4e6",
	"t10k-labels-idx1-ubyte.gz":  "f7ae60f92e00ec6debd23a6088c31dbd2371eca3ffa0defaefb259924204aec6",
	"train-images-idx3-ubyte.gz": "440fcabf73cc546fa21475e81ea370265605f56be210a4024d2ca8f203523609",
	"train-labels-idx1-ubyte.gz": "3552534a0a558bbed6aed32b30c495cca23d567ec52cac8be1a0730e8010255c",
}

// ErrDigestMismatch reports a gzip archive that is not the official file.
var ErrDigestMismatch = errors.New("dataset file digest mismatch")

// Dataset holds images normalised to [0, 1] and their labels.
type Dataset struct {
	Images []float32 // [n * 784], row-major
	Labels []int32   // [n]
}

// LoadOptions controls Load.
type LoadOptions struct {
	MaxSamples    int  // 0 loads everything
	VerifyDigests bool // check .gz archives against the official SHA-256
}

// Load reads one split from dir. For each file it prefers the gzip archive
// ("train-images-idx3-ubyte.gz") and falls back to the raw IDX file.
func Load(dir string, split Split, opts LoadOptions) (*Dataset, error) {
	imagesPath, err := locate(dir, split.String()+"-images-idx3-ubyte", opts.VerifyDigests)
	if err != nil {
		return nil, err
	}
	labelsPath, err := locate(dir, split.String()+"-labels-idx1-ubyte", opts.VerifyDigests)
	if err != nil {
		return nil, err
	}

	pixels, count, rows, cols, err := loadImages(imagesPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load images: %w", err)
	}
	if rows != model.ImageSize || cols != model.ImageSize {
		return nil, fmt.Errorf("%s: images are %dx%d, want %dx%d", imagesPath, rows, cols, model.ImageSize, model.ImageSize)
	}
	labels, err := loadLabels(labelsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load labels: %w", err)
	}
	if count != len(labels) {
		return nil, fmt.Errorf("image count (%d) != label count (%d)", count, len(labels))
	}

	n := count
	if opts.MaxSamples > 0 && n > opts.MaxSamples {
		n = opts.MaxSamples
	}
	ds := &Dataset{
		Images: make([]float32, n*model.InputFeatures),
		Labels: make([]int32, n),
	}
	for i, p := range pixels[:n*model.InputFeatures] {
		ds.Images[i] = float32(p) / 255.0
	}
	for i, l := range labels[:n] {
		if l >= model.NumClasses {
			return nil, fmt.Errorf("label out of range [0, 9] at index %d: %d", i, l)
		}
		ds.Labels[i] = int32(l)
	}
	return ds, nil
}

func loadImages(path string) ([]byte, int, int, int, error) {
	rc, err := openIDX(path)
	if err != nil {
		return nil, 0, 0, 0, err
	}
	defer func() { _ = rc.Close() }()
	return readImages(rc)
}

func loadLabels(path string) ([]byte, error) {
	rc, err := openIDX(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()
	return readLabels(rc)
}

func locate(dir, base string, verify bool) (string, error) {
	gz := filepath.Join(dir, base+".gz")
	if _, err := os.Stat(gz); err == nil {
		if verify {
			if err := verifyDigest(gz); err != nil {
				return "", err
			}
		}
		return gz, nil
	}
	raw := filepath.Join(dir, base)
	if _, err := os.Stat(raw); err != nil {
		return "", fmt.Errorf("dataset file %s(.gz) not found in %s: %w", base, dir, err)
	}
	return raw, nil
}

func verifyDigest(path string) error {
	want, ok := digests[filepath.Base(path)]
	if !ok {
		return nil
	}
	//nolint:gosec // G304: dataset directory comes from configuration
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return fmt.Errorf("hash %s: %w", path, err)
	}
	if got := hex.EncodeToString(h.Sum(nil)); got != want {
		return fmt.Errorf("%w: %s has sha256 %s", ErrDigestMismatch, path, got)
	}
	return nil
}

// Len returns the number of samples.
func (d *Dataset) Len() int {
	return len(d.Labels)
}

// Image returns the pixels of sample i.
func (d *Dataset) Image(i int) []float32 {
	return d.Images[i*model.InputFeatures : (i+1)*model.InputFeatures]
}

// Shuffle permutes samples in place using rng.
func (d *Dataset) Shuffle(rng *rand.Rand) {
	tmp := make([]float32, model.InputFeatures)
	rng.Shuffle(d.Len(), func(i, j int) {
		d.Labels[i], d.Labels[j] = d.Labels[j], d.Labels[i]
		a, b := d.Image(i), d.Image(j)
		copy(tmp, a)
		copy(a, b)
		copy(b, tmp)
	})
}

// Subset returns the first n samples (all of them if n <= 0 or n >= Len),
// sharing storage with d.
func (d *Dataset) Subset(n int) *Dataset {
	if n <= 0 || n >= d.Len() {
		return d
	}
	return &Dataset{Images: d.Images[:n*model.InputFeatures], Labels: d.Labels[:n]}
}

// Split divides the dataset into train and validation parts.
func (d *Dataset) Split(validationRatio float32) (train, validation *Dataset) {
	idx := int(float32(d.Len()) * (1 - validationRatio))
	return &Dataset{Images: d.Images[:idx*model.InputFeatures], Labels: d.Labels[:idx]},
		&Dataset{Images: d.Images[idx*model.InputFeatures:], Labels: d.Labels[idx:]}
}

// Batch is a mini-batch ready for the model.
type Batch struct {
	Images *tensor.RawTensor // [size, 1, 28, 28]
	Labels *tensor.RawTensor // [size] int32
	Size   int
}

// Batches splits the dataset into mini-batches in order. The last batch
// may be smaller.
func (d *Dataset) Batches(batchSize int) ([]Batch, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	if len(d.Images) != d.Len()*model.InputFeatures {
		return nil, fmt.Errorf("images and labels length mismatch")
	}

	batches := make([]Batch, 0, (d.Len()+batchSize-1)/batchSize)
	for start := 0; start < d.Len(); start += batchSize {
		end := min(start+batchSize, d.Len())
		size := end - start

		images, err := tensor.FromFloat32(d.Images[start*model.InputFeatures:end*model.InputFeatures],
			tensor.Shape{size, 1, model.ImageSize, model.ImageSize})
		if err != nil {
			return nil, fmt.Errorf("failed to create images tensor: %w", err)
		}
		labels, err := tensor.FromInt32(d.Labels[start:end], tensor.Shape{size})
		if err != nil {
			return nil, fmt.Errorf("failed to create labels tensor: %w", err)
		}
		batches = append(batches, Batch{Images: images, Labels: labels, Size: size})
	}
	return batches, nil
}

// Synthetic generates n labelled samples without touching the filesystem.
//
// Each digit k is a bright horizontal band starting at row 2k plus noise,
// enough structure for the classifier to learn in a few steps.
func Synthetic(n int, seed int64) *Dataset {
	rng := rand.New(rand.NewSource(seed))
	ds := &Dataset{
		Images: make([]float32, n*model.InputFeatures),
		Labels: make([]int32, n),
	}
	for i := range n {
		label := rng.Intn(model.NumClasses)
		ds.Labels[i] = int32(label)
		img := ds.Image(i)
		for p := range img {
			img[p] = rng.Float32() * 0.1
		}
		for row := 2 * label; row < 2*label+8 && row < model.ImageSize; row++ {
			for col := 5; col < 23; col++ {
				img[row*model.ImageSize+col] = 0.7 + rng.Float32()*0.3
			}
		}
	}
	return ds
}

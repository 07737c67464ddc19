package mnist

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/born-ml/digits/internal/model"
	"github.com/born-ml/digits/internal/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func idxImages(t *testing.T, magic uint32, n int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.BigEndian, [4]uint32{magic, uint32(n), 28, 28}))
	for i := range n * model.InputFeatures {
		buf.WriteByte(byte(i % 256))
	}
	return buf.Bytes()
}

func idxLabels(t *testing.T, labels ...byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.BigEndian, [2]uint32{labelMagic, uint32(len(labels))}))
	buf.Write(labels)
	return buf.Bytes()
}

func gzipped(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write(data)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func writeFile(t *testing.T, dir, name string, data []byte) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o600))
}

func TestLoadRawIDX(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "train-images-idx3-ubyte", idxImages(t, imageMagic, 3))
	writeFile(t, dir, "train-labels-idx1-ubyte", idxLabels(t, 7, 1, 4))

	ds, err := Load(dir, Train, LoadOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, ds.Len())
	assert.Equal(t, []int32{7, 1, 4}, ds.Labels)
	assert.InDelta(t, 0, ds.Images[0], 1e-7)
	assert.InDelta(t, 255.0/255.0, ds.Images[255], 1e-7)

	limited, err := Load(dir, Train, LoadOptions{MaxSamples: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, limited.Len())
	assert.Len(t, limited.Images, 2*model.InputFeatures)
}

func TestLoadGzipIDX(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "t10k-images-idx3-ubyte.gz", gzipped(t, idxImages(t, imageMagic, 2)))
	writeFile(t, dir, "t10k-labels-idx1-ubyte.gz", gzipped(t, idxLabels(t, 0, 9)))

	ds, err := Load(dir, Test, LoadOptions{})
	require.NoError(t, err)
	assert.Equal(t, []int32{0, 9}, ds.Labels)

	// Not the official archives, so verification must fail.
	_, err = Load(dir, Test, LoadOptions{VerifyDigests: true})
	assert.ErrorIs(t, err, ErrDigestMismatch)
}

func TestLoadRejectsBadMagic(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "train-images-idx3-ubyte", idxImages(t, labelMagic, 1))
	writeFile(t, dir, "train-labels-idx1-ubyte", idxLabels(t, 1))

	_, err := Load(dir, Train, LoadOptions{})
	assert.ErrorIs(t, err, ErrBadMagic)
}

func TestLoadMissingFiles(t *testing.T) {
	_, err := Load(t.TempDir(), Train, LoadOptions{})
	assert.Error(t, err)
}

func TestLoadCountMismatch(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "train-images-idx3-ubyte", idxImages(t, imageMagic, 2))
	writeFile(t, dir, "train-labels-idx1-ubyte", idxLabels(t, 1))

	_, err := Load(dir, Train, LoadOptions{})
	assert.ErrorContains(t, err, "image count (2) != label count (1)")
}

func TestBatches(t *testing.T) {
	ds := Synthetic(10, 1)
	batches, err := ds.Batches(4)
	require.NoError(t, err)
	require.Len(t, batches, 3)
	assert.Equal(t, tensor.Shape{4, 1, 28, 28}, batches[0].Images.Shape())
	assert.Equal(t, tensor.Shape{2}, batches[2].Labels.Shape())
	assert.Equal(t, 2, batches[2].Size)
	assert.Equal(t, ds.Labels[8:], batches[2].Labels.AsInt32())

	_, err = ds.Batches(0)
	assert.Error(t, err)
}

// bandRow finds the first row whose mean brightness marks the synthetic digit band.
func bandRow(img []float32) int {
	for row := range model.ImageSize {
		if img[row*model.ImageSize+10] > 0.5 {
			return row
		}
	}
	return -1
}

func TestSyntheticAndShuffleKeepPairs(t *testing.T) {
	ds := Synthetic(50, 3)
	for i := range ds.Len() {
		require.Equal(t, 2*int(ds.Labels[i]), bandRow(ds.Image(i)))
	}

	before := append([]int32(nil), ds.Labels...)
	ds.Shuffle(rand.New(rand.NewSource(9)))
	assert.ElementsMatch(t, before, ds.Labels)
	for i := range ds.Len() {
		assert.Equal(t, 2*int(ds.Labels[i]), bandRow(ds.Image(i)), "sample %d", i)
	}

	assert.Equal(t, Synthetic(5, 3).Labels, Synthetic(5, 3).Labels)
}

func TestSubsetAndSplit(t *testing.T) {
	ds := Synthetic(20, 1)
	assert.Equal(t, 5, ds.Subset(5).Len())
	assert.Same(t, ds, ds.Subset(0))

	train, val := ds.Split(0.25)
	assert.Equal(t, 15, train.Len())
	assert.Equal(t, 5, val.Len())
}

package mnist

import (
	"bufio"
	"compress/gzip"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// IDX magic numbers.
const (
	imageMagic = 0x00000803 // 2051
	labelMagic = 0x00000801 // 2049
)

// ErrBadMagic reports an IDX file whose magic number does not match its role.
var ErrBadMagic = errors.New("invalid IDX magic number")

// readImages reads an IDX image file.
//
//	magic number: 0x00000803 (2051)
//	number of images: 4 bytes
//	number of rows: 4 bytes (28)
//	number of cols: 4 bytes (28)
//	pixel data: unsigned bytes (0-255)
func readImages(r io.Reader) (pixels []byte, count, rows, cols int, err error) {
	var hdr [4]uint32
	if err := binary.Read(r, binary.BigEndian, &hdr); err != nil {
		return nil, 0, 0, 0, fmt.Errorf("failed to read header: %w", err)
	}
	if hdr[0] != imageMagic {
		return nil, 0, 0, 0, fmt.Errorf("%w: got %d, want %d", ErrBadMagic, hdr[0], imageMagic)
	}
	count, rows, cols = int(hdr[1]), int(hdr[2]), int(hdr[3])

	pixels = make([]byte, count*rows*cols)
	if _, err := io.ReadFull(r, pixels); err != nil {
		return nil, 0, 0, 0, fmt.Errorf("failed to read %d images: %w", count, err)
	}
	return pixels, count, rows, cols, nil
}

// readLabels reads an IDX label file.
//
//	magic number: 0x00000801 (2049)
//	number of labels: 4 bytes
//	label data: unsigned bytes (0-9)
func readLabels(r io.Reader) ([]byte, error) {
	var hdr [2]uint32
	if err := binary.Read(r, binary.BigEndian, &hdr); err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	if hdr[0] != labelMagic {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrBadMagic, hdr[0], labelMagic)
	}
	labels := make([]byte, hdr[1])
	if _, err := io.ReadFull(r, labels); err != nil {
		return nil, fmt.Errorf("failed to read labels: %w", err)
	}
	return labels, nil
}

// openIDX opens path, transparently gunzipping ".gz" files.
func openIDX(path string) (io.ReadCloser, error) {
	//nolint:gosec // G304: dataset directory comes from configuration
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(path, ".gz") {
		return readCloser{bufio.NewReader(f), f}, nil
	}
	gz, err := gzip.NewReader(bufio.NewReader(f))
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("gzip %s: %w", path, err)
	}
	return readCloser{gz, closers{gz, f}}, nil
}

type readCloser struct {
	io.Reader
	io.Closer
}

type closers []io.Closer

func (c closers) Close() error {
	var errs []error
	for _, cl := range c {
		errs = append(errs, cl.Close())
	}
	return errors.Join(errs...)
}

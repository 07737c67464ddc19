package onnx

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Sentinel errors.
var (
	// ErrExternalData reports a malformed, unsafe or unreadable external
	// data reference.
	ErrExternalData = errors.New("onnx: external data")

	// ErrUnsupportedOp reports a node the executor cannot run.
	ErrUnsupportedOp = errors.New("onnx: unsupported operator")
)

// graphTensors returns the initializers of g and the tensors held by its
// node attributes, subgraphs included.
func graphTensors(g *GraphProto) []*TensorProto {
	var out []*TensorProto
	for i := range g.Initializers {
		out = append(out, &g.Initializers[i])
	}
	for i := range g.Nodes {
		for j := range g.Nodes[i].Attributes {
			a := &g.Nodes[i].Attributes[j]
			if a.T != nil {
				out = append(out, a.T)
			}
			for k := range a.Tensors {
				out = append(out, &a.Tensors[k])
			}
			if a.G != nil {
				out = append(out, graphTensors(a.G)...)
			}
			for k := range a.Graphs {
				out = append(out, graphTensors(&a.Graphs[k])...)
			}
		}
	}
	return out
}

func isExternal(t *TensorProto) bool {
	return t.DataLocation == DataLocationExternal || len(t.ExternalData) > 0
}

// HasExternalData reports whether any tensor of m, initializer or
// attribute value, still refers to a side-car file.
func HasExternalData(m *ModelProto) bool {
	for _, t := range graphTensors(m.Graph) {
		if isExternal(t) {
			return true
		}
	}
	return false
}

// LoadExternalData reads every externally stored tensor of m into RawData
// and clears its external references. Locations are resolved relative to
// baseDir; absolute paths and paths leaving baseDir are rejected.
func LoadExternalData(m *ModelProto, baseDir string) error {
	files := make(map[string][]byte)

	for _, t := range graphTensors(m.Graph) {
		if !isExternal(t) {
			continue
		}

		ref, err := parseExternalRef(t)
		if err != nil {
			return err
		}
		data, ok := files[ref.location]
		if !ok {
			data, err = os.ReadFile(filepath.Join(baseDir, ref.location))
			if err != nil {
				return fmt.Errorf("%w: tensor %q: %w", ErrExternalData, t.Name, err)
			}
			files[ref.location] = data
		}

		length := ref.length
		if length < 0 {
			length = int64(len(data)) - ref.offset
		}
		if ref.offset > int64(len(data)) || length < 0 || ref.offset+length > int64(len(data)) {
			return fmt.Errorf("%w: tensor %q: range [%d, %d) outside %s (%d bytes)",
				ErrExternalData, t.Name, ref.offset, ref.offset+length, ref.location, len(data))
		}

		t.RawData = append([]byte(nil), data[ref.offset:ref.offset+length]...)
		t.ExternalData = nil
		t.DataLocation = DataLocationDefault
	}
	return nil
}

// Merge reads the model at src together with any side-car data and writes
// it to dst as a single self-contained file.
func Merge(src, dst string) error {
	m, err := ReadFile(src)
	if err != nil {
		return err
	}
	if err := LoadExternalData(m, filepath.Dir(src)); err != nil {
		return err
	}
	if HasExternalData(m) {
		return fmt.Errorf("%w: references remain after loading %s", ErrExternalData, src)
	}
	return WriteFile(dst, m)
}

type externalRef struct {
	location string
	offset   int64
	length   int64 // -1 means to end of file
}

func parseExternalRef(t *TensorProto) (externalRef, error) {
	ref := externalRef{length: -1}
	for _, e := range t.ExternalData {
		switch e.Key {
		case ExternalLocation:
			ref.location = e.Value
		case ExternalOffset, ExternalLength:
			v, err := strconv.ParseInt(e.Value, 10, 64)
			if err != nil || v < 0 {
				return ref, fmt.Errorf("%w: tensor %q: bad %s %q", ErrExternalData, t.Name, e.Key, e.Value)
			}
			if e.Key == ExternalOffset {
				ref.offset = v
			} else {
				ref.length = v
			}
		}
	}
	if err := checkLocation(ref.location); err != nil {
		return ref, fmt.Errorf("tensor %q: %w", t.Name, err)
	}
	return ref, nil
}

// checkLocation rejects locations that could read outside the model's
// directory.
func checkLocation(location string) error {
	if location == "" {
		return fmt.Errorf("%w: empty location", ErrExternalData)
	}
	if filepath.IsAbs(location) || strings.HasPrefix(location, "/") || filepath.VolumeName(location) != "" {
		return fmt.Errorf("%w: absolute location %q", ErrExternalData, location)
	}
	clean := filepath.Clean(location)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%w: location %q escapes the model directory", ErrExternalData, location)
	}
	return nil
}

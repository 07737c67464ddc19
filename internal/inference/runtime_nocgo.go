//go:build !cgo

package inference

import "errors"

var errNoCgo = errors.New("the ort engine requires a cgo build")

func openRuntime(string, string) (Classifier, error) {
	return nil, errNoCgo
}

// Package tensor provides the dense CPU tensor used by the digits model,
// trainer and exporters.
//
// A RawTensor is a row-major byte buffer tagged with a Shape and a DataType.
// Only float32 (activations, weights) and int32 (class labels) are needed.
package tensor

// Package onnx exports the digit classifier as an ONNX graph and runs such
// graphs on the CPU.
//
// The package covers the parts of the format the classifier needs:
//
//   - a protobuf codec for ModelProto built on protowire
//   - Build/Export for the Flatten, Gemm, Relu, Gemm graph at opset 17
//   - external data: writing a side-car file, resolving it, and Merge,
//     which folds a model and its side-car into a single file
//   - Compile, a small executor backed by the operators registry
package onnx

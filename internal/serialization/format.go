package serialization

import (
	"crypto/sha256"
	"time"
)

// Format constants.
const (
	MagicBytes        = "BORN"
	FormatVersion     = 1    // v1: Basic format without checksum
	FormatVersionV2   = 2    // v2: With SHA-256 checksum
	HeaderAlignment   = 64   // Tensor data starts on a 64-byte boundary
	FixedHeaderSizeV2 = 64   // v2 fixed header size (0x40 bytes)
	FixedHeaderSizeV1 = 20   // magic + version + flags + header size
	ChecksumSize      = 32   // SHA-256 checksum size (32 bytes)
	ChecksumOffsetV2  = 0x20 // Checksum offset in v2 fixed header
)

// Data type names stored in the JSON header, as produced by
// tensor.DataType.String.
const (
	DTypeFloat32 = "float32"
	DTypeInt32   = "int32"
)

// Flags for the .born format.
const (
	FlagHasOptimizer uint32 = 1 << 1 // optimizer state included
	FlagHasMetadata  uint32 = 1 << 2 // custom metadata included
)

// Header represents the JSON header in a .born file.
type Header struct {
	FormatVersion  int               `json:"format_version"`
	Producer       string            `json:"producer"`   // Tool and version that wrote the file
	ModelType      string            `json:"model_type"` // e.g. "mnist-mlp"
	CreatedAt      time.Time         `json:"created_at"`
	Tensors        []TensorMeta      `json:"tensors"`
	Metadata       map[string]string `json:"metadata"`
	CheckpointMeta *CheckpointMeta   `json:"checkpoint,omitempty"`
}

// CheckpointMeta contains training state for resumable checkpoints.
type CheckpointMeta struct {
	IsCheckpoint    bool           `json:"is_checkpoint"`
	Epoch           int            `json:"epoch"`
	Step            int64          `json:"step"`
	Loss            float64        `json:"loss"`
	OptimizerType   string         `json:"optimizer_type"`
	OptimizerConfig map[string]any `json:"optimizer_config"`
	TrainingMeta    map[string]any `json:"training_meta"`
}

// TensorMeta describes a tensor in the .born file.
type TensorMeta struct {
	Name   string `json:"name"`   // e.g. "1.weight"
	DType  string `json:"dtype"`  // "float32" or "int32"
	Shape  []int  `json:"shape"`
	Offset int64  `json:"offset"` // Bytes from the start of the data section
	Size   int64  `json:"size"`   // Bytes
}

// ComputeChecksum computes the SHA-256 checksum of data.
func ComputeChecksum(data []byte) [32]byte {
	return sha256.Sum256(data)
}

func alignedDataOffset(fixed, headerSize int64) int64 {
	pos := fixed + headerSize
	return pos + (HeaderAlignment-pos%HeaderAlignment)%HeaderAlignment
}

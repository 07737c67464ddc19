// Package serialization implements the .born file format used for digits
// checkpoints.
//
// Version 2 layout (the only version written):
//
//	0x00  [4]  magic "BORN"
//	0x04  [4]  format version (uint32 LE)
//	0x08  [4]  flags (uint32 LE)
//	0x0C  [4]  reserved
//	0x10  [8]  JSON header size (uint64 LE)
//	0x18  [8]  tensor data size (uint64 LE)
//	0x20  [32] SHA-256 of the tensor data
//	0x40       JSON header, zero padding to a 64-byte boundary, tensor data
//
// Version 1 files (magic, version, flags, header size, header, padding,
// data; no checksum) are still readable.
//
// Tensors are stored in sorted-name order so the same state dict always
// produces the same data section.
package serialization

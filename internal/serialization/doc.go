// Package serialization writes checkpoints in the SafeTensors format and
// provides the integrity helpers shared by checkpoint and artifact I/O.
//
//	Format Structure:
//	  [8 bytes: Header Size (uint64 LE)]
//	  [Header: JSON, tensor name -> {dtype, shape, data_offsets}, plus __metadata__]
//	  [Tensor data: raw little-endian bytes, in sorted name order]
//
// Example usage:
//
//	err := serialization.WriteSafeTensors("mobilefacenet.safetensors", model.StateDict(),
//	    map[string]string{"format": "pt"})
//
//	sum, err := serialization.ChecksumFile("MobileFaceNet.onnx")
package serialization

// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor exposes the tensor types the face embedding network
// computes with.
//
// Tensors are float32 on the CPU. Float16 is a storage type: checkpoints and
// exported weights may hold it, kernels convert to float32.
//
// Example:
//
//	backend := cpu.New()
//	x := tensor.Zeros[float32](tensor.Shape{1, 3, 112, 112}, backend)
//	y, err := model.Embed(x)
package tensor

import (
	"math/rand"

	"github.com/born-ml/facenet/internal/tensor"
)

// DType is a constraint for element types of a typed Tensor.
type DType = tensor.DType

// DataType identifies the element type of a RawTensor.
type DataType = tensor.DataType

// Data type constants.
const (
	Float32 DataType = tensor.Float32
	Float16 DataType = tensor.Float16
	Int64   DataType = tensor.Int64
)

// Device represents where tensor data resides.
type Device = tensor.Device

// CPU is the only device.
const CPU Device = tensor.CPU

// Shape lists tensor dimensions, e.g. Shape{1, 3, 112, 112}.
type Shape = tensor.Shape

// RawTensor is an untyped, contiguous, row-major buffer.
type RawTensor = tensor.RawTensor

// Backend implements the kernels the network needs.
type Backend = tensor.Backend

// ConvParams configures Backend.Conv2D.
type ConvParams = tensor.ConvParams

// Tensor is a typed view over a RawTensor bound to a backend.
type Tensor[T DType, B Backend] = tensor.Tensor[T, B]

// Zeros creates a tensor filled with zeros.
func Zeros[T DType, B Backend](shape Shape, b B) *Tensor[T, B] {
	return tensor.Zeros[T, B](shape, b)
}

// Full creates a tensor filled with value.
func Full[T DType, B Backend](shape Shape, value T, b B) *Tensor[T, B] {
	return tensor.Full[T, B](shape, value, b)
}

// Rand creates a float32 tensor with values uniform in [0, 1).
func Rand[B Backend](shape Shape, rng *rand.Rand, b B) *Tensor[float32, B] {
	return tensor.Rand(shape, rng, b)
}

// Randn creates a float32 tensor with values from N(0, 1).
func Randn[B Backend](shape Shape, rng *rand.Rand, b B) *Tensor[float32, B] {
	return tensor.Randn(shape, rng, b)
}

// FromSlice copies data into a new tensor.
func FromSlice[T DType, B Backend](data []T, shape Shape, b B) (*Tensor[T, B], error) {
	return tensor.FromSlice[T, B](data, shape, b)
}

// New wraps raw for backend b.
func New[T DType, B Backend](raw *RawTensor, b B) *Tensor[T, B] {
	return tensor.New[T, B](raw, b)
}

// NewRaw allocates a zeroed RawTensor.
func NewRaw(shape Shape, dtype DataType, device Device) (*RawTensor, error) {
	return tensor.NewRaw(shape, dtype, device)
}

// RawFromFloat32 copies values into a new Float32 RawTensor.
func RawFromFloat32(values []float32, shape Shape, device Device) (*RawTensor, error) {
	return tensor.RawFromFloat32(values, shape, device)
}

// Cast converts x to dtype.
func Cast(x *RawTensor, dtype DataType) (*RawTensor, error) {
	return tensor.Cast(x, dtype)
}

// BroadcastShapes returns the NumPy-style broadcast of a and b.
func BroadcastShapes(a, b Shape) (Shape, bool, error) {
	return tensor.BroadcastShapes(a, b)
}

// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package nn exposes the layers MobileFaceNet is assembled from, for
// building related convolutional embedders.
//
// Layers are inference-only and follow PyTorch state dict naming.
//
// Example:
//
//	backend := cpu.New()
//	rng := rand.New(rand.NewSource(0))
//	block := nn.NewSequential[*cpu.Backend](
//	    nn.NewConv2D(nn.SquareConv(3, 64, 3, 2, 1, 1), backend, rng),
//	    nn.NewBatchNorm(64, backend),
//	    nn.NewPReLU(64, backend),
//	)
//	y := block.Forward(x)
package nn

import (
	"math/rand"

	"github.com/born-ml/facenet/internal/nn"
	"github.com/born-ml/facenet/tensor"
)

// Module is implemented by every layer and container.
type Module[B tensor.Backend] = nn.Module[B]

// Parameter is a named learnable tensor.
type Parameter[B tensor.Backend] = nn.Parameter[B]

// Conv2DConfig describes a 2D convolution.
type Conv2DConfig = nn.Conv2DConfig

// Layer types.
type (
	Conv2D[B tensor.Backend]     = nn.Conv2D[B]
	BatchNorm[B tensor.Backend]  = nn.BatchNorm[B]
	PReLU[B tensor.Backend]      = nn.PReLU[B]
	Linear[B tensor.Backend]     = nn.Linear[B]
	Flatten[B tensor.Backend]    = nn.Flatten[B]
	Sequential[B tensor.Backend] = nn.Sequential[B]
)

// Errors returned by LoadStateDict.
var (
	ErrMissingParameter    = nn.ErrMissingParameter
	ErrUnexpectedParameter = nn.ErrUnexpectedParameter
	ErrShapeMismatch       = nn.ErrShapeMismatch
)

// SquareConv returns a bias-free config with square kernel, stride and padding.
func SquareConv(in, out, kernel, stride, padding, groups int) Conv2DConfig {
	return nn.SquareConv(in, out, kernel, stride, padding, groups)
}

// NewConv2D creates a convolution with Kaiming-uniform weights.
func NewConv2D[B tensor.Backend](cfg Conv2DConfig, backend B, rng *rand.Rand) *Conv2D[B] {
	return nn.NewConv2D(cfg, backend, rng)
}

// NewBatchNorm creates a batch normalization layer with identity statistics.
func NewBatchNorm[B tensor.Backend](numFeatures int, backend B) *BatchNorm[B] {
	return nn.NewBatchNorm(numFeatures, backend)
}

// NewPReLU creates a PReLU with numParameters slopes initialized to 0.25.
func NewPReLU[B tensor.Backend](numParameters int, backend B) *PReLU[B] {
	return nn.NewPReLU(numParameters, backend)
}

// NewLinear creates a fully connected layer.
func NewLinear[B tensor.Backend](inFeatures, outFeatures int, bias bool, backend B, rng *rand.Rand) *Linear[B] {
	return nn.NewLinear(inFeatures, outFeatures, bias, backend, rng)
}

// NewFlatten creates a layer reshaping [N, ...] to [N, prod(...)].
func NewFlatten[B tensor.Backend](backend B) *Flatten[B] {
	return nn.NewFlatten(backend)
}

// NewSequential chains modules.
func NewSequential[B tensor.Backend](modules ...Module[B]) *Sequential[B] {
	return nn.NewSequential[B](modules...)
}

// CountParameters returns the number of scalars in params.
func CountParameters[B tensor.Backend](params []*Parameter[B]) int {
	return nn.CountParameters(params)
}

// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package cpu provides the CPU compute backend.
//
// Convolutions run as im2col plus a gonum SGEMM, split over goroutines per
// (sample, group) tile.
package cpu

import (
	internalcpu "github.com/born-ml/facenet/internal/backend/cpu"
	"github.com/born-ml/facenet/tensor"
)

// Backend is the CPU implementation of tensor.Backend.
type Backend = internalcpu.CPUBackend

var _ tensor.Backend = (*Backend)(nil)

// New creates a CPU backend.
//
// Example:
//
//	backend := cpu.New()
//	model, err := facenet.NewModel(facenet.MobileFaceNet(128), backend, rand.New(rand.NewSource(0)))
func New() *Backend {
	return internalcpu.New()
}

// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package facenet

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/born-ml/facenet/internal/nn"
	"github.com/born-ml/facenet/internal/tensor"
	"github.com/born-ml/facenet/internal/trace"
)

// ErrInputShape is returned by Embed for input that is not [N, 3, 112, 112]
// (or the topology's declared input).
var ErrInputShape = errors.New("facenet: input shape mismatch")

// InputName and OutputName are the value names used when tracing.
const (
	InputName  = "input"
	OutputName = "embedding"
)

// Model is a face embedding network built from a Topology.
//
// The structure is fixed at construction; only parameter values change,
// through LoadStateDict.
type Model[B tensor.Backend] struct {
	topology Topology
	net      *nn.Sequential[B]
	backend  B
}

// NewModel validates topology and builds its stages with parameters drawn
// from rng.
//
// Example:
//
//	backend := cpu.New()
//	model, err := facenet.NewModel(facenet.MobileFaceNet(128), backend, rand.New(rand.NewSource(0)))
//	out := model.Forward(x) // [N, 128]
func NewModel[B tensor.Backend](topology Topology, backend B, rng *rand.Rand) (*Model[B], error) {
	if err := topology.Validate(); err != nil {
		return nil, err
	}
	if rng == nil {
		return nil, fmt.Errorf("facenet: nil random source")
	}

	net := nn.NewNamedSequential[B]()
	for _, s := range topology.Stages {
		net.AddNamed(s.Name, newStage(s, backend, rng))
	}
	return &Model[B]{topology: topology, net: net, backend: backend}, nil
}

// Topology returns the stage list the model was built from.
func (m *Model[B]) Topology() Topology {
	return m.topology
}

// Backend returns the compute backend.
func (m *Model[B]) Backend() B {
	return m.backend
}

// Forward computes embeddings for a batch of images [N, C, H, W].
//
// Like every layer, Forward panics on a shape violation. Use Embed for
// input that has not been validated.
func (m *Model[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	return m.net.Forward(input)
}

// Embed validates the input shape and runs Forward.
//
// Errors wrap ErrInputShape. Input that passes the check reaches every
// layer with the shape it was built for, so a panic from Forward is a bug
// and is not converted.
func (m *Model[B]) Embed(input *tensor.Tensor[float32, B]) (*tensor.Tensor[float32, B], error) {
	shape := input.Shape()
	if len(shape) != 4 || shape[0] <= 0 || !shape.Equal(m.topology.InputShape(shape[0])) {
		return nil, fmt.Errorf("%w: got %v, expected [N %d %d %d]", ErrInputShape, shape,
			m.topology.InputChannels, m.topology.InputHeight, m.topology.InputWidth)
	}
	return m.Forward(input), nil
}

// Parameters returns every learnable parameter.
func (m *Model[B]) Parameters() []*nn.Parameter[B] {
	return m.net.Parameters()
}

// NumParameters returns the number of learnable scalars.
func (m *Model[B]) NumParameters() int {
	return nn.CountParameters(m.net.Parameters())
}

// StateDict returns all parameters and buffers keyed PyTorch-style,
// e.g. "conv4.model.0.conv2.bn.running_var".
func (m *Model[B]) StateDict() map[string]*tensor.RawTensor {
	return m.net.StateDict()
}

// LoadStateDict replaces every parameter and buffer.
//
// Loading is strict and atomic: missing keys (other than
// num_batches_tracked), unexpected keys and shape mismatches all fail, and
// the model is left unchanged.
func (m *Model[B]) LoadStateDict(stateDict map[string]*tensor.RawTensor) error {
	if err := m.net.LoadStateDict(stateDict); err != nil {
		return fmt.Errorf("facenet: load state dict: %w", err)
	}
	return nil
}

// Trace records the forward pass for a single image as a static graph.
//
// Initializers share storage with the model parameters.
func (m *Model[B]) Trace() *trace.Graph {
	g := trace.New(InputName, m.topology.InputShape(1))
	out := m.net.Trace(g, g.Input)
	g.SetOutput(out)
	return g
}

// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package facenet

import (
	"fmt"

	"github.com/born-ml/facenet/internal/tensor"
)

// StageKind identifies the structure of a topology stage.
type StageKind int

// Stage kinds.
const (
	// Expansion is Conv2D + BatchNorm2D + PReLU.
	Expansion StageKind = iota
	// Projection is Conv2D + BatchNorm2D without a nonlinearity.
	Projection
	// Bottleneck is Expansion 1x1 -> depthwise Expansion kxk -> Projection 1x1,
	// with a shortcut add when Residual is set.
	Bottleneck
	// Repeated stacks Repeat residual Bottlenecks of constant width.
	Repeated
	// Flatten turns [N, C, 1, 1] into [N, C].
	Flatten
	// Dense is a Linear layer without bias.
	Dense
	// Norm is BatchNorm1D over the embedding.
	Norm
)

// String returns the kind name.
func (k StageKind) String() string {
	switch k {
	case Expansion:
		return "Expansion"
	case Projection:
		return "Projection"
	case Bottleneck:
		return "Bottleneck"
	case Repeated:
		return "Repeated"
	case Flatten:
		return "Flatten"
	case Dense:
		return "Dense"
	case Norm:
		return "Norm"
	default:
		return fmt.Sprintf("StageKind(%d)", int(k))
	}
}

// StageSpec describes one stage of the network.
//
// Convolutional stages use every field; Flatten ignores them all; Dense and
// Norm use In and Out only.
type StageSpec struct {
	Name string // State dict prefix, e.g. "conv4"
	Kind StageKind

	In, Out int // Channels (or features for Dense / Norm)

	Kernel  int
	Stride  int
	Padding int
	Groups  int // Expansion / Projection only

	Width    int  // Internal width of Bottleneck / Repeated
	Residual bool // Bottleneck only
	Repeat   int  // Repeated only
}

// Topology is the ordered stage list of a face embedding network together
// with the input it expects.
type Topology struct {
	InputChannels int
	InputHeight   int
	InputWidth    int
	EmbeddingSize int
	Stages        []StageSpec
}

// Input geometry of MobileFaceNet.
const (
	InputChannels = 3
	InputSize     = 112
	EmbeddingSize = 128
)

// MobileFaceNet returns the MobileFaceNet topology producing embeddingSize
// values per 112x112 RGB image.
//
// Stage names follow the PyTorch reference so its checkpoints load as is.
func MobileFaceNet(embeddingSize int) Topology {
	return Topology{
		InputChannels: InputChannels,
		InputHeight:   InputSize,
		InputWidth:    InputSize,
		EmbeddingSize: embeddingSize,
		Stages: []StageSpec{
			{Name: "conv1", Kind: Expansion, In: 3, Out: 64, Kernel: 3, Stride: 2, Padding: 1, Groups: 1},
			{Name: "conv2", Kind: Expansion, In: 64, Out: 64, Kernel: 3, Stride: 1, Padding: 1, Groups: 64},
			{Name: "conv3", Kind: Bottleneck, In: 64, Out: 64, Kernel: 3, Stride: 2, Padding: 1, Width: 128},
			{Name: "conv4", Kind: Repeated, In: 64, Out: 64, Kernel: 3, Stride: 1, Padding: 1, Width: 128, Repeat: 4},
			{Name: "conv5", Kind: Bottleneck, In: 64, Out: 128, Kernel: 3, Stride: 2, Padding: 1, Width: 256},
			{Name: "conv6", Kind: Repeated, In: 128, Out: 128, Kernel: 3, Stride: 1, Padding: 1, Width: 256, Repeat: 6},
			{Name: "conv7", Kind: Bottleneck, In: 128, Out: 128, Kernel: 3, Stride: 2, Padding: 1, Width: 512},
			{Name: "conv8", Kind: Repeated, In: 128, Out: 128, Kernel: 3, Stride: 1, Padding: 1, Width: 256, Repeat: 2},
			{Name: "conv9", Kind: Expansion, In: 128, Out: 512, Kernel: 1, Stride: 1, Padding: 0, Groups: 1},
			{Name: "conv10", Kind: Projection, In: 512, Out: 512, Kernel: 7, Stride: 1, Padding: 0, Groups: 512},
			{Name: "flatten", Kind: Flatten},
			{Name: "linear", Kind: Dense, In: 512, Out: embeddingSize},
			{Name: "bn", Kind: Norm, In: embeddingSize, Out: embeddingSize},
		},
	}
}

// InputShape returns the expected input shape for a batch.
func (t Topology) InputShape(batch int) tensor.Shape {
	return tensor.Shape{batch, t.InputChannels, t.InputHeight, t.InputWidth}
}

// OutputShape returns the embedding shape for a batch.
func (t Topology) OutputShape(batch int) tensor.Shape {
	return tensor.Shape{batch, t.EmbeddingSize}
}

// Validate checks that consecutive stages fit together.
func (t Topology) Validate() error {
	_, err := t.Shapes(1)
	return err
}

// Shapes returns the output shape of every stage for a batch, checking
// the chaining invariants along the way:
//   - each stage consumes the channels the previous one produced;
//   - residual bottlenecks preserve channels and spatial size;
//   - Flatten sees a 1x1 spatial extent;
//   - the final width equals EmbeddingSize.
func (t Topology) Shapes(batch int) ([]tensor.Shape, error) {
	if batch <= 0 {
		return nil, fmt.Errorf("facenet: invalid batch size %d", batch)
	}
	if t.InputChannels <= 0 || t.InputHeight <= 0 || t.InputWidth <= 0 {
		return nil, fmt.Errorf("facenet: invalid input %dx%dx%d", t.InputChannels, t.InputHeight, t.InputWidth)
	}
	if len(t.Stages) == 0 {
		return nil, fmt.Errorf("facenet: topology has no stages")
	}

	c, h, w := t.InputChannels, t.InputHeight, t.InputWidth
	flat := false
	seen := make(map[string]bool, len(t.Stages))
	shapes := make([]tensor.Shape, 0, len(t.Stages))

	for i, s := range t.Stages {
		if s.Name == "" || seen[s.Name] {
			return nil, fmt.Errorf("facenet: stage %d: empty or duplicate name %q", i, s.Name)
		}
		seen[s.Name] = true

		fail := func(format string, args ...any) error {
			return fmt.Errorf("facenet: stage %s (%s): %s", s.Name, s.Kind, fmt.Sprintf(format, args...))
		}

		switch s.Kind {
		case Expansion, Projection, Bottleneck, Repeated:
			if flat {
				return nil, fail("convolution after flatten")
			}
			if s.In != c {
				return nil, fail("expects %d input channels, previous stage produces %d", s.In, c)
			}
			if s.Out <= 0 || s.Kernel <= 0 || s.Stride <= 0 || s.Padding < 0 {
				return nil, fail("invalid geometry out=%d kernel=%d stride=%d padding=%d", s.Out, s.Kernel, s.Stride, s.Padding)
			}
			oh := (h+2*s.Padding-s.Kernel)/s.Stride + 1
			ow := (w+2*s.Padding-s.Kernel)/s.Stride + 1
			if oh <= 0 || ow <= 0 {
				return nil, fail("kernel %d does not fit %dx%d input", s.Kernel, h, w)
			}

			switch s.Kind {
			case Expansion, Projection:
				if s.Groups <= 0 || s.In%s.Groups != 0 || s.Out%s.Groups != 0 {
					return nil, fail("groups %d must divide %d and %d", s.Groups, s.In, s.Out)
				}
			case Bottleneck, Repeated:
				if s.Width <= 0 {
					return nil, fail("invalid internal width %d", s.Width)
				}
				residual := s.Residual || s.Kind == Repeated
				if residual && (s.In != s.Out || oh != h || ow != w) {
					return nil, fail("residual block must preserve shape, got %dx%dx%d -> %dx%dx%d",
						s.In, h, w, s.Out, oh, ow)
				}
				if s.Kind == Repeated && s.Repeat <= 0 {
					return nil, fail("invalid repeat count %d", s.Repeat)
				}
			}
			c, h, w = s.Out, oh, ow
			shapes = append(shapes, tensor.Shape{batch, c, h, w})

		case Flatten:
			if flat {
				return nil, fail("input is already flat")
			}
			if h != 1 || w != 1 {
				return nil, fail("spatial extent must be 1x1, got %dx%d", h, w)
			}
			flat = true
			shapes = append(shapes, tensor.Shape{batch, c})

		case Dense, Norm:
			if !flat {
				return nil, fail("requires flattened input")
			}
			if s.In != c {
				return nil, fail("expects %d features, previous stage produces %d", s.In, c)
			}
			if s.Kind == Norm && s.Out != s.In {
				return nil, fail("normalization cannot change width %d -> %d", s.In, s.Out)
			}
			if s.Out <= 0 {
				return nil, fail("invalid output width %d", s.Out)
			}
			c = s.Out
			shapes = append(shapes, tensor.Shape{batch, c})

		default:
			return nil, fail("unknown stage kind")
		}
	}

	if !flat || c != t.EmbeddingSize {
		return nil, fmt.Errorf("facenet: topology ends with %v, expected [%d %d]",
			shapes[len(shapes)-1], batch, t.EmbeddingSize)
	}
	return shapes, nil
}

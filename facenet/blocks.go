// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package facenet

import (
	"fmt"
	"math/rand"

	"github.com/born-ml/facenet/internal/nn"
	"github.com/born-ml/facenet/internal/tensor"
	"github.com/born-ml/facenet/internal/trace"
)

// newConvBlock builds conv -> bn [-> prelu]. Keys: conv.weight, bn.*, prelu.weight.
func newConvBlock[B tensor.Backend](cfg nn.Conv2DConfig, activate bool, backend B, rng *rand.Rand) *nn.Sequential[B] {
	block := nn.NewNamedSequential(
		nn.Named[B]{Name: "conv", Module: nn.NewConv2D(cfg, backend, rng)},
		nn.Named[B]{Name: "bn", Module: nn.NewBatchNorm(cfg.OutChannels, backend)},
	)
	if activate {
		block.AddNamed("prelu", nn.NewPReLU(cfg.OutChannels, backend))
	}
	return block
}

// BottleneckBlock is the inverted residual unit of MobileFaceNet:
// 1x1 expansion to the internal width, kxk depthwise convolution, and a
// linear 1x1 projection, plus the input when residual.
type BottleneckBlock[B tensor.Backend] struct {
	body     *nn.Sequential[B]
	residual bool
}

// NewBottleneck builds a bottleneck block.
//
// Panics if residual is set and the block would change the tensor shape.
func NewBottleneck[B tensor.Backend](in, out, width, kernel, stride, padding int, residual bool, backend B, rng *rand.Rand) *BottleneckBlock[B] {
	if residual && (in != out || stride != 1 || kernel != 2*padding+1) {
		panic(fmt.Sprintf("facenet: residual bottleneck must preserve shape (in=%d out=%d kernel=%d stride=%d padding=%d)",
			in, out, kernel, stride, padding))
	}
	body := nn.NewNamedSequential(
		nn.Named[B]{Name: "conv1", Module: newConvBlock(nn.SquareConv(in, width, 1, 1, 0, 1), true, backend, rng)},
		nn.Named[B]{Name: "conv2", Module: newConvBlock(nn.SquareConv(width, width, kernel, stride, padding, width), true, backend, rng)},
		nn.Named[B]{Name: "conv3", Module: newConvBlock(nn.SquareConv(width, out, 1, 1, 0, 1), false, backend, rng)},
	)
	return &BottleneckBlock[B]{body: body, residual: residual}
}

// Forward runs the block.
func (b *BottleneckBlock[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	out := b.body.Forward(input)
	if b.residual {
		out = out.Add(input)
	}
	return out
}

// Parameters returns the parameters of the three convolution blocks.
func (b *BottleneckBlock[B]) Parameters() []*nn.Parameter[B] {
	return b.body.Parameters()
}

// StateDict returns conv1.*, conv2.* and conv3.* entries.
func (b *BottleneckBlock[B]) StateDict() map[string]*tensor.RawTensor {
	return b.body.StateDict()
}

// LoadStateDict loads all three convolution blocks at once.
func (b *BottleneckBlock[B]) LoadStateDict(stateDict map[string]*tensor.RawTensor) error {
	return b.body.LoadStateDict(stateDict)
}

// Trace records the block, ending with an Add node when residual.
func (b *BottleneckBlock[B]) Trace(g *trace.Graph, input trace.Value) trace.Value {
	out := b.body.Trace(g, input)
	if b.residual {
		out = g.AddNode("add", trace.OpAdd, []string{out.Name, input.Name}, nil, out.Shape)
	}
	return out
}

// Residual reports whether the block adds its input to its output.
func (b *BottleneckBlock[B]) Residual() bool {
	return b.residual
}

// newStage builds the module for one stage spec.
func newStage[B tensor.Backend](s StageSpec, backend B, rng *rand.Rand) nn.Module[B] {
	switch s.Kind {
	case Expansion, Projection:
		cfg := nn.SquareConv(s.In, s.Out, s.Kernel, s.Stride, s.Padding, s.Groups)
		return newConvBlock(cfg, s.Kind == Expansion, backend, rng)
	case Bottleneck:
		return NewBottleneck(s.In, s.Out, s.Width, s.Kernel, s.Stride, s.Padding, s.Residual, backend, rng)
	case Repeated:
		blocks := nn.NewSequential[B]()
		for i := 0; i < s.Repeat; i++ {
			blocks.Add(NewBottleneck(s.In, s.Out, s.Width, s.Kernel, s.Stride, s.Padding, true, backend, rng))
		}
		return nn.NewNamedSequential(nn.Named[B]{Name: "model", Module: blocks})
	case Flatten:
		return nn.NewFlatten(backend)
	case Dense:
		return nn.NewLinear(s.In, s.Out, false, backend, rng)
	case Norm:
		return nn.NewBatchNorm(s.Out, backend)
	default:
		panic(fmt.Sprintf("facenet: unknown stage kind %v", s.Kind))
	}
}

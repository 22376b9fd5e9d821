// Package nn implements the inference layers of convolutional networks.
//
// This package provides building blocks for constructing networks:
//   - Module interface: Base interface for all NN components
//   - Parameter: Named learnable tensor
//   - Conv2D: Grouped 2D convolution
//   - BatchNorm: Batch normalization with running statistics
//   - PReLU: Parametric ReLU with per-channel slopes
//   - Linear: Fully connected layer
//   - Flatten, Sequential: Shape glue and containers
//
// Design inspired by PyTorch's nn.Module but adapted for Go generics.
// State dict keys follow PyTorch naming, so checkpoints exported from
// PyTorch load without renaming.
package nn

import (
	"github.com/born-ml/facenet/internal/tensor"
	"github.com/born-ml/facenet/internal/trace"
)

// Module is the base interface for all neural network components.
//
// Modules can be composed to build complex architectures:
//
//	block := nn.NewSequential[Backend](
//	    nn.NewConv2D(cfg, backend, rng),
//	    nn.NewBatchNorm(64, backend),
//	    nn.NewPReLU(64, backend),
//	)
//
// Type parameter B must satisfy the tensor.Backend interface.
type Module[B tensor.Backend] interface {
	// Forward computes the output of the module given an input tensor.
	//
	// Forward panics if the input shape does not fit the module.
	Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B]

	// Parameters returns all learnable parameters of this module,
	// including those of nested modules.
	Parameters() []*Parameter[B]

	// StateDict returns the module's tensors keyed by PyTorch-style name.
	//
	// The returned tensors are the live storage of the module: copying into
	// them updates the module.
	StateDict() map[string]*tensor.RawTensor

	// LoadStateDict replaces the module's tensors with values from stateDict.
	//
	// Loading is strict and atomic: any missing, unexpected or mismatched
	// key fails the whole load and leaves the module unchanged.
	LoadStateDict(stateDict map[string]*tensor.RawTensor) error

	// Trace appends the module's operators to g, consuming input, and
	// returns the produced value.
	Trace(g *trace.Graph, input trace.Value) trace.Value
}

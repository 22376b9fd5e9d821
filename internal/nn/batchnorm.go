package nn

import (
	"fmt"

	"github.com/born-ml/facenet/internal/tensor"
	"github.com/born-ml/facenet/internal/trace"
)

// DefaultBatchNormEps matches PyTorch's BatchNorm default.
const DefaultBatchNormEps = 1e-5

// BatchNorm implements inference-mode batch normalization over axis 1.
//
// It serves as BatchNorm1d for [N, C] input and BatchNorm2d for
// [N, C, H, W] input:
//
//	y = (x - running_mean) / sqrt(running_var + eps) * weight + bias
//
// State dict keys: weight, bias, running_mean, running_var and
// num_batches_tracked (an int64 scalar that checkpoints may omit).
type BatchNorm[B tensor.Backend] struct {
	numFeatures int
	eps         float32

	weight *Parameter[B] // gamma [C]
	bias   *Parameter[B] // beta [C]

	runningMean       *tensor.Tensor[float32, B]
	runningVar        *tensor.Tensor[float32, B]
	numBatchesTracked *tensor.Tensor[int64, B]

	backend B
}

// NewBatchNorm creates a BatchNorm layer with identity statistics
// (weight 1, bias 0, mean 0, variance 1).
func NewBatchNorm[B tensor.Backend](numFeatures int, backend B) *BatchNorm[B] {
	if numFeatures <= 0 {
		panic(fmt.Sprintf("batchnorm: invalid num_features %d", numFeatures))
	}
	shape := tensor.Shape{numFeatures}
	return &BatchNorm[B]{
		numFeatures:       numFeatures,
		eps:               DefaultBatchNormEps,
		weight:            NewParameter("weight", Ones(shape, backend)),
		bias:              NewParameter("bias", Zeros(shape, backend)),
		runningMean:       Zeros(shape, backend),
		runningVar:        Ones(shape, backend),
		numBatchesTracked: tensor.Zeros[int64](tensor.Shape{}, backend),
		backend:           backend,
	}
}

// Forward normalizes input with the running statistics.
func (bn *BatchNorm[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	shape := input.Shape()
	if len(shape) != 2 && len(shape) != 4 {
		panic(fmt.Sprintf("batchnorm: expected [N,C] or [N,C,H,W] input, got %v", shape))
	}
	if shape[1] != bn.numFeatures {
		panic(fmt.Sprintf("batchnorm: input channels %d != expected %d", shape[1], bn.numFeatures))
	}

	out := bn.backend.BatchNorm(
		input.Raw(),
		bn.runningMean.Raw(),
		bn.runningVar.Raw(),
		bn.weight.Tensor().Raw(),
		bn.bias.Tensor().Raw(),
		bn.eps,
	)
	return tensor.New[float32, B](out, bn.backend)
}

// Parameters returns weight and bias. Running statistics are buffers.
func (bn *BatchNorm[B]) Parameters() []*Parameter[B] {
	return []*Parameter[B]{bn.weight, bn.bias}
}

// StateDict returns parameters and buffers.
func (bn *BatchNorm[B]) StateDict() map[string]*tensor.RawTensor {
	return map[string]*tensor.RawTensor{
		"weight":              bn.weight.Tensor().Raw(),
		"bias":                bn.bias.Tensor().Raw(),
		"running_mean":        bn.runningMean.Raw(),
		"running_var":         bn.runningVar.Raw(),
		"num_batches_tracked": bn.numBatchesTracked.Raw(),
	}
}

// LoadStateDict loads parameters and running statistics.
func (bn *BatchNorm[B]) LoadStateDict(stateDict map[string]*tensor.RawTensor) error {
	return LoadInto(bn.StateDict(), stateDict)
}

// Trace records a BatchNormalization node.
func (bn *BatchNorm[B]) Trace(g *trace.Graph, input trace.Value) trace.Value {
	inputs := []string{
		input.Name,
		g.AddInitializer("weight", bn.weight.Tensor().Raw()),
		g.AddInitializer("bias", bn.bias.Tensor().Raw()),
		g.AddInitializer("running_mean", bn.runningMean.Raw()),
		g.AddInitializer("running_var", bn.runningVar.Raw()),
	}
	attrs := trace.Attrs{"epsilon": bn.eps}
	return g.AddNode("", trace.OpBatchNorm, inputs, attrs, input.Shape)
}

// NumFeatures returns the channel count.
func (bn *BatchNorm[B]) NumFeatures() int {
	return bn.numFeatures
}

// Eps returns the variance epsilon.
func (bn *BatchNorm[B]) Eps() float32 {
	return bn.eps
}

// String returns a human-readable representation of the layer.
func (bn *BatchNorm[B]) String() string {
	return fmt.Sprintf("BatchNorm(%d, eps=%g)", bn.numFeatures, bn.eps)
}

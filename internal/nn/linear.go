package nn

import (
	"fmt"
	"math/rand"

	"github.com/born-ml/facenet/internal/tensor"
	"github.com/born-ml/facenet/internal/trace"
)

// Linear implements a fully connected layer: y = x @ W^T + b.
//
// Input shape: [batch_size, in_features]
// Output shape: [batch_size, out_features]
//
// Weight shape: [out_features, in_features]
// Bias shape: [out_features] (optional)
type Linear[B tensor.Backend] struct {
	inFeatures  int
	outFeatures int
	weight      *Parameter[B] // [out_features, in_features]
	bias        *Parameter[B] // [out_features] or nil
	backend     B
}

// NewLinear creates a Linear layer with Kaiming-uniform weights.
//
// Example:
//
//	// Embedding head without bias
//	head := nn.NewLinear(512, 128, false, backend, rng)
//	output := head.Forward(input) // [batch, 128]
func NewLinear[B tensor.Backend](inFeatures, outFeatures int, bias bool, backend B, rng *rand.Rand) *Linear[B] {
	if inFeatures <= 0 || outFeatures <= 0 {
		panic(fmt.Sprintf("linear: invalid features in=%d, out=%d", inFeatures, outFeatures))
	}

	l := &Linear[B]{
		inFeatures:  inFeatures,
		outFeatures: outFeatures,
		weight:      NewParameter("weight", KaimingUniform(inFeatures, tensor.Shape{outFeatures, inFeatures}, rng, backend)),
		backend:     backend,
	}
	if bias {
		l.bias = NewParameter("bias", KaimingUniform(inFeatures, tensor.Shape{outFeatures}, rng, backend))
	}
	return l
}

// Forward computes the affine transformation.
func (l *Linear[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	inputShape := input.Shape()
	if len(inputShape) != 2 {
		panic(fmt.Sprintf("Linear.Forward: expected 2D input [batch, features], got shape %v", inputShape))
	}
	if inputShape[1] != l.inFeatures {
		panic(fmt.Sprintf("Linear.Forward: expected input with %d features, got %d", l.inFeatures, inputShape[1]))
	}

	wT := l.backend.Transpose(l.weight.Tensor().Raw()) // [in_features, out_features]
	output := tensor.New[float32, B](l.backend.MatMul(input.Raw(), wT), l.backend)

	if l.bias != nil {
		output = output.Add(l.bias.Tensor().Reshape(1, l.outFeatures))
	}
	return output
}

// Parameters returns the weight and, when enabled, the bias.
func (l *Linear[B]) Parameters() []*Parameter[B] {
	if l.bias != nil {
		return []*Parameter[B]{l.weight, l.bias}
	}
	return []*Parameter[B]{l.weight}
}

// StateDict returns "weight" and optionally "bias".
func (l *Linear[B]) StateDict() map[string]*tensor.RawTensor {
	sd := map[string]*tensor.RawTensor{"weight": l.weight.Tensor().Raw()}
	if l.bias != nil {
		sd["bias"] = l.bias.Tensor().Raw()
	}
	return sd
}

// LoadStateDict loads weight and bias.
func (l *Linear[B]) LoadStateDict(stateDict map[string]*tensor.RawTensor) error {
	return LoadInto(l.StateDict(), stateDict)
}

// Trace records a Gemm node with transB=1, so the weight keeps its
// [out_features, in_features] layout.
func (l *Linear[B]) Trace(g *trace.Graph, input trace.Value) trace.Value {
	inputs := []string{input.Name, g.AddInitializer("weight", l.weight.Tensor().Raw())}
	if l.bias != nil {
		inputs = append(inputs, g.AddInitializer("bias", l.bias.Tensor().Raw()))
	}
	attrs := trace.Attrs{
		"alpha":  float32(1),
		"beta":   float32(1),
		"transB": int64(1),
	}
	return g.AddNode("", trace.OpGemm, inputs, attrs, tensor.Shape{input.Shape[0], l.outFeatures})
}

// Weight returns the weight parameter.
func (l *Linear[B]) Weight() *Parameter[B] {
	return l.weight
}

// Bias returns the bias parameter, or nil.
func (l *Linear[B]) Bias() *Parameter[B] {
	return l.bias
}

// InFeatures returns the number of input features.
func (l *Linear[B]) InFeatures() int {
	return l.inFeatures
}

// OutFeatures returns the number of output features.
func (l *Linear[B]) OutFeatures() int {
	return l.outFeatures
}

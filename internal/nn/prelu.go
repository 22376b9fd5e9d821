package nn

import (
	"fmt"

	"github.com/born-ml/facenet/internal/tensor"
	"github.com/born-ml/facenet/internal/trace"
)

// DefaultPReLUSlope is PyTorch's initial negative slope.
const DefaultPReLUSlope = 0.25

// PReLU is the parametric ReLU with one learnable slope per channel:
//
//	y = x        if x > 0
//	y = a_c * x  otherwise
type PReLU[B tensor.Backend] struct {
	numParameters int
	weight        *Parameter[B] // [C]
	backend       B
}

// NewPReLU creates a PReLU with numParameters slopes set to 0.25.
func NewPReLU[B tensor.Backend](numParameters int, backend B) *PReLU[B] {
	if numParameters <= 0 {
		panic(fmt.Sprintf("prelu: invalid num_parameters %d", numParameters))
	}
	return &PReLU[B]{
		numParameters: numParameters,
		weight:        NewParameter("weight", Full(tensor.Shape{numParameters}, DefaultPReLUSlope, backend)),
		backend:       backend,
	}
}

// Forward applies the activation.
func (p *PReLU[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	shape := input.Shape()
	if len(shape) < 2 {
		panic(fmt.Sprintf("prelu: expected at least 2D input, got %v", shape))
	}
	if p.numParameters != 1 && shape[1] != p.numParameters {
		panic(fmt.Sprintf("prelu: input channels %d != slopes %d", shape[1], p.numParameters))
	}
	return tensor.New[float32, B](p.backend.PReLU(input.Raw(), p.weight.Tensor().Raw()), p.backend)
}

// Parameters returns the slope vector.
func (p *PReLU[B]) Parameters() []*Parameter[B] {
	return []*Parameter[B]{p.weight}
}

// StateDict returns "weight".
func (p *PReLU[B]) StateDict() map[string]*tensor.RawTensor {
	return map[string]*tensor.RawTensor{"weight": p.weight.Tensor().Raw()}
}

// LoadStateDict loads the slopes.
func (p *PReLU[B]) LoadStateDict(stateDict map[string]*tensor.RawTensor) error {
	return LoadInto(p.StateDict(), stateDict)
}

// Trace records a PRelu node.
//
// ONNX PRelu broadcasts the slope unidirectionally from the right, so a
// per-channel slope for NCHW input is stored as [C, 1, 1]. The stored tensor
// is a view of the parameter and shares its data.
func (p *PReLU[B]) Trace(g *trace.Graph, input trace.Value) trace.Value {
	slope := p.weight.Tensor().Raw()
	if len(input.Shape) == 4 {
		view, err := tensor.Reshape(slope, tensor.Shape{p.numParameters, 1, 1})
		if err != nil {
			panic(fmt.Sprintf("prelu: %v", err))
		}
		slope = view
	}
	inputs := []string{input.Name, g.AddInitializer("weight", slope)}
	return g.AddNode("", trace.OpPRelu, inputs, nil, input.Shape)
}

// String returns a human-readable representation of the layer.
func (p *PReLU[B]) String() string {
	return fmt.Sprintf("PReLU(num_parameters=%d)", p.numParameters)
}

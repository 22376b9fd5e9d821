package nn

import (
	"fmt"

	"github.com/born-ml/facenet/internal/tensor"
	"github.com/born-ml/facenet/internal/trace"
)

// Flatten collapses every dimension after the batch axis: [N, ...] -> [N, prod(...)].
type Flatten[B tensor.Backend] struct {
	backend B
}

// NewFlatten creates a Flatten module.
func NewFlatten[B tensor.Backend](backend B) *Flatten[B] {
	return &Flatten[B]{backend: backend}
}

// Forward returns a [N, features] view of input.
func (f *Flatten[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	shape := input.Shape()
	if len(shape) < 2 {
		panic(fmt.Sprintf("flatten: expected at least 2D input, got %v", shape))
	}
	return input.Reshape(shape[0], -1)
}

// Parameters returns nil; Flatten has no parameters.
func (f *Flatten[B]) Parameters() []*Parameter[B] { return nil }

// StateDict returns an empty map.
func (f *Flatten[B]) StateDict() map[string]*tensor.RawTensor {
	return map[string]*tensor.RawTensor{}
}

// LoadStateDict accepts only an empty state dict.
func (f *Flatten[B]) LoadStateDict(stateDict map[string]*tensor.RawTensor) error {
	return LoadInto(f.StateDict(), stateDict)
}

// Trace records a Flatten node with axis 1.
func (f *Flatten[B]) Trace(g *trace.Graph, input trace.Value) trace.Value {
	features := 1
	for _, d := range input.Shape[1:] {
		features *= d
	}
	return g.AddNode("", trace.OpFlatten, []string{input.Name}, trace.Attrs{"axis": int64(1)},
		tensor.Shape{input.Shape[0], features})
}

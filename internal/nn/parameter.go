package nn

import (
	"github.com/born-ml/facenet/internal/tensor"
)

// Parameter represents a learnable tensor of a layer.
//
// Example:
//
//	weight := nn.NewParameter("weight", weightTensor)
//	w := weight.Tensor()
type Parameter[B tensor.Backend] struct {
	name   string                     // Parameter name (e.g., "weight", "bias")
	tensor *tensor.Tensor[float32, B] // The parameter tensor
}

// NewParameter creates a new parameter.
func NewParameter[B tensor.Backend](name string, t *tensor.Tensor[float32, B]) *Parameter[B] {
	return &Parameter[B]{
		name:   name,
		tensor: t,
	}
}

// Name returns the parameter name.
func (p *Parameter[B]) Name() string {
	return p.name
}

// Tensor returns the parameter tensor.
func (p *Parameter[B]) Tensor() *tensor.Tensor[float32, B] {
	return p.tensor
}

// NumElements returns the number of scalar values held by the parameter.
func (p *Parameter[B]) NumElements() int {
	return p.tensor.NumElements()
}

// CountParameters sums NumElements over params.
func CountParameters[B tensor.Backend](params []*Parameter[B]) int {
	total := 0
	for _, p := range params {
		total += p.NumElements()
	}
	return total
}

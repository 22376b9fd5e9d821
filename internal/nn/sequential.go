package nn

import (
	"fmt"
	"strconv"

	"github.com/born-ml/facenet/internal/tensor"
	"github.com/born-ml/facenet/internal/trace"
)

// Named pairs a child module with the name used for its state dict prefix.
type Named[B tensor.Backend] struct {
	Name   string
	Module Module[B]
}

// Sequential is a container module that chains multiple modules together.
//
// Each module's output becomes the next module's input. Children created
// with NewSequential are named by index ("0.weight", "1.bias") like
// PyTorch's nn.Sequential; NewNamedSequential gives them explicit names
// ("conv.weight", "bn.running_mean").
//
// Example:
//
//	block := nn.NewNamedSequential(
//	    nn.Named[B]{Name: "conv", Module: conv},
//	    nn.Named[B]{Name: "bn", Module: bn},
//	    nn.Named[B]{Name: "prelu", Module: prelu},
//	)
//
//	output := block.Forward(input)
type Sequential[B tensor.Backend] struct {
	children []Named[B]
}

// NewSequential creates a Sequential container with index-named children.
func NewSequential[B tensor.Backend](modules ...Module[B]) *Sequential[B] {
	s := &Sequential[B]{}
	for _, m := range modules {
		s.Add(m)
	}
	return s
}

// NewNamedSequential creates a Sequential container with named children.
//
// Panics on an empty or duplicate name.
func NewNamedSequential[B tensor.Backend](children ...Named[B]) *Sequential[B] {
	s := &Sequential[B]{}
	for _, c := range children {
		s.AddNamed(c.Name, c.Module)
	}
	return s
}

// Forward applies all modules in sequence.
func (s *Sequential[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	output := input
	for _, c := range s.children {
		output = c.Module.Forward(output)
	}
	return output
}

// Parameters returns all parameters from all modules, in order.
func (s *Sequential[B]) Parameters() []*Parameter[B] {
	var params []*Parameter[B]
	for _, c := range s.children {
		params = append(params, c.Module.Parameters()...)
	}
	return params
}

// Add appends a module named by its index.
func (s *Sequential[B]) Add(module Module[B]) {
	s.AddNamed(strconv.Itoa(len(s.children)), module)
}

// AddNamed appends a module under name.
func (s *Sequential[B]) AddNamed(name string, module Module[B]) {
	if name == "" {
		panic("Sequential.AddNamed: empty name")
	}
	for _, c := range s.children {
		if c.Name == name {
			panic(fmt.Sprintf("Sequential.AddNamed: duplicate name %q", name))
		}
	}
	s.children = append(s.children, Named[B]{Name: name, Module: module})
}

// Len returns the number of modules in the sequence.
func (s *Sequential[B]) Len() int {
	return len(s.children)
}

// Module returns the module at the given index.
//
// Panics if index is out of bounds.
func (s *Sequential[B]) Module(index int) Module[B] {
	if index < 0 || index >= len(s.children) {
		panic("Sequential.Module: index out of bounds")
	}
	return s.children[index].Module
}

// StateDict merges child state dicts, prefixing keys with the child name.
func (s *Sequential[B]) StateDict() map[string]*tensor.RawTensor {
	stateDict := make(map[string]*tensor.RawTensor)
	for _, c := range s.children {
		for key, raw := range PrefixStateDict(c.Name, c.Module.StateDict()) {
			stateDict[key] = raw
		}
	}
	return stateDict
}

// LoadStateDict loads every child at once; see LoadInto.
func (s *Sequential[B]) LoadStateDict(stateDict map[string]*tensor.RawTensor) error {
	return LoadInto(s.StateDict(), stateDict)
}

// Trace records each child inside a scope named after it.
func (s *Sequential[B]) Trace(g *trace.Graph, input trace.Value) trace.Value {
	v := input
	for _, c := range s.children {
		g.Push(c.Name)
		v = c.Module.Trace(g, v)
		g.Pop()
	}
	return v
}

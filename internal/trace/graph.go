// Package trace records the operator sequence of a forward pass.
//
// Modules append nodes to a Graph while walking their structure, producing
// a static dataflow graph that the ONNX exporter turns into a ModelProto.
// Node and initializer names are qualified by a scope stack so that
// parameter names in the graph match state dict keys ("conv4.model.0.conv1.conv.weight").
package trace

import (
	"fmt"
	"strings"

	"github.com/born-ml/facenet/internal/tensor"
)

// Operator names recorded in a Graph. They follow ONNX op_type spelling.
const (
	OpConv      = "Conv"
	OpBatchNorm = "BatchNormalization"
	OpPRelu     = "PRelu"
	OpAdd       = "Add"
	OpFlatten   = "Flatten"
	OpGemm      = "Gemm"
)

// Value is a named tensor flowing between nodes.
type Value struct {
	Name  string
	Shape tensor.Shape
}

// Attrs holds node attributes. Values are int64, []int64, float32 or string.
type Attrs map[string]any

// Node is one operator application.
type Node struct {
	Name    string
	Op      string
	Inputs  []string
	Outputs []string
	Attrs   Attrs
}

// Graph is a traced computation.
type Graph struct {
	Input  Value
	Output Value
	Nodes  []Node

	initializers map[string]*tensor.RawTensor
	initOrder    []string
	values       map[string]tensor.Shape
	used         map[string]int
	scope        []string
}

// New creates an empty graph with a single declared input.
func New(inputName string, inputShape tensor.Shape) *Graph {
	g := &Graph{
		Input:        Value{Name: inputName, Shape: inputShape.Clone()},
		initializers: make(map[string]*tensor.RawTensor),
		values:       make(map[string]tensor.Shape),
		used:         make(map[string]int),
	}
	g.values[inputName] = g.Input.Shape
	g.used[inputName] = 1
	return g
}

// Push enters a naming scope.
func (g *Graph) Push(scope string) {
	g.scope = append(g.scope, scope)
}

// Pop leaves the innermost naming scope.
func (g *Graph) Pop() {
	if len(g.scope) == 0 {
		panic("trace: Pop without matching Push")
	}
	g.scope = g.scope[:len(g.scope)-1]
}

// Qualify joins name onto the current scope.
func (g *Graph) Qualify(name string) string {
	parts := append(append([]string(nil), g.scope...), name)
	if name == "" {
		parts = parts[:len(parts)-1]
	}
	return strings.Join(parts, ".")
}

// AddInitializer registers a constant tensor under the qualified name and
// returns that name. Registering the same name twice panics.
func (g *Graph) AddInitializer(name string, t *tensor.RawTensor) string {
	qualified := g.Qualify(name)
	if _, ok := g.initializers[qualified]; ok {
		panic(fmt.Sprintf("trace: duplicate initializer %q", qualified))
	}
	g.initializers[qualified] = t
	g.initOrder = append(g.initOrder, qualified)
	g.values[qualified] = t.Shape()
	return qualified
}

// AddNode appends an operator and returns its single output value.
//
// The node is named after the current scope, with name appended when it is
// non-empty; clashes get a numeric suffix. The output value shares the
// node's name.
func (g *Graph) AddNode(name, op string, inputs []string, attrs Attrs, outShape tensor.Shape) Value {
	for _, in := range inputs {
		if _, ok := g.values[in]; !ok {
			panic(fmt.Sprintf("trace: node %s consumes unknown value %q", op, in))
		}
	}

	qualified := g.Qualify(name)
	if qualified == "" {
		qualified = strings.ToLower(op)
	}
	if n := g.used[qualified]; n > 0 {
		g.used[qualified] = n + 1
		qualified = fmt.Sprintf("%s_%d", qualified, n)
	}
	g.used[qualified]++

	g.Nodes = append(g.Nodes, Node{
		Name:    qualified,
		Op:      op,
		Inputs:  append([]string(nil), inputs...),
		Outputs: []string{qualified},
		Attrs:   attrs,
	})
	g.values[qualified] = outShape.Clone()
	return Value{Name: qualified, Shape: outShape.Clone()}
}

// SetOutput marks v as the graph output.
func (g *Graph) SetOutput(v Value) {
	g.Output = v
}

// Initializer returns the constant registered under name.
func (g *Graph) Initializer(name string) (*tensor.RawTensor, bool) {
	t, ok := g.initializers[name]
	return t, ok
}

// InitializerNames returns initializer names in registration order.
func (g *Graph) InitializerNames() []string {
	return append([]string(nil), g.initOrder...)
}

// ValueShape returns the shape recorded for a value.
func (g *Graph) ValueShape(name string) (tensor.Shape, bool) {
	s, ok := g.values[name]
	return s, ok
}

// Validate checks that the graph has an output produced by some node and
// that every node input is defined before it is consumed.
func (g *Graph) Validate() error {
	if g.Output.Name == "" {
		return fmt.Errorf("trace: graph has no output")
	}
	defined := map[string]bool{g.Input.Name: true}
	for name := range g.initializers {
		defined[name] = true
	}
	for _, n := range g.Nodes {
		for _, in := range n.Inputs {
			if !defined[in] {
				return fmt.Errorf("trace: node %s reads %q before it is produced", n.Name, in)
			}
		}
		for _, out := range n.Outputs {
			defined[out] = true
		}
	}
	if !defined[g.Output.Name] {
		return fmt.Errorf("trace: output %q is never produced", g.Output.Name)
	}
	return nil
}

// OpCounts returns how many nodes use each operator.
func (g *Graph) OpCounts() map[string]int {
	counts := make(map[string]int)
	for _, n := range g.Nodes {
		counts[n.Op]++
	}
	return counts
}

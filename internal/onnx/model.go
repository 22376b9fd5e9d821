package onnx

import (
	"fmt"

	"github.com/born-ml/facenet/internal/onnx/operators"
	"github.com/born-ml/facenet/internal/tensor"
)

// Model represents a loaded ONNX model ready for inference.
// It executes the computation graph using the provided backend.
type Model struct {
	proto       *ModelProto
	registry    *operators.Registry
	backend     tensor.Backend
	tensors     map[string]*tensor.RawTensor // Initializers
	inputNames  []string
	outputNames []string
	sortedNodes []NodeProto
}

// Proto returns the parsed model.
func (m *Model) Proto() *ModelProto {
	return m.proto
}

// InputNames returns the names of model inputs.
func (m *Model) InputNames() []string {
	return m.inputNames
}

// OutputNames returns the names of model outputs.
func (m *Model) OutputNames() []string {
	return m.outputNames
}

// OpsetVersion returns the ONNX opset version.
func (m *Model) OpsetVersion() int64 {
	return m.proto.OpsetVersion()
}

// Metadata returns the model's metadata_props.
func (m *Model) Metadata() map[string]string {
	return m.proto.Metadata()
}

// Forward runs inference with a single input tensor.
func (m *Model) Forward(input *tensor.RawTensor) (*tensor.RawTensor, error) {
	if len(m.inputNames) != 1 || len(m.outputNames) != 1 {
		return nil, fmt.Errorf("model has %d inputs and %d outputs, use ForwardNamed",
			len(m.inputNames), len(m.outputNames))
	}

	outputs, err := m.ForwardNamed(map[string]*tensor.RawTensor{
		m.inputNames[0]: input,
	})
	if err != nil {
		return nil, err
	}
	return outputs[m.outputNames[0]], nil
}

// ForwardNamed runs inference with named inputs.
// Returns a map of output name to tensor.
func (m *Model) ForwardNamed(inputs map[string]*tensor.RawTensor) (map[string]*tensor.RawTensor, error) {
	values := make(map[string]*tensor.RawTensor, len(m.tensors)+len(m.sortedNodes))
	for name, t := range m.tensors {
		values[name] = t
	}
	for _, name := range m.inputNames {
		t, ok := inputs[name]
		if !ok {
			return nil, fmt.Errorf("missing input: %s", name)
		}
		values[name] = t
	}

	ctx := &operators.Context{Backend: m.backend}
	for i := range m.sortedNodes {
		node := &m.sortedNodes[i]

		nodeInputs := make([]*tensor.RawTensor, len(node.Inputs))
		for j, name := range node.Inputs {
			if name == "" {
				continue // optional input not provided
			}
			t, ok := values[name]
			if !ok {
				return nil, fmt.Errorf("node %s: missing input %s", node.Name, name)
			}
			nodeInputs[j] = t
		}

		outputs, err := m.registry.Execute(ctx, operatorNode(node), nodeInputs)
		if err != nil {
			return nil, fmt.Errorf("node %s (%s): %w", node.Name, node.OpType, err)
		}
		for j, name := range node.Outputs {
			if j < len(outputs) {
				values[name] = outputs[j]
			}
		}
	}

	result := make(map[string]*tensor.RawTensor, len(m.outputNames))
	for _, name := range m.outputNames {
		t, ok := values[name]
		if !ok {
			return nil, fmt.Errorf("missing output: %s", name)
		}
		result[name] = t
	}
	return result, nil
}

// compile loads initializers, resolves graph inputs and orders the nodes.
func (m *Model) compile() error {
	graph := m.proto.Graph
	if graph == nil {
		return fmt.Errorf("model has no graph")
	}

	m.tensors = make(map[string]*tensor.RawTensor, len(graph.Initializers))
	for i := range graph.Initializers {
		init := &graph.Initializers[i]
		t, err := tensorFromProto(init)
		if err != nil {
			return fmt.Errorf("failed to load initializer %s: %w", init.Name, err)
		}
		m.tensors[init.Name] = t
	}

	// Inputs are graph inputs minus initializers.
	for i := range graph.Inputs {
		if _, ok := m.tensors[graph.Inputs[i].Name]; !ok {
			m.inputNames = append(m.inputNames, graph.Inputs[i].Name)
		}
	}
	for i := range graph.Outputs {
		m.outputNames = append(m.outputNames, graph.Outputs[i].Name)
	}

	m.sortedNodes = topologicalSort(graph.Nodes)
	return nil
}

// tensorFromProto converts a TensorProto to a RawTensor.
func tensorFromProto(proto *TensorProto) (*tensor.RawTensor, error) {
	shape := make(tensor.Shape, len(proto.Dims))
	for i, dim := range proto.Dims {
		shape[i] = int(dim)
	}

	var dtype tensor.DataType
	switch proto.DataType {
	case TensorProtoFloat:
		dtype = tensor.Float32
	case TensorProtoFloat16:
		dtype = tensor.Float16
	case TensorProtoInt64:
		dtype = tensor.Int64
	default:
		return nil, fmt.Errorf("unsupported element type %d", proto.DataType)
	}

	if len(proto.RawData) > 0 {
		return tensor.RawFromBytes(proto.RawData, shape, dtype, tensor.CPU)
	}

	t, err := tensor.NewRaw(shape, dtype, tensor.CPU)
	if err != nil {
		return nil, err
	}
	switch {
	case len(proto.FloatData) > 0 && dtype == tensor.Float32:
		if len(proto.FloatData) != t.NumElements() {
			return nil, fmt.Errorf("float_data has %d values for shape %v", len(proto.FloatData), shape)
		}
		copy(t.AsFloat32(), proto.FloatData)
	case len(proto.Int64Data) > 0 && dtype == tensor.Int64:
		if len(proto.Int64Data) != t.NumElements() {
			return nil, fmt.Errorf("int64_data has %d values for shape %v", len(proto.Int64Data), shape)
		}
		copy(t.AsInt64(), proto.Int64Data)
	case len(proto.Int32Data) > 0 && dtype == tensor.Float16:
		// float16 values travel as bit patterns in int32_data.
		if len(proto.Int32Data) != t.NumElements() {
			return nil, fmt.Errorf("int32_data has %d values for shape %v", len(proto.Int32Data), shape)
		}
		bits := t.AsFloat16Bits()
		for i, v := range proto.Int32Data {
			bits[i] = uint16(v) //nolint:gosec // G115: float16 bit pattern
		}
	}
	return t, nil
}

// operatorNode converts NodeProto to operators.Node.
func operatorNode(proto *NodeProto) *operators.Node {
	attrs := make([]operators.Attribute, len(proto.Attributes))
	for i := range proto.Attributes {
		attr := &proto.Attributes[i]
		attrs[i] = operators.Attribute{
			Name:   attr.Name,
			F:      attr.F,
			I:      attr.I,
			S:      attr.S,
			Floats: attr.Floats,
			Ints:   attr.Ints,
		}
	}
	return &operators.Node{
		Name:       proto.Name,
		OpType:     proto.OpType,
		Inputs:     proto.Inputs,
		Outputs:    proto.Outputs,
		Attributes: attrs,
	}
}

// topologicalSort sorts nodes in execution order.
// Ensures dependencies are executed before dependents.
func topologicalSort(nodes []NodeProto) []NodeProto {
	outputToNode := make(map[string]int)
	for i := range nodes {
		for _, output := range nodes[i].Outputs {
			outputToNode[output] = i
		}
	}

	visited := make([]bool, len(nodes))
	result := make([]NodeProto, 0, len(nodes))

	var visit func(i int)
	visit = func(i int) {
		if visited[i] {
			return
		}
		visited[i] = true
		for _, input := range nodes[i].Inputs {
			if depIdx, ok := outputToNode[input]; ok {
				visit(depIdx)
			}
		}
		result = append(result, nodes[i])
	}

	for i := range nodes {
		visit(i)
	}
	return result
}

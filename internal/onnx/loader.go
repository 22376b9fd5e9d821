package onnx

import (
	"fmt"
	"sort"

	"github.com/born-ml/facenet/internal/onnx/operators"
	"github.com/born-ml/facenet/internal/tensor"
)

// LoadOptions configures model loading behavior.
type LoadOptions struct {
	// CustomOps provides extra operator handlers.
	CustomOps map[string]operators.OpHandler
}

// Load loads an ONNX model from file and prepares it for inference.
// The backend is used for tensor operations during inference.
//
// Example:
//
//	model, err := onnx.Load("MobileFaceNet.onnx", cpu.New())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	embedding, err := model.Forward(pixels)
func Load(path string, backend tensor.Backend, opts ...LoadOptions) (*Model, error) {
	proto, err := ParseFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ONNX file: %w", err)
	}
	return LoadFromProto(proto, backend, opts...)
}

// LoadFromBytes loads an ONNX model from bytes.
func LoadFromBytes(data []byte, backend tensor.Backend, opts ...LoadOptions) (*Model, error) {
	proto, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ONNX data: %w", err)
	}
	return LoadFromProto(proto, backend, opts...)
}

// LoadFromProto prepares a parsed model for inference.
//
// Every operator must have a handler; otherwise the error wraps
// operators.ErrUnsupportedOperator.
func LoadFromProto(proto *ModelProto, backend tensor.Backend, opts ...LoadOptions) (*Model, error) {
	registry := operators.NewRegistry()
	for _, opt := range opts {
		for opType, handler := range opt.CustomOps {
			registry.Register(opType, handler)
		}
	}

	if err := validateOperators(proto.Graph, registry); err != nil {
		return nil, err
	}

	model := &Model{
		proto:    proto,
		registry: registry,
		backend:  backend,
	}
	if err := model.compile(); err != nil {
		return nil, fmt.Errorf("failed to compile model: %w", err)
	}
	return model, nil
}

// validateOperators checks that all operators are supported.
func validateOperators(graph *GraphProto, registry *operators.Registry) error {
	if graph == nil {
		return fmt.Errorf("model has no graph")
	}

	seen := make(map[string]bool)
	var unsupported []string
	for i := range graph.Nodes {
		op := graph.Nodes[i].OpType
		if _, ok := registry.Get(op); !ok && !seen[op] {
			seen[op] = true
			unsupported = append(unsupported, op)
		}
	}
	if len(unsupported) > 0 {
		sort.Strings(unsupported)
		return fmt.Errorf("%w: %v", operators.ErrUnsupportedOperator, unsupported)
	}
	return nil
}

// ModelInfo contains basic information about an ONNX model without fully loading it.
type ModelInfo struct {
	IRVersion    int64
	OpsetVersion int64
	ProducerName string
	InputNames   []string
	OutputNames  []string
	OutputDims   []int64
	NodeCount    int
	WeightCount  int
	WeightBytes  int
	OpCounts     map[string]int
}

// Info summarizes a parsed model.
func Info(proto *ModelProto) *ModelInfo {
	info := &ModelInfo{
		IRVersion:    proto.IRVersion,
		OpsetVersion: proto.OpsetVersion(),
		ProducerName: proto.ProducerName,
		OpCounts:     make(map[string]int),
	}
	if proto.Graph == nil {
		return info
	}

	initNames := make(map[string]bool)
	for i := range proto.Graph.Initializers {
		initNames[proto.Graph.Initializers[i].Name] = true
		info.WeightBytes += len(proto.Graph.Initializers[i].RawData)
	}
	for i := range proto.Graph.Inputs {
		if !initNames[proto.Graph.Inputs[i].Name] {
			info.InputNames = append(info.InputNames, proto.Graph.Inputs[i].Name)
		}
	}
	for i := range proto.Graph.Outputs {
		info.OutputNames = append(info.OutputNames, proto.Graph.Outputs[i].Name)
	}
	if len(proto.Graph.Outputs) == 1 {
		info.OutputDims = proto.Graph.Outputs[0].Dims()
	}
	for i := range proto.Graph.Nodes {
		info.OpCounts[proto.Graph.Nodes[i].OpType]++
	}
	info.NodeCount = len(proto.Graph.Nodes)
	info.WeightCount = len(proto.Graph.Initializers)
	return info
}

// GetModelInfo extracts basic info from an ONNX file.
func GetModelInfo(path string) (*ModelInfo, error) {
	proto, err := ParseFile(path)
	if err != nil {
		return nil, err
	}
	return Info(proto), nil
}

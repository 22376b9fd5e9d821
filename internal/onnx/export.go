package onnx

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/born-ml/facenet/internal/tensor"
	"github.com/born-ml/facenet/internal/trace"
)

// Target is the minimum deployment target of an exported artifact.
type Target string

// Supported deployment targets.
const (
	TargetIOS15 Target = "iOS15"
	TargetIOS16 Target = "iOS16"
	TargetIOS17 Target = "iOS17"
)

// Targets lists the supported deployment targets.
var Targets = []Target{TargetIOS15, TargetIOS16, TargetIOS17}

// ParseTarget parses a target name case-insensitively.
func ParseTarget(s string) (Target, error) {
	for _, t := range Targets {
		if strings.EqualFold(s, string(t)) {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown deployment target %q (want one of %v)", s, Targets)
}

// Versions returns the IR version and default opset the target runtime
// understands.
func (t Target) Versions() (irVersion, opset int64) {
	switch t {
	case TargetIOS16:
		return 8, 15
	case TargetIOS17:
		return 8, 17
	default:
		return 7, 13
	}
}

// Precision is the storage precision of exported parameters.
type Precision string

// Supported precisions.
const (
	Float32 Precision = "float32"
	Float16 Precision = "float16"
)

// Precisions lists the supported storage precisions.
var Precisions = []Precision{Float32, Float16}

// ParsePrecision accepts "float32"/"fp32" and "float16"/"fp16".
func ParsePrecision(s string) (Precision, error) {
	switch strings.ToLower(s) {
	case "float32", "fp32":
		return Float32, nil
	case "float16", "fp16":
		return Float16, nil
	}
	return "", fmt.Errorf("unknown precision %q (want float32 or float16)", s)
}

// ExportOptions controls how a traced graph becomes a ModelProto.
type ExportOptions struct {
	Target    Target
	Precision Precision

	// InputScale and InputBias describe the image input: the network sees
	// pixel*InputScale + InputBias[c].
	InputScale float32
	InputBias  []float32

	// OutputName names the declared output.
	OutputName string

	// L2Normalize appends an LpNormalization (p=2) node before the output.
	L2Normalize bool

	// DynamicBatch declares the batch dimension symbolically.
	DynamicBatch bool

	ProducerName    string
	ProducerVersion string
}

// DefaultExportOptions mirrors the reference conversion: iOS15, float16
// storage, pixel scale 1/255 with zero bias and no explicit normalization.
func DefaultExportOptions() ExportOptions {
	return ExportOptions{
		Target:          TargetIOS15,
		Precision:       Float16,
		InputScale:      1.0 / 255.0,
		InputBias:       []float32{0, 0, 0},
		OutputName:      "embedding",
		ProducerName:    "facenet",
		ProducerVersion: "1.0.0",
	}
}

// ErrUnsupportedGraph is returned when a traced graph cannot be exported.
var ErrUnsupportedGraph = errors.New("onnx: unsupported graph")

// batchParam names the symbolic batch dimension.
const batchParam = "batch"

// Export converts a traced graph to an ONNX model.
//
// The declared input keeps the traced name and expects raw pixel values; two
// nodes scale and bias it before the network. With Float16 precision every
// network parameter is stored as FLOAT16 and upcast by a Cast node, so the
// network computes in float32 and the declared input and output stay float32.
func Export(g *trace.Graph, opts ExportOptions) (*ModelProto, error) {
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnsupportedGraph, err)
	}
	if len(g.Input.Shape) != 4 {
		return nil, fmt.Errorf("%w: image input must be [N,C,H,W], got %v", ErrUnsupportedGraph, g.Input.Shape)
	}
	channels := g.Input.Shape[1]
	if len(opts.InputBias) != channels {
		return nil, fmt.Errorf("%w: input bias has %d values for %d channels", ErrUnsupportedGraph, len(opts.InputBias), channels)
	}
	if opts.OutputName == "" {
		opts.OutputName = "embedding"
	}
	if opts.Precision == "" {
		opts.Precision = Float32
	}
	if opts.Target == "" {
		opts.Target = TargetIOS15
	}

	e := &exporter{
		graph:  &GraphProto{Name: "mobilefacenet"},
		rename: make(map[string]string),
	}

	// Preprocessing: x*scale + bias.
	scale, err := tensor.RawFromFloat32([]float32{opts.InputScale}, tensor.Shape{}, tensor.CPU)
	if err != nil {
		return nil, err
	}
	bias, err := tensor.RawFromFloat32(opts.InputBias, tensor.Shape{1, channels, 1, 1}, tensor.CPU)
	if err != nil {
		return nil, err
	}
	e.initializer("input_scale", scale, TensorProtoFloat)
	e.initializer("input_bias", bias, TensorProtoFloat)
	scaled := g.Input.Name + "_scaled"
	normalized := g.Input.Name + "_preprocessed"
	e.node(NodeProto{Name: "preprocess.scale", OpType: "Mul", Inputs: []string{g.Input.Name, "input_scale"}, Outputs: []string{scaled}})
	e.node(NodeProto{Name: "preprocess.bias", OpType: "Add", Inputs: []string{scaled, "input_bias"}, Outputs: []string{normalized}})
	e.rename[g.Input.Name] = normalized

	// Parameters.
	for _, name := range g.InitializerNames() {
		raw, _ := g.Initializer(name)
		if raw.DType() != tensor.Float32 {
			return nil, fmt.Errorf("%w: initializer %s has dtype %s", ErrUnsupportedGraph, name, raw.DType())
		}
		if opts.Precision != Float16 {
			e.initializer(name, raw, TensorProtoFloat)
			continue
		}
		half, err := tensor.Cast(raw, tensor.Float16)
		if err != nil {
			return nil, fmt.Errorf("initializer %s: %w", name, err)
		}
		stored := name + "_fp16"
		e.initializer(stored, half, TensorProtoFloat16)
		e.node(NodeProto{
			Name:       name + ".cast",
			OpType:     "Cast",
			Inputs:     []string{stored},
			Outputs:    []string{name},
			Attributes: []AttributeProto{intAttr("to", TensorProtoFloat)},
		})
	}

	// Network body.
	final := g.Output.Name
	if !opts.L2Normalize {
		e.rename[final] = opts.OutputName
	}
	for _, n := range g.Nodes {
		attrs, err := exportAttrs(n.Attrs)
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", n.Name, err)
		}
		e.node(NodeProto{
			Name:       n.Name,
			OpType:     n.Op,
			Inputs:     e.names(n.Inputs),
			Outputs:    e.names(n.Outputs),
			Attributes: attrs,
		})
	}
	if opts.L2Normalize {
		e.node(NodeProto{
			Name:       "l2norm",
			OpType:     "LpNormalization",
			Inputs:     []string{final},
			Outputs:    []string{opts.OutputName},
			Attributes: []AttributeProto{intAttr("axis", 1), intAttr("p", 2)},
		})
	}

	e.graph.Inputs = []ValueInfoProto{valueInfo(g.Input.Name, g.Input.Shape, opts.DynamicBatch)}
	e.graph.Outputs = []ValueInfoProto{valueInfo(opts.OutputName, g.Output.Shape, opts.DynamicBatch)}

	irVersion, opset := opts.Target.Versions()
	return &ModelProto{
		IRVersion:       irVersion,
		OpsetImport:     []OperatorSetID{{Domain: "", Version: opset}},
		ProducerName:    opts.ProducerName,
		ProducerVersion: opts.ProducerVersion,
		ModelVersion:    1,
		Graph:           e.graph,
		MetadataProps: []StringStringEntry{
			{Key: MetaMinimumDeploymentTarget, Value: string(opts.Target)},
			{Key: MetaPrecision, Value: string(opts.Precision)},
			{Key: MetaColorLayout, Value: "RGB"},
			{Key: MetaImageScale, Value: strconv.FormatFloat(float64(opts.InputScale), 'g', -1, 32)},
			{Key: MetaImageBias, Value: formatFloats(opts.InputBias)},
			{Key: MetaL2Normalized, Value: strconv.FormatBool(opts.L2Normalize)},
		},
	}, nil
}

type exporter struct {
	graph  *GraphProto
	rename map[string]string
}

func (e *exporter) initializer(name string, raw *tensor.RawTensor, dtype int32) {
	e.graph.Initializers = append(e.graph.Initializers, TensorProto{
		Name:     name,
		DataType: dtype,
		Dims:     dims(raw.Shape()),
		RawData:  append([]byte(nil), raw.Data()...),
	})
}

func (e *exporter) node(n NodeProto) {
	e.graph.Nodes = append(e.graph.Nodes, n)
}

func (e *exporter) names(in []string) []string {
	out := make([]string, len(in))
	for i, name := range in {
		if renamed, ok := e.rename[name]; ok {
			name = renamed
		}
		out[i] = name
	}
	return out
}

func exportAttrs(attrs trace.Attrs) ([]AttributeProto, error) {
	if len(attrs) == 0 {
		return nil, nil
	}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]AttributeProto, 0, len(attrs))
	for _, k := range keys {
		switch v := attrs[k].(type) {
		case int64:
			out = append(out, intAttr(k, v))
		case []int64:
			out = append(out, AttributeProto{Name: k, Type: AttributeProtoInts, Ints: append([]int64(nil), v...)})
		case float32:
			out = append(out, AttributeProto{Name: k, Type: AttributeProtoFloat, F: v})
		case string:
			out = append(out, AttributeProto{Name: k, Type: AttributeProtoString, S: []byte(v)})
		default:
			return nil, fmt.Errorf("%w: attribute %s has type %T", ErrUnsupportedGraph, k, v)
		}
	}
	return out, nil
}

func intAttr(name string, v int64) AttributeProto {
	return AttributeProto{Name: name, Type: AttributeProtoInt, I: v}
}

func valueInfo(name string, shape tensor.Shape, dynamicBatch bool) ValueInfoProto {
	d := make([]DimensionProto, len(shape))
	for i, size := range shape {
		d[i] = DimensionProto{DimValue: int64(size)}
	}
	if dynamicBatch && len(d) > 0 {
		d[0] = DimensionProto{DimParam: batchParam}
	}
	return ValueInfoProto{
		Name: name,
		Type: &TypeProto{TensorType: &TensorTypeProto{
			ElemType: TensorProtoFloat,
			Shape:    &TensorShapeProto{Dims: d},
		}},
	}
}

func dims(shape tensor.Shape) []int64 {
	out := make([]int64, len(shape))
	for i, d := range shape {
		out[i] = int64(d)
	}
	return out
}

func formatFloats(values []float32) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.FormatFloat(float64(v), 'g', -1, 32)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

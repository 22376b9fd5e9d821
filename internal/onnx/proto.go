package onnx

// Hand-written subset of the ONNX protobuf schema (onnx.proto).
// Field numbers are noted next to each field; Marshal and Parse use them.

// ModelProto is the top-level ONNX message.
type ModelProto struct {
	IRVersion       int64               // 1
	ProducerName    string              // 2
	ProducerVersion string              // 3
	Domain          string              // 4
	ModelVersion    int64               // 5
	DocString       string              // 6
	Graph           *GraphProto         // 7
	OpsetImport     []OperatorSetID     // 8
	MetadataProps   []StringStringEntry // 14
}

// GraphProto is the computation graph.
type GraphProto struct {
	Nodes        []NodeProto      // 1
	Name         string           // 2
	Initializers []TensorProto    // 5
	DocString    string           // 10
	Inputs       []ValueInfoProto // 11
	Outputs      []ValueInfoProto // 12
	ValueInfo    []ValueInfoProto // 13
}

// NodeProto is a single operator application.
type NodeProto struct {
	Inputs     []string         // 1
	Outputs    []string         // 2
	Name       string           // 3
	OpType     string           // 4
	Attributes []AttributeProto // 5
	DocString  string           // 6
	Domain     string           // 7
}

// TensorProto holds a constant tensor. Only raw_data is written; the typed
// repeated fields are read for compatibility with other producers.
type TensorProto struct {
	Dims      []int64   // 1
	DataType  int32     // 2
	FloatData []float32 // 4
	Int32Data []int32   // 5
	Int64Data []int64   // 7
	Name      string    // 8
	RawData   []byte    // 9
	DocString string    // 12
}

// ValueInfoProto declares a graph input, output or intermediate value.
type ValueInfoProto struct {
	Name      string     // 1
	Type      *TypeProto // 2
	DocString string     // 3
}

// TypeProto carries the value type. Only tensor types are supported.
type TypeProto struct {
	TensorType *TensorTypeProto // 1
}

// TensorTypeProto is an element type plus an optional shape.
type TensorTypeProto struct {
	ElemType int32             // 1
	Shape    *TensorShapeProto // 2
}

// TensorShapeProto lists dimensions.
type TensorShapeProto struct {
	Dims []DimensionProto // 1
}

// DimensionProto is either a fixed size or a symbolic name.
type DimensionProto struct {
	DimValue int64  // 1
	DimParam string // 2
}

// AttributeProto is a node attribute.
type AttributeProto struct {
	Name      string       // 1
	F         float32      // 2
	I         int64        // 3
	S         []byte       // 4
	T         *TensorProto // 5
	Floats    []float32    // 7
	Ints      []int64      // 8
	Strings   [][]byte     // 9
	DocString string       // 13
	Type      int32        // 20
}

// OperatorSetID names an operator set and its version.
type OperatorSetID struct {
	Domain  string // 1
	Version int64  // 2
}

// StringStringEntry is a metadata key/value pair.
type StringStringEntry struct {
	Key   string // 1
	Value string // 2
}

// ONNX element types (TensorProto.DataType).
const (
	TensorProtoUndefined = 0
	TensorProtoFloat     = 1
	TensorProtoInt32     = 6
	TensorProtoInt64     = 7
	TensorProtoFloat16   = 10
	TensorProtoDouble    = 11
)

// ONNX attribute types (AttributeProto.Type).
const (
	AttributeProtoUndefined = 0
	AttributeProtoFloat     = 1
	AttributeProtoInt       = 2
	AttributeProtoString    = 3
	AttributeProtoTensor    = 4
	AttributeProtoFloats    = 6
	AttributeProtoInts      = 7
	AttributeProtoStrings   = 8
)

// Metadata returns metadata_props as a map.
func (m *ModelProto) Metadata() map[string]string {
	meta := make(map[string]string, len(m.MetadataProps))
	for _, prop := range m.MetadataProps {
		meta[prop.Key] = prop.Value
	}
	return meta
}

// OpsetVersion returns the version of the default operator set, or 0.
func (m *ModelProto) OpsetVersion() int64 {
	for _, opset := range m.OpsetImport {
		if opset.Domain == "" || opset.Domain == "ai.onnx" {
			return opset.Version
		}
	}
	return 0
}

// Dims returns the static dimensions of a tensor value; symbolic
// dimensions are reported as -1.
func (v *ValueInfoProto) Dims() []int64 {
	if v.Type == nil || v.Type.TensorType == nil || v.Type.TensorType.Shape == nil {
		return nil
	}
	dims := make([]int64, len(v.Type.TensorType.Shape.Dims))
	for i, d := range v.Type.TensorType.Shape.Dims {
		if d.DimParam != "" {
			dims[i] = -1
			continue
		}
		dims[i] = d.DimValue
	}
	return dims
}

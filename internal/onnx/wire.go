package onnx

import (
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Marshal encodes a model in protobuf wire format.
//
// Zero-valued scalar fields are omitted, except attribute values, which are
// written whenever the attribute type selects them.
func Marshal(m *ModelProto) []byte {
	var b []byte
	b = appendVarintField(b, 1, uint64(m.IRVersion)) //nolint:gosec // G115: IR version is small and positive
	b = appendStringField(b, 2, m.ProducerName)
	b = appendStringField(b, 3, m.ProducerVersion)
	b = appendStringField(b, 4, m.Domain)
	b = appendVarintField(b, 5, uint64(m.ModelVersion)) //nolint:gosec // G115: model version is non-negative
	b = appendStringField(b, 6, m.DocString)
	if m.Graph != nil {
		b = appendMessage(b, 7, marshalGraph(m.Graph))
	}
	for _, opset := range m.OpsetImport {
		b = appendMessage(b, 8, marshalOpset(opset))
	}
	for _, entry := range m.MetadataProps {
		var e []byte
		e = appendStringField(e, 1, entry.Key)
		e = appendStringField(e, 2, entry.Value)
		b = appendMessage(b, 14, e)
	}
	return b
}

func marshalGraph(g *GraphProto) []byte {
	var b []byte
	for i := range g.Nodes {
		b = appendMessage(b, 1, marshalNode(&g.Nodes[i]))
	}
	b = appendStringField(b, 2, g.Name)
	for i := range g.Initializers {
		b = appendMessage(b, 5, marshalTensor(&g.Initializers[i]))
	}
	b = appendStringField(b, 10, g.DocString)
	for i := range g.Inputs {
		b = appendMessage(b, 11, marshalValueInfo(&g.Inputs[i]))
	}
	for i := range g.Outputs {
		b = appendMessage(b, 12, marshalValueInfo(&g.Outputs[i]))
	}
	for i := range g.ValueInfo {
		b = appendMessage(b, 13, marshalValueInfo(&g.ValueInfo[i]))
	}
	return b
}

func marshalNode(n *NodeProto) []byte {
	var b []byte
	for _, in := range n.Inputs {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, in)
	}
	for _, out := range n.Outputs {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendString(b, out)
	}
	b = appendStringField(b, 3, n.Name)
	b = appendStringField(b, 4, n.OpType)
	for i := range n.Attributes {
		b = appendMessage(b, 5, marshalAttribute(&n.Attributes[i]))
	}
	b = appendStringField(b, 6, n.DocString)
	b = appendStringField(b, 7, n.Domain)
	return b
}

func marshalTensor(t *TensorProto) []byte {
	var b []byte
	b = appendPackedInt64s(b, 1, t.Dims)
	b = appendVarintField(b, 2, uint64(t.DataType)) //nolint:gosec // G115: element types are small enums
	b = appendPackedFloats(b, 4, t.FloatData)
	if len(t.Int32Data) > 0 {
		var packed []byte
		for _, v := range t.Int32Data {
			packed = protowire.AppendVarint(packed, uint64(int64(v))) //nolint:gosec // G115: two's complement encoding
		}
		b = appendMessage(b, 5, packed)
	}
	b = appendPackedInt64s(b, 7, t.Int64Data)
	b = appendStringField(b, 8, t.Name)
	if len(t.RawData) > 0 {
		b = protowire.AppendTag(b, 9, protowire.BytesType)
		b = protowire.AppendBytes(b, t.RawData)
	}
	b = appendStringField(b, 12, t.DocString)
	return b
}

func marshalValueInfo(v *ValueInfoProto) []byte {
	var b []byte
	b = appendStringField(b, 1, v.Name)
	if v.Type != nil {
		var tp []byte
		if tt := v.Type.TensorType; tt != nil {
			var t []byte
			t = appendVarintField(t, 1, uint64(tt.ElemType)) //nolint:gosec // G115: element types are small enums
			if tt.Shape != nil {
				var shape []byte
				for _, d := range tt.Shape.Dims {
					var dim []byte
					if d.DimParam != "" {
						dim = appendStringField(dim, 2, d.DimParam)
					} else {
						dim = protowire.AppendTag(dim, 1, protowire.VarintType)
						dim = protowire.AppendVarint(dim, uint64(d.DimValue)) //nolint:gosec // G115: dimensions are positive
					}
					shape = appendMessage(shape, 1, dim)
				}
				t = appendMessage(t, 2, shape)
			}
			tp = appendMessage(tp, 1, t)
		}
		b = appendMessage(b, 2, tp)
	}
	b = appendStringField(b, 3, v.DocString)
	return b
}

func marshalAttribute(a *AttributeProto) []byte {
	var b []byte
	b = appendStringField(b, 1, a.Name)
	switch a.Type {
	case AttributeProtoFloat:
		b = protowire.AppendTag(b, 2, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, math.Float32bits(a.F))
	case AttributeProtoInt:
		b = protowire.AppendTag(b, 3, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(a.I)) //nolint:gosec // G115: two's complement encoding
	case AttributeProtoString:
		b = protowire.AppendTag(b, 4, protowire.BytesType)
		b = protowire.AppendBytes(b, a.S)
	case AttributeProtoTensor:
		if a.T != nil {
			b = appendMessage(b, 5, marshalTensor(a.T))
		}
	case AttributeProtoFloats:
		b = appendPackedFloats(b, 7, a.Floats)
	case AttributeProtoInts:
		b = appendPackedInt64s(b, 8, a.Ints)
	case AttributeProtoStrings:
		for _, s := range a.Strings {
			b = protowire.AppendTag(b, 9, protowire.BytesType)
			b = protowire.AppendBytes(b, s)
		}
	}
	b = appendStringField(b, 13, a.DocString)
	b = appendVarintField(b, 20, uint64(a.Type)) //nolint:gosec // G115: attribute types are small enums
	return b
}

func marshalOpset(o OperatorSetID) []byte {
	var b []byte
	b = appendStringField(b, 1, o.Domain)
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(o.Version)) //nolint:gosec // G115: opset versions are positive
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

func appendStringField(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendPackedInt64s(b []byte, num protowire.Number, values []int64) []byte {
	if len(values) == 0 {
		return b
	}
	var packed []byte
	for _, v := range values {
		packed = protowire.AppendVarint(packed, uint64(v)) //nolint:gosec // G115: two's complement encoding
	}
	return appendMessage(b, num, packed)
}

func appendPackedFloats(b []byte, num protowire.Number, values []float32) []byte {
	if len(values) == 0 {
		return b
	}
	packed := make([]byte, 0, 4*len(values))
	for _, v := range values {
		packed = protowire.AppendFixed32(packed, math.Float32bits(v))
	}
	return appendMessage(b, num, packed)
}

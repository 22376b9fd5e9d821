package onnx

import (
	"fmt"
	"math"
	"os"

	"google.golang.org/protobuf/encoding/protowire"
)

// ParseFile parses an ONNX model from file.
//
//nolint:gosec // G304: Path is provided by user, file inclusion is intentional for ONNX model loading
func ParseFile(path string) (*ModelProto, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return Parse(data)
}

// Parse parses an ONNX model from bytes. Unknown fields are skipped.
func Parse(data []byte) (*ModelProto, error) {
	model := &ModelProto{}
	if err := parseModel(data, model); err != nil {
		return nil, fmt.Errorf("failed to parse model: %w", err)
	}
	return model, nil
}

// field is one decoded protobuf field. Exactly one of the value members is
// meaningful, selected by typ.
type field struct {
	num     protowire.Number
	typ     protowire.Type
	varint  uint64
	fixed32 uint32
	bytes   []byte
}

func (f field) asString() string { return string(f.bytes) }

func (f field) asInt64() int64 { return int64(f.varint) } //nolint:gosec // G115: two's complement decoding

// walk decodes every field of a message and hands it to fn.
func walk(b []byte, fn func(f field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.varint, n = protowire.ConsumeVarint(b)
		case protowire.Fixed32Type:
			f.fixed32, n = protowire.ConsumeFixed32(b)
		case protowire.BytesType:
			f.bytes, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return fmt.Errorf("field %d: %w", num, protowire.ParseError(n))
		}
		b = b[n:]

		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

// int64s decodes a repeated int64 field in packed or unpacked form.
func int64s(dst []int64, f field) ([]int64, error) {
	if f.typ != protowire.BytesType {
		return append(dst, f.asInt64()), nil
	}
	b := f.bytes
	for len(b) > 0 {
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		dst = append(dst, int64(v)) //nolint:gosec // G115: two's complement decoding
		b = b[n:]
	}
	return dst, nil
}

// floats decodes a repeated float field in packed or unpacked form.
func floats(dst []float32, f field) ([]float32, error) {
	if f.typ == protowire.Fixed32Type {
		return append(dst, math.Float32frombits(f.fixed32)), nil
	}
	b := f.bytes
	for len(b) > 0 {
		v, n := protowire.ConsumeFixed32(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		dst = append(dst, math.Float32frombits(v))
		b = b[n:]
	}
	return dst, nil
}

func parseModel(b []byte, m *ModelProto) error {
	return walk(b, func(f field) error {
		switch f.num {
		case 1:
			m.IRVersion = f.asInt64()
		case 2:
			m.ProducerName = f.asString()
		case 3:
			m.ProducerVersion = f.asString()
		case 4:
			m.Domain = f.asString()
		case 5:
			m.ModelVersion = f.asInt64()
		case 6:
			m.DocString = f.asString()
		case 7:
			m.Graph = &GraphProto{}
			return parseGraph(f.bytes, m.Graph)
		case 8:
			var opset OperatorSetID
			if err := walk(f.bytes, func(f field) error {
				switch f.num {
				case 1:
					opset.Domain = f.asString()
				case 2:
					opset.Version = f.asInt64()
				}
				return nil
			}); err != nil {
				return fmt.Errorf("opset_import: %w", err)
			}
			m.OpsetImport = append(m.OpsetImport, opset)
		case 14:
			var entry StringStringEntry
			if err := walk(f.bytes, func(f field) error {
				switch f.num {
				case 1:
					entry.Key = f.asString()
				case 2:
					entry.Value = f.asString()
				}
				return nil
			}); err != nil {
				return fmt.Errorf("metadata_props: %w", err)
			}
			m.MetadataProps = append(m.MetadataProps, entry)
		}
		return nil
	})
}

func parseGraph(b []byte, g *GraphProto) error {
	return walk(b, func(f field) error {
		switch f.num {
		case 1:
			var node NodeProto
			if err := parseNode(f.bytes, &node); err != nil {
				return fmt.Errorf("node %d: %w", len(g.Nodes), err)
			}
			g.Nodes = append(g.Nodes, node)
		case 2:
			g.Name = f.asString()
		case 5:
			var t TensorProto
			if err := parseTensor(f.bytes, &t); err != nil {
				return fmt.Errorf("initializer %d: %w", len(g.Initializers), err)
			}
			g.Initializers = append(g.Initializers, t)
		case 10:
			g.DocString = f.asString()
		case 11, 12, 13:
			var vi ValueInfoProto
			if err := parseValueInfo(f.bytes, &vi); err != nil {
				return err
			}
			switch f.num {
			case 11:
				g.Inputs = append(g.Inputs, vi)
			case 12:
				g.Outputs = append(g.Outputs, vi)
			default:
				g.ValueInfo = append(g.ValueInfo, vi)
			}
		}
		return nil
	})
}

func parseNode(b []byte, n *NodeProto) error {
	return walk(b, func(f field) error {
		switch f.num {
		case 1:
			n.Inputs = append(n.Inputs, f.asString())
		case 2:
			n.Outputs = append(n.Outputs, f.asString())
		case 3:
			n.Name = f.asString()
		case 4:
			n.OpType = f.asString()
		case 5:
			var attr AttributeProto
			if err := parseAttribute(f.bytes, &attr); err != nil {
				return err
			}
			n.Attributes = append(n.Attributes, attr)
		case 6:
			n.DocString = f.asString()
		case 7:
			n.Domain = f.asString()
		}
		return nil
	})
}

func parseTensor(b []byte, t *TensorProto) error {
	return walk(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			t.Dims, err = int64s(t.Dims, f)
		case 2:
			t.DataType = int32(f.varint) //nolint:gosec // G115: element types are small enums
		case 4:
			t.FloatData, err = floats(t.FloatData, f)
		case 5:
			var values []int64
			values, err = int64s(nil, f)
			for _, v := range values {
				t.Int32Data = append(t.Int32Data, int32(v)) //nolint:gosec // G115: int32_data holds int32 values
			}
		case 7:
			t.Int64Data, err = int64s(t.Int64Data, f)
		case 8:
			t.Name = f.asString()
		case 9:
			t.RawData = f.bytes
		case 12:
			t.DocString = f.asString()
		}
		return err
	})
}

func parseValueInfo(b []byte, v *ValueInfoProto) error {
	return walk(b, func(f field) error {
		switch f.num {
		case 1:
			v.Name = f.asString()
		case 2:
			v.Type = &TypeProto{}
			return walk(f.bytes, func(f field) error {
				if f.num != 1 {
					return nil
				}
				v.Type.TensorType = &TensorTypeProto{}
				return parseTensorType(f.bytes, v.Type.TensorType)
			})
		case 3:
			v.DocString = f.asString()
		}
		return nil
	})
}

func parseTensorType(b []byte, t *TensorTypeProto) error {
	return walk(b, func(f field) error {
		switch f.num {
		case 1:
			t.ElemType = int32(f.varint) //nolint:gosec // G115: element types are small enums
		case 2:
			t.Shape = &TensorShapeProto{}
			return walk(f.bytes, func(f field) error {
				if f.num != 1 {
					return nil
				}
				var dim DimensionProto
				if err := walk(f.bytes, func(f field) error {
					switch f.num {
					case 1:
						dim.DimValue = f.asInt64()
					case 2:
						dim.DimParam = f.asString()
					}
					return nil
				}); err != nil {
					return err
				}
				t.Shape.Dims = append(t.Shape.Dims, dim)
				return nil
			})
		}
		return nil
	})
}

func parseAttribute(b []byte, a *AttributeProto) error {
	return walk(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			a.Name = f.asString()
		case 2:
			a.F = math.Float32frombits(f.fixed32)
		case 3:
			a.I = f.asInt64()
		case 4:
			a.S = f.bytes
		case 5:
			a.T = &TensorProto{}
			err = parseTensor(f.bytes, a.T)
		case 7:
			a.Floats, err = floats(a.Floats, f)
		case 8:
			a.Ints, err = int64s(a.Ints, f)
		case 9:
			a.Strings = append(a.Strings, f.bytes)
		case 13:
			a.DocString = f.asString()
		case 20:
			a.Type = int32(f.varint) //nolint:gosec // G115: attribute types are small enums
		}
		if err != nil {
			return fmt.Errorf("attribute %q: %w", a.Name, err)
		}
		return nil
	})
}

package operators

import (
	"fmt"

	"github.com/born-ml/facenet/internal/tensor"
)

// registerUtilityOps adds type conversion and normalization operators.
func (r *Registry) registerUtilityOps() {
	r.Register("Cast", handleCast)
	r.Register("LpNormalization", handleLpNormalization)
}

// DataTypeFromProto maps an ONNX element type to a tensor data type.
func DataTypeFromProto(onnxType int64) (tensor.DataType, error) {
	switch onnxType {
	case TensorProtoFloat:
		return tensor.Float32, nil
	case TensorProtoFloat16:
		return tensor.Float16, nil
	case TensorProtoInt64:
		return tensor.Int64, nil
	default:
		return 0, fmt.Errorf("unsupported element type %d", onnxType)
	}
}

func handleCast(_ *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := requireInputs("cast", inputs, 1, 1); err != nil {
		return nil, err
	}
	if !HasAttr(node, "to") {
		return nil, fmt.Errorf("cast: missing 'to' attribute")
	}
	dtype, err := DataTypeFromProto(GetAttrInt(node, "to", 0))
	if err != nil {
		return nil, fmt.Errorf("cast: %w", err)
	}
	result, err := tensor.Cast(inputs[0], dtype)
	if err != nil {
		return nil, fmt.Errorf("cast: %w", err)
	}
	return single(result), nil
}

// handleLpNormalization normalizes the rows of a 2D tensor.
func handleLpNormalization(_ *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := requireInputs("lpNormalization", inputs, 1, 1); err != nil {
		return nil, err
	}
	x := inputs[0]
	axis := GetAttrInt(node, "axis", -1)
	if len(x.Shape()) != 2 || (axis != 1 && axis != -1) {
		return nil, fmt.Errorf("lpNormalization: only axis 1 of a 2D tensor is supported, got axis %d of %v", axis, x.Shape())
	}
	result, err := tensor.LpNormalize(x, int(GetAttrInt(node, "p", 2)))
	if err != nil {
		return nil, fmt.Errorf("lpNormalization: %w", err)
	}
	return single(result), nil
}

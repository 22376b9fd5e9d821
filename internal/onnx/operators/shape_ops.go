package operators

import (
	"fmt"

	"github.com/born-ml/facenet/internal/tensor"
)

// registerShapeOps adds shape manipulation operators to the registry.
func (r *Registry) registerShapeOps() {
	r.Register("Flatten", handleFlatten)
	r.Register("Identity", handleIdentity)
}

func handleFlatten(_ *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := requireInputs("flatten", inputs, 1, 1); err != nil {
		return nil, err
	}
	result, err := tensor.Flatten(inputs[0], int(GetAttrInt(node, "axis", 1)))
	if err != nil {
		return nil, fmt.Errorf("flatten: %w", err)
	}
	return single(result), nil
}

func handleIdentity(_ *Context, _ *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := requireInputs("identity", inputs, 1, 1); err != nil {
		return nil, err
	}
	return single(inputs[0]), nil
}

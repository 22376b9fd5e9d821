package operators

import (
	"errors"
	"fmt"
	"sort"

	"github.com/born-ml/facenet/internal/tensor"
)

// ErrUnsupportedOperator is returned for op types without a handler.
var ErrUnsupportedOperator = errors.New("unsupported operator")

// OpHandler processes an ONNX node and returns output tensors.
type OpHandler func(ctx *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error)

// Context provides the backend operators dispatch to.
type Context struct {
	Backend tensor.Backend
}

// Registry maps ONNX operator types to handler functions.
type Registry struct {
	handlers map[string]OpHandler
}

// NewRegistry creates a registry with every built-in operator.
func NewRegistry() *Registry {
	r := &Registry{
		handlers: make(map[string]OpHandler),
	}

	r.registerConvOps()
	r.registerMathOps()
	r.registerShapeOps()
	r.registerUtilityOps()

	return r
}

// Register adds or replaces an operator handler.
func (r *Registry) Register(opType string, handler OpHandler) {
	r.handlers[opType] = handler
}

// Get returns the handler for an operator type.
func (r *Registry) Get(opType string) (OpHandler, bool) {
	h, ok := r.handlers[opType]
	return h, ok
}

// Execute runs an operator with the given inputs.
//
// Backend kernels panic on shape violations; Execute reports those as errors.
func (r *Registry) Execute(ctx *Context, node *Node, inputs []*tensor.RawTensor) (outputs []*tensor.RawTensor, err error) {
	handler, ok := r.handlers[node.OpType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedOperator, node.OpType)
	}
	defer func() {
		if rec := recover(); rec != nil {
			outputs, err = nil, fmt.Errorf("%s: %v", node.OpType, rec)
		}
	}()
	return handler(ctx, node, inputs)
}

// SupportedOps returns all registered operator types in sorted order.
func (r *Registry) SupportedOps() []string {
	ops := make([]string, 0, len(r.handlers))
	for op := range r.handlers {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}

func requireInputs(op string, inputs []*tensor.RawTensor, minCount, maxCount int) error {
	if len(inputs) < minCount || len(inputs) > maxCount {
		if minCount == maxCount {
			return fmt.Errorf("%s requires %d inputs, got %d", op, minCount, len(inputs))
		}
		return fmt.Errorf("%s requires %d to %d inputs, got %d", op, minCount, maxCount, len(inputs))
	}
	for i := 0; i < minCount; i++ {
		if inputs[i] == nil {
			return fmt.Errorf("%s: input %d is missing", op, i)
		}
	}
	return nil
}

func single(t *tensor.RawTensor) []*tensor.RawTensor {
	return []*tensor.RawTensor{t}
}

package operators

import (
	"fmt"

	"github.com/born-ml/facenet/internal/tensor"
)

// registerMathOps adds math operators to the registry.
func (r *Registry) registerMathOps() {
	r.Register("Add", handleAdd)
	r.Register("Mul", handleMul)
	r.Register("Gemm", handleGemm)
}

func handleAdd(ctx *Context, _ *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := requireInputs("add", inputs, 2, 2); err != nil {
		return nil, err
	}
	return single(ctx.Backend.Add(inputs[0], inputs[1])), nil
}

func handleMul(ctx *Context, _ *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := requireInputs("mul", inputs, 2, 2); err != nil {
		return nil, err
	}
	return single(ctx.Backend.Mul(inputs[0], inputs[1])), nil
}

// handleGemm implements General Matrix Multiplication: Y = alpha*A*B + beta*C.
func handleGemm(ctx *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := requireInputs("gemm", inputs, 2, 3); err != nil {
		return nil, err
	}

	alpha := GetAttrFloat(node, "alpha", 1.0)
	beta := GetAttrFloat(node, "beta", 1.0)
	transA := GetAttrInt(node, "transA", 0) != 0
	transB := GetAttrInt(node, "transB", 0) != 0

	a, b := inputs[0], inputs[1]
	if len(a.Shape()) != 2 || len(b.Shape()) != 2 {
		return nil, fmt.Errorf("gemm: expected 2D operands, got %v and %v", a.Shape(), b.Shape())
	}
	if transA {
		a = ctx.Backend.Transpose(a, 1, 0)
	}
	if transB {
		b = ctx.Backend.Transpose(b, 1, 0)
	}
	if a.Shape()[1] != b.Shape()[0] {
		return nil, fmt.Errorf("gemm: inner dimensions differ: %v x %v", a.Shape(), b.Shape())
	}

	result := ctx.Backend.MatMul(a, b)
	if alpha != 1 {
		result = ctx.Backend.Mul(result, scalar(alpha))
	}
	if len(inputs) == 3 && inputs[2] != nil && beta != 0 {
		c := inputs[2]
		if beta != 1 {
			c = ctx.Backend.Mul(c, scalar(beta))
		}
		result = ctx.Backend.Add(result, c)
	}
	return single(result), nil
}

func scalar(v float32) *tensor.RawTensor {
	t, err := tensor.RawFromFloat32([]float32{v}, tensor.Shape{}, tensor.CPU)
	if err != nil {
		panic(err) // a scalar shape is always valid
	}
	return t
}

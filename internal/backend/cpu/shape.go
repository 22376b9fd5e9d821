package cpu

import (
	"fmt"

	"github.com/born-ml/facenet/internal/tensor"
)

// Reshape returns a view of t with newShape. One dimension may be -1.
func (cpu *CPUBackend) Reshape(t *tensor.RawTensor, newShape tensor.Shape) *tensor.RawTensor {
	result, err := tensor.Reshape(t, newShape)
	if err != nil {
		panic(fmt.Sprintf("reshape: %v", err))
	}
	return result
}

// Transpose permutes the axes of t. With no axes the order is reversed.
func (cpu *CPUBackend) Transpose(t *tensor.RawTensor, axes ...int) *tensor.RawTensor {
	shape := t.Shape()
	ndim := len(shape)

	if len(axes) == 0 {
		axes = make([]int, ndim)
		for i := range axes {
			axes[i] = ndim - 1 - i
		}
	}
	if len(axes) != ndim {
		panic(fmt.Sprintf("transpose: got %d axes for %dD tensor", len(axes), ndim))
	}

	seen := make([]bool, ndim)
	outShape := make(tensor.Shape, ndim)
	for i, ax := range axes {
		if ax < 0 || ax >= ndim || seen[ax] {
			panic(fmt.Sprintf("transpose: invalid axes %v for %dD tensor", axes, ndim))
		}
		seen[ax] = true
		outShape[i] = shape[ax]
	}

	result, err := tensor.NewRaw(outShape, t.DType(), cpu.device)
	if err != nil {
		panic(fmt.Sprintf("transpose: failed to create result tensor: %v", err))
	}

	// Copy element by element as raw bytes so every dtype shares one path.
	elem := t.DType().Size()
	src, dst := t.Data(), result.Data()
	inStrides := shape.ComputeStrides()
	outStrides := outShape.ComputeStrides()
	permStrides := make([]int, ndim)
	for i, ax := range axes {
		permStrides[i] = inStrides[ax]
	}

	for i := 0; i < result.NumElements(); i++ {
		j := flatIndex(i, outStrides, permStrides)
		copy(dst[i*elem:(i+1)*elem], src[j*elem:(j+1)*elem])
	}

	return result
}

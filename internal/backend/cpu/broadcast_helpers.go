package cpu

import (
	"github.com/born-ml/facenet/internal/tensor"
)

// broadcastStrides returns strides that map an index in outShape back into
// a tensor of inShape. Dimensions that are padded or of size 1 get stride 0.
func broadcastStrides(inShape, outShape tensor.Shape) []int {
	strides := make([]int, len(outShape))
	offset := len(outShape) - len(inShape)
	inStrides := inShape.ComputeStrides()

	for i := range outShape {
		j := i - offset
		if j < 0 || inShape[j] == 1 {
			continue
		}
		strides[i] = inStrides[j]
	}
	return strides
}

// flatIndex converts a flat output offset into the matching input offset.
func flatIndex(outIdx int, outStrides, inStrides []int) int {
	idx := 0
	for i, s := range outStrides {
		coord := outIdx / s
		outIdx %= s
		idx += coord * inStrides[i]
	}
	return idx
}

package tensor

import (
	"fmt"
	"math"

	"github.com/x448/float16"
)

// Cast converts a tensor to a different data type.
//
// Float32 -> Float16 rounds to nearest even; Float16 -> Float32 is exact.
// Int64 converts to floats by value.
func Cast(x *RawTensor, dtype DataType) (*RawTensor, error) {
	if x == nil {
		return nil, fmt.Errorf("Cast: input tensor is nil")
	}
	if x.dtype == dtype {
		return x.Clone(), nil
	}

	result, err := NewRaw(x.shape, dtype, x.device)
	if err != nil {
		return nil, fmt.Errorf("Cast: %w", err)
	}

	switch {
	case x.dtype == Float32 && dtype == Float16:
		out := result.AsFloat16Bits()
		for i, v := range x.AsFloat32() {
			out[i] = float16.Fromfloat32(v).Bits()
		}
	case x.dtype == Float16 && dtype == Float32:
		out := result.AsFloat32()
		for i, bits := range x.AsFloat16Bits() {
			out[i] = float16.Frombits(bits).Float32()
		}
	case x.dtype == Int64 && dtype == Float32:
		out := result.AsFloat32()
		for i, v := range x.AsInt64() {
			out[i] = float32(v)
		}
	case x.dtype == Float32 && dtype == Int64:
		out := result.AsInt64()
		for i, v := range x.AsFloat32() {
			out[i] = int64(v)
		}
	default:
		return nil, fmt.Errorf("Cast: unsupported conversion %s -> %s", x.dtype, dtype)
	}

	return result, nil
}

// RoundToFloat16 returns a Float32 tensor whose values are rounded to the
// nearest half precision value. It models float16 storage while keeping
// float32 kernels.
func RoundToFloat16(x *RawTensor) (*RawTensor, error) {
	half, err := Cast(x, Float16)
	if err != nil {
		return nil, err
	}
	return Cast(half, Float32)
}

// Float64sToRaw converts float64 values (e.g. a double precision checkpoint
// tensor) to a Float32 tensor.
func Float64sToRaw(values []float64, shape Shape, device Device) (*RawTensor, error) {
	out := make([]float32, len(values))
	for i, v := range values {
		out[i] = float32(v)
	}
	return RawFromFloat32(out, shape, device)
}

// Reshape returns a tensor sharing x's data under newShape.
//
// A single -1 dimension is inferred from the element count.
func Reshape(x *RawTensor, newShape Shape) (*RawTensor, error) {
	if x == nil {
		return nil, fmt.Errorf("Reshape: input tensor is nil")
	}

	total := x.NumElements()
	inferIdx := -1
	product := 1
	for i, dim := range newShape {
		switch {
		case dim == -1:
			if inferIdx >= 0 {
				return nil, fmt.Errorf("Reshape: can only have one -1 dimension")
			}
			inferIdx = i
		case dim <= 0:
			return nil, fmt.Errorf("Reshape: dimensions must be positive, got %d", dim)
		default:
			product *= dim
		}
	}

	actual := newShape.Clone()
	if inferIdx >= 0 {
		if total%product != 0 {
			return nil, fmt.Errorf("Reshape: cannot infer dimension for shape %v from %d elements", newShape, total)
		}
		actual[inferIdx] = total / product
	}

	view, err := x.View(actual)
	if err != nil {
		return nil, fmt.Errorf("Reshape: %w", err)
	}
	return view, nil
}

// Flatten collapses dimensions [0, axis) and [axis, rank) into a 2D tensor.
func Flatten(x *RawTensor, axis int) (*RawTensor, error) {
	if x == nil {
		return nil, fmt.Errorf("Flatten: input tensor is nil")
	}

	rank := len(x.shape)
	if axis < 0 {
		axis += rank
	}
	if axis < 0 || axis > rank {
		return nil, fmt.Errorf("Flatten: axis %d out of range [0, %d]", axis, rank)
	}

	outer := 1
	for _, dim := range x.shape[:axis] {
		outer *= dim
	}
	return Reshape(x, Shape{outer, x.NumElements() / outer})
}

// LpNormalize scales each slice along axis 1 of a 2D tensor to unit Lp norm.
// Only p = 1 and p = 2 are supported. Zero rows are left unchanged.
func LpNormalize(x *RawTensor, p int) (*RawTensor, error) {
	if x == nil {
		return nil, fmt.Errorf("LpNormalize: input tensor is nil")
	}
	if len(x.shape) != 2 {
		return nil, fmt.Errorf("LpNormalize: expected 2D input, got %v", x.shape)
	}
	if p != 1 && p != 2 {
		return nil, fmt.Errorf("LpNormalize: unsupported p=%d", p)
	}

	result := x.Clone()
	rows, cols := x.shape[0], x.shape[1]
	data := result.AsFloat32()
	for r := 0; r < rows; r++ {
		row := data[r*cols : (r+1)*cols]
		var norm float64
		for _, v := range row {
			if p == 1 {
				norm += math.Abs(float64(v))
			} else {
				norm += float64(v) * float64(v)
			}
		}
		if p == 2 {
			norm = math.Sqrt(norm)
		}
		if norm == 0 {
			continue
		}
		for i := range row {
			row[i] = float32(float64(row[i]) / norm)
		}
	}
	return result, nil
}

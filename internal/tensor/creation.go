package tensor

import (
	"math/rand"
)

// Zeros creates a tensor filled with zeros.
//
// Example:
//
//	backend := cpu.New()
//	t := tensor.Zeros[float32](Shape{3, 4}, backend)
func Zeros[T DType, B Backend](shape Shape, b B) *Tensor[T, B] {
	var dummy T
	raw, err := NewRaw(shape, inferDataType(dummy), b.Device())
	if err != nil {
		panic(err)
	}
	return New[T, B](raw, b)
}

// Full creates a tensor filled with a specific value.
func Full[T DType, B Backend](shape Shape, value T, b B) *Tensor[T, B] {
	t := Zeros[T, B](shape, b)
	data := t.Data()
	for i := range data {
		data[i] = value
	}
	return t
}

// Ones creates a tensor filled with ones.
func Ones[T DType, B Backend](shape Shape, b B) *Tensor[T, B] {
	return Full[T, B](shape, T(1), b)
}

// Rand creates a float32 tensor with values uniformly distributed in [0, 1).
//
// Values are drawn from rng so that a fixed seed reproduces the tensor.
//
// Example:
//
//	rng := rand.New(rand.NewSource(0))
//	x := tensor.Rand(Shape{1, 3, 112, 112}, rng, backend)
func Rand[B Backend](shape Shape, rng *rand.Rand, b B) *Tensor[float32, B] {
	t := Zeros[float32, B](shape, b)
	data := t.Data()
	for i := range data {
		data[i] = rng.Float32()
	}
	return t
}

// Uniform creates a float32 tensor with values uniformly distributed in
// [-bound, bound).
func Uniform[B Backend](shape Shape, bound float64, rng *rand.Rand, b B) *Tensor[float32, B] {
	t := Zeros[float32, B](shape, b)
	data := t.Data()
	for i := range data {
		data[i] = float32((rng.Float64()*2.0 - 1.0) * bound)
	}
	return t
}

// Randn creates a float32 tensor with values from N(0, 1).
func Randn[B Backend](shape Shape, rng *rand.Rand, b B) *Tensor[float32, B] {
	t := Zeros[float32, B](shape, b)
	data := t.Data()
	for i := range data {
		data[i] = float32(rng.NormFloat64())
	}
	return t
}

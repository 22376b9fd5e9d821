package nn

import (
	"math"
	"math/rand"

	"github.com/born-ml/facenet/internal/tensor"
)

// KaimingUniform initializes weights the way PyTorch's Conv2d and Linear do
// by default (kaiming_uniform_ with a = sqrt(5)).
//
// Values are drawn from U(-bound, bound) with bound = 1/sqrt(fan_in).
// The generator is supplied by the caller so a fixed seed reproduces the
// same weights.
//
// Parameters:
//   - fanIn: Number of inputs feeding one output unit
//   - shape: Shape of the weight tensor
//   - rng: Source of randomness
//   - backend: Backend to use for tensor creation
func KaimingUniform[B tensor.Backend](fanIn int, shape tensor.Shape, rng *rand.Rand, backend B) *tensor.Tensor[float32, B] {
	bound := 1.0 / math.Sqrt(float64(fanIn))
	return tensor.Uniform(shape, bound, rng, backend)
}

// Zeros creates a tensor filled with zeros.
//
// This is commonly used for bias initialization.
func Zeros[B tensor.Backend](shape tensor.Shape, backend B) *tensor.Tensor[float32, B] {
	return tensor.Zeros[float32](shape, backend)
}

// Ones creates a tensor filled with ones.
func Ones[B tensor.Backend](shape tensor.Shape, backend B) *tensor.Tensor[float32, B] {
	return tensor.Ones[float32](shape, backend)
}

// Full creates a tensor filled with value.
func Full[B tensor.Backend](shape tensor.Shape, value float32, backend B) *tensor.Tensor[float32, B] {
	return tensor.Full(shape, value, backend)
}

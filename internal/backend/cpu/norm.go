package cpu

import (
	"fmt"
	"math"

	"github.com/born-ml/facenet/internal/parallel"
	"github.com/born-ml/facenet/internal/tensor"
)

// BatchNorm applies inference-mode batch normalization along axis 1.
//
// Works for [N, C] and [N, C, ...] inputs. The per-channel affine is folded
// to y = x*scale + shift with scale = gamma/sqrt(var+eps) and
// shift = beta - mean*scale.
func (cpu *CPUBackend) BatchNorm(x, mean, variance, gamma, beta *tensor.RawTensor, eps float32) *tensor.RawTensor {
	requireFloat32("batchnorm", x, mean, variance, gamma, beta)

	shape := x.Shape()
	if len(shape) < 2 {
		panic(fmt.Sprintf("batchnorm: input must be at least 2D [N,C,...], got %v", shape))
	}
	channels := shape[1]
	for name, p := range map[string]*tensor.RawTensor{"mean": mean, "variance": variance, "gamma": gamma, "beta": beta} {
		if p.NumElements() != channels {
			panic(fmt.Sprintf("batchnorm: %s has %d elements, expected %d", name, p.NumElements(), channels))
		}
	}

	scale := make([]float32, channels)
	shift := make([]float32, channels)
	m, v, gm, bt := mean.AsFloat32(), variance.AsFloat32(), gamma.AsFloat32(), beta.AsFloat32()
	for c := 0; c < channels; c++ {
		s := gm[c] / float32(math.Sqrt(float64(v[c]+eps)))
		scale[c] = s
		shift[c] = bt[c] - m[c]*s
	}

	result, err := tensor.NewRaw(shape, tensor.Float32, cpu.device)
	if err != nil {
		panic(fmt.Sprintf("batchnorm: failed to create result tensor: %v", err))
	}

	in, out := x.AsFloat32(), result.AsFloat32()
	inner := spatialSize(shape)
	parallel.ForBatch(shape[0], channels, func(n, c int) {
		off := (n*channels + c) * inner
		s, b := scale[c], shift[c]
		for i := off; i < off+inner; i++ {
			out[i] = in[i]*s + b
		}
	}, cpu.par)

	return result
}

// PReLU applies the parametric ReLU with one slope per channel (axis 1).
// A single-element slope is shared by every channel.
func (cpu *CPUBackend) PReLU(x, slope *tensor.RawTensor) *tensor.RawTensor {
	requireFloat32("prelu", x, slope)

	shape := x.Shape()
	if len(shape) < 2 {
		panic(fmt.Sprintf("prelu: input must be at least 2D [N,C,...], got %v", shape))
	}
	channels := shape[1]
	slopes := slope.AsFloat32()
	if len(slopes) != channels && len(slopes) != 1 {
		panic(fmt.Sprintf("prelu: slope has %d elements, expected 1 or %d", len(slopes), channels))
	}

	result, err := tensor.NewRaw(shape, tensor.Float32, cpu.device)
	if err != nil {
		panic(fmt.Sprintf("prelu: failed to create result tensor: %v", err))
	}

	in, out := x.AsFloat32(), result.AsFloat32()
	inner := spatialSize(shape)
	parallel.ForBatch(shape[0], channels, func(n, c int) {
		a := slopes[0]
		if len(slopes) > 1 {
			a = slopes[c]
		}
		off := (n*channels + c) * inner
		for i := off; i < off+inner; i++ {
			if v := in[i]; v > 0 {
				out[i] = v
			} else {
				out[i] = a * v
			}
		}
	}, cpu.par)

	return result
}

// spatialSize is the element count after the channel axis.
func spatialSize(shape tensor.Shape) int {
	size := 1
	for _, d := range shape[2:] {
		size *= d
	}
	return size
}

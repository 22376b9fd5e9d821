// Package cpu implements the CPU backend: im2col convolutions on gonum's
// BLAS, fused inference normalization, and broadcasting element-wise ops.
package cpu

import (
	"fmt"

	"github.com/born-ml/facenet/internal/parallel"
	"github.com/born-ml/facenet/internal/tensor"
)

// CPUBackend implements tensor.Backend for float32 tensors in host memory.
type CPUBackend struct {
	device tensor.Device
	par    parallel.Config
}

// Compile-time check that CPUBackend implements tensor.Backend.
var _ tensor.Backend = (*CPUBackend)(nil)

// New creates a CPU backend that uses every available core.
func New() *CPUBackend {
	return NewWithConfig(parallel.DefaultConfig())
}

// NewWithConfig creates a CPU backend with explicit parallelism settings.
func NewWithConfig(cfg parallel.Config) *CPUBackend {
	return &CPUBackend{
		device: tensor.CPU,
		par:    cfg,
	}
}

// Name returns the backend name.
func (cpu *CPUBackend) Name() string {
	return "CPU"
}

// Device returns the compute device.
func (cpu *CPUBackend) Device() tensor.Device {
	return cpu.device
}

// Add performs element-wise addition with NumPy-style broadcasting.
func (cpu *CPUBackend) Add(a, b *tensor.RawTensor) *tensor.RawTensor {
	return cpu.binary("add", a, b, func(x, y float32) float32 { return x + y })
}

// Mul performs element-wise multiplication with NumPy-style broadcasting.
func (cpu *CPUBackend) Mul(a, b *tensor.RawTensor) *tensor.RawTensor {
	return cpu.binary("mul", a, b, func(x, y float32) float32 { return x * y })
}

func (cpu *CPUBackend) binary(op string, a, b *tensor.RawTensor, fn func(x, y float32) float32) *tensor.RawTensor {
	requireFloat32(op, a, b)

	outShape, needsBroadcast, err := tensor.BroadcastShapes(a.Shape(), b.Shape())
	if err != nil {
		panic(fmt.Sprintf("%s: %v", op, err))
	}

	result, err := tensor.NewRaw(outShape, tensor.Float32, cpu.device)
	if err != nil {
		panic(fmt.Sprintf("%s: failed to create result tensor: %v", op, err))
	}

	out := result.AsFloat32()
	aData, bData := a.AsFloat32(), b.AsFloat32()

	switch {
	case !needsBroadcast:
		for i := range out {
			out[i] = fn(aData[i], bData[i])
		}
	case b.NumElements() == 1:
		s := bData[0]
		for i := range out {
			out[i] = fn(aData[i], s)
		}
	default:
		outStrides := outShape.ComputeStrides()
		aStrides := broadcastStrides(a.Shape(), outShape)
		bStrides := broadcastStrides(b.Shape(), outShape)
		for i := range out {
			out[i] = fn(aData[flatIndex(i, outStrides, aStrides)], bData[flatIndex(i, outStrides, bStrides)])
		}
	}

	return result
}

func requireFloat32(op string, tensors ...*tensor.RawTensor) {
	for _, t := range tensors {
		if t.DType() != tensor.Float32 {
			panic(fmt.Sprintf("%s: unsupported dtype %s", op, t.DType()))
		}
	}
}

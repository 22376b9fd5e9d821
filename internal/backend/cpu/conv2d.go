package cpu

import (
	"fmt"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/born-ml/facenet/internal/parallel"
	"github.com/born-ml/facenet/internal/tensor"
)

// Conv2D performs a grouped 2D convolution using the im2col algorithm.
//
// Input shape: [N, C_in, H, W]
// Kernel shape: [C_out, C_in/groups, K_h, K_w]
// Output shape: [N, C_out, H_out, W_out]
//
// Algorithm: Im2col per (sample, group) tile
//  1. Unfold the group's input channels into a [C_in/g * K_h * K_w, H_out * W_out] matrix
//  2. Multiply the group's kernel rows [C_out/g, C_in/g * K_h * K_w] with it (SGEMM)
//  3. The product lands directly in the output, which is already NCHW
//
// Tiles write disjoint output ranges and run in parallel.
//
// Reference: "High Performance Convolutional Neural Networks for Document Processing"
// (Chellapilla et al., 2006).
func (cpu *CPUBackend) Conv2D(input, kernel *tensor.RawTensor, params tensor.ConvParams) *tensor.RawTensor {
	requireFloat32("conv2d", input, kernel)

	inputShape := input.Shape()
	kernelShape := kernel.Shape()

	if len(inputShape) != 4 {
		panic(fmt.Sprintf("conv2d: input must be 4D [N,C,H,W], got %dD", len(inputShape)))
	}
	if len(kernelShape) != 4 {
		panic(fmt.Sprintf("conv2d: kernel must be 4D [C_out,C_in/groups,K_h,K_w], got %dD", len(kernelShape)))
	}

	groups := params.Groups
	if groups <= 0 {
		groups = 1
	}
	if params.StrideH <= 0 || params.StrideW <= 0 {
		panic(fmt.Sprintf("conv2d: stride must be positive, got %dx%d", params.StrideH, params.StrideW))
	}

	g := convGeometry{
		n:      inputShape[0],
		cIn:    inputShape[1],
		h:      inputShape[2],
		w:      inputShape[3],
		cOut:   kernelShape[0],
		kh:     kernelShape[2],
		kw:     kernelShape[3],
		groups: groups,
		params: params,
	}

	if g.cIn%groups != 0 || g.cOut%groups != 0 {
		panic(fmt.Sprintf("conv2d: channels in=%d out=%d not divisible by groups=%d", g.cIn, g.cOut, groups))
	}
	if kernelShape[1] != g.cIn/groups {
		panic(fmt.Sprintf("conv2d: input channels %d / groups %d != kernel channels %d", g.cIn, groups, kernelShape[1]))
	}

	g.hOut, g.wOut = params.OutputSize(g.h, g.w, g.kh, g.kw)
	if g.hOut <= 0 || g.wOut <= 0 {
		panic(fmt.Sprintf("conv2d: invalid output dimensions %dx%d for input %dx%d (check stride/padding)",
			g.hOut, g.wOut, g.h, g.w))
	}

	output, err := tensor.NewRaw(tensor.Shape{g.n, g.cOut, g.hOut, g.wOut}, tensor.Float32, cpu.device)
	if err != nil {
		panic(fmt.Sprintf("conv2d: failed to create output tensor: %v", err))
	}

	conv2dFloat32(output.AsFloat32(), input.AsFloat32(), kernel.AsFloat32(), g, cpu.par)
	return output
}

type convGeometry struct {
	n, cIn, h, w int
	cOut, kh, kw int
	hOut, wOut   int
	groups       int
	params       tensor.ConvParams
}

func conv2dFloat32(out, in, kernel []float32, g convGeometry, cfg parallel.Config) {
	inPerGroup := g.cIn / g.groups
	outPerGroup := g.cOut / g.groups
	colRows := inPerGroup * g.kh * g.kw
	colCols := g.hOut * g.wOut

	parallel.ForBatch(g.n, g.groups, func(n, grp int) {
		col := make([]float32, colRows*colCols)
		chanStart := n*g.cIn + grp*inPerGroup
		im2colFloat32(col, in[chanStart*g.h*g.w:(chanStart+inPerGroup)*g.h*g.w], inPerGroup, g)

		weights := blas32.General{
			Rows:   outPerGroup,
			Cols:   colRows,
			Stride: colRows,
			Data:   kernel[grp*outPerGroup*colRows : (grp+1)*outPerGroup*colRows],
		}
		patches := blas32.General{
			Rows:   colRows,
			Cols:   colCols,
			Stride: colCols,
			Data:   col,
		}
		outStart := (n*g.cOut + grp*outPerGroup) * colCols
		dst := blas32.General{
			Rows:   outPerGroup,
			Cols:   colCols,
			Stride: colCols,
			Data:   out[outStart : outStart+outPerGroup*colCols],
		}
		blas32.Gemm(blas.NoTrans, blas.NoTrans, 1, weights, patches, 0, dst)
	}, cfg)
}

// im2colFloat32 unfolds channels [C, H, W] into col [C*K_h*K_w, H_out*W_out].
//
// Row (c, kh, kw) holds the input value under that kernel tap for every
// output position; taps that fall into padding are zero.
func im2colFloat32(col, in []float32, channels int, g convGeometry) {
	p := g.params
	plane := g.hOut * g.wOut
	row := 0

	for c := 0; c < channels; c++ {
		src := in[c*g.h*g.w : (c+1)*g.h*g.w]
		for kh := 0; kh < g.kh; kh++ {
			for kw := 0; kw < g.kw; kw++ {
				dst := col[row*plane : (row+1)*plane]
				idx := 0
				for oh := 0; oh < g.hOut; oh++ {
					ih := oh*p.StrideH - p.PadH + kh
					if ih < 0 || ih >= g.h {
						for ow := 0; ow < g.wOut; ow++ {
							dst[idx] = 0
							idx++
						}
						continue
					}
					srcRow := src[ih*g.w : (ih+1)*g.w]
					for ow := 0; ow < g.wOut; ow++ {
						iw := ow*p.StrideW - p.PadW + kw
						if iw >= 0 && iw < g.w {
							dst[idx] = srcRow[iw]
						} else {
							dst[idx] = 0
						}
						idx++
					}
				}
				row++
			}
		}
	}
}

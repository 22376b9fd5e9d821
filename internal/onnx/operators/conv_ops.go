package operators

import (
	"fmt"

	"github.com/born-ml/facenet/internal/tensor"
)

// registerConvOps adds convolution and normalization operators.
func (r *Registry) registerConvOps() {
	r.Register("Conv", handleConv)
	r.Register("BatchNormalization", handleBatchNorm)
	r.Register("PRelu", handlePRelu)
}

// handleConv supports 2D convolution with symmetric padding and no dilation.
func handleConv(ctx *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := requireInputs("conv", inputs, 2, 3); err != nil {
		return nil, err
	}
	x, w := inputs[0], inputs[1]
	xs, ws := x.Shape(), w.Shape()
	if len(xs) != 4 || len(ws) != 4 {
		return nil, fmt.Errorf("conv: expected 4D input and weight, got %v and %v", xs, ws)
	}

	if autoPad := GetAttrString(node, "auto_pad", "NOTSET"); autoPad != "NOTSET" {
		return nil, fmt.Errorf("conv: auto_pad %s not supported", autoPad)
	}
	for _, d := range GetAttrInts(node, "dilations", nil) {
		if d != 1 {
			return nil, fmt.Errorf("conv: dilation %d not supported", d)
		}
	}
	if k := GetAttrInts(node, "kernel_shape", nil); k != nil {
		if len(k) != 2 || int(k[0]) != ws[2] || int(k[1]) != ws[3] {
			return nil, fmt.Errorf("conv: kernel_shape %v does not match weight %v", k, ws)
		}
	}

	strides := GetAttrInts(node, "strides", []int64{1, 1})
	pads := GetAttrInts(node, "pads", []int64{0, 0, 0, 0})
	if len(strides) != 2 || len(pads) != 4 {
		return nil, fmt.Errorf("conv: expected 2 strides and 4 pads, got %v and %v", strides, pads)
	}
	if pads[0] != pads[2] || pads[1] != pads[3] {
		return nil, fmt.Errorf("conv: asymmetric pads %v not supported", pads)
	}

	group := int(GetAttrInt(node, "group", 1))
	if group <= 0 || xs[1] != ws[1]*group || ws[0]%group != 0 {
		return nil, fmt.Errorf("conv: input %v and weight %v incompatible with group %d", xs, ws, group)
	}

	out := ctx.Backend.Conv2D(x, w, tensor.ConvParams{
		StrideH: int(strides[0]),
		StrideW: int(strides[1]),
		PadH:    int(pads[0]),
		PadW:    int(pads[1]),
		Groups:  group,
	})

	if len(inputs) == 3 && inputs[2] != nil {
		bias, err := tensor.Reshape(inputs[2], tensor.Shape{1, ws[0], 1, 1})
		if err != nil {
			return nil, fmt.Errorf("conv: bias: %w", err)
		}
		out = ctx.Backend.Add(out, bias)
	}
	return single(out), nil
}

// handleBatchNorm implements inference-mode BatchNormalization.
func handleBatchNorm(ctx *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := requireInputs("batchNormalization", inputs, 5, 5); err != nil {
		return nil, err
	}
	if GetAttrInt(node, "training_mode", 0) != 0 {
		return nil, fmt.Errorf("batchNormalization: training_mode not supported")
	}
	x, scale, bias, mean, variance := inputs[0], inputs[1], inputs[2], inputs[3], inputs[4]
	if len(x.Shape()) < 2 {
		return nil, fmt.Errorf("batchNormalization: expected rank >= 2, got %v", x.Shape())
	}
	channels := x.Shape()[1]
	for i, p := range []*tensor.RawTensor{scale, bias, mean, variance} {
		if p.NumElements() != channels {
			return nil, fmt.Errorf("batchNormalization: input %d has %d elements for %d channels", i+1, p.NumElements(), channels)
		}
	}

	eps := GetAttrFloat(node, "epsilon", 1e-5)
	return single(ctx.Backend.BatchNorm(x, mean, variance, scale, bias, eps)), nil
}

// handlePRelu accepts a slope with one value or one value per channel.
func handlePRelu(ctx *Context, _ *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := requireInputs("pRelu", inputs, 2, 2); err != nil {
		return nil, err
	}
	x := inputs[0]
	slope, err := tensor.Reshape(inputs[1], tensor.Shape{-1})
	if err != nil {
		return nil, fmt.Errorf("pRelu: %w", err)
	}
	if n := slope.NumElements(); n != 1 && (len(x.Shape()) < 2 || n != x.Shape()[1]) {
		return nil, fmt.Errorf("pRelu: slope with %d elements does not broadcast to %v", n, x.Shape())
	}
	return single(ctx.Backend.PReLU(x, slope)), nil
}

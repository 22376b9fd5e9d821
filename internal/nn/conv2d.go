package nn

import (
	"fmt"
	"math/rand"

	"github.com/born-ml/facenet/internal/tensor"
	"github.com/born-ml/facenet/internal/trace"
)

// Conv2DConfig describes a 2D convolution layer.
type Conv2DConfig struct {
	InChannels  int
	OutChannels int
	KernelH     int
	KernelW     int
	StrideH     int
	StrideW     int
	PadH        int
	PadW        int
	Groups      int  // 1 for a dense convolution, InChannels for depthwise
	Bias        bool // Add a learnable per-channel bias
}

// SquareConv returns a bias-free config with square kernel, stride and padding.
func SquareConv(in, out, kernel, stride, padding, groups int) Conv2DConfig {
	return Conv2DConfig{
		InChannels:  in,
		OutChannels: out,
		KernelH:     kernel,
		KernelW:     kernel,
		StrideH:     stride,
		StrideW:     stride,
		PadH:        padding,
		PadW:        padding,
		Groups:      groups,
	}
}

// Validate checks the configuration for impossible combinations.
func (c Conv2DConfig) Validate() error {
	switch {
	case c.InChannels <= 0 || c.OutChannels <= 0:
		return fmt.Errorf("conv2d: invalid channels in=%d, out=%d", c.InChannels, c.OutChannels)
	case c.KernelH <= 0 || c.KernelW <= 0:
		return fmt.Errorf("conv2d: invalid kernel size h=%d, w=%d", c.KernelH, c.KernelW)
	case c.StrideH <= 0 || c.StrideW <= 0:
		return fmt.Errorf("conv2d: invalid stride %dx%d", c.StrideH, c.StrideW)
	case c.PadH < 0 || c.PadW < 0:
		return fmt.Errorf("conv2d: invalid padding %dx%d", c.PadH, c.PadW)
	case c.Groups <= 0:
		return fmt.Errorf("conv2d: invalid groups %d", c.Groups)
	case c.InChannels%c.Groups != 0 || c.OutChannels%c.Groups != 0:
		return fmt.Errorf("conv2d: channels in=%d, out=%d not divisible by groups=%d",
			c.InChannels, c.OutChannels, c.Groups)
	}
	return nil
}

// OutputSize returns the spatial output size for an h x w input.
func (c Conv2DConfig) OutputSize(h, w int) (int, int) {
	return c.params().OutputSize(h, w, c.KernelH, c.KernelW)
}

func (c Conv2DConfig) params() tensor.ConvParams {
	return tensor.ConvParams{
		StrideH: c.StrideH,
		StrideW: c.StrideW,
		PadH:    c.PadH,
		PadW:    c.PadW,
		Groups:  c.Groups,
	}
}

// Conv2D implements a grouped 2D convolution layer.
//
// Input shape: [batch, in_channels, height, width]
// Output shape: [batch, out_channels, out_height, out_width]
//
// Where:
//
//	out_height = (height + 2*pad_h - kernel_h) / stride_h + 1
//	out_width = (width + 2*pad_w - kernel_w) / stride_w + 1
//
// Weight shape: [out_channels, in_channels/groups, kernel_h, kernel_w]
// Bias shape: [out_channels] (optional)
//
// Example:
//
//	// Depthwise 3x3, stride 2
//	conv := nn.NewConv2D(nn.SquareConv(128, 128, 3, 2, 1, 128), backend, rng)
//	output := conv.Forward(input) // [N, 128, H/2, W/2]
type Conv2D[B tensor.Backend] struct {
	cfg Conv2DConfig

	weight *Parameter[B] // [out_channels, in_channels/groups, kernel_h, kernel_w]
	bias   *Parameter[B] // [out_channels] or nil

	backend B
}

// NewConv2D creates a Conv2D layer with Kaiming-uniform weights.
//
// Panics if cfg is invalid.
func NewConv2D[B tensor.Backend](cfg Conv2DConfig, backend B, rng *rand.Rand) *Conv2D[B] {
	if err := cfg.Validate(); err != nil {
		panic(err.Error())
	}

	inPerGroup := cfg.InChannels / cfg.Groups
	fanIn := inPerGroup * cfg.KernelH * cfg.KernelW
	weightShape := tensor.Shape{cfg.OutChannels, inPerGroup, cfg.KernelH, cfg.KernelW}

	c := &Conv2D[B]{
		cfg:     cfg,
		weight:  NewParameter("weight", KaimingUniform(fanIn, weightShape, rng, backend)),
		backend: backend,
	}
	if cfg.Bias {
		c.bias = NewParameter("bias", KaimingUniform(fanIn, tensor.Shape{cfg.OutChannels}, rng, backend))
	}
	return c
}

// Forward performs the convolution.
func (c *Conv2D[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	inputShape := input.Shape()
	if len(inputShape) != 4 {
		panic(fmt.Sprintf("conv2d: expected 4D input [N,C,H,W], got %dD", len(inputShape)))
	}
	if inputShape[1] != c.cfg.InChannels {
		panic(fmt.Sprintf("conv2d: input channels %d != expected %d", inputShape[1], c.cfg.InChannels))
	}

	outputRaw := c.backend.Conv2D(input.Raw(), c.weight.Tensor().Raw(), c.cfg.params())
	output := tensor.New[float32, B](outputRaw, c.backend)

	if c.bias != nil {
		// [out_channels] broadcasts over [N, C, H, W] as [1, C, 1, 1].
		output = output.Add(c.bias.Tensor().Reshape(1, c.cfg.OutChannels, 1, 1))
	}
	return output
}

// Parameters returns the weight and, when enabled, the bias.
func (c *Conv2D[B]) Parameters() []*Parameter[B] {
	if c.bias != nil {
		return []*Parameter[B]{c.weight, c.bias}
	}
	return []*Parameter[B]{c.weight}
}

// StateDict returns "weight" and optionally "bias".
func (c *Conv2D[B]) StateDict() map[string]*tensor.RawTensor {
	sd := map[string]*tensor.RawTensor{"weight": c.weight.Tensor().Raw()}
	if c.bias != nil {
		sd["bias"] = c.bias.Tensor().Raw()
	}
	return sd
}

// LoadStateDict loads weight and bias.
func (c *Conv2D[B]) LoadStateDict(stateDict map[string]*tensor.RawTensor) error {
	return LoadInto(c.StateDict(), stateDict)
}

// Trace records a Conv node.
func (c *Conv2D[B]) Trace(g *trace.Graph, input trace.Value) trace.Value {
	inputs := []string{input.Name, g.AddInitializer("weight", c.weight.Tensor().Raw())}
	if c.bias != nil {
		inputs = append(inputs, g.AddInitializer("bias", c.bias.Tensor().Raw()))
	}

	h, w := c.cfg.OutputSize(input.Shape[2], input.Shape[3])
	attrs := trace.Attrs{
		"kernel_shape": []int64{int64(c.cfg.KernelH), int64(c.cfg.KernelW)},
		"strides":      []int64{int64(c.cfg.StrideH), int64(c.cfg.StrideW)},
		"pads":         []int64{int64(c.cfg.PadH), int64(c.cfg.PadW), int64(c.cfg.PadH), int64(c.cfg.PadW)},
		"dilations":    []int64{1, 1},
		"group":        int64(c.cfg.Groups),
	}
	return g.AddNode("", trace.OpConv, inputs, attrs, tensor.Shape{input.Shape[0], c.cfg.OutChannels, h, w})
}

// Config returns the layer configuration.
func (c *Conv2D[B]) Config() Conv2DConfig {
	return c.cfg
}

// Weight returns the kernel parameter.
func (c *Conv2D[B]) Weight() *Parameter[B] {
	return c.weight
}

// String returns a human-readable representation of the layer.
func (c *Conv2D[B]) String() string {
	return fmt.Sprintf("Conv2D(%d, %d, kernel_size=(%d, %d), stride=(%d, %d), padding=(%d, %d), groups=%d, bias=%v)",
		c.cfg.InChannels, c.cfg.OutChannels,
		c.cfg.KernelH, c.cfg.KernelW,
		c.cfg.StrideH, c.cfg.StrideW,
		c.cfg.PadH, c.cfg.PadW,
		c.cfg.Groups, c.bias != nil)
}

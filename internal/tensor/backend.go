package tensor

// ConvParams configures a 2D convolution.
//
// Padding is applied symmetrically: PadH rows above and below, PadW columns
// left and right. Groups splits input and output channels into independent
// convolutions; Groups == in_channels is a depthwise convolution.
type ConvParams struct {
	StrideH, StrideW int
	PadH, PadW       int
	Groups           int
}

// OutputSize returns the spatial output size for an input of h x w and a
// kernel of kh x kw.
func (p ConvParams) OutputSize(h, w, kh, kw int) (int, int) {
	return (h+2*p.PadH-kh)/p.StrideH + 1, (w+2*p.PadW-kw)/p.StrideW + 1
}

// Backend defines the operations a compute backend must implement.
//
// Operations panic on shape violations; callers that accept untrusted
// shapes validate before dispatching.
type Backend interface {
	// Add performs element-wise addition with broadcasting.
	Add(a, b *RawTensor) *RawTensor
	// Mul performs element-wise multiplication with broadcasting.
	Mul(a, b *RawTensor) *RawTensor

	// MatMul multiplies 2D tensors: (M, K) @ (K, N) -> (M, N).
	MatMul(a, b *RawTensor) *RawTensor

	// Conv2D convolves [N, C_in, H, W] with kernel [C_out, C_in/groups, kH, kW].
	Conv2D(input, kernel *RawTensor, params ConvParams) *RawTensor

	// BatchNorm normalizes along axis 1 with running statistics:
	// y = (x - mean) / sqrt(variance + eps) * gamma + beta.
	BatchNorm(x, mean, variance, gamma, beta *RawTensor, eps float32) *RawTensor

	// PReLU applies y = x for x > 0 and y = slope[c] * x otherwise, where c
	// is the index along axis 1.
	PReLU(x, slope *RawTensor) *RawTensor

	// Shape operations
	Reshape(t *RawTensor, newShape Shape) *RawTensor
	Transpose(t *RawTensor, axes ...int) *RawTensor

	// Metadata
	Name() string
	Device() Device
}

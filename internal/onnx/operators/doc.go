// Package operators maps ONNX operator types to backend kernels.
//
// The registry covers the operators the face embedding export emits:
// Conv, BatchNormalization, PRelu, Add, Mul, Gemm, Flatten, Identity, Cast
// and LpNormalization. Each handler validates inputs and attributes, then
// delegates to a tensor.Backend.
package operators

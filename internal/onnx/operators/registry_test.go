package operators

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/facenet/internal/backend/cpu"
	"github.com/born-ml/facenet/internal/tensor"
)

func raw(t *testing.T, values []float32, shape ...int) *tensor.RawTensor {
	t.Helper()
	r, err := tensor.RawFromFloat32(values, tensor.Shape(shape), tensor.CPU)
	require.NoError(t, err)
	return r
}

func run(t *testing.T, node *Node, inputs ...*tensor.RawTensor) (*tensor.RawTensor, error) {
	t.Helper()
	out, err := NewRegistry().Execute(&Context{Backend: cpu.New()}, node, inputs)
	if err != nil {
		return nil, err
	}
	require.Len(t, out, 1)
	return out[0], nil
}

func TestNewRegistry(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, []string{
		"Add", "BatchNormalization", "Cast", "Conv", "Flatten", "Gemm",
		"Identity", "LpNormalization", "Mul", "PRelu",
	}, r.SupportedOps())

	_, ok := r.Get("Softmax")
	assert.False(t, ok)
	_, err := r.Execute(&Context{Backend: cpu.New()}, &Node{OpType: "Softmax"}, nil)
	assert.ErrorIs(t, err, ErrUnsupportedOperator)
}

func TestRegisterCustomOp(t *testing.T) {
	r := NewRegistry()
	r.Register("MyCustomOp", func(_ *Context, _ *Node, _ []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
		return nil, nil
	})
	_, ok := r.Get("MyCustomOp")
	assert.True(t, ok)
}

func TestExecute_RecoversKernelPanics(t *testing.T) {
	// Shapes that do not broadcast make the backend panic.
	_, err := run(t, &Node{OpType: "Add"}, raw(t, []float32{1, 2}, 2), raw(t, []float32{1, 2, 3}, 3))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Add")
}

func TestConv(t *testing.T) {
	x := raw(t, []float32{
		1, 2, 3,
		4, 5, 6,
		7, 8, 9,
	}, 1, 1, 3, 3)
	w := raw(t, []float32{1, 0, 0, -1}, 1, 1, 2, 2)
	bias := raw(t, []float32{10}, 1)

	node := &Node{OpType: "Conv", Attributes: []Attribute{
		{Name: "kernel_shape", Ints: []int64{2, 2}},
		{Name: "strides", Ints: []int64{1, 1}},
		{Name: "pads", Ints: []int64{0, 0, 0, 0}},
		{Name: "group", I: 1},
	}}
	y, err := run(t, node, x, w, bias)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{1, 1, 2, 2}, y.Shape())
	// x[i][j] - x[i+1][j+1] = -4 everywhere, plus bias.
	assert.Equal(t, []float32{6, 6, 6, 6}, y.AsFloat32())

	t.Run("asymmetric pads", func(t *testing.T) {
		bad := &Node{OpType: "Conv", Attributes: []Attribute{{Name: "pads", Ints: []int64{1, 0, 0, 0}}}}
		_, err := run(t, bad, x, w)
		assert.ErrorContains(t, err, "asymmetric pads")
	})
	t.Run("dilation", func(t *testing.T) {
		bad := &Node{OpType: "Conv", Attributes: []Attribute{{Name: "dilations", Ints: []int64{2, 2}}}}
		_, err := run(t, bad, x, w)
		assert.ErrorContains(t, err, "dilation")
	})
	t.Run("group mismatch", func(t *testing.T) {
		bad := &Node{OpType: "Conv", Attributes: []Attribute{{Name: "group", I: 2}}}
		_, err := run(t, bad, x, w)
		assert.ErrorContains(t, err, "group")
	})
}

func TestBatchNormalization(t *testing.T) {
	x := raw(t, []float32{1, 2, 3, 4}, 2, 2)
	scale := raw(t, []float32{2, 1}, 2)
	bias := raw(t, []float32{0, 1}, 2)
	mean := raw(t, []float32{1, 0}, 2)
	variance := raw(t, []float32{1, 4}, 2)

	node := &Node{OpType: "BatchNormalization", Attributes: []Attribute{{Name: "epsilon", F: 0}}}
	y, err := run(t, node, x, scale, bias, mean, variance)
	require.NoError(t, err)
	// channel 0: (x-1)*2, channel 1: x/2+1
	assert.InDeltaSlice(t, []float32{0, 2, 4, 3}, y.AsFloat32(), 1e-6)

	_, err = run(t, node, x, raw(t, []float32{1, 1, 1}, 3), bias, mean, variance)
	assert.ErrorContains(t, err, "channels")
}

func TestPRelu(t *testing.T) {
	x := raw(t, []float32{-1, 2, -3, 4}, 1, 2, 1, 2)
	slope := raw(t, []float32{0.5, 0.25}, 2, 1, 1)

	y, err := run(t, &Node{OpType: "PRelu"}, x, slope)
	require.NoError(t, err)
	assert.Equal(t, []float32{-0.5, 2, -0.75, 4}, y.AsFloat32())

	_, err = run(t, &Node{OpType: "PRelu"}, x, raw(t, []float32{1, 2, 3}, 3))
	assert.ErrorContains(t, err, "does not broadcast")
}

func TestGemm(t *testing.T) {
	a := raw(t, []float32{1, 2, 3, 4, 5, 6}, 2, 3)
	b := raw(t, []float32{1, 0, 1, 0, 1, 0}, 2, 3) // used transposed
	c := raw(t, []float32{1, -1}, 2)

	node := &Node{OpType: "Gemm", Attributes: []Attribute{
		{Name: "transB", I: 1},
		{Name: "alpha", F: 2},
		{Name: "beta", F: 1},
	}}
	y, err := run(t, node, a, b, c)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{2, 2}, y.Shape())
	// a @ b^T = [[4, 2], [10, 5]]
	assert.Equal(t, []float32{9, 3, 21, 9}, y.AsFloat32())

	_, err = run(t, &Node{OpType: "Gemm"}, a, b)
	assert.ErrorContains(t, err, "inner dimensions")
}

func TestMulAddBroadcast(t *testing.T) {
	x := raw(t, []float32{255, 0, 51, 102}, 1, 2, 1, 2)
	s := raw(t, []float32{1.0 / 255}) // scalar
	y, err := run(t, &Node{OpType: "Mul"}, x, s)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{1, 0, 0.2, 0.4}, y.AsFloat32(), 1e-6)

	bias := raw(t, []float32{1, -1}, 1, 2, 1, 1)
	z, err := run(t, &Node{OpType: "Add"}, y, bias)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{2, 1, -0.8, -0.6}, z.AsFloat32(), 1e-6)
}

func TestFlattenIdentity(t *testing.T) {
	x := raw(t, []float32{1, 2, 3, 4}, 1, 4, 1, 1)
	y, err := run(t, &Node{OpType: "Flatten", Attributes: []Attribute{{Name: "axis", I: 1}}}, x)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{1, 4}, y.Shape())

	id, err := run(t, &Node{OpType: "Identity"}, y)
	require.NoError(t, err)
	assert.Same(t, y, id)
}

func TestCast(t *testing.T) {
	x := raw(t, []float32{1.5, -2, 65504}, 3)
	half, err := run(t, &Node{OpType: "Cast", Attributes: []Attribute{{Name: "to", I: TensorProtoFloat16}}}, x)
	require.NoError(t, err)
	assert.Equal(t, tensor.Float16, half.DType())

	back, err := run(t, &Node{OpType: "Cast", Attributes: []Attribute{{Name: "to", I: TensorProtoFloat}}}, half)
	require.NoError(t, err)
	assert.Equal(t, []float32{1.5, -2, 65504}, back.AsFloat32())

	_, err = run(t, &Node{OpType: "Cast"}, x)
	assert.ErrorContains(t, err, "missing 'to'")
	_, err = run(t, &Node{OpType: "Cast", Attributes: []Attribute{{Name: "to", I: 8}}}, x)
	assert.ErrorContains(t, err, "unsupported element type")
}

func TestLpNormalization(t *testing.T) {
	x := raw(t, []float32{3, 4, 0, 0}, 2, 2)
	y, err := run(t, &Node{OpType: "LpNormalization", Attributes: []Attribute{{Name: "axis", I: 1}, {Name: "p", I: 2}}}, x)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{0.6, 0.8, 0, 0}, y.AsFloat32(), 1e-6)

	_, err = run(t, &Node{OpType: "LpNormalization", Attributes: []Attribute{{Name: "axis", I: 0}}}, x)
	assert.ErrorContains(t, err, "only axis 1")
}

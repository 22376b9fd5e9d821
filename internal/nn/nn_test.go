package nn_test

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/facenet/internal/backend/cpu"
	"github.com/born-ml/facenet/internal/nn"
	"github.com/born-ml/facenet/internal/tensor"
	"github.com/born-ml/facenet/internal/trace"
)

func newRNG() *rand.Rand {
	return rand.New(rand.NewSource(42))
}

func raw(t *testing.T, values []float32, shape ...int) *tensor.RawTensor {
	t.Helper()
	r, err := tensor.RawFromFloat32(values, tensor.Shape(shape), tensor.CPU)
	require.NoError(t, err)
	return r
}

func input(t *testing.T, backend *cpu.CPUBackend, values []float32, shape ...int) *tensor.Tensor[float32, *cpu.CPUBackend] {
	t.Helper()
	x, err := tensor.FromSlice(values, tensor.Shape(shape), backend)
	require.NoError(t, err)
	return x
}

func TestConv2D_ShapesAndParameters(t *testing.T) {
	backend := cpu.New()
	conv := nn.NewConv2D(nn.SquareConv(3, 64, 3, 2, 1, 1), backend, newRNG())

	params := conv.Parameters()
	require.Len(t, params, 1, "bias disabled")
	assert.Equal(t, tensor.Shape{64, 3, 3, 3}, params[0].Tensor().Shape())

	out := conv.Forward(tensor.Zeros[float32](tensor.Shape{2, 3, 112, 112}, backend))
	assert.Equal(t, tensor.Shape{2, 64, 56, 56}, out.Shape())
}

func TestConv2D_DepthwiseWeightShape(t *testing.T) {
	backend := cpu.New()
	conv := nn.NewConv2D(nn.SquareConv(128, 128, 3, 1, 1, 128), backend, newRNG())
	assert.Equal(t, tensor.Shape{128, 1, 3, 3}, conv.Weight().Tensor().Shape())
	assert.Contains(t, conv.String(), "groups=128")
}

func TestConv2D_InvalidConfigPanics(t *testing.T) {
	backend := cpu.New()
	assert.Panics(t, func() {
		nn.NewConv2D(nn.SquareConv(64, 128, 3, 1, 1, 3), backend, newRNG())
	})
}

func TestConv2D_WrongChannelsPanics(t *testing.T) {
	backend := cpu.New()
	conv := nn.NewConv2D(nn.SquareConv(3, 8, 1, 1, 0, 1), backend, newRNG())
	assert.Panics(t, func() {
		conv.Forward(tensor.Zeros[float32](tensor.Shape{1, 4, 8, 8}, backend))
	})
}

func TestConv2D_BiasBroadcast(t *testing.T) {
	backend := cpu.New()
	cfg := nn.SquareConv(1, 2, 1, 1, 0, 1)
	cfg.Bias = true
	conv := nn.NewConv2D(cfg, backend, newRNG())

	require.NoError(t, conv.LoadStateDict(map[string]*tensor.RawTensor{
		"weight": raw(t, []float32{1, 2}, 2, 1, 1, 1),
		"bias":   raw(t, []float32{10, 20}, 2),
	}))

	out := conv.Forward(input(t, backend, []float32{1, 2}, 1, 1, 1, 2))
	assert.Equal(t, []float32{11, 12, 22, 24}, out.Data())
}

func TestKaimingUniform_DeterministicAndBounded(t *testing.T) {
	backend := cpu.New()
	a := nn.KaimingUniform(9, tensor.Shape{16, 1, 3, 3}, rand.New(rand.NewSource(1)), backend)
	b := nn.KaimingUniform(9, tensor.Shape{16, 1, 3, 3}, rand.New(rand.NewSource(1)), backend)

	assert.Equal(t, a.Data(), b.Data())
	for _, v := range a.Data() {
		assert.LessOrEqual(t, v, float32(1.0/3.0))
		assert.GreaterOrEqual(t, v, float32(-1.0/3.0))
	}
}

func TestBatchNorm_Forward(t *testing.T) {
	backend := cpu.New()
	bn := nn.NewBatchNorm(2, backend)

	// num_batches_tracked omitted on purpose.
	require.NoError(t, bn.LoadStateDict(map[string]*tensor.RawTensor{
		"weight":       raw(t, []float32{2, 1}, 2),
		"bias":         raw(t, []float32{0, 1}, 2),
		"running_mean": raw(t, []float32{0, 1}, 2),
		"running_var":  raw(t, []float32{1 - 1e-5, 4 - 1e-5}, 2),
	}))

	out := bn.Forward(input(t, backend, []float32{1, 2, 1, 2}, 2, 2))
	assert.InDeltaSlice(t, []float32{2, 1.5, 2, 1.5}, out.Data(), 1e-5)

	out4d := bn.Forward(input(t, backend, []float32{1, 1, 2, 2}, 1, 2, 1, 2))
	assert.InDeltaSlice(t, []float32{2, 2, 1.5, 1.5}, out4d.Data(), 1e-5)
}

func TestBatchNorm_IdentityByDefault(t *testing.T) {
	backend := cpu.New()
	bn := nn.NewBatchNorm(3, backend)

	out := bn.Forward(input(t, backend, []float32{1, -2, 3}, 1, 3))
	assert.InDeltaSlice(t, []float32{1, -2, 3}, out.Data(), 1e-4)
	assert.Len(t, bn.Parameters(), 2)
	assert.Len(t, bn.StateDict(), 5)
}

func TestPReLU_Forward(t *testing.T) {
	backend := cpu.New()
	prelu := nn.NewPReLU(2, backend)

	out := prelu.Forward(input(t, backend, []float32{-4, 4, -8, 8}, 1, 2, 1, 2))
	assert.Equal(t, []float32{-1, 4, -2, 8}, out.Data(), "default slope 0.25")
}

func TestLinear_Forward(t *testing.T) {
	backend := cpu.New()
	linear := nn.NewLinear(2, 2, false, backend, newRNG())
	require.Nil(t, linear.Bias())

	require.NoError(t, linear.LoadStateDict(map[string]*tensor.RawTensor{
		"weight": raw(t, []float32{1, 2, 3, 4}, 2, 2),
	}))

	out := linear.Forward(input(t, backend, []float32{1, 1, 2, 0}, 2, 2))
	assert.Equal(t, tensor.Shape{2, 2}, out.Shape())
	assert.Equal(t, []float32{3, 7, 2, 6}, out.Data())
}

func TestLinear_WithBias(t *testing.T) {
	backend := cpu.New()
	linear := nn.NewLinear(2, 1, true, backend, newRNG())

	require.NoError(t, linear.LoadStateDict(map[string]*tensor.RawTensor{
		"weight": raw(t, []float32{1, 1}, 1, 2),
		"bias":   raw(t, []float32{0.5}, 1),
	}))

	out := linear.Forward(input(t, backend, []float32{1, 2}, 1, 2))
	assert.Equal(t, []float32{3.5}, out.Data())
}

func TestFlatten(t *testing.T) {
	backend := cpu.New()
	out := nn.NewFlatten(backend).Forward(tensor.Zeros[float32](tensor.Shape{3, 512, 1, 1}, backend))
	assert.Equal(t, tensor.Shape{3, 512}, out.Shape())
}

func convBlock(backend *cpu.CPUBackend, in, out int) *nn.Sequential[*cpu.CPUBackend] {
	return nn.NewNamedSequential(
		nn.Named[*cpu.CPUBackend]{Name: "conv", Module: nn.NewConv2D(nn.SquareConv(in, out, 1, 1, 0, 1), backend, newRNG())},
		nn.Named[*cpu.CPUBackend]{Name: "bn", Module: nn.NewBatchNorm(out, backend)},
		nn.Named[*cpu.CPUBackend]{Name: "prelu", Module: nn.NewPReLU(out, backend)},
	)
}

func TestSequential_StateDictKeys(t *testing.T) {
	backend := cpu.New()
	model := nn.NewSequential[*cpu.CPUBackend](convBlock(backend, 3, 4), nn.NewFlatten(backend))

	keys := make([]string, 0)
	for k := range model.StateDict() {
		keys = append(keys, k)
	}
	assert.ElementsMatch(t, []string{
		"0.conv.weight",
		"0.bn.weight", "0.bn.bias", "0.bn.running_mean", "0.bn.running_var", "0.bn.num_batches_tracked",
		"0.prelu.weight",
	}, keys)
	assert.Equal(t, 12+4+4+4, nn.CountParameters(model.Parameters()))
}

func TestSequential_DuplicateNamePanics(t *testing.T) {
	backend := cpu.New()
	s := nn.NewSequential[*cpu.CPUBackend]()
	s.AddNamed("bn", nn.NewBatchNorm(1, backend))
	assert.Panics(t, func() { s.AddNamed("bn", nn.NewBatchNorm(1, backend)) })
}

func TestLoadStateDict_StrictErrors(t *testing.T) {
	backend := cpu.New()
	block := convBlock(backend, 3, 4)
	before := append([]float32(nil), block.StateDict()["conv.weight"].AsFloat32()...)

	sd := map[string]*tensor.RawTensor{}
	for k, v := range block.StateDict() {
		sd[k] = v.Clone()
	}
	sd["conv.weight"] = raw(t, make([]float32, 8), 4, 2, 1, 1)
	delete(sd, "bn.running_var")
	sd["bn.extra"] = raw(t, []float32{1}, 1)

	// A valid key that differs, so a partial copy would be visible.
	copy(sd["prelu.weight"].AsFloat32(), []float32{9, 9, 9, 9})

	err := block.LoadStateDict(sd)
	require.Error(t, err)
	assert.ErrorIs(t, err, nn.ErrShapeMismatch)
	assert.ErrorIs(t, err, nn.ErrMissingParameter)
	assert.ErrorIs(t, err, nn.ErrUnexpectedParameter)
	assert.Contains(t, err.Error(), "bn.running_var")

	assert.Equal(t, before, block.StateDict()["conv.weight"].AsFloat32())
	assert.Equal(t, []float32{0.25, 0.25, 0.25, 0.25}, block.StateDict()["prelu.weight"].AsFloat32(),
		"failed load must not modify any tensor")
}

func TestLoadStateDict_ConvertsFloat16(t *testing.T) {
	backend := cpu.New()
	prelu := nn.NewPReLU(2, backend)

	half, err := tensor.Cast(raw(t, []float32{0.5, -1}, 2), tensor.Float16)
	require.NoError(t, err)

	require.NoError(t, prelu.LoadStateDict(map[string]*tensor.RawTensor{"weight": half}))
	assert.Equal(t, []float32{0.5, -1}, prelu.StateDict()["weight"].AsFloat32())
}

func TestTrace_NamesMatchStateDict(t *testing.T) {
	backend := cpu.New()
	model := nn.NewNamedSequential(
		nn.Named[*cpu.CPUBackend]{Name: "conv1", Module: convBlock(backend, 3, 4)},
		nn.Named[*cpu.CPUBackend]{Name: "flatten", Module: nn.NewFlatten(backend)},
	)

	g := trace.New("input", tensor.Shape{1, 3, 1, 1})
	out := model.Trace(g, g.Input)
	g.SetOutput(out)
	require.NoError(t, g.Validate())

	assert.Equal(t, tensor.Shape{1, 4}, out.Shape)
	ops := make([]string, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		ops = append(ops, n.Op)
	}
	assert.Equal(t, []string{trace.OpConv, trace.OpBatchNorm, trace.OpPRelu, trace.OpFlatten}, ops)
	assert.Equal(t, "conv1.conv", g.Nodes[0].Name)

	sd := model.StateDict()
	for _, name := range g.InitializerNames() {
		_, ok := sd[name]
		assert.True(t, ok, "initializer %s is a state dict key", name)
	}

	slope, ok := g.Initializer("conv1.prelu.weight")
	require.True(t, ok)
	assert.Equal(t, tensor.Shape{4, 1, 1}, slope.Shape())
}

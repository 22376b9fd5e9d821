// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package facenet

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

func newTestModel(t *testing.T, seed int64) *Model[*cpu.CPUBackend] {
	t.Helper()
	model, err := NewModel(MobileFaceNet(EmbeddingSize), cpu.New(), rand.New(rand.NewSource(seed)))
	require.NoError(t, err)
	return model
}

func randomInput(model *Model[*cpu.CPUBackend], batch int, seed int64) *tensor.Tensor[float32, *cpu.CPUBackend] {
	return tensor.Rand(model.Topology().InputShape(batch), rand.New(rand.NewSource(seed)), model.Backend())
}

func TestMobileFaceNet_StageShapes(t *testing.T) {
	shapes, err := MobileFaceNet(EmbeddingSize).Shapes(1)
	require.NoError(t, err)
	require.Len(t, shapes, 13)

	assert.Equal(t, tensor.Shape{1, 64, 56, 56}, shapes[0], "conv1")
	assert.Equal(t, tensor.Shape{1, 64, 28, 28}, shapes[3], "conv4")
	assert.Equal(t, tensor.Shape{1, 128, 14, 14}, shapes[5], "conv6")
	assert.Equal(t, tensor.Shape{1, 128, 7, 7}, shapes[7], "conv8")
	assert.Equal(t, tensor.Shape{1, 512, 1, 1}, shapes[9], "conv10")
	assert.Equal(t, tensor.Shape{1, 512}, shapes[10], "flatten")
	assert.Equal(t, tensor.Shape{1, 128}, shapes[12], "bn")
}

func TestTopology_ValidateRejectsBrokenChains(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Topology)
	}{
		{"channel mismatch", func(tp *Topology) { tp.Stages[1].In = 32 }},
		{"residual downsample", func(tp *Topology) { tp.Stages[2].Residual = true }},
		{"spatial not collapsed", func(tp *Topology) { tp.InputHeight, tp.InputWidth = 128, 128 }},
		{"dense width", func(tp *Topology) { tp.Stages[11].In = 256 }},
		{"embedding size", func(tp *Topology) { tp.EmbeddingSize = 64 }},
		{"zero repeat", func(tp *Topology) { tp.Stages[3].Repeat = 0 }},
		{"duplicate name", func(tp *Topology) { tp.Stages[4].Name = "conv3" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tp := MobileFaceNet(EmbeddingSize)
			tp.Stages = append([]StageSpec(nil), tp.Stages...)
			tt.mutate(&tp)
			assert.Error(t, tp.Validate())
		})
	}
	assert.NoError(t, MobileFaceNet(EmbeddingSize).Validate())
}

func TestModel_ForwardShape(t *testing.T) {
	model := newTestModel(t, 0)

	for _, batch := range []int{1, 3} {
		out := model.Forward(randomInput(model, batch, 1))
		assert.Equal(t, tensor.Shape{batch, 128}, out.Shape(), "batch %d", batch)
		assert.Equal(t, model.Topology().OutputShape(batch), out.Shape())
	}
}

func TestModel_Deterministic(t *testing.T) {
	a := newTestModel(t, 7)
	b := newTestModel(t, 7)

	x := randomInput(a, 1, 3)
	first := a.Forward(x).Data()
	again := a.Forward(x).Data()
	other := b.Forward(x).Data()

	assert.Equal(t, first, again, "same model, same input")
	assert.Equal(t, first, other, "same seed, same input")
}

func TestModel_BatchMatchesSingle(t *testing.T) {
	model := newTestModel(t, 0)
	batch := randomInput(model, 2, 5)
	batched := model.Forward(batch).Data()

	second, err := tensor.FromSlice(batch.Data()[3*112*112:], model.Topology().InputShape(1), model.Backend())
	require.NoError(t, err)
	single := model.Forward(second).Data()

	assert.InDeltaSlice(t, single, batched[128:], 1e-4)
}

func TestBottleneck_ResidualPreservesShape(t *testing.T) {
	backend := cpu.New()
	rng := rand.New(rand.NewSource(0))

	block := NewBottleneck(64, 64, 128, 3, 1, 1, true, backend, rng)
	assert.True(t, block.Residual())
	x := tensor.Rand(tensor.Shape{2, 64, 14, 14}, rng, backend)
	assert.Equal(t, x.Shape(), block.Forward(x).Shape())

	down := NewBottleneck(64, 128, 256, 3, 2, 1, false, backend, rng)
	assert.False(t, down.Residual())
	assert.Equal(t, tensor.Shape{2, 128, 7, 7}, down.Forward(x).Shape())

	assert.Panics(t, func() { NewBottleneck(64, 128, 256, 3, 1, 1, true, backend, rng) })
}

func TestBottleneck_ResidualAddsInput(t *testing.T) {
	backend := cpu.New()
	rng := rand.New(rand.NewSource(0))
	block := NewBottleneck(4, 4, 8, 3, 1, 1, true, backend, rng)

	// Zeroing the projection makes the body output zero, leaving the shortcut.
	weight := block.StateDict()["conv3.conv.weight"].AsFloat32()
	for i := range weight {
		weight[i] = 0
	}

	x := tensor.Rand(tensor.Shape{1, 4, 5, 5}, rng, backend)
	assert.InDeltaSlice(t, x.Data(), block.Forward(x).Data(), 1e-6)
}

func TestModel_StateDictLayout(t *testing.T) {
	model := newTestModel(t, 0)
	sd := model.StateDict()

	expect := map[string]tensor.Shape{
		"conv1.conv.weight":                  {64, 3, 3, 3},
		"conv1.prelu.weight":                 {64},
		"conv2.conv.weight":                  {64, 1, 3, 3},
		"conv3.conv2.conv.weight":            {128, 1, 3, 3},
		"conv4.model.3.conv2.bn.running_var": {128},
		"conv6.model.5.conv3.conv.weight":    {128, 256, 1, 1},
		"conv10.conv.weight":                 {512, 1, 7, 7},
		"conv10.bn.num_batches_tracked":      {},
		"linear.weight":                      {128, 512},
		"bn.running_mean":                    {128},
	}
	for key, shape := range expect {
		raw, ok := sd[key]
		if assert.True(t, ok, "missing %s", key) {
			assert.Equal(t, shape, raw.Shape(), key)
		}
	}

	assert.NotContains(t, sd, "linear.bias")
	assert.NotContains(t, sd, "conv10.prelu.weight")
	assert.NotContains(t, sd, "conv4.model.4.conv1.conv.weight")
	assert.Equal(t, 1003136, model.NumParameters())
}

func TestModel_LoadStateDictRoundTrip(t *testing.T) {
	src := newTestModel(t, 1)
	dst := newTestModel(t, 2)
	x := randomInput(src, 1, 9)

	require.NotEqual(t, src.Forward(x).Data(), dst.Forward(x).Data())
	require.NoError(t, dst.LoadStateDict(src.StateDict()))
	assert.Equal(t, src.Forward(x).Data(), dst.Forward(x).Data())
}

func TestModel_LoadStateDictShapeMismatch(t *testing.T) {
	model := newTestModel(t, 0)
	x := randomInput(model, 1, 4)
	before := model.Forward(x).Data()

	sd := make(map[string]*tensor.RawTensor)
	for k, v := range newTestModel(t, 5).StateDict() {
		sd[k] = v
	}
	wrong, err := tensor.NewRaw(tensor.Shape{128, 256}, tensor.Float32, tensor.CPU)
	require.NoError(t, err)
	sd["linear.weight"] = wrong

	err = model.LoadStateDict(sd)
	require.Error(t, err)
	assert.ErrorIs(t, err, nn.ErrShapeMismatch)
	assert.Equal(t, before, model.Forward(x).Data(), "failed load leaves model unchanged")
}

func TestModel_EmbedRejectsWrongSize(t *testing.T) {
	model := newTestModel(t, 0)
	backend := model.Backend()

	_, err := model.Embed(tensor.Zeros[float32](tensor.Shape{1, 3, 96, 96}, backend))
	assert.ErrorIs(t, err, ErrInputShape)

	_, err = model.Embed(tensor.Zeros[float32](tensor.Shape{1, 1, 112, 112}, backend))
	assert.ErrorIs(t, err, ErrInputShape)

	out, err := model.Embed(tensor.Zeros[float32](tensor.Shape{2, 3, 112, 112}, backend))
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{2, 128}, out.Shape())
}

func TestModel_EmbedDoesNotHideLayerPanics(t *testing.T) {
	model := newTestModel(t, 0)
	// A topology that disagrees with the built layers lets 128x128 through
	// the shape check; the dense layer then panics and Embed must not turn
	// that into ErrInputShape.
	model.topology.InputHeight, model.topology.InputWidth = 128, 128
	x := tensor.Zeros[float32](tensor.Shape{1, 3, 128, 128}, model.Backend())
	assert.PanicsWithValue(t, "Linear.Forward: expected input with 512 features, got 2048", func() {
		_, _ = model.Embed(x)
	})
}

func TestModel_ForwardPanicsAtDenseOnWrongSize(t *testing.T) {
	model := newTestModel(t, 0)
	// 128x128 leaves a 2x2 map after conv10, so the flattened width is 2048.
	x := tensor.Zeros[float32](tensor.Shape{1, 3, 128, 128}, model.Backend())
	assert.PanicsWithValue(t, "Linear.Forward: expected input with 512 features, got 2048", func() {
		model.Forward(x)
	})
}

func TestModel_Trace(t *testing.T) {
	model := newTestModel(t, 0)
	g := model.Trace()
	require.NoError(t, g.Validate())

	assert.Equal(t, tensor.Shape{1, 3, 112, 112}, g.Input.Shape)
	assert.Equal(t, tensor.Shape{1, 128}, g.Output.Shape)

	counts := g.OpCounts()
	assert.Equal(t, 49, counts[trace.OpConv])
	assert.Equal(t, 50, counts[trace.OpBatchNorm])
	assert.Equal(t, 33, counts[trace.OpPRelu])
	assert.Equal(t, 12, counts[trace.OpAdd], "one shortcut per repeated block")
	assert.Equal(t, 1, counts[trace.OpFlatten])
	assert.Equal(t, 1, counts[trace.OpGemm])

	sd := model.StateDict()
	for _, name := range g.InitializerNames() {
		assert.Contains(t, sd, name)
	}
	assert.Contains(t, g.InitializerNames(), "conv4.model.0.conv1.conv.weight")
}

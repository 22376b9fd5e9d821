package onnx_test

import (
	"math"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/facenet/facenet"
	"github.com/born-ml/facenet/internal/backend/cpu"
	"github.com/born-ml/facenet/internal/onnx"
	"github.com/born-ml/facenet/internal/onnx/operators"
	"github.com/born-ml/facenet/internal/tensor"
)

var testMetadata = onnx.Metadata{
	Author:            "MobileFaceNet - Converted",
	License:           "Apache 2.0",
	ShortDescription:  "Face recognition model generating 128-dimensional embeddings",
	Version:           "1.0",
	InputDescription:  "Face image (112x112, RGB, normalized to [0,1])",
	OutputDescription: "128-dimensional L2-normalized face embedding",
}

func newModel(t *testing.T) *facenet.Model[*cpu.CPUBackend] {
	t.Helper()
	model, err := facenet.NewModel(facenet.MobileFaceNet(facenet.EmbeddingSize), cpu.New(), rand.New(rand.NewSource(7)))
	require.NoError(t, err)
	return model
}

func TestExport_OutputIs128ForEveryTargetAndPrecision(t *testing.T) {
	graph := newModel(t).Trace()

	for _, target := range onnx.Targets {
		for _, precision := range onnx.Precisions {
			t.Run(string(target)+"/"+string(precision), func(t *testing.T) {
				opts := onnx.DefaultExportOptions()
				opts.Target = target
				opts.Precision = precision

				proto, err := onnx.Export(graph, opts)
				require.NoError(t, err)
				require.NoError(t, onnx.Annotate(proto, testMetadata))

				parsed, err := onnx.Parse(onnx.Marshal(proto))
				require.NoError(t, err)

				info := onnx.Info(parsed)
				assert.Equal(t, []string{"input"}, info.InputNames)
				assert.Equal(t, []string{"embedding"}, info.OutputNames)
				assert.Equal(t, []int64{1, 128}, info.OutputDims)
				assert.Equal(t, []int64{1, 3, 112, 112}, parsed.Graph.Inputs[0].Dims())

				ir, opset := target.Versions()
				assert.Equal(t, ir, parsed.IRVersion)
				assert.Equal(t, opset, parsed.OpsetVersion())
				assert.Equal(t, string(target), parsed.Metadata()[onnx.MetaMinimumDeploymentTarget])
				assert.Equal(t, string(precision), parsed.Metadata()[onnx.MetaPrecision])
			})
		}
	}
}

func TestExport_Structure(t *testing.T) {
	graph := newModel(t).Trace()

	t.Run("float32", func(t *testing.T) {
		opts := onnx.DefaultExportOptions()
		opts.Precision = onnx.Float32
		proto, err := onnx.Export(graph, opts)
		require.NoError(t, err)

		info := onnx.Info(proto)
		assert.Equal(t, 49, info.OpCounts["Conv"])
		assert.Equal(t, 50, info.OpCounts["BatchNormalization"])
		assert.Equal(t, 33, info.OpCounts["PRelu"])
		assert.Equal(t, 12+1, info.OpCounts["Add"], "residual adds plus input bias")
		assert.Equal(t, 1, info.OpCounts["Mul"])
		assert.Equal(t, 1, info.OpCounts["Flatten"])
		assert.Equal(t, 1, info.OpCounts["Gemm"])
		assert.Zero(t, info.OpCounts["Cast"])
		assert.Zero(t, info.OpCounts["LpNormalization"])

		for _, init := range proto.Graph.Initializers {
			assert.Equal(t, int32(onnx.TensorProtoFloat), init.DataType, init.Name)
		}
	})

	t.Run("float16", func(t *testing.T) {
		proto, err := onnx.Export(graph, onnx.DefaultExportOptions())
		require.NoError(t, err)

		params := len(graph.InitializerNames())
		info := onnx.Info(proto)
		assert.Equal(t, params, info.OpCounts["Cast"])

		var half, float int
		for _, init := range proto.Graph.Initializers {
			switch init.DataType {
			case onnx.TensorProtoFloat16:
				half++
			case onnx.TensorProtoFloat:
				float++
			}
		}
		assert.Equal(t, params, half)
		assert.Equal(t, 2, float, "preprocessing constants stay float32")
	})

	t.Run("l2 and dynamic batch", func(t *testing.T) {
		opts := onnx.DefaultExportOptions()
		opts.L2Normalize = true
		opts.DynamicBatch = true
		proto, err := onnx.Export(graph, opts)
		require.NoError(t, err)

		last := proto.Graph.Nodes[len(proto.Graph.Nodes)-1]
		assert.Equal(t, "LpNormalization", last.OpType)
		assert.Equal(t, []string{"embedding"}, last.Outputs)
		assert.Equal(t, []int64{-1, 128}, proto.Graph.Outputs[0].Dims())
		assert.Equal(t, []int64{-1, 3, 112, 112}, proto.Graph.Inputs[0].Dims())
	})

	t.Run("image transform metadata", func(t *testing.T) {
		opts := onnx.DefaultExportOptions()
		opts.InputBias = []float32{-1, 0, 0.5}
		proto, err := onnx.Export(graph, opts)
		require.NoError(t, err)

		scale, bias, err := onnx.ImageTransform(proto.Metadata())
		require.NoError(t, err)
		assert.InDelta(t, 1.0/255, scale, 1e-9)
		assert.Equal(t, []float32{-1, 0, 0.5}, bias)

		_, _, err = onnx.ImageTransform(map[string]string{})
		assert.Error(t, err)
	})

	t.Run("rejects bias of wrong length", func(t *testing.T) {
		opts := onnx.DefaultExportOptions()
		opts.InputBias = []float32{0}
		_, err := onnx.Export(graph, opts)
		assert.ErrorIs(t, err, onnx.ErrUnsupportedGraph)
	})
}

func TestAnnotate_SaveRoundTrip(t *testing.T) {
	proto, err := onnx.Export(newModel(t).Trace(), onnx.DefaultExportOptions())
	require.NoError(t, err)
	require.NoError(t, onnx.Annotate(proto, testMetadata))

	path := filepath.Join(t.TempDir(), "out", "MobileFaceNet.onnx")
	require.NoError(t, onnx.Save(path, proto))

	parsed, err := onnx.ParseFile(path)
	require.NoError(t, err)
	assert.Equal(t, testMetadata, onnx.MetadataOf(parsed))
	assert.Equal(t, testMetadata.ShortDescription, parsed.DocString)
	assert.Equal(t, testMetadata.InputDescription, parsed.Graph.Inputs[0].DocString)
	assert.Equal(t, testMetadata.OutputDescription, parsed.Graph.Outputs[0].DocString)
	assert.Equal(t, "RGB", parsed.Metadata()[onnx.MetaColorLayout])

	// Annotating twice overwrites instead of duplicating keys.
	before := len(proto.MetadataProps)
	require.NoError(t, onnx.Annotate(proto, testMetadata))
	assert.Len(t, proto.MetadataProps, before)
}

func TestExecutor_MatchesNativeForward(t *testing.T) {
	model := newModel(t)
	backend := model.Backend()
	x := tensor.Rand(model.Topology().InputShape(1), rand.New(rand.NewSource(11)), backend)
	pixels := backend.Mul(x.Raw(), scalar(t, 255))

	opts := onnx.DefaultExportOptions()
	opts.Precision = onnx.Float32
	proto, err := onnx.Export(model.Trace(), opts)
	require.NoError(t, err)

	exec, err := onnx.LoadFromBytes(onnx.Marshal(proto), backend)
	require.NoError(t, err)
	assert.Equal(t, []string{"input"}, exec.InputNames())

	got, err := exec.Forward(pixels)
	require.NoError(t, err)
	want := model.Forward(x)

	require.Equal(t, tensor.Shape{1, 128}, got.Shape())
	assertClose(t, want.Data(), got.AsFloat32(), 1e-3)
}

func TestExecutor_Float16MatchesRoundedWeights(t *testing.T) {
	model := newModel(t)
	backend := model.Backend()

	proto, err := onnx.Export(model.Trace(), onnx.DefaultExportOptions())
	require.NoError(t, err)
	exec, err := onnx.LoadFromProto(proto, backend)
	require.NoError(t, err)

	// The native model with float16-rounded parameters computes the same function.
	rounded := make(map[string]*tensor.RawTensor)
	for name, raw := range model.StateDict() {
		if raw.DType() != tensor.Float32 {
			continue
		}
		r, err := tensor.RoundToFloat16(raw)
		require.NoError(t, err)
		rounded[name] = r
	}
	require.NoError(t, model.LoadStateDict(rounded))

	x := tensor.Rand(model.Topology().InputShape(1), rand.New(rand.NewSource(3)), backend)
	got, err := exec.Forward(backend.Mul(x.Raw(), scalar(t, 255)))
	require.NoError(t, err)
	assertClose(t, model.Forward(x).Data(), got.AsFloat32(), 1e-3)
}

func TestLoad_UnsupportedOperator(t *testing.T) {
	proto := &onnx.ModelProto{
		IRVersion: 7,
		Graph: &onnx.GraphProto{
			Nodes:   []onnx.NodeProto{{Name: "s", OpType: "Softmax", Inputs: []string{"x"}, Outputs: []string{"y"}}},
			Inputs:  []onnx.ValueInfoProto{{Name: "x"}},
			Outputs: []onnx.ValueInfoProto{{Name: "y"}},
		},
	}
	_, err := onnx.LoadFromProto(proto, cpu.New())
	assert.ErrorIs(t, err, operators.ErrUnsupportedOperator)

	// A custom handler makes it loadable.
	identity := func(_ *operators.Context, _ *operators.Node, in []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
		return in, nil
	}
	m, err := onnx.LoadFromProto(proto, cpu.New(), onnx.LoadOptions{CustomOps: map[string]operators.OpHandler{"Softmax": identity}})
	require.NoError(t, err)

	x, err := tensor.RawFromFloat32([]float32{1, 2}, tensor.Shape{1, 2}, tensor.CPU)
	require.NoError(t, err)
	y, err := m.Forward(x)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2}, y.AsFloat32())
}

func scalar(t *testing.T, v float32) *tensor.RawTensor {
	t.Helper()
	s, err := tensor.RawFromFloat32([]float32{v}, tensor.Shape{}, tensor.CPU)
	require.NoError(t, err)
	return s
}

// assertClose compares element-wise with a tolerance relative to the
// largest magnitude in want.
func assertClose(t *testing.T, want, got []float32, rel float64) {
	t.Helper()
	require.Len(t, got, len(want))
	var scale float64
	for _, v := range want {
		scale = math.Max(scale, math.Abs(float64(v)))
	}
	require.Positive(t, scale)
	for i := range want {
		assert.InDelta(t, want[i], got[i], rel*scale, "element %d", i)
	}
}

package convert

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"

	"github.com/born-ml/facenet/internal/onnx"
	"github.com/born-ml/facenet/internal/tensor"
)

// ErrMismatch is returned by Verify when the artifact and the native
// network disagree beyond the tolerance.
var ErrMismatch = errors.New("convert: artifact does not match network")

// VerifyConfig selects the artifact and the weights it was converted from.
type VerifyConfig struct {
	ModelPath      string
	CheckpointPath string
	EmbeddingSize  int
	Seed           int64

	// Tolerance bounds the largest element difference relative to the
	// largest native output magnitude.
	Tolerance float64
}

// DefaultVerifyConfig checks the DefaultConfig output.
func DefaultVerifyConfig() VerifyConfig {
	cfg := DefaultConfig()
	return VerifyConfig{
		ModelPath:      cfg.OutputPath,
		CheckpointPath: cfg.CheckpointPath,
		EmbeddingSize:  cfg.EmbeddingSize,
		Seed:           cfg.Seed,
		Tolerance:      1e-3,
	}
}

// VerifyResult reports how far the artifact is from the native network.
type VerifyResult struct {
	MaxAbsDiff float64
	MaxRelDiff float64
	Precision  onnx.Precision
}

// Verify runs the artifact on a random image and compares it with the
// native forward pass.
//
// The artifact is fed raw pixels and applies its own scale and bias; the
// native network gets the transformed values directly. For a float16 artifact
// the native parameters are rounded to float16 first.
func Verify(ctx context.Context, cfg VerifyConfig, out io.Writer) (*VerifyResult, error) {
	fmt.Fprintf(out, "🔍 Verifying %s\n", cfg.ModelPath)

	model, _, err := LoadModel(cfg.CheckpointPath, cfg.EmbeddingSize, cfg.Seed, out)
	if err != nil {
		return nil, err
	}
	backend := model.Backend()

	if err := step(ctx); err != nil {
		return nil, err
	}
	artifact, err := onnx.Load(cfg.ModelPath, backend)
	if err != nil {
		return nil, fmt.Errorf("convert: %w", err)
	}
	meta := artifact.Metadata()

	precision, err := onnx.ParsePrecision(meta[onnx.MetaPrecision])
	if err != nil {
		return nil, fmt.Errorf("convert: %w", err)
	}
	if precision == onnx.Float16 {
		if err := roundParameters(model.StateDict()); err != nil {
			return nil, err
		}
	}

	scale, bias, err := onnx.ImageTransform(meta)
	if err != nil {
		return nil, fmt.Errorf("convert: %w", err)
	}
	if scale == 0 || len(bias) != model.Topology().InputChannels {
		return nil, fmt.Errorf("convert: artifact input transform scale=%g bias=%v is not invertible", scale, bias)
	}

	if err := step(ctx); err != nil {
		return nil, err
	}
	x := tensor.Rand(model.Topology().InputShape(1), rand.New(rand.NewSource(cfg.Seed+1)), backend)
	pixels, err := tensor.FromSlice(x.Data(), x.Shape(), backend)
	if err != nil {
		return nil, fmt.Errorf("convert: %w", err)
	}
	// Invert value = pixel*scale + bias[c] so both sides see x.
	data := pixels.Data()
	plane := len(data) / len(bias)
	for i, v := range data {
		data[i] = (v - bias[i/plane]) / scale
	}

	got, err := artifact.Forward(pixels.Raw())
	if err != nil {
		return nil, fmt.Errorf("convert: run artifact: %w", err)
	}
	want, err := model.Embed(x)
	if err != nil {
		return nil, fmt.Errorf("convert: forward pass: %w", err)
	}
	wantRaw := want.Raw()
	if meta[onnx.MetaL2Normalized] == "true" {
		if wantRaw, err = tensor.LpNormalize(wantRaw, 2); err != nil {
			return nil, fmt.Errorf("convert: %w", err)
		}
	}
	if !got.Shape().Equal(wantRaw.Shape()) {
		return nil, fmt.Errorf("%w: output shape %v, expected %v", ErrMismatch, got.Shape(), wantRaw.Shape())
	}

	res := &VerifyResult{Precision: precision}
	res.MaxAbsDiff, res.MaxRelDiff = compare(wantRaw.AsFloat32(), got.AsFloat32())
	fmt.Fprintf(out, "📊 Max difference: %.3g (relative %.3g, %s)\n", res.MaxAbsDiff, res.MaxRelDiff, precision)
	if res.MaxRelDiff > cfg.Tolerance {
		return res, fmt.Errorf("%w: relative difference %.3g exceeds %.3g", ErrMismatch, res.MaxRelDiff, cfg.Tolerance)
	}
	fmt.Fprintln(out, "✅ Artifact matches the network")
	return res, nil
}

// roundParameters rounds every float32 tensor in place to float16 precision.
func roundParameters(stateDict map[string]*tensor.RawTensor) error {
	for name, raw := range stateDict {
		if raw.DType() != tensor.Float32 {
			continue
		}
		rounded, err := tensor.RoundToFloat16(raw)
		if err != nil {
			return fmt.Errorf("convert: %s: %w", name, err)
		}
		if err := raw.CopyFrom(rounded); err != nil {
			return fmt.Errorf("convert: %s: %w", name, err)
		}
	}
	return nil
}

func compare(want, got []float32) (absDiff, relDiff float64) {
	var scale float64
	for i := range want {
		scale = math.Max(scale, math.Abs(float64(want[i])))
		absDiff = math.Max(absDiff, math.Abs(float64(want[i])-float64(got[i])))
	}
	if scale == 0 {
		return absDiff, absDiff
	}
	return absDiff, absDiff / scale
}

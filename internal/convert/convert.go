// Package convert runs the checkpoint to ONNX conversion end to end.
package convert

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math/rand"
	"os"
	"slices"

	"github.com/born-ml/facenet/facenet"
	"github.com/born-ml/facenet/internal/backend/cpu"
	"github.com/born-ml/facenet/internal/loader"
	"github.com/born-ml/facenet/internal/onnx"
	"github.com/born-ml/facenet/internal/serialization"
	"github.com/born-ml/facenet/internal/tensor"
)

// DownloadURL is where pretrained MobileFaceNet weights are published.
const DownloadURL = "https://github.com/foamliu/MobileFaceNets/releases/download/v1.0/mobilefacenet.pt"

// ErrOutputShape is returned when the sanity forward pass does not produce
// one embedding of the configured size.
var ErrOutputShape = errors.New("convert: unexpected output shape")

// Config controls a conversion run.
type Config struct {
	CheckpointPath string
	OutputPath     string
	EmbeddingSize  int

	// Seed drives random initialization and the sanity-check input.
	Seed int64

	Target       onnx.Target
	Precision    onnx.Precision
	L2Normalize  bool
	DynamicBatch bool

	Metadata onnx.Metadata
}

// DefaultMetadata describes the converted MobileFaceNet artifact.
func DefaultMetadata() onnx.Metadata {
	return onnx.Metadata{
		Author:            "MobileFaceNet - Converted",
		License:           "Apache 2.0",
		ShortDescription:  "Face recognition model generating 128-dimensional embeddings",
		Version:           "1.0",
		InputDescription:  "Face image (112x112, RGB, normalized to [0,1])",
		OutputDescription: "128-dimensional L2-normalized face embedding",
	}
}

// DefaultConfig converts mobilefacenet.pt to MobileFaceNet.onnx
// for iOS15 with float16 weights.
func DefaultConfig() Config {
	opts := onnx.DefaultExportOptions()
	return Config{
		CheckpointPath: "mobilefacenet.pt",
		OutputPath:     "MobileFaceNet.onnx",
		EmbeddingSize:  facenet.EmbeddingSize,
		Seed:           0,
		Target:         opts.Target,
		Precision:      opts.Precision,
		Metadata:       DefaultMetadata(),
	}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if c.OutputPath == "" {
		return fmt.Errorf("convert: empty output path")
	}
	if c.EmbeddingSize <= 0 {
		return fmt.Errorf("convert: invalid embedding size %d", c.EmbeddingSize)
	}
	if !slices.Contains(onnx.Targets, c.Target) {
		return fmt.Errorf("convert: unknown deployment target %q", c.Target)
	}
	if !slices.Contains(onnx.Precisions, c.Precision) {
		return fmt.Errorf("convert: unknown precision %q", c.Precision)
	}
	return nil
}

// ExportOptions maps the config onto onnx.ExportOptions.
func (c Config) ExportOptions() onnx.ExportOptions {
	opts := onnx.DefaultExportOptions()
	opts.Target = c.Target
	opts.Precision = c.Precision
	opts.L2Normalize = c.L2Normalize
	opts.DynamicBatch = c.DynamicBatch
	return opts
}

// Result summarizes a finished conversion.
type Result struct {
	OutputPath string
	Bytes      int64
	SHA256     string

	// RandomWeights is set when the checkpoint was missing. Such an artifact
	// only exercises the pipeline and must not be deployed.
	RandomWeights bool

	OutputShape tensor.Shape
	Parameters  int
	Nodes       int
}

// Run builds the network, loads weights, checks one forward pass, then
// traces, exports, annotates and saves the artifact. Progress goes to out.
//
// A missing checkpoint is the only recovered failure: Run warns and keeps
// the random initialization.
func Run(ctx context.Context, cfg Config, out io.Writer) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	fmt.Fprintln(out, "🚀 Starting MobileFaceNet conversion")
	if err := step(ctx); err != nil {
		return nil, err
	}

	model, random, err := LoadModel(cfg.CheckpointPath, cfg.EmbeddingSize, cfg.Seed, out)
	if err != nil {
		return nil, err
	}
	res := &Result{OutputPath: cfg.OutputPath, RandomWeights: random, Parameters: model.NumParameters()}

	if err := step(ctx); err != nil {
		return nil, err
	}
	x := tensor.Randn(model.Topology().InputShape(1), rand.New(rand.NewSource(cfg.Seed+1)), model.Backend())
	y, err := model.Embed(x)
	if err != nil {
		return nil, fmt.Errorf("convert: forward pass: %w", err)
	}
	res.OutputShape = y.Shape()
	if want := (tensor.Shape{1, cfg.EmbeddingSize}); !res.OutputShape.Equal(want) {
		return nil, fmt.Errorf("%w: got %v, expected %v", ErrOutputShape, res.OutputShape, want)
	}
	fmt.Fprintf(out, "✅ Model output shape: %v\n", res.OutputShape)

	if err := step(ctx); err != nil {
		return nil, err
	}
	fmt.Fprintln(out, "📦 Tracing model...")
	graph := model.Trace()
	if err := graph.Validate(); err != nil {
		return nil, fmt.Errorf("convert: trace: %w", err)
	}

	if err := step(ctx); err != nil {
		return nil, err
	}
	fmt.Fprintf(out, "🔄 Converting to ONNX (target %s, %s)...\n", cfg.Target, cfg.Precision)
	proto, err := onnx.Export(graph, cfg.ExportOptions())
	if err != nil {
		return nil, fmt.Errorf("convert: export: %w", err)
	}
	if err := onnx.Annotate(proto, cfg.Metadata); err != nil {
		return nil, fmt.Errorf("convert: %w", err)
	}
	if res.RandomWeights {
		onnx.SetMetadata(proto, onnx.MetaWeights, "random")
	} else {
		onnx.SetMetadata(proto, onnx.MetaWeights, cfg.CheckpointPath)
	}
	res.Nodes = len(proto.Graph.Nodes)

	if err := step(ctx); err != nil {
		return nil, err
	}
	if err := onnx.Save(cfg.OutputPath, proto); err != nil {
		return nil, err
	}
	fmt.Fprintf(out, "✅ Model saved to %s\n", cfg.OutputPath)

	info, err := os.Stat(cfg.OutputPath)
	if err != nil {
		return nil, fmt.Errorf("convert: %w", err)
	}
	res.Bytes = info.Size()
	if res.SHA256, err = serialization.ChecksumFile(cfg.OutputPath); err != nil {
		return nil, fmt.Errorf("convert: %w", err)
	}
	fmt.Fprintf(out, "📊 Model size: %.2f MB\n", float64(res.Bytes)/(1024*1024))
	fmt.Fprintf(out, "   SHA-256: %s\n", res.SHA256)

	if res.RandomWeights {
		fmt.Fprintln(out, "⚠️  Artifact uses random weights and is not fit for deployment")
	}
	fmt.Fprintln(out, "🎉 Conversion complete!")
	return res, nil
}

// LoadModel builds the network from seed and loads checkpoint into it.
//
// A missing checkpoint keeps the random initialization: the warning goes to
// out and random is true. Any other load failure is returned.
func LoadModel(checkpoint string, embeddingSize int, seed int64, out io.Writer) (model *facenet.Model[*cpu.CPUBackend], random bool, err error) {
	model, err = facenet.NewModel(facenet.MobileFaceNet(embeddingSize), cpu.New(), rand.New(rand.NewSource(seed)))
	if err != nil {
		return nil, false, fmt.Errorf("convert: build model: %w", err)
	}

	stateDict, err := loader.LoadStateDict(checkpoint)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		fmt.Fprintf(out, "⚠️  WARNING: %s not found\n", checkpoint)
		fmt.Fprintf(out, "   Download from: %s\n", DownloadURL)
		fmt.Fprintln(out, "   Continuing with random weights for testing...")
		return model, true, nil
	case err != nil:
		return nil, false, fmt.Errorf("convert: load checkpoint: %w", err)
	}
	if err := model.LoadStateDict(stateDict); err != nil {
		return nil, false, fmt.Errorf("convert: %s: %w", checkpoint, err)
	}
	fmt.Fprintf(out, "✅ Loaded weights from %s\n", checkpoint)
	return model, false, nil
}

func step(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("convert: %w", err)
	}
	return nil
}

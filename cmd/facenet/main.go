// Package main provides the facenet CLI: it converts MobileFaceNet weights
// into an ONNX artifact, checks the artifact and embeds face images.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image"
	"io"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/born-ml/facenet/facenet"
	"github.com/born-ml/facenet/internal/backend/cpu"
	"github.com/born-ml/facenet/internal/convert"
	"github.com/born-ml/facenet/internal/embedding"
	"github.com/born-ml/facenet/internal/imageproc"
	"github.com/born-ml/facenet/internal/onnx"
	"github.com/born-ml/facenet/internal/serialization"
	"github.com/born-ml/facenet/internal/tensor"
)

const version = "v1.0.0"

// Exit codes.
const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

// errUsage marks bad command lines; run exits with exitUsage for them.
var errUsage = errors.New("usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdout)
	stop()
	os.Exit(code)
}

// run dispatches args to a subcommand and returns the process exit code.
// Without a command name, or when args start with a flag, it converts.
func run(ctx context.Context, args []string, out io.Writer) int {
	cmd := "convert"
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		cmd, args = args[0], args[1:]
	}

	var err error
	switch cmd {
	case "convert":
		err = runConvert(ctx, args, out)
	case "init-weights":
		err = runInitWeights(args, out)
	case "verify":
		err = runVerify(ctx, args, out)
	case "embed":
		err = runEmbed(args, out)
	case "version":
		fmt.Fprintf(out, "facenet %s\n", version)
	case "help":
		usage(out)
	default:
		fmt.Fprintf(out, "Unknown command %q\n\n", cmd)
		usage(out)
		return exitUsage
	}

	switch {
	case err == nil, errors.Is(err, flag.ErrHelp):
		return exitOK
	case errors.Is(err, errUsage):
		fmt.Fprintf(out, "❌ %v\n", err)
		return exitUsage
	default:
		fmt.Fprintf(out, "❌ %s failed: %v\n", cmd, err)
		return exitFailure
	}
}

func usage(out io.Writer) {
	fmt.Fprintln(out, "facenet - MobileFaceNet face embeddings")
	fmt.Fprintf(out, "Version: %s\n\n", version)
	fmt.Fprintln(out, "Commands:")
	fmt.Fprintln(out, "  convert       Convert a checkpoint to ONNX (default)")
	fmt.Fprintln(out, "  init-weights  Write a randomly initialized checkpoint")
	fmt.Fprintln(out, "  verify        Compare an ONNX artifact with the network")
	fmt.Fprintln(out, "  embed         Print embeddings and similarities for images")
	fmt.Fprintln(out, "  version       Show version")
}

func newFlagSet(name string, out io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(out)
	return fs
}

func parse(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return fmt.Errorf("%w: %s: %v", errUsage, fs.Name(), err)
	}
	return nil
}

func runConvert(ctx context.Context, args []string, out io.Writer) error {
	cfg := convert.DefaultConfig()
	fs := newFlagSet("convert", out)
	fs.StringVar(&cfg.CheckpointPath, "checkpoint", cfg.CheckpointPath, "PyTorch (.pt) or SafeTensors checkpoint to convert")
	fs.StringVar(&cfg.OutputPath, "out", cfg.OutputPath, "Output ONNX file")
	fs.Int64Var(&cfg.Seed, "seed", cfg.Seed, "Seed for random weights and the test input")
	target := fs.String("target", string(cfg.Target), "Minimum deployment target (iOS15, iOS16, iOS17)")
	precision := fs.String("precision", string(cfg.Precision), "Weight precision (float32, float16)")
	fs.BoolVar(&cfg.L2Normalize, "l2norm", cfg.L2Normalize, "Append L2 normalization to the output")
	fs.BoolVar(&cfg.DynamicBatch, "dynamic-batch", cfg.DynamicBatch, "Declare a symbolic batch dimension")
	if err := parse(fs, args); err != nil {
		return err
	}

	var err error
	if cfg.Target, err = onnx.ParseTarget(*target); err != nil {
		return fmt.Errorf("%w: -target: %v", errUsage, err)
	}
	if cfg.Precision, err = onnx.ParsePrecision(*precision); err != nil {
		return fmt.Errorf("%w: -precision: %v", errUsage, err)
	}

	_, err = convert.Run(ctx, cfg, out)
	return err
}

func runInitWeights(args []string, out io.Writer) error {
	fs := newFlagSet("init-weights", out)
	path := fs.String("out", convert.DefaultConfig().CheckpointPath, "Output checkpoint (.pt for PyTorch, otherwise SafeTensors)")
	seed := fs.Int64("seed", 0, "Random seed")
	if err := parse(fs, args); err != nil {
		return err
	}

	model, err := facenet.NewModel(facenet.MobileFaceNet(facenet.EmbeddingSize), cpu.New(), rand.New(rand.NewSource(*seed)))
	if err != nil {
		return fmt.Errorf("build model: %w", err)
	}
	switch strings.ToLower(filepath.Ext(*path)) {
	case ".pt", ".pth":
		err = serialization.WriteTorchStateDict(*path, model.StateDict())
	default:
		meta := map[string]string{"seed": fmt.Sprint(*seed), "weights": "random"}
		err = serialization.WriteSafeTensors(*path, model.StateDict(), meta)
	}
	if err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	fmt.Fprintf(out, "✅ Wrote %d parameters to %s\n", model.NumParameters(), *path)
	return nil
}

func runVerify(ctx context.Context, args []string, out io.Writer) error {
	cfg := convert.DefaultVerifyConfig()
	fs := newFlagSet("verify", out)
	fs.StringVar(&cfg.ModelPath, "model", cfg.ModelPath, "ONNX artifact to check")
	fs.StringVar(&cfg.CheckpointPath, "checkpoint", cfg.CheckpointPath, "Checkpoint the artifact was converted from")
	fs.Int64Var(&cfg.Seed, "seed", cfg.Seed, "Seed used for conversion when the checkpoint is missing")
	fs.Float64Var(&cfg.Tolerance, "tol", cfg.Tolerance, "Maximum relative difference")
	if err := parse(fs, args); err != nil {
		return err
	}

	_, err := convert.Verify(ctx, cfg, out)
	return err
}

func runEmbed(args []string, out io.Writer) error {
	fs := newFlagSet("embed", out)
	checkpoint := fs.String("checkpoint", convert.DefaultConfig().CheckpointPath, "PyTorch (.pt) or SafeTensors checkpoint")
	seed := fs.Int64("seed", 0, "Seed for random weights when the checkpoint is missing")
	l2 := fs.Bool("l2norm", true, "L2-normalize the printed embeddings")
	eps := fs.Float64("cluster-eps", 0, "Group faces with DBSCAN at this cosine distance (0 disables)")
	minPoints := fs.Int("min-points", 1, "DBSCAN core point threshold")
	if err := parse(fs, args); err != nil {
		return err
	}

	paths := fs.Args()
	if len(paths) == 0 {
		return fmt.Errorf("%w: embed: no images given", errUsage)
	}

	model, _, err := convert.LoadModel(*checkpoint, facenet.EmbeddingSize, *seed, out)
	if err != nil {
		return err
	}

	images := make([]image.Image, len(paths))
	for i, p := range paths {
		if images[i], err = imageproc.Load(p); err != nil {
			return fmt.Errorf("load image: %w", err)
		}
	}
	x, err := imageproc.ToTensor(images, imageproc.DefaultInputSpec(), model.Backend())
	if err != nil {
		return fmt.Errorf("prepare input: %w", err)
	}
	y, err := model.Embed(x)
	if err != nil {
		return fmt.Errorf("embed: %w", err)
	}

	vectors := rows(y.Raw())
	for i, v := range vectors {
		if *l2 {
			v = embedding.Normalize(v)
		}
		fmt.Fprintf(out, "%s: %v\n", paths[i], v)
	}

	sim, err := embedding.Similarities(vectors)
	if err != nil {
		return fmt.Errorf("compare: %w", err)
	}
	fmt.Fprintln(out, "\n📊 Cosine similarity:")
	for i := range paths {
		for j := i + 1; j < len(paths); j++ {
			fmt.Fprintf(out, "  %s ~ %s: %.4f\n", paths[i], paths[j], sim.At(i, j))
		}
	}

	if *eps > 0 {
		labels, err := embedding.Cluster(vectors, *eps, *minPoints)
		if err != nil {
			return fmt.Errorf("cluster: %w", err)
		}
		fmt.Fprintln(out, "\n👥 Clusters:")
		for i, label := range labels {
			if label == embedding.Noise {
				fmt.Fprintf(out, "  %s: unmatched\n", paths[i])
				continue
			}
			fmt.Fprintf(out, "  %s: %d\n", paths[i], label)
		}
	}
	return nil
}

// rows splits an [N, D] float32 tensor into N vectors.
func rows(t *tensor.RawTensor) [][]float32 {
	shape := t.Shape()
	data := t.AsFloat32()
	out := make([][]float32, shape[0])
	for i := range out {
		out[i] = append([]float32(nil), data[i*shape[1]:(i+1)*shape[1]]...)
	}
	return out
}

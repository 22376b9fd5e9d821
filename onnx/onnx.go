// Package onnx exports the face embedding network to ONNX and runs the
// resulting artifact.
//
// The artifact takes one RGB image "input" [1, 3, 112, 112] with raw pixel
// values; the graph applies the pixel scale and bias itself and produces
// "embedding" [1, 128]. Deployment target, precision and descriptive
// metadata are recorded in metadata_props.
//
// # Example Usage
//
//	backend := cpu.New()
//	model, _ := facenet.NewModel(facenet.MobileFaceNet(128), backend, rand.New(rand.NewSource(0)))
//
//	proto, err := onnx.Export(model.Trace(), onnx.DefaultExportOptions())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	_ = onnx.Annotate(proto, md)
//	_ = onnx.Save("MobileFaceNet.onnx", proto)
//
//	artifact, err := onnx.Load("MobileFaceNet.onnx", backend)
//	out, err := artifact.Forward(pixels)
//
// # Supported Operators
//
// Conv, BatchNormalization, PRelu, Add, Mul, Flatten, Gemm, Cast,
// LpNormalization and Identity. Use [ListSupportedOps] for the list.
package onnx

import (
	internalonnx "github.com/born-ml/facenet/internal/onnx"
	"github.com/born-ml/facenet/internal/onnx/operators"
	"github.com/born-ml/facenet/internal/trace"
	"github.com/born-ml/facenet/tensor"
)

// Model is a loaded ONNX artifact ready for inference.
type Model interface {
	// Forward runs a single-input, single-output model.
	Forward(input *tensor.RawTensor) (*tensor.RawTensor, error)

	// ForwardNamed runs the model with named inputs and returns every
	// declared output.
	ForwardNamed(inputs map[string]*tensor.RawTensor) (map[string]*tensor.RawTensor, error)

	InputNames() []string
	OutputNames() []string
	OpsetVersion() int64
	Metadata() map[string]string
}

var _ Model = (*internalonnx.Model)(nil)

// ModelProto is the in-memory form of an .onnx file.
type ModelProto = internalonnx.ModelProto

// Target is a minimum deployment target.
type Target = internalonnx.Target

// Deployment targets.
const (
	TargetIOS15 = internalonnx.TargetIOS15
	TargetIOS16 = internalonnx.TargetIOS16
	TargetIOS17 = internalonnx.TargetIOS17
)

// Precision selects how weights are stored.
type Precision = internalonnx.Precision

// Precisions.
const (
	Float32 = internalonnx.Float32
	Float16 = internalonnx.Float16
)

// ExportOptions controls Export.
type ExportOptions = internalonnx.ExportOptions

// Metadata is the descriptive text attached by Annotate.
type Metadata = internalonnx.Metadata

// LoadOptions configures Load.
type LoadOptions = internalonnx.LoadOptions

// ModelInfo summarizes an artifact without running it.
type ModelInfo = internalonnx.ModelInfo

// DefaultExportOptions targets iOS15 with float16 weights, pixel scale
// 1/255 and zero bias.
func DefaultExportOptions() ExportOptions {
	return internalonnx.DefaultExportOptions()
}

// Export converts a traced network into a ModelProto.
func Export(g *trace.Graph, opts ExportOptions) (*ModelProto, error) {
	return internalonnx.Export(g, opts)
}

// Annotate attaches md to the model.
func Annotate(m *ModelProto, md Metadata) error {
	return internalonnx.Annotate(m, md)
}

// Save writes m to path.
func Save(path string, m *ModelProto) error {
	return internalonnx.Save(path, m)
}

// Load parses and compiles an artifact for inference.
func Load(path string, backend tensor.Backend, opts ...LoadOptions) (Model, error) {
	return internalonnx.Load(path, backend, opts...)
}

// LoadFromBytes parses and compiles an encoded artifact.
func LoadFromBytes(data []byte, backend tensor.Backend, opts ...LoadOptions) (Model, error) {
	return internalonnx.LoadFromBytes(data, backend, opts...)
}

// GetModelInfo reads summary information from an artifact file.
func GetModelInfo(path string) (*ModelInfo, error) {
	return internalonnx.GetModelInfo(path)
}

// ListSupportedOps returns the operator types Load accepts.
func ListSupportedOps() []string {
	return operators.NewRegistry().SupportedOps()
}

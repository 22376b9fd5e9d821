package onnx

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Metadata keys written into metadata_props.
const (
	MetaAuthor                  = "author"
	MetaLicense                 = "license"
	MetaShortDescription        = "short_description"
	MetaVersion                 = "version"
	MetaInputDescription        = "input_description"
	MetaOutputDescription       = "output_description"
	MetaMinimumDeploymentTarget = "minimum_deployment_target"
	MetaPrecision               = "precision"
	MetaColorLayout             = "color_layout"
	MetaImageScale              = "image_scale"
	MetaImageBias               = "image_bias"
	MetaL2Normalized            = "l2_normalized"
	MetaWeights                 = "weights"
)

// Metadata is the human-facing description attached to an artifact.
type Metadata struct {
	Author            string
	License           string
	ShortDescription  string
	Version           string
	InputDescription  string
	OutputDescription string
}

// Annotate attaches md to the model.
//
// The short description becomes the model doc string, the input and output
// descriptions become the doc strings of the declared values, and every
// field is also stored in metadata_props. Existing keys are overwritten.
func Annotate(m *ModelProto, md Metadata) error {
	if m.Graph == nil {
		return fmt.Errorf("onnx: annotate: model has no graph")
	}
	if len(m.Graph.Inputs) != 1 || len(m.Graph.Outputs) != 1 {
		return fmt.Errorf("onnx: annotate: expected one input and one output, got %d and %d",
			len(m.Graph.Inputs), len(m.Graph.Outputs))
	}

	m.DocString = md.ShortDescription
	m.Graph.Inputs[0].DocString = md.InputDescription
	m.Graph.Outputs[0].DocString = md.OutputDescription

	SetMetadata(m, MetaAuthor, md.Author)
	SetMetadata(m, MetaLicense, md.License)
	SetMetadata(m, MetaShortDescription, md.ShortDescription)
	SetMetadata(m, MetaVersion, md.Version)
	SetMetadata(m, MetaInputDescription, md.InputDescription)
	SetMetadata(m, MetaOutputDescription, md.OutputDescription)
	return nil
}

// MetadataOf reads back what Annotate stored.
func MetadataOf(m *ModelProto) Metadata {
	meta := m.Metadata()
	return Metadata{
		Author:            meta[MetaAuthor],
		License:           meta[MetaLicense],
		ShortDescription:  meta[MetaShortDescription],
		Version:           meta[MetaVersion],
		InputDescription:  meta[MetaInputDescription],
		OutputDescription: meta[MetaOutputDescription],
	}
}

// ImageTransform reads back the pixel scale and per-channel bias Export
// recorded in meta.
func ImageTransform(meta map[string]string) (scale float32, bias []float32, err error) {
	s, err := strconv.ParseFloat(meta[MetaImageScale], 32)
	if err != nil {
		return 0, nil, fmt.Errorf("onnx: %s: %w", MetaImageScale, err)
	}
	list := strings.TrimSuffix(strings.TrimPrefix(meta[MetaImageBias], "["), "]")
	for _, part := range strings.Split(list, ",") {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 32)
		if err != nil {
			return 0, nil, fmt.Errorf("onnx: %s: %w", MetaImageBias, err)
		}
		bias = append(bias, float32(v))
	}
	return float32(s), bias, nil
}

// SetMetadata sets one metadata_props entry, replacing an existing key.
func SetMetadata(m *ModelProto, key, value string) {
	for i := range m.MetadataProps {
		if m.MetadataProps[i].Key == key {
			m.MetadataProps[i].Value = value
			return
		}
	}
	m.MetadataProps = append(m.MetadataProps, StringStringEntry{Key: key, Value: value})
}

// Save writes the encoded model to path, replacing any existing file.
func Save(path string, m *ModelProto) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("onnx: save: %w", err)
		}
	}
	tmp := path + ".tmp"
	//nolint:gosec // G306: the artifact is meant to be shared
	if err := os.WriteFile(tmp, Marshal(m), 0o644); err != nil {
		return fmt.Errorf("onnx: save: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp) // Best effort cleanup
		return fmt.Errorf("onnx: save: %w", err)
	}
	return nil
}

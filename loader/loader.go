// Package loader reads and writes MobileFaceNet checkpoints.
//
// Checkpoints are torch.save archives (.pt) or SafeTensors files keyed like
// the PyTorch state dict, e.g. "conv1.conv.weight" or "bn.running_var".
//
// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.
package loader

import (
	"github.com/born-ml/facenet/internal/loader"
	"github.com/born-ml/facenet/internal/serialization"
	"github.com/born-ml/facenet/tensor"
)

// Reader gives lazy access to the tensors of a SafeTensors file.
type Reader = loader.SafeTensorsReader

// Open opens a SafeTensors file. A missing file yields an error wrapping
// fs.ErrNotExist.
func Open(path string) (*Reader, error) {
	return loader.NewSafeTensorsReader(path)
}

// LoadStateDict reads every tensor of a checkpoint. The format is detected
// from the file header and extension.
//
// Example:
//
//	sd, err := loader.LoadStateDict("mobilefacenet.pt")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = model.LoadStateDict(sd)
func LoadStateDict(path string) (map[string]*tensor.RawTensor, error) {
	return loader.LoadStateDict(path)
}

// SaveTorchStateDict writes stateDict as a torch.save archive.
func SaveTorchStateDict(path string, stateDict map[string]*tensor.RawTensor) error {
	return serialization.WriteTorchStateDict(path, stateDict)
}

// SaveStateDict writes stateDict to path with optional string metadata.
func SaveStateDict(path string, stateDict map[string]*tensor.RawTensor, metadata map[string]string) error {
	return serialization.WriteSafeTensors(path, stateDict, metadata)
}

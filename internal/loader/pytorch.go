package loader

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/nlpodyssey/gopickle/pytorch"
	"github.com/nlpodyssey/gopickle/types"

	"github.com/born-ml/facenet/internal/tensor"
)

// Format identifies a checkpoint file format.
type Format int

// Supported checkpoint formats.
const (
	FormatSafeTensors Format = iota
	FormatPyTorch
)

// String returns the format name.
func (f Format) String() string {
	if f == FormatPyTorch {
		return "pytorch"
	}
	return "safetensors"
}

// zipMagic starts every torch.save archive written since PyTorch 1.6.
var zipMagic = []byte("PK\x03\x04")

// DetectFormat sniffs the first bytes of path. Zip archives and files
// with a PyTorch extension are read as torch.save checkpoints.
//
// A missing file yields an error wrapping fs.ErrNotExist.
func DetectFormat(path string) (Format, error) {
	//nolint:gosec // G304: checkpoint path is chosen by the user
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open checkpoint: %w", err)
	}
	defer func() { _ = file.Close() }()

	head := make([]byte, len(zipMagic))
	n, err := io.ReadFull(file, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return 0, fmt.Errorf("%s: %w", path, err)
	}
	if bytes.Equal(head[:n], zipMagic) {
		return FormatPyTorch, nil
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pt", ".pth", ".pkl", ".bin":
		return FormatPyTorch, nil
	}
	return FormatSafeTensors, nil
}

// LoadPyTorch reads a torch.save checkpoint holding a state dict.
//
// The pickled object may be the state dict itself or a dict wrapping it
// under "state_dict" or "model". A "module." prefix left by
// DataParallel is stripped.
func LoadPyTorch(path string) (map[string]*tensor.RawTensor, error) {
	obj, err := pytorch.Load(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	entries, err := stateDictEntries(obj)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	stateDict := make(map[string]*tensor.RawTensor, len(entries))
	for key, value := range entries {
		name, ok := key.(string)
		if !ok {
			return nil, fmt.Errorf("%s: state dict key %v is not a string", path, key)
		}
		t, ok := value.(*pytorch.Tensor)
		if !ok {
			return nil, fmt.Errorf("%s: %s holds %T, not a tensor", path, name, value)
		}
		raw, err := pytorchTensorToRaw(t)
		if err != nil {
			return nil, fmt.Errorf("%s: tensor %s: %w", path, name, err)
		}
		stateDict[strings.TrimPrefix(name, "module.")] = raw
	}
	return stateDict, nil
}

type dictGetter interface {
	Get(key interface{}) (interface{}, bool)
}

type dictKeys interface {
	dictGetter
	Keys() []interface{}
}

func stateDictEntries(obj interface{}) (map[interface{}]interface{}, error) {
	switch d := obj.(type) {
	case *types.OrderedDict:
		entries := make(map[interface{}]interface{}, len(d.Map))
		for key, entry := range d.Map {
			entries[key] = entry.Value
		}
		if nested, ok := nestedStateDict(mapGetter(entries)); ok {
			return stateDictEntries(nested)
		}
		return entries, nil
	case dictKeys:
		if nested, ok := nestedStateDict(d); ok {
			return stateDictEntries(nested)
		}
		entries := make(map[interface{}]interface{})
		for _, key := range d.Keys() {
			entries[key], _ = d.Get(key)
		}
		return entries, nil
	default:
		return nil, fmt.Errorf("checkpoint holds %T, not a state dict", obj)
	}
}

type mapGetter map[interface{}]interface{}

func (m mapGetter) Get(key interface{}) (interface{}, bool) {
	v, ok := m[key]
	return v, ok
}

func nestedStateDict(d dictGetter) (interface{}, bool) {
	for _, key := range []string{"state_dict", "model"} {
		if v, ok := d.Get(key); ok {
			if _, isTensor := v.(*pytorch.Tensor); !isTensor {
				return v, true
			}
		}
	}
	return nil, false
}

// pytorchTensorToRaw gathers a possibly strided view into a contiguous
// tensor. Floating point storages load as Float32 (Float16 for half),
// integer storages as Int64.
func pytorchTensorToRaw(t *pytorch.Tensor) (*tensor.RawTensor, error) {
	shape := tensor.Shape(t.Size)
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape: %w", err)
	}
	index, err := storageIndex(shape, t.Stride, t.StorageOffset)
	if err != nil {
		return nil, err
	}

	switch s := t.Source.(type) {
	case *pytorch.FloatStorage:
		return gatherFloat32(s.Data, index, shape)
	case *pytorch.HalfStorage:
		raw, err := gatherFloat32(s.Data, index, shape)
		if err != nil {
			return nil, err
		}
		return tensor.Cast(raw, tensor.Float16)
	case *pytorch.DoubleStorage:
		values := make([]float64, len(index))
		for i, at := range index {
			if at >= len(s.Data) {
				return nil, errOutOfStorage(at, len(s.Data))
			}
			values[i] = s.Data[at]
		}
		return tensor.Float64sToRaw(values, shape, tensor.CPU)
	case *pytorch.LongStorage:
		raw, err := tensor.NewRaw(shape, tensor.Int64, tensor.CPU)
		if err != nil {
			return nil, err
		}
		dst := raw.AsInt64()
		for i, at := range index {
			if at >= len(s.Data) {
				return nil, errOutOfStorage(at, len(s.Data))
			}
			dst[i] = s.Data[at]
		}
		return raw, nil
	default:
		return nil, fmt.Errorf("unsupported storage %T", t.Source)
	}
}

// storageIndex lists the storage position of every element in row-major
// order.
func storageIndex(shape tensor.Shape, stride []int, offset int) ([]int, error) {
	if len(stride) != len(shape) {
		return nil, fmt.Errorf("stride %v does not match shape %v", stride, shape)
	}
	index := make([]int, shape.NumElements())
	coord := make([]int, len(shape))
	for i := range index {
		at := offset
		for d, c := range coord {
			at += c * stride[d]
		}
		if at < 0 {
			return nil, fmt.Errorf("negative storage position %d", at)
		}
		index[i] = at
		for d := len(coord) - 1; d >= 0; d-- {
			coord[d]++
			if coord[d] < shape[d] {
				break
			}
			coord[d] = 0
		}
	}
	return index, nil
}

func gatherFloat32(data []float32, index []int, shape tensor.Shape) (*tensor.RawTensor, error) {
	values := make([]float32, len(index))
	for i, at := range index {
		if at >= len(data) {
			return nil, errOutOfStorage(at, len(data))
		}
		values[i] = data[at]
	}
	return tensor.RawFromFloat32(values, shape, tensor.CPU)
}

func errOutOfStorage(at, size int) error {
	return fmt.Errorf("element at storage position %d beyond storage of %d", at, size)
}

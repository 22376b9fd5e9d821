package loader

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"sort"

	"github.com/born-ml/facenet/internal/serialization"
	"github.com/born-ml/facenet/internal/tensor"
)

// SafeTensors format:
// [8 bytes: header_size (uint64 LE)]
// [header_size bytes: JSON header]
// [tensor data: raw bytes]

// SafeTensorsDType represents supported SafeTensors data types.
type SafeTensorsDType string

// Supported SafeTensors dtypes.
const (
	SafeTensorsF16  SafeTensorsDType = "F16"
	SafeTensorsF32  SafeTensorsDType = "F32"
	SafeTensorsF64  SafeTensorsDType = "F64"
	SafeTensorsBF16 SafeTensorsDType = "BF16"
	SafeTensorsI64  SafeTensorsDType = "I64"
)

// maxHeaderSize bounds the JSON header; real checkpoints stay far below it.
const maxHeaderSize = 100 * 1024 * 1024

// SafeTensorInfo describes a tensor in SafeTensors format.
type SafeTensorInfo struct {
	DType       SafeTensorsDType `json:"dtype"`
	Shape       []int            `json:"shape"`
	DataOffsets [2]int64         `json:"data_offsets"` // [start, end]
}

// SafeTensorsHeader is the JSON header in SafeTensors format.
type SafeTensorsHeader struct {
	Metadata map[string]string         `json:"__metadata__"`
	Tensors  map[string]SafeTensorInfo `json:"-"`
}

// UnmarshalJSON splits the header into metadata and tensor entries.
func (h *SafeTensorsHeader) UnmarshalJSON(data []byte) error {
	var rawMap map[string]json.RawMessage
	if err := json.Unmarshal(data, &rawMap); err != nil {
		return err
	}

	if metadataRaw, ok := rawMap["__metadata__"]; ok {
		if err := json.Unmarshal(metadataRaw, &h.Metadata); err != nil {
			return fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	h.Tensors = make(map[string]SafeTensorInfo, len(rawMap))
	for key, value := range rawMap {
		if key == "__metadata__" {
			continue
		}
		var info SafeTensorInfo
		if err := json.Unmarshal(value, &info); err != nil {
			return fmt.Errorf("failed to unmarshal tensor %s: %w", key, err)
		}
		h.Tensors[key] = info
	}
	return nil
}

// SafeTensorsReader reads SafeTensors format files.
type SafeTensorsReader struct {
	file       *os.File
	header     SafeTensorsHeader
	dataOffset int64 // Offset where tensor data starts
	dataSize   int64 // Bytes available after the header
}

// NewSafeTensorsReader opens path and parses its header.
//
// A missing file yields an error wrapping fs.ErrNotExist.
func NewSafeTensorsReader(path string) (*SafeTensorsReader, error) {
	//nolint:gosec // G304: checkpoint path is chosen by the user
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint: %w", err)
	}

	r, err := newReader(file)
	if err != nil {
		_ = file.Close() // Best effort close on error
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

func newReader(file *os.File) (*SafeTensorsReader, error) {
	stat, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	var headerSize uint64
	if err := binary.Read(file, binary.LittleEndian, &headerSize); err != nil {
		return nil, fmt.Errorf("failed to read header size: %w", err)
	}
	if headerSize > maxHeaderSize || int64(headerSize)+8 > stat.Size() { //nolint:gosec // G115: bounded above
		return nil, fmt.Errorf("invalid header size: %d (file is %d bytes)", headerSize, stat.Size())
	}

	headerBytes := make([]byte, headerSize)
	if _, err := io.ReadFull(file, headerBytes); err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	var header SafeTensorsHeader
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return nil, fmt.Errorf("failed to parse header JSON: %w", err)
	}

	dataOffset := int64(8 + headerSize) //nolint:gosec // G115: bounded above
	dataSize := stat.Size() - dataOffset

	spans := make([]serialization.TensorSpan, 0, len(header.Tensors))
	for name, info := range header.Tensors {
		if err := serialization.ValidateTensorName(name); err != nil {
			return nil, err
		}
		spans = append(spans, serialization.TensorSpan{
			Name:   name,
			Offset: info.DataOffsets[0],
			Size:   info.DataOffsets[1] - info.DataOffsets[0],
		})
	}
	if err := serialization.ValidateTensorOffsets(spans, dataSize); err != nil {
		return nil, err
	}

	return &SafeTensorsReader{
		file:       file,
		header:     header,
		dataOffset: dataOffset,
		dataSize:   dataSize,
	}, nil
}

// Close closes the SafeTensors file.
func (r *SafeTensorsReader) Close() error {
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}

// Metadata returns the metadata map from the header.
func (r *SafeTensorsReader) Metadata() map[string]string {
	return r.header.Metadata
}

// TensorNames returns all tensor names in sorted order.
func (r *SafeTensorsReader) TensorNames() []string {
	names := make([]string, 0, len(r.header.Tensors))
	for name := range r.header.Tensors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TensorInfo returns information about a specific tensor.
func (r *SafeTensorsReader) TensorInfo(name string) (*SafeTensorInfo, error) {
	info, ok := r.header.Tensors[name]
	if !ok {
		return nil, fmt.Errorf("tensor %s not found", name)
	}
	return &info, nil
}

// ReadTensorData reads raw tensor bytes for a given tensor name.
func (r *SafeTensorsReader) ReadTensorData(name string) ([]byte, error) {
	info, err := r.TensorInfo(name)
	if err != nil {
		return nil, err
	}

	start, end := info.DataOffsets[0], info.DataOffsets[1]
	if start < 0 || end < start || end > r.dataSize {
		return nil, fmt.Errorf("invalid data offsets for tensor %s: [%d, %d] (data section is %d bytes)",
			name, start, end, r.dataSize)
	}

	data := make([]byte, end-start)
	if _, err := r.file.ReadAt(data, r.dataOffset+start); err != nil {
		return nil, fmt.Errorf("failed to read tensor data for %s: %w", name, err)
	}
	return data, nil
}

// LoadTensor loads a tensor, converting F64 and BF16 to Float32.
func (r *SafeTensorsReader) LoadTensor(name string) (*tensor.RawTensor, error) {
	info, err := r.TensorInfo(name)
	if err != nil {
		return nil, err
	}

	shape := tensor.Shape(info.Shape)
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape for tensor %s: %w", name, err)
	}

	data, err := r.ReadTensorData(name)
	if err != nil {
		return nil, err
	}

	var raw *tensor.RawTensor
	switch info.DType {
	case SafeTensorsF32:
		raw, err = tensor.RawFromBytes(data, shape, tensor.Float32, tensor.CPU)
	case SafeTensorsF16:
		raw, err = tensor.RawFromBytes(data, shape, tensor.Float16, tensor.CPU)
	case SafeTensorsI64:
		raw, err = tensor.RawFromBytes(data, shape, tensor.Int64, tensor.CPU)
	case SafeTensorsF64:
		raw, err = float64ToRaw(data, shape)
	case SafeTensorsBF16:
		raw, err = bfloat16ToRaw(data, shape)
	default:
		return nil, fmt.Errorf("tensor %s: unsupported dtype %s", name, info.DType)
	}
	if err != nil {
		return nil, fmt.Errorf("tensor %s: %w", name, err)
	}
	return raw, nil
}

func float64ToRaw(data []byte, shape tensor.Shape) (*tensor.RawTensor, error) {
	if len(data) != shape.NumElements()*8 {
		return nil, fmt.Errorf("shape %v F64 requires %d bytes, got %d", shape, shape.NumElements()*8, len(data))
	}
	values := make([]float64, shape.NumElements())
	for i := range values {
		values[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[i*8:]))
	}
	return tensor.Float64sToRaw(values, shape, tensor.CPU)
}

// bfloat16ToRaw widens bfloat16 (the top half of a float32) to Float32.
func bfloat16ToRaw(data []byte, shape tensor.Shape) (*tensor.RawTensor, error) {
	if len(data) != shape.NumElements()*2 {
		return nil, fmt.Errorf("shape %v BF16 requires %d bytes, got %d", shape, shape.NumElements()*2, len(data))
	}
	values := make([]float32, shape.NumElements())
	for i := range values {
		values[i] = math.Float32frombits(uint32(binary.LittleEndian.Uint16(data[i*2:])) << 16)
	}
	return tensor.RawFromFloat32(values, shape, tensor.CPU)
}

// LoadStateDict reads every tensor of a checkpoint, SafeTensors or
// torch.save, choosing the reader with DetectFormat.
//
// A missing file yields an error wrapping fs.ErrNotExist so callers can
// fall back; any other failure is a corrupt or unsupported checkpoint.
func LoadStateDict(path string) (map[string]*tensor.RawTensor, error) {
	format, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}
	if format == FormatPyTorch {
		return LoadPyTorch(path)
	}
	return LoadSafeTensors(path)
}

// LoadSafeTensors reads every tensor of a SafeTensors checkpoint.
func LoadSafeTensors(path string) (map[string]*tensor.RawTensor, error) {
	r, err := NewSafeTensorsReader(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()

	stateDict := make(map[string]*tensor.RawTensor, len(r.header.Tensors))
	for _, name := range r.TensorNames() {
		raw, err := r.LoadTensor(name)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		stateDict[name] = raw
	}
	return stateDict, nil
}

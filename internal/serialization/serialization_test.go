package serialization

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/facenet/internal/tensor"
)

func TestChecksum_KnownVector(t *testing.T) {
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", Checksum([]byte("abc")))

	sum, err := ChecksumReader(strings.NewReader("abc"))
	require.NoError(t, err)
	assert.Equal(t, Checksum([]byte("abc")), sum)
}

func TestChecksumFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "artifact.bin")
	require.NoError(t, os.WriteFile(path, []byte("abc"), 0o600))

	sum, err := ChecksumFile(path)
	require.NoError(t, err)
	assert.NoError(t, ValidateChecksum(sum, Checksum([]byte("abc"))))
	assert.ErrorIs(t, ValidateChecksum(sum, Checksum([]byte("abd"))), ErrChecksumMismatch)

	_, err = ChecksumFile(filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestWriteTo_Layout(t *testing.T) {
	weight, err := tensor.RawFromFloat32([]float32{1, 2, 3, 4, 5, 6}, tensor.Shape{2, 3}, tensor.CPU)
	require.NoError(t, err)
	counter, err := tensor.NewRaw(tensor.Shape{}, tensor.Int64, tensor.CPU)
	require.NoError(t, err)
	counter.AsInt64()[0] = 7

	var buf bytes.Buffer
	require.NoError(t, WriteTo(&buf, map[string]*tensor.RawTensor{
		"linear.weight":          weight,
		"bn.num_batches_tracked": counter,
	}, map[string]string{"format": "pt"}))

	data := buf.Bytes()
	headerSize := binary.LittleEndian.Uint64(data[:8])
	var header map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data[8:8+headerSize], &header))

	var bn, linear SafeTensorHeader
	require.NoError(t, json.Unmarshal(header["bn.num_batches_tracked"], &bn))
	require.NoError(t, json.Unmarshal(header["linear.weight"], &linear))

	// Sorted order: bn.* first.
	assert.Equal(t, SafeTensorHeader{DType: "I64", Shape: []int64{}, DataOffsets: [2]int64{0, 8}}, bn)
	assert.Equal(t, SafeTensorHeader{DType: "F32", Shape: []int64{2, 3}, DataOffsets: [2]int64{8, 32}}, linear)
	assert.Contains(t, string(header["__metadata__"]), `"format":"pt"`)
	assert.Len(t, data, 8+int(headerSize)+32)
}

func TestWriteTo_RejectsBadNames(t *testing.T) {
	x, err := tensor.RawFromFloat32([]float32{1}, tensor.Shape{1}, tensor.CPU)
	require.NoError(t, err)

	for _, name := range []string{"", "../weights", "a/b", "__metadata__"} {
		err := WriteTo(&bytes.Buffer{}, map[string]*tensor.RawTensor{name: x}, nil)
		assert.ErrorIs(t, err, ErrInvalidTensorName, "name %q", name)
	}
}

func TestWriteSafeTensors_NoTempFileLeft(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ckpt.safetensors")
	x, err := tensor.RawFromFloat32([]float32{1, 2}, tensor.Shape{2}, tensor.CPU)
	require.NoError(t, err)

	require.NoError(t, WriteSafeTensors(path, map[string]*tensor.RawTensor{"w": x}, nil))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "ckpt.safetensors", entries[0].Name())
}

func TestValidateTensorOffsets(t *testing.T) {
	ok := []TensorSpan{{"a", 0, 8}, {"b", 8, 4}}
	assert.NoError(t, ValidateTensorOffsets(ok, 12))

	tests := []struct {
		name  string
		spans []TensorSpan
		want  error
	}{
		{"overlap", []TensorSpan{{"a", 0, 8}, {"b", 4, 4}}, ErrOffsetOverlap},
		{"out of bounds", []TensorSpan{{"a", 8, 8}}, ErrOutOfBounds},
		{"negative", []TensorSpan{{"a", -1, 4}}, ErrNegativeOffset},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTensorOffsets(tt.spans, 12)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

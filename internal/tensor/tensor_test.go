package tensor

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubBackend satisfies Backend for creation tests that never dispatch.
type stubBackend struct{ Backend }

func (stubBackend) Device() Device { return CPU }

func TestShape_Basics(t *testing.T) {
	s := Shape{2, 3, 4}
	assert.Equal(t, 24, s.NumElements())
	assert.Equal(t, []int{12, 4, 1}, s.ComputeStrides())
	assert.Equal(t, 1, Shape{}.NumElements(), "scalar has one element")
	assert.True(t, s.Equal(s.Clone()))
	assert.False(t, s.Equal(Shape{2, 3}))
	assert.Error(t, Shape{2, 0}.Validate())
}

func TestBroadcastShapes(t *testing.T) {
	tests := []struct {
		a, b      Shape
		want      Shape
		broadcast bool
		wantErr   bool
	}{
		{Shape{1, 64, 56, 56}, Shape{1, 64, 56, 56}, Shape{1, 64, 56, 56}, false, false},
		{Shape{1, 3, 4, 4}, Shape{1, 3, 1, 1}, Shape{1, 3, 4, 4}, true, false},
		{Shape{2, 3, 4, 4}, Shape{1}, Shape{2, 3, 4, 4}, true, false},
		{Shape{3, 4}, Shape{3, 5}, nil, false, true},
	}
	for _, tt := range tests {
		got, broadcast, err := BroadcastShapes(tt.a, tt.b)
		if tt.wantErr {
			assert.Error(t, err)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
		assert.Equal(t, tt.broadcast, broadcast)
	}
}

func TestRawFromBytes_SizeMismatch(t *testing.T) {
	_, err := RawFromBytes(make([]byte, 10), Shape{3}, Float32, CPU)
	require.Error(t, err)

	raw, err := RawFromBytes(make([]byte, 12), Shape{3}, Float32, CPU)
	require.NoError(t, err)
	assert.Equal(t, Shape{3}, raw.Shape())
}

func TestRawTensor_CopyFrom(t *testing.T) {
	dst, err := NewRaw(Shape{2, 2}, Float32, CPU)
	require.NoError(t, err)
	src, err := RawFromFloat32([]float32{1, 2, 3, 4}, Shape{2, 2}, CPU)
	require.NoError(t, err)

	require.NoError(t, dst.CopyFrom(src))
	assert.Equal(t, []float32{1, 2, 3, 4}, dst.AsFloat32())

	wrong, err := RawFromFloat32([]float32{1, 2, 3, 4}, Shape{4}, CPU)
	require.NoError(t, err)
	assert.Error(t, dst.CopyFrom(wrong))
}

func TestCast_Float16RoundTrip(t *testing.T) {
	x, err := RawFromFloat32([]float32{0, 1, -2.5, 0.1, 65504}, Shape{5}, CPU)
	require.NoError(t, err)

	half, err := Cast(x, Float16)
	require.NoError(t, err)
	assert.Equal(t, 10, half.ByteSize())

	back, err := Cast(half, Float32)
	require.NoError(t, err)
	got := back.AsFloat32()
	assert.Equal(t, float32(1), got[1])
	assert.Equal(t, float32(-2.5), got[2])
	assert.InDelta(t, 0.1, got[3], 1e-4)
	assert.Equal(t, float32(65504), got[4])
}

func TestCast_Int64(t *testing.T) {
	x, err := NewRaw(Shape{}, Int64, CPU)
	require.NoError(t, err)
	x.AsInt64()[0] = 42

	f, err := Cast(x, Float32)
	require.NoError(t, err)
	assert.Equal(t, []float32{42}, f.AsFloat32())
}

func TestReshapeAndFlatten(t *testing.T) {
	x, err := NewRaw(Shape{2, 512, 1, 1}, Float32, CPU)
	require.NoError(t, err)

	flat, err := Flatten(x, 1)
	require.NoError(t, err)
	assert.Equal(t, Shape{2, 512}, flat.Shape())

	inferred, err := Reshape(x, Shape{-1, 256})
	require.NoError(t, err)
	assert.Equal(t, Shape{4, 256}, inferred.Shape())

	_, err = Reshape(x, Shape{3, -1})
	assert.Error(t, err)
}

func TestLpNormalize(t *testing.T) {
	x, err := RawFromFloat32([]float32{3, 4, 0, 0}, Shape{2, 2}, CPU)
	require.NoError(t, err)

	y, err := LpNormalize(x, 2)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{0.6, 0.8, 0, 0}, y.AsFloat32(), 1e-6)
}

func TestRand_Deterministic(t *testing.T) {
	b := stubBackend{}
	a := Rand(Shape{16}, rand.New(rand.NewSource(7)), b)
	c := Rand(Shape{16}, rand.New(rand.NewSource(7)), b)
	assert.Equal(t, a.Data(), c.Data())
	for _, v := range a.Data() {
		assert.GreaterOrEqual(t, v, float32(0))
		assert.Less(t, v, float32(1))
	}
}

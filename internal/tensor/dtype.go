// Package tensor provides the core tensor types used by the face embedding network.
package tensor

// DType is a constraint for element types a typed Tensor can expose.
type DType interface {
	~float32 | ~int64
}

// DataType represents runtime type information for tensors.
type DataType int

// Supported data types.
//
// Float16 is a storage type only: kernels compute in Float32 and half
// precision tensors are produced by Cast when parameters are exported.
const (
	Float32 DataType = iota
	Float16
	Int64
)

// Size returns the byte size of the data type.
func (dt DataType) Size() int {
	switch dt {
	case Float32:
		return 4
	case Float16:
		return 2
	case Int64:
		return 8
	default:
		panic("unknown data type")
	}
}

// String returns a human-readable name for the data type.
func (dt DataType) String() string {
	switch dt {
	case Float32:
		return "float32"
	case Float16:
		return "float16"
	case Int64:
		return "int64"
	default:
		return "unknown"
	}
}

// IsFloat reports whether the type holds floating point values.
func (dt DataType) IsFloat() bool {
	return dt == Float32 || dt == Float16
}

// inferDataType infers DataType from a generic type T.
func inferDataType[T DType](dummy T) DataType {
	switch any(dummy).(type) {
	case float32:
		return Float32
	case int64:
		return Int64
	default:
		panic("unsupported type")
	}
}

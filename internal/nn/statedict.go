package nn

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/born-ml/facenet/internal/tensor"
)

// State dict loading errors.
var (
	// ErrMissingParameter indicates a key the module expects is absent.
	ErrMissingParameter = errors.New("missing parameter")

	// ErrUnexpectedParameter indicates a key the module does not have.
	ErrUnexpectedParameter = errors.New("unexpected parameter")

	// ErrShapeMismatch indicates a tensor whose shape or dtype cannot be
	// loaded into the matching module tensor.
	ErrShapeMismatch = errors.New("shape mismatch")
)

// OptionalKeySuffix marks bookkeeping buffers that checkpoints may omit.
const OptionalKeySuffix = "num_batches_tracked"

// isOptional reports whether a key may be absent from a checkpoint.
func isOptional(key string) bool {
	return key == OptionalKeySuffix || strings.HasSuffix(key, "."+OptionalKeySuffix)
}

// PrefixStateDict returns a copy of stateDict with prefix + "." prepended to every key.
func PrefixStateDict(prefix string, stateDict map[string]*tensor.RawTensor) map[string]*tensor.RawTensor {
	out := make(map[string]*tensor.RawTensor, len(stateDict))
	for key, raw := range stateDict {
		out[prefix+"."+key] = raw
	}
	return out
}

// LoadInto copies src into the live tensors of dst.
//
// Every key is checked before anything is written, so a failed load leaves
// dst untouched. Float16 and Int64 sources are converted to the destination
// dtype. All problems are reported together; each one wraps
// ErrMissingParameter, ErrUnexpectedParameter or ErrShapeMismatch.
func LoadInto(dst, src map[string]*tensor.RawTensor) error {
	var errs []error
	converted := make(map[string]*tensor.RawTensor, len(dst))

	for _, key := range sortedKeys(dst) {
		target := dst[key]
		value, ok := src[key]
		if !ok {
			if !isOptional(key) {
				errs = append(errs, fmt.Errorf("%w: %s", ErrMissingParameter, key))
			}
			continue
		}
		if !value.Shape().Equal(target.Shape()) {
			errs = append(errs, fmt.Errorf("%w: %s: expected %v, got %v",
				ErrShapeMismatch, key, target.Shape(), value.Shape()))
			continue
		}
		if value.DType() != target.DType() {
			cast, err := tensor.Cast(value, target.DType())
			if err != nil {
				errs = append(errs, fmt.Errorf("%w: %s: %v", ErrShapeMismatch, key, err))
				continue
			}
			value = cast
		}
		converted[key] = value
	}

	for _, key := range sortedKeys(src) {
		if _, ok := dst[key]; !ok {
			errs = append(errs, fmt.Errorf("%w: %s", ErrUnexpectedParameter, key))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	for key, value := range converted {
		if err := dst[key].CopyFrom(value); err != nil {
			// Shapes and dtypes were checked above.
			panic(fmt.Sprintf("nn: copy %s: %v", key, err))
		}
	}
	return nil
}

func sortedKeys(m map[string]*tensor.RawTensor) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

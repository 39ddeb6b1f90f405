// Package numeric decodes homogeneous numeric arrays and scalars.
//
// Arrays travel as a dtype descriptor, a shape and a little-endian byte
// buffer. Every supported element type is widened to float64 on decode.
package numeric

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/dyluth/effectd/pkg/blob"
	"github.com/dyluth/effectd/pkg/capability"
)

const Namespace = "numeric"

// maxElements bounds the element count an array header may claim.
const maxElements = blob.MaxBytesLength / 4

// Dtype describes the element type of a buffer.
type Dtype struct {
	Kind byte // 'f' or 'i'
	Size int  // bytes per element
}

var dtypes = map[string]Dtype{
	"<f8": {Kind: 'f', Size: 8},
	"<f4": {Kind: 'f', Size: 4},
	"<i8": {Kind: 'i', Size: 8},
	"<i4": {Kind: 'i', Size: 4},
}

// ParseDtype parses a descriptor such as "<f8".
func ParseDtype(s string) (Dtype, error) {
	d, ok := dtypes[s]
	if !ok {
		return Dtype{}, fmt.Errorf("unsupported dtype %q", s)
	}
	return d, nil
}

func (d Dtype) String() string {
	return fmt.Sprintf("<%c%d", d.Kind, d.Size)
}

func (d Dtype) decode(buf []byte) []float64 {
	out := make([]float64, len(buf)/d.Size)
	for i := range out {
		b := buf[i*d.Size:]
		switch {
		case d.Kind == 'f' && d.Size == 8:
			out[i] = math.Float64frombits(binary.LittleEndian.Uint64(b))
		case d.Kind == 'f' && d.Size == 4:
			out[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
		case d.Kind == 'i' && d.Size == 8:
			out[i] = float64(int64(binary.LittleEndian.Uint64(b)))
		default:
			out[i] = float64(int32(binary.LittleEndian.Uint32(b)))
		}
	}
	return out
}

// Array is a decoded n-dimensional array in row-major order.
type Array struct {
	Shape []int
	Data  []float64
}

// Len is the total element count.
func (a *Array) Len() int { return len(a.Data) }

// Scalar is a decoded single value.
type Scalar float64

// Entries returns the registry entries for the numeric types.
func Entries() []capability.Entry {
	return []capability.Entry{
		{Key: capability.Key{Namespace: Namespace, TypeName: "dtype"}, Constructor: newDtype},
		{Key: capability.Key{Namespace: Namespace, TypeName: "ndarray"}, Constructor: newArray},
		{Key: capability.Key{Namespace: Namespace, TypeName: "scalar"}, Constructor: newScalar},
	}
}

func newDtype(s capability.State) (any, error) {
	str, err := s.String("str")
	if err != nil {
		return nil, err
	}
	d, err := ParseDtype(str)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func dtypeField(s capability.State) (Dtype, error) {
	v, err := s.Object("dtype")
	if err != nil {
		return Dtype{}, err
	}
	d, ok := v.(Dtype)
	if !ok {
		return Dtype{}, fmt.Errorf("dtype field holds %T", v)
	}
	return d, nil
}

func newArray(s capability.State) (any, error) {
	d, err := dtypeField(s)
	if err != nil {
		return nil, err
	}

	dims, err := s.Ints("shape")
	if err != nil {
		return nil, err
	}

	shape := make([]int, len(dims))
	count := 1
	for i, dim := range dims {
		if dim < 0 || dim > maxElements {
			return nil, fmt.Errorf("invalid dimension %d", dim)
		}
		shape[i] = int(dim)
		count *= int(dim)
		if count > maxElements {
			return nil, fmt.Errorf("array of %v elements exceeds limit", dims)
		}
	}

	buf, err := s.Bytes("data")
	if err != nil {
		return nil, err
	}
	if len(buf) != count*d.Size {
		return nil, fmt.Errorf("array buffer holds %d bytes, shape %v of %s needs %d", len(buf), shape, d, count*d.Size)
	}

	return &Array{Shape: shape, Data: d.decode(buf)}, nil
}

func newScalar(s capability.State) (any, error) {
	d, err := dtypeField(s)
	if err != nil {
		return nil, err
	}
	buf, err := s.Bytes("data")
	if err != nil {
		return nil, err
	}
	if len(buf) != d.Size {
		return nil, fmt.Errorf("scalar buffer holds %d bytes, %s needs %d", len(buf), d, d.Size)
	}
	return Scalar(d.decode(buf)[0]), nil
}

// AsArray converts a decoded field value to an array.
func AsArray(v any) (*Array, error) {
	a, ok := v.(*Array)
	if !ok {
		return nil, fmt.Errorf("expected ndarray, got %T", v)
	}
	return a, nil
}

// FloatField reads a float that may be stored inline or as a scalar object.
func FloatField(s capability.State, field string) (float64, error) {
	if f, err := s.Float(field); err == nil {
		return f, nil
	}
	v, err := s.Object(field)
	if err != nil {
		return 0, fmt.Errorf("field %q is neither a number nor a scalar", field)
	}
	sc, ok := v.(Scalar)
	if !ok {
		return 0, fmt.Errorf("field %q holds %T, want scalar", field, v)
	}
	return float64(sc), nil
}

// DtypeNode encodes a dtype descriptor.
func DtypeNode(d Dtype) *blob.Node {
	return blob.Object(Namespace, "dtype", blob.F("str", blob.String(d.String())))
}

// ArrayNode encodes values as a float64 array of the given shape.
func ArrayNode(shape []int, values []float64) *blob.Node {
	buf := make([]byte, 8*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	dims := make([]int64, len(shape))
	for i, d := range shape {
		dims[i] = int64(d)
	}
	return blob.Object(Namespace, "ndarray",
		blob.F("dtype", DtypeNode(Dtype{Kind: 'f', Size: 8})),
		blob.F("shape", blob.Ints(dims)),
		blob.F("data", blob.Bytes(buf)),
	)
}

// VectorNode encodes a one-dimensional float64 array.
func VectorNode(values []float64) *blob.Node {
	return ArrayNode([]int{len(values)}, values)
}

// ScalarNode encodes a float64 scalar.
func ScalarNode(v float64) *blob.Node {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, math.Float64bits(v))
	return blob.Object(Namespace, "scalar",
		blob.F("dtype", DtypeNode(Dtype{Kind: 'f', Size: 8})),
		blob.F("data", blob.Bytes(buf)),
	)
}

package numeric

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/dyluth/effectd/pkg/blob"
	"github.com/dyluth/effectd/pkg/capability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func registry(t *testing.T) *capability.Registry {
	t.Helper()
	reg := capability.NewRegistry()
	require.NoError(t, reg.RegisterEntries(Entries()))
	reg.Freeze()
	return reg
}

func decode(t *testing.T, n *blob.Node) (any, error) {
	t.Helper()
	data, err := blob.Encode(n)
	require.NoError(t, err)
	return blob.Decode(data, registry(t))
}

func rawArray(dtype string, shape []int64, buf []byte) *blob.Node {
	return blob.Object(Namespace, "ndarray",
		blob.F("dtype", blob.Object(Namespace, "dtype", blob.F("str", blob.String(dtype)))),
		blob.F("shape", blob.Ints(shape)),
		blob.F("data", blob.Bytes(buf)),
	)
}

func TestArrayRoundTrip(t *testing.T) {
	v, err := decode(t, ArrayNode([]int{2, 3}, []float64{1, 2, 3, 4, 5, 6.5}))
	require.NoError(t, err)

	a, err := AsArray(v)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, a.Shape)
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6.5}, a.Data)
	assert.Equal(t, 6, a.Len())
}

func TestArrayDtypes(t *testing.T) {
	f4 := make([]byte, 8)
	binary.LittleEndian.PutUint32(f4, math.Float32bits(1.5))
	binary.LittleEndian.PutUint32(f4[4:], math.Float32bits(-2))

	i4 := make([]byte, 8)
	binary.LittleEndian.PutUint32(i4, uint32(7))
	binary.LittleEndian.PutUint32(i4[4:], uint32(0xffffffff))

	i8 := make([]byte, 8)
	binary.LittleEndian.PutUint64(i8, uint64(1<<40))

	tests := []struct {
		dtype string
		shape []int64
		buf   []byte
		want  []float64
	}{
		{"<f4", []int64{2}, f4, []float64{1.5, -2}},
		{"<i4", []int64{2}, i4, []float64{7, -1}},
		{"<i8", []int64{1}, i8, []float64{1 << 40}},
		{"<f8", []int64{0}, nil, []float64{}},
	}

	for _, tt := range tests {
		t.Run(tt.dtype, func(t *testing.T) {
			v, err := decode(t, rawArray(tt.dtype, tt.shape, tt.buf))
			require.NoError(t, err)
			assert.Equal(t, tt.want, v.(*Array).Data)
		})
	}
}

func TestArrayRejects(t *testing.T) {
	tests := []struct {
		name string
		node *blob.Node
	}{
		{"big endian", rawArray(">f8", []int64{1}, make([]byte, 8))},
		{"object dtype", rawArray("|O", []int64{1}, make([]byte, 8))},
		{"short buffer", rawArray("<f8", []int64{2}, make([]byte, 8))},
		{"long buffer", rawArray("<f8", []int64{1}, make([]byte, 16))},
		{"negative dimension", rawArray("<f8", []int64{-1}, nil)},
		{"overflowing shape", rawArray("<f8", []int64{1 << 20, 1 << 20}, nil)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decode(t, tt.node)
			assert.ErrorIs(t, err, blob.ErrConstruct)
		})
	}
}

func TestScalar(t *testing.T) {
	v, err := decode(t, ScalarNode(42.25))
	require.NoError(t, err)
	assert.Equal(t, Scalar(42.25), v)

	_, err = decode(t, blob.Object(Namespace, "scalar",
		blob.F("dtype", DtypeNode(Dtype{Kind: 'f', Size: 8})),
		blob.F("data", blob.Bytes([]byte{1, 2})),
	))
	assert.ErrorIs(t, err, blob.ErrConstruct)
}

func TestAsArrayRejectsOtherValues(t *testing.T) {
	_, err := AsArray(Scalar(1))
	assert.Error(t, err)
}

func TestParseDtype(t *testing.T) {
	d, err := ParseDtype("<f8")
	require.NoError(t, err)
	assert.Equal(t, "<f8", d.String())

	_, err = ParseDtype("<c16")
	assert.Error(t, err)
}

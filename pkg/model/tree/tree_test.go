package tree

import (
	"testing"

	"github.com/dyluth/effectd/pkg/blob"
	"github.com/dyluth/effectd/pkg/capability"
	"github.com/dyluth/effectd/pkg/model"
	"github.com/dyluth/effectd/pkg/model/numeric"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func registry(t *testing.T) *capability.Registry {
	t.Helper()
	reg := capability.NewRegistry()
	require.NoError(t, reg.RegisterEntries(numeric.Entries()))
	require.NoError(t, reg.RegisterEntries([]capability.Entry{Entry(), RegressorEntry(KindDecision)}))
	reg.Freeze()
	return reg
}

func decode(t *testing.T, n *blob.Node) (any, error) {
	t.Helper()
	data, err := blob.Encode(n)
	require.NoError(t, err)
	return blob.Decode(data, registry(t))
}

// depth-two tree over two features
func sample() *Tree {
	return &Tree{
		NFeatures: 2,
		Left:      []int{1, 3, Leaf, Leaf, Leaf},
		Right:     []int{2, 4, Leaf, Leaf, Leaf},
		Feature:   []int{0, 1, -2, -2, -2},
		Threshold: []float64{10, 0.5, -2, -2, -2},
		Value:     []float64{0, 0, 100, 1, 2},
	}
}

func TestRegressorDecodeAndPredict(t *testing.T) {
	v, err := decode(t, RegressorNode(KindDecision, sample()))
	require.NoError(t, err)

	r, ok := v.(*Regressor)
	require.True(t, ok)
	assert.Equal(t, KindDecision, r.Kind)
	assert.Equal(t, 2, r.NumFeatures())

	tests := []struct {
		x    []float64
		want float64
	}{
		{[]float64{5, 0}, 1},
		{[]float64{10, 0.5}, 1},
		{[]float64{5, 1}, 2},
		{[]float64{11, 0}, 100},
	}
	for _, tt := range tests {
		got, err := r.Predict(tt.x)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "x=%v", tt.x)
	}

	_, err = r.Predict([]float64{1})
	assert.ErrorIs(t, err, model.ErrDimensionMismatch)
}

func TestTreeValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(tr *Tree)
	}{
		{"cycle back to root", func(tr *Tree) { tr.Left[1] = 0 }},
		{"self loop", func(tr *Tree) { tr.Right[1] = 1 }},
		{"child out of range", func(tr *Tree) { tr.Right[0] = 9 }},
		{"single child", func(tr *Tree) { tr.Right[1] = Leaf }},
		{"feature out of range", func(tr *Tree) { tr.Feature[0] = 2 }},
		{"negative feature", func(tr *Tree) { tr.Feature[1] = -1 }},
		{"ragged arrays", func(tr *Tree) { tr.Threshold = tr.Threshold[:2] }},
		{"no features", func(tr *Tree) { tr.NFeatures = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := sample()
			tt.mutate(tr)
			assert.Error(t, tr.Validate())

			_, err := decode(t, RegressorNode(KindDecision, tr))
			assert.ErrorIs(t, err, blob.ErrConstruct)
		})
	}

	assert.Error(t, (&Tree{NFeatures: 1}).Validate())
}

func TestRegressorFeatureCountMustMatchTree(t *testing.T) {
	n := blob.Object(Namespace, string(KindDecision),
		blob.F("n_features_in", blob.Int(3)),
		blob.F("tree", TreeNode(sample())),
	)
	_, err := decode(t, n)
	assert.ErrorIs(t, err, blob.ErrConstruct)
}

func TestUnregisteredFlavourIsRejected(t *testing.T) {
	// registry only admits DecisionTreeRegressor
	_, err := decode(t, RegressorNode(KindExtra, sample()))
	assert.ErrorIs(t, err, blob.ErrUnregistered)
}

func TestHelpers(t *testing.T) {
	s := Stump(3, 2, 0.5, -1, 1)
	require.NoError(t, s.Validate())
	assert.Equal(t, -1.0, s.Eval([]float64{9, 9, 0.5}))
	assert.Equal(t, 1.0, s.Eval([]float64{9, 9, 0.6}))

	c := Constant(2, 7)
	require.NoError(t, c.Validate())
	assert.Equal(t, 7.0, c.Eval([]float64{0, 0}))
}

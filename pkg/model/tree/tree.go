// Package tree decodes fitted regression trees.
//
// A Tree is stored in flat parallel arrays indexed by node ID. Node 0 is
// the root; a node whose children are both Leaf is a leaf. Construction
// rejects any tree whose children do not come strictly after their parent,
// so evaluation always walks forward and terminates.
package tree

import (
	"fmt"

	"github.com/dyluth/effectd/pkg/blob"
	"github.com/dyluth/effectd/pkg/capability"
	"github.com/dyluth/effectd/pkg/model"
	"github.com/dyluth/effectd/pkg/model/numeric"
)

const Namespace = "tree"

// Leaf marks an absent child.
const Leaf = -1

// Kind distinguishes the regressor flavours that share the tree layout.
type Kind string

const (
	KindDecision Kind = "DecisionTreeRegressor"
	KindExtra    Kind = "ExtraTreeRegressor"
)

// Tree is a validated flat binary tree.
type Tree struct {
	NFeatures int
	Left      []int
	Right     []int
	Feature   []int
	Threshold []float64
	Value     []float64
}

// Validate checks the structural invariants evaluation relies on.
func (t *Tree) Validate() error {
	n := len(t.Left)
	if n == 0 {
		return fmt.Errorf("tree has no nodes")
	}
	if t.NFeatures <= 0 {
		return fmt.Errorf("tree has %d features", t.NFeatures)
	}
	if len(t.Right) != n || len(t.Feature) != n || len(t.Threshold) != n || len(t.Value) != n {
		return fmt.Errorf("tree arrays disagree on node count %d", n)
	}

	for i := 0; i < n; i++ {
		left, right := t.Left[i], t.Right[i]
		if left == Leaf && right == Leaf {
			continue
		}
		if left == Leaf || right == Leaf {
			return fmt.Errorf("node %d has exactly one child", i)
		}
		if left <= i || left >= n || right <= i || right >= n {
			return fmt.Errorf("node %d has out-of-order children %d, %d", i, left, right)
		}
		if t.Feature[i] < 0 || t.Feature[i] >= t.NFeatures {
			return fmt.Errorf("node %d splits on feature %d of %d", i, t.Feature[i], t.NFeatures)
		}
	}
	return nil
}

// Eval walks the tree for x. x must already have NFeatures entries.
func (t *Tree) Eval(x []float64) float64 {
	node := 0
	for t.Left[node] != Leaf {
		if x[t.Feature[node]] <= t.Threshold[node] {
			node = t.Left[node]
		} else {
			node = t.Right[node]
		}
	}
	return t.Value[node]
}

// Regressor is a single fitted tree model.
type Regressor struct {
	Kind Kind
	Tree *Tree
}

var _ model.Predictor = (*Regressor)(nil)

func (r *Regressor) NumFeatures() int { return r.Tree.NFeatures }

func (r *Regressor) Predict(x []float64) (float64, error) {
	if err := model.CheckInput(r, x); err != nil {
		return 0, err
	}
	return r.Tree.Eval(x), nil
}

// Entry returns the registry entry for the tree layout itself.
func Entry() capability.Entry {
	return capability.Entry{Key: capability.Key{Namespace: Namespace, TypeName: "Tree"}, Constructor: newTree}
}

// RegressorEntry returns the registry entry for one regressor flavour.
func RegressorEntry(kind Kind) capability.Entry {
	return capability.Entry{
		Key: capability.Key{Namespace: Namespace, TypeName: string(kind)},
		Constructor: func(s capability.State) (any, error) {
			return newRegressor(kind, s)
		},
	}
}

func intsField(s capability.State, field string) ([]int, error) {
	raw, err := s.Ints(field)
	if err != nil {
		return nil, err
	}
	out := make([]int, len(raw))
	for i, v := range raw {
		out[i] = int(v)
	}
	return out, nil
}

func newTree(s capability.State) (any, error) {
	nFeatures, err := s.Int("n_features")
	if err != nil {
		return nil, err
	}

	t := &Tree{NFeatures: int(nFeatures)}
	if t.Left, err = intsField(s, "children_left"); err != nil {
		return nil, err
	}
	if t.Right, err = intsField(s, "children_right"); err != nil {
		return nil, err
	}
	if t.Feature, err = intsField(s, "feature"); err != nil {
		return nil, err
	}
	if t.Threshold, err = s.Floats("threshold"); err != nil {
		return nil, err
	}

	v, err := s.Object("value")
	if err != nil {
		return nil, err
	}
	values, err := numeric.AsArray(v)
	if err != nil {
		return nil, err
	}
	// one output per node, whatever the trailing dimensions
	t.Value = values.Data

	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

func newRegressor(kind Kind, s capability.State) (any, error) {
	nIn, err := s.Int("n_features_in")
	if err != nil {
		return nil, err
	}

	v, err := s.Object("tree")
	if err != nil {
		return nil, err
	}
	t, ok := v.(*Tree)
	if !ok {
		return nil, fmt.Errorf("tree field holds %T", v)
	}
	if int(nIn) != t.NFeatures {
		return nil, fmt.Errorf("regressor expects %d features, tree has %d", nIn, t.NFeatures)
	}

	return &Regressor{Kind: kind, Tree: t}, nil
}

func int64s(vals []int) []int64 {
	out := make([]int64, len(vals))
	for i, v := range vals {
		out[i] = int64(v)
	}
	return out
}

// TreeNode encodes a tree.
func TreeNode(t *Tree) *blob.Node {
	return blob.Object(Namespace, "Tree",
		blob.F("n_features", blob.Int(int64(t.NFeatures))),
		blob.F("children_left", blob.Ints(int64s(t.Left))),
		blob.F("children_right", blob.Ints(int64s(t.Right))),
		blob.F("feature", blob.Ints(int64s(t.Feature))),
		blob.F("threshold", blob.Floats(t.Threshold)),
		blob.F("value", numeric.ArrayNode([]int{len(t.Value), 1, 1}, t.Value)),
	)
}

// RegressorNode encodes a single-tree regressor.
func RegressorNode(kind Kind, t *Tree) *blob.Node {
	return blob.Object(Namespace, string(kind),
		blob.F("n_features_in", blob.Int(int64(t.NFeatures))),
		blob.F("tree", TreeNode(t)),
	)
}

// Stump builds a one-split tree: x[feature] <= threshold yields low, else high.
func Stump(nFeatures, feature int, threshold, low, high float64) *Tree {
	return &Tree{
		NFeatures: nFeatures,
		Left:      []int{1, Leaf, Leaf},
		Right:     []int{2, Leaf, Leaf},
		Feature:   []int{feature, 0, 0},
		Threshold: []float64{threshold, 0, 0},
		Value:     []float64{0, low, high},
	}
}

// Constant builds a single-leaf tree.
func Constant(nFeatures int, value float64) *Tree {
	return &Tree{
		NFeatures: nFeatures,
		Left:      []int{Leaf},
		Right:     []int{Leaf},
		Feature:   []int{0},
		Threshold: []float64{0},
		Value:     []float64{value},
	}
}

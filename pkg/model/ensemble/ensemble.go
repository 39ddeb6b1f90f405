// Package ensemble decodes averaging tree ensembles.
package ensemble

import (
	"fmt"

	"github.com/dyluth/effectd/pkg/blob"
	"github.com/dyluth/effectd/pkg/capability"
	"github.com/dyluth/effectd/pkg/model"
	"github.com/dyluth/effectd/pkg/model/tree"
	"gonum.org/v1/gonum/stat"
)

const Namespace = "ensemble"

// Kind names an ensemble flavour.
type Kind string

const (
	KindRandomForest Kind = "RandomForestRegressor"
	KindExtraTrees   Kind = "ExtraTreesRegressor"
)

// Member returns the tree flavour an ensemble of this kind is built from.
func (k Kind) Member() tree.Kind {
	if k == KindExtraTrees {
		return tree.KindExtra
	}
	return tree.KindDecision
}

// Forest averages the predictions of its estimators.
type Forest struct {
	Kind       Kind
	NFeatures  int
	Estimators []*tree.Regressor
}

var _ model.Predictor = (*Forest)(nil)

func (f *Forest) NumFeatures() int { return f.NFeatures }

func (f *Forest) Predict(x []float64) (float64, error) {
	if err := model.CheckInput(f, x); err != nil {
		return 0, err
	}
	preds := make([]float64, len(f.Estimators))
	for i, e := range f.Estimators {
		preds[i] = e.Tree.Eval(x)
	}
	return stat.Mean(preds, nil), nil
}

// Entry returns the registry entry for one ensemble flavour.
func Entry(kind Kind) capability.Entry {
	return capability.Entry{
		Key: capability.Key{Namespace: Namespace, TypeName: string(kind)},
		Constructor: func(s capability.State) (any, error) {
			return newForest(kind, s)
		},
	}
}

func newForest(kind Kind, s capability.State) (any, error) {
	nIn, err := s.Int("n_features_in")
	if err != nil {
		return nil, err
	}

	values, err := s.Objects("estimators")
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("ensemble has no estimators")
	}

	f := &Forest{Kind: kind, NFeatures: int(nIn), Estimators: make([]*tree.Regressor, len(values))}
	for i, v := range values {
		r, ok := v.(*tree.Regressor)
		if !ok {
			return nil, fmt.Errorf("estimator %d holds %T", i, v)
		}
		if r.Kind != kind.Member() {
			return nil, fmt.Errorf("estimator %d is a %s, %s needs %s", i, r.Kind, kind, kind.Member())
		}
		if r.NumFeatures() != f.NFeatures {
			return nil, fmt.Errorf("estimator %d expects %d features, ensemble has %d", i, r.NumFeatures(), f.NFeatures)
		}
		f.Estimators[i] = r
	}
	return f, nil
}

// Node encodes an ensemble over the given trees.
func Node(kind Kind, nFeatures int, trees ...*tree.Tree) *blob.Node {
	estimators := make([]*blob.Node, len(trees))
	for i, t := range trees {
		estimators[i] = tree.RegressorNode(kind.Member(), t)
	}
	return blob.Object(Namespace, string(kind),
		blob.F("n_features_in", blob.Int(int64(nFeatures))),
		blob.F("estimators", blob.List(estimators...)),
	)
}

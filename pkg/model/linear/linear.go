// Package linear decodes ordinary least squares models.
package linear

import (
	"fmt"

	"github.com/dyluth/effectd/pkg/blob"
	"github.com/dyluth/effectd/pkg/capability"
	"github.com/dyluth/effectd/pkg/model"
	"github.com/dyluth/effectd/pkg/model/numeric"
	"gonum.org/v1/gonum/floats"
)

const Namespace = "linear"

// Regression predicts coef·x + intercept.
type Regression struct {
	Coef      []float64
	Intercept float64
}

var _ model.Predictor = (*Regression)(nil)

func (r *Regression) NumFeatures() int { return len(r.Coef) }

func (r *Regression) Predict(x []float64) (float64, error) {
	if err := model.CheckInput(r, x); err != nil {
		return 0, err
	}
	return floats.Dot(r.Coef, x) + r.Intercept, nil
}

// Entries returns the registry entries for linear models.
func Entries() []capability.Entry {
	return []capability.Entry{
		{Key: capability.Key{Namespace: Namespace, TypeName: "LinearRegression"}, Constructor: newRegression},
	}
}

func newRegression(s capability.State) (any, error) {
	v, err := s.Object("coef")
	if err != nil {
		return nil, err
	}
	coef, err := numeric.AsArray(v)
	if err != nil {
		return nil, err
	}
	if len(coef.Shape) != 1 || coef.Len() == 0 {
		return nil, fmt.Errorf("coef must be a non-empty vector, got shape %v", coef.Shape)
	}

	intercept, err := numeric.FloatField(s, "intercept")
	if err != nil {
		return nil, err
	}

	return &Regression{Coef: coef.Data, Intercept: intercept}, nil
}

// Node encodes a linear regression.
func Node(coef []float64, intercept float64) *blob.Node {
	return blob.Object(Namespace, "LinearRegression",
		blob.F("coef", numeric.VectorNode(coef)),
		blob.F("intercept", numeric.ScalarNode(intercept)),
	)
}

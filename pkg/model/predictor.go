// Package model holds decoded models ready for inference.
//
// A Handle pairs a model's predictor with the feature metadata of the
// record it was decoded from. Handles are immutable and safe to share
// between goroutines.
package model

import (
	"errors"
	"fmt"
)

// Predictor is implemented by every decoded model root.
type Predictor interface {
	// NumFeatures is the input vector width the model was fitted on.
	NumFeatures() int
	// Predict evaluates one input vector.
	Predict(x []float64) (float64, error)
}

var (
	// ErrNotPredictor is returned when a decoded value cannot be evaluated.
	ErrNotPredictor = errors.New("decoded value is not a predictor")

	// ErrDimensionMismatch is returned when a record's feature order does not
	// match the width its model expects.
	ErrDimensionMismatch = errors.New("feature dimension mismatch")
)

// DimensionError reports a width disagreement between a record and its model.
type DimensionError struct {
	Features int // len(TrainingFeatureOrder)
	Model    int // Predictor.NumFeatures()
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("record lists %d features but model expects %d", e.Features, e.Model)
}

// Is makes errors.Is(err, ErrDimensionMismatch) match.
func (e *DimensionError) Is(target error) bool {
	return target == ErrDimensionMismatch
}

// CheckInput validates an input vector against a predictor's width.
// Predictor implementations call it before evaluating.
func CheckInput(p Predictor, x []float64) error {
	if len(x) != p.NumFeatures() {
		return &DimensionError{Features: len(x), Model: p.NumFeatures()}
	}
	return nil
}

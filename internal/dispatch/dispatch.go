// Package dispatch turns request features into model input vectors and
// evaluates them.
package dispatch

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/dyluth/effectd/pkg/model"
)

var (
	ErrUnknownCategory  = errors.New("unknown category")
	ErrMissingFeature   = errors.New("missing feature")
	ErrInvalidFeature   = errors.New("invalid feature value")
	ErrPredictionFailed = errors.New("prediction failed")
)

// Error describes a dispatch failure. It matches one of the sentinels above
// with errors.Is.
type Error struct {
	Kind    error
	Feature string
	Detail  string
	Cause   error
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Feature != "" {
		msg += fmt.Sprintf(" %q", e.Feature)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Kind, e.Cause}
	}
	return []error{e.Kind}
}

// Vector lays features out in the handle's training order.
// Categorical features are replaced by their label index.
func Vector(h *model.Handle, features map[string]any) ([]float64, error) {
	order := h.FeatureOrder()
	x := make([]float64, len(order))

	for i, name := range order {
		v, ok := features[name]
		if !ok {
			return nil, &Error{Kind: ErrMissingFeature, Feature: name}
		}

		if h.IsCategorical(name) {
			label, ok := v.(string)
			if !ok {
				return nil, &Error{Kind: ErrInvalidFeature, Feature: name, Detail: fmt.Sprintf("categorical value must be a string, got %T", v)}
			}
			idx, ok := h.LabelIndex(name, label)
			if !ok {
				return nil, &Error{Kind: ErrUnknownCategory, Feature: name, Detail: fmt.Sprintf("label %q was not seen in training", label)}
			}
			x[i] = float64(idx)
			continue
		}

		f, err := toFloat(v)
		if err != nil {
			return nil, &Error{Kind: ErrInvalidFeature, Feature: name, Detail: err.Error()}
		}
		x[i] = f
	}
	return x, nil
}

func toFloat(v any) (float64, error) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case uint:
		f = float64(n)
	case uint32:
		f = float64(n)
	case uint64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", n)
		}
		f = parsed
	default:
		return 0, fmt.Errorf("expected a number, got %T", v)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("value is not finite")
	}
	return f, nil
}

// Predict evaluates the handle's model on the given features.
func Predict(h *model.Handle, features map[string]any) (float64, error) {
	x, err := Vector(h, features)
	if err != nil {
		return 0, err
	}
	return evaluate(h, x)
}

// Forecast evaluates one vector per feature: the vector where only that
// feature is set to amount and every other feature is zero. It answers
// "what if all of amount went to configuration i" for each configuration
// in training order.
func Forecast(h *model.Handle, amount float64) ([]float64, error) {
	if h.Categorical() {
		return nil, &Error{Kind: ErrInvalidFeature, Detail: "forecast needs a model without categorical features"}
	}
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return nil, &Error{Kind: ErrInvalidFeature, Detail: "amount is not finite"}
	}

	n := len(h.FeatureOrder())
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		x := make([]float64, n)
		x[i] = amount
		y, err := evaluate(h, x)
		if err != nil {
			return nil, err
		}
		out[i] = y
	}
	return out, nil
}

func evaluate(h *model.Handle, x []float64) (y float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &Error{Kind: ErrPredictionFailed, Detail: fmt.Sprintf("model panicked: %v", r)}
		}
	}()

	y, err = h.Predict(x)
	if err != nil {
		return 0, &Error{Kind: ErrPredictionFailed, Cause: err}
	}
	if math.IsNaN(y) || math.IsInf(y, 0) {
		return 0, &Error{Kind: ErrPredictionFailed, Detail: fmt.Sprintf("model produced %v", y)}
	}
	return y, nil
}
